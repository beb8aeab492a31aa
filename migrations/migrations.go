// Package migrations embeds the SQL schema files so that both cmd/migrate
// and package tests can apply them without depending on the working
// directory.
package migrations

import (
	"embed"
	"fmt"
	"sort"
	"strings"

	"city-vibe/pkg/database"
)

//go:embed *.sql
var files embed.FS

// Up returns all *.up.sql migrations in lexical (version) order.
func Up() ([]database.Migration, error) {
	return read(".up.sql")
}

// Down returns all *.down.sql migrations in reverse order.
func Down() ([]database.Migration, error) {
	migs, err := read(".down.sql")
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(migs)-1; i < j; i, j = i+1, j-1 {
		migs[i], migs[j] = migs[j], migs[i]
	}
	return migs, nil
}

func read(suffix string) ([]database.Migration, error) {
	entries, err := files.ReadDir(".")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), suffix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	migs := make([]database.Migration, 0, len(names))
	for _, name := range names {
		content, err := files.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		migs = append(migs, database.Migration{
			Version: strings.TrimSuffix(name, suffix),
			SQL:     string(content),
		})
	}
	return migs, nil
}
