package migrations

import (
	"strings"
	"testing"
)

func TestUp(t *testing.T) {
	migs, err := Up()
	if err != nil {
		t.Fatalf("up: %v", err)
	}
	if len(migs) == 0 {
		t.Fatal("no up migrations embedded")
	}

	for _, table := range []string{"cities", "weather_versions", "traffic_versions", "analysis_results"} {
		found := false
		for _, m := range migs {
			if strings.Contains(m.SQL, table) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("no up migration creates table %q", table)
		}
	}
}

func TestUp_VersionsMatchFileStems(t *testing.T) {
	migs, err := Up()
	if err != nil {
		t.Fatalf("up: %v", err)
	}
	for _, m := range migs {
		if m.Version == "" {
			t.Error("migration with empty version")
		}
		if strings.Contains(m.Version, ".sql") {
			t.Errorf("version %q should not carry the file suffix", m.Version)
		}
	}
}

func TestDown(t *testing.T) {
	migs, err := Down()
	if err != nil {
		t.Fatalf("down: %v", err)
	}
	if len(migs) == 0 {
		t.Fatal("no down migrations embedded")
	}
	if !strings.Contains(migs[0].SQL, "DROP TABLE") {
		t.Errorf("down migration should drop tables, got: %.80s", migs[0].SQL)
	}
}

func TestUpDown_VersionsPair(t *testing.T) {
	up, err := Up()
	if err != nil {
		t.Fatalf("up: %v", err)
	}
	down, err := Down()
	if err != nil {
		t.Fatalf("down: %v", err)
	}
	if len(up) != len(down) {
		t.Fatalf("up count %d != down count %d", len(up), len(down))
	}

	downVersions := make(map[string]bool, len(down))
	for _, m := range down {
		downVersions[m.Version] = true
	}
	for _, m := range up {
		if !downVersions[m.Version] {
			t.Errorf("up migration %q has no matching down migration", m.Version)
		}
	}
}
