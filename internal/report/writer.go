// Package report writes run artifacts to the local filesystem so each
// ingestion run leaves an inspectable JSON summary behind.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"city-vibe/internal/services"
)

// Writer persists run results under a configured directory.
type Writer struct {
	dir    string
	logger *zap.Logger
}

// NewWriter creates a report writer rooted at dir. The directory is
// created on first write.
func NewWriter(dir string, logger *zap.Logger) *Writer {
	return &Writer{dir: dir, logger: logger}
}

// Write stores the run result as pretty-printed JSON and returns the path
// of the written file. File names embed the finish time and run ID so
// repeated runs never collide.
func (w *Writer) Write(result *services.RunResult) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}

	name := fmt.Sprintf("run_%s_%s.json",
		result.FinishedAt.UTC().Format("20060102T150405Z"), result.RunID)
	path := filepath.Join(w.dir, name)

	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding run result: %w", err)
	}

	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", fmt.Errorf("writing run report: %w", err)
	}

	w.logger.Info("run report written",
		zap.String("path", path),
		zap.String("run_id", result.RunID))
	return path, nil
}
