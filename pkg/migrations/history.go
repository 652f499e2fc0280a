package migrations

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// HistoryFile is the name of the applied-migrations record.
const HistoryFile = "migration.history"

// historySubdir is the fixed subdirectory under the data directory
// holding the history file.
const historySubdir = "migrations"

// History records which migrations have been applied and when.
type History struct {
	path string
}

// NewHistory creates a history rooted in the data directory.
func NewHistory(dataDir string) *History {
	return &History{path: filepath.Join(dataDir, historySubdir, HistoryFile)}
}

// Path returns the history file's location.
func (h *History) Path() string {
	return h.path
}

// Load reads the applied-migration map. A missing file is an empty history.
func (h *History) Load() (map[string]time.Time, error) {
	data, err := os.ReadFile(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]time.Time{}, nil
		}
		return nil, fmt.Errorf("failed to read migration history: %w", err)
	}

	applied := map[string]time.Time{}
	if err := json.Unmarshal(data, &applied); err != nil {
		return nil, fmt.Errorf("failed to parse migration history: %w", err)
	}
	return applied, nil
}

// Save writes the applied-migration map, creating the directory as needed.
// Timestamps are stored in UTC.
func (h *History) Save(applied map[string]time.Time) error {
	normalized := make(map[string]time.Time, len(applied))
	for name, at := range applied {
		normalized[name] = at.UTC()
	}
	data, err := json.MarshalIndent(normalized, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize migration history: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(h.path), 0755); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}
	if err := os.WriteFile(h.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write migration history: %w", err)
	}
	return nil
}
