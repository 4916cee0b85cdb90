// Package history appends measurement results to the on-disk result log,
// a JSON array file holding one entry per completed run.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"broadband-tester/pkg/models"
)

// DefaultPath is the result log written when no path is configured.
const DefaultPath = "speedtest_results.json"

// Load reads the result log. A missing file is an empty log. A corrupted
// file is also treated as empty, with corrupted=true so the caller can warn
// the user before the file is overwritten by the next append.
func Load(path string) (results []models.MeasurementResult, corrupted bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading result log: %w", err)
	}
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, true, nil
	}
	return results, false, nil
}

// Append adds one result to the log and rewrites the file. It returns the
// total number of stored entries. Appending to a corrupted log starts fresh
// with a single entry and surfaces a warning.
func Append(path string, result *models.MeasurementResult, logger *slog.Logger) (int, error) {
	results, corrupted, err := Load(path)
	if err != nil {
		return 0, err
	}
	if corrupted {
		logger.Warn("result log is corrupted, starting fresh", "path", path)
		results = nil
	}

	results = append(results, *result)

	data, err := json.MarshalIndent(results, "", "    ")
	if err != nil {
		return 0, fmt.Errorf("encoding result log: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, fmt.Errorf("writing result log: %w", err)
	}
	return len(results), nil
}
