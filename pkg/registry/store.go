// Package registry tracks the long-lived entities of the gateway: broker
// accounts, trading agents, and paired operator devices. Each registry keeps
// its records in memory behind a mutex and persists them to a versioned JSON
// file after every mutation.
package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const registryFileVersion = 1

// saveVersionedList writes records under the given key in a
// {"version":1,"<key>":[...]} envelope. The write is atomic via temp file
// and rename.
func saveVersionedList[T any](path, key string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	envelope := map[string]any{
		"version": registryFileVersion,
		key:       records,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal %s registry: %w", key, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s registry: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s registry: %w", key, err)
	}
	return nil
}

// loadVersionedList reads records back. Loading is tolerant: missing file or
// unreadable JSON yields an empty slice, and individually malformed entries
// are skipped. Registry files are operator-editable, so a bad entry must not
// take the gateway down.
func loadVersionedList[T any](path, key string, logger *slog.Logger) []T {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("Failed to read registry file, starting empty", "path", path, "error", err)
		}
		return []T{}
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		logger.Warn("Corrupt registry file, starting empty", "path", path, "error", err)
		return []T{}
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(envelope[key], &entries); err != nil {
		logger.Warn("Registry file missing expected list, starting empty", "path", path, "key", key)
		return []T{}
	}

	records := make([]T, 0, len(entries))
	for i, entry := range entries {
		var record T
		if err := json.Unmarshal(entry, &record); err != nil {
			logger.Warn("Skipping malformed registry entry", "path", path, "index", i, "error", err)
			continue
		}
		records = append(records, record)
	}
	return records
}
