package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const snapshotFileVersion = 1

// SnapshotStore persists queue snapshots to a single JSON file. Writes go
// through a temp file and rename so readers never observe a partial file.
type SnapshotStore struct {
	path   string
	logger *slog.Logger
}

// NewSnapshotStore creates a store writing to path.
func NewSnapshotStore(path string) *SnapshotStore {
	return &SnapshotStore{
		path:   path,
		logger: slog.With("component", "queue_store"),
	}
}

type snapshotFile struct {
	Version int                 `json:"version"`
	Queues  map[string]Snapshot `json:"queues"`
}

// Save writes every queue snapshot. Agent ids serialize in sorted order.
func (s *SnapshotStore) Save(snapshots map[string]Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	data, err := json.Marshal(snapshotFile{Version: snapshotFileVersion, Queues: snapshots})
	if err != nil {
		return fmt.Errorf("failed to marshal queue snapshots: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace snapshot file: %w", err)
	}
	return nil
}

// Load reads the persisted snapshots. Loading is tolerant: a missing file,
// unreadable JSON, or a non-object queues section all yield an empty map,
// and individually malformed queue entries are skipped. Queue state is
// reconstructible from live traffic, so a bad snapshot must never prevent
// startup.
func (s *SnapshotStore) Load() map[string]Snapshot {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Failed to read queue snapshot file, starting empty", "error", err)
		}
		return map[string]Snapshot{}
	}

	var raw struct {
		Version int                        `json:"version"`
		Queues  map[string]json.RawMessage `json:"queues"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Warn("Corrupt queue snapshot file, starting empty", "error", err)
		return map[string]Snapshot{}
	}

	snapshots := make(map[string]Snapshot, len(raw.Queues))
	for agentID, entry := range raw.Queues {
		var snap Snapshot
		if err := json.Unmarshal(entry, &snap); err != nil {
			s.logger.Warn("Skipping malformed queue snapshot entry", "agent_id", agentID, "error", err)
			continue
		}
		snapshots[agentID] = snap
	}
	return snapshots
}
