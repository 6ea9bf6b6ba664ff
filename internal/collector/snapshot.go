package collector

import (
	"fmt"
	"os"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Snapshot is the collector state that survives restarts, so the HTTP
// surface has data before the first collection completes.
type Snapshot struct {
	SavedAt   time.Time             `msgpack:"savedAt"`
	LastRun   time.Time             `msgpack:"lastRun"`
	LastError string                `msgpack:"lastError"`
	Statuses  map[uint64]ChainStatus `msgpack:"statuses"`
}

// SnapshotCache persists the snapshot as msgpack on disk.
type SnapshotCache struct {
	path string
}

// NewSnapshotCache creates a cache at path.
func NewSnapshotCache(path string) *SnapshotCache {
	return &SnapshotCache{path: path}
}

// Save writes the snapshot atomically via a temp file rename.
func (c *SnapshotCache) Save(snapshot *Snapshot) error {
	data, err := msgpack.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot; a missing file returns nil without error.
func (c *SnapshotCache) Load() (*Snapshot, error) {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := msgpack.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snapshot, nil
}
