package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FilePersistence stores each room's snapshot as a JSON file in a directory
type FilePersistence struct {
	dir string
}

// NewFilePersistence creates the snapshot directory if needed
func NewFilePersistence(dir string) (*FilePersistence, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &FilePersistence{dir: dir}, nil
}

// Save writes the snapshot atomically through a temp file and rename
func (fp *FilePersistence) Save(_ context.Context, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	path := fp.path(snap.RoomID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace snapshot file: %w", err)
	}
	return nil
}

func (fp *FilePersistence) Load(_ context.Context, roomID int64) (Snapshot, error) {
	data, err := os.ReadFile(fp.path(roomID))
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read snapshot file: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return snap, nil
}

func (fp *FilePersistence) Delete(_ context.Context, roomID int64) error {
	err := os.Remove(fp.path(roomID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove snapshot file: %w", err)
	}
	return nil
}

func (fp *FilePersistence) path(roomID int64) string {
	return filepath.Join(fp.dir, fmt.Sprintf("room-%d.json", roomID))
}
