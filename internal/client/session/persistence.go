package session

import (
	"context"
	"errors"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrSnapshotNotFound is returned when no snapshot is stored for a room
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Persistence stores one snapshot per room
type Persistence interface {
	// Save persists the snapshot of roomID, replacing any previous one
	Save(ctx context.Context, snap Snapshot) error

	// Load returns the snapshot of roomID or ErrSnapshotNotFound
	Load(ctx context.Context, roomID int64) (Snapshot, error)

	// Delete removes the snapshot of roomID; missing snapshots are not an error
	Delete(ctx context.Context, roomID int64) error
}

// MemoryPersistence keeps snapshots in process memory
type MemoryPersistence struct {
	mu        sync.RWMutex
	snapshots map[int64]Snapshot
}

// NewMemoryPersistence creates an empty in-memory backend
func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{snapshots: make(map[int64]Snapshot)}
}

func (m *MemoryPersistence) Save(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snap.RoomID] = snap.clone()
	return nil
}

func (m *MemoryPersistence) Load(_ context.Context, roomID int64) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.snapshots[roomID]
	if !ok {
		return Snapshot{}, ErrSnapshotNotFound
	}
	return snap.clone(), nil
}

func (m *MemoryPersistence) Delete(_ context.Context, roomID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, roomID)
	return nil
}
