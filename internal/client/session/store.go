package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yourusername/quizbattle/internal/client/eventbus"
	"github.com/yourusername/quizbattle/internal/protocol"
	"go.uber.org/zap"
)

const defaultWriteTimeout = 2 * time.Second

// Store holds the battle session state of the current room.
// It is mutated by event handlers and read by the UI and the health check.
type Store struct {
	log     *zap.Logger
	persist Persistence
	now     func() time.Time

	writeTimeout time.Duration // bounds each write made from the dispatch path

	mu   sync.RWMutex
	snap Snapshot
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the time source used for LastUpdatedAt
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithWriteTimeout bounds snapshot writes made while applying events
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Store) { s.writeTimeout = d }
}

// NewStore creates a store backed by persist (memory when nil)
func NewStore(persist Persistence, log *zap.Logger, opts ...Option) *Store {
	if persist == nil {
		persist = NewMemoryPersistence()
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		log:     log.With(zap.String("component", "session_store")),
		persist:      persist,
		now:          time.Now,
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init starts a session for roomID, restoring a persisted snapshot of the
// same room if one exists
func (s *Store) Init(ctx context.Context, roomID int64) error {
	snap, err := s.persist.Load(ctx, roomID)
	switch {
	case errors.Is(err, ErrSnapshotNotFound):
		snap = Snapshot{RoomID: roomID}
	case err != nil:
		s.log.Warn("failed to restore snapshot, starting fresh", zap.Int64("room_id", roomID), zap.Error(err))
		snap = Snapshot{RoomID: roomID}
	default:
		s.log.Info("restored session snapshot",
			zap.Int64("room_id", roomID),
			zap.Time("last_updated_at", snap.LastUpdatedAt))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap.RoomID = roomID
	s.snap = snap
	return nil
}

// Snapshot returns a copy of the current state
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.clone()
}

// LastUpdatedAt returns when the last inbound event was applied
func (s *Store) LastUpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.LastUpdatedAt
}

// Apply stores payload as the latest value of kind and touches LastUpdatedAt.
// The timestamp is touched for every kind, including unexpected payload types.
func (s *Store) Apply(kind protocol.EventKind, payload any) {
	s.mu.Lock()
	if !s.assign(kind, payload) {
		s.log.Warn("unexpected payload type",
			zap.Stringer("kind", kind),
			zap.String("type", typeName(payload)))
	}
	s.touch()
	snap := s.snap.clone()
	s.mu.Unlock()

	s.save(snap)
}

func (s *Store) assign(kind protocol.EventKind, payload any) bool {
	switch kind {
	case protocol.KindParticipants:
		p, ok := payload.([]protocol.Participant)
		if ok {
			s.snap.Participants = p
		}
		return ok
	case protocol.KindStart:
		p, ok := payload.(*protocol.StartPayload)
		if ok {
			s.snap.Start = p
			// A fresh start supersedes anything left from a previous round.
			s.snap.NextQuestion = nil
			s.snap.Result = nil
			s.snap.End = nil
		}
		return ok
	case protocol.KindStatus:
		p, ok := payload.(*protocol.StatusPayload)
		if ok {
			s.snap.Status = p
		}
		return ok
	case protocol.KindProgress:
		p, ok := payload.(*protocol.ProgressPayload)
		if ok {
			s.snap.Progress = p
		}
		return ok
	case protocol.KindNextQuestion:
		p, ok := payload.(*protocol.Question)
		if ok {
			s.snap.NextQuestion = p
		}
		return ok
	case protocol.KindResult:
		p, ok := payload.(*protocol.AnswerResult)
		if ok {
			s.snap.Result = p
		}
		return ok
	case protocol.KindEnd:
		p, ok := payload.(*protocol.EndPayload)
		if ok {
			s.snap.End = p
		}
		return ok
	case protocol.KindError:
		p, ok := payload.(string)
		if ok {
			s.snap.LastError = p
		}
		return ok
	}
	return false
}

// touch advances LastUpdatedAt, never moving it backwards
func (s *Store) touch() {
	t := s.now()
	if t.Before(s.snap.LastUpdatedAt) {
		t = s.snap.LastUpdatedAt
	}
	s.snap.LastUpdatedAt = t
}

// Bind registers the store as the handler of every event kind on bus
func (s *Store) Bind(bus *eventbus.Bus) {
	for _, kind := range protocol.AllKinds {
		kind := kind
		bus.On(kind, func(payload any) { s.Apply(kind, payload) })
	}
}

// Clear drops the in-memory state and the persisted snapshot of the room
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	roomID := s.snap.RoomID
	s.snap = Snapshot{}
	s.mu.Unlock()

	if roomID == 0 {
		return
	}
	if err := s.persist.Delete(ctx, roomID); err != nil {
		s.log.Warn("failed to delete persisted snapshot", zap.Int64("room_id", roomID), zap.Error(err))
	}
}

// Reset is the hard reset used when liveness could not be restored.
// The room stays selected; everything received so far is dropped.
func (s *Store) Reset() {
	s.mu.Lock()
	roomID := s.snap.RoomID
	s.snap = Snapshot{RoomID: roomID}
	s.mu.Unlock()

	s.log.Warn("session state hard reset", zap.Int64("room_id", roomID))
	if roomID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()
	if err := s.persist.Delete(ctx, roomID); err != nil {
		s.log.Warn("failed to delete persisted snapshot", zap.Int64("room_id", roomID), zap.Error(err))
	}
}

func (s *Store) save(snap Snapshot) {
	if snap.RoomID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()
	if err := s.persist.Save(ctx, snap); err != nil {
		s.log.Warn("failed to persist snapshot", zap.Int64("room_id", snap.RoomID), zap.Error(err))
	}
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", v)
}
