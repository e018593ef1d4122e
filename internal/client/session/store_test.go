package session

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/quizbattle/internal/client/eventbus"
	"github.com/yourusername/quizbattle/internal/protocol"
	"go.uber.org/zap/zaptest"
)

// steppingClock returns the queued times in order, then repeats the last one
type steppingClock struct {
	times []time.Time
}

func (c *steppingClock) now() time.Time {
	t := c.times[0]
	if len(c.times) > 1 {
		c.times = c.times[1:]
	}
	return t
}

func TestApplyTimestampIsMonotonic(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := &steppingClock{times: []time.Time{
		base,
		base.Add(2 * time.Second),
		base.Add(1 * time.Second), // wall clock stepped backwards
		base.Add(3 * time.Second),
	}}
	store := NewStore(nil, zaptest.NewLogger(t), WithClock(clock.now))
	require.NoError(t, store.Init(context.Background(), 42))

	var prev time.Time
	for i := 0; i < 4; i++ {
		store.Apply(protocol.KindStatus, &protocol.StatusPayload{Status: protocol.StatusWaiting})
		got := store.LastUpdatedAt()
		assert.False(t, got.Before(prev), "frame %d moved LastUpdatedAt backwards", i)
		prev = got
	}
	assert.Equal(t, base.Add(3*time.Second), prev)
}

func TestBindRoutesEveryKind(t *testing.T) {
	bus := eventbus.New(zaptest.NewLogger(t))
	store := NewStore(nil, zaptest.NewLogger(t))
	require.NoError(t, store.Init(context.Background(), 42))
	store.Bind(bus)

	assert.Equal(t, len(protocol.AllKinds), bus.Len())

	bus.Trigger(protocol.KindParticipants, []protocol.Participant{{UserID: 7}, {UserID: 8}})
	bus.Trigger(protocol.KindStart, &protocol.StartPayload{RoomID: 42, FirstQuestion: protocol.Question{QuestionID: 101}})
	bus.Trigger(protocol.KindStatus, &protocol.StatusPayload{Status: protocol.StatusInProgress})
	bus.Trigger(protocol.KindProgress, &protocol.ProgressPayload{CurrentQuestionIndex: 1})
	bus.Trigger(protocol.KindNextQuestion, &protocol.Question{QuestionID: 102})
	bus.Trigger(protocol.KindResult, &protocol.AnswerResult{QuestionID: 101, Correct: true})
	bus.Trigger(protocol.KindEnd, &protocol.EndPayload{RoomID: 42, WinnerID: 7})
	bus.Trigger(protocol.KindError, "slow down")

	snap := store.Snapshot()
	assert.Len(t, snap.Participants, 2)
	assert.Equal(t, int64(101), snap.Start.FirstQuestion.QuestionID)
	assert.Equal(t, protocol.StatusInProgress, snap.Status.Status)
	assert.Equal(t, 1, snap.Progress.CurrentQuestionIndex)
	assert.Equal(t, int64(102), snap.CurrentQuestion().QuestionID)
	assert.True(t, snap.Result.Correct)
	assert.Equal(t, int64(7), snap.End.WinnerID)
	assert.Equal(t, "slow down", snap.LastError)
	assert.False(t, snap.LastUpdatedAt.IsZero())
}

func TestUnexpectedPayloadStillTouchesTimestamp(t *testing.T) {
	store := NewStore(nil, zaptest.NewLogger(t))
	require.NoError(t, store.Init(context.Background(), 1))

	store.Apply(protocol.KindStart, "not a start payload")

	snap := store.Snapshot()
	assert.Nil(t, snap.Start)
	assert.False(t, snap.LastUpdatedAt.IsZero())
}

func TestSnapshotIsACopy(t *testing.T) {
	store := NewStore(nil, nil)
	require.NoError(t, store.Init(context.Background(), 1))
	store.Apply(protocol.KindParticipants, []protocol.Participant{{UserID: 1, Username: "ann"}})

	snap := store.Snapshot()
	snap.Participants[0].Username = "mallory"

	assert.Equal(t, "ann", store.Snapshot().Participants[0].Username)
}

func TestInitRestoresSameRoomOnly(t *testing.T) {
	ctx := context.Background()
	persist := NewMemoryPersistence()

	first := NewStore(persist, zaptest.NewLogger(t))
	require.NoError(t, first.Init(ctx, 42))
	first.Apply(protocol.KindParticipants, []protocol.Participant{{UserID: 7}})

	// A new process in the same room picks the snapshot back up.
	reloaded := NewStore(persist, zaptest.NewLogger(t))
	require.NoError(t, reloaded.Init(ctx, 42))
	assert.Len(t, reloaded.Snapshot().Participants, 1)

	// Another room starts empty.
	require.NoError(t, reloaded.Init(ctx, 43))
	snap := reloaded.Snapshot()
	assert.Equal(t, int64(43), snap.RoomID)
	assert.Empty(t, snap.Participants)
}

func TestClearDropsPersistedSnapshot(t *testing.T) {
	ctx := context.Background()
	persist := NewMemoryPersistence()
	store := NewStore(persist, zaptest.NewLogger(t))
	require.NoError(t, store.Init(ctx, 42))
	store.Apply(protocol.KindStatus, &protocol.StatusPayload{Status: protocol.StatusWaiting})

	store.Clear(ctx)

	assert.Equal(t, Snapshot{}, store.Snapshot())
	_, err := persist.Load(ctx, 42)
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestResetKeepsRoom(t *testing.T) {
	store := NewStore(nil, zaptest.NewLogger(t))
	require.NoError(t, store.Init(context.Background(), 42))
	store.Apply(protocol.KindStatus, &protocol.StatusPayload{Status: protocol.StatusWaiting})

	store.Reset()

	snap := store.Snapshot()
	assert.Equal(t, int64(42), snap.RoomID)
	assert.Nil(t, snap.Status)
	assert.True(t, snap.LastUpdatedAt.IsZero())
}

type failingPersistence struct{ MemoryPersistence }

func (*failingPersistence) Save(context.Context, Snapshot) error {
	return errors.New("disk full")
}

func TestPersistenceFailureDoesNotBlockDispatch(t *testing.T) {
	store := NewStore(&failingPersistence{}, zaptest.NewLogger(t))
	require.NoError(t, store.Init(context.Background(), 42))

	store.Apply(protocol.KindStatus, &protocol.StatusPayload{Status: protocol.StatusReady})
	assert.Equal(t, protocol.StatusReady, store.Snapshot().Status.Status)
}

// stuckPersistence blocks every write until its context ends
type stuckPersistence struct{ MemoryPersistence }

func (*stuckPersistence) Save(ctx context.Context, _ Snapshot) error {
	<-ctx.Done()
	return ctx.Err()
}

func (*stuckPersistence) Delete(ctx context.Context, _ int64) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestSlowPersistenceIsBounded(t *testing.T) {
	store := NewStore(&stuckPersistence{}, zaptest.NewLogger(t), WithWriteTimeout(50*time.Millisecond))
	require.NoError(t, store.Init(context.Background(), 42))

	started := time.Now()
	store.Apply(protocol.KindStatus, &protocol.StatusPayload{Status: protocol.StatusReady})
	store.Reset()

	assert.Less(t, time.Since(started), time.Second)
	assert.Equal(t, int64(42), store.Snapshot().RoomID)
	assert.Nil(t, store.Snapshot().Status)
}

func TestFilePersistence(t *testing.T) {
	ctx := context.Background()
	persist, err := NewFilePersistence(t.TempDir())
	require.NoError(t, err)

	_, err = persist.Load(ctx, 42)
	require.ErrorIs(t, err, ErrSnapshotNotFound)

	snap := Snapshot{
		RoomID:       42,
		Participants: []protocol.Participant{{UserID: 7, Username: "ann", Ready: true}},
		Start:        &protocol.StartPayload{RoomID: 42, FirstQuestion: protocol.Question{QuestionID: 101, Options: []string{"A", "B"}}},
		Progress: &protocol.ProgressPayload{
			ParticipantProgress: map[int64]protocol.ParticipantProgress{7: {UserID: 7, Score: 10}},
		},
		LastUpdatedAt: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, persist.Save(ctx, snap))

	loaded, err := persist.Load(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, snap.Participants, loaded.Participants)
	assert.Equal(t, int64(101), loaded.Start.FirstQuestion.QuestionID)
	assert.Equal(t, 10, loaded.Progress.ParticipantProgress[7].Score)
	assert.True(t, snap.LastUpdatedAt.Equal(loaded.LastUpdatedAt))

	require.NoError(t, persist.Delete(ctx, 42))
	require.NoError(t, persist.Delete(ctx, 42))
	_, err = persist.Load(ctx, 42)
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

// TestRedisPersistence needs a reachable server, e.g. REDIS_ADDR=localhost:6379
func TestRedisPersistence(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()

	client, err := DialRedis(ctx, addr, os.Getenv("REDIS_PASSWORD"), 0)
	require.NoError(t, err)
	defer client.Close()

	persist := NewRedisPersistence(client, time.Minute)
	roomID := time.Now().UnixNano()
	t.Cleanup(func() { _ = persist.Delete(ctx, roomID) })

	_, err = persist.Load(ctx, roomID)
	require.ErrorIs(t, err, ErrSnapshotNotFound)

	require.NoError(t, persist.Save(ctx, Snapshot{RoomID: roomID, LastError: "boom"}))
	loaded, err := persist.Load(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, "boom", loaded.LastError)

	ttl, err := client.TTL(ctx, redisKey(roomID)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0), strconv.FormatInt(roomID, 10))
}
