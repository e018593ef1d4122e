package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/quizbattle/internal/client/connection"
	"github.com/yourusername/quizbattle/internal/client/supervisor"
	"github.com/yourusername/quizbattle/internal/config"
	"github.com/yourusername/quizbattle/internal/protocol"
	"github.com/yourusername/quizbattle/internal/server"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type battleServer struct {
	*server.Server
	http *httptest.Server
	url  string
}

func startBattleServer(t *testing.T) *battleServer {
	t.Helper()
	srv := server.NewServer(server.Config{}, zap.NewNop())
	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWebSocket))
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return &battleServer{Server: srv, http: ts, url: "ws" + strings.TrimPrefix(ts.URL, "http")}
}

func testConfig(url string) *config.Config {
	cfg := config.Default()
	cfg.ServerURL = url
	cfg.ConnectTimeout = 300 * time.Millisecond
	cfg.SwitchGrace = 10 * time.Millisecond
	cfg.ReconnectBaseDelay = 50 * time.Millisecond
	return cfg
}

func newDuel(t *testing.T, cfg *config.Config) *Duel {
	t.Helper()
	d, err := New(context.Background(), cfg, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

// awaitNotice reads notices until one of kind arrives
func awaitNotice(t *testing.T, d *Duel, kind NoticeKind, timeout time.Duration) Notice {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case n := <-d.Notices():
			if n.Kind == kind {
				return n
			}
		case <-deadline:
			t.Fatalf("no %s notice within %s", kind, timeout)
		}
	}
}

func TestJoinReadyAndFirstQuestion(t *testing.T) {
	srv := startBattleServer(t)
	d := newDuel(t, testConfig(srv.url))

	require.NoError(t, d.Join(context.Background(), 42, 7))

	status := d.Status()
	assert.Equal(t, connection.StateConnected, status.State)
	assert.Equal(t, int64(42), status.RoomID)
	assert.Equal(t, int64(7), status.UserID)
	assert.Equal(t, supervisor.PhaseStable, status.Phase)
	assert.Equal(t, 3, status.MaxAttempts)

	require.Eventually(t, func() bool {
		return len(d.Snapshot().Participants) == 1
	}, 2*time.Second, 10*time.Millisecond)

	d.ToggleReady()

	require.Eventually(t, func() bool {
		return d.Snapshot().Start != nil
	}, 2*time.Second, 10*time.Millisecond)

	snap := d.Snapshot()
	assert.Equal(t, int64(42), snap.RoomID)
	assert.Equal(t, int64(101), snap.Start.FirstQuestion.QuestionID)
	assert.Equal(t, int64(101), snap.CurrentQuestion().QuestionID)
	assert.False(t, snap.LastUpdatedAt.IsZero())

	d.SubmitAnswer(101, "go", 2)

	require.Eventually(t, func() bool {
		r := d.Snapshot().Result
		return r != nil && r.QuestionID == 101
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, d.Snapshot().Result.Correct)

	require.Eventually(t, func() bool {
		return d.Snapshot().CurrentQuestion().QuestionID == 102
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTwoPlayersSeeEachOther(t *testing.T) {
	srv := startBattleServer(t)
	ann := newDuel(t, testConfig(srv.url))
	bob := newDuel(t, testConfig(srv.url))

	require.NoError(t, ann.Join(context.Background(), 42, 7))
	require.NoError(t, bob.Join(context.Background(), 42, 8))

	for _, d := range []*Duel{ann, bob} {
		require.Eventually(t, func() bool {
			return len(d.Snapshot().Participants) == 2
		}, 2*time.Second, 10*time.Millisecond)
	}

	ann.ToggleReady()

	readyIn := func(d *Duel, userID int64) bool {
		for _, p := range d.Snapshot().Participants {
			if p.UserID == userID {
				return p.Ready
			}
		}
		return false
	}
	for _, d := range []*Duel{ann, bob} {
		require.Eventually(t, func() bool { return readyIn(d, 7) }, 2*time.Second, 10*time.Millisecond)
	}
	// bob is not ready yet
	assert.False(t, readyIn(bob, 8))
	assert.Nil(t, ann.Snapshot().Start)
	assert.Nil(t, bob.Snapshot().Start)

	bob.ToggleReady()

	for _, d := range []*Duel{ann, bob} {
		require.Eventually(t, func() bool {
			return d.Snapshot().Start != nil
		}, 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, int64(101), d.Snapshot().Start.FirstQuestion.QuestionID)
	}

	ann.SubmitAnswer(101, "go", 1)

	// both see ann's answer in the shared progress
	for _, d := range []*Duel{ann, bob} {
		require.Eventually(t, func() bool {
			p := d.Snapshot().Progress
			if p == nil {
				return false
			}
			for _, pp := range p.ParticipantProgress {
				if pp.UserID == 7 && pp.Answered {
					return true
				}
			}
			return false
		}, 2*time.Second, 10*time.Millisecond)
	}
}

func TestJoinSameRoomTwiceIsNoop(t *testing.T) {
	srv := startBattleServer(t)
	d := newDuel(t, testConfig(srv.url))

	require.NoError(t, d.Join(context.Background(), 42, 7))
	require.NoError(t, d.Join(context.Background(), 42, 7))
	assert.Equal(t, connection.StateConnected, d.Status().State)
}

func TestServerErrorBecomesNotice(t *testing.T) {
	srv := startBattleServer(t)
	d := newDuel(t, testConfig(srv.url))
	require.NoError(t, d.Join(context.Background(), 42, 7))

	d.SubmitAnswer(999, "A", 1)

	n := awaitNotice(t, d, NoticeServerError, 2*time.Second)
	assert.Equal(t, "battle is not in progress", n.Message)
	assert.Equal(t, "battle is not in progress", d.Snapshot().LastError)
}

func TestConnectFailureIsReported(t *testing.T) {
	srv := startBattleServer(t)
	srv.http.Close()
	d := newDuel(t, testConfig(srv.url))

	err := d.Join(context.Background(), 42, 7)

	require.Error(t, err)
	assert.Equal(t, connection.StateFailed, d.Status().State)
	awaitNotice(t, d, NoticeConnectFailed, time.Second)
}

func TestConnectTimeoutAgainstSilentServer(t *testing.T) {
	srv := startBattleServer(t)
	srv.SetSilent(true)
	d := newDuel(t, testConfig(srv.url))

	err := d.Join(context.Background(), 42, 7)

	require.ErrorIs(t, err, connection.ErrConnectTimeout)
	awaitNotice(t, d, NoticeConnectFailed, time.Second)
}

func TestTransportDropReconnects(t *testing.T) {
	srv := startBattleServer(t)
	d := newDuel(t, testConfig(srv.url))
	require.NoError(t, d.Join(context.Background(), 42, 7))
	require.Eventually(t, func() bool {
		return len(d.Snapshot().Participants) == 1
	}, 2*time.Second, 10*time.Millisecond)

	dropped := time.Now()
	require.Equal(t, 1, srv.DropConnections())

	n := awaitNotice(t, d, NoticeReconnecting, 2*time.Second)
	assert.Contains(t, n.Message, "1/3")
	awaitNotice(t, d, NoticeReconnected, 2*time.Second)
	assert.GreaterOrEqual(t, time.Since(dropped), 50*time.Millisecond)

	status := d.Status()
	assert.Equal(t, connection.StateConnected, status.State)
	assert.Equal(t, supervisor.PhaseStable, status.Phase)
	assert.Zero(t, status.Attempt)

	// the session survived and handlers are still bound
	assert.Len(t, d.Snapshot().Participants, 1)
	d.ToggleReady()
	require.Eventually(t, func() bool {
		return d.Snapshot().Start != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReconnectExhaustion(t *testing.T) {
	srv := startBattleServer(t)
	d := newDuel(t, testConfig(srv.url))
	require.NoError(t, d.Join(context.Background(), 42, 7))

	srv.http.Close()
	srv.DropConnections()

	awaitNotice(t, d, NoticeExhausted, 3*time.Second)

	status := d.Status()
	assert.Equal(t, supervisor.PhaseExhausted, status.Phase)
	assert.Equal(t, 3, status.Attempt)
	assert.NotEqual(t, connection.StateConnected, status.State)
}

func TestStallForcesResetAndReconnect(t *testing.T) {
	srv := startBattleServer(t)
	cfg := testConfig(srv.url)
	cfg.HealthCheckInterval = 20 * time.Millisecond
	cfg.StallThreshold = 150 * time.Millisecond
	cfg.StallVerifyDelay = 50 * time.Millisecond
	cfg.ReconnectBaseDelay = 100 * time.Millisecond
	d := newDuel(t, cfg)

	require.NoError(t, d.Join(context.Background(), 42, 7))
	require.Eventually(t, func() bool {
		return len(d.Snapshot().Participants) == 1
	}, 2*time.Second, 10*time.Millisecond)

	srv.SetSilent(true)

	awaitNotice(t, d, NoticeStateReset, 2*time.Second)
	snap := d.Snapshot()
	assert.Equal(t, int64(42), snap.RoomID)
	assert.Empty(t, snap.Participants)

	srv.SetSilent(false)
	awaitNotice(t, d, NoticeReconnected, 3*time.Second)

	require.Eventually(t, func() bool {
		return len(d.Snapshot().Participants) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLeaveClearsEverything(t *testing.T) {
	srv := startBattleServer(t)
	d := newDuel(t, testConfig(srv.url))
	require.NoError(t, d.Join(context.Background(), 42, 7))
	require.Eventually(t, func() bool {
		return len(d.Snapshot().Participants) == 1
	}, 2*time.Second, 10*time.Millisecond)

	d.Leave(context.Background())

	status := d.Status()
	assert.Equal(t, connection.StateIdle, status.State)
	assert.Zero(t, status.RoomID)
	assert.Zero(t, d.bus.Len())
	assert.Zero(t, d.Snapshot().RoomID)

	// commands after leave have no identity and go nowhere
	assert.NotPanics(t, func() { d.SubmitAnswer(101, "go", 1) })
}

func TestSwitchRooms(t *testing.T) {
	srv := startBattleServer(t)
	d := newDuel(t, testConfig(srv.url))

	require.NoError(t, d.Join(context.Background(), 42, 7))
	require.NoError(t, d.Join(context.Background(), 43, 7))

	status := d.Status()
	assert.Equal(t, int64(43), status.RoomID)
	assert.Equal(t, connection.StateConnected, status.State)

	require.Eventually(t, func() bool {
		snap := d.Snapshot()
		return snap.RoomID == 43 && len(snap.Participants) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubmitAnswerWithoutJoin(t *testing.T) {
	d := newDuel(t, testConfig("ws://127.0.0.1:1/ws"))

	assert.NotPanics(t, func() { d.SubmitAnswer(101, "A", 3) })
	assert.Equal(t, connection.StateIdle, d.Status().State)
	assert.Nil(t, d.Snapshot().Result)
}

func TestSnapshotSurvivesRestartInSameRoom(t *testing.T) {
	srv := startBattleServer(t)
	cfg := testConfig(srv.url)
	cfg.SnapshotStore = config.StoreFile
	cfg.SnapshotDir = t.TempDir()

	first := newDuel(t, cfg)
	require.NoError(t, first.Join(context.Background(), 42, 7))
	require.Eventually(t, func() bool {
		return first.Snapshot().Status != nil
	}, 2*time.Second, 10*time.Millisecond)

	// a crash: no Leave, just a fresh Duel on the same directory
	second := newDuel(t, cfg)
	require.NoError(t, second.store.Init(context.Background(), 42))

	snap := second.Snapshot()
	require.NotNil(t, snap.Status)
	assert.Equal(t, protocol.StatusWaiting, snap.Status.Status)
}
