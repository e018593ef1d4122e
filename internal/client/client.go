// Package client wires the battle connection, event bus, session store and
// reconnect supervisor into one Duel owned by the UI.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yourusername/quizbattle/internal/client/battle"
	"github.com/yourusername/quizbattle/internal/client/connection"
	"github.com/yourusername/quizbattle/internal/client/eventbus"
	"github.com/yourusername/quizbattle/internal/client/session"
	"github.com/yourusername/quizbattle/internal/client/supervisor"
	"github.com/yourusername/quizbattle/internal/config"
	"github.com/yourusername/quizbattle/internal/protocol"
	"go.uber.org/zap"
)

// NoticeKind classifies user-visible notices
type NoticeKind int

const (
	NoticeConnectFailed NoticeKind = iota + 1
	NoticeReconnecting
	NoticeReconnected
	NoticeExhausted
	NoticeServerError
	NoticeStateReset
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeConnectFailed:
		return "connect_failed"
	case NoticeReconnecting:
		return "reconnecting"
	case NoticeReconnected:
		return "reconnected"
	case NoticeExhausted:
		return "exhausted"
	case NoticeServerError:
		return "server_error"
	case NoticeStateReset:
		return "state_reset"
	default:
		return "unknown"
	}
}

// Fatal reports whether the notice ends the session
func (k NoticeKind) Fatal() bool {
	return k == NoticeConnectFailed || k == NoticeExhausted
}

// Notice is a toast or banner for the user
type Notice struct {
	Kind    NoticeKind
	Message string
	At      time.Time
}

// Status is the connection as the UI sees it
type Status struct {
	State       connection.State
	RoomID      int64
	UserID      int64
	Phase       supervisor.Phase
	Attempt     int
	MaxAttempts int
}

type options struct {
	dialer  connection.Dialer
	persist session.Persistence
	log     *zap.Logger
}

// Option configures a Duel
type Option func(*options)

// WithDialer replaces the gorilla/websocket dialer
func WithDialer(d connection.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithPersistence replaces the snapshot backend chosen by the config
func WithPersistence(p session.Persistence) Option {
	return func(o *options) { o.persist = p }
}

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

// Duel is the battle client of one user
type Duel struct {
	log        *zap.Logger
	bus        *eventbus.Bus
	conn       *connection.Manager
	adapter    *battle.Adapter
	store      *session.Store
	supervisor *supervisor.Supervisor
	closers    []func() error
	grace      time.Duration

	mu sync.Mutex // serializes Join, Leave and Close

	noticeMu sync.Mutex
	notices  chan Notice
	closed   bool
}

// New builds a Duel from cfg. Nothing connects until Join.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Duel, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}

	d := &Duel{
		log:     o.log.With(zap.String("component", "duel")),
		notices: make(chan Notice, 32),
		grace:   cfg.SwitchGrace,
	}

	persist := o.persist
	if persist == nil {
		var err error
		if persist, err = d.openPersistence(ctx, cfg); err != nil {
			return nil, err
		}
	}

	d.bus = eventbus.New(o.log)
	d.conn = connection.NewManager(connection.Config{
		URL:            cfg.ServerURL,
		ConnectTimeout: cfg.ConnectTimeout,
		SwitchGrace:    cfg.SwitchGrace,
		HeartBeat:      cfg.HeartBeat,
	}, o.dialer, d.bus, o.log)
	d.adapter = battle.NewAdapter(d.conn, d.bus, o.log)
	d.store = session.NewStore(persist, o.log)
	d.supervisor = supervisor.New(supervisor.Config{
		BaseDelay:      cfg.ReconnectBaseDelay,
		MaxAttempts:    cfg.ReconnectMaxAttempts,
		CheckInterval:  cfg.HealthCheckInterval,
		StallThreshold: cfg.StallThreshold,
		VerifyDelay:    cfg.StallVerifyDelay,
	}, d, d.store, o.log)

	d.conn.OnConnected(d.adapter.Attach)
	d.conn.OnClosed(func(error) {
		d.supervisor.Handle(supervisor.InputTransportClosed)
	})
	d.conn.OnEvent(d.handleConnectionEvent)

	d.supervisor.OnPhaseChange(d.handlePhase)
	d.supervisor.OnExhausted(func() {
		d.notify(NoticeExhausted, "Lost connection to the battle. Please rejoin.")
	})
	d.supervisor.OnHardReset(func() {
		d.notify(NoticeStateReset, "Battle state was out of date and has been reset.")
	})

	return d, nil
}

func (d *Duel) openPersistence(ctx context.Context, cfg *config.Config) (session.Persistence, error) {
	switch cfg.SnapshotStore {
	case config.StoreFile:
		return session.NewFilePersistence(cfg.SnapshotDir)

	case config.StoreRedis:
		client, err := session.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, client.Close)
		return session.NewRedisPersistence(client, cfg.SnapshotTTL), nil

	default:
		return session.NewMemoryPersistence(), nil
	}
}

// Join connects userID to roomID. Leaving another room happens first.
// A connect failure is returned and also surfaced as a notice; it is not retried.
func (d *Duel) Join(ctx context.Context, roomID, userID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	curRoom, curUser := d.conn.Identity()
	if curRoom == roomID && curUser == userID && d.conn.IsConnected() {
		return nil
	}

	d.supervisor.Stop()
	if curRoom != 0 && curRoom != roomID {
		// the old room's frames must be gone before the new room's store exists
		d.log.Info("switching rooms", zap.Int64("from", curRoom), zap.Int64("to", roomID))
		d.leaveRoom()
		d.conn.Disconnect()
		d.store.Clear(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.grace):
		}
	}

	if err := d.store.Init(ctx, roomID); err != nil {
		return fmt.Errorf("failed to init session for room %d: %w", roomID, err)
	}
	d.bindHandlers()

	if err := d.conn.Connect(ctx, roomID, userID); err != nil {
		if errors.Is(err, connection.ErrConnectInProgress) {
			return err
		}
		d.notify(NoticeConnectFailed, fmt.Sprintf("Could not join battle %d: %v", roomID, err))
		return fmt.Errorf("failed to join room %d: %w", roomID, err)
	}

	d.supervisor.Watch()
	return nil
}

// bindHandlers lets the store take every event kind and adds the error notice
func (d *Duel) bindHandlers() {
	d.store.Bind(d.bus)
	d.bus.On(protocol.KindError, func(payload any) {
		d.store.Apply(protocol.KindError, payload)
		if msg, ok := payload.(string); ok {
			d.notify(NoticeServerError, msg)
		}
	})
}

// Leave announces the leave, tears the connection down and clears the session
func (d *Duel) Leave(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.leave(ctx)
}

func (d *Duel) leave(ctx context.Context) {
	d.supervisor.Stop()
	d.leaveRoom()
	d.conn.Disconnect()
	d.store.Clear(ctx)
}

// leaveRoom tells the server, if it still knows us, and forgets the identity
func (d *Duel) leaveRoom() {
	if roomID, _ := d.adapter.Identity(); roomID != 0 {
		d.adapter.Leave()
	}
	d.adapter.Detach()
}

// Close leaves the room and releases the persistence backend
func (d *Duel) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.noticeMu.Lock()
	alreadyClosed := d.closed
	d.noticeMu.Unlock()
	if alreadyClosed {
		return nil
	}

	d.leave(context.Background())

	d.noticeMu.Lock()
	d.closed = true
	close(d.notices)
	d.noticeMu.Unlock()

	var firstErr error
	for _, closeFn := range d.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Reconnect is called by the supervisor; it keeps handlers and the session
func (d *Duel) Reconnect(ctx context.Context) error {
	return d.conn.Reconnect(ctx)
}

// ToggleReady flips the local user's ready flag
func (d *Duel) ToggleReady() {
	d.adapter.ToggleReady()
}

// SubmitAnswer answers questionID
func (d *Duel) SubmitAnswer(questionID int64, answer string, timeSpentSeconds int) {
	d.adapter.SubmitAnswer(questionID, answer, timeSpentSeconds)
}

// ForceAdvance asks the server to move past questionID
func (d *Duel) ForceAdvance(questionID int64) {
	d.adapter.ForceAdvance(questionID)
}

// Snapshot returns the current session state
func (d *Duel) Snapshot() session.Snapshot {
	return d.store.Snapshot()
}

// Status returns the connection and reconnect state
func (d *Duel) Status() Status {
	roomID, userID := d.conn.Identity()
	phase, attempt := d.supervisor.Status()
	return Status{
		State:       d.conn.State(),
		RoomID:      roomID,
		UserID:      userID,
		Phase:       phase,
		Attempt:     attempt,
		MaxAttempts: d.supervisor.MaxAttempts(),
	}
}

// Notices delivers user-visible notices. It is closed by Close.
func (d *Duel) Notices() <-chan Notice {
	return d.notices
}

func (d *Duel) handleConnectionEvent(event connection.Event) {
	switch e := event.(type) {
	case connection.ErrorEvent:
		d.notify(NoticeServerError, e.Message)
	case connection.DisconnectedEvent:
		if !e.Expected {
			d.log.Info("battle transport lost, supervisor takes over", zap.Error(e.Error))
		}
	}
}

func (d *Duel) handlePhase(phase supervisor.Phase, attempt int) {
	switch phase {
	case supervisor.PhaseRetrying:
		d.notify(NoticeReconnecting, fmt.Sprintf("Reconnecting (%d/%d)...", attempt, d.supervisor.MaxAttempts()))
	case supervisor.PhaseStable:
		d.notify(NoticeReconnected, "Reconnected.")
	}
}

func (d *Duel) notify(kind NoticeKind, message string) {
	d.noticeMu.Lock()
	defer d.noticeMu.Unlock()

	if d.closed {
		return
	}
	notice := Notice{Kind: kind, Message: message, At: time.Now()}
	select {
	case d.notices <- notice:
	default:
		d.log.Warn("notice dropped, nobody is reading", zap.Stringer("kind", kind), zap.String("message", message))
	}

	if kind.Fatal() {
		d.log.Error("battle notice", zap.Stringer("kind", kind), zap.String("message", message))
	} else {
		d.log.Info("battle notice", zap.Stringer("kind", kind), zap.String("message", message))
	}
}
