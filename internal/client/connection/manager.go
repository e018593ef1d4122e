package connection

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/yourusername/quizbattle/internal/metrics"
	"github.com/yourusername/quizbattle/internal/protocol"
	"go.uber.org/zap"
)

var (
	ErrConnectTimeout    = errors.New("connect timed out")
	ErrConnectInProgress = errors.New("connect already in progress")
	ErrNotConnected      = errors.New("not connected")
	ErrNoRoom            = errors.New("no room to reconnect to")
	ErrDisconnected      = errors.New("disconnected while connecting")
)

// MessageHandler receives the body of a MESSAGE frame for one subscription.
// Disconnect waits for a running handler, so a handler must not call it.
type MessageHandler func(body []byte)

// HandlerRegistry is the event handler table cleared on disconnect
type HandlerRegistry interface {
	Clear()
}

// Config holds the connection settings
type Config struct {
	URL            string
	ConnectTimeout time.Duration
	SwitchGrace    time.Duration
	WriteTimeout   time.Duration
	HeartBeat      string
}

// Manager owns the single STOMP-over-WebSocket connection of a battle client
type Manager struct {
	cfg    Config
	dialer Dialer
	bus    HandlerRegistry
	log    *zap.Logger

	mu            sync.Mutex
	state         State
	roomID        int64
	userID        int64
	conn          Transport
	gen           uint64 // bumped whenever the current transport is abandoned
	subs          map[string]MessageHandler
	cancelConnect context.CancelFunc
	pending       []Event

	writeMu    sync.Mutex
	dispatchMu sync.Mutex // held while a message handler runs

	onConnected func(roomID, userID int64) error
	onClosed    func(err error)
	onEvent     func(Event)
}

// NewManager creates a connection manager. A nil dialer uses gorilla/websocket.
func NewManager(cfg Config, dialer Dialer, bus HandlerRegistry, log *zap.Logger) *Manager {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if dialer == nil {
		dialer = WebSocketDialer{HandshakeTimeout: cfg.ConnectTimeout}
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Manager{
		cfg:    cfg,
		dialer: dialer,
		bus:    bus,
		log:    log.With(zap.String("component", "battle_connection")),
		state:  StateIdle,
	}
}

// OnConnected sets the hook run after CONNECTED and before Connect returns.
// It subscribes the room topics and sends the join command.
func (m *Manager) OnConnected(hook func(roomID, userID int64) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnected = hook
}

// OnClosed sets the callback for transport loss the caller did not ask for
func (m *Manager) OnClosed(callback func(err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClosed = callback
}

// OnEvent sets the callback for lifecycle events
func (m *Manager) OnEvent(callback func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvent = callback
}

// State returns the current lifecycle state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected returns whether the STOMP session is up
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Identity returns the room and user of the current or last connection
func (m *Manager) Identity() (roomID, userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roomID, m.userID
}

// Connect establishes the connection for roomID as userID and blocks until
// CONNECTED, the connect timeout, or ctx ends.
// A live connection for another room is torn down first.
func (m *Manager) Connect(ctx context.Context, roomID, userID int64) error {
	m.mu.Lock()
	switch {
	case m.state == StateConnected && m.roomID == roomID && m.userID == userID:
		m.mu.Unlock()
		return nil
	case m.state == StateConnecting && m.roomID == roomID && m.userID == userID:
		m.mu.Unlock()
		return ErrConnectInProgress
	}
	switching := m.state == StateConnected || m.state == StateConnecting
	prevRoom := m.roomID
	m.mu.Unlock()

	if switching {
		m.log.Info("tearing down previous connection before switching rooms",
			zap.Int64("from_room", prevRoom),
			zap.Int64("to_room", roomID))
		m.teardown(false)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.cfg.SwitchGrace):
		}
	}

	return m.connect(ctx, roomID, userID, nil)
}

// Reconnect drops the current transport, keeping handlers and identity, and
// connects again to the same room
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	roomID, userID := m.roomID, m.userID
	if roomID == 0 {
		m.mu.Unlock()
		return ErrNoRoom
	}
	if m.state == StateConnecting {
		m.mu.Unlock()
		return ErrConnectInProgress
	}
	conn := m.detachLocked()
	since := m.gen
	m.setStateLocked(StateIdle)
	m.unlock()

	m.closeTransport(conn)
	return m.connect(ctx, roomID, userID, &since)
}

// connect dials and runs the STOMP handshake. A non-nil since aborts the
// attempt when a teardown ran after that generation was taken.
func (m *Manager) connect(ctx context.Context, roomID, userID int64, since *uint64) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	m.mu.Lock()
	if since != nil && m.gen != *since {
		m.mu.Unlock()
		m.log.Info("reconnect abandoned, connection was torn down", zap.Int64("room_id", roomID))
		return ErrDisconnected
	}
	m.gen++
	gen := m.gen
	m.roomID, m.userID = roomID, userID
	m.cancelConnect = cancel
	m.setStateLocked(StateConnecting)
	m.unlock()

	started := time.Now()
	log := m.log.With(zap.Int64("room_id", roomID), zap.Int64("user_id", userID))
	log.Info("connecting to battle server", zap.String("url", m.cfg.URL))

	conn, err := m.dialer.DialContext(ctx, m.cfg.URL)
	if err != nil {
		return m.failConnect(gen, started, fmt.Errorf("failed to dial battle server: %w", connectErr(ctx, err)))
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		conn.Close()
		return ErrDisconnected
	}
	m.conn = conn
	m.subs = make(map[string]MessageHandler)
	m.mu.Unlock()

	established := make(chan struct{})
	readDone := make(chan error, 1)
	go m.readPump(conn, gen, established, readDone)

	if err := m.writeFrame(conn, protocol.ConnectFrame(m.host(), m.cfg.HeartBeat)); err != nil {
		return m.failConnect(gen, started, fmt.Errorf("failed to send CONNECT: %w", err))
	}

	select {
	case <-established:
	case err := <-readDone:
		return m.failConnect(gen, started, fmt.Errorf("connection closed before CONNECTED: %w", err))
	case <-ctx.Done():
		return m.failConnect(gen, started, connectErr(ctx, ctx.Err()))
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return ErrDisconnected
	}
	m.cancelConnect = nil
	m.setStateLocked(StateConnected)
	hook := m.onConnected
	m.unlock()

	metrics.ConnectLatency.WithLabelValues("success").Observe(time.Since(started).Seconds())
	log.Info("connected to battle server", zap.Duration("took", time.Since(started)))
	m.emit(ConnectedEvent{RoomID: roomID, UserID: userID})

	if hook != nil {
		if err := hook(roomID, userID); err != nil {
			m.mu.Lock()
			if m.gen == gen {
				conn := m.detachLocked()
				m.setStateLocked(StateFailed)
				m.unlock()
				m.closeTransport(conn)
			} else {
				m.mu.Unlock()
			}
			return fmt.Errorf("failed to attach to room %d: %w", roomID, err)
		}
	}
	return nil
}

func (m *Manager) failConnect(gen uint64, started time.Time, err error) error {
	metrics.ConnectLatency.WithLabelValues("failure").Observe(time.Since(started).Seconds())

	m.mu.Lock()
	if m.gen != gen {
		// Disconnect won the race; its teardown already ran.
		m.mu.Unlock()
		return ErrDisconnected
	}
	conn := m.detachLocked()
	m.cancelConnect = nil
	m.setStateLocked(StateFailed)
	m.unlock()

	m.closeTransport(conn)
	m.log.Warn("battle connect failed", zap.Error(err))
	return err
}

// Disconnect tears the connection down on the caller's request. It cancels an
// in-flight connect, clears every event handler and forgets the room.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state == StateDisconnecting {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.teardown(true)
}

// teardown closes the transport as an expected disconnect
func (m *Manager) teardown(clearHandlers bool) {
	m.mu.Lock()
	hadConnection := m.conn != nil || m.state == StateConnecting
	cancel := m.cancelConnect
	m.cancelConnect = nil
	conn := m.detachLocked()
	gen := m.gen
	if hadConnection {
		m.setStateLocked(StateDisconnecting)
	}
	m.unlock()

	if cancel != nil {
		cancel()
	}
	// wait out a handler already running for the old transport
	m.dispatchMu.Lock()
	m.dispatchMu.Unlock()

	if clearHandlers && m.bus != nil {
		m.bus.Clear()
	}
	if conn != nil {
		m.writeFrame(conn, protocol.DisconnectFrame())
		m.closeTransport(conn)
	}

	m.mu.Lock()
	if m.gen == gen {
		m.roomID, m.userID = 0, 0
		m.setStateLocked(StateIdle)
	}
	m.unlock()

	if hadConnection {
		m.log.Info("disconnected from battle server")
		m.emit(DisconnectedEvent{Expected: true})
	}
}

// Publish sends payload to destination. When the connection is not up the
// publish is dropped with a warning, never queued.
func (m *Manager) Publish(destination string, payload any) {
	m.mu.Lock()
	state, conn := m.state, m.conn
	m.mu.Unlock()

	if state != StateConnected || conn == nil {
		metrics.PublishesDropped.WithLabelValues(destination).Inc()
		m.log.Warn("not connected, dropping publish",
			zap.String("destination", destination),
			zap.Stringer("state", state))
		return
	}

	f, err := protocol.SendFrame(destination, payload)
	if err != nil {
		m.log.Error("failed to encode publish", zap.String("destination", destination), zap.Error(err))
		return
	}
	if err := m.writeFrame(conn, f); err != nil {
		m.log.Warn("failed to publish", zap.String("destination", destination), zap.Error(err))
	}
}

// Subscribe registers handler for topic on the current connection
func (m *Manager) Subscribe(topic string, handler MessageHandler) (string, error) {
	m.mu.Lock()
	if m.state != StateConnected || m.conn == nil {
		m.mu.Unlock()
		return "", ErrNotConnected
	}
	id := "sub-" + uuid.NewString()
	m.subs[id] = handler
	conn := m.conn
	m.mu.Unlock()

	if err := m.writeFrame(conn, protocol.SubscribeFrame(id, topic)); err != nil {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
		return "", fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	m.log.Debug("subscribed", zap.String("topic", topic), zap.String("subscription", id))
	return id, nil
}

// readPump reads frames until the transport fails. Frames are handled one at
// a time, so handlers observe them in arrival order.
func (m *Manager) readPump(conn Transport, gen uint64, established chan<- struct{}, readDone chan<- error) {
	connected := false

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !connected {
				readDone <- err
				return
			}
			m.handleClosed(gen, err)
			return
		}

		f, err := protocol.DecodeFrame(data)
		if err != nil {
			metrics.FramesDropped.WithLabelValues("malformed_frame").Inc()
			m.log.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		if f == nil {
			continue // heart-beat
		}

		switch f.Command {
		case frame.CONNECTED:
			if !connected {
				connected = true
				close(established)
			}

		case frame.MESSAGE:
			m.dispatch(gen, f)

		case frame.ERROR:
			message := f.Header.Get(frame.Message)
			if message == "" {
				message = string(f.Body)
			}
			m.log.Error("broker error", zap.String("message", message))
			m.emit(ErrorEvent{Message: message})
			if !connected {
				readDone <- fmt.Errorf("broker error: %s", message)
				return
			}

		case frame.RECEIPT:
			m.log.Debug("receipt", zap.String("receipt_id", f.Header.Get(frame.ReceiptId)))

		default:
			m.log.Debug("unhandled frame", zap.String("command", f.Command))
		}
	}
}

func (m *Manager) dispatch(gen uint64, f *frame.Frame) {
	subscription := f.Header.Get(frame.Subscription)

	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	handler := m.subs[subscription]
	m.mu.Unlock()

	if handler == nil {
		metrics.FramesDropped.WithLabelValues("unknown_subscription").Inc()
		m.log.Debug("message for unknown subscription",
			zap.String("subscription", subscription),
			zap.String("destination", f.Header.Get(frame.Destination)))
		return
	}
	handler(f.Body)
}

// handleClosed reacts to a transport loss nobody asked for
func (m *Manager) handleClosed(gen uint64, err error) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	conn := m.detachLocked()
	m.setStateLocked(StateIdle)
	onClosed := m.onClosed
	m.unlock()

	m.closeTransport(conn)
	if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		m.log.Info("battle server closed the connection", zap.Error(err))
	} else {
		m.log.Warn("battle connection lost", zap.Error(err))
	}
	m.emit(DisconnectedEvent{Error: err})

	if onClosed != nil {
		onClosed(err)
	}
}

// detachLocked abandons the current transport. The caller closes it.
func (m *Manager) detachLocked() Transport {
	m.gen++
	conn := m.conn
	m.conn = nil
	m.subs = nil
	return conn
}

func (m *Manager) closeTransport(conn Transport) {
	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil {
		m.log.Debug("transport close", zap.Error(err))
	}
}

func (m *Manager) writeFrame(conn Transport, f *frame.Frame) error {
	data, err := protocol.EncodeFrame(f)
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	from := m.state
	m.state = s
	recordState(s)
	m.log.Debug("connection state changed", zap.Stringer("from", from), zap.Stringer("to", s))
	m.pending = append(m.pending, StateChangedEvent{From: from, To: s})
}

// unlock releases mu and then delivers the events queued while it was held
func (m *Manager) unlock() {
	events := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, e := range events {
		m.emit(e)
	}
}

func (m *Manager) emit(event Event) {
	m.mu.Lock()
	callback := m.onEvent
	m.mu.Unlock()

	if callback != nil {
		callback(event)
	}
}

func (m *Manager) host() string {
	if u, err := url.Parse(m.cfg.URL); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return "localhost"
}

func connectErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrConnectTimeout, err)
	}
	return err
}
