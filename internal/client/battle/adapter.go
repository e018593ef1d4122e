package battle

import (
	"sync"

	"github.com/yourusername/quizbattle/internal/client/connection"
	"github.com/yourusername/quizbattle/internal/metrics"
	"github.com/yourusername/quizbattle/internal/protocol"
	"go.uber.org/zap"
)

// Conn is the part of the connection manager the adapter drives
type Conn interface {
	Subscribe(topic string, handler connection.MessageHandler) (string, error)
	Publish(destination string, payload any)
}

// Dispatcher receives decoded events
type Dispatcher interface {
	Trigger(kind protocol.EventKind, payload any) bool
}

// Adapter translates between the battle wire contract and typed events/commands
type Adapter struct {
	conn Conn
	bus  Dispatcher
	log  *zap.Logger

	mu     sync.RWMutex
	roomID int64
	userID int64
}

// NewAdapter creates an adapter publishing through conn and dispatching to bus
func NewAdapter(conn Conn, bus Dispatcher, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{
		conn: conn,
		bus:  bus,
		log:  log.With(zap.String("component", "battle_adapter")),
	}
}

// Attach subscribes every room route and then announces the user.
// It runs on every (re)connect.
func (a *Adapter) Attach(roomID, userID int64) error {
	a.mu.Lock()
	a.roomID, a.userID = roomID, userID
	a.mu.Unlock()

	for _, route := range protocol.Routes(roomID) {
		if _, err := a.conn.Subscribe(route.Topic, a.handlerFor(route.Kind)); err != nil {
			return err
		}
	}

	a.log.Info("attached to room", zap.Int64("room_id", roomID), zap.Int64("user_id", userID))
	a.Join()
	return nil
}

// Detach forgets the room and user
func (a *Adapter) Detach() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.roomID, a.userID = 0, 0
}

// Identity returns the attached room and user, zero when detached
func (a *Adapter) Identity() (roomID, userID int64) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.roomID, a.userID
}

func (a *Adapter) handlerFor(kind protocol.EventKind) connection.MessageHandler {
	return func(body []byte) {
		payload, err := protocol.DecodePayload(kind, body)
		if err != nil {
			metrics.FramesDropped.WithLabelValues("malformed_payload").Inc()
			a.log.Warn("dropping malformed message",
				zap.Stringer("kind", kind),
				zap.Int("size", len(body)),
				zap.Error(err))
			return
		}

		metrics.FramesReceived.WithLabelValues(kind.String()).Inc()
		a.bus.Trigger(kind, payload)
	}
}

// Join announces the user in the room without marking them ready
func (a *Adapter) Join() {
	a.send("join", func(roomID, userID int64) protocol.Command {
		return protocol.JoinCommand{UserID: userID, RoomID: roomID}
	})
}

// ToggleReady flips the local user's ready flag
func (a *Adapter) ToggleReady() {
	a.send("toggle ready", func(roomID, userID int64) protocol.Command {
		return protocol.ReadyCommand{RoomID: roomID, UserID: userID}
	})
}

// SubmitAnswer submits answer for questionID
func (a *Adapter) SubmitAnswer(questionID int64, answer string, timeSpentSeconds int) {
	a.send("submit answer", func(roomID, userID int64) protocol.Command {
		return protocol.AnswerCommand{
			RoomID:           roomID,
			UserID:           userID,
			QuestionID:       questionID,
			Answer:           answer,
			TimeSpentSeconds: timeSpentSeconds,
		}
	})
}

// Leave tells the server the user is leaving
func (a *Adapter) Leave() {
	a.send("leave", func(roomID, userID int64) protocol.Command {
		return protocol.LeaveCommand{UserID: userID, RoomID: roomID}
	})
}

// ForceAdvance asks the server to skip past questionID
func (a *Adapter) ForceAdvance(questionID int64) {
	a.send("force advance", func(roomID, userID int64) protocol.Command {
		return protocol.ForceAdvanceCommand{RoomID: roomID, UserID: userID, QuestionID: questionID}
	})
}

func (a *Adapter) send(action string, build func(roomID, userID int64) protocol.Command) {
	roomID, userID := a.Identity()
	if roomID == 0 || userID == 0 {
		a.log.Error("cannot send command without room and user",
			zap.String("action", action),
			zap.Int64("room_id", roomID),
			zap.Int64("user_id", userID))
		return
	}

	cmd := build(roomID, userID)
	a.conn.Publish(cmd.Destination(), cmd)
}
