// Package server is a STOMP-over-WebSocket stand-in for the battle server,
// used for local development and end-to-end tests of the client.
package server

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/yourusername/quizbattle/internal/protocol"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second    //time allowed to read the next pong message from client
	pingPeriod     = (pongWait * 9) / 10 //send pings to client with this period. must be less than pongWait
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{ //upgrade HTTP connections to WebSocket connections
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	Subprotocols:    []string{protocol.Subprotocol},
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// Config tunes the battles the stub runs
type Config struct {
	MinPlayers         int
	QuestionsPerBattle int
}

// Client represents one STOMP session
type Client struct {
	ID     string
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once

	mu     sync.Mutex
	subs   map[string]string // subscription id -> destination
	userID int64
	room   *Room
}

// Server represents the WebSocket server
type Server struct {
	log         *zap.Logger
	roomManager *RoomManager
	userManager *UserManager
	silent      atomic.Bool

	mu      sync.Mutex
	clients map[string]*Client
}

// NewServer creates a new battle server
func NewServer(cfg Config, log *zap.Logger) *Server {
	if cfg.MinPlayers <= 0 {
		cfg.MinPlayers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "battle_server"))

	users := NewUserManager()
	return &Server{
		log:         log,
		roomManager: NewRoomManager(cfg, users, log),
		userManager: users,
		clients:     make(map[string]*Client),
	}
}

// SetSilent makes every open session ignore inbound frames and stop
// delivering, while the transports stay open
func (s *Server) SetSilent(silent bool) {
	s.silent.Store(silent)
	s.log.Info("silent mode", zap.Bool("silent", silent))
}

// DropConnections closes every transport without a STOMP goodbye and
// returns how many were closed
func (s *Server) DropConnections() int {
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	s.log.Info("dropped connections", zap.Int("count", len(clients)))
	return len(clients)
}

// Close drops every session and stops the rooms
func (s *Server) Close() {
	s.DropConnections()
	s.roomManager.Close()
}

// HandleWebSocket handles WebSocket connections
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade error", zap.Error(err))
		return
	}

	client := &Client{
		ID:     uuid.New().String(),
		server: s,
		conn:   conn,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
		subs:   make(map[string]string),
	}

	s.mu.Lock()
	s.clients[client.ID] = client
	s.mu.Unlock()

	go client.writePump()
	go client.readPump()
}

// readPump pumps frames from the WebSocket connection to the rooms
func (c *Client) readPump() {
	defer func() {
		c.server.mu.Lock()
		delete(c.server.clients, c.ID)
		c.server.mu.Unlock()

		c.mu.Lock()
		room := c.room
		c.mu.Unlock()
		if room != nil {
			room.Detach(c)
		}
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.log.Debug("websocket error", zap.Error(err))
			}
			return
		}
		if c.server.silent.Load() {
			continue
		}

		f, err := protocol.DecodeFrame(message)
		if err != nil {
			c.enqueue(protocol.ErrorFrame("malformed frame"))
			continue
		}
		if f == nil {
			continue
		}
		if !c.handleFrame(f) {
			return
		}
	}
}

// writePump pumps frames to the WebSocket connection, one frame per message
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// handleFrame handles one client frame; false ends the session
func (c *Client) handleFrame(f *frame.Frame) bool {
	switch f.Command {
	case frame.CONNECT, frame.STOMP:
		c.enqueue(frame.New(frame.CONNECTED,
			frame.Version, "1.2",
			frame.HeartBeat, "0,0",
			frame.Server, "quizbattle-stub/1.0",
		))

	case frame.SUBSCRIBE:
		c.mu.Lock()
		c.subs[f.Header.Get(frame.Id)] = f.Header.Get(frame.Destination)
		c.mu.Unlock()

	case frame.UNSUBSCRIBE:
		c.mu.Lock()
		delete(c.subs, f.Header.Get(frame.Id))
		c.mu.Unlock()

	case frame.SEND:
		c.handleSend(f.Header.Get(frame.Destination), f.Body)

	case frame.DISCONNECT:
		if receipt := f.Header.Get(frame.Receipt); receipt != "" {
			c.enqueue(frame.New(frame.RECEIPT, frame.ReceiptId, receipt))
		}
		return false

	default:
		c.enqueue(protocol.ErrorFrame("unsupported command " + f.Command))
	}
	return true
}

// handleSend handles the battle commands
func (c *Client) handleSend(destination string, body []byte) {
	switch destination {
	case protocol.DestJoin:
		var cmd protocol.JoinCommand
		if err := json.Unmarshal(body, &cmd); err != nil || cmd.RoomID == 0 || cmd.UserID == 0 {
			c.sendError("join needs roomId and userId")
			return
		}

		room := c.server.roomManager.GetOrCreateRoom(cmd.RoomID)
		c.mu.Lock()
		prev, prevUser := c.room, c.userID
		c.room, c.userID = room, cmd.UserID
		c.mu.Unlock()
		if prev != nil && prev != room {
			prev.Leave(prevUser)
		}
		room.Join(c, cmd.UserID)
		if cmd.IsReady {
			room.Ready(c, cmd.UserID)
		}

	case protocol.DestReady:
		var cmd protocol.ReadyCommand
		if room := c.roomFor(body, &cmd, func() int64 { return cmd.RoomID }); room != nil {
			room.Ready(c, cmd.UserID)
		}

	case protocol.DestAnswer:
		var cmd protocol.AnswerCommand
		if room := c.roomFor(body, &cmd, func() int64 { return cmd.RoomID }); room != nil {
			room.Answer(c, cmd)
		}

	case protocol.DestForceAdvance:
		var cmd protocol.ForceAdvanceCommand
		if room := c.roomFor(body, &cmd, func() int64 { return cmd.RoomID }); room != nil {
			room.ForceAdvance(c, cmd)
		}

	case protocol.DestLeave:
		var cmd protocol.LeaveCommand
		if room := c.roomFor(body, &cmd, func() int64 { return cmd.RoomID }); room != nil {
			room.Leave(cmd.UserID)
			c.mu.Lock()
			if c.room == room {
				c.room, c.userID = nil, 0
			}
			c.mu.Unlock()
		}

	default:
		c.sendError("unknown destination " + destination)
	}
}

// roomFor decodes body into cmd and looks up the room it names
func (c *Client) roomFor(body []byte, cmd any, roomID func() int64) *Room {
	if err := json.Unmarshal(body, cmd); err != nil {
		c.sendError("malformed command")
		return nil
	}
	room := c.server.roomManager.GetRoom(roomID())
	if room == nil {
		c.sendError("room not found")
		return nil
	}
	return room
}

// deliver sends body to every subscription of this client on destination
func (c *Client) deliver(destination string, body []byte) {
	c.mu.Lock()
	var ids []string
	for id, dest := range c.subs {
		if dest == destination {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.enqueue(protocol.MessageFrame(id, uuid.New().String(), destination, body))
	}
}

func (c *Client) sendError(message string) {
	c.deliver(protocol.QueueErrors, mustEncode(message))
}

func (c *Client) enqueue(f *frame.Frame) {
	if c.server.silent.Load() {
		return
	}
	data, err := protocol.EncodeFrame(f)
	if err != nil {
		c.server.log.Error("failed to encode frame", zap.Error(err))
		return
	}

	select {
	case c.send <- data:
	case <-c.done:
	default:
		c.server.log.Warn("client too slow, dropping session", zap.String("client_id", c.ID))
		c.close()
	}
}

func mustEncode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
