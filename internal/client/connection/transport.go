package connection

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yourusername/quizbattle/internal/protocol"
)

// Transport is the message-oriented connection the manager owns.
// *websocket.Conn satisfies it.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens transports; tests substitute an in-memory one
type Dialer interface {
	DialContext(ctx context.Context, url string) (Transport, error)
}

// WebSocketDialer dials the battle server with gorilla/websocket
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
}

// DialContext negotiates the STOMP sub-protocol on the handshake
func (d WebSocketDialer) DialContext(ctx context.Context, url string) (Transport, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
		Subprotocols:     []string{protocol.Subprotocol},
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
