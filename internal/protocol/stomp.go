package protocol

import (
	"bytes"
	"errors"
	"io"

	"github.com/go-stomp/stomp/v3/frame"
)

// STOMP sub-protocol negotiated on the WebSocket handshake
const Subprotocol = "v12.stomp"

const jsonContentType = "application/json"

// EncodeFrame serialises f as one WebSocket text message
func EncodeFrame(f *frame.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeFrame parses one WebSocket message. Heart-beats yield a nil frame.
func DecodeFrame(data []byte) (*frame.Frame, error) {
	f, err := frame.NewReader(bytes.NewReader(data)).Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	return f, err
}

// ConnectFrame opens a STOMP session
func ConnectFrame(host, heartBeat string) *frame.Frame {
	if heartBeat == "" {
		heartBeat = "0,0"
	}
	return frame.New(frame.CONNECT,
		frame.AcceptVersion, "1.2",
		frame.Host, host,
		frame.HeartBeat, heartBeat,
	)
}

// DisconnectFrame closes a STOMP session
func DisconnectFrame() *frame.Frame {
	return frame.New(frame.DISCONNECT)
}

// SubscribeFrame subscribes id to destination
func SubscribeFrame(id, destination string) *frame.Frame {
	return frame.New(frame.SUBSCRIBE,
		frame.Id, id,
		frame.Destination, destination,
		frame.Ack, "auto",
	)
}

// SendFrame builds a SEND frame carrying payload as JSON
func SendFrame(destination string, payload any) (*frame.Frame, error) {
	body, err := EncodePayload(payload)
	if err != nil {
		return nil, err
	}
	f := frame.New(frame.SEND,
		frame.Destination, destination,
		frame.ContentType, jsonContentType,
	)
	f.Body = body
	return f, nil
}

// MessageFrame is what the server delivers to a subscription
func MessageFrame(subscription, messageID, destination string, body []byte) *frame.Frame {
	f := frame.New(frame.MESSAGE,
		frame.Subscription, subscription,
		frame.MessageId, messageID,
		frame.Destination, destination,
		frame.ContentType, jsonContentType,
	)
	f.Body = body
	return f
}

// ErrorFrame is a broker-level error
func ErrorFrame(message string) *frame.Frame {
	f := frame.New(frame.ERROR, frame.Message, message)
	f.Body = []byte(message)
	return f
}
