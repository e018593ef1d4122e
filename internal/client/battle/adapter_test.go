package battle

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/quizbattle/internal/client/connection"
	"github.com/yourusername/quizbattle/internal/client/eventbus"
	"github.com/yourusername/quizbattle/internal/protocol"
	"go.uber.org/zap/zaptest"
)

type published struct {
	destination string
	payload     any
}

// recordingConn captures subscriptions and publishes in call order
type recordingConn struct {
	mu        sync.Mutex
	calls     []string
	handlers  map[string]connection.MessageHandler
	published []published
	failOn    string
}

func newRecordingConn() *recordingConn {
	return &recordingConn{handlers: make(map[string]connection.MessageHandler)}
}

func (c *recordingConn) Subscribe(topic string, handler connection.MessageHandler) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if topic == c.failOn {
		return "", errors.New("subscribe refused")
	}
	c.calls = append(c.calls, "SUBSCRIBE "+topic)
	c.handlers[topic] = handler
	return "sub-" + topic, nil
}

func (c *recordingConn) Publish(destination string, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "SEND "+destination)
	c.published = append(c.published, published{destination, payload})
}

func (c *recordingConn) deliver(topic string, body string) {
	c.mu.Lock()
	h := c.handlers[topic]
	c.mu.Unlock()
	h([]byte(body))
}

func TestAttachSubscribesBeforeJoin(t *testing.T) {
	conn := newRecordingConn()
	a := NewAdapter(conn, eventbus.New(zaptest.NewLogger(t)), zaptest.NewLogger(t))

	require.NoError(t, a.Attach(42, 7))

	require.Len(t, conn.calls, len(protocol.AllKinds)+1)
	for i, route := range protocol.Routes(42) {
		assert.Equal(t, "SUBSCRIBE "+route.Topic, conn.calls[i])
	}
	assert.Equal(t, "SEND "+protocol.DestJoin, conn.calls[len(conn.calls)-1])
	assert.Equal(t, protocol.JoinCommand{UserID: 7, RoomID: 42, IsReady: false}, conn.published[0].payload)
}

func TestAttachSubscribeFailure(t *testing.T) {
	conn := newRecordingConn()
	conn.failOn = protocol.Topic(protocol.KindStatus, 42)
	a := NewAdapter(conn, eventbus.New(nil), zaptest.NewLogger(t))

	require.Error(t, a.Attach(42, 7))
	assert.Empty(t, conn.published, "join must not be sent before every topic is subscribed")
}

func TestInboundMessagesAreDecodedAndTriggered(t *testing.T) {
	conn := newRecordingConn()
	bus := eventbus.New(zaptest.NewLogger(t))
	a := NewAdapter(conn, bus, zaptest.NewLogger(t))
	require.NoError(t, a.Attach(42, 7))

	var got []any
	for _, kind := range protocol.AllKinds {
		bus.On(kind, func(payload any) { got = append(got, payload) })
	}

	conn.deliver(protocol.Topic(protocol.KindParticipants, 42), `[{"userId":7,"username":"ann","ready":true}]`)
	conn.deliver(protocol.Topic(protocol.KindStart, 42), `{"roomId":42,"totalQuestions":5,"firstQuestion":{"questionId":101}}`)
	conn.deliver(protocol.QueueErrors, `"not your turn"`)

	require.Len(t, got, 3)
	assert.Equal(t, []protocol.Participant{{UserID: 7, Username: "ann", Ready: true}}, got[0])
	assert.Equal(t, int64(101), got[1].(*protocol.StartPayload).FirstQuestion.QuestionID)
	assert.Equal(t, "not your turn", got[2])
}

func TestMalformedMessageIsDropped(t *testing.T) {
	conn := newRecordingConn()
	bus := eventbus.New(zaptest.NewLogger(t))
	a := NewAdapter(conn, bus, zaptest.NewLogger(t))
	require.NoError(t, a.Attach(42, 7))

	called := false
	bus.On(protocol.KindStatus, func(any) { called = true })

	assert.NotPanics(t, func() {
		conn.deliver(protocol.Topic(protocol.KindStatus, 42), `{"status":`)
	})
	assert.False(t, called)

	conn.deliver(protocol.Topic(protocol.KindStatus, 42), `{"status":"READY"}`)
	assert.True(t, called)
}

func TestCommandsCarryIdentity(t *testing.T) {
	conn := newRecordingConn()
	a := NewAdapter(conn, eventbus.New(nil), zaptest.NewLogger(t))
	require.NoError(t, a.Attach(42, 7))

	a.ToggleReady()
	a.SubmitAnswer(101, "B", 4)
	a.ForceAdvance(101)
	a.Leave()

	require.Len(t, conn.published, 5)
	assert.Equal(t, published{protocol.DestReady, protocol.ReadyCommand{RoomID: 42, UserID: 7}}, conn.published[1])
	assert.Equal(t, published{protocol.DestAnswer, protocol.AnswerCommand{
		RoomID: 42, UserID: 7, QuestionID: 101, Answer: "B", TimeSpentSeconds: 4,
	}}, conn.published[2])
	assert.Equal(t, published{protocol.DestForceAdvance, protocol.ForceAdvanceCommand{RoomID: 42, UserID: 7, QuestionID: 101}}, conn.published[3])
	assert.Equal(t, published{protocol.DestLeave, protocol.LeaveCommand{UserID: 7, RoomID: 42}}, conn.published[4])
}

func TestCommandWithoutIdentityIsDropped(t *testing.T) {
	conn := newRecordingConn()
	a := NewAdapter(conn, eventbus.New(nil), zaptest.NewLogger(t))

	a.SubmitAnswer(101, "A", 3)
	assert.Empty(t, conn.published)

	require.NoError(t, a.Attach(42, 7))
	a.Detach()
	a.ToggleReady()
	assert.Len(t, conn.published, 1, "only the join from Attach")
}
