package connection

// Event represents lifecycle events from the connection manager
type Event interface {
	isEvent()
}

// ConnectedEvent is sent when the STOMP session is established
type ConnectedEvent struct {
	RoomID int64
	UserID int64
}

func (ConnectedEvent) isEvent() {}

// DisconnectedEvent is sent when the transport goes away.
// Expected is true when the caller asked for the disconnect.
type DisconnectedEvent struct {
	Error    error
	Expected bool
}

func (DisconnectedEvent) isEvent() {}

// ErrorEvent is sent when the broker sends a STOMP ERROR frame
type ErrorEvent struct {
	Message string
}

func (ErrorEvent) isEvent() {}

// StateChangedEvent is sent on every lifecycle transition
type StateChangedEvent struct {
	From State
	To   State
}

func (StateChangedEvent) isEvent() {}
