package protocol

import "fmt"

// EventKind is the closed set of inbound message categories
type EventKind int

const (
	KindParticipants EventKind = iota + 1
	KindStart
	KindStatus
	KindProgress
	KindNextQuestion
	KindResult
	KindEnd
	KindError
)

// AllKinds lists every event kind in a stable order
var AllKinds = []EventKind{
	KindParticipants,
	KindStart,
	KindStatus,
	KindProgress,
	KindNextQuestion,
	KindResult,
	KindEnd,
	KindError,
}

func (k EventKind) String() string {
	switch k {
	case KindParticipants:
		return "PARTICIPANTS"
	case KindStart:
		return "START"
	case KindStatus:
		return "STATUS"
	case KindProgress:
		return "PROGRESS"
	case KindNextQuestion:
		return "NEXT_QUESTION"
	case KindResult:
		return "RESULT"
	case KindEnd:
		return "END"
	case KindError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Route binds an inbound topic to the event kind it carries
type Route struct {
	Kind  EventKind
	Topic string
}

// roomTopicSuffix maps room-scoped kinds to their topic suffix
var roomTopicSuffix = map[EventKind]string{
	KindParticipants: "participants",
	KindStart:        "start",
	KindStatus:       "status",
	KindProgress:     "progress",
	KindNextQuestion: "question",
	KindEnd:          "end",
}

// Topic returns the inbound address for kind in roomID
func Topic(kind EventKind, roomID int64) string {
	switch kind {
	case KindResult:
		return QueueResult
	case KindError:
		return QueueErrors
	}
	return fmt.Sprintf("/topic/battle/%d/%s", roomID, roomTopicSuffix[kind])
}

// Routes returns every inbound route a client in roomID subscribes to
func Routes(roomID int64) []Route {
	routes := make([]Route, 0, len(AllKinds))
	for _, kind := range AllKinds {
		routes = append(routes, Route{Kind: kind, Topic: Topic(kind, roomID)})
	}
	return routes
}
