// Package protocol is the battle wire contract shared by the client and the
// stub server: STOMP destinations, event kinds and JSON payloads.
package protocol

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client -> Server destinations
const (
	DestJoin         = "/app/battle/join"
	DestReady        = "/app/battle/ready"
	DestAnswer       = "/app/battle/answer"
	DestLeave        = "/app/battle/leave"
	DestForceAdvance = "/app/battle/force-advance"
)

// Per-user queues, not room scoped in the address
const (
	QueueResult = "/user/queue/battle/result"
	QueueErrors = "/user/queue/errors"
)

// BattleStatus is the room status pushed on the status topic
type BattleStatus string

const (
	StatusWaiting    BattleStatus = "WAITING"
	StatusReady      BattleStatus = "READY"
	StatusInProgress BattleStatus = "IN_PROGRESS"
	StatusFinished   BattleStatus = "FINISHED"
)

// Participant is one entry of the participants push
type Participant struct {
	UserID       int64  `json:"userId"`
	Username     string `json:"username"`
	ProfileImage string `json:"profileImage,omitempty"`
	Level        int    `json:"level"`
	Ready        bool   `json:"ready"`
}

// Question is pushed on start (first question) and on the question topic
type Question struct {
	QuestionID   int64    `json:"questionId"`
	QuestionText string   `json:"questionText"`
	Options      []string `json:"options"`
	TimeLimit    int      `json:"timeLimit"`
	Points       int      `json:"points"`
}

// StartPayload is sent once when every participant is ready
type StartPayload struct {
	RoomID         int64    `json:"roomId"`
	TotalQuestions int      `json:"totalQuestions"`
	FirstQuestion  Question `json:"firstQuestion"`
	StartedAt      int64    `json:"startedAt,omitempty"`
}

// StatusPayload carries a room status transition
type StatusPayload struct {
	Status BattleStatus `json:"status"`
}

// ParticipantProgress is the per-user entry of a progress push
type ParticipantProgress struct {
	UserID         int64  `json:"userId"`
	Username       string `json:"username"`
	Score          int    `json:"score"`
	CorrectAnswers int    `json:"correctAnswers"`
	Answered       bool   `json:"answered"`
}

// ProgressPayload is pushed after every answer and question change
type ProgressPayload struct {
	CurrentQuestionIndex int                           `json:"currentQuestionIndex"`
	TotalQuestions       int                           `json:"totalQuestions"`
	ParticipantProgress  map[int64]ParticipantProgress `json:"participantProgress"`
}

// AnswerResult is the per-user outcome of a submitted answer
type AnswerResult struct {
	QuestionID    int64  `json:"questionId"`
	Correct       bool   `json:"isCorrect"`
	CorrectAnswer string `json:"correctAnswer"`
	EarnedPoints  int    `json:"earnedPoints"`
	TotalScore    int    `json:"totalScore"`
}

// Ranking is one line of the end-of-battle summary
type Ranking struct {
	Rank           int    `json:"rank"`
	UserID         int64  `json:"userId"`
	Username       string `json:"username"`
	Score          int    `json:"score"`
	CorrectAnswers int    `json:"correctAnswers"`
}

// EndPayload is the end-of-battle summary
type EndPayload struct {
	RoomID   int64     `json:"roomId"`
	WinnerID int64     `json:"winnerId,omitempty"`
	Rankings []Ranking `json:"rankings"`
}

// DecodePayload decodes a frame body into the typed payload of kind.
// ERROR bodies are raw strings; a JSON string literal is unquoted.
func DecodePayload(kind EventKind, body []byte) (any, error) {
	var (
		v   any
		err error
	)

	switch kind {
	case KindParticipants:
		var p []Participant
		err = json.Unmarshal(body, &p)
		v = p
	case KindStart:
		var p StartPayload
		err = json.Unmarshal(body, &p)
		v = &p
	case KindStatus:
		var p StatusPayload
		err = json.Unmarshal(body, &p)
		v = &p
	case KindProgress:
		var p ProgressPayload
		err = json.Unmarshal(body, &p)
		v = &p
	case KindNextQuestion:
		var p Question
		err = json.Unmarshal(body, &p)
		v = &p
	case KindResult:
		var p AnswerResult
		err = json.Unmarshal(body, &p)
		v = &p
	case KindEnd:
		var p EndPayload
		err = json.Unmarshal(body, &p)
		v = &p
	case KindError:
		return DecodeErrorText(body), nil
	default:
		return nil, fmt.Errorf("unknown event kind %d", int(kind))
	}

	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return v, nil
}

// DecodeErrorText reads an error queue body, unquoting a JSON string literal
func DecodeErrorText(body []byte) string {
	text := strings.TrimSpace(string(body))
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal([]byte(text), &s); err == nil {
			return s
		}
	}
	return text
}

// EncodePayload marshals a payload or command body
func EncodePayload(payload any) ([]byte, error) {
	return json.Marshal(payload)
}
