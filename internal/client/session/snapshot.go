package session

import (
	"maps"
	"slices"
	"time"

	"github.com/yourusername/quizbattle/internal/protocol"
)

// Snapshot is the latest known payload of every event kind for one room
type Snapshot struct {
	RoomID        int64                     `json:"roomId"`
	Participants  []protocol.Participant    `json:"participants,omitempty"`
	Start         *protocol.StartPayload    `json:"start,omitempty"`
	Status        *protocol.StatusPayload   `json:"status,omitempty"`
	Progress      *protocol.ProgressPayload `json:"progress,omitempty"`
	NextQuestion  *protocol.Question        `json:"nextQuestion,omitempty"`
	Result        *protocol.AnswerResult    `json:"result,omitempty"`
	End           *protocol.EndPayload      `json:"end,omitempty"`
	LastError     string                    `json:"lastError,omitempty"`
	LastUpdatedAt time.Time                 `json:"lastUpdatedAt"`
}

// CurrentQuestion is the question the room is on: the latest pushed one,
// or the first question of the start payload
func (s Snapshot) CurrentQuestion() *protocol.Question {
	if s.NextQuestion != nil {
		return s.NextQuestion
	}
	if s.Start != nil {
		return &s.Start.FirstQuestion
	}
	return nil
}

// clone deep-copies s so readers never share memory with the store
func (s Snapshot) clone() Snapshot {
	out := s
	out.Participants = slices.Clone(s.Participants)
	if s.Start != nil {
		start := *s.Start
		start.FirstQuestion.Options = slices.Clone(s.Start.FirstQuestion.Options)
		out.Start = &start
	}
	if s.Status != nil {
		status := *s.Status
		out.Status = &status
	}
	if s.Progress != nil {
		progress := *s.Progress
		progress.ParticipantProgress = maps.Clone(s.Progress.ParticipantProgress)
		out.Progress = &progress
	}
	if s.NextQuestion != nil {
		q := *s.NextQuestion
		q.Options = slices.Clone(s.NextQuestion.Options)
		out.NextQuestion = &q
	}
	if s.Result != nil {
		result := *s.Result
		out.Result = &result
	}
	if s.End != nil {
		end := *s.End
		end.Rankings = slices.Clone(s.End.Rankings)
		out.End = &end
	}
	return out
}
