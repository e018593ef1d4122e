package ui

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/quizbattle/internal/client"
	"github.com/yourusername/quizbattle/internal/client/connection"
	"github.com/yourusername/quizbattle/internal/client/session"
	"github.com/yourusername/quizbattle/internal/protocol"
)

type answer struct {
	questionID int64
	text       string
}

type fakeBattle struct {
	snap     session.Snapshot
	status   client.Status
	notices  chan client.Notice
	joinErr  error
	readies  int
	answers  []answer
	advances []int64
}

func newFakeBattle() *fakeBattle {
	return &fakeBattle{
		snap:    session.Snapshot{RoomID: 42},
		status:  client.Status{State: connection.StateConnected, RoomID: 42, UserID: 7, MaxAttempts: 3},
		notices: make(chan client.Notice, 4),
	}
}

func (f *fakeBattle) Join(context.Context, int64, int64) error { return f.joinErr }

func (f *fakeBattle) ToggleReady() { f.readies++ }

func (f *fakeBattle) SubmitAnswer(questionID int64, text string, _ int) {
	f.answers = append(f.answers, answer{questionID, text})
}

func (f *fakeBattle) ForceAdvance(questionID int64) {
	f.advances = append(f.advances, questionID)
}

func (f *fakeBattle) Snapshot() session.Snapshot { return f.snap }

func (f *fakeBattle) Status() client.Status { return f.status }

func (f *fakeBattle) Notices() <-chan client.Notice { return f.notices }

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func startedBattle() *fakeBattle {
	b := newFakeBattle()
	b.snap.Start = &protocol.StartPayload{
		RoomID:         42,
		TotalQuestions: 5,
		FirstQuestion: protocol.Question{
			QuestionID:   101,
			QuestionText: "Which keyword starts a goroutine?",
			Options:      []string{"go", "async", "spawn", "thread"},
			TimeLimit:    30,
			Points:       10,
		},
	}
	return b
}

func TestJoinMovesToBattleView(t *testing.T) {
	b := newFakeBattle()
	m := NewModel(b, "ws://localhost:8080/ws", 42, 7)

	m = update(t, m, joinedMsg{})

	assert.Equal(t, ViewBattle, m.viewState)
	assert.Equal(t, int64(42), m.snap.RoomID)
	assert.Contains(t, m.View(), "Waiting for players")
}

func TestJoinErrorStaysOnLoading(t *testing.T) {
	b := newFakeBattle()
	m := NewModel(b, "ws://localhost:8080/ws", 42, 7)

	m = update(t, m, joinErrorMsg{err: errors.New("connect timed out")})

	assert.Equal(t, ViewLoading, m.viewState)
	assert.Contains(t, m.View(), "connect timed out")
}

func TestKeysDriveCommands(t *testing.T) {
	b := startedBattle()
	m := update(t, NewModel(b, "", 42, 7), joinedMsg{})

	m = update(t, m, key("r"))
	assert.Equal(t, 1, b.readies)

	m = update(t, m, key("1"))
	require.Len(t, b.answers, 1)
	assert.Equal(t, answer{101, "go"}, b.answers[0])

	// one answer per question
	m = update(t, m, key("2"))
	assert.Len(t, b.answers, 1)

	update(t, m, key("f"))
	assert.Equal(t, []int64{101}, b.advances)
}

func TestAnswerOutOfRangeIsIgnored(t *testing.T) {
	b := startedBattle()
	b.snap.Start.FirstQuestion.Options = []string{"yes", "no"}
	m := update(t, NewModel(b, "", 42, 7), joinedMsg{})

	update(t, m, key("4"))

	assert.Empty(t, b.answers)
}

func TestNoAnswerBeforeStart(t *testing.T) {
	b := newFakeBattle()
	m := update(t, NewModel(b, "", 42, 7), joinedMsg{})

	m = update(t, m, key("1"))
	update(t, m, key("f"))

	assert.Empty(t, b.answers)
	assert.Empty(t, b.advances)
}

func TestQuestionClockRestartsOnNewQuestion(t *testing.T) {
	b := startedBattle()
	m := update(t, NewModel(b, "", 42, 7), joinedMsg{})
	first := m.questionSeenAt

	time.Sleep(5 * time.Millisecond)
	b.snap.NextQuestion = &protocol.Question{QuestionID: 102, Options: []string{"a", "b"}}
	m = update(t, m, tickMsg(time.Now()))

	assert.Equal(t, int64(102), m.questionID)
	assert.True(t, m.questionSeenAt.After(first))
}

func TestExhaustedNoticeEndsOnLoadingScreen(t *testing.T) {
	b := newFakeBattle()
	m := update(t, NewModel(b, "", 42, 7), joinedMsg{})

	m = update(t, m, noticeMsg{notice: client.Notice{
		Kind:    client.NoticeExhausted,
		Message: "Lost connection to the battle. Please rejoin.",
		At:      time.Now(),
	}})

	assert.Equal(t, ViewLoading, m.viewState)
	assert.Contains(t, m.View(), "Please rejoin")
}

func TestNoticesAreCapped(t *testing.T) {
	m := update(t, NewModel(newFakeBattle(), "", 42, 7), joinedMsg{})

	for i := 0; i < maxNotices+3; i++ {
		m = update(t, m, noticeMsg{notice: client.Notice{Kind: client.NoticeServerError, Message: "nope", At: time.Now()}})
	}

	assert.Len(t, m.notices, maxNotices)
}

func TestEndSummaryShowsWinner(t *testing.T) {
	b := startedBattle()
	b.snap.End = &protocol.EndPayload{
		RoomID:   42,
		WinnerID: 7,
		Rankings: []protocol.Ranking{{Rank: 1, UserID: 7, Username: "ann", Score: 25, CorrectAnswers: 2}},
	}
	m := update(t, NewModel(b, "", 42, 7), joinedMsg{})

	view := m.View()
	assert.Contains(t, view, "Battle over")
	assert.Contains(t, view, "winner")
}
