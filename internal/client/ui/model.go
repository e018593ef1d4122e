package ui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/yourusername/quizbattle/internal/client"
	"github.com/yourusername/quizbattle/internal/client/session"
)

// ViewState represents the current view in the TUI
type ViewState int

const (
	ViewLoading ViewState = iota
	ViewBattle
)

const maxNotices = 5

// Battle is what the monitor needs from a client.Duel
type Battle interface {
	Join(ctx context.Context, roomID, userID int64) error
	ToggleReady()
	SubmitAnswer(questionID int64, answer string, timeSpentSeconds int)
	ForceAdvance(questionID int64)
	Snapshot() session.Snapshot
	Status() client.Status
	Notices() <-chan client.Notice
}

// Model is the main Bubble Tea model
type Model struct {
	viewState ViewState
	battle    Battle

	serverURL string
	roomID    int64
	userID    int64

	width       int
	height      int
	loadingDots int
	err         error

	snap    session.Snapshot
	status  client.Status
	notices []client.Notice

	// question timing for the time spent on an answer
	questionID     int64
	questionSeenAt time.Time
	answered       map[int64]string
}

// NewModel creates the battle monitor for userID in roomID
func NewModel(battle Battle, serverURL string, roomID, userID int64) Model {
	return Model{
		viewState: ViewLoading,
		battle:    battle,
		serverURL: serverURL,
		roomID:    roomID,
		userID:    userID,
		width:     80,
		height:    24,
		answered:  make(map[int64]string),
	}
}

// Init joins the room and starts listening
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		joinCmd(m.battle, m.roomID, m.userID),
		tickCmd(),
		listenForNoticesCmd(m.battle.Notices()),
	)
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch m.viewState {
		case ViewLoading:
			return m.updateLoading(msg)
		case ViewBattle:
			return m.updateBattle(msg)
		}

	case joinedMsg:
		m.err = nil
		m.viewState = ViewBattle
		m.refresh()
		return m, nil

	case joinErrorMsg:
		m.err = msg.err
		return m, nil

	case noticeMsg:
		m.notices = append(m.notices, msg.notice)
		if len(m.notices) > maxNotices {
			m.notices = m.notices[len(m.notices)-maxNotices:]
		}
		if msg.notice.Kind == client.NoticeExhausted {
			// nothing reconnects from here; only a restart joins again
			m.viewState = ViewLoading
		}
		return m, listenForNoticesCmd(m.battle.Notices())

	case noticesClosedMsg:
		return m, nil

	case tickMsg:
		m.loadingDots = (m.loadingDots + 1) % 4
		m.refresh()
		return m, tickCmd()
	}

	return m, nil
}

// View renders the current view
func (m Model) View() string {
	switch m.viewState {
	case ViewLoading:
		return m.viewLoading()
	case ViewBattle:
		return m.viewBattle()
	}
	return ""
}

// refresh polls the duel; the store is the source of truth, not the notices
func (m *Model) refresh() {
	m.snap = m.battle.Snapshot()
	m.status = m.battle.Status()

	if q := m.snap.CurrentQuestion(); q != nil && q.QuestionID != m.questionID {
		m.questionID = q.QuestionID
		m.questionSeenAt = time.Now()
	}
}

func (m Model) lastFatal() (client.Notice, bool) {
	for i := len(m.notices) - 1; i >= 0; i-- {
		if m.notices[i].Kind.Fatal() {
			return m.notices[i], true
		}
	}
	return client.Notice{}, false
}
