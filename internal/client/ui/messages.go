package ui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/yourusername/quizbattle/internal/client"
)

// joinedMsg is sent when the duel joined the room
type joinedMsg struct{}

// joinErrorMsg is sent when the join failed
type joinErrorMsg struct {
	err error
}

// noticeMsg wraps a notice from the duel
type noticeMsg struct {
	notice client.Notice
}

// noticesClosedMsg is sent once the duel closed its notices
type noticesClosedMsg struct{}

// tickMsg is sent periodically for polling and animations
type tickMsg time.Time

// joinCmd joins the room; the connection manager bounds the wait
func joinCmd(battle Battle, roomID, userID int64) tea.Cmd {
	return func() tea.Msg {
		if err := battle.Join(context.Background(), roomID, userID); err != nil {
			return joinErrorMsg{err: err}
		}
		return joinedMsg{}
	}
}

// listenForNoticesCmd waits for the next notice
func listenForNoticesCmd(notices <-chan client.Notice) tea.Cmd {
	return func() tea.Msg {
		notice, ok := <-notices
		if !ok {
			return noticesClosedMsg{}
		}
		return noticeMsg{notice: notice}
	}
}

// tickCmd returns a command that sends tick messages
func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*250, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
