package ui

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/yourusername/quizbattle/internal/client"
	"github.com/yourusername/quizbattle/internal/client/supervisor"
	"github.com/yourusername/quizbattle/internal/protocol"
)

// updateBattle handles key presses on the battle screen
func (m Model) updateBattle(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key := msg.String(); key {
	case "ctrl+c", "esc", "q":
		return m, tea.Quit

	case "r":
		m.battle.ToggleReady()

	case "f":
		if q := m.snap.CurrentQuestion(); q != nil && m.snap.End == nil {
			m.battle.ForceAdvance(q.QuestionID)
		}

	case "1", "2", "3", "4":
		q := m.snap.CurrentQuestion()
		if q == nil || m.snap.End != nil {
			return m, nil
		}
		if _, done := m.answered[q.QuestionID]; done {
			return m, nil
		}
		idx := int(key[0] - '1')
		if idx >= len(q.Options) {
			return m, nil
		}
		spent := int(time.Since(m.questionSeenAt).Seconds())
		m.answered[q.QuestionID] = q.Options[idx]
		m.battle.SubmitAnswer(q.QuestionID, q.Options[idx], spent)
	}
	return m, nil
}

// viewBattle renders the live battle
func (m Model) viewBattle() string {
	header := lipgloss.JoinHorizontal(lipgloss.Top,
		titleStyle.Render(fmt.Sprintf("QUIZ BATTLE #%d", m.snap.RoomID)),
		m.connectionLine(),
	)

	var main string
	switch {
	case m.snap.End != nil:
		main = m.renderEnd(m.snap.End)
	case m.snap.CurrentQuestion() != nil:
		main = m.renderQuestion(m.snap.CurrentQuestion())
	default:
		main = m.renderLobby()
	}

	side := sideBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		m.renderScores(),
		"",
		m.renderNotices(),
	))

	body := lipgloss.JoinHorizontal(lipgloss.Top, boxStyle.Render(main), " ", side)

	instructions := instructionStyle.Render("r ready  •  1-4 answer  •  f skip question  •  q quit")

	return lipgloss.JoinVertical(lipgloss.Left, header, body, instructions)
}

func (m Model) connectionLine() string {
	s := m.status
	line := fmt.Sprintf("  %s as user %d", s.State, s.UserID)
	switch s.Phase {
	case supervisor.PhaseRetrying:
		return warnStyle.Render(line + fmt.Sprintf("  reconnecting %d/%d", s.Attempt, s.MaxAttempts))
	case supervisor.PhaseExhausted:
		return errorStyle.Render(line + "  connection lost")
	}
	return mutedStyle.Render(line)
}

func (m Model) renderLobby() string {
	var b strings.Builder
	status := protocol.StatusWaiting
	if m.snap.Status != nil {
		status = m.snap.Status.Status
	}
	b.WriteString(subtitleStyle.Render("Lobby: "+string(status)) + "\n\n")

	if len(m.snap.Participants) == 0 {
		b.WriteString(mutedStyle.Render("Waiting for players..."))
	}
	for _, p := range m.snap.Participants {
		mark := mutedStyle.Render("not ready")
		if p.Ready {
			mark = highlightStyle.Render("ready")
		}
		name := p.Username
		if p.UserID == m.userID {
			name += " (you)"
		}
		fmt.Fprintf(&b, "%-24s %s\n", name, mark)
	}
	return b.String()
}

func (m Model) renderQuestion(q *protocol.Question) string {
	var b strings.Builder

	if p := m.snap.Progress; p != nil {
		b.WriteString(mutedStyle.Render(fmt.Sprintf("Question %d/%d", p.CurrentQuestionIndex+1, p.TotalQuestions)) + "\n")
	}
	b.WriteString(highlightStyle.Render(q.QuestionText) + "\n\n")

	chosen, done := m.answered[q.QuestionID]
	for i, opt := range q.Options {
		line := fmt.Sprintf("%d. %s", i+1, opt)
		if done && opt == chosen {
			b.WriteString(selectedOptionStyle.Render("> "+line) + "\n")
		} else {
			b.WriteString(optionStyle.Render("  "+line) + "\n")
		}
	}

	remaining := q.TimeLimit - int(time.Since(m.questionSeenAt).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	b.WriteString("\n" + mutedStyle.Render(fmt.Sprintf("%ds left  •  %d points", remaining, q.Points)))

	if r := m.snap.Result; r != nil && r.QuestionID == q.QuestionID {
		b.WriteString("\n\n" + resultLine(r))
	}
	return b.String()
}

func resultLine(r *protocol.AnswerResult) string {
	if r.Correct {
		return highlightStyle.Render(fmt.Sprintf("Correct! +%d (total %d)", r.EarnedPoints, r.TotalScore))
	}
	return errorStyle.Render(fmt.Sprintf("Wrong, it was %q (total %d)", r.CorrectAnswer, r.TotalScore))
}

func (m Model) renderEnd(end *protocol.EndPayload) string {
	var b strings.Builder
	b.WriteString(subtitleStyle.Render("Battle over") + "\n\n")
	for _, r := range end.Rankings {
		line := fmt.Sprintf("%d. %-20s %4d  (%d correct)", r.Rank, r.Username, r.Score, r.CorrectAnswers)
		if r.UserID == end.WinnerID {
			line = highlightStyle.Render(line + "  winner")
		}
		b.WriteString(line + "\n")
	}
	if end.WinnerID == 0 {
		b.WriteString("\n" + mutedStyle.Render("No winner this time."))
	}
	return b.String()
}

func (m Model) renderScores() string {
	p := m.snap.Progress
	if p == nil || len(p.ParticipantProgress) == 0 {
		return mutedStyle.Render("No scores yet")
	}

	rows := make([]protocol.ParticipantProgress, 0, len(p.ParticipantProgress))
	for _, pp := range p.ParticipantProgress {
		rows = append(rows, pp)
	}
	slices.SortFunc(rows, func(a, b protocol.ParticipantProgress) int {
		if a.Score != b.Score {
			return cmp.Compare(b.Score, a.Score)
		}
		return cmp.Compare(a.UserID, b.UserID)
	})

	var b strings.Builder
	b.WriteString(highlightStyle.Render("Scores") + "\n")
	for _, r := range rows {
		tick := " "
		if r.Answered {
			tick = "✓"
		}
		fmt.Fprintf(&b, "%s %-14s %4d\n", tick, r.Username, r.Score)
	}
	return b.String()
}

func (m Model) renderNotices() string {
	if len(m.notices) == 0 {
		return ""
	}
	var b strings.Builder
	for _, n := range m.notices {
		style := mutedStyle
		switch {
		case n.Kind.Fatal():
			style = errorStyle
		case n.Kind == client.NoticeReconnecting || n.Kind == client.NoticeStateReset:
			style = warnStyle
		case n.Kind == client.NoticeServerError:
			style = errorStyle
		}
		b.WriteString(style.Render(n.At.Format("15:04:05")+" "+n.Message) + "\n")
	}
	return b.String()
}
