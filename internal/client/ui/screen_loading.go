package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// updateLoading handles loading screen updates
func (m Model) updateLoading(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc", "q":
		return m, tea.Quit
	}
	return m, nil
}

// viewLoading renders the joining screen, and the dead end after a fatal notice
func (m Model) viewLoading() string {
	// Title
	title := titleStyle.Render("QUIZ BATTLE")
	subtitle := subtitleStyle.Render(fmt.Sprintf("Joining battle %d...", m.roomID))

	// Animated loading dots
	dots := strings.Repeat(".", m.loadingDots)
	spinner := spinnerStyle.Render("◐◓◑◒"[m.loadingDots%4 : m.loadingDots%4+1])
	loadingText := lipgloss.NewStyle().
		Foreground(mutedColor).
		Render("Establishing connection" + dots)

	status := spinner + " " + loadingText

	// Error message if joining failed or the link is gone
	var errorMsg string
	if notice, ok := m.lastFatal(); ok {
		status = ""
		errorMsg = errorStyle.Render("\n\n✗ " + notice.Message)
	} else if m.err != nil {
		status = ""
		errorMsg = errorStyle.Render("\n\n✗ " + m.err.Error())
	}
	if errorMsg != "" {
		errorMsg += mutedStyle.Render("\nPress ESC to quit")
	}

	// Main content
	mainContent := lipgloss.JoinVertical(
		lipgloss.Center,
		title,
		subtitle,
		"\n\n",
		status,
		errorMsg,
	)

	// Instructions at bottom
	instructions := instructionStyle.Render(
		mutedStyle.Render("Connecting to ") + highlightStyle.Render(m.serverURL) + "  •  " +
			mutedStyle.Render("ESC to quit"))

	// Layout
	centeredMain := lipgloss.Place(m.width, m.height-5, lipgloss.Center, lipgloss.Center, mainContent)
	bottomInstructions := lipgloss.Place(m.width, 3, lipgloss.Center, lipgloss.Bottom, instructions)

	return centeredMain + "\n" + bottomInstructions
}
