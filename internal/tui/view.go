package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dkessler/jobtalk/internal/store"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	unreadStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	selfStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	peerStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("114"))
	failedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginTop(1)
	promptStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
)

// View renders the current screen.
func (m Model) View() string {
	if m.err != nil {
		return failedStyle.Render(fmt.Sprintf("error: %v", m.err)) + "\n" +
			helpStyle.Render("q: quit")
	}
	if m.view == viewThread {
		return m.threadView()
	}
	return m.listView()
}

func (m Model) listView() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Conversations"))
	b.WriteString("\n\n")

	if len(m.summaries) == 0 {
		b.WriteString(dimStyle.Render("No conversations yet."))
		b.WriteString("\n")
	}

	for i, s := range m.summaries {
		line := s.ParticipantName
		if line == "" {
			line = s.ConversationID
		}
		if s.JobRef != "" {
			line += dimStyle.Render(" · "+s.JobRef)
		}
		if s.UnreadCount > 0 {
			line += unreadStyle.Render(fmt.Sprintf(" (%d)", s.UnreadCount))
		}
		preview := s.LastMessage.Body
		if len(preview) > 50 {
			preview = preview[:47] + "..."
		}

		if i == m.cursor {
			b.WriteString(selectedStyle.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n  " + dimStyle.Render(preview) + "\n")
	}

	b.WriteString(helpStyle.Render("↑/↓: navigate · enter: open · r: refresh · q: quit"))
	return b.String()
}

func (m Model) threadView() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.conversationID))
	b.WriteString("\n\n")

	for _, msg := range m.messages {
		glyph := deliveryGlyph(msg.DeliveryState)
		line := fmt.Sprintf("%s %s", glyph, msg.Body)
		switch {
		case msg.DeliveryState == store.DeliveryFailed:
			b.WriteString(failedStyle.Render(line))
		case msg.SenderRole == store.SenderSelf:
			b.WriteString(selfStyle.Render(line))
		default:
			b.WriteString(peerStyle.Render(line))
		}
		b.WriteString(dimStyle.Render("  " + msg.CreatedAt.Format("15:04")))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(promptStyle.Render("> "))
	b.WriteString(m.input)
	b.WriteString("█")
	b.WriteString(helpStyle.Render("\nenter: send · esc: back"))
	return b.String()
}

func deliveryGlyph(state store.DeliveryState) string {
	switch state {
	case store.DeliveryPending:
		return "○"
	case store.DeliveryConfirmed:
		return "✓"
	case store.DeliveryFailed:
		return "✗"
	}
	return "?"
}
