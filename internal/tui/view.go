package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/capitalize-ai/campus-assistant/internal/model"
)

// View renders the whole screen.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.viewport.View(),
		m.renderFooter(),
		m.renderStatus(),
		m.input.View(),
	)
}

func (m *Model) renderMessages() string {
	width := m.viewport.Width
	if width < 20 {
		width = 20
	}
	body := lipgloss.NewStyle().Width(width - 2)

	var b strings.Builder
	for i, msg := range m.messages {
		if i > 0 {
			b.WriteString("\n")
		}
		switch msg.Role {
		case model.RoleUser:
			b.WriteString(userStyle.Render("You"))
		default:
			b.WriteString(assistantStyle.Render("Assistant"))
		}
		b.WriteString("\n")

		text := msg.Text
		if msg.Streaming {
			text += streamingCursor
		}
		rendered := body.Render(text)
		if msg.Superseded {
			rendered = supersededText.Render(rendered + " (interrupted)")
		}
		b.WriteString(rendered)
		b.WriteString("\n")

		if msg.Citation != nil {
			b.WriteString(citationStyle.Render("  ↳ " + citationLabel(*msg.Citation)))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m *Model) renderFooter() string {
	if len(m.sessionList) > 0 {
		lines := make([]string, len(m.sessionList))
		for i, s := range m.sessionList {
			lines[i] = fmt.Sprintf("%d. %s  %s", i+1, s.Title, s.ID)
		}
		return footerStyle.Render(strings.Join(lines, "\n"))
	}
	if len(m.citations) == 0 {
		return footerStyle.Render("Sources: none yet")
	}
	labels := make([]string, len(m.citations))
	for i, c := range m.citations {
		labels[i] = citationLabel(c)
	}
	return footerStyle.Render("Sources: " + strings.Join(labels, " | "))
}

func (m *Model) renderStatus() string {
	session := m.engine.SessionID()
	if session == "" {
		session = "new"
	}
	line := fmt.Sprintf("%s · session %s", m.state, session)
	if m.status != "" {
		line += " · " + m.status
	}
	if m.scroll.UserScrolling() {
		line += " · scrolled (end to follow)"
	}
	out := statusStyle.Render(line)
	if m.errText != "" {
		out += " " + errorStyle.Render(m.errText)
	}
	return out
}

func citationLabel(c model.Citation) string {
	parts := []string{c.Source}
	if c.Subject != "" {
		parts = append(parts, c.Subject)
	}
	if c.ReceivedOn != "" {
		parts = append(parts, c.ReceivedOn)
	}
	label := strings.Join(parts, " · ")
	if len(c.Attachments) > 0 {
		label += fmt.Sprintf(" (%d attachment", len(c.Attachments))
		if len(c.Attachments) > 1 {
			label += "s"
		}
		label += ")"
	}
	return label
}
