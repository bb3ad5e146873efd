package tui

import "github.com/charmbracelet/lipgloss"

var (
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	citationStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	supersededText = lipgloss.NewStyle().Faint(true)
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("7")).Background(lipgloss.Color("236")).Padding(0, 1)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	footerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).BorderTop(true).BorderStyle(lipgloss.NormalBorder())
)

const streamingCursor = "▍"
