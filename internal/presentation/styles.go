package presentation

import "github.com/charmbracelet/lipgloss"

var (
	successColor = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	warningColor = lipgloss.AdaptiveColor{Light: "#FECA57", Dark: "#FECA57"}
	errorColor   = lipgloss.AdaptiveColor{Light: "#FF6B6B", Dark: "#FF8787"}
	mutedColor   = lipgloss.AdaptiveColor{Light: "#666666", Dark: "#999999"} // suggestions, counts
	accentColor  = lipgloss.AdaptiveColor{Light: "#179299", Dark: "#94E2D5"} // module paths

	headingStyle = lipgloss.NewStyle().Bold(true)
	moduleStyle  = lipgloss.NewStyle().Foreground(accentColor)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)

	matchStyles = map[string]lipgloss.Style{
		"exact-discovery":   lipgloss.NewStyle().Foreground(successColor),
		"registry-verified": lipgloss.NewStyle().Foreground(successColor),
		"fuzzy":             lipgloss.NewStyle().Foreground(warningColor),
		"none":              lipgloss.NewStyle().Foreground(errorColor).Bold(true),
	}

	okStyle   = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
)

func matchStyle(via string) lipgloss.Style {
	if s, ok := matchStyles[via]; ok {
		return s
	}
	return mutedStyle
}
