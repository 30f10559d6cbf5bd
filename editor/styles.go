package editor

import "github.com/charmbracelet/lipgloss"

// Styles holds the lipgloss styles of the editor.
type Styles struct {
	Title       lipgloss.Style
	Label       lipgloss.Style
	ActiveLabel lipgloss.Style
	Placeholder lipgloss.Style
	Prompt      lipgloss.Style
	Muted       lipgloss.Style
	Error       lipgloss.Style
}

// DefaultStyles returns the default style configuration.
func DefaultStyles() Styles {
	return Styles{
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1),
		Label: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(8),
		ActiveLabel: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")).
			Width(8),
		Placeholder: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),
		Prompt: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("71")),
		Muted: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),
		Error: lipgloss.NewStyle().
			Foreground(lipgloss.Color("167")), // Muted red
	}
}
