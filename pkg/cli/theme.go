package cli

import "github.com/charmbracelet/lipgloss"

// Theme colors the plan and diff output so adds, updates, and deletes are
// distinguishable at a glance.
type Theme struct {
	Add    lipgloss.Style
	Update lipgloss.Style
	Del    lipgloss.Style
	Dim    lipgloss.Style

	Arrow string
}

func DefaultTheme() *Theme {
	return &Theme{
		Add:    lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		Update: lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		Del:    lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		Dim:    lipgloss.NewStyle().Faint(true),
		Arrow:  "→",
	}
}
