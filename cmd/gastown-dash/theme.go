package main

import "github.com/charmbracelet/lipgloss"

// Theme defines the visual styling for the gastown dashboard.
type Theme struct {
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Success   lipgloss.Color
	Warning   lipgloss.Color
	Error     lipgloss.Color
	Muted     lipgloss.Color
}

// DefaultTheme returns the default theme for gastown-dash.
func DefaultTheme() Theme {
	return Theme{
		Primary:   lipgloss.Color("12"),  // Blue
		Secondary: lipgloss.Color("14"),  // Cyan
		Success:   lipgloss.Color("10"),  // Green
		Warning:   lipgloss.Color("11"),  // Yellow
		Error:     lipgloss.Color("9"),   // Red
		Muted:     lipgloss.Color("240"), // Gray
	}
}

// eventColor maps an event type to its display color.
func (t Theme) eventColor(eventType string) lipgloss.Color {
	switch eventType {
	case "closed", "review_completed":
		return t.Success
	case "escalated":
		return t.Error
	case "mail_sent":
		return t.Secondary
	case "hooked", "unhooked", "status_changed":
		return t.Warning
	default:
		return t.Primary
	}
}
