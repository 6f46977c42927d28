package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskforce/internal/events"
)

// Border styles
var (
	StyleFocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62"))

	StyleUnfocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240"))
)

// Status styles
var (
	StyleStatusRunning = lipgloss.NewStyle().
				Foreground(lipgloss.Color("yellow")).
				Bold(true)

	StyleStatusComplete = lipgloss.NewStyle().
				Foreground(lipgloss.Color("green")).
				Bold(true)

	StyleStatusFailed = lipgloss.NewStyle().
				Foreground(lipgloss.Color("red")).
				Bold(true)

	StyleStatusPending = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240"))
)

// Notification level styles
var (
	StyleLevelWarning = lipgloss.NewStyle().Foreground(lipgloss.Color("yellow"))
	StyleLevelError   = lipgloss.NewStyle().Foreground(lipgloss.Color("red"))
	StyleLevelInfo    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// UI element styles
var (
	StyleTitle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	StyleHelp = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	StyleSelected = lipgloss.NewStyle().
			Background(lipgloss.Color("62")).
			Foreground(lipgloss.Color("0"))

	StyleBanner = lipgloss.NewStyle().
			Foreground(lipgloss.Color("green")).
			Bold(true)
)

func levelStyle(level string) lipgloss.Style {
	switch level {
	case events.LevelError:
		return StyleLevelError
	case events.LevelWarning:
		return StyleLevelWarning
	}
	return StyleLevelInfo
}
