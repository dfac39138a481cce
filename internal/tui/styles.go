// Package tui is the terminal dashboard consuming pipeline.OutputSink
// events: one row per in-flight package, its current phase, and the last
// build-output line it produced.
package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorMuted   = lipgloss.Color("#6b7280")
	colorSuccess = lipgloss.Color("#8BC34A")
	colorError   = lipgloss.Color("#e53935")
	colorWarning = lipgloss.Color("#FFC107")
	colorInfo    = lipgloss.Color("#2196F3")
	colorBorder  = lipgloss.Color("#3a3f4b")
)

// Styles bundles the lipgloss styles the dashboard renders with.
type Styles struct {
	Header  lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style
	Body    lipgloss.Style
}

// DefaultStyles returns the dashboard's fixed style set.
func DefaultStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Underline(true),
		Bold:    lipgloss.NewStyle().Bold(true),
		Muted:   lipgloss.NewStyle().Foreground(colorMuted),
		Success: lipgloss.NewStyle().Foreground(colorSuccess),
		Error:   lipgloss.NewStyle().Foreground(colorError),
		Warning: lipgloss.NewStyle().Foreground(colorWarning),
		Info:    lipgloss.NewStyle().Foreground(colorInfo),
		Body:    lipgloss.NewStyle(),
	}
}
