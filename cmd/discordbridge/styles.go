package main

import "github.com/charmbracelet/lipgloss"

// Colors
var (
	primaryColor   = lipgloss.Color("39")  // Blue
	secondaryColor = lipgloss.Color("245") // Gray
	errorColor     = lipgloss.Color("196") // Red
	successColor   = lipgloss.Color("82")  // Green
	warningColor   = lipgloss.Color("214") // Orange
)

// styles are bound to the console's renderer so colour is only emitted
// when the output is a terminal.
type styles struct {
	prompt    lipgloss.Style
	assistant lipgloss.Style
	command   lipgloss.Style
	info      lipgloss.Style
	warn      lipgloss.Style
	err       lipgloss.Style
	help      lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		prompt: r.NewStyle().
			Foreground(primaryColor).
			Bold(true),
		assistant: r.NewStyle().
			Foreground(lipgloss.Color("229")), // Light yellow
		command: r.NewStyle().
			Foreground(successColor),
		info: r.NewStyle().
			Foreground(lipgloss.Color("86")), // Cyan
		warn: r.NewStyle().
			Foreground(warningColor),
		err: r.NewStyle().
			Foreground(errorColor).
			Bold(true),
		help: r.NewStyle().
			Foreground(secondaryColor).
			Italic(true),
	}
}
