package main

import "github.com/charmbracelet/lipgloss"

var (
	// Palette
	primaryColor   = lipgloss.Color("#7D56F4")
	secondaryColor = lipgloss.Color("#00D7FF")
	accentColor    = lipgloss.Color("#FF00FF")
	successColor   = lipgloss.Color("#04B575")
	warningColor   = lipgloss.Color("#FFA500")
	errorColor     = lipgloss.Color("#FF4B4B")
	mutedColor     = lipgloss.Color("#666666")
	borderColor    = lipgloss.Color("#383838")
	barColor       = lipgloss.Color("#1A1A1A")
	textColor      = lipgloss.Color("#FAFAFA")

	bold = lipgloss.NewStyle().Bold(true)

	// Title bar
	headerStyle = bold.Foreground(primaryColor).Background(barColor).Padding(0, 1).MarginBottom(1)
	sourceStyle = lipgloss.NewStyle().Foreground(secondaryColor).Italic(true)
	pausedStyle = bold.Foreground(warningColor)

	// Panes: the region map has the accent border
	pane            = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	paneStyle       = pane.BorderForeground(borderColor)
	activePaneStyle = pane.BorderForeground(primaryColor)

	// Status bar
	statusStyle        = lipgloss.NewStyle().Foreground(mutedColor).Background(barColor).Padding(0, 1).MarginTop(1)
	helpStyle          = lipgloss.NewStyle().Foreground(secondaryColor)
	statusCountStyle   = bold.Foreground(primaryColor)
	statusMessageStyle = bold.Foreground(accentColor)

	// Help overlay and section titles
	helpTitleStyle  = headerStyle
	helpKeyStyle    = bold.Foreground(secondaryColor)
	helpDescStyle   = lipgloss.NewStyle().Foreground(textColor)
	modalStyle      = pane.BorderForeground(primaryColor).Padding(1, 2).Background(barColor)
	modalTitleStyle = bold.Foreground(primaryColor)

	errorStyle = bold.Foreground(errorColor)

	// Region map
	smallStyle      = lipgloss.NewStyle().Foreground(primaryColor)
	mediumStyle     = lipgloss.NewStyle().Foreground(successColor)
	largeStyle      = lipgloss.NewStyle().Foreground(accentColor)
	cachedStyle     = lipgloss.NewStyle().Foreground(secondaryColor)
	freeStyle       = lipgloss.NewStyle().Foreground(mutedColor)
	trashStyle      = lipgloss.NewStyle().Foreground(errorColor)
	pinnedStyle     = bold.Foreground(warningColor)
	reclaimingStyle = lipgloss.NewStyle().Background(lipgloss.Color("#5A1E1E"))
	cursorStyle     = lipgloss.NewStyle().Reverse(true)
)
