package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	overlay "github.com/rmhubbert/bubbletea-overlay"

	"github.com/joshuapare/heapkit/heap/printer"
)

// View renders the entire UI
func (m Model) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if m.showHelp {
		return m.renderHelpOverlay()
	}

	// The overlay is rebuilt each render because Update returns copies of m
	if m.detail.IsVisible() {
		mainView := NewMainViewModel(&m)
		detailOverlay := overlay.New(
			&m.detail,
			mainView,
			overlay.Center,
			overlay.Center,
			0,
			0,
		)
		return detailOverlay.View()
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		m.renderHeader(),
		m.renderContent(),
		m.renderStatus(),
	)
}

// renderHeader renders the title, the config source and the pause marker
func (m Model) renderHeader() string {
	parts := []string{
		headerStyle.Render("Region Heap Explorer"),
		"  ",
		sourceStyle.Render(fmt.Sprintf("Config: %s", m.source)),
	}
	if m.sim.Paused() {
		parts = append(parts, "  ", pausedStyle.Render("PAUSED"))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

// renderContent renders the region map beside the stats pane
func (m Model) renderContent() string {
	cols := m.mapCols()
	paneHeight := max(m.height-5, 5)

	mapTitle := fmt.Sprintf("Regions (%d)", len(m.regions))
	if info, ok := m.current(); ok {
		mapTitle = fmt.Sprintf("Regions (%d) [%d, run %d]", len(m.regions), m.cursor, info.Head)
	}
	mapContent := lipgloss.JoinVertical(
		lipgloss.Left,
		mapTitle,
		renderRegionMap(m.regions, cols, m.cursor),
		"",
		renderLegend(),
	)
	mapBox := activePaneStyle.
		Width(cols + 2).
		Height(paneHeight).
		Render(mapContent)

	statsBox := paneStyle.
		Width(statsPaneWidth).
		Height(paneHeight).
		Render(m.renderStats())

	return lipgloss.JoinHorizontal(lipgloss.Top, mapBox, statsBox)
}

// renderStats renders the simulation counters followed by the heap snapshot
func (m Model) renderStats() string {
	s := m.summary
	var b strings.Builder
	b.WriteString(modalTitleStyle.Render("Simulation"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "  workers:      %d\n", s.Workers)
	fmt.Fprintf(&b, "  allocations:  %s (%s)\n", humanize.Comma(int64(s.Allocations)), humanize.IBytes(s.AllocatedBytes))
	fmt.Fprintf(&b, "  cycles:       %d\n", s.Cycles)
	fmt.Fprintf(&b, "  evacuated:    %d runs\n", s.Evacuated)
	fmt.Fprintf(&b, "  relocated:    %s\n", humanize.IBytes(s.RelocatedBytes))
	fmt.Fprintf(&b, "  objects:      %d\n", s.Objects)
	fmt.Fprintf(&b, "  out of mem:   %d\n", s.OutOfMemory)

	opts := printer.DefaultOptions()
	opts.IndentSize = 1
	if err := printer.New(&b, opts).PrintStats(m.stats); err != nil {
		fmt.Fprintf(&b, "stats: %v\n", err)
	}
	return b.String()
}

// renderStatus renders the status bar with help text
func (m Model) renderStatus() string {
	if m.statusMessage != "" {
		return statusStyle.Width(m.width).Render(statusMessageStyle.Render(m.statusMessage))
	}

	var help []string
	if m.detail.IsVisible() {
		help = []string{"ESC: Close Detail", "↑/↓: Scroll", "y: Copy", "q: Quit"}
	} else {
		help = []string{"←↑↓→: Move", "Enter: Details", "p: Pause", "c: Collect", "u: Uncommit", "+/-: Soft max", "?: Help", "q: Quit"}
	}
	rendered := make([]string, len(help))
	for i, h := range help {
		rendered[i] = helpStyle.Render(h)
	}

	c := m.stats.Capacity
	counts := statusCountStyle.Render(humanize.IBytes(c.Used)) + " used │ " +
		statusCountStyle.Render(humanize.IBytes(c.Committed)) + " committed │ " +
		statusCountStyle.Render(humanize.IBytes(c.CurrentMax)) + " max"

	return statusStyle.Width(m.width).Render(strings.Join(rendered, " │ ") + "   " + counts)
}

// renderHelpOverlay renders the help overlay
func (m Model) renderHelpOverlay() string {
	var b strings.Builder
	b.WriteString(helpTitleStyle.Render("Keyboard Shortcuts"))
	b.WriteString("\n\n")

	const keyWidth = 12
	for i, section := range m.keys.helpSections() {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(modalTitleStyle.Render(section.title))
		b.WriteString("\n")
		for _, binding := range section.bindings {
			b.WriteString(helpLine(keyWidth, binding))
		}
	}
	b.WriteString("\n")
	b.WriteString(helpDescStyle.Render("Press ? or Esc to close"))

	box := modalStyle.Render(b.String())
	if m.width == 0 || m.height == 0 {
		return box
	}
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}

func helpLine(width int, b key.Binding) string {
	h := b.Help()
	return helpKeyStyle.Width(width).Render(h.Key) + "  " + helpDescStyle.Render(h.Desc) + "\n"
}
