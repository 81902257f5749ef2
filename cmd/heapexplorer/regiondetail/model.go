// Package regiondetail shows one region of the map in a modal.
package regiondetail

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/pkg/heapkit"
)

// Model shows detailed information about the region under the cursor
type Model struct {
	info     heapkit.RegionInfo
	addr     uintptr
	viewport viewport.Model
	width    int
	height   int
	visible  bool
}

// New creates a hidden detail model
func New() Model {
	return Model{viewport: viewport.New(0, 0)}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return nil
}

// Show displays details for a region starting at addr
func (m *Model) Show(info heapkit.RegionInfo, addr uintptr) {
	m.info = info
	m.addr = addr
	m.visible = true
	m.updateContent()
}

// Hide closes the detail view
func (m *Model) Hide() {
	m.visible = false
}

// IsVisible returns whether the detail view is currently shown
func (m *Model) IsVisible() bool {
	return m.visible
}

// Index returns the region being shown
func (m *Model) Index() int {
	return m.info.Index
}

// Update handles messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	if msg, ok := msg.(tea.WindowSizeMsg); ok {
		m.width = msg.Width
		m.height = msg.Height
		// Modal takes 60% of the screen; border and padding take 4 rows, 6 columns
		m.viewport.Width = max(int(float64(m.width)*0.6)-6, 20)
		m.viewport.Height = max(int(float64(m.height)*0.6)-4, 8)
		m.updateContent()
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) updateContent() {
	if !m.visible {
		m.viewport.SetContent("")
		return
	}
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Region %d", m.info.Index)))
	b.WriteString("\n\n")
	b.WriteString(Describe(m.info, m.addr))
	m.viewport.SetContent(b.String())
}

// Describe formats a region as plain text.
func Describe(info heapkit.RegionInfo, addr uintptr) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Index:       %d\n", info.Index)
	fmt.Fprintf(&b, "Address:     %#x\n", addr)
	if info.Head != info.Index {
		fmt.Fprintf(&b, "Run head:    %d\n", info.Head)
	}
	fmt.Fprintf(&b, "State:       %s\n", info.State)
	if info.State != heap.StateInUse && info.State != heap.StatePinned {
		return b.String()
	}
	fmt.Fprintf(&b, "Class:       %s\n", info.Class)
	fmt.Fprintf(&b, "Run size:    %s\n", humanize.IBytes(info.RunSize))
	pct := 0.0
	if info.RunSize > 0 {
		pct = float64(info.Live) * 100 / float64(info.RunSize)
	}
	fmt.Fprintf(&b, "Live:        %s (%.1f%%)\n", humanize.IBytes(info.Live), pct)
	fmt.Fprintf(&b, "Committed:   %t\n", info.Committed)
	fmt.Fprintf(&b, "Reclaiming:  %t\n", info.Reclaiming)
	fmt.Fprintf(&b, "Alloc epoch: %d\n", info.AllocEpoch)
	return b.String()
}

// View renders the detail modal
func (m Model) View() string {
	if !m.visible {
		return ""
	}
	// The overlay package handles centering, so we just render the box
	borderStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")).
		Padding(1, 2)
	return borderStyle.Render(m.viewport.View())
}
