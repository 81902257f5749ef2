package main

import (
	"fmt"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/joshuapare/heapkit/cmd/heapexplorer/regiondetail"
	"github.com/joshuapare/heapkit/internal/logger"
	"github.com/joshuapare/heapkit/pkg/heapkit"
)

// Update handles all messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		model, cmd := (&m.detail).Update(msg)
		m.detail = *model.(*regiondetail.Model)
		return m, cmd

	case tickMsg:
		m.refresh()
		return m, tick()

	case clearStatusMsg:
		m.statusMessage = ""
		return m, nil

	case uncommitDoneMsg:
		if msg.bytes == 0 {
			m.statusMessage = fmt.Sprintf("Nothing to uncommit (next in %s)", msg.timeout)
		} else {
			m.statusMessage = fmt.Sprintf("Uncommitted %s", humanize.IBytes(msg.bytes))
		}
		m.refresh()
		return m, clearStatusAfter()

	case copiedMsg:
		if msg.err != nil {
			logger.L.Warn("clipboard write failed", "error", msg.err)
			m.statusMessage = fmt.Sprintf("Copy failed: %v", msg.err)
		} else {
			m.statusMessage = fmt.Sprintf("Copied region %d", msg.index)
		}
		return m, clearStatusAfter()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// If help is showing, handle help keys
	if m.showHelp {
		if key.Matches(msg, m.keys.Esc) || key.Matches(msg, m.keys.Help) || key.Matches(msg, m.keys.Quit) {
			m.showHelp = false
		}
		return m, nil
	}

	// If detail view is open, handle its keys
	if m.detail.IsVisible() {
		switch {
		case key.Matches(msg, m.keys.Esc), key.Matches(msg, m.keys.Enter):
			m.detail.Hide()
			return m, nil
		case key.Matches(msg, m.keys.Copy):
			return m, m.copyRegion(m.detail.Index())
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Up), key.Matches(msg, m.keys.Down),
			key.Matches(msg, m.keys.PageUp), key.Matches(msg, m.keys.PageDown):
			model, cmd := (&m.detail).Update(msg)
			m.detail = *model.(*regiondetail.Model)
			return m, cmd
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.showHelp = true

	case key.Matches(msg, m.keys.Left):
		m.moveCursor(-1)
	case key.Matches(msg, m.keys.Right):
		m.moveCursor(1)
	case key.Matches(msg, m.keys.Up):
		m.moveCursor(-m.mapCols())
	case key.Matches(msg, m.keys.Down):
		m.moveCursor(m.mapCols())
	case key.Matches(msg, m.keys.PageUp):
		m.cursor = runStart(m.regions, m.cursor, -1)
	case key.Matches(msg, m.keys.PageDown):
		m.cursor = runStart(m.regions, m.cursor, 1)
	case key.Matches(msg, m.keys.Home):
		m.cursor = 0
	case key.Matches(msg, m.keys.End):
		m.cursor = max(len(m.regions)-1, 0)

	case key.Matches(msg, m.keys.Enter):
		m.showDetail(m.cursor)

	case key.Matches(msg, m.keys.Copy):
		return m, m.copyRegion(m.cursor)

	case key.Matches(msg, m.keys.Pause):
		paused := !m.sim.Paused()
		m.sim.Pause(paused)
		if paused {
			m.statusMessage = "Mutators paused"
		} else {
			m.statusMessage = "Mutators resumed"
		}
		return m, clearStatusAfter()

	case key.Matches(msg, m.keys.Collect):
		m.sim.RequestCollection(heapkit.CauseExplicit)
		m.statusMessage = "Collection requested"
		return m, clearStatusAfter()

	case key.Matches(msg, m.keys.Uncommit):
		h := m.heap
		m.statusMessage = "Uncommitting..."
		return m, func() tea.Msg {
			n, timeout := h.Uncommit()
			return uncommitDoneMsg{bytes: n, timeout: timeout}
		}

	case key.Matches(msg, m.keys.SoftUp):
		return m.setSoftMax(int64(m.softMaxStep()))
	case key.Matches(msg, m.keys.SoftDown):
		return m.setSoftMax(-int64(m.softMaxStep()))

	case key.Matches(msg, m.keys.Verify):
		if err := m.heap.Verify(); err != nil {
			logger.L.Error("heap verification failed", "error", err)
			m.statusMessage = fmt.Sprintf("Verify: %v", err)
		} else {
			m.statusMessage = "Verify: ok"
		}
		return m, clearStatusAfter()
	}
	return m, nil
}

func (m Model) setSoftMax(delta int64) (tea.Model, tea.Cmd) {
	cfg := m.heap.Allocator().Config()
	cur := int64(m.stats.Capacity.SoftMax)
	next := uint64(min(max(cur+delta, int64(cfg.RegionSize)), int64(cfg.MaxCapacity)))
	if err := m.heap.SetSoftMaxCapacity(next); err != nil {
		m.statusMessage = err.Error()
	} else {
		m.statusMessage = fmt.Sprintf("Soft max %s", humanize.IBytes(next))
	}
	m.refresh()
	return m, clearStatusAfter()
}

// copyRegion copies the description of region i to the system clipboard
func (m Model) copyRegion(i int) tea.Cmd {
	if i < 0 || i >= len(m.regions) {
		return nil
	}
	text := regiondetail.Describe(m.regions[i], m.addressOf(i))
	return func() tea.Msg {
		return copiedMsg{index: i, err: clipboard.WriteAll(text)}
	}
}
