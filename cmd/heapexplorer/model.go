package main

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/joshuapare/heapkit/cmd/heapexplorer/regiondetail"
	"github.com/joshuapare/heapkit/internal/sim"
	"github.com/joshuapare/heapkit/pkg/heapkit"
)

// Layout constants
const (
	refreshInterval = 250 * time.Millisecond
	statusTimeout   = 2 * time.Second
	defaultMapCols  = 64
	statsPaneWidth  = 44
)

// Model is the main application model
type Model struct {
	heap   *heapkit.Heap
	sim    *sim.Simulation
	source string
	keys   KeyMap

	// Snapshot refreshed on every tick
	regions []heapkit.RegionInfo
	stats   heapkit.Stats
	summary sim.Summary

	cursor int
	width  int
	height int

	detail regiondetail.Model

	// Help overlay
	showHelp bool

	// Status message for temporary feedback
	statusMessage string

	err error
}

// NewModel creates a model showing h while s drives it
func NewModel(h *heapkit.Heap, s *sim.Simulation, source string) Model {
	m := Model{
		heap:   h,
		sim:    s,
		source: source,
		keys:   DefaultKeyMap(),
		detail: regiondetail.New(),
	}
	m.refresh()
	return m
}

// Init starts the refresh ticker
func (m Model) Init() tea.Cmd {
	return tick()
}

type tickMsg time.Time

type clearStatusMsg struct{}

type uncommitDoneMsg struct {
	bytes   uint64
	timeout time.Duration
}

type copiedMsg struct {
	index int
	err   error
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func clearStatusAfter() tea.Cmd {
	return tea.Tick(statusTimeout, func(time.Time) tea.Msg {
		return clearStatusMsg{}
	})
}

// refresh takes a new snapshot of the heap
func (m *Model) refresh() {
	m.regions = m.heap.Regions()
	m.stats = m.heap.Stats()
	m.summary = m.sim.Summary()
	if m.cursor >= len(m.regions) {
		m.cursor = max(len(m.regions)-1, 0)
	}
	if m.detail.IsVisible() {
		m.showDetail(m.detail.Index())
	}
}

// mapCols is the number of regions per map row for the current width
func (m Model) mapCols() int {
	if m.width == 0 {
		return defaultMapCols
	}
	return max(m.width-statsPaneWidth-6, 8)
}

func (m *Model) moveCursor(delta int) {
	m.cursor = min(max(m.cursor+delta, 0), len(m.regions)-1)
}

// current returns the region under the cursor
func (m Model) current() (heapkit.RegionInfo, bool) {
	if m.cursor < 0 || m.cursor >= len(m.regions) {
		return heapkit.RegionInfo{}, false
	}
	return m.regions[m.cursor], true
}

// addressOf returns the start address of region i
func (m Model) addressOf(i int) uintptr {
	reg := m.heap.Allocator().Registry()
	return reg.Base() + uintptr(uint64(i)*reg.RegionSize())
}

func (m *Model) showDetail(i int) {
	if i < 0 || i >= len(m.regions) {
		return
	}
	m.detail.Show(m.regions[i], m.addressOf(i))
}

// softMaxStep is the amount + and - change the soft max by
func (m Model) softMaxStep() uint64 {
	cfg := m.heap.Allocator().Config()
	step := cfg.MaxCapacity / 8
	return max(step-step%cfg.RegionSize, cfg.RegionSize)
}
