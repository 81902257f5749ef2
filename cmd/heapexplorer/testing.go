package main

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/joshuapare/heapkit/internal/sim"
	"github.com/joshuapare/heapkit/pkg/heapkit"
)

// TestHelper drives a Model over a small fake heap without running the
// simulation
type TestHelper struct {
	model Model
	heap  *heapkit.Heap
	sim   *sim.Simulation
}

// NewTestHelper creates a helper over a 64 MiB fake heap of 4 MiB regions
// (32 regions in the map)
func NewTestHelper() (*TestHelper, error) {
	s, err := sim.New(sim.DefaultOptions())
	if err != nil {
		return nil, err
	}
	cfg := heapkit.DefaultConfig()
	cfg.MinCapacity = 0
	cfg.InitialCapacity = 0
	cfg.MaxCapacity = 64 * heapkit.MiB
	cfg.RegionSize = 4 * heapkit.MiB
	cfg.MediumRegions = 4
	cfg.UncommitEnabled = false
	cfg.AddressSpaceFactor = 2

	h, err := heapkit.New(cfg,
		heapkit.WithBackendKind("fake"),
		heapkit.WithOrchestrator(s),
		heapkit.WithPacer(s))
	if err != nil {
		return nil, err
	}
	s.Attach(h)
	return &TestHelper{model: NewModel(h, s, "test.yaml"), heap: h, sim: s}, nil
}

// Close releases the heap
func (h *TestHelper) Close() error {
	return h.heap.Close()
}

// Alloc allocates a run directly from the heap and refreshes the model
func (h *TestHelper) Alloc(size uint64) (*heapkit.Region, error) {
	r, err := h.heap.Alloc(context.Background(), size)
	if err != nil {
		return nil, err
	}
	h.model.refresh()
	return r, nil
}

// Send delivers msg and drops the returned command
func (h *TestHelper) Send(msg tea.Msg) (*TestHelper, tea.Cmd) {
	updated, cmd := h.model.Update(msg)
	h.model = updated.(Model)
	return h, cmd
}

// SendKey simulates a key press but does not execute async commands
func (h *TestHelper) SendKey(keyType tea.KeyType) *TestHelper {
	h.Send(tea.KeyMsg{Type: keyType})
	return h
}

// SendKeyRune simulates a character key press
func (h *TestHelper) SendKeyRune(r rune) *TestHelper {
	h.Send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	return h
}

// SendWindowSize simulates a window resize
func (h *TestHelper) SendWindowSize(width, height int) *TestHelper {
	h.Send(tea.WindowSizeMsg{Width: width, Height: height})
	return h
}

// GetModel returns the current model
func (h *TestHelper) GetModel() Model {
	return h.model
}

// GetView returns the rendered view
func (h *TestHelper) GetView() string {
	return h.model.View()
}

// GetCursor returns the region under the cursor
func (h *TestHelper) GetCursor() int {
	return h.model.cursor
}
