package main

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/joshuapare/heapkit/pkg/heapkit"
)

func newHelper(t *testing.T) *TestHelper {
	t.Helper()
	helper, err := NewTestHelper()
	if err != nil {
		t.Fatalf("NewTestHelper: %v", err)
	}
	t.Cleanup(func() { _ = helper.Close() })
	helper.SendWindowSize(120, 40)
	return helper
}

// TestHelpToggle tests toggling help overlay with '?'
func TestHelpToggle(t *testing.T) {
	helper := newHelper(t)

	if helper.GetModel().showHelp {
		t.Fatal("Help should not be shown initially")
	}

	helper.SendKeyRune('?')
	if !helper.GetModel().showHelp {
		t.Error("Help should be shown after pressing '?'")
	}
	if view := helper.GetView(); !strings.Contains(view, "Keyboard Shortcuts") {
		t.Errorf("Help view missing title\nGot: %s", view)
	}

	helper.SendKeyRune('?')
	if helper.GetModel().showHelp {
		t.Error("Help should be hidden after pressing '?' again")
	}
}

// TestHelpBlocksOtherKeys tests that help mode swallows commands
func TestHelpBlocksOtherKeys(t *testing.T) {
	helper := newHelper(t)

	helper.SendKeyRune('?')
	helper.SendKeyRune('p')
	if helper.sim.Paused() {
		t.Error("'p' should be ignored while help is shown")
	}

	helper.SendKey(tea.KeyEsc)
	if helper.GetModel().showHelp {
		t.Error("Help should be dismissed after Esc")
	}
}

// TestCursorMovement tests moving around the region map
func TestCursorMovement(t *testing.T) {
	helper := newHelper(t)
	last := len(helper.GetModel().regions) - 1
	if last < 1 {
		t.Fatalf("expected several regions, got %d", last+1)
	}

	tests := []struct {
		name string
		send func()
		want int
	}{
		{"right", func() { helper.SendKey(tea.KeyRight) }, 1},
		{"left", func() { helper.SendKey(tea.KeyLeft) }, 0},
		{"left clamps", func() { helper.SendKey(tea.KeyLeft) }, 0},
		{"end", func() { helper.SendKey(tea.KeyEnd) }, last},
		{"right clamps", func() { helper.SendKeyRune('l') }, last},
		{"home", func() { helper.SendKey(tea.KeyHome) }, 0},
		{"down clamps to last row", func() { helper.SendKey(tea.KeyDown) }, last},
		{"up", func() { helper.SendKey(tea.KeyUp) }, 0},
	}
	for _, tt := range tests {
		tt.send()
		if got := helper.GetCursor(); got != tt.want {
			t.Errorf("%s: cursor = %d, want %d", tt.name, got, tt.want)
		}
	}
}

// TestRunNavigation tests jumping between runs with PgUp/PgDn
func TestRunNavigation(t *testing.T) {
	helper := newHelper(t)

	first, err := helper.heap.AllocRequest(t.Context(), heapkit.Request{
		Kind: heapkit.KindMutator, Size: 8 * heapkit.MiB, Flags: heapkit.FlagLowAddress,
	})
	if err != nil {
		t.Fatalf("AllocRequest: %v", err)
	}
	helper.model.refresh()
	helper.model.cursor = first.Index()

	helper.SendKey(tea.KeyPgDown)
	next := first.Index() + first.Span()
	if got := helper.GetCursor(); got != next {
		t.Errorf("PgDn: cursor = %d, want %d", got, next)
	}

	helper.SendKey(tea.KeyPgUp)
	if got := helper.GetCursor(); got != first.Index() {
		t.Errorf("PgUp: cursor = %d, want %d", got, first.Index())
	}
}

// TestDetailOpenClose tests the region detail modal
func TestDetailOpenClose(t *testing.T) {
	helper := newHelper(t)
	r, err := helper.Alloc(4 * heapkit.MiB)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	helper.model.cursor = r.Index()

	helper.SendKey(tea.KeyEnter)
	model := helper.GetModel()
	if !model.detail.IsVisible() {
		t.Fatal("Detail should be visible after Enter")
	}
	if model.detail.Index() != r.Index() {
		t.Errorf("Detail shows region %d, want %d", model.detail.Index(), r.Index())
	}
	if view := helper.GetView(); !strings.Contains(view, "in-use") {
		t.Errorf("Detail view should show the region state\nGot: %s", view)
	}

	// Navigation keys scroll the detail instead of moving the cursor
	helper.SendKey(tea.KeyRight)
	if helper.GetCursor() != r.Index() {
		t.Error("Cursor should not move while the detail is open")
	}

	helper.SendKey(tea.KeyEsc)
	model = helper.GetModel()
	if model.detail.IsVisible() {
		t.Error("Detail should be hidden after Esc")
	}
}

// TestPauseToggle tests pausing and resuming the mutators
func TestPauseToggle(t *testing.T) {
	helper := newHelper(t)

	helper.SendKeyRune('p')
	if !helper.sim.Paused() {
		t.Error("Mutators should be paused after 'p'")
	}
	if !strings.Contains(helper.GetView(), "PAUSED") {
		t.Error("Header should show PAUSED")
	}
	if msg := helper.GetModel().statusMessage; msg != "Mutators paused" {
		t.Errorf("status = %q", msg)
	}

	helper.SendKey(tea.KeySpace)
	if helper.sim.Paused() {
		t.Error("Mutators should resume after space")
	}
}

// TestSoftMaxKeys tests raising and lowering the soft max capacity
func TestSoftMaxKeys(t *testing.T) {
	helper := newHelper(t)
	softMax := helper.GetModel().stats.Capacity.SoftMax
	if softMax != 64*heapkit.MiB {
		t.Fatalf("initial soft max = %d", softMax)
	}

	helper.SendKeyRune('-')
	if got := helper.GetModel().stats.Capacity.SoftMax; got != 56*heapkit.MiB {
		t.Errorf("after '-': soft max = %d, want %d", got, 56*heapkit.MiB)
	}

	helper.SendKeyRune('+')
	helper.SendKeyRune('+')
	if got := helper.GetModel().stats.Capacity.SoftMax; got != softMax {
		t.Errorf("'+' should stop at the max capacity, got %d", got)
	}
}

// TestVerifyKey tests running the heap checks from the UI
func TestVerifyKey(t *testing.T) {
	helper := newHelper(t)
	if _, err := helper.Alloc(4 * heapkit.MiB); err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	helper.SendKeyRune('v')
	if msg := helper.GetModel().statusMessage; msg != "Verify: ok" {
		t.Errorf("status = %q, want %q", msg, "Verify: ok")
	}

	helper.Send(clearStatusMsg{})
	if msg := helper.GetModel().statusMessage; msg != "" {
		t.Errorf("status should clear, got %q", msg)
	}
}

// TestUncommitKey tests that 'u' runs the uncommit pass as a command
func TestUncommitKey(t *testing.T) {
	helper := newHelper(t)

	_, cmd := helper.Send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'u'}})
	if cmd == nil {
		t.Fatal("'u' should return a command")
	}
	result := cmd()
	msg, ok := result.(uncommitDoneMsg)
	if !ok {
		t.Fatalf("command returned %T, want uncommitDoneMsg", result)
	}

	helper.Send(msg)
	if status := helper.GetModel().statusMessage; !strings.HasPrefix(status, "Nothing to uncommit") && !strings.HasPrefix(status, "Uncommitted") {
		t.Errorf("unexpected status %q", status)
	}
}

// TestCopyResult tests the status shown after a clipboard write
func TestCopyResult(t *testing.T) {
	helper := newHelper(t)

	helper.Send(copiedMsg{index: 3})
	if msg := helper.GetModel().statusMessage; msg != "Copied region 3" {
		t.Errorf("status = %q", msg)
	}
}

// TestQuit tests that 'q' quits from the main view
func TestQuit(t *testing.T) {
	helper := newHelper(t)

	_, cmd := helper.Send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("'q' should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("'q' should quit")
	}
}

// TestMainViewRendering tests the main view layout
func TestMainViewRendering(t *testing.T) {
	helper := newHelper(t)
	if _, err := helper.Alloc(4 * heapkit.MiB); err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	view := helper.GetView()
	for _, want := range []string{"Region Heap Explorer", "Config: test.yaml", "Regions (", "Simulation", "Capacity", "used"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}
