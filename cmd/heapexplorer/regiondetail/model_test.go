package regiondetail

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/pkg/heapkit"
)

func TestDescribeInUse(t *testing.T) {
	info := heapkit.RegionInfo{
		Index:      5,
		Head:       4,
		State:      heap.StateInUse,
		Class:      heap.ClassMedium,
		Committed:  true,
		RunSize:    8 * heap.MiB,
		Live:       2 * heap.MiB,
		AllocEpoch: 3,
	}
	out := Describe(info, 0x1400000)

	for _, want := range []string{"Index:       5", "Run head:    4", "0x1400000", "medium", "8.0 MiB", "2.0 MiB (25.0%)", "Alloc epoch: 3"} {
		if !strings.Contains(out, want) {
			t.Errorf("Describe missing %q\nGot: %s", want, out)
		}
	}
}

func TestDescribeFree(t *testing.T) {
	info := heapkit.RegionInfo{Index: 2, Head: 2, State: heap.StateEmptyUncommitted}
	out := Describe(info, 0)

	if strings.Contains(out, "Run head") {
		t.Errorf("a head should not report its run head\nGot: %s", out)
	}
	if strings.Contains(out, "Live") {
		t.Errorf("free regions have no live bytes\nGot: %s", out)
	}
}

func TestShowHide(t *testing.T) {
	m := New()
	if m.IsVisible() || m.View() != "" {
		t.Fatal("new model should be hidden")
	}

	m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	m.Show(heapkit.RegionInfo{Index: 7, Head: 7, State: heap.StateEmptyCommitted}, 0)
	if !m.IsVisible() || m.Index() != 7 {
		t.Fatal("Show should make the model visible")
	}
	if !strings.Contains(m.View(), "Region 7") {
		t.Errorf("view missing title\nGot: %s", m.View())
	}

	m.Hide()
	if m.View() != "" {
		t.Error("hidden model should render nothing")
	}
}
