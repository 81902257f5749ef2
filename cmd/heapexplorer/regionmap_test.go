package main

import (
	"strings"
	"testing"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/pkg/heapkit"
)

func TestLiveGlyph(t *testing.T) {
	tests := []struct {
		live, size uint64
		want       string
	}{
		{0, 100, "□"},
		{10, 100, "░"},
		{30, 100, "▒"},
		{60, 100, "▓"},
		{100, 100, "█"},
		{5, 0, "□"},
	}
	for _, tt := range tests {
		if got := liveGlyph(tt.live, tt.size); got != tt.want {
			t.Errorf("liveGlyph(%d, %d) = %q, want %q", tt.live, tt.size, got, tt.want)
		}
	}
}

func TestCellGlyphs(t *testing.T) {
	tests := []struct {
		name string
		info heapkit.RegionInfo
		want string
	}{
		{"free", heapkit.RegionInfo{State: heap.StateEmptyUncommitted}, glyphFree},
		{"cached", heapkit.RegionInfo{State: heap.StateEmptyCommitted, Committed: true}, glyphCached},
		{"trash", heapkit.RegionInfo{State: heap.StateTrash}, glyphTrash},
		{"pinned", heapkit.RegionInfo{State: heap.StatePinned, Committed: true}, glyphPinned},
		{"pending", heapkit.RegionInfo{State: heap.StateInUse, RunSize: 4 * heap.MiB}, glyphPending},
		{"full", heapkit.RegionInfo{State: heap.StateInUse, Committed: true, RunSize: 4 * heap.MiB, Live: 4 * heap.MiB}, "█"},
	}
	for _, tt := range tests {
		if got, _ := cell(tt.info); got != tt.want {
			t.Errorf("%s: glyph = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestRenderRegionMap(t *testing.T) {
	regions := make([]heapkit.RegionInfo, 5)
	for i := range regions {
		regions[i] = heapkit.RegionInfo{Index: i, Head: i, State: heap.StateEmptyUncommitted}
	}

	out := renderRegionMap(regions, 2, 0)
	if rows := strings.Count(out, "\n") + 1; rows != 3 {
		t.Errorf("expected 3 rows, got %d\n%s", rows, out)
	}
	if n := strings.Count(out, glyphFree); n != 5 {
		t.Errorf("expected 5 free glyphs, got %d", n)
	}

	if out := renderRegionMap(nil, 0, 0); out != "" {
		t.Errorf("empty map should render nothing, got %q", out)
	}
}

func TestRunStart(t *testing.T) {
	// Runs: [0 1] [2] [3 4 5]
	heads := []int{0, 0, 2, 3, 3, 3}
	regions := make([]heapkit.RegionInfo, len(heads))
	for i, h := range heads {
		regions[i] = heapkit.RegionInfo{Index: i, Head: h}
	}

	tests := []struct {
		i, dir, want int
	}{
		{0, 1, 2},
		{1, 1, 2},
		{2, 1, 3},
		{4, 1, 4},
		{4, -1, 2},
		{2, -1, 0},
		{1, -1, 0},
	}
	for _, tt := range tests {
		if got := runStart(regions, tt.i, tt.dir); got != tt.want {
			t.Errorf("runStart(%d, %d) = %d, want %d", tt.i, tt.dir, got, tt.want)
		}
	}
	if got := runStart(nil, 0, 1); got != 0 {
		t.Errorf("runStart on no regions = %d", got)
	}
}

func TestRenderLegend(t *testing.T) {
	legend := renderLegend()
	for _, want := range []string{"free", "cached", "small", "medium", "large", "pinned", "trash", "live"} {
		if !strings.Contains(legend, want) {
			t.Errorf("legend missing %q", want)
		}
	}
}
