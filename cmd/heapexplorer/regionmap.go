package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/pkg/heapkit"
)

// Glyphs for the region map. In-use runs are shaded by live fraction.
const (
	glyphFree    = "·"
	glyphCached  = "○"
	glyphTrash   = "×"
	glyphPinned  = "◆"
	glyphPending = "+"
)

var liveGlyphs = [...]string{"□", "░", "▒", "▓", "█"}

// liveGlyph shades a run from empty to full in quarters.
func liveGlyph(live, size uint64) string {
	if size == 0 || live == 0 {
		return liveGlyphs[0]
	}
	q := int(live * 4 / size)
	return liveGlyphs[min(q, 3)+1]
}

func classStyle(c heap.SizeClass) lipgloss.Style {
	switch c {
	case heap.ClassMedium:
		return mediumStyle
	case heap.ClassLarge:
		return largeStyle
	default:
		return smallStyle
	}
}

// cell returns the glyph and style of one region.
func cell(info heapkit.RegionInfo) (string, lipgloss.Style) {
	var (
		glyph string
		style lipgloss.Style
	)
	switch info.State {
	case heap.StateEmptyUncommitted:
		glyph, style = glyphFree, freeStyle
	case heap.StateEmptyCommitted:
		glyph, style = glyphCached, cachedStyle
	case heap.StateTrash:
		glyph, style = glyphTrash, trashStyle
	case heap.StatePinned:
		glyph, style = glyphPinned, pinnedStyle
	default:
		style = classStyle(info.Class)
		if info.Committed {
			glyph = liveGlyph(info.Live, info.RunSize)
		} else {
			glyph = glyphPending
		}
	}
	if info.Reclaiming {
		style = style.Inherit(reclaimingStyle)
	}
	return glyph, style
}

// renderRegionMap draws cols regions per row and highlights the cursor.
func renderRegionMap(regions []heapkit.RegionInfo, cols, cursor int) string {
	cols = max(cols, 1)
	var b strings.Builder
	for i, info := range regions {
		if i > 0 && i%cols == 0 {
			b.WriteString("\n")
		}
		glyph, style := cell(info)
		if i == cursor {
			style = style.Inherit(cursorStyle)
		}
		b.WriteString(style.Render(glyph))
	}
	return b.String()
}

// renderLegend explains the glyphs.
func renderLegend() string {
	items := []string{
		freeStyle.Render(glyphFree) + " free",
		cachedStyle.Render(glyphCached) + " cached",
		smallStyle.Render(liveGlyphs[4]) + " small",
		mediumStyle.Render(liveGlyphs[4]) + " medium",
		largeStyle.Render(liveGlyphs[4]) + " large",
		pinnedStyle.Render(glyphPinned) + " pinned",
		trashStyle.Render(glyphTrash) + " trash",
		liveGlyphs[0] + liveGlyphs[2] + liveGlyphs[4] + " live",
	}
	return strings.Join(items, "  ")
}

// runStart returns the head index of the run after (dir > 0) or before
// (dir < 0) the run containing i.
func runStart(regions []heapkit.RegionInfo, i, dir int) int {
	if len(regions) == 0 {
		return 0
	}
	head := regions[i].Head
	if dir > 0 {
		for j := i + 1; j < len(regions); j++ {
			if regions[j].Head != head {
				return j
			}
		}
		return i
	}
	if head > 0 {
		return regions[head-1].Head
	}
	return head
}
