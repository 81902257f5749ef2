// Package selector chooses which regions a collection cycle reclaims.
//
// Empty regions are always reclaimed. Small and medium regions whose garbage
// exceeds the fragmentation limit become candidates; candidates are
// semi-sorted by live bytes and the longest prefix whose marginal gain still
// exceeds the limit is selected. Large regions are only reclaimed when empty
// and pinned regions are never considered.
//
// Ties between regions with equal live bytes are broken by ascending region
// index.
package selector

import (
	"log/slog"
	"math"
	"slices"
	"sort"

	"github.com/dustin/go-humanize"

	"github.com/joshuapare/heapkit/heap"
)

const (
	// The semi-sort uses npartitions live-byte buckets.
	npartitionsShift = 11
	npartitions      = 1 << npartitionsShift
)

// Config describes the heap geometry the selector works with.
type Config struct {
	RegionSize         uint64
	MediumRegions      int
	FragmentationLimit float64
	Logger             *slog.Logger

	// Epoch is the current collection epoch. Runs handed out in it or later
	// are still being filled and are skipped. Zero disables the check.
	Epoch uint64
}

// FromHeap derives a selector Config from the heap configuration.
func FromHeap(c heap.Config) Config {
	return Config{
		RegionSize:         c.RegionSize,
		MediumRegions:      c.MediumRegions,
		FragmentationLimit: c.FragmentationLimit,
		Logger:             c.Logger,
	}
}

func (c Config) classSize(class heap.SizeClass) uint64 {
	if class == heap.ClassMedium {
		return c.RegionSize * uint64(c.MediumRegions)
	}
	return c.RegionSize
}

// GroupStats summarizes one size class.
type GroupStats struct {
	Candidates    int    `json:"candidates"`
	Selected      int    `json:"selected"`
	Total         uint64 `json:"total"`
	Live          uint64 `json:"live"`
	Empty         uint64 `json:"empty"`
	SelectedBytes uint64 `json:"selected_bytes"`
	Relocate      uint64 `json:"relocate"`
}

// Garbage returns the bytes not found live in the class.
func (s GroupStats) Garbage() uint64 { return s.Total - s.Live }

// Reclaimable returns the bytes freed when the set is evacuated: every empty
// region plus the garbage of the selected regions.
func (s GroupStats) Reclaimable() uint64 { return s.Empty + s.SelectedBytes - s.Relocate }

func (s *GroupStats) add(o GroupStats) {
	s.Candidates += o.Candidates
	s.Selected += o.Selected
	s.Total += o.Total
	s.Live += o.Live
	s.Empty += o.Empty
	s.SelectedBytes += o.SelectedBytes
	s.Relocate += o.Relocate
}

// Group is the selection state of one size class.
type Group struct {
	class       heap.SizeClass
	classSize   uint64
	objectLimit uint64
	fragLimit   float64

	candidates []*heap.Region
	nempty     int
	selected   []*heap.Region
	stats      GroupStats
}

func newGroup(class heap.SizeClass, cfg Config) *Group {
	size := cfg.classSize(class)
	return &Group{
		class:       class,
		classSize:   size,
		objectLimit: size / 8,
		fragLimit:   cfg.FragmentationLimit,
	}
}

// Class returns the size class of the group.
func (g *Group) Class() heap.SizeClass { return g.class }

// Regions returns the selected regions, ordered by ascending live bytes.
func (g *Group) Regions() []*heap.Region { return g.selected }

// Stats returns the group statistics.
func (g *Group) Stats() GroupStats { return g.stats }

func (g *Group) registerLive(r *heap.Region) {
	size := r.Size()
	live := r.LiveBytes()
	g.stats.Total += size
	g.stats.Live += live

	if g.class == heap.ClassLarge {
		return
	}
	garbage := size - live
	if float64(garbage) > float64(size)*g.fragLimit/100 {
		g.candidates = append(g.candidates, r)
		g.stats.Candidates++
	}
}

func (g *Group) registerEmpty(r *heap.Region) {
	g.stats.Total += r.Size()
	g.stats.Empty += r.Size()
	g.nempty++
}

// semiSort orders candidates by live bytes using npartitions buckets. It is
// stable, so candidates of equal bucket keep their index order.
func (g *Group) semiSort() {
	partition := g.classSize / npartitions
	if partition == 0 {
		partition = 1
	}
	bucket := func(r *heap.Region) int {
		return int(min(r.LiveBytes()/partition, npartitions-1))
	}

	var counts [npartitions + 1]int
	for _, r := range g.candidates {
		counts[bucket(r)+1]++
	}
	for i := 1; i <= npartitions; i++ {
		counts[i] += counts[i-1]
	}
	sorted := make([]*heap.Region, len(g.candidates))
	for _, r := range g.candidates {
		b := bucket(r)
		sorted[counts[b]] = r
		counts[b]++
	}
	g.candidates = sorted
}

// selectInner grows the set one candidate at a time and keeps the longest
// prefix whose reclaimable difference against the last kept prefix exceeds the
// fragmentation limit. Empty regions of the class count as zero-live sources
// ahead of the candidates.
func (g *Group) selectInner() {
	sort.SliceStable(g.candidates, func(i, j int) bool {
		return g.candidates[i].Index() < g.candidates[j].Index()
	})
	g.semiSort()

	var (
		selectedFrom int
		selectedTo   int
		keep         int
		fromLive     uint64
	)
	dest := float64(g.classSize - g.objectLimit)
	for i, r := range g.candidates {
		fromLive += r.LiveBytes()
		from := g.nempty + i + 1
		to := int(math.Ceil(float64(fromLive) / dest))

		diffFrom := from - selectedFrom
		diffTo := to - selectedTo
		diffReclaimable := 100 - float64(diffTo)*100/float64(diffFrom)
		if diffReclaimable > g.fragLimit {
			selectedFrom = from
			selectedTo = to
			keep = i + 1
		}
	}

	g.selected = g.candidates[:keep]
	g.stats.Selected = keep
	for _, r := range g.selected {
		g.stats.SelectedBytes += r.Size()
		g.stats.Relocate += r.LiveBytes()
	}
}

// Selector accumulates one cycle's regions and produces a ReclamationSet.
type Selector struct {
	cfg    Config
	log    *slog.Logger
	groups [heap.NumClasses]*Group
	empty  []*heap.Region
	pinned int
	fresh  int
}

// New returns a Selector for one cycle.
func New(cfg Config) *Selector {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	s := &Selector{cfg: cfg, log: log}
	for c := range s.groups {
		s.groups[c] = newGroup(heap.SizeClass(c), cfg)
	}
	return s
}

// Register offers the run headed by r. Only committed in-use and pinned runs
// are considered; anything else is ignored.
func (s *Selector) Register(r *heap.Region) {
	switch {
	case !r.IsHead():
		return
	case r.State() == heap.StatePinned:
		s.pinned++
		return
	case r.State() != heap.StateInUse || !r.Committed():
		return
	case s.cfg.Epoch != 0 && r.AllocEpoch() >= s.cfg.Epoch:
		s.fresh++
		return
	}
	g := s.groups[r.Class()]
	if r.LiveBytes() == 0 {
		g.registerEmpty(r)
		s.empty = append(s.empty, r)
		return
	}
	g.registerLive(r)
}

// Select finishes the cycle's selection.
func (s *Selector) Select() *ReclamationSet {
	set := &ReclamationSet{pinned: s.pinned, fresh: s.fresh}
	sort.SliceStable(s.empty, func(i, j int) bool { return s.empty[i].Index() < s.empty[j].Index() })
	set.empty = s.empty
	for _, g := range s.groups {
		g.selectInner()
		set.groups[g.class] = g
		set.stats.add(g.stats)
	}
	s.log.Debug("reclamation set selected",
		"empty", len(set.empty),
		"selected", set.stats.Selected,
		"candidates", set.stats.Candidates,
		"pinned", set.pinned,
		"fresh", set.fresh,
		"relocate", humanize.IBytes(set.stats.Relocate),
		"reclaimable", humanize.IBytes(set.stats.Reclaimable()))
	return set
}

// ReclamationSet is the output of one selection.
type ReclamationSet struct {
	empty  []*heap.Region
	groups [heap.NumClasses]*Group
	stats  GroupStats
	pinned int
	fresh  int
}

// Empty returns the regions with no live bytes, in index order.
func (s *ReclamationSet) Empty() []*heap.Region { return s.empty }

// Group returns the selection of one class.
func (s *ReclamationSet) Group(class heap.SizeClass) *Group { return s.groups[class] }

// Relocate returns the selected live regions ordered by size class, small first.
func (s *ReclamationSet) Relocate() []*heap.Region {
	var out []*heap.Region
	for _, g := range s.groups {
		if g != nil {
			out = append(out, g.selected...)
		}
	}
	return out
}

// Stats returns the statistics summed over all classes.
func (s *ReclamationSet) Stats() GroupStats { return s.stats }

// Pinned returns the number of pinned runs that were skipped.
func (s *ReclamationSet) Pinned() int { return s.pinned }

// Fresh returns the number of runs skipped because they were handed out in
// the current epoch.
func (s *ReclamationSet) Fresh() int { return s.fresh }

// IsEmpty reports whether the set reclaims nothing.
func (s *ReclamationSet) IsEmpty() bool {
	return len(s.empty) == 0 && s.stats.Selected == 0
}

// Remove drops r from the set after it was reclaimed on its own and reports
// whether it was a member. Slices returned earlier are left untouched.
func (s *ReclamationSet) Remove(r *heap.Region) bool {
	if i := slices.Index(s.empty, r); i >= 0 {
		s.empty = append(s.empty[:i:i], s.empty[i+1:]...)
		return true
	}
	for _, g := range s.groups {
		if g == nil {
			continue
		}
		if i := slices.Index(g.selected, r); i >= 0 {
			g.selected = append(g.selected[:i:i], g.selected[i+1:]...)
			return true
		}
	}
	return false
}

// Each calls fn for every region in the set, empty regions first.
func (s *ReclamationSet) Each(fn func(*heap.Region)) {
	for _, r := range s.empty {
		fn(r)
	}
	for _, r := range s.Relocate() {
		fn(r)
	}
}
