package heap

import (
	"fmt"
	"math/bits"
)

// Registry owns the fixed array of region descriptors spanning the reserved range.
//
// Lookups are O(1). Run-structure helpers (MakeRun, Split, Dissolve) are used by
// the allocator and cache while holding the heap lock.
type Registry struct {
	base          uintptr
	regionSize    uint64
	shift         uint
	mediumRegions int
	regions       []Region
}

// NewRegistry creates descriptors for count regions starting at base.
// regionSize must be a power of two.
func NewRegistry(base uintptr, regionSize uint64, count, mediumRegions int) (*Registry, error) {
	if regionSize == 0 || regionSize&(regionSize-1) != 0 {
		return nil, fmt.Errorf("region size %d is not a power of two: %w", regionSize, ErrInvalidConfig)
	}
	if count <= 0 {
		return nil, fmt.Errorf("region count %d: %w", count, ErrInvalidConfig)
	}
	reg := &Registry{
		base:          base,
		regionSize:    regionSize,
		shift:         uint(bits.TrailingZeros64(regionSize)),
		mediumRegions: mediumRegions,
		regions:       make([]Region, count),
	}
	for i := range reg.regions {
		r := &reg.regions[i]
		r.index = i
		r.start = base + uintptr(uint64(i)<<reg.shift)
		r.regionSize = regionSize
		r.head = i
		r.span = 1
		r.class = ClassSmall
		r.state = StateEmptyUncommitted
	}
	return reg, nil
}

// Len returns the number of regions.
func (g *Registry) Len() int { return len(g.regions) }

// Base returns the first reserved address.
func (g *Registry) Base() uintptr { return g.base }

// RegionSize returns the size of a single region.
func (g *Registry) RegionSize() uint64 { return g.regionSize }

// MediumRegions returns the run length of medium allocations.
func (g *Registry) MediumRegions() int { return g.mediumRegions }

// ReservedBytes returns the size of the reserved range.
func (g *Registry) ReservedBytes() uint64 { return uint64(len(g.regions)) * g.regionSize }

// At returns the region with the given index.
func (g *Registry) At(index int) *Region { return &g.regions[index] }

// Containing returns the region that contains addr.
func (g *Registry) Containing(addr uintptr) (*Region, error) {
	if addr < g.base {
		return nil, ErrNotFound
	}
	idx := uint64(addr-g.base) >> g.shift
	if idx >= uint64(len(g.regions)) {
		return nil, ErrNotFound
	}
	return &g.regions[idx], nil
}

// HeadOf returns the head of the run r belongs to.
func (g *Registry) HeadOf(r *Region) *Region { return &g.regions[r.head] }

// Offset returns the byte offset of r from the start of the reserved range.
func (g *Registry) Offset(r *Region) uint64 { return uint64(r.index) << g.shift }

// MakeRun turns span regions starting at start into one run with the given state.
func (g *Registry) MakeRun(start, span int, state State) *Region {
	head := &g.regions[start]
	head.span = span
	head.class = ClassOfSpan(span, g.mediumRegions)
	for i := start; i < start+span; i++ {
		r := &g.regions[i]
		r.head = start
		r.state = state
		if i != start {
			r.span = 0
		}
	}
	return head
}

// Split cuts the run headed by head after n regions and returns the head of the
// remainder. The remainder inherits state, commit flag and last-used time.
func (g *Registry) Split(head *Region, n int) *Region {
	span := head.Span()
	if n <= 0 || n >= span {
		panic(fmt.Sprintf("heap: split of %s at %d", head, n))
	}
	tail := g.MakeRun(head.index+n, span-n, head.state)
	tail.committed = head.committed
	tail.lastUsed = head.lastUsed
	head.span = n
	head.class = ClassOfSpan(n, g.mediumRegions)
	return tail
}

// Dissolve breaks the run headed by head into single-region runs and returns them.
func (g *Registry) Dissolve(head *Region) []*Region {
	span := head.Span()
	out := make([]*Region, 0, span)
	for i := head.index; i < head.index+span; i++ {
		r := &g.regions[i]
		r.head = i
		r.span = 1
		r.class = ClassSmall
		r.state = head.state
		r.committed = head.committed
		out = append(out, r)
	}
	return out
}

// SetRunState applies state and commit flag to every region of the run.
func (g *Registry) SetRunState(head *Region, state State, committed bool) {
	for i := head.index; i < head.index+head.Span(); i++ {
		g.regions[i].state = state
		g.regions[i].committed = committed
	}
}

// Heads calls fn for every run head in index order until fn returns false.
func (g *Registry) Heads(fn func(*Region) bool) {
	for i := 0; i < len(g.regions); {
		r := &g.regions[i]
		if !fn(r) {
			return
		}
		i += r.Span()
	}
}

// CountByState returns the number of regions in each state.
func (g *Registry) CountByState() [NumStates]int {
	var counts [NumStates]int
	for i := range g.regions {
		counts[g.regions[i].state]++
	}
	return counts
}
