// Package vspace hands out contiguous runs of region indices from the reserved
// range.
//
// Small runs are taken from the high end and everything else from the low end,
// which keeps long runs available for medium and large allocations. Freed runs
// are merged with their neighbours.
//
// Space has its own lock. When used together with the heap lock, the heap lock
// is always taken first.
package vspace

import (
	"fmt"
	"sort"
	"sync"
)

// Range is a run of region indices [Start, Start+Len).
type Range struct {
	Start int
	Len   int
}

// End returns the index one past the run.
func (r Range) End() int { return r.Start + r.Len }

// Space is a free list of index ranges sorted by start.
type Space struct {
	mu   sync.Mutex
	size int
	free []Range
}

// New creates a Space with n free indices.
func New(n int) *Space {
	s := &Space{size: n}
	if n > 0 {
		s.free = []Range{{Start: 0, Len: n}}
	}
	return s
}

// Size returns the total number of indices.
func (s *Space) Size() int { return s.size }

// FreeCount returns the number of free indices.
func (s *Space) FreeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, r := range s.free {
		total += r.Len
	}
	return total
}

// Ranges returns a copy of the free list.
func (s *Space) Ranges() []Range {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Range(nil), s.free...)
}

// AllocLow takes n indices from the lowest free run that fits.
func (s *Space) AllocLow(n int) (int, bool) {
	if n <= 0 {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.free {
		r := &s.free[i]
		if r.Len < n {
			continue
		}
		start := r.Start
		r.Start += n
		r.Len -= n
		if r.Len == 0 {
			s.free = append(s.free[:i], s.free[i+1:]...)
		}
		return start, true
	}
	return 0, false
}

// AllocHigh takes n indices from the end of the highest free run that fits.
func (s *Space) AllocHigh(n int) (int, bool) {
	if n <= 0 {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.free) - 1; i >= 0; i-- {
		r := &s.free[i]
		if r.Len < n {
			continue
		}
		r.Len -= n
		start := r.Start + r.Len
		if r.Len == 0 {
			s.free = append(s.free[:i], s.free[i+1:]...)
		}
		return start, true
	}
	return 0, false
}

// Free returns [start, start+n) to the free list. Freeing an index that is
// already free panics.
func (s *Space) Free(start, n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if start < 0 || start+n > s.size {
		panic(fmt.Sprintf("vspace: free [%d, %d) outside [0, %d)", start, start+n, s.size))
	}
	i := sort.Search(len(s.free), func(i int) bool { return s.free[i].Start >= start })
	if i > 0 && s.free[i-1].End() > start {
		panic(fmt.Sprintf("vspace: double free of [%d, %d)", start, start+n))
	}
	if i < len(s.free) && s.free[i].Start < start+n {
		panic(fmt.Sprintf("vspace: double free of [%d, %d)", start, start+n))
	}

	mergePrev := i > 0 && s.free[i-1].End() == start
	mergeNext := i < len(s.free) && s.free[i].Start == start+n
	switch {
	case mergePrev && mergeNext:
		s.free[i-1].Len += n + s.free[i].Len
		s.free = append(s.free[:i], s.free[i+1:]...)
	case mergePrev:
		s.free[i-1].Len += n
	case mergeNext:
		s.free[i].Start = start
		s.free[i].Len += n
	default:
		s.free = append(s.free, Range{})
		copy(s.free[i+1:], s.free[i:])
		s.free[i] = Range{Start: start, Len: n}
	}
}

// Coalesce groups indices into adjacent runs so a backend can be called once
// per run. The input is not modified.
func Coalesce(indices []int) []Range {
	if len(indices) == 0 {
		return nil
	}
	sorted := append([]int(nil), indices...)
	sort.Ints(sorted)

	merged := make([]Range, 0, len(sorted))
	current := Range{Start: sorted[0], Len: 1}
	for _, idx := range sorted[1:] {
		switch {
		case idx < current.End():
			// duplicate
		case idx == current.End():
			current.Len++
		default:
			merged = append(merged, current)
			current = Range{Start: idx, Len: 1}
		}
	}
	return append(merged, current)
}
