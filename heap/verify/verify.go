// Package verify checks heap invariants. The checks are used by tests and by
// heapctl --verify; they need a quiescent view, so callers hold the heap lock.
package verify

import (
	"fmt"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/heap/cache"
	"github.com/joshuapare/heapkit/heap/capacity"
	"github.com/joshuapare/heapkit/heap/selector"
)

// ValidationError describes one violated invariant.
type ValidationError struct {
	Type    string
	Message string
	Region  int // -1 when not about a single region
}

func (e *ValidationError) Error() string {
	if e.Region >= 0 {
		return fmt.Sprintf("%s at region %d: %s", e.Type, e.Region, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Input is the heap state to check. Cache and Set may be nil.
type Input struct {
	Registry *heap.Registry
	Cache    *cache.Cache
	Capacity capacity.Stats
	Set      *selector.ReclamationSet
}

// AllInvariants validates all invariants in one call.
// Returns the first error encountered, or nil if all checks pass.
func AllInvariants(in Input) error {
	if err := Capacity(in.Capacity); err != nil {
		return err
	}
	if err := Regions(in.Registry, in.Cache); err != nil {
		return err
	}
	if err := ReclamationSet(in.Set, in.Cache); err != nil {
		return err
	}
	return Usage(in.Registry, in.Capacity)
}

// Capacity checks used <= committed <= current max <= max and claimed <= committed.
func Capacity(s capacity.Stats) error {
	fail := func(format string, args ...any) error {
		return &ValidationError{Type: "Capacity", Message: fmt.Sprintf(format, args...), Region: -1}
	}
	switch {
	case s.Used > s.Committed:
		return fail("used %d exceeds committed %d", s.Used, s.Committed)
	case s.Committed > s.CurrentMax:
		return fail("committed %d exceeds current max %d", s.Committed, s.CurrentMax)
	case s.CurrentMax > s.Max:
		return fail("current max %d exceeds max %d", s.CurrentMax, s.Max)
	case s.Claimed > s.Committed:
		return fail("claimed %d exceeds committed %d", s.Claimed, s.Committed)
	}
	return nil
}

// Regions walks every run and checks its structure and state.
func Regions(reg *heap.Registry, c *cache.Cache) error {
	var err error
	reg.Heads(func(r *heap.Region) bool {
		err = region(reg, c, r)
		return err == nil
	})
	if err != nil || c == nil {
		return err
	}

	var cached uint64
	c.Each(func(r *heap.Region) {
		cached += r.Size()
		if err == nil && r.State() != heap.StateEmptyCommitted {
			err = &ValidationError{Type: "Cache", Message: "cached run in state " + r.State().String(), Region: r.Index()}
		}
	})
	if err != nil {
		return err
	}
	if cached != c.Bytes() {
		return &ValidationError{Type: "Cache", Message: fmt.Sprintf("cached runs sum to %d, cache reports %d", cached, c.Bytes()), Region: -1}
	}
	return nil
}

func region(reg *heap.Registry, c *cache.Cache, r *heap.Region) error {
	fail := func(format string, args ...any) error {
		return &ValidationError{Type: "Region", Message: fmt.Sprintf(format, args...), Region: r.Index()}
	}
	if r.Index()+r.Span() > reg.Len() {
		return fail("run of %d regions overruns the registry", r.Span())
	}
	for i := r.Index() + 1; i < r.Index()+r.Span(); i++ {
		cont := reg.At(i)
		if cont.HeadIndex() != r.Index() {
			return fail("continuation %d points at head %d", i, cont.HeadIndex())
		}
		if cont.State() != r.State() || cont.Committed() != r.Committed() {
			return fail("continuation %d is %s, head is %s", i, cont.State(), r.State())
		}
	}
	if r.Allocated() > r.Size() {
		return fail("top %d beyond run size %d", r.Allocated(), r.Size())
	}
	if r.LiveBytes() > r.Allocated() {
		return fail("live bytes %d exceed allocated %d", r.LiveBytes(), r.Allocated())
	}

	cached := c != nil && c.Contains(r)
	switch r.State() {
	case heap.StateEmptyUncommitted:
		if r.Committed() || r.Span() != 1 {
			return fail("uncommitted region is committed=%v span=%d", r.Committed(), r.Span())
		}
	case heap.StateEmptyCommitted:
		if !r.Committed() {
			return fail("empty-committed region is not committed")
		}
		if c != nil && !cached {
			return fail("empty-committed run is not cached")
		}
	case heap.StatePinned:
		if r.Reclaiming() {
			return fail("pinned run is in the reclamation set")
		}
	}
	if cached && r.State() != heap.StateEmptyCommitted {
		return fail("cached run in state %s", r.State())
	}
	if r.Reclaiming() && r.State() != heap.StateInUse {
		return fail("run in the reclamation set is %s", r.State())
	}
	return nil
}

// ReclamationSet checks that every run of set is marked, not pinned and not
// cached. Runs reclaimed on their own leave the set.
func ReclamationSet(set *selector.ReclamationSet, c *cache.Cache) error {
	if set == nil {
		return nil
	}
	var err error
	set.Each(func(r *heap.Region) {
		if err != nil {
			return
		}
		switch {
		case r.State() == heap.StatePinned:
			err = &ValidationError{Type: "ReclamationSet", Message: "pinned run selected", Region: r.Index()}
		case !r.Reclaiming():
			err = &ValidationError{Type: "ReclamationSet", Message: "selected run is not marked", Region: r.Index()}
		case c != nil && c.Contains(r):
			err = &ValidationError{Type: "ReclamationSet", Message: "selected run is cached", Region: r.Index()}
		}
	})
	return err
}

// Usage checks that committed in-use runs are covered by the used counter and
// committed runs by the committed counter.
func Usage(reg *heap.Registry, s capacity.Stats) error {
	var inUse, committed uint64
	reg.Heads(func(r *heap.Region) bool {
		if !r.Committed() {
			return true
		}
		committed += r.Size()
		if r.State() == heap.StateInUse || r.State() == heap.StatePinned {
			inUse += r.Size()
		}
		return true
	})
	if inUse > s.Used {
		return &ValidationError{Type: "Usage", Message: fmt.Sprintf("in-use runs hold %d bytes, used is %d", inUse, s.Used), Region: -1}
	}
	if committed > s.Committed {
		return &ValidationError{Type: "Usage", Message: fmt.Sprintf("committed runs hold %d bytes, committed is %d", committed, s.Committed), Region: -1}
	}
	return nil
}
