package alloc

import (
	"errors"

	"github.com/dustin/go-humanize"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/heap/vspace"
)

var (
	// errNoRange means no contiguous address range was free. Nothing was
	// committed and the flushed runs are already released.
	errNoRange = errors.New("no free address range")

	// errCommit means the backend refused part of the commit or the map. The
	// committed part is left in al.pages.
	errCommit = errors.New("commit failed")
)

// finalize turns a charged allocation into a committed, mapped in-use run.
// It runs without the heap lock except for short state updates.
func (a *Allocator) finalize(al *allocation) (*heap.Region, error) {
	if al.satisfied != nil {
		return al.satisfied, nil
	}

	// Flushed runs give their indices back first so the new run may reuse them.
	if len(al.pages) > 0 {
		var flushed uint64
		for _, r := range al.pages {
			flushed += r.Size()
		}
		a.release(al.pages)
		al.pages = nil
		a.log.Debug("cache flushed for allocation", "bytes", humanize.IBytes(flushed))
	}

	start, ok := a.allocRange(al)
	if !ok {
		a.log.Warn("no free address range",
			"regions", al.span,
			"free_regions", a.space.FreeCount())
		return nil, errNoRange
	}

	a.mu.Lock()
	head := a.reg.MakeRun(start, al.span, heap.StateInUse)
	a.reg.SetRunState(head, heap.StateInUse, false)
	a.mu.Unlock()

	off := a.reg.Offset(head)
	committed, err := a.backend.Commit(off, al.size)
	if err != nil {
		a.log.Error("commit failed",
			"offset", off,
			"size", humanize.IBytes(al.size),
			"committed", humanize.IBytes(committed),
			"err", err)
	}
	// Only whole regions count; a torn tail is given back.
	whole := committed / a.cfg.RegionSize * a.cfg.RegionSize
	if whole < committed {
		_ = a.backend.Uncommit(off+whole, committed-whole)
	}
	if whole > 0 {
		if err := a.backend.Map(off, whole); err != nil {
			a.log.Error("map failed", "offset", off, "size", humanize.IBytes(whole), "err", err)
			_ = a.backend.Uncommit(off, whole)
			whole = 0
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if whole == al.size {
		a.reg.SetRunState(head, heap.StateInUse, true)
		head.Reset()
		head.SetAllocEpoch(a.epoch.Load())
		return head, nil
	}

	keep := int(whole / a.cfg.RegionSize)
	tail := head
	if keep > 0 {
		tail = a.reg.Split(head, keep)
		a.reg.SetRunState(head, heap.StateTrash, true)
		al.pages = append(al.pages, head)
	}
	a.discard(tail)
	return nil, errCommit
}

// allocRange picks the address range for a new run. Small runs go high,
// everything else and low-address requests go low.
func (a *Allocator) allocRange(al *allocation) (int, bool) {
	if al.class == heap.ClassSmall && !al.flags.has(FlagLowAddress) {
		return a.space.AllocHigh(al.span)
	}
	return a.space.AllocLow(al.span)
}

// release unmaps and uncommits detached runs outside the heap lock, then
// returns their indices to the address space.
func (a *Allocator) release(runs []*heap.Region) {
	var indices []int
	for _, r := range runs {
		for i := r.Index(); i < r.Index()+r.Span(); i++ {
			indices = append(indices, i)
		}
	}
	for _, rng := range vspace.Coalesce(indices) {
		off := uint64(rng.Start) * a.cfg.RegionSize
		size := uint64(rng.Len) * a.cfg.RegionSize
		if err := a.backend.Unmap(off, size); err != nil {
			a.log.Error("unmap failed", "offset", off, "size", humanize.IBytes(size), "err", err)
		}
		if err := a.backend.Uncommit(off, size); err != nil {
			a.log.Error("uncommit failed", "offset", off, "size", humanize.IBytes(size), "err", err)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range runs {
		a.discard(r)
	}
}

// discard dissolves an uncommitted run and frees its indices. Caller holds
// the heap lock.
func (a *Allocator) discard(r *heap.Region) {
	a.reg.SetRunState(r, heap.StateEmptyUncommitted, false)
	start, span := r.Index(), r.Span()
	for _, single := range a.reg.Dissolve(r) {
		single.Reset()
	}
	a.space.Free(start, span)
}

// failed hands back what a failed commit left behind and lowers the
// capacity by the part that could not be committed.
func (a *Allocator) failed(al *allocation) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var freed uint64
	now := a.now()
	for _, r := range al.pages {
		freed += r.Size()
		a.cache.PutBack(r, now)
	}
	remaining := al.size - freed
	a.cap.DecreaseUsed(al.size, false)
	a.cap.DecreaseCapacity(remaining, true)
	a.satisfyStalled()
}
