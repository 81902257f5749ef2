package alloc

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/heap/selector"
)

// Free returns an in-use run to the cache and serves stalled requests.
// Freeing anything but an in-use run head, or a run in the current
// reclamation set, panics.
func (a *Allocator) Free(r *heap.Region) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.freeRuns([]*heap.Region{r}, false)
}

// Reclaim returns runs evacuated by the collector. Their bytes count as
// reclaimed in the capacity statistics. Runs of the current reclamation set
// leave it, so a later ReclaimSet does not free them again.
func (a *Allocator) Reclaim(runs ...*heap.Region) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.set != nil {
		for _, r := range runs {
			a.set.Remove(r)
		}
	}
	a.freeRuns(runs, true)
}

// ReclaimSet returns every run of an evacuated reclamation set that has not
// been reclaimed yet. A set replaced by a later Select is ignored.
func (a *Allocator) ReclaimSet(set *selector.ReclamationSet) {
	if set == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.set != set {
		a.log.Warn("reclamation set is no longer current",
			"epoch", a.epoch.Load())
		return
	}
	var runs []*heap.Region
	set.Each(func(r *heap.Region) { runs = append(runs, r) })
	a.set = nil
	a.freeRuns(runs, true)
}

// freeRuns publishes the runs in the cache before waking stalled requests.
// Caller holds the heap lock.
func (a *Allocator) freeRuns(runs []*heap.Region, reclaimed bool) {
	if len(runs) == 0 {
		return
	}
	now := a.now()
	for _, r := range runs {
		if !r.IsHead() || r.State() != heap.StateInUse || !r.Committed() {
			panic(fmt.Sprintf("alloc: free of %s", r))
		}
		if r.Reclaiming() && !reclaimed {
			panic(fmt.Sprintf("alloc: free of %s while it is being reclaimed", r))
		}
		a.cap.DecreaseUsed(r.Size(), reclaimed)
		r.Reset()
		a.cache.PutBack(r, now)
	}
	a.satisfyStalled()
}

// Select builds the reclamation set for the current cycle from the live bytes
// recorded on each run. Runs handed out since BeginCycle are left alone. Runs
// in the set are marked and cannot be pinned until they are reclaimed or the
// next selection replaces the set.
func (a *Allocator) Select() *selector.ReclamationSet {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.set != nil {
		a.set.Each(func(r *heap.Region) { r.SetReclaiming(false) })
	}
	cfg := selector.FromHeap(a.cfg)
	cfg.Logger = a.log
	cfg.Epoch = a.epoch.Load()
	sel := selector.New(cfg)
	a.reg.Heads(func(r *heap.Region) bool {
		sel.Register(r)
		return true
	})
	set := sel.Select()
	set.Each(func(r *heap.Region) { r.SetReclaiming(true) })
	a.set = set
	return set
}

// Pin keeps an in-use run out of every reclamation set until Unpin.
func (a *Allocator) Pin(r *heap.Region) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !r.IsHead() || r.State() != heap.StateInUse {
		return fmt.Errorf("pin %s: %w", r, ErrNotInUse)
	}
	if r.Reclaiming() {
		return fmt.Errorf("pin %s: %w", r, ErrReclaiming)
	}
	a.reg.SetRunState(r, heap.StatePinned, true)
	return nil
}

// Unpin makes a pinned run an ordinary in-use run again.
func (a *Allocator) Unpin(r *heap.Region) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !r.IsHead() || r.State() != heap.StatePinned {
		return fmt.Errorf("unpin %s: %w", r, ErrNotInUse)
	}
	a.reg.SetRunState(r, heap.StateInUse, true)
	return nil
}

// Uncommit releases one chunk of cold cached memory. Runs are claimed under
// the heap lock, uncommitted without it and accounted for under it again.
// It returns the bytes released and how long to wait before the next pass.
func (a *Allocator) Uncommit() (uint64, time.Duration) {
	if !a.cfg.UncommitEnabled {
		return 0, a.cfg.UncommitDelay
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return 0, a.cfg.UncommitDelay
	}
	flushed, n, timeout := a.cache.FlushForUncommit(a.cap.Releasable(), a.now(), a.cfg.UncommitDelay)
	if n == 0 {
		a.mu.Unlock()
		return 0, timeout
	}
	for _, r := range flushed {
		a.reg.SetRunState(r, heap.StateTrash, true)
	}
	a.cap.Claim(n)
	a.mu.Unlock()

	a.release(flushed)

	a.mu.Lock()
	a.cap.DecreaseCapacity(n, false)
	a.cap.Unclaim(n)
	// Released indices may complete a range a stalled request is waiting for.
	a.satisfyStalled()
	a.mu.Unlock()

	a.log.Debug("uncommitted chunk",
		"bytes", humanize.IBytes(n),
		"runs", len(flushed),
		"committed", humanize.IBytes(a.cap.Committed()))
	return n, timeout
}

// EachInUse calls fn for every committed in-use or pinned run under the heap
// lock. fn must not call back into the allocator.
func (a *Allocator) EachInUse(fn func(*heap.Region)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reg.Heads(func(r *heap.Region) bool {
		if r.Committed() && (r.State() == heap.StateInUse || r.State() == heap.StatePinned) {
			fn(r)
		}
		return true
	})
}

// RegionInfo is a point-in-time view of one region. Run fields come from the
// run's head.
type RegionInfo struct {
	Index      int            `json:"index"`
	Head       int            `json:"head"`
	State      heap.State     `json:"-"`
	Class      heap.SizeClass `json:"-"`
	Committed  bool           `json:"committed"`
	Reclaiming bool           `json:"reclaiming"`
	RunSize    uint64         `json:"run_size"`
	Live       uint64         `json:"live"`
	AllocEpoch uint64         `json:"alloc_epoch"`
}

// Regions snapshots every region of the reservation under the heap lock.
func (a *Allocator) Regions() []RegionInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]RegionInfo, a.reg.Len())
	for i := range out {
		head := a.reg.HeadOf(a.reg.At(i))
		out[i] = RegionInfo{
			Index:      i,
			Head:       head.Index(),
			State:      head.State(),
			Class:      head.Class(),
			Committed:  head.Committed(),
			Reclaiming: head.Reclaiming(),
			RunSize:    head.Size(),
			Live:       head.LiveBytes(),
			AllocEpoch: head.AllocEpoch(),
		}
	}
	return out
}
