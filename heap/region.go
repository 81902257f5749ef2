package heap

import (
	"fmt"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a region.
type State uint8

const (
	StateEmptyUncommitted State = iota
	StateEmptyCommitted
	StateInUse
	StateTrash
	StatePinned

	// NumStates is the number of region states.
	NumStates = 5
)

func (s State) String() string {
	switch s {
	case StateEmptyUncommitted:
		return "empty-uncommitted"
	case StateEmptyCommitted:
		return "empty-committed"
	case StateInUse:
		return "in-use"
	case StateTrash:
		return "trash"
	case StatePinned:
		return "pinned"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Region is the descriptor of one fixed-size slice of the reserved range.
//
// Fields without atomics are guarded by the heap lock of the allocator that
// owns the Registry.
type Region struct {
	index      int
	start      uintptr
	regionSize uint64

	state      State
	class      SizeClass
	span       int // run length, only meaningful on the head
	head       int // index of the run head (== index for heads)
	committed  bool
	reclaiming bool
	lastUsed   time.Time
	epoch      uint64 // collection epoch the run was handed out in

	live atomic.Uint64
	top  atomic.Uint64 // bytes allocated from start
}

// Index returns the stable index of the region in its Registry.
func (r *Region) Index() int { return r.index }

// Start returns the first address of the region.
func (r *Region) Start() uintptr { return r.start }

// End returns the address one past the run headed by r.
func (r *Region) End() uintptr { return r.start + uintptr(r.Size()) }

// Size returns the size of the run in bytes.
func (r *Region) Size() uint64 { return uint64(r.Span()) * r.regionSize }

// Span returns the number of regions in the run.
func (r *Region) Span() int {
	if r.span < 1 {
		return 1
	}
	return r.span
}

// IsHead reports whether r is the first region of its run.
func (r *Region) IsHead() bool { return r.head == r.index }

// HeadIndex returns the index of the run head.
func (r *Region) HeadIndex() int { return r.head }

// Class returns the size class of the run.
func (r *Region) Class() SizeClass { return r.class }

// State returns the lifecycle state.
func (r *Region) State() State { return r.state }

// SetState changes the lifecycle state. Caller holds the heap lock.
func (r *Region) SetState(s State) { r.state = s }

// Committed reports whether backing memory is committed and mapped.
func (r *Region) Committed() bool { return r.committed }

// SetCommitted records the commit flag. Caller holds the heap lock.
func (r *Region) SetCommitted(c bool) { r.committed = c }

// Reclaiming reports whether the region belongs to the current reclamation set.
func (r *Region) Reclaiming() bool { return r.reclaiming }

// SetReclaiming marks membership in the reclamation set. Caller holds the heap lock.
func (r *Region) SetReclaiming(v bool) { r.reclaiming = v }

// LastUsed returns the time the region was last returned to the cache.
func (r *Region) LastUsed() time.Time { return r.lastUsed }

// SetLastUsed stamps the region. Caller holds the heap lock.
func (r *Region) SetLastUsed(t time.Time) { r.lastUsed = t }

// AllocEpoch returns the collection epoch in which the run was last handed out.
func (r *Region) AllocEpoch() uint64 { return r.epoch }

// SetAllocEpoch records the epoch the run is handed out in.
func (r *Region) SetAllocEpoch(e uint64) { r.epoch = e }

// LiveBytes returns the bytes found reachable by the last completed trace.
func (r *Region) LiveBytes() uint64 { return r.live.Load() }

// SetLiveBytes records the live bytes of the run. Live bytes can never exceed
// the allocated part of the run.
func (r *Region) SetLiveBytes(n uint64) error {
	if used := r.top.Load(); n > used {
		return fmt.Errorf("region %d: live=%d allocated=%d: %w", r.index, n, used, ErrLiveBytes)
	}
	r.live.Store(n)
	return nil
}

// Top returns the allocation watermark address.
func (r *Region) Top() uintptr { return r.start + uintptr(r.top.Load()) }

// Allocated returns the number of bytes below the watermark.
func (r *Region) Allocated() uint64 { return r.top.Load() }

// Advance bumps the watermark by n bytes without exceeding limit bytes from
// start. It returns the address of the allocated block.
func (r *Region) Advance(n, limit uint64) (uintptr, bool) {
	if limit > r.Size() {
		limit = r.Size()
	}
	for {
		old := r.top.Load()
		next := old + n
		if next > limit || next < old {
			return 0, false
		}
		if r.top.CompareAndSwap(old, next) {
			return r.start + uintptr(old), true
		}
	}
}

// Fill moves the watermark to the end of the run.
func (r *Region) Fill() { r.top.Store(r.Size()) }

// Reset clears the watermark, live bytes and reclamation mark before reuse.
// Caller holds the heap lock.
func (r *Region) Reset() {
	r.top.Store(0)
	r.live.Store(0)
	r.reclaiming = false
}

func (r *Region) String() string {
	return fmt.Sprintf("region[%d+%d %s %s]", r.index, r.Span(), r.class, r.state)
}
