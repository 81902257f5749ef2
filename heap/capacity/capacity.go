// Package capacity tracks how much heap memory is committed, used and allowed.
//
// Mutations happen with the heap lock held; every counter is atomic so stats
// and the pacer can read them from any goroutine.
//
// Invariants: used <= committed <= current max <= max, and uncommit never
// takes committed below max(used, min).
package capacity

import (
	"log/slog"
	"sync/atomic"

	"github.com/dustin/go-humanize"
)

// maxUncommitChunk caps a single uncommit pass.
const maxUncommitChunk = 256 << 20

// Options configures a Controller.
type Options struct {
	Min        uint64
	Max        uint64
	SoftMax    uint64 // 0 = Max
	RegionSize uint64
	Logger     *slog.Logger
}

// Controller is the capacity state of one heap.
type Controller struct {
	min        uint64
	max        uint64
	regionSize uint64
	log        *slog.Logger

	currentMax atomic.Uint64
	softMax    atomic.Uint64
	committed  atomic.Uint64
	used       atomic.Uint64
	claimed    atomic.Uint64
	usedHigh   atomic.Uint64
	usedLow    atomic.Uint64
	allocated  atomic.Uint64 // mutator bytes granted, feeds the allocation rate
	reclaimed  atomic.Uint64
}

// New returns a Controller with nothing committed.
func New(opts Options) *Controller {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	c := &Controller{
		min:        opts.Min,
		max:        opts.Max,
		regionSize: opts.RegionSize,
		log:        log,
	}
	c.currentMax.Store(opts.Max)
	c.softMax.Store(opts.SoftMax)
	return c
}

// Stats is a point-in-time copy of the counters.
type Stats struct {
	Min              uint64 `json:"min"`
	Max              uint64 `json:"max"`
	CurrentMax       uint64 `json:"current_max"`
	SoftMax          uint64 `json:"soft_max"`
	Committed        uint64 `json:"committed"`
	Used             uint64 `json:"used"`
	Claimed          uint64 `json:"claimed"`
	UsedHigh         uint64 `json:"used_high"`
	UsedLow          uint64 `json:"used_low"`
	MutatorAllocated uint64 `json:"mutator_allocated"`
	Reclaimed        uint64 `json:"reclaimed"`
}

// Available returns the bytes that may still be handed out.
func (s Stats) Available() uint64 {
	if s.Used+s.Claimed >= s.CurrentMax {
		return 0
	}
	return s.CurrentMax - s.Used - s.Claimed
}

// Snapshot copies the counters. Values are read individually and may be
// mutually inconsistent while allocation is in progress.
func (c *Controller) Snapshot() Stats {
	return Stats{
		Min:              c.min,
		Max:              c.max,
		CurrentMax:       c.currentMax.Load(),
		SoftMax:          c.SoftMax(),
		Committed:        c.committed.Load(),
		Used:             c.used.Load(),
		Claimed:          c.claimed.Load(),
		UsedHigh:         c.usedHigh.Load(),
		UsedLow:          c.usedLow.Load(),
		MutatorAllocated: c.allocated.Load(),
		Reclaimed:        c.reclaimed.Load(),
	}
}

func (c *Controller) Min() uint64        { return c.min }
func (c *Controller) Max() uint64        { return c.max }
func (c *Controller) CurrentMax() uint64 { return c.currentMax.Load() }
func (c *Controller) Committed() uint64  { return c.committed.Load() }
func (c *Controller) Used() uint64       { return c.used.Load() }
func (c *Controller) Claimed() uint64    { return c.claimed.Load() }

// SoftMax returns the pacing target, never above the current max.
func (c *Controller) SoftMax() uint64 {
	soft := c.softMax.Load()
	if cur := c.currentMax.Load(); soft == 0 || soft > cur {
		return cur
	}
	return soft
}

// SetSoftMax changes the pacing target. Zero means the current max.
func (c *Controller) SetSoftMax(bytes uint64) {
	c.softMax.Store(bytes)
	c.log.Info("soft max capacity changed", "soft_max", humanize.IBytes(c.SoftMax()))
}

// IncreaseCapacity raises committed by up to size bytes, bounded by the
// current max, and returns the increase.
func (c *Controller) IncreaseCapacity(size uint64) uint64 {
	committed := c.committed.Load()
	limit := c.currentMax.Load()
	if committed >= limit {
		return 0
	}
	increased := min(size, limit-committed)
	if increased == 0 {
		return 0
	}
	c.committed.Store(committed + increased)
	c.log.Debug("capacity increased",
		"by", humanize.IBytes(increased),
		"committed", humanize.IBytes(committed+increased))
	return increased
}

// DecreaseCapacity lowers committed by size bytes. When permanent is set the
// current max is lowered to the new committed value so later allocations stop
// trying to commit memory the OS refused.
func (c *Controller) DecreaseCapacity(size uint64, permanent bool) {
	committed := c.committed.Add(-size)
	if !permanent {
		return
	}
	prev := c.currentMax.Swap(committed)
	c.log.Error("forced to lower max heap capacity",
		"from", humanize.IBytes(prev),
		"from_percent", percentOf(prev, c.max),
		"to", humanize.IBytes(committed),
		"to_percent", percentOf(committed, c.max))
}

// IsAllocAllowed reports whether size bytes fit below the current max once
// used and claimed bytes are accounted for.
func (c *Controller) IsAllocAllowed(size uint64) bool {
	used := c.used.Load() + c.claimed.Load()
	limit := c.currentMax.Load()
	return used <= limit && limit-used >= size
}

// IncreaseUsed accounts for a grant. Mutator grants also feed the allocation
// rate counter.
func (c *Controller) IncreaseUsed(size uint64, mutator bool) {
	if mutator {
		c.allocated.Add(size)
	}
	used := c.used.Add(size)
	if used > c.usedHigh.Load() {
		c.usedHigh.Store(used)
	}
}

// DecreaseUsed accounts for freed bytes. reclaimed marks bytes freed by the
// collector rather than returned after a failed commit.
func (c *Controller) DecreaseUsed(size uint64, reclaimed bool) {
	if reclaimed {
		c.reclaimed.Add(size)
	}
	used := c.used.Add(-size)
	if used < c.usedLow.Load() {
		c.usedLow.Store(used)
	}
}

// ResetWatermarks sets both used watermarks to the current used value and
// clears the per-cycle reclaimed counter.
func (c *Controller) ResetWatermarks() {
	used := c.used.Load()
	c.usedHigh.Store(used)
	c.usedLow.Store(used)
	c.reclaimed.Store(0)
}

// Claim records bytes taken out of the cache for uncommit.
func (c *Controller) Claim(size uint64) { c.claimed.Add(size) }

// Unclaim drops a claim once the uncommit has finished.
func (c *Controller) Unclaim(size uint64) { c.claimed.Add(-size) }

// Releasable returns how many committed bytes uncommit may release in one
// pass: everything above max(used, min) not already claimed, capped at the
// uncommit chunk limit.
func (c *Controller) Releasable() uint64 {
	retain := max(c.used.Load(), c.min)
	committed := c.committed.Load()
	claimed := c.claimed.Load()
	if committed <= retain+claimed {
		return 0
	}
	return min(committed-retain-claimed, c.UncommitLimit())
}

// UncommitLimit returns the chunk size of one uncommit pass: 1/128 of the
// current max rounded up to a region, at most 256MiB.
func (c *Controller) UncommitLimit() uint64 {
	limit := alignUp(c.currentMax.Load()>>7, c.regionSize)
	return min(limit, maxUncommitChunk)
}

func alignUp(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return (v + align - 1) / align * align
}

func percentOf(v, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(v) * 100 / float64(total)
}
