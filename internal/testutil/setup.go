// Package testutil provides fixtures shared by heap tests: scenario
// configurations, a fake clock and fake-backed allocators.
package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/heap/alloc"
	"github.com/joshuapare/heapkit/internal/vmem"
)

// Epoch is the start time of every fake clock.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// ScenarioConfig returns the reference heap: 64MiB minimum, 256MiB maximum,
// 4MiB regions and nothing committed at startup.
func ScenarioConfig() heap.Config {
	return heap.Config{
		MinCapacity:        64 * heap.MiB,
		MaxCapacity:        256 * heap.MiB,
		RegionSize:         4 * heap.MiB,
		MediumRegions:      8,
		FragmentationLimit: 25,
		UncommitEnabled:    true,
		UncommitDelay:      time.Minute,
		AddressSpaceFactor: 2,
	}
}

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock set to Epoch.
func NewClock() *Clock { return &Clock{now: Epoch} }

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Heap bundles a fake-backed allocator with its backend and clock.
type Heap struct {
	*alloc.Allocator
	Backend *vmem.Fake
	Clock   *Clock
}

// SetupAllocator creates an allocator over a fake backend whose granule is the
// region size. The allocator is closed when the test ends.
//
// Example:
//
//	h := testutil.SetupAllocator(t, testutil.ScenarioConfig(), alloc.Options{})
//	r, err := h.Alloc(ctx, alloc.Request{Size: 4 * heap.MiB})
func SetupAllocator(t testing.TB, cfg heap.Config, opts alloc.Options) *Heap {
	t.Helper()
	fake := NewFake(cfg)
	clock := NewClock()
	opts.Backend = fake
	if opts.Clock == nil {
		opts.Clock = clock.Now
	}
	a, err := alloc.New(cfg, opts)
	if err != nil {
		t.Fatalf("alloc.New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return &Heap{Allocator: a, Backend: fake, Clock: clock}
}

// NewFake returns a fake backend with the region size as its granule.
func NewFake(cfg heap.Config) *vmem.Fake {
	return vmem.NewFake(cfg.RegionSize)
}

// SetLive fills r and records percent of it as live.
func SetLive(t testing.TB, r *heap.Region, percent uint64) {
	t.Helper()
	r.Fill()
	if err := r.SetLiveBytes(r.Size() * percent / 100); err != nil {
		t.Fatalf("SetLiveBytes: %v", err)
	}
}
