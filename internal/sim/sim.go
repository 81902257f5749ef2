// Package sim drives a heap with concurrent mutators and a toy evacuating
// collector. Mutators allocate whole runs and publish a random share of each
// as one object; objects die at random as new ones are allocated. The
// collector compacts the live objects of selected runs into shared runs.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/pkg/heapkit"
)

// ErrOptions is returned for an unusable workload.
var ErrOptions = errors.New("sim: invalid options")

// Options shape the workload.
type Options struct {
	Workers  int
	MinSize  uint64
	MaxSize  uint64
	Garbage  float64       // chance that an allocation kills an older object
	Seed     uint64
	Interval time.Duration // collect at least this often
	Logger   *slog.Logger
}

// DefaultOptions returns a small mixed workload.
func DefaultOptions() Options {
	return Options{
		Workers:  4,
		MinSize:  64 * heap.KiB,
		MaxSize:  8 * heap.MiB,
		Garbage:  0.5,
		Seed:     1,
		Interval: 100 * time.Millisecond,
	}
}

// Validate reports the first unusable field.
func (o Options) Validate() error {
	switch {
	case o.Workers < 1:
		return fmt.Errorf("%w: workers %d must be at least 1", ErrOptions, o.Workers)
	case o.MinSize == 0 || o.MinSize > o.MaxSize:
		return fmt.Errorf("%w: min size %s must be positive and at most max size %s",
			ErrOptions, humanize.IBytes(o.MinSize), humanize.IBytes(o.MaxSize))
	case o.Garbage < 0 || o.Garbage > 1:
		return fmt.Errorf("%w: garbage %.2f outside [0, 1]", ErrOptions, o.Garbage)
	case o.Interval <= 0:
		return fmt.Errorf("%w: interval must be positive", ErrOptions)
	}
	return nil
}

// Summary counts what a run did.
type Summary struct {
	Elapsed         time.Duration `json:"-"`
	Duration        string        `json:"duration"`
	Workers         int           `json:"workers"`
	Allocations     uint64        `json:"allocations"`
	AllocatedBytes  uint64        `json:"allocated_bytes"`
	OutOfMemory     uint64        `json:"out_of_memory"`
	Cycles          uint64        `json:"cycles"`
	Evacuated       uint64        `json:"evacuated_runs"`
	Relocated       uint64        `json:"relocated"`
	RelocatedBytes  uint64        `json:"relocated_bytes"`
	RelocationFails uint64        `json:"relocation_failures"`
	StallsFailed    uint64        `json:"stalls_failed"`
	LiveErrors      uint64        `json:"live_errors"`
	Objects         int           `json:"objects"`
	Rate            float64       `json:"allocations_per_second"`
}

// Simulation is both the heap's orchestrator and its pacer. Create it, pass it
// to heapkit.New with WithOrchestrator and WithPacer, then Attach the heap.
type Simulation struct {
	opts    Options
	log     *slog.Logger
	h       atomic.Pointer[heapkit.Heap]
	w       *world
	trigger chan struct{}
	paused  atomic.Bool
	started atomic.Int64

	allocs      atomic.Uint64
	allocBytes  atomic.Uint64
	oom         atomic.Uint64
	cycles      atomic.Uint64
	evacuated   atomic.Uint64
	relocated   atomic.Uint64
	relocBytes  atomic.Uint64
	relocFailed atomic.Uint64
	stallsFail  atomic.Uint64
	liveErrors  atomic.Uint64
}

// New returns a simulation for opts.
func New(opts Options) (*Simulation, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Simulation{
		opts:    opts,
		log:     log,
		w:       newWorld(),
		trigger: make(chan struct{}, 1),
	}, nil
}

// Attach sets the heap the simulation drives.
func (s *Simulation) Attach(h *heapkit.Heap) { s.h.Store(h) }

// Heap returns the attached heap.
func (s *Simulation) Heap() *heapkit.Heap { return s.h.Load() }

// RequestCollection schedules a cycle. It never blocks.
func (s *Simulation) RequestCollection(heapkit.Cause) {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// OnAllocation asks for a cycle once used memory passes three quarters of
// the soft max capacity.
func (s *Simulation) OnAllocation(uint64, bool) {
	h := s.h.Load()
	if h == nil {
		return
	}
	c := h.Allocator().Capacity()
	if c.Used() > c.SoftMax()/4*3 {
		s.RequestCollection(heapkit.CauseAllocationStall)
	}
}

// Pause stops or resumes the mutators. The collector keeps running.
func (s *Simulation) Pause(p bool) { s.paused.Store(p) }

// Paused reports whether the mutators are paused.
func (s *Simulation) Paused() bool { return s.paused.Load() }

// Run drives the heap until ctx is done.
func (s *Simulation) Run(ctx context.Context) error {
	h := s.h.Load()
	if h == nil {
		return fmt.Errorf("%w: no heap attached", ErrOptions)
	}
	s.started.Store(time.Now().UnixNano())
	s.log.Info("simulation started",
		"workers", s.opts.Workers,
		"min", humanize.IBytes(s.opts.MinSize),
		"max", humanize.IBytes(s.opts.MaxSize))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.collect(gctx) })
	for id := range s.opts.Workers {
		rng := rand.New(rand.NewPCG(s.opts.Seed, uint64(id)))
		g.Go(func() error { return s.mutate(gctx, h, rng) })
	}
	err := g.Wait()
	s.log.Info("simulation stopped", "cycles", s.cycles.Load(), "allocations", s.allocs.Load())
	return err
}

func (s *Simulation) mutate(ctx context.Context, h *heapkit.Heap, rng *rand.Rand) error {
	for ctx.Err() == nil {
		if s.paused.Load() {
			select {
			case <-ctx.Done():
			case <-time.After(s.opts.Interval):
			}
			continue
		}
		size := s.opts.MinSize + rng.Uint64N(s.opts.MaxSize-s.opts.MinSize+1)
		r, err := h.Alloc(ctx, size)
		switch {
		case err == nil:
		case errors.Is(err, heapkit.ErrAllocationFailed):
			s.oom.Add(1)
			continue
		case ctx.Err() != nil:
			return nil
		default:
			return err
		}
		r.Fill()
		s.w.add(r, r.Size()*rng.Uint64N(101)/100)
		s.allocs.Add(1)
		s.allocBytes.Add(size)
		if rng.Float64() < s.opts.Garbage {
			s.w.killRandom(rng)
		}
	}
	return nil
}

func (s *Simulation) collect(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.trigger:
		case <-ticker.C:
		}
		s.Cycle()
	}
}

// Cycle runs one collection: mark every in-use run from the object graph,
// select, evacuate into a collector buffer and end the cycle.
func (s *Simulation) Cycle() {
	h := s.h.Load()
	if h == nil {
		return
	}
	epoch := h.BeginCycle()

	// Runs no mutator has published yet are kept whole.
	s.w.mu.Lock()
	h.Allocator().EachInUse(func(r *heap.Region) {
		live, ok := s.w.liveIn(r)
		if !ok {
			r.Fill()
			live = r.Size()
		}
		if err := r.SetLiveBytes(live); err != nil {
			// A run marked above its watermark is kept whole.
			s.liveErrors.Add(1)
			s.log.Warn("live bytes rejected", "region", r.Index(), "live", humanize.IBytes(live), "err", err)
			r.Fill()
			r.SetLiveBytes(r.Size()) //nolint:errcheck // a full run accepts its size
		}
	})
	s.w.mu.Unlock()

	set := h.Select()

	rs := h.Allocator().Config().RegionSize
	buf := h.NewBuffer(heapkit.KindCollector, rs, rs)
	buf.SetFlags(heapkit.FlagNonBlocking)

	var done []*heap.Region
	s.w.mu.Lock()
	for _, r := range set.Empty() {
		s.w.drop(r)
		done = append(done, r)
	}
	empty := len(done)
	for _, r := range set.Relocate() {
		if s.evacuate(buf, r) {
			s.w.drop(r)
			done = append(done, r)
		}
	}
	s.w.mu.Unlock()
	buf.Flush()

	h.Reclaim(done...)
	failed := h.EndCycle(epoch)
	s.evacuated.Add(uint64(len(done) - empty))
	s.stallsFail.Add(uint64(failed))
	s.cycles.Add(1)
	s.log.Debug("cycle done",
		"epoch", epoch,
		"empty", empty,
		"evacuated", len(done)-empty,
		"stalls_failed", failed)
}

// evacuate copies the live objects of r into buf and reports whether r was
// emptied. Caller holds s.w.mu.
func (s *Simulation) evacuate(buf *heapkit.Buffer, r *heap.Region) bool {
	for _, o := range slices.Clone(s.w.objectsIn(r)) {
		if o.dead || o.bytes == 0 {
			continue
		}
		if _, err := buf.Alloc(context.Background(), o.bytes); err != nil {
			s.relocFailed.Add(1)
			return false
		}
		s.w.move(o, buf.Current())
		s.relocated.Add(1)
		s.relocBytes.Add(o.bytes)
	}
	return true
}

// Summary returns the counters so far.
func (s *Simulation) Summary() Summary {
	var elapsed time.Duration
	if t := s.started.Load(); t != 0 {
		elapsed = time.Since(time.Unix(0, t))
	}
	sum := Summary{
		Elapsed:         elapsed,
		Duration:        elapsed.Round(time.Millisecond).String(),
		Workers:         s.opts.Workers,
		Allocations:     s.allocs.Load(),
		AllocatedBytes:  s.allocBytes.Load(),
		OutOfMemory:     s.oom.Load(),
		Cycles:          s.cycles.Load(),
		Evacuated:       s.evacuated.Load(),
		Relocated:       s.relocated.Load(),
		RelocatedBytes:  s.relocBytes.Load(),
		RelocationFails: s.relocFailed.Load(),
		StallsFailed:    s.stallsFail.Load(),
		LiveErrors:      s.liveErrors.Load(),
		Objects:         s.w.len(),
	}
	if secs := elapsed.Seconds(); secs > 0 {
		sum.Rate = float64(sum.Allocations) / secs
	}
	return sum
}
