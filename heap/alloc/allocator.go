// Package alloc serves region runs to mutators and the collector.
//
// Every request goes through the same steps, all under the heap lock:
//
//  1. the bytes must fit below the current max capacity
//  2. a cached run of the right class is taken, or
//  3. capacity is increased and the shortfall is flushed from the cache
//
// If none of this works, non-blocking requests fail and blocking requests are
// queued as stalls until the collector frees memory. Committing and mapping
// new memory happens after the lock is released; if the OS refuses, the
// committed part goes back to the cache, the current max capacity is lowered
// for good and the request is retried. If no contiguous address range is
// free, the grant is undone and the request fails or stalls like any other.
package alloc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/heap/cache"
	"github.com/joshuapare/heapkit/heap/capacity"
	"github.com/joshuapare/heapkit/heap/selector"
	"github.com/joshuapare/heapkit/heap/stall"
	"github.com/joshuapare/heapkit/heap/verify"
	"github.com/joshuapare/heapkit/heap/vspace"
	"github.com/joshuapare/heapkit/internal/logger"
	"github.com/joshuapare/heapkit/internal/vmem"
)

// allocation is one request in flight, from the locked fast path through
// finalize.
type allocation struct {
	kind  Kind
	flags Flags
	class heap.SizeClass
	span  int
	size  uint64 // run size, what used is charged

	// pages holds runs taken from the cache, flushed runs waiting to be
	// harvested and, after a failed commit, the committed part of the new run.
	pages     []*heap.Region
	satisfied *heap.Region
	quiet     bool // no pacer notification
}

// Allocator owns the regions of one heap.
type Allocator struct {
	cfg     heap.Config
	log     *slog.Logger
	backend vmem.Backend
	pacer   Pacer
	orch    Orchestrator
	now     func() time.Time

	reg   *heap.Registry
	space *vspace.Space
	epoch atomic.Uint64

	mu      sync.Mutex // heap lock
	cache   *cache.Cache
	cap     *capacity.Controller
	stalled *stall.Queue[*allocation]
	set     *selector.ReclamationSet
	closed  bool
}

// New reserves the address space for cfg and primes the cache with the
// initial capacity. A failed reservation is fatal and reported as
// heap.ErrReserve.
func New(cfg heap.Config, opts Options) (*Allocator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = logger.Or(cfg.Logger)
	}
	backend := opts.Backend
	if backend == nil {
		b, err := vmem.New(vmem.KindMmap, cfg.RegionSize)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", heap.ErrReserve, err)
		}
		backend = b
	}

	count := cfg.RegionCount()
	reserved := uint64(count) * cfg.RegionSize
	base, err := backend.Reserve(reserved)
	if err != nil {
		log.Error("out of address space", "reserve", humanize.IBytes(reserved), "err", err)
		return nil, fmt.Errorf("%w: %w", heap.ErrReserve, err)
	}
	reg, err := heap.NewRegistry(base, cfg.RegionSize, count, cfg.MediumRegions)
	if err != nil {
		_ = backend.Release()
		return nil, err
	}

	a := &Allocator{
		cfg:     cfg,
		log:     log,
		backend: backend,
		pacer:   opts.Pacer,
		orch:    opts.Orchestrator,
		now:     opts.Clock,
		reg:     reg,
		space:   vspace.New(count),
		cache:   cache.New(reg),
		cap: capacity.New(capacity.Options{
			Min:        cfg.MinCapacity,
			Max:        cfg.MaxCapacity,
			SoftMax:    cfg.SoftMaxCapacity,
			RegionSize: cfg.RegionSize,
			Logger:     log,
		}),
		stalled: stall.NewQueue[*allocation](),
	}
	if a.pacer == nil {
		a.pacer = nopPacer{}
	}
	if a.orch == nil {
		a.orch = nopOrchestrator{}
	}
	if a.now == nil {
		a.now = time.Now
	}
	a.epoch.Store(1)

	log.Info("heap reserved",
		"base", fmt.Sprintf("%#x", base),
		"reserved", humanize.IBytes(reserved),
		"regions", count,
		"region_size", humanize.IBytes(cfg.RegionSize),
		"max", humanize.IBytes(cfg.MaxCapacity))

	if cfg.InitialCapacity > 0 {
		if err := a.prime(cfg.InitialCapacity); err != nil {
			_ = backend.Release()
			return nil, err
		}
	}
	return a, nil
}

// prime commits size bytes as one run and parks it in the cache.
func (a *Allocator) prime(size uint64) error {
	span := int(size / a.cfg.RegionSize)
	al := &allocation{
		kind:  KindCollector,
		flags: FlagNonBlocking | FlagLowAddress,
		class: heap.ClassOfSpan(span, a.cfg.MediumRegions),
		span:  span,
		size:  size,
		quiet: true,
	}
	r, err := a.run(context.Background(), al)
	if err != nil {
		return fmt.Errorf("prime %s: %w", humanize.IBytes(size), err)
	}
	a.Free(r)
	a.log.Debug("cache primed", "bytes", humanize.IBytes(size))
	return nil
}

// Config returns the configuration the allocator was built with.
func (a *Allocator) Config() heap.Config { return a.cfg }

// Registry returns the region registry.
func (a *Allocator) Registry() *heap.Registry { return a.reg }

// Capacity returns the capacity controller.
func (a *Allocator) Capacity() *capacity.Controller { return a.cap }

// Epoch returns the current collection epoch.
func (a *Allocator) Epoch() uint64 { return a.epoch.Load() }

// Alloc returns an in-use run that can hold req.Size bytes. Blocking requests
// may stall until the collector frees memory or ctx ends.
func (a *Allocator) Alloc(ctx context.Context, req Request) (*heap.Region, error) {
	if req.Size == 0 {
		return nil, fmt.Errorf("zero-sized request: %w", ErrInvalidRequest)
	}
	class, span := heap.Classify(req.Size, a.cfg.RegionSize, a.cfg.MediumRegions)
	al := &allocation{
		kind:  req.Kind,
		flags: req.Flags,
		class: class,
		span:  span,
		size:  uint64(span) * a.cfg.RegionSize,
	}
	return a.run(ctx, al)
}

// AllocElastic tries DesiredSize without blocking and falls back to MinSize
// with the caller's flags.
func (a *Allocator) AllocElastic(ctx context.Context, req ElasticRequest) (Grant, error) {
	if req.MinSize == 0 || req.MinSize > req.DesiredSize {
		return Grant{}, fmt.Errorf("elastic request min=%d desired=%d: %w", req.MinSize, req.DesiredSize, ErrInvalidRequest)
	}
	if req.DesiredSize > req.MinSize {
		r, err := a.Alloc(ctx, Request{Kind: req.Kind, Size: req.DesiredSize, Flags: req.Flags | FlagNonBlocking})
		if err == nil {
			return Grant{Region: r, ActualSize: req.DesiredSize}, nil
		}
		if !errors.Is(err, ErrAllocationFailed) {
			return Grant{}, err
		}
	}
	r, err := a.Alloc(ctx, Request{Kind: req.Kind, Size: req.MinSize, Flags: req.Flags})
	if err != nil {
		return Grant{}, err
	}
	return Grant{Region: r, ActualSize: req.MinSize}, nil
}

func (a *Allocator) run(ctx context.Context, al *allocation) (*heap.Region, error) {
	charged := false
	for {
		if !charged {
			if al.size > a.cap.CurrentMax() {
				return nil, fmt.Errorf("%s exceeds max capacity %s: %w",
					humanize.IBytes(al.size), humanize.IBytes(a.cap.CurrentMax()), ErrAllocationFailed)
			}
			if err := a.allocOrStall(ctx, al); err != nil {
				return nil, err
			}
		}
		r, err := a.finalize(al)
		switch {
		case err == nil:
			if !al.quiet {
				a.pacer.OnAllocation(al.size, al.kind == KindMutator)
			}
			return r, nil
		case errors.Is(err, errNoRange):
			// A stall that ends in Success has been charged again.
			if err := a.noRange(ctx, al); err != nil {
				return nil, err
			}
			charged = true
		default:
			// Commit or map failed; undo and try again with the lowered max.
			a.failed(al)
			al.pages, al.satisfied = nil, nil
			charged = false
		}
	}
}

// allocCommon charges al against capacity and collects the runs that will
// back it. Caller holds the heap lock.
func (a *Allocator) allocCommon(al *allocation) bool {
	if a.closed || !a.cap.IsAllocAllowed(al.size) {
		return false
	}
	if r := a.cache.TryTake(al.class, al.span); r != nil {
		a.takeRun(al, r)
	} else {
		increased := a.cap.IncreaseCapacity(al.size)
		if increased > 0 {
			a.cache.SetLastCommit(a.now())
		}
		if increased < al.size {
			flushed, _ := a.cache.FlushForAllocation(al.size - increased)
			for _, r := range flushed {
				a.reg.SetRunState(r, heap.StateTrash, true)
			}
			if len(flushed) == 1 && increased == 0 && flushed[0].Span() == al.span {
				a.takeRun(al, flushed[0])
			} else {
				al.pages = flushed
			}
		}
	}
	a.cap.IncreaseUsed(al.size, al.kind == KindMutator)
	return true
}

func (a *Allocator) takeRun(al *allocation, r *heap.Region) {
	a.reg.SetRunState(r, heap.StateInUse, true)
	r.Reset()
	r.SetAllocEpoch(a.epoch.Load())
	al.pages = []*heap.Region{r}
	al.satisfied = r
}

func (a *Allocator) allocOrStall(ctx context.Context, al *allocation) error {
	a.mu.Lock()
	if a.allocCommon(al) {
		a.mu.Unlock()
		return nil
	}
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if al.flags.has(FlagNonBlocking) {
		a.mu.Unlock()
		return fmt.Errorf("%s %s: %w", al.kind, humanize.IBytes(al.size), ErrAllocationFailed)
	}
	e := a.stalled.Enqueue(al, a.epoch.Load())
	a.mu.Unlock()

	a.log.Debug("allocation stalled",
		"kind", al.kind.String(),
		"size", humanize.IBytes(al.size),
		"epoch", e.Epoch)
	return a.stall(ctx, e)
}

// noRange undoes a grant that found no contiguous address range. The current
// max stays as it is: non-blocking requests fail and blocking requests stall
// until runs are released.
func (a *Allocator) noRange(ctx context.Context, al *allocation) error {
	a.mu.Lock()
	a.cap.DecreaseUsed(al.size, false)
	a.cap.DecreaseCapacity(al.size, false)
	al.pages, al.satisfied = nil, nil
	a.satisfyStalled()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if al.flags.has(FlagNonBlocking) {
		a.mu.Unlock()
		return fmt.Errorf("%s %s: %w: %w", al.kind, humanize.IBytes(al.size), errNoRange, ErrAllocationFailed)
	}
	e := a.stalled.Enqueue(al, a.epoch.Load())
	a.mu.Unlock()

	a.log.Debug("allocation stalled on address space",
		"kind", al.kind.String(),
		"size", humanize.IBytes(al.size),
		"epoch", e.Epoch)
	return a.stall(ctx, e)
}

func (a *Allocator) stall(ctx context.Context, e *stall.Entry[*allocation]) error {
	for {
		a.orch.RequestCollection(CauseAllocationStall)
		res, err := e.Wait(ctx)
		if err != nil {
			return a.cancelStall(e, err)
		}
		switch res {
		case stall.Success:
			return nil
		case stall.Retry:
			continue
		default:
			a.mu.Lock()
			closed := a.closed
			a.mu.Unlock()
			if closed {
				return fmt.Errorf("%s %s stalled in epoch %d: %w: %w",
					e.Request.kind, humanize.IBytes(e.Request.size), e.Epoch, ErrClosed, ErrAllocationFailed)
			}
			a.log.Warn("allocation failed after stall",
				"kind", e.Request.kind.String(),
				"size", humanize.IBytes(e.Request.size),
				"epoch", e.Epoch)
			return fmt.Errorf("%s %s stalled in epoch %d: %w",
				e.Request.kind, humanize.IBytes(e.Request.size), e.Epoch, ErrAllocationFailed)
		}
	}
}

// cancelStall dequeues a waiter whose context ended. A grant that raced with
// the cancellation is handed back.
func (a *Allocator) cancelStall(e *stall.Entry[*allocation], cause error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stalled.Remove(e) {
		return cause
	}
	if e.Signal().Result() == stall.Success {
		a.abandon(e.Request)
		a.satisfyStalled()
	}
	return cause
}

// abandon returns an unfinalized grant. Caller holds the heap lock.
func (a *Allocator) abandon(al *allocation) {
	var freed uint64
	now := a.now()
	for _, r := range al.pages {
		freed += r.Size()
		a.cache.PutBack(r, now)
	}
	a.cap.DecreaseUsed(al.size, false)
	a.cap.DecreaseCapacity(al.size-freed, false)
	al.pages, al.satisfied = nil, nil
}

// satisfyStalled serves stalled requests in order. Caller holds the heap lock.
func (a *Allocator) satisfyStalled() {
	a.stalled.DrainAndSatisfy(func(e *stall.Entry[*allocation]) bool {
		return a.allocCommon(e.Request)
	})
}

// DrainAndSatisfy serves as many stalled requests as the cache and capacity
// allow, in arrival order.
func (a *Allocator) DrainAndSatisfy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.satisfyStalled()
}

// BeginCycle starts a collection cycle: the epoch advances and the used
// watermarks are reset.
func (a *Allocator) BeginCycle() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cap.ResetWatermarks()
	return a.epoch.Add(1)
}

// FailStale resolves stalls after the collection of epoch ended: requests
// stalled before it fail, the oldest request of epoch asks for another
// collection.
func (a *Allocator) FailStale(epoch uint64) int {
	a.mu.Lock()
	failed := a.stalled.FailStale(epoch)
	a.mu.Unlock()
	for _, e := range failed {
		a.log.Warn("out of memory, stalled allocation failed",
			"size", humanize.IBytes(e.Request.size),
			"stalled_epoch", e.Epoch,
			"epoch", epoch)
	}
	return len(failed)
}

// Close fails every stalled request and releases the reservation.
func (a *Allocator) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.stalled.FailStale(^uint64(0))
	a.mu.Unlock()
	return a.backend.Release()
}

// Stats is a snapshot of allocator state.
type Stats struct {
	Capacity    capacity.Stats       `json:"capacity"`
	Regions     [heap.NumStates]int  `json:"regions"`
	CachedBytes uint64               `json:"cached_bytes"`
	CachedRuns  int                  `json:"cached_runs"`
	FreeRegions int                  `json:"free_regions"`
	Stall       stall.Stats          `json:"stall"`
	Epoch       uint64               `json:"epoch"`
	Set         *selector.GroupStats `json:"reclamation_set,omitempty"`
}

// Stats takes a consistent snapshot under the heap lock.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := Stats{
		Capacity:    a.cap.Snapshot(),
		Regions:     a.reg.CountByState(),
		CachedBytes: a.cache.Bytes(),
		CachedRuns:  a.cache.Len(),
		FreeRegions: a.space.FreeCount(),
		Stall:       a.stalled.Stats(),
		Epoch:       a.epoch.Load(),
	}
	if a.set != nil {
		st := a.set.Stats()
		s.Set = &st
	}
	return s
}

// Check verifies capacity and region invariants under the heap lock.
func (a *Allocator) Check() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return verify.AllInvariants(verify.Input{
		Registry: a.reg,
		Cache:    a.cache,
		Capacity: a.cap.Snapshot(),
		Set:      a.set,
	})
}
