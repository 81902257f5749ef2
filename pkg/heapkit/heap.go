package heapkit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/heap/alloc"
	"github.com/joshuapare/heapkit/heap/selector"
	"github.com/joshuapare/heapkit/heap/uncommit"
	"github.com/joshuapare/heapkit/internal/logger"
	"github.com/joshuapare/heapkit/internal/vmem"
)

// Re-exported types so callers need a single import.
type (
	Config           = heap.Config
	Region           = heap.Region
	Kind             = alloc.Kind
	Request          = alloc.Request
	ElasticRequest   = alloc.ElasticRequest
	Grant            = alloc.Grant
	Buffer           = alloc.Buffer
	Stats            = alloc.Stats
	Pacer            = alloc.Pacer
	PacerFunc        = alloc.PacerFunc
	Cause            = alloc.Cause
	Orchestrator     = alloc.Orchestrator
	OrchestratorFunc = alloc.OrchestratorFunc
	ReclamationSet   = selector.ReclamationSet
	RegionInfo       = alloc.RegionInfo
	Backend          = vmem.Backend
)

const (
	KiB = heap.KiB
	MiB = heap.MiB
	GiB = heap.GiB

	KindMutator   = alloc.KindMutator
	KindCollector = alloc.KindCollector

	FlagNonBlocking = alloc.FlagNonBlocking
	FlagLowAddress  = alloc.FlagLowAddress

	CauseAllocationStall = alloc.CauseAllocationStall
	CauseExplicit        = alloc.CauseExplicit
	CauseTimer           = alloc.CauseTimer
)

var (
	ErrAllocationFailed = alloc.ErrAllocationFailed
	ErrReserve          = heap.ErrReserve
	ErrInvalidConfig    = heap.ErrInvalidConfig
)

// DefaultConfig returns heap.DefaultConfig.
func DefaultConfig() Config { return heap.DefaultConfig() }

// Heap is a handle on one heap: its allocator and background uncommitter.
type Heap struct {
	a   *alloc.Allocator
	unc *uncommit.Uncommitter
	log *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// New reserves the heap and starts the uncommitter when cfg enables it.
func New(cfg Config, opts ...Option) (*Heap, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.err != nil {
		return nil, fmt.Errorf("heapkit: %w", o.err)
	}
	if o.backend == nil {
		b, err := vmem.New(o.kind, cfg.RegionSize)
		if err != nil {
			return nil, fmt.Errorf("heapkit: %s backend: %w", o.kind, err)
		}
		o.backend = b
	}
	if o.log == nil {
		o.log = cfg.Logger
	}
	o.log = logger.Or(o.log)

	a, err := alloc.New(cfg, o.allocOptions())
	if err != nil {
		return nil, err
	}
	h := &Heap{a: a, log: o.log}
	if cfg.UncommitEnabled && o.uncommitter {
		h.unc = uncommit.New(a, o.log)
		h.unc.Start(context.Background())
	}
	return h, nil
}

var (
	defaultOnce sync.Once
	defaultHeap *Heap
	defaultErr  error
)

// Default returns the process heap, created on first use with DefaultConfig.
func Default() (*Heap, error) {
	defaultOnce.Do(func() {
		defaultHeap, defaultErr = New(DefaultConfig())
	})
	return defaultHeap, defaultErr
}

// Allocator exposes the underlying allocator.
func (h *Heap) Allocator() *alloc.Allocator { return h.a }

// Alloc returns a mutator run that holds size bytes, stalling if needed.
func (h *Heap) Alloc(ctx context.Context, size uint64) (*Region, error) {
	return h.a.Alloc(ctx, Request{Kind: KindMutator, Size: size})
}

// AllocRequest serves an explicit request.
func (h *Heap) AllocRequest(ctx context.Context, req Request) (*Region, error) {
	return h.a.Alloc(ctx, req)
}

// AllocElastic serves DesiredSize when it is free and MinSize otherwise.
func (h *Heap) AllocElastic(ctx context.Context, req ElasticRequest) (Grant, error) {
	return h.a.AllocElastic(ctx, req)
}

// NewBuffer returns a per-goroutine bump allocation buffer.
func (h *Heap) NewBuffer(kind Kind, minSize, desired uint64) *Buffer {
	return h.a.NewBuffer(kind, minSize, desired)
}

// Free returns an in-use run.
func (h *Heap) Free(r *Region) { h.a.Free(r) }

// Pin keeps r out of reclamation sets.
func (h *Heap) Pin(r *Region) error { return h.a.Pin(r) }

// Unpin reverses Pin.
func (h *Heap) Unpin(r *Region) error { return h.a.Unpin(r) }

// BeginCycle starts a collection cycle and returns its epoch.
func (h *Heap) BeginCycle() uint64 { return h.a.BeginCycle() }

// Select picks the reclamation set from the recorded live bytes.
func (h *Heap) Select() *ReclamationSet { return h.a.Select() }

// ReclaimSet frees an evacuated reclamation set.
func (h *Heap) ReclaimSet(set *ReclamationSet) { h.a.ReclaimSet(set) }

// Reclaim frees individual evacuated runs.
func (h *Heap) Reclaim(runs ...*Region) { h.a.Reclaim(runs...) }

// EndCycle resolves stalls once the cycle of epoch has finished and returns
// how many failed.
func (h *Heap) EndCycle(epoch uint64) int {
	h.a.DrainAndSatisfy()
	return h.a.FailStale(epoch)
}

// SetSoftMaxCapacity changes the pacing target. Zero means the current max.
// Uncommit keeps retaining max(used, min); the soft max only steers pacing.
func (h *Heap) SetSoftMaxCapacity(bytes uint64) error {
	cfg := h.a.Config()
	if bytes > cfg.MaxCapacity || bytes%cfg.RegionSize != 0 {
		return fmt.Errorf("soft max %s must be a multiple of %s and at most %s: %w",
			humanize.IBytes(bytes), humanize.IBytes(cfg.RegionSize), humanize.IBytes(cfg.MaxCapacity), ErrInvalidConfig)
	}
	h.a.Capacity().SetSoftMax(bytes)
	return nil
}

// Uncommit runs one uncommit pass now.
func (h *Heap) Uncommit() (uint64, time.Duration) { return h.a.Uncommit() }

// Regions returns a snapshot of every region of the reservation.
func (h *Heap) Regions() []RegionInfo { return h.a.Regions() }

// Stats returns a snapshot of the heap.
func (h *Heap) Stats() Stats { return h.a.Stats() }

// Verify checks the heap invariants.
func (h *Heap) Verify() error { return h.a.Check() }

// Close stops the uncommitter, fails stalled requests and releases the
// reservation. Regions must not be used afterwards.
func (h *Heap) Close() error {
	h.closeOnce.Do(func() {
		if h.unc != nil {
			h.unc.Stop()
		}
		h.closeErr = h.a.Close()
		h.log.Info("heap closed")
	})
	return h.closeErr
}
