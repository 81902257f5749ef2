package heapkit

import (
	"log/slog"
	"time"

	"github.com/joshuapare/heapkit/heap/alloc"
	"github.com/joshuapare/heapkit/internal/vmem"
)

// Option configures a Heap.
type Option func(*options)

type options struct {
	backend     Backend
	kind        vmem.Kind
	pacer       Pacer
	orch        Orchestrator
	log         *slog.Logger
	clock       func() time.Time
	uncommitter bool
	err         error
}

func defaultOptions() options {
	return options{kind: vmem.KindMmap, uncommitter: true}
}

// WithBackend uses b instead of creating a backend.
func WithBackend(b Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithBackendKind selects the backend by name: "mmap", "go" or "fake".
// Unknown names make New fail.
func WithBackendKind(name string) Option {
	return func(o *options) {
		o.kind, o.err = vmem.ParseKind(name)
	}
}

// WithPacer receives every successful allocation.
func WithPacer(p Pacer) Option {
	return func(o *options) { o.pacer = p }
}

// WithOrchestrator is asked for a collection when an allocation stalls.
func WithOrchestrator(orch Orchestrator) Option {
	return func(o *options) { o.orch = orch }
}

// WithLogger overrides Config.Logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithClock replaces time.Now for cache timestamps and uncommit delays.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// WithoutUncommitter leaves uncommitting to explicit Uncommit calls.
func WithoutUncommitter() Option {
	return func(o *options) { o.uncommitter = false }
}

func (o options) allocOptions() alloc.Options {
	return alloc.Options{
		Backend:      o.backend,
		Pacer:        o.pacer,
		Orchestrator: o.orch,
		Clock:        o.clock,
		Logger:       o.log,
	}
}
