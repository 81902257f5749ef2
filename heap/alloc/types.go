package alloc

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/internal/vmem"
)

// Kind tells mutator allocations from collector allocations.
type Kind uint8

const (
	KindMutator Kind = iota
	KindCollector
)

func (k Kind) String() string {
	if k == KindCollector {
		return "collector"
	}
	return "mutator"
}

// Flags modify how a request is served.
type Flags uint8

const (
	// FlagNonBlocking fails instead of stalling when memory is short.
	FlagNonBlocking Flags = 1 << iota
	// FlagLowAddress places the run at the lowest free address.
	FlagLowAddress
)

func (f Flags) has(flag Flags) bool { return f&flag != 0 }

// Request asks for a run large enough to hold Size bytes.
type Request struct {
	Kind  Kind
	Size  uint64
	Flags Flags
}

// ElasticRequest asks for DesiredSize bytes and accepts MinSize.
type ElasticRequest struct {
	Kind        Kind
	MinSize     uint64
	DesiredSize uint64
	Flags       Flags
}

// Grant is the result of an elastic request.
type Grant struct {
	Region     *heap.Region
	ActualSize uint64
}

// Cause says why a collection is requested.
type Cause uint8

const (
	CauseAllocationStall Cause = iota
	CauseExplicit
	CauseTimer
)

func (c Cause) String() string {
	switch c {
	case CauseAllocationStall:
		return "allocation-stall"
	case CauseExplicit:
		return "explicit"
	case CauseTimer:
		return "timer"
	default:
		return fmt.Sprintf("cause(%d)", uint8(c))
	}
}

// Pacer is told about every grant.
type Pacer interface {
	OnAllocation(bytes uint64, mutator bool)
}

// PacerFunc adapts a function to Pacer.
type PacerFunc func(bytes uint64, mutator bool)

func (f PacerFunc) OnAllocation(bytes uint64, mutator bool) { f(bytes, mutator) }

// Orchestrator starts collection cycles. RequestCollection must not block on
// the allocator.
type Orchestrator interface {
	RequestCollection(cause Cause)
}

// OrchestratorFunc adapts a function to Orchestrator.
type OrchestratorFunc func(cause Cause)

func (f OrchestratorFunc) RequestCollection(cause Cause) { f(cause) }

type nopPacer struct{}

func (nopPacer) OnAllocation(uint64, bool) {}

type nopOrchestrator struct{}

func (nopOrchestrator) RequestCollection(Cause) {}

// Options holds the collaborators of an Allocator. Zero values are replaced
// by defaults: an mmap backend, no-op pacer and orchestrator, time.Now and the
// logger from the heap configuration.
type Options struct {
	Backend      vmem.Backend
	Pacer        Pacer
	Orchestrator Orchestrator
	Clock        func() time.Time
	Logger       *slog.Logger
}
