package stall

import (
	"fmt"
	"sync/atomic"
)

// Result is the outcome delivered to a stalled request.
type Result int32

const (
	// Pending means the signal has not fired.
	Pending Result = iota
	// Success means the request was granted.
	Success
	// Retry means a new collection was started for the request; wait again.
	Retry
	// Failed means the request failed definitively.
	Failed
)

func (r Result) String() string {
	switch r {
	case Pending:
		return "pending"
	case Success:
		return "success"
	case Retry:
		return "retry"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("result(%d)", int32(r))
	}
}

// Signal is a one-shot completion signal. Firing it twice panics.
type Signal struct {
	done   chan struct{}
	fired  atomic.Bool
	result atomic.Int32
}

// NewSignal returns an unfired signal.
func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Fire delivers res and wakes every waiter.
func (s *Signal) Fire(res Result) {
	if res == Pending {
		panic("stall: fire with pending result")
	}
	if !s.fired.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("stall: signal fired twice (had %v, got %v)", s.Result(), res))
	}
	s.result.Store(int32(res))
	close(s.done)
}

// Done is closed once the signal fires.
func (s *Signal) Done() <-chan struct{} { return s.done }

// Fired reports whether the signal has fired.
func (s *Signal) Fired() bool { return s.fired.Load() }

// Result returns the delivered result, or Pending.
func (s *Signal) Result() Result {
	select {
	case <-s.done:
		return Result(s.result.Load())
	default:
		return Pending
	}
}
