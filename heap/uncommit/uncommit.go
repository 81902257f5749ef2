// Package uncommit runs the background pass that hands cold cached memory
// back to the operating system.
package uncommit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/joshuapare/heapkit/internal/logger"
)

// minWait bounds how often an idle pass can run.
const minWait = 10 * time.Millisecond

// Source releases one chunk per call and says how long to wait before the
// next one. *alloc.Allocator implements it.
type Source interface {
	Uncommit() (uint64, time.Duration)
}

// Uncommitter calls a Source in a loop on its own goroutine.
type Uncommitter struct {
	src Source
	log *slog.Logger

	total atomic.Uint64
	runs  atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a stopped uncommitter. A nil logger uses the package logger.
func New(src Source, log *slog.Logger) *Uncommitter {
	return &Uncommitter{
		src: src,
		log: logger.Or(log),
	}
}

// Start launches the loop. It runs until ctx ends or Stop is called.
// Starting a running uncommitter does nothing.
func (u *Uncommitter) Start(ctx context.Context) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.done != nil {
		return
	}
	ctx, u.cancel = context.WithCancel(ctx)
	u.done = make(chan struct{})
	go u.loop(ctx, u.done)
}

// Stop ends the loop and waits for an in-progress pass to finish.
func (u *Uncommitter) Stop() {
	u.mu.Lock()
	cancel, done := u.cancel, u.done
	u.cancel, u.done = nil, nil
	u.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Total returns the bytes uncommitted since New.
func (u *Uncommitter) Total() uint64 { return u.total.Load() }

// Passes returns how many rounds released memory.
func (u *Uncommitter) Passes() uint64 { return u.runs.Load() }

func (u *Uncommitter) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		wait := u.round(ctx)
		timer.Reset(max(wait, minWait))
	}
}

// round uncommits chunks until the source has nothing more to give.
func (u *Uncommitter) round(ctx context.Context) time.Duration {
	var released uint64
	for {
		n, wait := u.src.Uncommit()
		if n == 0 || ctx.Err() != nil {
			if released > 0 {
				u.runs.Add(1)
				u.log.Info("uncommitted unused memory",
					"bytes", humanize.IBytes(released),
					"total", humanize.IBytes(u.total.Load()))
			}
			return wait
		}
		released += n
		u.total.Add(n)
	}
}
