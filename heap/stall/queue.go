// Package stall implements the queue of blocked allocation requests.
//
// A stalled request waits on its own one-shot Signal. Requests are satisfied
// strictly in arrival order: draining stops at the first request that cannot
// be served, even if a later one could. Each entry carries the collection
// epoch in which it stalled; when a collection ends without freeing enough
// memory, entries from older epochs fail and the oldest current-epoch entry
// asks for one more collection.
//
// Queue is not safe for concurrent use. The allocator guards it with the heap
// lock; waiting on an entry needs no lock.
package stall

import (
	"container/list"
	"context"
	"sync/atomic"
)

// Entry is one stalled request.
type Entry[T any] struct {
	Request T
	Epoch   uint64

	signal atomic.Pointer[Signal]
	elem   *list.Element
}

// Signal returns the signal the waiter should currently wait on.
func (e *Entry[T]) Signal() *Signal { return e.signal.Load() }

// Queued reports whether the entry is still in its queue.
func (e *Entry[T]) Queued() bool { return e.elem != nil }

// Wait blocks until the entry's current signal fires or ctx ends.
func (e *Entry[T]) Wait(ctx context.Context) (Result, error) {
	sig := e.signal.Load()
	select {
	case <-sig.Done():
		return sig.Result(), nil
	case <-ctx.Done():
		return Pending, ctx.Err()
	}
}

// Stats counts queue activity since creation.
type Stats struct {
	Queued    int    `json:"queued"`
	Stalled   uint64 `json:"stalled"`
	Satisfied uint64 `json:"satisfied"`
	Retried   uint64 `json:"retried"`
	Failed    uint64 `json:"failed"`
	Cancelled uint64 `json:"cancelled"`
}

// Queue is a FIFO of stalled requests.
type Queue[T any] struct {
	l     list.List
	stats Stats
}

// NewQueue returns an empty queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Len returns the number of queued entries.
func (q *Queue[T]) Len() int { return q.l.Len() }

// Stats returns the activity counters.
func (q *Queue[T]) Stats() Stats {
	s := q.stats
	s.Queued = q.l.Len()
	return s
}

// Enqueue appends req stalled in epoch.
func (q *Queue[T]) Enqueue(req T, epoch uint64) *Entry[T] {
	e := &Entry[T]{Request: req, Epoch: epoch}
	e.signal.Store(NewSignal())
	e.elem = q.l.PushBack(e)
	q.stats.Stalled++
	return e
}

// Front returns the oldest entry or nil.
func (q *Queue[T]) Front() *Entry[T] {
	if f := q.l.Front(); f != nil {
		return f.Value.(*Entry[T])
	}
	return nil
}

// Each calls fn for every entry in order.
func (q *Queue[T]) Each(fn func(*Entry[T])) {
	for el := q.l.Front(); el != nil; el = el.Next() {
		fn(el.Value.(*Entry[T]))
	}
}

// Remove dequeues e without firing it, for waiters that give up. It reports
// whether e was still queued.
func (q *Queue[T]) Remove(e *Entry[T]) bool {
	if e.elem == nil {
		return false
	}
	q.l.Remove(e.elem)
	e.elem = nil
	q.stats.Cancelled++
	return true
}

func (q *Queue[T]) pop(e *Entry[T]) {
	q.l.Remove(e.elem)
	e.elem = nil
}

// DrainAndSatisfy offers entries to try in FIFO order. Entries for which try
// returns true are dequeued and woken with Success; draining stops at the
// first entry try cannot serve. It returns the number of satisfied entries.
func (q *Queue[T]) DrainAndSatisfy(try func(*Entry[T]) bool) int {
	n := 0
	for e := q.Front(); e != nil; e = q.Front() {
		if !try(e) {
			break
		}
		q.pop(e)
		q.stats.Satisfied++
		e.signal.Load().Fire(Success)
		n++
	}
	return n
}

// FailStale resolves the queue after a collection of epoch finished. Entries
// stalled before epoch are dequeued and woken with Failed. The first entry of
// epoch itself stays queued and is woken with Retry on a fresh signal, so its
// waiter requests one more collection. It returns the failed entries.
func (q *Queue[T]) FailStale(epoch uint64) []*Entry[T] {
	var failed []*Entry[T]
	for e := q.Front(); e != nil; e = q.Front() {
		if e.Epoch >= epoch {
			old := e.signal.Swap(NewSignal())
			q.stats.Retried++
			old.Fire(Retry)
			return failed
		}
		q.pop(e)
		q.stats.Failed++
		e.signal.Load().Fire(Failed)
		failed = append(failed, e)
	}
	return failed
}
