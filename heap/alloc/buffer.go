package alloc

import (
	"context"
	"fmt"

	"github.com/joshuapare/heapkit/heap"
)

// Buffer is a per-worker allocation buffer. It bump-allocates inside one
// granted run and refills through elastic requests when the run is full.
// A Buffer belongs to a single goroutine.
type Buffer struct {
	a       *Allocator
	kind    Kind
	flags   Flags
	minSize uint64
	desired uint64

	cur     *heap.Region
	limit   uint64
	retired []*heap.Region
}

// NewBuffer returns an empty buffer that asks for desired bytes per refill and
// accepts minSize.
func (a *Allocator) NewBuffer(kind Kind, minSize, desired uint64) *Buffer {
	return &Buffer{a: a, kind: kind, minSize: minSize, desired: max(desired, minSize)}
}

// SetFlags sets the flags of later refills. With FlagNonBlocking a refill
// fails instead of stalling.
func (b *Buffer) SetFlags(f Flags) { b.flags = f }

// Alloc reserves n bytes and returns their address.
func (b *Buffer) Alloc(ctx context.Context, n uint64) (uintptr, error) {
	if n == 0 {
		return 0, fmt.Errorf("buffer alloc of zero bytes: %w", ErrInvalidRequest)
	}
	if b.cur != nil {
		if addr, ok := b.cur.Advance(n, b.limit); ok {
			return addr, nil
		}
	}
	if err := b.refill(ctx, n); err != nil {
		return 0, err
	}
	addr, ok := b.cur.Advance(n, b.limit)
	if !ok {
		return 0, fmt.Errorf("buffer: %d bytes do not fit a fresh %s: %w", n, b.cur, ErrInvalidRequest)
	}
	return addr, nil
}

func (b *Buffer) refill(ctx context.Context, n uint64) error {
	g, err := b.a.AllocElastic(ctx, ElasticRequest{
		Kind:        b.kind,
		MinSize:     max(n, b.minSize),
		DesiredSize: max(n, b.desired),
		Flags:       b.flags,
	})
	if err != nil {
		return err
	}
	b.retire()
	b.cur = g.Region
	// The run is rounded up to whole regions; the buffer fills only the
	// granted size.
	b.limit = g.ActualSize
	return nil
}

func (b *Buffer) retire() {
	if b.cur != nil {
		b.retired = append(b.retired, b.cur)
		b.cur = nil
	}
}

// Current returns the run being filled, or nil.
func (b *Buffer) Current() *heap.Region { return b.cur }

// Flush retires the current run and returns every run the buffer filled since
// the last flush. The runs stay in use; the caller owns them.
func (b *Buffer) Flush() []*heap.Region {
	b.retire()
	out := b.retired
	b.retired = nil
	return out
}
