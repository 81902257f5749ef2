package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/heap"
)

const (
	regionSize = 2 * heap.MiB
	medium     = 4
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newRegistry(t *testing.T, count int) *heap.Registry {
	t.Helper()
	reg, err := heap.NewRegistry(0x1000_0000, regionSize, count, medium)
	require.NoError(t, err)
	return reg
}

// committedRun builds an in-use committed run as the allocator would hand it out.
func committedRun(reg *heap.Registry, start, span int) *heap.Region {
	r := reg.MakeRun(start, span, heap.StateInUse)
	reg.SetRunState(r, heap.StateInUse, true)
	return r
}

func Test_Cache_RoundTrip(t *testing.T) {
	reg := newRegistry(t, 16)
	c := New(reg)

	r := committedRun(reg, 3, 1)
	c.PutBack(r, epoch)
	require.True(t, c.Contains(r))
	require.Equal(t, regionSize, c.Bytes())
	require.Equal(t, heap.StateEmptyCommitted, r.State())
	require.Equal(t, epoch, r.LastUsed())

	got := c.TryTake(heap.ClassSmall, 1)
	require.Same(t, r, got)
	require.True(t, got.Committed())
	require.Zero(t, c.Bytes())
	require.Zero(t, c.Len())

	require.Nil(t, c.TryTake(heap.ClassSmall, 1))
}

func Test_Cache_PutBackPanics(t *testing.T) {
	reg := newRegistry(t, 4)
	c := New(reg)

	uncommitted := reg.MakeRun(0, 1, heap.StateInUse)
	require.Panics(t, func() { c.PutBack(uncommitted, epoch) })

	r := committedRun(reg, 1, 1)
	c.PutBack(r, epoch)
	require.Panics(t, func() { c.PutBack(r, epoch) })
}

func Test_Cache_MostRecentFirst(t *testing.T) {
	reg := newRegistry(t, 8)
	c := New(reg)
	a := committedRun(reg, 0, 1)
	b := committedRun(reg, 1, 1)
	c.PutBack(a, epoch)
	c.PutBack(b, epoch.Add(time.Second))

	require.Same(t, b, c.TryTake(heap.ClassSmall, 1))
	require.Same(t, a, c.TryTake(heap.ClassSmall, 1))
}

func Test_Cache_LargeExactSpan(t *testing.T) {
	reg := newRegistry(t, 32)
	c := New(reg)
	six := committedRun(reg, 0, 6)
	nine := committedRun(reg, 10, 9)
	c.PutBack(six, epoch)
	c.PutBack(nine, epoch)

	require.Same(t, nine, c.TryTake(heap.ClassLarge, 9))
	require.Equal(t, 1, c.Len())
}

func Test_Cache_SplitsOversized(t *testing.T) {
	reg := newRegistry(t, 16)
	c := New(reg)
	med := committedRun(reg, 4, medium)
	c.PutBack(med, epoch)

	got := c.TryTake(heap.ClassSmall, 1)
	require.Same(t, med, got)
	require.Equal(t, 1, got.Span())
	require.Equal(t, heap.ClassSmall, got.Class())

	// The remaining three regions form a large run that stays cached.
	require.Equal(t, 1, c.LenClass(heap.ClassLarge))
	require.Equal(t, 3*regionSize, c.Bytes())
	tail := reg.At(5)
	require.True(t, tail.IsHead())
	require.True(t, tail.Committed())
	require.Equal(t, epoch, tail.LastUsed())
}

func Test_Cache_FlushForAllocation(t *testing.T) {
	reg := newRegistry(t, 32)
	c := New(reg)

	flushed, n := c.FlushForAllocation(0)
	require.Nil(t, flushed)
	require.Zero(t, n)

	small := committedRun(reg, 0, 1)
	med := committedRun(reg, 4, medium)
	large := committedRun(reg, 10, 6)
	c.PutBack(small, epoch)
	c.PutBack(med, epoch)
	c.PutBack(large, epoch)

	// Zero target is a no-op even with a populated cache.
	flushed, n = c.FlushForAllocation(0)
	require.Nil(t, flushed)
	require.Zero(t, n)
	require.Equal(t, 11*regionSize, c.Bytes())

	// Large first; the medium run is split to hit the target exactly.
	flushed, n = c.FlushForAllocation(8 * regionSize)
	require.Equal(t, 8*regionSize, n)
	require.Len(t, flushed, 2)
	require.Same(t, large, flushed[0])
	require.Same(t, med, flushed[1])
	require.Equal(t, 2, med.Span())
	require.Equal(t, 3*regionSize, c.Bytes())
	require.False(t, c.Contains(large))
	require.True(t, c.Contains(reg.At(6)))

	flushed, n = c.FlushForAllocation(100 * regionSize)
	require.Equal(t, 3*regionSize, n)
	require.Len(t, flushed, 2)
	require.Zero(t, c.Len())
}

func Test_Cache_FlushForUncommit(t *testing.T) {
	reg := newRegistry(t, 16)
	c := New(reg)
	delay := time.Minute

	old := committedRun(reg, 0, 1)
	recent := committedRun(reg, 1, 1)
	c.PutBack(old, epoch)
	c.PutBack(recent, epoch.Add(30*time.Second))

	// Within the delay after the last commit nothing is flushed.
	c.SetLastCommit(epoch)
	flushed, n, timeout := c.FlushForUncommit(regionSize*4, epoch.Add(20*time.Second), delay)
	require.Nil(t, flushed)
	require.Zero(t, n)
	require.Equal(t, 40*time.Second, timeout)

	now := epoch.Add(70 * time.Second)
	flushed, n, timeout = c.FlushForUncommit(0, now, delay)
	require.Nil(t, flushed)
	require.Zero(t, n)
	require.Equal(t, delay, timeout)

	flushed, n, timeout = c.FlushForUncommit(regionSize*4, now, delay)
	require.Equal(t, []*heap.Region{old}, flushed)
	require.Equal(t, regionSize, n)
	require.Equal(t, 20*time.Second, timeout)
	require.True(t, c.Contains(recent))
}
