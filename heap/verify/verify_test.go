package verify

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/heap/cache"
	"github.com/joshuapare/heapkit/heap/capacity"
	"github.com/joshuapare/heapkit/heap/selector"
)

const regionSize = 2 * heap.MiB

func setup(t *testing.T) (*heap.Registry, *cache.Cache) {
	t.Helper()
	reg, err := heap.NewRegistry(0x1000_0000, regionSize, 16, 4)
	require.NoError(t, err)
	return reg, cache.New(reg)
}

func requireType(t *testing.T, err error, typ string) {
	t.Helper()
	var ve *ValidationError
	require.True(t, errors.As(err, &ve), "got %v", err)
	require.Equal(t, typ, ve.Type)
}

func Test_Verify_Capacity(t *testing.T) {
	ok := capacity.Stats{Max: 100, CurrentMax: 80, Committed: 60, Used: 40, Claimed: 10}
	require.NoError(t, Capacity(ok))

	bad := ok
	bad.Used = 70
	requireType(t, Capacity(bad), "Capacity")

	bad = ok
	bad.Committed = 90
	requireType(t, Capacity(bad), "Capacity")

	bad = ok
	bad.CurrentMax = 120
	require.ErrorContains(t, Capacity(bad), "current max 120 exceeds max 100")
}

func Test_Verify_CleanHeap(t *testing.T) {
	reg, c := setup(t)
	run := reg.MakeRun(0, 4, heap.StateInUse)
	reg.SetRunState(run, heap.StateInUse, true)
	cached := reg.MakeRun(4, 1, heap.StateInUse)
	reg.SetRunState(cached, heap.StateInUse, true)
	c.PutBack(cached, time.Now())

	in := Input{
		Registry: reg,
		Cache:    c,
		Capacity: capacity.Stats{Max: 32 * heap.MiB, CurrentMax: 32 * heap.MiB, Committed: 10 * heap.MiB, Used: 8 * heap.MiB},
	}
	require.NoError(t, AllInvariants(in))

	in.Capacity.Used = 6 * heap.MiB
	requireType(t, AllInvariants(in), "Usage")
}

func Test_Verify_UncachedEmptyCommitted(t *testing.T) {
	reg, c := setup(t)
	r := reg.MakeRun(2, 1, heap.StateEmptyCommitted)
	r.SetCommitted(true)
	err := Regions(reg, c)
	requireType(t, err, "Region")
	require.ErrorContains(t, err, "region 2")
}

func Test_Verify_BrokenContinuation(t *testing.T) {
	reg, c := setup(t)
	run := reg.MakeRun(0, 3, heap.StateInUse)
	reg.SetRunState(run, heap.StateInUse, true)
	reg.At(1).SetState(heap.StateTrash)
	require.ErrorContains(t, Regions(reg, c), "continuation 1")
}

func Test_Verify_PinnedReclaiming(t *testing.T) {
	reg, c := setup(t)
	r := reg.MakeRun(0, 1, heap.StatePinned)
	reg.SetRunState(r, heap.StatePinned, true)
	r.SetReclaiming(true)
	require.ErrorContains(t, Regions(reg, c), "pinned run is in the reclamation set")
}

func Test_Verify_LiveBytes(t *testing.T) {
	reg, c := setup(t)
	r := reg.MakeRun(0, 1, heap.StateInUse)
	reg.SetRunState(r, heap.StateInUse, true)
	_, ok := r.Advance(1024, r.Size())
	require.True(t, ok)
	require.NoError(t, r.SetLiveBytes(512))
	require.NoError(t, Regions(reg, c))
	require.ErrorIs(t, r.SetLiveBytes(2048), heap.ErrLiveBytes)
}

func Test_Verify_ReclaimedRunLeavesSet(t *testing.T) {
	reg, c := setup(t)
	r := reg.MakeRun(0, 1, heap.StateInUse)
	reg.SetRunState(r, heap.StateInUse, true)

	sel := selector.New(selector.Config{RegionSize: regionSize, MediumRegions: 4, FragmentationLimit: 25})
	sel.Register(r)
	set := sel.Select()
	require.Len(t, set.Empty(), 1)
	r.SetReclaiming(true)
	require.NoError(t, ReclamationSet(set, c))

	c.PutBack(r, time.Now())
	require.ErrorContains(t, ReclamationSet(set, c), "selected run is cached")

	// Reclaiming resets the run before it is cached; a member without its
	// mark is stale.
	r.Reset()
	require.ErrorContains(t, ReclamationSet(set, c), "selected run is not marked")

	require.True(t, set.Remove(r))
	require.False(t, set.Remove(r))
	require.NoError(t, ReclamationSet(set, c))
}
