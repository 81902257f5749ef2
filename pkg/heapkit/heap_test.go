package heapkit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/pkg/heapkit"
)

func testConfig() heapkit.Config {
	cfg := heapkit.DefaultConfig()
	cfg.MinCapacity = 0
	cfg.InitialCapacity = 0
	cfg.MaxCapacity = 64 * heapkit.MiB
	cfg.RegionSize = 4 * heapkit.MiB
	cfg.MediumRegions = 4
	cfg.AddressSpaceFactor = 2
	return cfg
}

func newFakeHeap(t *testing.T, cfg heapkit.Config, opts ...heapkit.Option) *heapkit.Heap {
	t.Helper()
	opts = append([]heapkit.Option{heapkit.WithBackendKind("fake")}, opts...)
	h, err := heapkit.New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, h.Close()) })
	return h
}

func Test_Heap_Cycle(t *testing.T) {
	h := newFakeHeap(t, testConfig(), heapkit.WithoutUncommitter())
	ctx := context.Background()

	var runs []*heapkit.Region
	for _, pct := range []uint64{0, 10, 90, 100} {
		r, err := h.AllocRequest(ctx, heapkit.Request{Size: 4 * heapkit.MiB, Flags: heapkit.FlagLowAddress})
		require.NoError(t, err)
		r.Fill()
		require.NoError(t, r.SetLiveBytes(r.Size()*pct/100))
		runs = append(runs, r)
	}

	epoch := h.BeginCycle()
	set := h.Select()
	require.Equal(t, []*heapkit.Region{runs[0]}, set.Empty())
	require.Equal(t, []*heapkit.Region{runs[1]}, set.Relocate())
	require.NoError(t, h.Verify())

	h.ReclaimSet(set)
	require.Zero(t, h.EndCycle(epoch))

	s := h.Stats()
	require.Equal(t, 8*heapkit.MiB, s.Capacity.Used)
	require.Equal(t, 8*heapkit.MiB, s.Capacity.Reclaimed)
	require.Equal(t, 8*heapkit.MiB, s.CachedBytes)
	require.NoError(t, h.Verify())
}

func Test_Heap_EndCycleFailsOlderStalls(t *testing.T) {
	requested := make(chan struct{}, 8)
	cfg := testConfig()
	cfg.MaxCapacity = 8 * heapkit.MiB
	h := newFakeHeap(t, cfg, heapkit.WithOrchestrator(heapkit.OrchestratorFunc(func(heapkit.Cause) {
		requested <- struct{}{}
	})))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := h.Alloc(ctx, 4*heapkit.MiB)
		require.NoError(t, err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.Alloc(ctx, 4*heapkit.MiB)
		done <- err
	}()
	select {
	case <-requested:
	case <-time.After(5 * time.Second):
		t.Fatal("no collection requested")
	}

	epoch := h.BeginCycle()
	require.Equal(t, 1, h.EndCycle(epoch))
	require.ErrorIs(t, <-done, heapkit.ErrAllocationFailed)
}

func Test_Heap_SoftMaxCapacity(t *testing.T) {
	h := newFakeHeap(t, testConfig())

	require.NoError(t, h.SetSoftMaxCapacity(32*heapkit.MiB))
	require.Equal(t, 32*heapkit.MiB, h.Stats().Capacity.SoftMax)

	require.ErrorIs(t, h.SetSoftMaxCapacity(3*heapkit.MiB), heapkit.ErrInvalidConfig)
	require.ErrorIs(t, h.SetSoftMaxCapacity(128*heapkit.MiB), heapkit.ErrInvalidConfig)

	require.NoError(t, h.SetSoftMaxCapacity(0))
	require.Equal(t, 64*heapkit.MiB, h.Stats().Capacity.SoftMax)
}

func Test_Heap_BackgroundUncommit(t *testing.T) {
	cfg := testConfig()
	cfg.MinCapacity = 8 * heapkit.MiB
	cfg.InitialCapacity = 32 * heapkit.MiB
	cfg.UncommitDelay = time.Millisecond
	h := newFakeHeap(t, cfg)

	require.Eventually(t, func() bool {
		return h.Stats().Capacity.Committed == 8*heapkit.MiB
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, h.Verify())
}

func Test_Heap_Buffer(t *testing.T) {
	h := newFakeHeap(t, testConfig(), heapkit.WithoutUncommitter())
	ctx := context.Background()

	b := h.NewBuffer(heapkit.KindMutator, 4*heapkit.MiB, 4*heapkit.MiB)
	first, err := b.Alloc(ctx, 1024)
	require.NoError(t, err)
	second, err := b.Alloc(ctx, 1024)
	require.NoError(t, err)
	require.Equal(t, first+1024, second)
	require.Equal(t, uint64(2048), b.Current().Allocated())

	// A full run is retired and a fresh one granted.
	_, err = b.Alloc(ctx, 4*heapkit.MiB-1024)
	require.NoError(t, err)
	runs := b.Flush()
	require.Len(t, runs, 2)
	require.Nil(t, b.Current())
	for _, r := range runs {
		h.Free(r)
	}
	require.Zero(t, h.Stats().Capacity.Used)
}

func Test_Heap_Errors(t *testing.T) {
	_, err := heapkit.New(testConfig(), heapkit.WithBackendKind("tape"))
	require.Error(t, err)

	cfg := testConfig()
	cfg.MediumRegions = 1
	_, err = heapkit.New(cfg, heapkit.WithBackendKind("fake"))
	require.ErrorIs(t, err, heapkit.ErrInvalidConfig)
}

func Test_Heap_CloseIsIdempotent(t *testing.T) {
	h, err := heapkit.New(testConfig(), heapkit.WithBackendKind("go"))
	require.NoError(t, err)
	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
}

func Test_Heap_Default(t *testing.T) {
	h1, err1 := heapkit.Default()
	h2, err2 := heapkit.Default()
	require.Same(t, h1, h2)
	require.Equal(t, err1, err2)
}
