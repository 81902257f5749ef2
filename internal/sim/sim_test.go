package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/pkg/heapkit"
)

func testOptions() Options {
	o := DefaultOptions()
	o.Workers = 3
	o.MaxSize = 6 * heap.MiB
	o.Garbage = 0.6
	o.Seed = 7
	o.Interval = 10 * time.Millisecond
	return o
}

func newSim(t *testing.T, opts Options) (*Simulation, *heapkit.Heap) {
	t.Helper()
	s, err := New(opts)
	require.NoError(t, err)

	cfg := heapkit.DefaultConfig()
	cfg.MinCapacity = 0
	cfg.InitialCapacity = 0
	cfg.MaxCapacity = 64 * heap.MiB
	cfg.RegionSize = 4 * heap.MiB
	cfg.MediumRegions = 4
	cfg.UncommitEnabled = false
	cfg.AddressSpaceFactor = 2

	h, err := heapkit.New(cfg,
		heapkit.WithBackendKind("fake"),
		heapkit.WithOrchestrator(s),
		heapkit.WithPacer(s))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	s.Attach(h)
	return s, h
}

func Test_Options_Validate(t *testing.T) {
	require.NoError(t, DefaultOptions().Validate())

	for name, mutate := range map[string]func(*Options){
		"workers":  func(o *Options) { o.Workers = 0 },
		"min zero": func(o *Options) { o.MinSize = 0 },
		"min>max":  func(o *Options) { o.MinSize = o.MaxSize + 1 },
		"garbage":  func(o *Options) { o.Garbage = 1.5 },
		"interval": func(o *Options) { o.Interval = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			o := DefaultOptions()
			mutate(&o)
			require.ErrorIs(t, o.Validate(), ErrOptions)
			_, err := New(o)
			require.ErrorIs(t, err, ErrOptions)
		})
	}
}

func Test_Simulation_RunWithoutHeap(t *testing.T) {
	s, err := New(testOptions())
	require.NoError(t, err)
	require.ErrorIs(t, s.Run(context.Background()), ErrOptions)
	s.Cycle()
}

func Test_Simulation_Run(t *testing.T) {
	s, h := newSim(t, testOptions())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	sum := s.Summary()
	require.NotZero(t, sum.Allocations)
	require.NotZero(t, sum.Cycles)
	require.Equal(t, 3, sum.Workers)
	require.NoError(t, h.Verify())
}

func Test_Simulation_CycleReclaimsDead(t *testing.T) {
	s, h := newSim(t, testOptions())

	r, err := h.Alloc(context.Background(), 4*heap.MiB)
	require.NoError(t, err)
	r.Fill()
	s.w.add(r, 0)

	s.Cycle()

	require.Zero(t, s.w.len())
	require.Equal(t, uint64(1), s.Summary().Cycles)
	require.Zero(t, h.Stats().Capacity.Used)
	require.NoError(t, h.Verify())
}

func Test_Simulation_CycleCompactsSparse(t *testing.T) {
	s, h := newSim(t, testOptions())

	var sources []*heap.Region
	for range 2 {
		r, err := h.Alloc(context.Background(), 4*heap.MiB)
		require.NoError(t, err)
		r.Fill()
		s.w.add(r, 256*heap.KiB)
		s.w.add(r, 128*heap.KiB)
		s.w.objects[len(s.w.objects)-1].dead = true
		sources = append(sources, r)
	}

	s.Cycle()

	sum := s.Summary()
	require.Equal(t, uint64(2), sum.Evacuated)
	require.Equal(t, uint64(2), sum.Relocated)
	require.Equal(t, uint64(512*heap.KiB), sum.RelocatedBytes)
	require.Equal(t, 2, sum.Objects)

	// Both survivors share one collector run.
	s.w.mu.Lock()
	dest := s.w.objects[0].region
	require.Same(t, dest, s.w.objects[1].region)
	live, ok := s.w.liveIn(dest)
	s.w.mu.Unlock()
	require.True(t, ok)
	require.Equal(t, uint64(512*heap.KiB), live)
	require.NotContains(t, sources, dest)

	require.Equal(t, 4*heap.MiB, h.Stats().Capacity.Used)
	require.NoError(t, h.Verify())
}

func Test_Simulation_SingleSparseRunStays(t *testing.T) {
	s, h := newSim(t, testOptions())

	r, err := h.Alloc(context.Background(), 4*heap.MiB)
	require.NoError(t, err)
	r.Fill()
	s.w.add(r, 256*heap.KiB)

	s.Cycle()

	require.Zero(t, s.Summary().Evacuated)
	require.Equal(t, uint64(256*heap.KiB), r.LiveBytes())
	require.NoError(t, h.Verify())
}

func Test_Simulation_CycleKeepsUnpublished(t *testing.T) {
	s, h := newSim(t, testOptions())

	r, err := h.Alloc(context.Background(), 4*heap.MiB)
	require.NoError(t, err)

	s.Cycle()

	require.Equal(t, heap.StateInUse, r.State())
	require.Equal(t, r.Size(), r.LiveBytes())
	require.Equal(t, r.Size(), h.Stats().Capacity.Used)
}

func Test_Simulation_RejectedLiveBytesKeepRun(t *testing.T) {
	s, h := newSim(t, testOptions())

	// Published without bumping the watermark.
	r, err := h.Alloc(context.Background(), 4*heap.MiB)
	require.NoError(t, err)
	s.w.add(r, heap.MiB)

	s.Cycle()

	sum := s.Summary()
	require.Equal(t, uint64(1), sum.LiveErrors)
	require.Equal(t, 1, sum.Objects)
	require.Equal(t, heap.StateInUse, r.State())
	require.Equal(t, r.Size(), r.LiveBytes())
	require.NoError(t, h.Verify())
}

func Test_Simulation_Pause(t *testing.T) {
	s, _ := newSim(t, testOptions())
	s.Pause(true)
	require.True(t, s.Paused())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))
	require.Zero(t, s.Summary().Allocations)
}

func Test_Simulation_PacerRequestsCollection(t *testing.T) {
	s, h := newSim(t, testOptions())

	for range 13 {
		_, err := h.Alloc(context.Background(), 4*heap.MiB)
		require.NoError(t, err)
	}
	select {
	case <-s.trigger:
	default:
		t.Fatal("no collection requested above three quarters of the soft max")
	}
}
