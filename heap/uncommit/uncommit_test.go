package uncommit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/heap/alloc"
	"github.com/joshuapare/heapkit/internal/testutil"
)

// scripted hands out fixed chunks and then reports an idle wait.
type scripted struct {
	mu     sync.Mutex
	chunks []uint64
	calls  int
	wait   time.Duration
}

func (s *scripted) Uncommit() (uint64, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.chunks) == 0 {
		return 0, s.wait
	}
	n := s.chunks[0]
	s.chunks = s.chunks[1:]
	return n, s.wait
}

func (s *scripted) add(n ...uint64) {
	s.mu.Lock()
	s.chunks = append(s.chunks, n...)
	s.mu.Unlock()
}

func (s *scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func Test_Uncommitter_DrainsSource(t *testing.T) {
	src := &scripted{chunks: []uint64{4 * heap.MiB, 4 * heap.MiB, 2 * heap.MiB}, wait: time.Hour}
	u := New(src, nil)
	u.Start(context.Background())
	defer u.Stop()

	require.Eventually(t, func() bool { return u.Total() == 10*heap.MiB }, 5*time.Second, time.Millisecond)
	require.Equal(t, uint64(1), u.Passes())
}

func Test_Uncommitter_RunsAfterReportedWait(t *testing.T) {
	src := &scripted{wait: 20 * time.Millisecond}
	u := New(src, nil)
	u.Start(context.Background())
	defer u.Stop()

	require.Eventually(t, func() bool { return src.Calls() >= 1 }, 5*time.Second, time.Millisecond)
	src.add(8 * heap.MiB)
	require.Eventually(t, func() bool { return u.Total() == 8*heap.MiB }, 5*time.Second, time.Millisecond)
}

func Test_Uncommitter_StopIsIdempotent(t *testing.T) {
	u := New(&scripted{wait: time.Hour}, nil)
	u.Stop()
	u.Start(context.Background())
	u.Start(context.Background())
	u.Stop()
	u.Stop()
}

func Test_Uncommitter_ContextEndsLoop(t *testing.T) {
	src := &scripted{wait: time.Hour}
	u := New(src, nil)
	ctx, cancel := context.WithCancel(context.Background())
	u.Start(ctx)
	require.Eventually(t, func() bool { return src.Calls() >= 1 }, 5*time.Second, time.Millisecond)
	cancel()
	u.Stop()
}

func Test_Uncommitter_Allocator(t *testing.T) {
	cfg := testutil.ScenarioConfig()
	cfg.MinCapacity = 8 * heap.MiB
	cfg.InitialCapacity = 32 * heap.MiB
	cfg.UncommitDelay = time.Second
	h := testutil.SetupAllocator(t, cfg, alloc.Options{})
	h.Clock.Advance(time.Minute)

	u := New(h.Allocator, nil)
	u.Start(context.Background())
	defer u.Stop()

	require.Eventually(t, func() bool { return u.Total() == 24*heap.MiB }, 5*time.Second, time.Millisecond)
	require.Equal(t, 8*heap.MiB, h.Capacity().Committed())
	require.Equal(t, 8*heap.MiB, h.Backend.CommittedBytes())
	require.NoError(t, h.Check())
}
