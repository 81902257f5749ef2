package sim

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/heap"
)

func checkSlots(t *testing.T, w *world) {
	t.Helper()
	for i, o := range w.objects {
		require.Equal(t, i, o.slot)
	}
}

func Test_World_LiveIn(t *testing.T) {
	var r, other heap.Region
	w := newWorld()
	w.add(&r, 100)
	w.add(&r, 50)
	w.objects[1].dead = true

	live, ok := w.liveIn(&r)
	require.True(t, ok)
	require.Equal(t, uint64(100), live)

	_, ok = w.liveIn(&other)
	require.False(t, ok)
}

func Test_World_Drop(t *testing.T) {
	regs := make([]heap.Region, 3)
	w := newWorld()
	for i := range regs {
		w.add(&regs[i], uint64(i+1))
		w.add(&regs[i], uint64(i+1))
	}

	w.mu.Lock()
	w.drop(&regs[0])
	w.mu.Unlock()

	require.Equal(t, 4, w.len())
	checkSlots(t, w)
	_, ok := w.liveIn(&regs[0])
	require.False(t, ok)
	live, _ := w.liveIn(&regs[2])
	require.Equal(t, uint64(6), live)
}

func Test_World_Move(t *testing.T) {
	var from, to heap.Region
	w := newWorld()
	w.add(&from, 10)
	w.add(&from, 20)
	o := w.objects[0]

	w.mu.Lock()
	w.move(o, &to)
	w.mu.Unlock()

	require.Same(t, &to, o.region)
	live, _ := w.liveIn(&from)
	require.Equal(t, uint64(20), live)
	live, _ = w.liveIn(&to)
	require.Equal(t, uint64(10), live)
	require.Len(t, w.objectsIn(&from), 1)

	// Dropping the source keeps the moved object.
	w.drop(&from)
	require.Equal(t, 1, w.len())
	checkSlots(t, w)
	require.Same(t, o, w.objects[0])
}

func Test_World_KillRandom(t *testing.T) {
	w := newWorld()
	w.killRandom(rand.New(rand.NewPCG(1, 2)))

	var r heap.Region
	w.add(&r, 1)
	w.killRandom(rand.New(rand.NewPCG(1, 2)))
	require.True(t, w.objects[0].dead)
}
