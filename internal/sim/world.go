package sim

import (
	"math/rand/v2"
	"sync"

	"github.com/joshuapare/heapkit/heap"
)

// object is a span of bytes inside one run.
type object struct {
	region *heap.Region
	bytes  uint64
	dead   bool
	slot   int
}

// world is the object graph shared by mutators and the collector. Lock order
// is world before heap; mutators never call the heap while holding mu.
type world struct {
	mu       sync.Mutex
	objects  []*object
	byRegion map[*heap.Region][]*object
}

func newWorld() *world {
	return &world{byRegion: make(map[*heap.Region][]*object)}
}

func (w *world) add(r *heap.Region, bytes uint64) {
	w.mu.Lock()
	w.addLocked(r, bytes)
	w.mu.Unlock()
}

func (w *world) addLocked(r *heap.Region, bytes uint64) *object {
	o := &object{region: r, bytes: bytes, slot: len(w.objects)}
	w.objects = append(w.objects, o)
	w.byRegion[r] = append(w.byRegion[r], o)
	return o
}

func (w *world) killRandom(rng *rand.Rand) {
	w.mu.Lock()
	if n := len(w.objects); n > 0 {
		w.objects[rng.IntN(n)].dead = true
	}
	w.mu.Unlock()
}

// liveIn sums the live bytes of r. Runs no object was published in are
// reported unknown. Caller holds w.mu.
func (w *world) liveIn(r *heap.Region) (uint64, bool) {
	objs, ok := w.byRegion[r]
	if !ok {
		return 0, false
	}
	var live uint64
	for _, o := range objs {
		if !o.dead {
			live += o.bytes
		}
	}
	return live, true
}

// objectsIn returns the objects of r. Caller holds w.mu.
func (w *world) objectsIn(r *heap.Region) []*object {
	return w.byRegion[r]
}

// drop forgets r and every object still in it. Caller holds w.mu.
func (w *world) drop(r *heap.Region) {
	for _, o := range w.byRegion[r] {
		w.unlink(o)
	}
	delete(w.byRegion, r)
}

// unlink removes o from the object list. Caller holds w.mu.
func (w *world) unlink(o *object) {
	last := len(w.objects) - 1
	moved := w.objects[last]
	w.objects[o.slot] = moved
	moved.slot = o.slot
	w.objects = w.objects[:last]
	o.slot = -1
}

// move relinks o into to. The source run keeps its list until dropped.
// Caller holds w.mu.
func (w *world) move(o *object, to *heap.Region) {
	objs := w.byRegion[o.region]
	for i, p := range objs {
		if p == o {
			w.byRegion[o.region] = append(objs[:i], objs[i+1:]...)
			break
		}
	}
	o.region = to
	w.byRegion[to] = append(w.byRegion[to], o)
}

func (w *world) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.objects)
}
