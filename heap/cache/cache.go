// Package cache keeps committed, unused region runs ready for reuse.
//
// Runs are kept in one list per size class, most recently used at the front.
// Flushing always starts from the cold end of the large list, then medium,
// then small. The cache is not safe for concurrent use; the allocator calls it
// with the heap lock held.
package cache

import (
	"container/list"
	"fmt"
	"time"

	"github.com/joshuapare/heapkit/heap"
)

// Cache is the region cache of one heap.
type Cache struct {
	reg        *heap.Registry
	lists      [heap.NumClasses]*list.List
	elems      map[int]*list.Element // head index -> element
	bytes      uint64
	lastCommit time.Time
}

// New creates an empty cache over reg.
func New(reg *heap.Registry) *Cache {
	c := &Cache{
		reg:   reg,
		elems: make(map[int]*list.Element),
	}
	for i := range c.lists {
		c.lists[i] = list.New()
	}
	return c
}

// Bytes returns the size of all cached runs.
func (c *Cache) Bytes() uint64 { return c.bytes }

// Len returns the number of cached runs.
func (c *Cache) Len() int { return len(c.elems) }

// LenClass returns the number of cached runs of one class.
func (c *Cache) LenClass(class heap.SizeClass) int { return c.lists[class].Len() }

// Contains reports whether the run headed by r is cached.
func (c *Cache) Contains(r *heap.Region) bool {
	_, ok := c.elems[r.Index()]
	return ok
}

// Each calls fn for every cached run.
func (c *Cache) Each(fn func(*heap.Region)) {
	for _, l := range c.lists {
		for e := l.Front(); e != nil; e = e.Next() {
			fn(e.Value.(*heap.Region))
		}
	}
}

// LastCommit returns the time of the last capacity increase.
func (c *Cache) LastCommit() time.Time { return c.lastCommit }

// SetLastCommit records a capacity increase. Uncommit is delayed after it.
func (c *Cache) SetLastCommit(t time.Time) { c.lastCommit = t }

// PutBack inserts a committed run and stamps its last-used time.
func (c *Cache) PutBack(r *heap.Region, now time.Time) {
	if !r.IsHead() || !r.Committed() {
		panic(fmt.Sprintf("cache: put back of %s (head=%v committed=%v)", r, r.IsHead(), r.Committed()))
	}
	if c.Contains(r) {
		panic(fmt.Sprintf("cache: %s already cached", r))
	}
	r.SetLastUsed(now)
	c.insert(r, true)
}

func (c *Cache) insert(r *heap.Region, front bool) {
	c.reg.SetRunState(r, heap.StateEmptyCommitted, true)
	l := c.lists[r.Class()]
	var e *list.Element
	if front {
		e = l.PushFront(r)
	} else {
		e = l.PushBack(r)
	}
	c.elems[r.Index()] = e
	c.bytes += r.Size()
}

func (c *Cache) remove(e *list.Element) *heap.Region {
	r := e.Value.(*heap.Region)
	c.lists[r.Class()].Remove(e)
	delete(c.elems, r.Index())
	c.bytes -= r.Size()
	return r
}

// TryTake removes a run of exactly span regions of the given class. When no
// such run is cached a larger medium or large run is split and the remainder
// stays cached. It returns nil on a miss.
func (c *Cache) TryTake(class heap.SizeClass, span int) *heap.Region {
	l := c.lists[class]
	if class == heap.ClassLarge {
		for e := l.Front(); e != nil; e = e.Next() {
			if e.Value.(*heap.Region).Span() == span {
				return c.remove(e)
			}
		}
	} else if e := l.Front(); e != nil {
		return c.remove(e)
	}
	return c.takeOversized(span)
}

func (c *Cache) takeOversized(span int) *heap.Region {
	if span < c.reg.MediumRegions() {
		if e := c.lists[heap.ClassMedium].Front(); e != nil {
			return c.split(c.remove(e), span)
		}
	}
	for e := c.lists[heap.ClassLarge].Front(); e != nil; e = e.Next() {
		if e.Value.(*heap.Region).Span() > span {
			return c.split(c.remove(e), span)
		}
	}
	return nil
}

// split keeps the first n regions of r and re-caches the rest at the front.
func (c *Cache) split(r *heap.Region, n int) *heap.Region {
	tail := c.reg.Split(r, n)
	c.insert(tail, true)
	return r
}

// FlushForAllocation evicts cold runs until target bytes are gathered. The
// last run is split when it would overshoot, so at most target bytes are
// returned when target is a multiple of the region size.
func (c *Cache) FlushForAllocation(target uint64) ([]*heap.Region, uint64) {
	return c.flush(target, func(*heap.Region) bool { return true })
}

// FlushForUncommit evicts runs that have not been used for delay, up to target
// bytes. Nothing is flushed within delay of the last commit. The returned
// timeout is how long until the next run expires, or delay when unknown.
func (c *Cache) FlushForUncommit(target uint64, now time.Time, delay time.Duration) ([]*heap.Region, uint64, time.Duration) {
	if expires := c.lastCommit.Add(delay); expires.After(now) {
		return nil, 0, expires.Sub(now)
	}
	if target == 0 {
		return nil, 0, delay
	}
	timeout := delay
	flushed, n := c.flush(target, func(r *heap.Region) bool {
		expires := r.LastUsed().Add(delay)
		if expires.After(now) {
			timeout = min(timeout, expires.Sub(now))
			return false
		}
		return true
	})
	return flushed, n, timeout
}

// flush walks each list from its cold end while eligible accepts runs.
func (c *Cache) flush(target uint64, eligible func(*heap.Region) bool) ([]*heap.Region, uint64) {
	if target == 0 {
		return nil, 0
	}
	var (
		out     []*heap.Region
		flushed uint64
	)
	for _, class := range []heap.SizeClass{heap.ClassLarge, heap.ClassMedium, heap.ClassSmall} {
		l := c.lists[class]
		for flushed < target {
			e := l.Back()
			if e == nil || !eligible(e.Value.(*heap.Region)) {
				break
			}
			r := c.remove(e)
			if flushed+r.Size() > target {
				keep := int((target - flushed) / c.reg.RegionSize())
				if keep == 0 {
					c.insert(r, false)
					return out, flushed
				}
				tail := c.reg.Split(r, keep)
				c.insert(tail, false)
			}
			flushed += r.Size()
			out = append(out, r)
		}
		if flushed >= target {
			break
		}
	}
	return out, flushed
}
