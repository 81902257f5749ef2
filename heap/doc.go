// Package heap defines the region model of a region-based garbage-collected heap.
//
// # Overview
//
// A heap reserves one large, contiguous address range and carves it into
// fixed-size regions. Every region has a descriptor that lives for the whole
// lifetime of the heap; descriptors are stored in a Registry and addressed by
// index. Multi-region allocations are represented as runs: the first region of
// a run (the head) carries the run length and size class, the remaining
// regions point back to the head.
//
// # Region States
//
//	EmptyUncommitted  reserved address space, no backing memory
//	EmptyCommitted    backed and mapped, not in use (lives in the region cache)
//	InUse             handed out to a mutator or the collector
//	Trash             evacuated, about to be returned to the cache
//	Pinned            in use and excluded from reclamation
//
// Transitions are performed by the allocator and the region selector while
// holding the heap lock. The Registry itself never changes state on its own.
//
// # Size Classes
//
// Requests are rounded to one of three classes:
//
//	Small   one region
//	Medium  Config.MediumRegions regions
//	Large   ceil(size / RegionSize) regions, for anything bigger than medium
//
// # Thread Safety
//
// Region descriptors are guarded by the owning allocator's heap lock, except for
// live bytes and the allocation watermark (top), which are atomics so the
// tracer and per-worker buffers can update them without the lock.
//
// # Related Packages
//
//   - github.com/joshuapare/heapkit/heap/alloc: allocator and heap lock owner
//   - github.com/joshuapare/heapkit/heap/cache: cache of committed empty regions
//   - github.com/joshuapare/heapkit/heap/selector: reclamation set selection
package heap
