/*
Package heapkit provides the memory subsystem of a region-based heap: a
reserved address range carved into fixed-size regions, handed out in runs to
mutators and a collector, with capacity accounting, allocation stalls and a
reclamation-set selector.

# Quick Start

	h, err := heapkit.New(heapkit.DefaultConfig())
	if err != nil {
	    log.Fatal(err)
	}
	defer h.Close()

	r, err := h.Alloc(ctx, 64*heapkit.KiB)

# Collection Cycles

heapkit does not trace objects. A collector drives the cycle and reports how
many bytes of each run are still live:

	epoch := h.BeginCycle()
	// ... mark, then r.SetLiveBytes(n) for every in-use run ...
	set := h.Select()
	// ... evacuate set.Relocate() ...
	h.ReclaimSet(set)
	h.EndCycle(epoch)

EndCycle fails allocations that stalled before the cycle began and asks for
another collection on behalf of those that stalled during it.

# Stalls

A blocking allocation that cannot be served waits in arrival order until a
free or reclaim makes room, the stall fails at the end of a cycle, or its
context ends. Pass FlagNonBlocking to fail immediately instead:

	r, err := h.AllocRequest(ctx, heapkit.Request{Size: n, Flags: heapkit.FlagNonBlocking})
	if errors.Is(err, heapkit.ErrAllocationFailed) {
	    // out of memory
	}

# Backends

Memory is reserved once and committed region by region. The default backend
uses anonymous mappings; WithBackendKind selects the Go-heap or fake backend,
the latter being useful in tests.

# Inspection

Stats returns a capacity and cache snapshot, Regions one RegionInfo per region,
and Verify checks the heap invariants. heap/printer renders Stats and
reclamation sets as text or JSON.
*/
package heapkit
