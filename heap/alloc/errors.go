package alloc

import "errors"

var (
	// ErrAllocationFailed indicates a definitive allocation failure: the request
	// exceeds the current max capacity, a non-blocking request found no memory
	// or no free address range, or a stalled request was failed after a
	// collection made no progress.
	ErrAllocationFailed = errors.New("alloc: allocation failed")

	// ErrInvalidRequest indicates a zero-sized or inconsistent request.
	ErrInvalidRequest = errors.New("alloc: invalid request")

	// ErrReclaiming indicates an operation on a region in the current reclamation set.
	ErrReclaiming = errors.New("alloc: region is being reclaimed")

	// ErrNotInUse indicates an operation that needs an in-use run head.
	ErrNotInUse = errors.New("alloc: region not in use")

	// ErrClosed indicates the allocator was closed. Requests stalled at Close
	// fail with both ErrClosed and ErrAllocationFailed.
	ErrClosed = errors.New("alloc: allocator closed")
)
