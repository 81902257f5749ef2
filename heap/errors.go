package heap

import "errors"

var (
	// ErrReserve indicates that the address space for the heap could not be reserved.
	// The heap cannot start when this happens.
	ErrReserve = errors.New("heap: address space reservation failed")

	// ErrInvalidConfig indicates a configuration value outside its allowed range.
	ErrInvalidConfig = errors.New("heap: invalid configuration")

	// ErrNotFound indicates an address outside the reserved range.
	ErrNotFound = errors.New("heap: address not in reserved range")

	// ErrLiveBytes indicates live bytes larger than the allocated part of a region.
	ErrLiveBytes = errors.New("heap: live bytes exceed allocated bytes")
)
