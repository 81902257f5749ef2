// Package vmem isolates reservation, commit and mapping of heap memory behind a
// small interface so the allocator can run against the OS or an in-memory fake.
//
// All offsets are relative to the base address returned by Reserve.
//
//	Reserve   address space only, access faults
//	Commit    range becomes backed and accessible (the OS may charge it)
//	Map       range is populated for use
//	Unmap     access is revoked
//	Uncommit  physical pages are returned to the OS
//	Release   the whole reservation is dropped
package vmem

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrReserved indicates Reserve was called twice on one backend.
	ErrReserved = errors.New("vmem: already reserved")

	// ErrNotReserved indicates an operation before Reserve.
	ErrNotReserved = errors.New("vmem: not reserved")

	// ErrRange indicates an offset range outside the reservation.
	ErrRange = errors.New("vmem: range outside reservation")

	// ErrUnsupported indicates a backend kind not available on this platform.
	ErrUnsupported = errors.New("vmem: backend not supported on this platform")
)

// Backend is the OS memory interface used by the allocator.
type Backend interface {
	// Reserve reserves size bytes of address space and returns its base address.
	Reserve(size uint64) (uintptr, error)

	// Commit backs [off, off+size) and returns how many bytes, from off, were committed.
	Commit(off, size uint64) (uint64, error)

	// Uncommit returns the physical memory of [off, off+size).
	Uncommit(off, size uint64) error

	// Map makes a committed range ready for use.
	Map(off, size uint64) error

	// Unmap revokes access to a mapped range.
	Unmap(off, size uint64) error

	// Release drops the reservation.
	Release() error
}

// Kind selects a Backend implementation once at startup.
type Kind int

const (
	// KindMmap reserves with an anonymous PROT_NONE mapping.
	KindMmap Kind = iota
	// KindGo backs the heap with a Go byte slice.
	KindGo
	// KindFake tracks commit state without touching memory.
	KindFake
)

func (k Kind) String() string {
	switch k {
	case KindMmap:
		return "mmap"
	case KindGo:
		return "go"
	case KindFake:
		return "fake"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind parses a backend name as used in configuration files.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mmap", "os":
		return KindMmap, nil
	case "go", "slice":
		return KindGo, nil
	case "fake":
		return KindFake, nil
	default:
		return 0, fmt.Errorf("vmem: unknown backend %q", s)
	}
}

// New creates a backend of the given kind. granule is the commit unit used by
// the fake backend.
func New(kind Kind, granule uint64) (Backend, error) {
	switch kind {
	case KindMmap:
		return newMmap()
	case KindGo:
		return NewGo(), nil
	case KindFake:
		return NewFake(granule), nil
	default:
		return nil, fmt.Errorf("vmem: %v: %w", kind, ErrUnsupported)
	}
}

func checkRange(reserved, off, size uint64) error {
	if reserved == 0 {
		return ErrNotReserved
	}
	if off+size < off || off+size > reserved {
		return fmt.Errorf("vmem: [%d, %d) of %d: %w", off, off+size, reserved, ErrRange)
	}
	return nil
}
