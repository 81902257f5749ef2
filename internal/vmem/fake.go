package vmem

import (
	"errors"
	"fmt"
	"sync"
)

// FakeBase is the address the fake backend reports for its reservation.
const FakeBase uintptr = 0x4000_0000

var (
	// ErrCommitLimit indicates the fake refused to commit past its budget.
	ErrCommitLimit = errors.New("vmem: commit limit reached")

	// ErrState indicates an operation on a granule in the wrong state, such as
	// committing twice or uncommitting a mapped range.
	ErrState = errors.New("vmem: granule in wrong state")

	// ErrInjected is returned by operations configured to fail.
	ErrInjected = errors.New("vmem: injected failure")
)

// Calls counts backend operations.
type Calls struct {
	Reserve  int
	Commit   int
	Uncommit int
	Map      int
	Unmap    int
	Release  int
}

// Fake tracks commit and map state per granule without touching memory.
// It supports failure injection for tests.
type Fake struct {
	mu        sync.Mutex
	granule   uint64
	reserved  uint64
	committed map[uint64]bool
	mapped    map[uint64]bool

	budget      int64 // bytes that may still be committed, <0 = unlimited
	failMap     bool
	failReserve bool
	calls       Calls
}

// NewFake returns a fake backend with the given commit granule.
func NewFake(granule uint64) *Fake {
	if granule == 0 {
		granule = 4096
	}
	return &Fake{
		granule:   granule,
		committed: make(map[uint64]bool),
		mapped:    make(map[uint64]bool),
		budget:    -1,
	}
}

// SetCommitBudget limits the number of bytes that may be committed from now
// on. Commits crossing the budget are partial.
func (f *Fake) SetCommitBudget(bytes uint64) {
	f.mu.Lock()
	f.budget = int64(bytes)
	f.mu.Unlock()
}

// ClearCommitBudget removes the commit limit.
func (f *Fake) ClearCommitBudget() {
	f.mu.Lock()
	f.budget = -1
	f.mu.Unlock()
}

// SetFailMap makes every Map call fail.
func (f *Fake) SetFailMap(fail bool) {
	f.mu.Lock()
	f.failMap = fail
	f.mu.Unlock()
}

// SetFailReserve makes Reserve fail.
func (f *Fake) SetFailReserve(fail bool) {
	f.mu.Lock()
	f.failReserve = fail
	f.mu.Unlock()
}

// Calls returns the operation counters.
func (f *Fake) Calls() Calls {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// CommittedBytes returns the number of committed bytes.
func (f *Fake) CommittedBytes() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.committed)) * f.granule
}

// MappedBytes returns the number of mapped bytes.
func (f *Fake) MappedBytes() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.mapped)) * f.granule
}

// IsCommitted reports whether the granule containing off is committed.
func (f *Fake) IsCommitted(off uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.committed[off/f.granule]
}

// IsMapped reports whether the granule containing off is mapped.
func (f *Fake) IsMapped(off uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mapped[off/f.granule]
}

func (f *Fake) Reserve(size uint64) (uintptr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.Reserve++
	if f.reserved != 0 {
		return 0, ErrReserved
	}
	if f.failReserve {
		return 0, fmt.Errorf("vmem: reserve %d bytes: %w", size, ErrInjected)
	}
	if size == 0 || size%f.granule != 0 {
		return 0, fmt.Errorf("vmem: reserve %d bytes with granule %d: %w", size, f.granule, ErrRange)
	}
	f.reserved = size
	return FakeBase, nil
}

func (f *Fake) granules(off, size uint64) (uint64, uint64, error) {
	if err := checkRange(f.reserved, off, size); err != nil {
		return 0, 0, err
	}
	if off%f.granule != 0 || size%f.granule != 0 {
		return 0, 0, fmt.Errorf("vmem: [%d, %d) not aligned to %d: %w", off, off+size, f.granule, ErrRange)
	}
	return off / f.granule, (off + size) / f.granule, nil
}

func (f *Fake) Commit(off, size uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.Commit++
	first, last, err := f.granules(off, size)
	if err != nil {
		return 0, err
	}
	var done uint64
	for g := first; g < last; g++ {
		if f.committed[g] {
			return done, fmt.Errorf("vmem: commit granule %d: %w", g, ErrState)
		}
		if f.budget >= 0 {
			if f.budget < int64(f.granule) {
				return done, ErrCommitLimit
			}
			f.budget -= int64(f.granule)
		}
		f.committed[g] = true
		done += f.granule
	}
	return done, nil
}

func (f *Fake) Uncommit(off, size uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.Uncommit++
	first, last, err := f.granules(off, size)
	if err != nil {
		return err
	}
	for g := first; g < last; g++ {
		if f.mapped[g] {
			return fmt.Errorf("vmem: uncommit mapped granule %d: %w", g, ErrState)
		}
		delete(f.committed, g)
	}
	return nil
}

func (f *Fake) Map(off, size uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.Map++
	first, last, err := f.granules(off, size)
	if err != nil {
		return err
	}
	if f.failMap {
		return fmt.Errorf("vmem: map [%d, %d): %w", off, off+size, ErrInjected)
	}
	for g := first; g < last; g++ {
		if !f.committed[g] || f.mapped[g] {
			return fmt.Errorf("vmem: map granule %d: %w", g, ErrState)
		}
	}
	for g := first; g < last; g++ {
		f.mapped[g] = true
	}
	return nil
}

func (f *Fake) Unmap(off, size uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.Unmap++
	first, last, err := f.granules(off, size)
	if err != nil {
		return err
	}
	for g := first; g < last; g++ {
		if !f.mapped[g] {
			return fmt.Errorf("vmem: unmap granule %d: %w", g, ErrState)
		}
	}
	for g := first; g < last; g++ {
		delete(f.mapped, g)
	}
	return nil
}

func (f *Fake) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.Release++
	f.reserved = 0
	clear(f.committed)
	clear(f.mapped)
	return nil
}
