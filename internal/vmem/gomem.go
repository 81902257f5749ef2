package vmem

import (
	"sync"
	"unsafe"
)

// GoBackend backs the heap with one Go byte slice. It is used where anonymous
// mappings are unavailable; Commit and Map only track state and Uncommit
// zeroes the range.
type GoBackend struct {
	mu  sync.Mutex
	mem []byte
}

// NewGo returns an unreserved GoBackend.
func NewGo() *GoBackend { return &GoBackend{} }

func (b *GoBackend) Reserve(size uint64) (uintptr, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mem != nil {
		return 0, ErrReserved
	}
	if size == 0 || size > uint64(^uint(0)>>1) {
		return 0, ErrRange
	}
	b.mem = make([]byte, size)
	return uintptr(unsafe.Pointer(&b.mem[0])), nil
}

func (b *GoBackend) Commit(off, size uint64) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := checkRange(uint64(len(b.mem)), off, size); err != nil {
		return 0, err
	}
	return size, nil
}

func (b *GoBackend) Uncommit(off, size uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := checkRange(uint64(len(b.mem)), off, size); err != nil {
		return err
	}
	clear(b.mem[off : off+size])
	return nil
}

func (b *GoBackend) Map(off, size uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return checkRange(uint64(len(b.mem)), off, size)
}

func (b *GoBackend) Unmap(off, size uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return checkRange(uint64(len(b.mem)), off, size)
}

func (b *GoBackend) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mem = nil
	return nil
}
