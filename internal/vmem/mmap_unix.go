//go:build linux || darwin

package vmem

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// mmapBackend reserves an anonymous PROT_NONE mapping and flips protection and
// advice on sub-ranges of it.
type mmapBackend struct {
	mu  sync.Mutex
	mem []byte
}

func newMmap() (Backend, error) {
	return &mmapBackend{}, nil
}

func (b *mmapBackend) Reserve(size uint64) (uintptr, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mem != nil {
		return 0, ErrReserved
	}
	if size == 0 || size > uint64(^uint(0)>>1) {
		return 0, fmt.Errorf("vmem: cannot reserve %d bytes: %w", size, ErrRange)
	}
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_NORESERVE)
	if err != nil {
		return 0, fmt.Errorf("vmem: mmap %d bytes: %w", size, err)
	}
	b.mem = mem
	return uintptr(unsafe.Pointer(&mem[0])), nil
}

func (b *mmapBackend) slice(off, size uint64) ([]byte, error) {
	if err := checkRange(uint64(len(b.mem)), off, size); err != nil {
		return nil, err
	}
	return b.mem[off : off+size], nil
}

func (b *mmapBackend) Commit(off, size uint64) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.slice(off, size)
	if err != nil {
		return 0, err
	}
	if err := unix.Mprotect(s, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return 0, fmt.Errorf("vmem: commit [%d, %d): %w", off, off+size, err)
	}
	return size, nil
}

func (b *mmapBackend) Uncommit(off, size uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.slice(off, size)
	if err != nil {
		return err
	}
	if err := unix.Madvise(s, unix.MADV_DONTNEED); err != nil {
		return fmt.Errorf("vmem: uncommit [%d, %d): %w", off, off+size, err)
	}
	return nil
}

func (b *mmapBackend) Map(off, size uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.slice(off, size)
	if err != nil {
		return err
	}
	// Advisory only; a refusal does not make the range unusable.
	_ = unix.Madvise(s, unix.MADV_WILLNEED)
	return nil
}

func (b *mmapBackend) Unmap(off, size uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.slice(off, size)
	if err != nil {
		return err
	}
	if err := unix.Mprotect(s, unix.PROT_NONE); err != nil {
		return fmt.Errorf("vmem: unmap [%d, %d): %w", off, off+size, err)
	}
	return nil
}

func (b *mmapBackend) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mem == nil {
		return nil
	}
	err := unix.Munmap(b.mem)
	b.mem = nil
	return err
}
