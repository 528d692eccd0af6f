//go:build linux

package queue

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-echoq/internal/interfaces"
)

// LockedAllocator serves echo buffers from anonymous mappings that are
// locked into RAM, so the echoed bytes are never paged out.
// Allocation fails when RLIMIT_MEMLOCK is exhausted.
type LockedAllocator struct {
	mu     sync.Mutex
	live   map[*byte][]byte
	closed bool
}

// NewLockedAllocator returns an allocator backed by mlock'd anonymous memory
func NewLockedAllocator() (*LockedAllocator, error) {
	return &LockedAllocator{live: make(map[*byte][]byte)}, nil
}

// Alloc implements interfaces.Allocator
func (a *LockedAllocator) Alloc(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("cannot allocate %d byte buffer", n)
	}

	// Page-round the mapping; zero-length mappings are invalid
	pageSize := os.Getpagesize()
	size := n
	if rem := size % pageSize; rem != 0 || size == 0 {
		size += pageSize - rem
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, fmt.Errorf("allocator closed")
	}

	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}
	if err := unix.Mlock(mem); err != nil {
		unix.Munmap(mem)
		return nil, fmt.Errorf("mlock %d bytes: %w", size, err)
	}

	a.live[&mem[0]] = mem
	return mem[:n], nil
}

// Free implements interfaces.Allocator
func (a *LockedAllocator) Free(buf []byte) {
	if cap(buf) == 0 {
		return
	}
	full := buf[:cap(buf)]

	a.mu.Lock()
	defer a.mu.Unlock()
	mem, ok := a.live[&full[0]]
	if !ok {
		return
	}
	delete(a.live, &full[0])
	unix.Munlock(mem)
	unix.Munmap(mem)
}

// Live returns the number of outstanding mappings
func (a *LockedAllocator) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

// Close unmaps every outstanding buffer
func (a *LockedAllocator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true

	var errs error
	for key, mem := range a.live {
		unix.Munlock(mem)
		if err := unix.Munmap(mem); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("munmap: %w", err))
		}
		delete(a.live, key)
	}
	return errs
}

var _ interfaces.ClosableAllocator = (*LockedAllocator)(nil)
