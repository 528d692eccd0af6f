//go:build !linux

package queue

import (
	"fmt"
	"runtime"
)

// LockedAllocator is only available on Linux
type LockedAllocator struct{}

// NewLockedAllocator reports that locked echo buffers are unsupported
func NewLockedAllocator() (*LockedAllocator, error) {
	return nil, fmt.Errorf("locked allocator not supported on %s", runtime.GOOS)
}

func (a *LockedAllocator) Alloc(n int) ([]byte, error) {
	return nil, fmt.Errorf("locked allocator not supported on %s", runtime.GOOS)
}

func (a *LockedAllocator) Free(buf []byte) {}

func (a *LockedAllocator) Live() int { return 0 }

func (a *LockedAllocator) Close() error { return nil }
