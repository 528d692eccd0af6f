package queue

import (
	"fmt"
	"sync"

	"github.com/ehrlich-b/go-echoq/internal/constants"
	"github.com/ehrlich-b/go-echoq/internal/interfaces"
)

// BufferPool provides pooled byte slices for echo buffers so a stream of
// writes does not allocate on every request.
// Uses size-bucketed pools (4KB, 16KB, 40KB); 40KB is the largest write the
// controller ever accepts.
//
// Uses *[]byte pattern to avoid sync.Pool interface allocation overhead.

// Buffer size thresholds
const (
	sizeSmall  = constants.EchoBufferBucketSmall
	sizeMedium = constants.EchoBufferBucketMedium
	sizeLarge  = constants.EchoBufferBucketLarge
)

// globalPool is the shared buffer pool for all controllers.
var globalPool = struct {
	small  sync.Pool
	medium sync.Pool
	large  sync.Pool
}{
	small:  sync.Pool{New: func() any { b := make([]byte, sizeSmall); return &b }},
	medium: sync.Pool{New: func() any { b := make([]byte, sizeMedium); return &b }},
	large:  sync.Pool{New: func() any { b := make([]byte, sizeLarge); return &b }},
}

// GetBuffer returns a pooled buffer of at least the requested size.
// Sizes above the largest bucket are allocated directly.
// Caller must call PutBuffer when done.
func GetBuffer(size int) []byte {
	switch {
	case size <= sizeSmall:
		return (*globalPool.small.Get().(*[]byte))[:size]
	case size <= sizeMedium:
		return (*globalPool.medium.Get().(*[]byte))[:size]
	case size <= sizeLarge:
		return (*globalPool.large.Get().(*[]byte))[:size]
	default:
		return make([]byte, size)
	}
}

// PutBuffer returns a buffer to the pool.
// The buffer's capacity determines which pool it goes to.
func PutBuffer(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case sizeSmall:
		globalPool.small.Put(&buf)
	case sizeMedium:
		globalPool.medium.Put(&buf)
	case sizeLarge:
		globalPool.large.Put(&buf)
		// Buffers with non-standard capacity are left to the GC
	}
}

// HeapAllocator serves echo buffers from the shared size-bucketed pool
type HeapAllocator struct {
	// Limit caps a single allocation; 0 means no limit
	Limit int
}

// NewHeapAllocator returns an allocator backed by the shared buffer pool that
// refuses single allocations above limit (0 for no limit)
func NewHeapAllocator(limit int) *HeapAllocator {
	return &HeapAllocator{Limit: limit}
}

// Alloc implements interfaces.Allocator
func (a *HeapAllocator) Alloc(n int) ([]byte, error) {
	if n < 0 || (a.Limit > 0 && n > a.Limit) {
		return nil, fmt.Errorf("cannot allocate %d byte buffer (limit %d)", n, a.Limit)
	}
	return GetBuffer(n), nil
}

// Free implements interfaces.Allocator
func (a *HeapAllocator) Free(buf []byte) {
	if buf != nil {
		PutBuffer(buf)
	}
}

var _ interfaces.Allocator = (*HeapAllocator)(nil)
