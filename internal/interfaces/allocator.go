package interfaces

// Allocator provides the memory that backs the echo buffer.
// Implementations decide where the bytes live (Go heap, pinned pages, ...).
type Allocator interface {
	// Alloc returns a slice of exactly n bytes.
	// It returns an error if the memory cannot be obtained; the controller
	// then fails the request with insufficient resources.
	Alloc(n int) ([]byte, error)

	// Free releases a slice previously returned by Alloc.
	// The caller must not use buf after Free returns.
	Free(buf []byte)
}

// ClosableAllocator is an optional interface for allocators that hold
// process-wide resources beyond individual buffers.
type ClosableAllocator interface {
	Allocator

	// Close releases any resources held by the allocator.
	Close() error
}
