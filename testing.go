package echoq

import (
	"errors"
	"sync"

	"github.com/ehrlich-b/go-echoq/internal/interfaces"
	"github.com/ehrlich-b/go-echoq/internal/request"
)

// ObservedCompletion is one completion recorded by MockObserver
type ObservedCompletion struct {
	Op     string
	Bytes  uint64
	Status Status
}

// MockObserver records every observation for verification in tests.
// It is safe for concurrent use.
type MockObserver struct {
	mu          sync.RWMutex
	completions []ObservedCompletion
	ticks       int
	drained     int
	abandoned   int
	lostRaces   int
	pending     bool
}

// NewMockObserver creates an empty recording observer
func NewMockObserver() *MockObserver {
	return &MockObserver{}
}

// ObserveRead implements the Observer interface
func (m *MockObserver) ObserveRead(bytes uint64, _ uint64, status request.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completions = append(m.completions, ObservedCompletion{Op: request.OpRead.String(), Bytes: bytes, Status: status})
}

// ObserveWrite implements the Observer interface
func (m *MockObserver) ObserveWrite(bytes uint64, _ uint64, status request.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completions = append(m.completions, ObservedCompletion{Op: request.OpWrite.String(), Bytes: bytes, Status: status})
}

// ObserveTick implements the Observer interface
func (m *MockObserver) ObserveTick(drained bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks++
	if drained {
		m.drained++
	}
}

// ObserveAbandoned implements the Observer interface
func (m *MockObserver) ObserveAbandoned() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abandoned++
}

// ObserveLostRace implements the Observer interface
func (m *MockObserver) ObserveLostRace() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lostRaces++
}

// ObservePending implements the Observer interface
func (m *MockObserver) ObservePending(occupied bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = occupied
}

// Testing utility methods

// Completions returns a copy of the recorded completions in order
func (m *MockObserver) Completions() []ObservedCompletion {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ObservedCompletion, len(m.completions))
	copy(out, m.completions)
	return out
}

// CallCounts returns the number of times each event has been observed
func (m *MockObserver) CallCounts() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]int{
		"completion": len(m.completions),
		"tick":       m.ticks,
		"drained":    m.drained,
		"abandoned":  m.abandoned,
		"lost_race":  m.lostRaces,
	}
}

// Pending reports the last observed pending slot occupancy
func (m *MockObserver) Pending() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pending
}

// Reset clears all recorded observations
func (m *MockObserver) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completions = nil
	m.ticks, m.drained, m.abandoned, m.lostRaces = 0, 0, 0, 0
	m.pending = false
}

// ErrMockAllocation is returned by MockAllocator when failing is enabled
var ErrMockAllocation = errors.New("mock allocation failure")

// MockAllocator is a heap allocator that can be made to fail, for driving
// the insufficient-resources path in tests
type MockAllocator struct {
	mu     sync.Mutex
	fail   bool
	allocs int
	frees  int
	closed bool
}

// NewMockAllocator creates a working mock allocator
func NewMockAllocator() *MockAllocator {
	return &MockAllocator{}
}

// Alloc implements the Allocator interface
func (m *MockAllocator) Alloc(n int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail || m.closed {
		return nil, ErrMockAllocation
	}
	m.allocs++
	return make([]byte, n), nil
}

// Free implements the Allocator interface
func (m *MockAllocator) Free([]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frees++
}

// Close implements the ClosableAllocator interface
func (m *MockAllocator) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// SetFail makes subsequent allocations fail (or succeed again)
func (m *MockAllocator) SetFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fail
}

// Live returns allocations not yet freed
func (m *MockAllocator) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocs - m.frees
}

// IsClosed returns true if the allocator has been closed
func (m *MockAllocator) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Compile-time interface checks
var (
	_ Observer                     = (*MockObserver)(nil)
	_ interfaces.ClosableAllocator = (*MockAllocator)(nil)
)
