// Package request implements the in-flight I/O request handle shared by the
// echo queue controller and the device shell.
//
// # Cancellation
//
// Each request carries an explicit cancel state that moves through a small
// set of compare-and-swap transitions:
//
//	New --MarkCancelable--> Cancelable --Cancel--> Cancelled
//	                                   \--TryUnmarkCancelable--> Unmarked
//
// Cancel and TryUnmarkCancelable race on the same CAS out of Cancelable, so
// exactly one of them wins. The winner owns completion; the loser must not
// complete the request. A Cancel that arrives while the request is still New
// is remembered and reported by MarkCancelable.
package request

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Op identifies the kind of I/O a request performs
type Op int

const (
	OpRead Op = iota
	OpWrite
)

// String returns the operation name used in logs and metric labels
func (o Op) String() string {
	switch o {
	case OpRead:
		return "READ"
	case OpWrite:
		return "WRITE"
	default:
		return "UNKNOWN"
	}
}

// CancelState is the cancellation state of a request
type CancelState int32

const (
	StateNew        CancelState = iota // Not yet handed to the controller
	StateCancelable                    // Deferred; cancel and timer may race
	StateCancelled                     // Cancel won; the cancel routine completes it
	StateUnmarked                      // Timer (or close) won; cancel is a no-op
)

// String returns a human-readable cancel state
func (s CancelState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateCancelable:
		return "cancelable"
	case StateCancelled:
		return "cancelled"
	case StateUnmarked:
		return "unmarked"
	default:
		return "invalid"
	}
}

// UnmarkResult reports the outcome of TryUnmarkCancelable
type UnmarkResult int

const (
	// StillLive means the caller removed cancelability and now owns completion
	StillLive UnmarkResult = iota
	// AlreadyCancelled means cancellation won the race; do not complete
	AlreadyCancelled
)

// CancelFunc is the cancel routine bound by MarkCancelable. It runs on the
// goroutine that called Cancel, outside any controller lock.
type CancelFunc func(*Request)

// Request is one in-flight read or write awaiting completion
type Request struct {
	id      uuid.UUID
	op      Op
	length  int
	input   []byte
	output  []byte
	created time.Time

	state           atomic.Int32
	cancelRequested atomic.Bool
	onCancel        atomic.Pointer[CancelFunc]

	// information is the byte count reported by a deferred completion
	information atomic.Int64

	done        chan struct{}
	once        sync.Once
	completions atomic.Int32
	status      Status
	transferred int

	hookMu    sync.Mutex
	hooks     []func(*Request)
	hooksDone bool
}

func newRequest(op Op, length int, input, output []byte) *Request {
	return &Request{
		id:      uuid.New(),
		op:      op,
		length:  length,
		input:   input,
		output:  output,
		created: time.Now(),
		done:    make(chan struct{}),
	}
}

// NewWrite creates a write request carrying payload. The request length is
// len(payload).
func NewWrite(payload []byte) *Request {
	return newRequest(OpWrite, len(payload), payload, nil)
}

// NewRead creates a read request for length bytes to be copied into out.
// A nil out models a request whose output memory cannot be retrieved.
func NewRead(length int, out []byte) *Request {
	return newRequest(OpRead, length, nil, out)
}

// ID returns the request's unique identifier
func (r *Request) ID() string { return r.id.String() }

// Op returns the request's operation
func (r *Request) Op() Op { return r.op }

// Length returns the OS-assigned transfer length of the request
func (r *Request) Length() int { return r.length }

// Input returns the write payload (nil for reads)
func (r *Request) Input() []byte { return r.input }

// Output returns the read destination region (nil for writes)
func (r *Request) Output() []byte { return r.output }

// Created returns the time the request was created
func (r *Request) Created() time.Time { return r.created }

// State returns the current cancel state
func (r *Request) State() CancelState { return CancelState(r.state.Load()) }

// SetInformation records the byte count reported when the request is
// completed with CompleteDeferred
func (r *Request) SetInformation(n int) { r.information.Store(int64(n)) }

// Information returns the byte count recorded by SetInformation
func (r *Request) Information() int { return int(r.information.Load()) }

// MarkCancelable binds fn as the cancel routine and moves the request from
// New to Cancelable. It returns false if the request was cancelled before it
// could be marked; the caller then owns completion and must complete it as
// cancelled without deferring it.
func (r *Request) MarkCancelable(fn CancelFunc) bool {
	r.onCancel.Store(&fn)
	if !r.state.CompareAndSwap(int32(StateNew), int32(StateCancelable)) {
		return false
	}
	if r.cancelRequested.Load() {
		// Cancel raced with marking; whichever CAS lands first owns completion
		if r.state.CompareAndSwap(int32(StateCancelable), int32(StateCancelled)) {
			return false
		}
	}
	return true
}

// TryUnmarkCancelable atomically removes cancelability. StillLive means the
// caller now owns completion; AlreadyCancelled means the cancel routine does.
func (r *Request) TryUnmarkCancelable() UnmarkResult {
	if r.state.CompareAndSwap(int32(StateCancelable), int32(StateUnmarked)) {
		return StillLive
	}
	if r.State() == StateCancelled {
		return AlreadyCancelled
	}
	// Never marked: nobody can cancel it through the routine
	r.state.CompareAndSwap(int32(StateNew), int32(StateUnmarked))
	return StillLive
}

// Cancel signals cancellation. If the request is cancelable the bound cancel
// routine runs on the calling goroutine and Cancel returns true. A request
// that has not been marked yet remembers the signal for MarkCancelable and
// CancelRequested. Unmarked or completed requests ignore the signal.
func (r *Request) Cancel() bool {
	if r.isDone() {
		return false
	}
	r.cancelRequested.Store(true)
	if !r.state.CompareAndSwap(int32(StateCancelable), int32(StateCancelled)) {
		return false
	}
	if fn := r.onCancel.Load(); fn != nil && *fn != nil {
		(*fn)(r)
	}
	return true
}

// CancelRequested reports whether Cancel has been called on the request
func (r *Request) CancelRequested() bool { return r.cancelRequested.Load() }

// OnComplete registers fn to run once the request completes. If the request
// has already completed fn runs immediately. Hooks run before Done is closed.
func (r *Request) OnComplete(fn func(*Request)) {
	r.hookMu.Lock()
	if !r.hooksDone {
		r.hooks = append(r.hooks, fn)
		r.hookMu.Unlock()
		return
	}
	r.hookMu.Unlock()
	fn(r)
}

// Complete delivers the terminal status and byte count. Only the first call
// has any effect; later calls return false so callers can detect a double
// completion.
func (r *Request) Complete(status Status, n int) bool {
	first := false
	r.once.Do(func() {
		first = true
		r.status = status
		r.transferred = n

		r.hookMu.Lock()
		r.hooksDone = true
		hooks := r.hooks
		r.hooks = nil
		r.hookMu.Unlock()

		for _, fn := range hooks {
			fn(r)
		}
		close(r.done)
	})
	r.completions.Add(1)
	return first
}

// CompleteDeferred completes the request with status and the byte count
// recorded by SetInformation
func (r *Request) CompleteDeferred(status Status) bool {
	return r.Complete(status, r.Information())
}

// Completions returns how many times Complete was called on the request.
// A correctly driven request reports exactly 1 once done.
func (r *Request) Completions() int { return int(r.completions.Load()) }

// Done returns a channel that is closed when the request completes
func (r *Request) Done() <-chan struct{} { return r.done }

// Result returns the terminal status and bytes transferred.
// It must only be called after Done() is closed.
func (r *Request) Result() (Status, int) {
	return r.status, r.transferred
}

func (r *Request) isDone() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}
