// Package echoq provides an echo device: a single-slot request queue whose
// writes are stored and whose reads return the last write, with every
// request completed later by a periodic timer or earlier by cancellation.
package echoq

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"k8s.io/utils/clock"

	"github.com/ehrlich-b/go-echoq/internal/constants"
	"github.com/ehrlich-b/go-echoq/internal/interfaces"
	"github.com/ehrlich-b/go-echoq/internal/logging"
	"github.com/ehrlich-b/go-echoq/internal/queue"
	"github.com/ehrlich-b/go-echoq/internal/request"
)

// DispatchMode selects how the device hands requests to the queue controller
type DispatchMode string

const (
	// DispatchSequential forwards one request at a time, holding the rest in
	// a FIFO until the current one completes
	DispatchSequential DispatchMode = "sequential"
	// DispatchParallel forwards every request as soon as it is submitted; a
	// request arriving while another is pending overwrites it
	DispatchParallel DispatchMode = "parallel"
)

// AllocatorKind selects the echo buffer memory source
type AllocatorKind string

const (
	// AllocatorHeap uses pooled Go heap buffers
	AllocatorHeap AllocatorKind = "heap"
	// AllocatorLocked uses mlock'd anonymous mappings (Linux only)
	AllocatorLocked AllocatorKind = "locked"
)

// Logger is the structured logger used by the device
type Logger = logging.Logger

// LogConfig configures NewLogger
type LogConfig = logging.Config

// NewLogger creates a zerolog-backed logger
func NewLogger(config *LogConfig) *Logger {
	return logging.NewLogger(config)
}

var nextDeviceID atomic.Int32

// Device is an echo device serving reads and writes through a single-slot
// deferred-completion queue
type Device struct {
	id     int
	params Params

	ctrl       *queue.Controller
	dispatch   *dispatcher
	alloc      interfaces.Allocator
	ownedAlloc bool

	logger   *logging.Logger
	metrics  *Metrics
	observer Observer

	ctx      context.Context
	stopCtx  func() bool
	closeMu  sync.Mutex
	closed   atomic.Bool
	closeErr error
}

// Params contains parameters for creating an echo device
type Params struct {
	DeviceID       int           // Specific device ID (-1 for auto)
	MaxWriteLength int           // Largest accepted write (default: 40KB)
	TimerPeriod    time.Duration // Delay between completion ticks (default: 2s)
	RejectWhenBusy bool          // Complete with StatusBusy instead of overwriting a pending request
	Dispatch       DispatchMode  // default: sequential
	Backlog        int           // Sequential FIFO capacity (default: 256)
	Allocator      AllocatorKind // default: heap
}

// DefaultParams returns default device parameters
func DefaultParams() Params {
	return Params{
		DeviceID:       constants.AutoAssignDeviceID,
		MaxWriteLength: constants.MaxWriteLength,
		TimerPeriod:    constants.TimerPeriod,
		Dispatch:       DispatchSequential,
		Backlog:        constants.DefaultPendingBacklog,
		Allocator:      AllocatorHeap,
	}
}

func (p *Params) applyDefaults() {
	def := DefaultParams()
	if p.MaxWriteLength == 0 {
		p.MaxWriteLength = def.MaxWriteLength
	}
	if p.TimerPeriod == 0 {
		p.TimerPeriod = def.TimerPeriod
	}
	if p.Dispatch == "" {
		p.Dispatch = def.Dispatch
	}
	if p.Backlog == 0 {
		p.Backlog = def.Backlog
	}
	if p.Allocator == "" {
		p.Allocator = def.Allocator
	}
}

func (p *Params) validate() error {
	switch {
	case p.MaxWriteLength < 0:
		return NewError("NEW", ErrCodeInvalidParameters, fmt.Sprintf("invalid max write length %d", p.MaxWriteLength))
	case p.TimerPeriod < 0:
		return NewError("NEW", ErrCodeInvalidParameters, fmt.Sprintf("invalid timer period %s", p.TimerPeriod))
	case p.Backlog < 0:
		return NewError("NEW", ErrCodeInvalidParameters, fmt.Sprintf("invalid backlog %d", p.Backlog))
	case p.DeviceID < constants.AutoAssignDeviceID:
		return NewError("NEW", ErrCodeInvalidParameters, fmt.Sprintf("invalid device ID %d", p.DeviceID))
	}
	switch p.Dispatch {
	case DispatchSequential, DispatchParallel:
	default:
		return NewError("NEW", ErrCodeInvalidParameters, fmt.Sprintf("unknown dispatch mode %q", p.Dispatch))
	}
	switch p.Allocator {
	case AllocatorHeap, AllocatorLocked:
	default:
		return NewError("NEW", ErrCodeInvalidParameters, fmt.Sprintf("unknown allocator %q", p.Allocator))
	}
	return nil
}

// Options contains additional options for device creation
type Options struct {
	// Context bounds the device lifetime (if nil, uses the ctx passed to New).
	// The device closes itself when it is cancelled.
	Context context.Context

	// Logger for device messages (if nil, uses the package default)
	Logger *Logger

	// Observer receives request and timer events in addition to the built-in
	// Metrics (if nil, only Metrics is updated)
	Observer Observer

	// Clock drives the completion timer (if nil, uses the real clock)
	Clock clock.Clock

	// Allocator overrides Params.Allocator. The device does not close it.
	Allocator interfaces.Allocator
}

// New creates an echo device and starts its completion timer.
//
// Example:
//
//	dev, err := echoq.New(ctx, echoq.DefaultParams(), nil)
//	if err != nil { ... }
//	defer dev.Close()
//	n, err := dev.WriteSync(ctx, []byte("hello"))
func New(ctx context.Context, params Params, options *Options) (*Device, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if options == nil {
		options = &Options{}
	}
	if options.Context != nil {
		ctx = options.Context
	}

	params.applyDefaults()
	if err := params.validate(); err != nil {
		return nil, err
	}

	id := params.DeviceID
	if id == constants.AutoAssignDeviceID {
		id = int(nextDeviceID.Add(1) - 1)
	}

	baseLogger := options.Logger
	if baseLogger == nil {
		baseLogger = logging.Default()
	}
	logger := baseLogger.WithDevice(id)

	alloc := options.Allocator
	owned := false
	if alloc == nil {
		var err error
		alloc, err = newAllocator(params)
		if err != nil {
			return nil, WrapError("NEW", err)
		}
		owned = true
	}

	metrics := NewMetrics()
	var observer Observer = NewMetricsObserver(metrics)
	if options.Observer != nil {
		observer = multiObserver{observer, options.Observer}
	}

	ctrl, err := queue.NewController(queue.Config{
		DeviceID:       id,
		MaxWriteLength: params.MaxWriteLength,
		TimerPeriod:    params.TimerPeriod,
		Clock:          options.Clock,
		Allocator:      alloc,
		Observer:       observer,
		Logger:         baseLogger,
		RejectWhenBusy: params.RejectWhenBusy,
	})
	if err != nil {
		if owned {
			closeAllocator(alloc)
		}
		return nil, WrapError("NEW", err)
	}

	d := &Device{
		id:         id,
		params:     params,
		ctrl:       ctrl,
		alloc:      alloc,
		ownedAlloc: owned,
		logger:     logger,
		metrics:    metrics,
		observer:   observer,
		ctx:        ctx,
	}
	if params.Dispatch == DispatchSequential {
		d.dispatch = newDispatcher(params.Backlog, d.forward, logger)
		d.dispatch.start()
	}
	ctrl.Start()

	d.closeMu.Lock()
	d.stopCtx = context.AfterFunc(ctx, func() {
		d.logger.Info("device context done, closing")
		d.Close()
	})
	d.closeMu.Unlock()

	logger.Info("device created",
		"dispatch", string(params.Dispatch),
		"allocator", string(params.Allocator),
		"timer_period", params.TimerPeriod.String(),
		"reject_busy", params.RejectWhenBusy)
	return d, nil
}

func newAllocator(params Params) (interfaces.Allocator, error) {
	if params.Allocator == AllocatorLocked {
		return queue.NewLockedAllocator()
	}
	return queue.NewHeapAllocator(params.MaxWriteLength), nil
}

func closeAllocator(alloc interfaces.Allocator) error {
	if c, ok := alloc.(interfaces.ClosableAllocator); ok {
		return c.Close()
	}
	return nil
}

// Write submits payload for echoing. The payload is copied before Write
// returns. Cancelling ctx cancels the request.
func (d *Device) Write(ctx context.Context, payload []byte) *Request {
	return d.submit(ctx, request.NewWrite(payload))
}

// Read submits a read of up to len(p) bytes of the last write into p.
// Cancelling ctx cancels the request.
func (d *Device) Read(ctx context.Context, p []byte) *Request {
	return d.submit(ctx, request.NewRead(len(p), p))
}

// WriteSync writes payload and waits for the completion
func (d *Device) WriteSync(ctx context.Context, payload []byte) (int, error) {
	return d.Write(ctx, payload).Wait(ctx)
}

// ReadSync reads into p and waits for the completion
func (d *Device) ReadSync(ctx context.Context, p []byte) (int, error) {
	return d.Read(ctx, p).Wait(ctx)
}

func (d *Device) submit(ctx context.Context, req *request.Request) *Request {
	r := &Request{dev: d, req: req}
	req.OnComplete(d.observe)

	if d.closed.Load() {
		req.Complete(StatusInvalidDeviceRequest, 0)
		return r
	}

	// Zero-length I/O never reaches the queue
	if req.Length() == 0 {
		req.Complete(StatusSuccess, 0)
		return r
	}

	if ctx != nil && ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() {
			r.setCause(context.Cause(ctx))
			r.Cancel()
		})
		req.OnComplete(func(*request.Request) { stop() })
	}

	if d.dispatch != nil {
		d.dispatch.enqueue(req)
	} else {
		d.forward(req)
	}
	return r
}

func (d *Device) forward(req *request.Request) {
	if req.Op() == request.OpWrite {
		d.ctrl.SubmitWrite(req)
	} else {
		d.ctrl.SubmitRead(req)
	}
}

// observe feeds a completed request to the observer chain
func (d *Device) observe(req *request.Request) {
	status, n := req.Result()
	latency := uint64(time.Since(req.Created()).Nanoseconds())
	if req.Op() == request.OpWrite {
		d.observer.ObserveWrite(uint64(n), latency, status)
	} else {
		d.observer.ObserveRead(uint64(n), latency, status)
	}
}

// ID returns the device ID
func (d *Device) ID() int { return d.id }

// Params returns the effective device parameters
func (d *Device) Params() Params { return d.params }

// DeviceState represents the current state of an echo device
type DeviceState string

const (
	// DeviceStateRunning indicates the device is serving requests
	DeviceStateRunning DeviceState = "running"
	// DeviceStateStopped indicates the device has been closed
	DeviceStateStopped DeviceState = "stopped"
)

// State returns the current state of the device
func (d *Device) State() DeviceState {
	if d == nil || d.closed.Load() {
		return DeviceStateStopped
	}
	return DeviceStateRunning
}

// IsRunning returns true if the device is currently serving requests
func (d *Device) IsRunning() bool {
	return d.State() == DeviceStateRunning
}

// DeviceInfo summarizes a device
type DeviceInfo struct {
	ID             int         `json:"id"`
	State          DeviceState `json:"state"`
	Dispatch       string      `json:"dispatch"`
	Allocator      string      `json:"allocator"`
	TimerPeriod    string      `json:"timer_period"`
	MaxWriteLength int         `json:"max_write_length"`
	RejectWhenBusy bool        `json:"reject_when_busy"`
	Pending        bool        `json:"pending"`
	Queued         int         `json:"queued"`
	EchoLength     int         `json:"echo_length"`
	HasEcho        bool        `json:"has_echo"`
}

// Info returns a point-in-time summary of the device
func (d *Device) Info() DeviceInfo {
	if d == nil {
		return DeviceInfo{}
	}
	echoLen, hasEcho := d.ctrl.EchoLen()
	info := DeviceInfo{
		ID:             d.id,
		State:          d.State(),
		Dispatch:       string(d.params.Dispatch),
		Allocator:      string(d.params.Allocator),
		TimerPeriod:    d.params.TimerPeriod.String(),
		MaxWriteLength: d.params.MaxWriteLength,
		RejectWhenBusy: d.params.RejectWhenBusy,
		Pending:        d.ctrl.PendingRequest() != nil,
		EchoLength:     echoLen,
		HasEcho:        hasEcho,
	}
	if d.dispatch != nil {
		info.Queued = d.dispatch.queued()
	}
	return info
}

// Metrics returns the live metrics for the device
func (d *Device) Metrics() *Metrics {
	if d == nil {
		return nil
	}
	return d.metrics
}

// MetricsSnapshot returns a point-in-time snapshot of device metrics
func (d *Device) MetricsSnapshot() MetricsSnapshot {
	if d == nil || d.metrics == nil {
		return MetricsSnapshot{}
	}
	return d.metrics.Snapshot()
}

// Close stops the completion timer, cancels queued and pending requests,
// and releases the echo buffer. Requests submitted afterwards complete with
// StatusInvalidDeviceRequest. Close is idempotent.
func (d *Device) Close() error {
	if d == nil {
		return ErrInvalidParameters
	}
	d.closeMu.Lock()
	defer d.closeMu.Unlock()
	if d.closed.Load() {
		return d.closeErr
	}
	d.closed.Store(true)

	if d.stopCtx != nil {
		d.stopCtx()
	}

	var errs error
	if d.dispatch != nil {
		d.dispatch.close()
	}
	if err := d.ctrl.Close(); err != nil {
		errs = multierr.Append(errs, WrapError("CLOSE", err))
	}
	if d.ownedAlloc {
		if err := closeAllocator(d.alloc); err != nil {
			errs = multierr.Append(errs, WrapError("CLOSE", err))
		}
	}
	d.metrics.Stop()

	d.closeErr = errs
	d.logger.Info("device closed")
	return errs
}

// Request is a submitted read or write
type Request struct {
	dev   *Device
	req   *request.Request
	cause atomic.Pointer[error] // context cause that triggered cancellation
}

func (r *Request) setCause(err error) {
	r.cause.CompareAndSwap(nil, &err)
}

// ID returns the request's unique identifier
func (r *Request) ID() string { return r.req.ID() }

// Done returns a channel that is closed when the request completes
func (r *Request) Done() <-chan struct{} { return r.req.Done() }

// Result returns the terminal status and byte count. It must only be called
// after Done is closed.
func (r *Request) Result() (Status, int) { return r.req.Result() }

// Cancel asks for the request to be cancelled and reports whether it was
// cancelled by this call. A request the timer has already claimed completes
// normally.
func (r *Request) Cancel() bool {
	if d := r.dev; d != nil && d.dispatch != nil && d.dispatch.remove(r.req) {
		r.req.Complete(StatusCancelled, 0)
		return true
	}
	return r.req.Cancel()
}

// Wait blocks until the request completes and returns its byte count and
// status error. If ctx is done first the request is cancelled and Wait
// still returns the request's actual outcome.
func (r *Request) Wait(ctx context.Context) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-r.req.Done():
	case <-ctx.Done():
		r.setCause(context.Cause(ctx))
		r.Cancel()
		<-r.req.Done()
	}
	return r.result()
}

func (r *Request) result() (int, error) {
	status, n := r.req.Result()
	if status == StatusSuccess {
		return n, nil
	}
	err := newStatusError(r.req.Op().String(), r.dev.id, r.req.ID(), status)
	if cause := r.cause.Load(); cause != nil && status == StatusCancelled {
		err.Inner = *cause
	}
	return n, err
}
