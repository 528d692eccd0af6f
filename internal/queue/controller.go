package queue

import (
	"fmt"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/ehrlich-b/go-echoq/internal/constants"
	"github.com/ehrlich-b/go-echoq/internal/interfaces"
	"github.com/ehrlich-b/go-echoq/internal/logging"
	"github.com/ehrlich-b/go-echoq/internal/request"
)

// pendingSlot is the one request currently deferred to the timer
type pendingSlot struct {
	req    *request.Request
	status request.Status
}

// Controller is the single-slot deferred-completion request queue.
//
// Writes replace the echo buffer and reads copy out of it; neither completes
// synchronously. The accepted request is parked in the pending slot until the
// completion timer drains it or the caller cancels it. One mutex covers the
// echo buffer, the pending slot, and the timer-versus-cancel decision.
//
// A submission that arrives while the slot is occupied overwrites it without
// completing the previous occupant, unless RejectWhenBusy is set.
type Controller struct {
	deviceID       int
	maxWrite       int
	rejectWhenBusy bool
	observer       interfaces.Observer
	logger         *logging.Logger
	timer          *Timer

	mu      sync.Mutex
	echo    echoBuffer
	pending *pendingSlot
	closed  bool
}

// Config holds controller construction parameters
type Config struct {
	DeviceID       int
	MaxWriteLength int           // default constants.MaxWriteLength
	TimerPeriod    time.Duration // default constants.TimerPeriod
	Clock          clock.Clock   // default real clock
	Allocator      interfaces.Allocator
	Observer       interfaces.Observer
	Logger         *logging.Logger
	RejectWhenBusy bool
}

// NewController creates a controller. The completion timer is not running
// until Start is called.
func NewController(config Config) (*Controller, error) {
	if config.MaxWriteLength == 0 {
		config.MaxWriteLength = constants.MaxWriteLength
	}
	if config.MaxWriteLength < 0 {
		return nil, fmt.Errorf("invalid max write length %d", config.MaxWriteLength)
	}
	if config.TimerPeriod == 0 {
		config.TimerPeriod = constants.TimerPeriod
	}
	if config.TimerPeriod < 0 {
		return nil, fmt.Errorf("invalid timer period %s", config.TimerPeriod)
	}
	if config.Allocator == nil {
		config.Allocator = NewHeapAllocator(config.MaxWriteLength)
	}
	if config.Observer == nil {
		config.Observer = noopObserver{}
	}
	if config.Logger == nil {
		config.Logger = logging.Default()
	}

	c := &Controller{
		deviceID:       config.DeviceID,
		maxWrite:       config.MaxWriteLength,
		rejectWhenBusy: config.RejectWhenBusy,
		observer:       config.Observer,
		logger:         config.Logger.WithDevice(config.DeviceID),
		echo:           echoBuffer{alloc: config.Allocator},
	}
	c.timer = NewTimer(config.Clock, config.TimerPeriod, c.OnTimerTick)
	return c, nil
}

// Start arms the completion timer
func (c *Controller) Start() {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	c.logger.Debug("starting completion timer", "period", c.timer.Period().String())
	c.timer.Start()
}

// SubmitWrite stores the request payload in the echo buffer and defers the
// request's completion to the timer
func (c *Controller) SubmitWrite(req *request.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	log := c.logger.ForRequest(req.ID(), req.Op().String())
	if c.closed {
		c.complete(log, req, request.StatusInvalidDeviceRequest, 0)
		return
	}

	payload := req.Input()
	if len(payload) > c.maxWrite {
		log.Debug("write exceeds maximum length", "length", len(payload), "max", c.maxWrite)
		c.complete(log, req, request.StatusBufferOverflow, 0)
		return
	}

	if c.rejectWhenBusy && c.pending != nil {
		log.Debug("rejecting write while request pending", "pending", c.pending.req.ID())
		c.complete(log, req, request.StatusBusy, 0)
		return
	}

	if err := c.echo.replace(payload); err != nil {
		log.Warn("echo buffer allocation failed", "length", len(payload), "error", err)
		c.complete(log, req, request.StatusInsufficientResources, 0)
		return
	}

	req.SetInformation(len(payload))
	c.deferCompletion(log, req, request.StatusSuccess)
}

// SubmitRead copies a prefix of the echo buffer into the request's output
// region and defers the request's completion to the timer
func (c *Controller) SubmitRead(req *request.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	log := c.logger.ForRequest(req.ID(), req.Op().String())
	if c.closed {
		c.complete(log, req, request.StatusInvalidDeviceRequest, 0)
		return
	}

	// No data to read
	if !c.echo.present() {
		c.complete(log, req, request.StatusSuccess, 0)
		return
	}

	if c.rejectWhenBusy && c.pending != nil {
		log.Debug("rejecting read while request pending", "pending", c.pending.req.ID())
		c.complete(log, req, request.StatusBusy, 0)
		return
	}

	n := min(req.Length(), c.echo.len())

	out := req.Output()
	if out == nil {
		log.Warn("read request has no output region")
		c.complete(log, req, request.StatusInvalidParameter, 0)
		return
	}
	if len(out) < n {
		log.Warn("read output region too small", "region", len(out), "needed", n)
		c.complete(log, req, request.StatusInsufficientResources, 0)
		return
	}

	c.echo.copyPrefix(out, n)
	req.SetInformation(n)
	c.deferCompletion(log, req, request.StatusSuccess)
}

// deferCompletion marks req cancelable and parks it in the pending slot.
// Caller holds c.mu.
func (c *Controller) deferCompletion(log logging.RequestLogger, req *request.Request, status request.Status) {
	if !req.MarkCancelable(c.cancel) {
		log.Debug("request cancelled before it could be deferred")
		c.complete(log, req, request.StatusCancelled, 0)
		return
	}

	if c.pending != nil {
		log.Warn("overwriting pending request without completing it", "abandoned", c.pending.req.ID())
		c.observer.ObserveAbandoned()
	}
	c.pending = &pendingSlot{req: req, status: status}
	c.observer.ObservePending(true)
	log.Debug("completion deferred to timer", "bytes", req.Information())
}

// cancel is the cancel routine bound to every deferred request. It runs after
// the request's state moved from cancelable to cancelled, so the timer can no
// longer complete it.
func (c *Controller) cancel(req *request.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	log := c.logger.ForRequest(req.ID(), req.Op().String())
	c.complete(log, req, request.StatusCancelled, 0)

	if c.pending != nil && c.pending.req == req {
		c.pending = nil
		c.observer.ObservePending(false)
		return
	}
	if !c.closed {
		log.Warn("cancelled request is not the pending request")
	}
}

// OnTimerTick drains the pending slot if its request can still be unmarked.
// It is invoked by the completion timer and may be called directly.
func (c *Controller) OnTimerTick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == nil {
		c.observer.ObserveTick(false)
		return
	}

	slot := c.pending
	log := c.logger.ForRequest(slot.req.ID(), slot.req.Op().String())

	if slot.req.TryUnmarkCancelable() == request.AlreadyCancelled {
		// The cancel routine has run or is about to; it owns completion
		log.Debug("pending request already cancelled, not completing")
		c.observer.ObserveLostRace()
		c.observer.ObserveTick(false)
		return
	}

	c.pending = nil
	c.observer.ObservePending(false)
	log.Debug("timer completing request", "status", slot.status.String(), "bytes", slot.req.Information())
	if !slot.req.CompleteDeferred(slot.status) {
		log.Error("request completed twice")
	}
	c.observer.ObserveTick(true)
}

// complete delivers a terminal status. Caller holds c.mu.
func (c *Controller) complete(log logging.RequestLogger, req *request.Request, status request.Status, n int) {
	if !req.Complete(status, n) {
		log.Error("request completed twice", "status", status.String())
	}
}

// PendingRequest returns the request occupying the pending slot, or nil
func (c *Controller) PendingRequest() *request.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return nil
	}
	return c.pending.req
}

// EchoLen returns the stored echo length and whether a write is stored
func (c *Controller) EchoLen() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.echo.len(), c.echo.present()
}

// Close stops the completion timer, cancels the pending request if the timer
// had not drained it yet, and releases the echo buffer. Later submissions
// complete with StatusInvalidDeviceRequest.
func (c *Controller) Close() error {
	// Stop outside the lock: an in-progress tick may be waiting for it
	c.timer.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	if c.pending != nil {
		slot := c.pending
		c.pending = nil
		c.observer.ObservePending(false)
		if slot.req.TryUnmarkCancelable() == request.StillLive {
			log := c.logger.ForRequest(slot.req.ID(), slot.req.Op().String())
			log.Debug("purging pending request on close")
			c.complete(log, slot.req, request.StatusCancelled, 0)
		}
	}

	c.echo.release()
	c.logger.Debug("controller closed")
	return nil
}

type noopObserver struct{}

func (noopObserver) ObserveRead(uint64, uint64, request.Status)  {}
func (noopObserver) ObserveWrite(uint64, uint64, request.Status) {}
func (noopObserver) ObserveTick(bool)                            {}
func (noopObserver) ObserveAbandoned()                           {}
func (noopObserver) ObserveLostRace()                            {}
func (noopObserver) ObservePending(bool)                         {}

var _ interfaces.Observer = noopObserver{}
