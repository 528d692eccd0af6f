package echoq

import (
	"sync"

	"github.com/ehrlich-b/go-echoq/internal/logging"
	"github.com/ehrlich-b/go-echoq/internal/request"
)

// dispatcher forwards requests to the controller one at a time. The next
// request is forwarded only after the previous one completed, so the pending
// slot is never overwritten.
type dispatcher struct {
	forward func(*request.Request)
	logger  *logging.Logger
	backlog int

	mu     sync.Mutex
	queue  []*request.Request
	closed bool

	kick   chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
}

func newDispatcher(backlog int, forward func(*request.Request), logger *logging.Logger) *dispatcher {
	return &dispatcher{
		forward: forward,
		logger:  logger,
		backlog: backlog,
		kick:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

func (d *dispatcher) start() {
	go d.run()
}

// enqueue appends req to the FIFO. A full backlog completes it with
// StatusBusy; a closed dispatcher with StatusInvalidDeviceRequest.
func (d *dispatcher) enqueue(req *request.Request) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		req.Complete(StatusInvalidDeviceRequest, 0)
		return
	}
	if len(d.queue) >= d.backlog {
		d.mu.Unlock()
		d.logger.Warn("dispatch backlog full", "request", req.ID(), "backlog", d.backlog)
		req.Complete(StatusBusy, 0)
		return
	}
	d.queue = append(d.queue, req)
	d.mu.Unlock()

	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// remove drops req from the FIFO if it has not been forwarded yet
func (d *dispatcher) remove(req *request.Request) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, q := range d.queue {
		if q == req {
			d.queue = append(d.queue[:i], d.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (d *dispatcher) next() *request.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return nil
	}
	req := d.queue[0]
	d.queue[0] = nil
	d.queue = d.queue[1:]
	return req
}

func (d *dispatcher) run() {
	defer close(d.doneCh)
	for {
		req := d.next()
		if req == nil {
			select {
			case <-d.kick:
				continue
			case <-d.stopCh:
				return
			}
		}

		d.forward(req)

		select {
		case <-req.Done():
		case <-d.stopCh:
			return
		}
	}
}

// queued returns the number of requests waiting to be forwarded
func (d *dispatcher) queued() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// close stops forwarding and cancels every request still waiting. A request
// already forwarded is left to the controller.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	waiting := d.queue
	d.queue = nil
	d.mu.Unlock()

	close(d.stopCh)
	<-d.doneCh

	if len(waiting) > 0 {
		d.logger.Debug("cancelling queued requests on close", "count", len(waiting))
	}
	for _, req := range waiting {
		req.Complete(StatusCancelled, 0)
	}
}
