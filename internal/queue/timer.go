package queue

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Timer is a self-restarting completion timer. Each firing runs the tick
// function and then re-arms the underlying one-shot timer for another
// period, whatever the tick did.
type Timer struct {
	clock  clock.Clock
	period time.Duration
	tick   func()

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewTimer creates a stopped timer that will call tick every period
func NewTimer(clk clock.Clock, period time.Duration, tick func()) *Timer {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Timer{
		clock:  clk,
		period: period,
		tick:   tick,
	}
}

// Start arms the timer. Starting a running timer is a no-op.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return
	}
	t.started = true
	t.stopCh = make(chan struct{})
	t.doneCh = make(chan struct{})

	// Arm before returning so a clock step right after Start is observed
	timer := t.clock.NewTimer(t.period)
	go t.run(timer, t.stopCh, t.doneCh)
}

func (t *Timer) run(timer clock.Timer, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	for {
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-timer.C():
			t.tick()
			timer.Reset(t.period)
		}
	}
}

// Stop disarms the timer and waits for an in-progress tick to return.
// It must not be called from the tick function.
func (t *Timer) Stop() {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return
	}
	t.started = false
	stopCh, doneCh := t.stopCh, t.doneCh
	t.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// Period returns the delay between ticks
func (t *Timer) Period() time.Duration { return t.period }
