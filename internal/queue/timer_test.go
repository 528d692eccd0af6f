package queue

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"
)

func TestTimerFiresEveryPeriod(t *testing.T) {
	fc := testclock.NewFakeClock(time.Now())
	var ticks atomic.Int32
	timer := NewTimer(fc, 2*time.Second, func() { ticks.Add(1) })

	timer.Start()
	defer timer.Stop()
	require.True(t, fc.HasWaiters())

	fc.Step(time.Second)
	assert.Equal(t, int32(0), ticks.Load())

	fc.Step(time.Second)
	require.Eventually(t, func() bool { return ticks.Load() == 1 }, time.Second, time.Millisecond)

	// Re-armed after each tick
	for want := int32(2); want <= 4; want++ {
		require.Eventually(t, fc.HasWaiters, time.Second, time.Millisecond)
		fc.Step(2 * time.Second)
		require.Eventually(t, func() bool { return ticks.Load() == want }, time.Second, time.Millisecond)
	}
}

func TestTimerStop(t *testing.T) {
	fc := testclock.NewFakeClock(time.Now())
	var ticks atomic.Int32
	timer := NewTimer(fc, time.Second, func() { ticks.Add(1) })

	// Stop before Start is a no-op
	timer.Stop()

	timer.Start()
	timer.Start()
	timer.Stop()
	timer.Stop()

	fc.Step(5 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), ticks.Load())
	assert.False(t, fc.HasWaiters())
}

func TestTimerStopWaitsForTick(t *testing.T) {
	fc := testclock.NewFakeClock(time.Now())
	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	timer := NewTimer(fc, time.Second, func() {
		close(entered)
		<-release
		finished.Store(true)
	})

	timer.Start()
	fc.Step(time.Second)
	<-entered

	stopped := make(chan struct{})
	go func() {
		timer.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while tick was running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-stopped
	assert.True(t, finished.Load())
}

func TestTimerRealClockDefault(t *testing.T) {
	var ticks atomic.Int32
	timer := NewTimer(nil, 5*time.Millisecond, func() { ticks.Add(1) })
	assert.Equal(t, 5*time.Millisecond, timer.Period())

	timer.Start()
	require.Eventually(t, func() bool { return ticks.Load() >= 2 }, 2*time.Second, time.Millisecond)
	timer.Stop()
}
