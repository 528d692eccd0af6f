package echoq

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-echoq/internal/request"
)

// recordingForwarder captures forwarded requests without completing them
type recordingForwarder struct {
	mu  sync.Mutex
	got []*request.Request
}

func (f *recordingForwarder) forward(req *request.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, req)
}

func (f *recordingForwarder) forwarded() []*request.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*request.Request(nil), f.got...)
}

func newTestDispatcher(t *testing.T, backlog int) (*dispatcher, *recordingForwarder) {
	t.Helper()
	f := &recordingForwarder{}
	d := newDispatcher(backlog, f.forward, quietLogger())
	d.start()
	t.Cleanup(d.close)
	return d, f
}

func TestDispatcherForwardsOneAtATime(t *testing.T) {
	d, f := newTestDispatcher(t, 8)

	reqs := []*request.Request{
		request.NewWrite([]byte("a")),
		request.NewWrite([]byte("b")),
		request.NewWrite([]byte("c")),
	}
	for _, r := range reqs {
		d.enqueue(r)
	}

	for i, r := range reqs {
		require.Eventually(t, func() bool { return len(f.forwarded()) == i+1 }, time.Second, time.Millisecond)
		// Nothing else goes out until the current request completes
		time.Sleep(5 * time.Millisecond)
		assert.Len(t, f.forwarded(), i+1)
		assert.Same(t, r, f.forwarded()[i])
		r.Complete(StatusSuccess, 1)
	}
	assert.Equal(t, 0, d.queued())
}

func TestDispatcherRemove(t *testing.T) {
	d, f := newTestDispatcher(t, 8)

	first := request.NewWrite([]byte("a"))
	second := request.NewWrite([]byte("b"))
	d.enqueue(first)
	require.Eventually(t, func() bool { return len(f.forwarded()) == 1 }, time.Second, time.Millisecond)
	d.enqueue(second)

	assert.False(t, d.remove(first), "forwarded requests cannot be removed")
	assert.True(t, d.remove(second))
	assert.False(t, d.remove(second))
	assert.Equal(t, 0, d.queued())
}

func TestDispatcherBacklogAndClose(t *testing.T) {
	d, f := newTestDispatcher(t, 1)

	first := request.NewWrite([]byte("a"))
	d.enqueue(first)
	require.Eventually(t, func() bool { return len(f.forwarded()) == 1 }, time.Second, time.Millisecond)

	queued := request.NewWrite([]byte("b"))
	d.enqueue(queued)
	overflow := request.NewWrite([]byte("c"))
	d.enqueue(overflow)

	status, _ := overflow.Result()
	assert.Equal(t, StatusBusy, status)

	d.close()
	<-queued.Done()
	status, _ = queued.Result()
	assert.Equal(t, StatusCancelled, status)

	late := request.NewRead(1, make([]byte, 1))
	d.enqueue(late)
	<-late.Done()
	status, _ = late.Result()
	assert.Equal(t, StatusInvalidDeviceRequest, status)

	// Forwarded requests belong to the controller and are left alone
	select {
	case <-first.Done():
		t.Fatal("forwarded request completed by dispatcher close")
	default:
	}
	d.close()
}
