package echoq

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	o, err := NewPrometheusObserver(reg)
	require.NoError(t, err)

	o.ObserveWrite(512, 2_000_000_000, StatusSuccess)
	o.ObserveRead(100, 2_000_000_000, StatusSuccess)
	o.ObserveRead(0, 1_000, StatusCancelled)
	o.ObserveTick(true)
	o.ObserveTick(false)
	o.ObserveAbandoned()
	o.ObserveLostRace()
	o.ObservePending(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(o.completions.WithLabelValues("WRITE", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.completions.WithLabelValues("READ", "cancelled")))
	assert.Equal(t, 512.0, testutil.ToFloat64(o.bytes.WithLabelValues("WRITE")))
	assert.Equal(t, 100.0, testutil.ToFloat64(o.bytes.WithLabelValues("READ")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.ticks.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.ticks.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.abandoned))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.lostRaces))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.pending))

	o.ObservePending(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(o.pending))

	count, err := testutil.GatherAndCount(reg, "echoq_request_latency_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestPrometheusObserverDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheusObserver(reg)
	require.NoError(t, err)

	_, err = NewPrometheusObserver(reg)
	assert.Error(t, err)

	unregistered, err := NewPrometheusObserver(nil)
	require.NoError(t, err)
	unregistered.ObserveTick(false)
}
