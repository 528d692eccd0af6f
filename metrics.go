package echoq

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/go-echoq/internal/interfaces"
	"github.com/ehrlich-b/go-echoq/internal/request"
)

// LatencyBuckets defines the completion latency histogram buckets in
// nanoseconds. Deferred requests complete on a timer tick, so most samples
// land near the timer period.
var LatencyBuckets = []uint64{
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	500_000_000,    // 500ms
	1_000_000_000,  // 1s
	2_000_000_000,  // 2s
	5_000_000_000,  // 5s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks request and timer statistics for an echo device
type Metrics struct {
	// Request counters (completed requests)
	ReadOps  atomic.Uint64
	WriteOps atomic.Uint64

	// Bytes transferred by successful completions
	ReadBytes  atomic.Uint64
	WriteBytes atomic.Uint64

	// Non-success completions, cancellations included
	ReadErrors  atomic.Uint64
	WriteErrors atomic.Uint64
	Cancelled   atomic.Uint64

	// Pending slot and timer
	Ticks     atomic.Uint64 // Timer ticks
	Drained   atomic.Uint64 // Ticks that completed the pending request
	Abandoned atomic.Uint64 // Pending requests overwritten by a newer submission
	LostRaces atomic.Uint64 // Ticks that found the pending request already cancelled
	Pending   atomic.Uint32 // 1 while the pending slot is occupied

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	// Each bucket[i] contains the count of completions with latency <= LatencyBuckets[i]
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64 // UnixNano
	StopTime  atomic.Int64 // UnixNano
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordRead records a completed read
func (m *Metrics) RecordRead(bytes uint64, latencyNs uint64, status Status) {
	m.ReadOps.Add(1)
	if status.OK() {
		m.ReadBytes.Add(bytes)
	} else {
		m.ReadErrors.Add(1)
	}
	m.recordStatus(status)
	m.recordLatency(latencyNs)
}

// RecordWrite records a completed write
func (m *Metrics) RecordWrite(bytes uint64, latencyNs uint64, status Status) {
	m.WriteOps.Add(1)
	if status.OK() {
		m.WriteBytes.Add(bytes)
	} else {
		m.WriteErrors.Add(1)
	}
	m.recordStatus(status)
	m.recordLatency(latencyNs)
}

func (m *Metrics) recordStatus(status Status) {
	if status == StatusCancelled {
		m.Cancelled.Add(1)
	}
}

// RecordTick records a timer tick
func (m *Metrics) RecordTick(drained bool) {
	m.Ticks.Add(1)
	if drained {
		m.Drained.Add(1)
	}
}

// RecordPending records the pending slot occupancy
func (m *Metrics) RecordPending(occupied bool) {
	if occupied {
		m.Pending.Store(1)
	} else {
		m.Pending.Store(0)
	}
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the device as stopped
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics with derived values
type MetricsSnapshot struct {
	ReadOps  uint64
	WriteOps uint64

	ReadBytes  uint64
	WriteBytes uint64

	ReadErrors  uint64
	WriteErrors uint64
	Cancelled   uint64

	Ticks     uint64
	Drained   uint64
	Abandoned uint64
	LostRaces uint64
	Pending   bool

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns uint64
	LatencyP99Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	TotalOps   uint64
	TotalBytes uint64
	ErrorRate  float64 // Percentage of non-success completions
}

// Snapshot creates a point-in-time snapshot of metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ReadOps:     m.ReadOps.Load(),
		WriteOps:    m.WriteOps.Load(),
		ReadBytes:   m.ReadBytes.Load(),
		WriteBytes:  m.WriteBytes.Load(),
		ReadErrors:  m.ReadErrors.Load(),
		WriteErrors: m.WriteErrors.Load(),
		Cancelled:   m.Cancelled.Load(),
		Ticks:       m.Ticks.Load(),
		Drained:     m.Drained.Load(),
		Abandoned:   m.Abandoned.Load(),
		LostRaces:   m.LostRaces.Load(),
		Pending:     m.Pending.Load() == 1,
	}

	snap.TotalOps = snap.ReadOps + snap.WriteOps
	snap.TotalBytes = snap.ReadBytes + snap.WriteBytes

	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / opCount
	}

	startTime := m.StartTime.Load()
	if stopTime := m.StopTime.Load(); stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(snap.ReadErrors+snap.WriteErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets. Samples beyond the
// largest bucket report the largest bucket.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := max(uint64(math.Ceil(float64(totalOps)*percentile)), 1)

	prevBucket := uint64(0)
	prevCount := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
		prevCount = bucketCount
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters (useful for testing)
func (m *Metrics) Reset() {
	for _, c := range []*atomic.Uint64{
		&m.ReadOps, &m.WriteOps, &m.ReadBytes, &m.WriteBytes,
		&m.ReadErrors, &m.WriteErrors, &m.Cancelled,
		&m.Ticks, &m.Drained, &m.Abandoned, &m.LostRaces,
		&m.TotalLatencyNs, &m.OpCount,
	} {
		c.Store(0)
	}
	m.Pending.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection. It is called with the
// controller lock held and must not block or call back into the device.
type Observer = interfaces.Observer

// NoOpObserver is a no-op implementation of Observer
type NoOpObserver struct{}

func (NoOpObserver) ObserveRead(uint64, uint64, request.Status)  {}
func (NoOpObserver) ObserveWrite(uint64, uint64, request.Status) {}
func (NoOpObserver) ObserveTick(bool)                            {}
func (NoOpObserver) ObserveAbandoned()                           {}
func (NoOpObserver) ObserveLostRace()                            {}
func (NoOpObserver) ObservePending(bool)                         {}

// MetricsObserver implements Observer using the built-in Metrics
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveRead(bytes uint64, latencyNs uint64, status request.Status) {
	o.metrics.RecordRead(bytes, latencyNs, status)
}

func (o *MetricsObserver) ObserveWrite(bytes uint64, latencyNs uint64, status request.Status) {
	o.metrics.RecordWrite(bytes, latencyNs, status)
}

func (o *MetricsObserver) ObserveTick(drained bool) { o.metrics.RecordTick(drained) }

func (o *MetricsObserver) ObserveAbandoned() { o.metrics.Abandoned.Add(1) }

func (o *MetricsObserver) ObserveLostRace() { o.metrics.LostRaces.Add(1) }

func (o *MetricsObserver) ObservePending(occupied bool) { o.metrics.RecordPending(occupied) }

// multiObserver fans observations out to several observers
type multiObserver []Observer

func (m multiObserver) ObserveRead(bytes, latencyNs uint64, status request.Status) {
	for _, o := range m {
		o.ObserveRead(bytes, latencyNs, status)
	}
}

func (m multiObserver) ObserveWrite(bytes, latencyNs uint64, status request.Status) {
	for _, o := range m {
		o.ObserveWrite(bytes, latencyNs, status)
	}
}

func (m multiObserver) ObserveTick(drained bool) {
	for _, o := range m {
		o.ObserveTick(drained)
	}
}

func (m multiObserver) ObserveAbandoned() {
	for _, o := range m {
		o.ObserveAbandoned()
	}
}

func (m multiObserver) ObserveLostRace() {
	for _, o := range m {
		o.ObserveLostRace()
	}
}

func (m multiObserver) ObservePending(occupied bool) {
	for _, o := range m {
		o.ObservePending(occupied)
	}
}

// Compile-time interface check
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = NoOpObserver{}
var _ Observer = multiObserver(nil)
