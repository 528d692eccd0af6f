package echoq

import (
	"testing"
	"time"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("Expected 0 initial ops, got %d", snap.TotalOps)
	}

	m.RecordRead(1024, uint64(2*time.Second), StatusSuccess)
	m.RecordWrite(2048, uint64(2*time.Second), StatusSuccess)
	m.RecordRead(0, uint64(time.Millisecond), StatusCancelled)

	snap = m.Snapshot()

	if snap.ReadOps != 2 {
		t.Errorf("Expected 2 read ops, got %d", snap.ReadOps)
	}
	if snap.WriteOps != 1 {
		t.Errorf("Expected 1 write op, got %d", snap.WriteOps)
	}

	// Bytes only count successful completions
	if snap.ReadBytes != 1024 {
		t.Errorf("Expected 1024 read bytes, got %d", snap.ReadBytes)
	}
	if snap.WriteBytes != 2048 {
		t.Errorf("Expected 2048 write bytes, got %d", snap.WriteBytes)
	}

	if snap.ReadErrors != 1 {
		t.Errorf("Expected 1 read error, got %d", snap.ReadErrors)
	}
	if snap.Cancelled != 1 {
		t.Errorf("Expected 1 cancellation, got %d", snap.Cancelled)
	}

	expectedErrorRate := float64(1) / float64(3) * 100.0
	if snap.ErrorRate < expectedErrorRate-0.1 || snap.ErrorRate > expectedErrorRate+0.1 {
		t.Errorf("Expected error rate ~%.1f%%, got %.1f%%", expectedErrorRate, snap.ErrorRate)
	}
}

func TestMetricsTimer(t *testing.T) {
	m := NewMetrics()
	o := NewMetricsObserver(m)

	o.ObservePending(true)
	if !m.Snapshot().Pending {
		t.Error("Expected pending slot occupied")
	}

	o.ObserveTick(true)
	o.ObservePending(false)
	o.ObserveTick(false)
	o.ObserveTick(false)
	o.ObserveAbandoned()
	o.ObserveLostRace()

	snap := m.Snapshot()
	if snap.Pending {
		t.Error("Expected pending slot empty")
	}
	if snap.Ticks != 3 {
		t.Errorf("Expected 3 ticks, got %d", snap.Ticks)
	}
	if snap.Drained != 1 {
		t.Errorf("Expected 1 drained tick, got %d", snap.Drained)
	}
	if snap.Abandoned != 1 || snap.LostRaces != 1 {
		t.Errorf("Expected 1 abandoned and 1 lost race, got %d and %d", snap.Abandoned, snap.LostRaces)
	}
}

func TestMetricsLatency(t *testing.T) {
	m := NewMetrics()

	m.RecordWrite(100, uint64(2*time.Second), StatusSuccess)
	m.RecordWrite(100, uint64(2*time.Second), StatusSuccess)
	m.RecordRead(100, uint64(time.Second), StatusSuccess)
	m.RecordRead(100, uint64(time.Second), StatusSuccess)

	snap := m.Snapshot()

	expectedAvg := uint64(1500 * time.Millisecond)
	if snap.AvgLatencyNs != expectedAvg {
		t.Errorf("Expected avg latency %d ns, got %d ns", expectedAvg, snap.AvgLatencyNs)
	}

	// 1s bucket holds the two reads, 2s bucket all four
	if snap.LatencyHistogram[4] != 2 {
		t.Errorf("Expected 2 samples <= 1s, got %d", snap.LatencyHistogram[4])
	}
	if snap.LatencyHistogram[5] != 4 {
		t.Errorf("Expected 4 samples <= 2s, got %d", snap.LatencyHistogram[5])
	}

	if snap.LatencyP50Ns == 0 || snap.LatencyP50Ns > uint64(time.Second) {
		t.Errorf("Expected p50 within the 1s bucket, got %d", snap.LatencyP50Ns)
	}
	if snap.LatencyP99Ns <= uint64(time.Second) || snap.LatencyP99Ns > uint64(2*time.Second) {
		t.Errorf("Expected p99 within the 2s bucket, got %d", snap.LatencyP99Ns)
	}
}

func TestMetricsPercentileOverflow(t *testing.T) {
	m := NewMetrics()
	m.RecordRead(1, uint64(time.Minute), StatusSuccess)

	if got := m.calculatePercentile(0.5); got != LatencyBuckets[numLatencyBuckets-1] {
		t.Errorf("Expected latency capped at largest bucket, got %d", got)
	}
}

func TestMetricsPercentileSingleSample(t *testing.T) {
	m := NewMetrics()
	m.RecordWrite(1, uint64(5*time.Millisecond), StatusSuccess)

	for _, p := range []float64{0.01, 0.5, 0.99} {
		got := m.calculatePercentile(p)
		if got <= uint64(time.Millisecond) || got > uint64(10*time.Millisecond) {
			t.Errorf("p%v: expected latency within the 10ms bucket, got %d", p*100, got)
		}
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()
	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()
	if snap.UptimeNs < uint64(10*time.Millisecond) {
		t.Errorf("Expected uptime >= 10ms, got %d ns", snap.UptimeNs)
	}

	m.Stop()
	stopped := m.Snapshot().UptimeNs
	time.Sleep(5 * time.Millisecond)
	if m.Snapshot().UptimeNs != stopped {
		t.Error("Expected uptime frozen after Stop")
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.RecordRead(1024, 1000000, StatusSuccess)
	m.RecordWrite(2048, 2000000, StatusBusy)
	m.RecordTick(true)
	m.RecordPending(true)

	m.Reset()

	snap := m.Snapshot()
	if snap.TotalOps != 0 || snap.TotalBytes != 0 || snap.WriteErrors != 0 {
		t.Errorf("Expected all counters zero after reset, got %+v", snap)
	}
	if snap.Ticks != 0 || snap.Pending {
		t.Error("Expected timer counters zero after reset")
	}
}

func TestMultiObserver(t *testing.T) {
	a, b := NewMetrics(), NewMetrics()
	o := multiObserver{NewMetricsObserver(a), NewMetricsObserver(b), NoOpObserver{}}

	o.ObserveWrite(10, 1, StatusSuccess)
	o.ObserveRead(5, 1, StatusSuccess)
	o.ObserveTick(true)
	o.ObserveAbandoned()
	o.ObserveLostRace()
	o.ObservePending(true)

	for _, m := range []*Metrics{a, b} {
		snap := m.Snapshot()
		if snap.TotalBytes != 15 || snap.Drained != 1 || snap.Abandoned != 1 || snap.LostRaces != 1 || !snap.Pending {
			t.Errorf("Unexpected fan-out result: %+v", snap)
		}
	}
}

func BenchmarkMetricsRecord(b *testing.B) {
	m := NewMetrics()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		m.RecordWrite(4096, 2_000_000_000, StatusSuccess)
	}
}
