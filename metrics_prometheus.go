package echoq

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ehrlich-b/go-echoq/internal/request"
)

const metricsSubsystem = "echoq"

// PrometheusObserver exports device observations as Prometheus collectors
type PrometheusObserver struct {
	completions *prometheus.CounterVec
	bytes       *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	ticks       *prometheus.CounterVec
	abandoned   prometheus.Counter
	lostRaces   prometheus.Counter
	pending     prometheus.Gauge
}

// NewPrometheusObserver creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewPrometheusObserver(reg prometheus.Registerer) (*PrometheusObserver, error) {
	o := &PrometheusObserver{
		completions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: metricsSubsystem,
				Name:      "request_completions_total",
				Help:      "Completed requests by operation and status.",
			},
			[]string{"op", "status"},
		),
		bytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: metricsSubsystem,
				Name:      "transferred_bytes_total",
				Help:      "Bytes reported by successful completions.",
			},
			[]string{"op"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Subsystem: metricsSubsystem,
				Name:      "request_latency_seconds",
				Help:      "Time from submission to completion.",
				Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 2.5, 5, 10},
			},
			[]string{"op"},
		),
		ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: metricsSubsystem,
				Name:      "timer_ticks_total",
				Help:      "Completion timer ticks, by whether the tick completed the pending request.",
			},
			[]string{"drained"},
		),
		abandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: metricsSubsystem,
			Name:      "abandoned_requests_total",
			Help:      "Pending requests overwritten by a newer submission without completion.",
		}),
		lostRaces: prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: metricsSubsystem,
			Name:      "timer_lost_races_total",
			Help:      "Ticks that found the pending request already cancelled.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Subsystem: metricsSubsystem,
			Name:      "pending_requests",
			Help:      "1 while the pending slot holds a request.",
		}),
	}

	if reg != nil {
		for _, c := range o.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return o, nil
}

func (o *PrometheusObserver) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		o.completions, o.bytes, o.latency, o.ticks, o.abandoned, o.lostRaces, o.pending,
	}
}

func (o *PrometheusObserver) observe(op request.Op, bytes, latencyNs uint64, status request.Status) {
	o.completions.WithLabelValues(op.String(), status.String()).Inc()
	if status.OK() {
		o.bytes.WithLabelValues(op.String()).Add(float64(bytes))
	}
	o.latency.WithLabelValues(op.String()).Observe(float64(latencyNs) / 1e9)
}

func (o *PrometheusObserver) ObserveRead(bytes, latencyNs uint64, status request.Status) {
	o.observe(request.OpRead, bytes, latencyNs, status)
}

func (o *PrometheusObserver) ObserveWrite(bytes, latencyNs uint64, status request.Status) {
	o.observe(request.OpWrite, bytes, latencyNs, status)
}

func (o *PrometheusObserver) ObserveTick(drained bool) {
	label := "false"
	if drained {
		label = "true"
	}
	o.ticks.WithLabelValues(label).Inc()
}

func (o *PrometheusObserver) ObserveAbandoned() { o.abandoned.Inc() }

func (o *PrometheusObserver) ObserveLostRace() { o.lostRaces.Inc() }

func (o *PrometheusObserver) ObservePending(occupied bool) {
	if occupied {
		o.pending.Set(1)
	} else {
		o.pending.Set(0)
	}
}

var _ Observer = (*PrometheusObserver)(nil)
