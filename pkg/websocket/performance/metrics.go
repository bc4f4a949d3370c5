package performance

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sitewatch"

// Poll outcomes recorded by ObservePoll
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeCanceled = "canceled"
)

// Collector owns the prometheus collectors shared by every subscription.
// Each subscription records through a target-labelled view from ForTarget.
type Collector struct {
	received      *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	heartbeats    *prometheus.CounterVec
	connErrors    *prometheus.CounterVec
	reconnections *prometheus.CounterVec
	skipped       *prometheus.CounterVec
	polls         *prometheus.CounterVec
	pollLatency   *prometheus.HistogramVec
}

// NewCollector creates the collectors and registers them with reg
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Inbound frames and poll bodies handed to the router.",
		}, []string{"target"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Inbound data dropped before reaching the subscriber.",
		}, []string{"target", "reason"}),
		heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_sent_total",
			Help:      "Heartbeat frames written to open sockets.",
		}, []string{"target"}),
		connErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_errors_total",
			Help:      "Abnormal socket closes and dial failures.",
		}, []string{"target"}),
		reconnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts scheduled.",
		}, []string{"target"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_ticks_skipped_total",
			Help:      "Poll invocations skipped because a request was still in flight.",
		}, []string{"target"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Completed poll executions by outcome.",
		}, []string{"target", "outcome"}),
		pollLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Wall time of a guarded poll including retries.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		}, []string{"target"}),
	}

	collectors := []prometheus.Collector{
		c.received, c.dropped, c.heartbeats, c.connErrors,
		c.reconnections, c.skipped, c.polls, c.pollLatency,
	}
	for _, col := range collectors {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// ForTarget returns a Metrics view labelled with target
func (c *Collector) ForTarget(target string) Metrics {
	return &targetMetrics{c: c, target: target}
}

type targetMetrics struct {
	c      *Collector
	target string
}

func (m *targetMetrics) IncrementReceived() {
	m.c.received.WithLabelValues(m.target).Inc()
}

func (m *targetMetrics) IncrementDropped(reason string) {
	m.c.dropped.WithLabelValues(m.target, reason).Inc()
}

func (m *targetMetrics) IncrementHeartbeat() {
	m.c.heartbeats.WithLabelValues(m.target).Inc()
}

func (m *targetMetrics) IncrementConnectionError() {
	m.c.connErrors.WithLabelValues(m.target).Inc()
}

func (m *targetMetrics) IncrementReconnection() {
	m.c.reconnections.WithLabelValues(m.target).Inc()
}

func (m *targetMetrics) IncrementSkipped() {
	m.c.skipped.WithLabelValues(m.target).Inc()
}

func (m *targetMetrics) ObservePoll(outcome string, latency time.Duration) {
	m.c.polls.WithLabelValues(m.target, outcome).Inc()
	m.c.pollLatency.WithLabelValues(m.target).Observe(latency.Seconds())
}

type noopMetrics struct{}

// NoopMetrics returns a Metrics implementation that records nothing
func NoopMetrics() Metrics {
	return noopMetrics{}
}

func (noopMetrics) IncrementReceived() {}
func (noopMetrics) IncrementDropped(string) {}
func (noopMetrics) IncrementHeartbeat() {}
func (noopMetrics) IncrementConnectionError() {}
func (noopMetrics) IncrementReconnection() {}
func (noopMetrics) IncrementSkipped() {}
func (noopMetrics) ObservePoll(string, time.Duration) {}
