// Package metrics exposes Prometheus instruments for the streaming core.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "callstream"

type Metrics struct {
	registry *prometheus.Registry

	ConnectionsAccepted prometheus.Counter
	ConnectionsRejected *prometheus.CounterVec
	FramesIn            *prometheus.CounterVec
	DecodeErrors        prometheus.Counter
	InvalidTransitions  *prometheus.CounterVec
	FramesOut           prometheus.Counter
	SendFailures        prometheus.Counter
	SessionsReplaced    prometheus.Counter
	SessionDuration     prometheus.Histogram
}

// New registers all instruments on a private registry. activeSessions backs
// the active session gauge; it may be nil.
func New(activeSessions func() int) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		ConnectionsAccepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "Stream connections that passed the handshake",
		}),
		ConnectionsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_rejected_total",
			Help:      "Stream connections refused before upgrade",
		}, []string{"reason"}),
		FramesIn: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_in_total",
			Help:      "Inbound frames by event tag",
		}, []string{"event"}),
		DecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Inbound frames dropped as malformed",
		}),
		InvalidTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_transitions_total",
			Help:      "Frames ignored because of session state",
		}, []string{"event"}),
		FramesOut: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_out_total",
			Help:      "Outbound media frames sent",
		}),
		SendFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Outbound buffers that stopped early",
		}),
		SessionsReplaced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_replaced_total",
			Help:      "Sessions evicted by a newer session under the same call id",
		}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Lifetime of media sessions",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1h
		}),
	}

	if activeSessions != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions currently in the registry",
		}, func() float64 { return float64(activeSessions()) })
	}
	return m
}

// Handler serves the exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Accepted() {
	if m == nil {
		return
	}
	m.ConnectionsAccepted.Inc()
}

func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.ConnectionsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) FrameIn(event string) {
	if m == nil {
		return
	}
	m.FramesIn.WithLabelValues(event).Inc()
}

func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.DecodeErrors.Inc()
}

func (m *Metrics) InvalidTransition(event string) {
	if m == nil {
		return
	}
	m.InvalidTransitions.WithLabelValues(event).Inc()
}

func (m *Metrics) Sent(n int) {
	if m == nil || n == 0 {
		return
	}
	m.FramesOut.Add(float64(n))
}

func (m *Metrics) SendFailure() {
	if m == nil {
		return
	}
	m.SendFailures.Inc()
}

func (m *Metrics) Replaced() {
	if m == nil {
		return
	}
	m.SessionsReplaced.Inc()
}

func (m *Metrics) SessionClosed(d time.Duration) {
	if m == nil {
		return
	}
	m.SessionDuration.Observe(d.Seconds())
}
