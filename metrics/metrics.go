// Package metrics exposes Prometheus collectors for the RPC client.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all collectors. A nil *Metrics is valid and records nothing,
// so components can call it unconditionally.
type Metrics struct {
	CallsTotal      *prometheus.CounterVec
	CallDuration    *prometheus.HistogramVec
	PendingCalls    prometheus.Gauge
	SessionState    prometheus.Gauge
	ReconnectsTotal *prometheus.CounterVec
	Notifications   *prometheus.CounterVec
	TimeoutsTotal   prometheus.Counter
}

// NewMetrics creates and registers all collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		CallsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sserpc",
				Name:      "calls_total",
				Help:      "Total number of RPC calls issued",
			},
			[]string{"method", "status"}, // status=ok/rpc_error/timeout/submit_error/connection_lost/cancelled/error
		),
		CallDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sserpc",
				Name:      "call_duration_seconds",
				Help:      "Time from submission to response",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		PendingCalls: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sserpc",
				Name:      "pending_calls",
				Help:      "Calls awaiting a response on the stream",
			},
		),
		SessionState: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sserpc",
				Name:      "session_state",
				Help:      "Current lifecycle state (0=disconnected 1=connecting 2=streaming 3=ready 4=degraded)",
			},
		),
		ReconnectsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sserpc",
				Name:      "reconnects_total",
				Help:      "Stream reconnection attempts",
			},
			[]string{"result"}, // result=ok/error
		),
		Notifications: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sserpc",
				Name:      "notifications_total",
				Help:      "Server notifications received on the stream",
			},
			[]string{"method"},
		),
		TimeoutsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "sserpc",
				Name:      "timeouts_total",
				Help:      "Calls evicted by their per-call timeout",
			},
		),
	}
}

// ObserveCall records one finished call.
func (m *Metrics) ObserveCall(method, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.CallsTotal.WithLabelValues(method, status).Inc()
	m.CallDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingCalls.Set(float64(n))
}

func (m *Metrics) SetState(state int) {
	if m == nil {
		return
	}
	m.SessionState.Set(float64(state))
}

func (m *Metrics) Reconnect(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.ReconnectsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Notification(method string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(method).Inc()
}

func (m *Metrics) Timeout() {
	if m == nil {
		return
	}
	m.TimeoutsTotal.Inc()
}
