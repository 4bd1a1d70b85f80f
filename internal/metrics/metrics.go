// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the service collectors behind a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Requests    *prometheus.CounterVec
	Latency     *prometheus.HistogramVec
	Webhooks    *prometheus.CounterVec
	Fruit       *prometheus.CounterVec
	Bounties    prometheus.Counter
	Reconciled  *prometheus.CounterVec
	Anomalies   *prometheus.CounterVec
	RoomStreams prometheus.Gauge
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "antfarm",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code.",
		}, []string{"route", "code"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "antfarm",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		Webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "antfarm",
			Name:      "webhook_deliveries_total",
			Help:      "Webhook deliveries by notification type and outcome.",
		}, []string{"type", "outcome"}),
		Fruit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "antfarm",
			Name:      "fruit_grown_total",
			Help:      "Fruit grown by type.",
		}, []string{"type"}),
		Bounties: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "antfarm",
			Name:      "bounties_claimed_total",
			Help:      "Bounties flipped to claimed by an approval.",
		}),
		Reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "antfarm",
			Name:      "reconciled_total",
			Help:      "Missing lifecycle writes replayed by the reconciler.",
		}, []string{"kind"}),
		Anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "antfarm",
			Name:      "anomalies_total",
			Help:      "Detected anomalies by type.",
		}, []string{"type"}),
		RoomStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "antfarm",
			Name:      "room_stream_clients",
			Help:      "Open room live-tail websocket connections.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Requests, m.Latency, m.Webhooks, m.Fruit, m.Bounties, m.Reconciled, m.Anomalies, m.RoomStreams,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one finished request.
func (m *Metrics) ObserveRequest(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.Requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.Latency.WithLabelValues(route).Observe(d.Seconds())
}

// WebhookDelivered records a webhook delivery outcome ("ok" or "failed").
func (m *Metrics) WebhookDelivered(typ, outcome string) {
	if m == nil {
		return
	}
	m.Webhooks.WithLabelValues(typ, outcome).Inc()
}

// FruitGrown records a new fruit.
func (m *Metrics) FruitGrown(typ string) {
	if m == nil {
		return
	}
	m.Fruit.WithLabelValues(typ).Inc()
}

// BountyClaimed records a claimed bounty.
func (m *Metrics) BountyClaimed() {
	if m == nil {
		return
	}
	m.Bounties.Inc()
}

// ReconcileReplayed records n replayed writes of kind.
func (m *Metrics) ReconcileReplayed(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Reconciled.WithLabelValues(kind).Add(float64(n))
}

// AnomalyDetected records an anomaly of typ.
func (m *Metrics) AnomalyDetected(typ string) {
	if m == nil {
		return
	}
	m.Anomalies.WithLabelValues(typ).Inc()
}

// StreamOpened tracks a new live-tail client; call the returned func on close.
func (m *Metrics) StreamOpened() func() {
	if m == nil {
		return func() {}
	}
	m.RoomStreams.Inc()
	return m.RoomStreams.Dec
}
