package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/VanDung-dev/HieraMesh/hieramesh/protocol"
)

// Metrics holds all Prometheus metrics for one node. Each instance owns its
// registry so several nodes can live in one process.
type Metrics struct {
	Registry *prometheus.Registry

	// Message metrics
	MessagesReceived *prometheus.CounterVec
	MessagesRejected *prometheus.CounterVec

	// Outbound metrics
	Deliveries      *prometheus.CounterVec
	DeliveryLatency *prometheus.HistogramVec

	// Node state
	Peers      prometheus.Gauge
	SecureOnly prometheus.Gauge

	started time.Time
}

// NewMetrics creates a new Metrics instance with the given namespace.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Decoded inbound messages by kind",
		}, []string{"kind"}),
		MessagesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_rejected_total",
			Help:      "Inbound messages rejected by kind and reason",
		}, []string{"kind", "reason"}),

		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Outbound sends by kind and result",
		}, []string{"kind", "result"}),
		DeliveryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_latency_seconds",
			Help:      "Time to send one message to one peer",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"kind"}),

		Peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers",
			Help:      "Live peers in the registry",
		}),
		SecureOnly: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "secure_only",
			Help:      "1 once secure-only mode is active",
		}),

		started: time.Now(),
	}

	uptime := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Node uptime in seconds",
	}, func() float64 { return time.Since(m.started).Seconds() })

	m.Registry.MustRegister(
		m.MessagesReceived, m.MessagesRejected,
		m.Deliveries, m.DeliveryLatency,
		m.Peers, m.SecureOnly, uptime,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Received counts a decoded inbound message.
func (m *Metrics) Received(kind protocol.Kind) {
	m.MessagesReceived.WithLabelValues(kindLabel(kind)).Inc()
}

// Rejected counts a rejected inbound message.
func (m *Metrics) Rejected(kind protocol.Kind, reason protocol.Reason) {
	m.MessagesRejected.WithLabelValues(kindLabel(kind), string(reason)).Inc()
}

// Delivered records one outbound send.
func (m *Metrics) Delivered(kind protocol.Kind, err error, elapsed time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Deliveries.WithLabelValues(kindLabel(kind), result).Inc()
	m.DeliveryLatency.WithLabelValues(kindLabel(kind)).Observe(elapsed.Seconds())
}

// PeerCount updates the peers gauge.
func (m *Metrics) PeerCount(n int) {
	m.Peers.Set(float64(n))
}

// SecureMode updates the secure-only gauge.
func (m *Metrics) SecureMode(active bool) {
	if active {
		m.SecureOnly.Set(1)
	} else {
		m.SecureOnly.Set(0)
	}
}

// Undecodable input has no kind.
func kindLabel(k protocol.Kind) string {
	if k == "" {
		return "unknown"
	}
	return string(k)
}
