// Package metrics exposes Prometheus collectors for the server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wiretask"

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	connections   prometheus.Gauge
	users         prometheus.Gauge
	messages      *prometheus.CounterVec
	pushes        prometheus.Counter
	pushesDropped prometheus.Counter
	reaped        prometheus.Counter
	httpRequests  *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Open WebSocket connections",
		}),
		users: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_users",
			Help:      "Users with at least one authenticated connection",
		}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Inbound WebSocket messages by type and outcome",
		}, []string{"type", "status"}),
		pushes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_pushes_total",
			Help:      "task_updated pushes delivered to connections",
		}),
		pushesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_pushes_dropped_total",
			Help:      "Pushes skipped because the connection was closed or its queue was full",
		}),
		reaped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_reaped_total",
			Help:      "Connections terminated by the liveness monitor",
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"method", "route", "code"}),
	}
}

// SetConnections records the number of open connections.
func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

// SetUsers records the number of users with a registered connection.
func (m *Metrics) SetUsers(n int) {
	if m == nil {
		return
	}
	m.users.Set(float64(n))
}

// Message counts one handled inbound message.
func (m *Metrics) Message(typ string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.messages.WithLabelValues(typ, status).Inc()
}

// Push counts one push delivery attempt.
func (m *Metrics) Push(delivered bool) {
	if m == nil {
		return
	}
	if delivered {
		m.pushes.Inc()
		return
	}
	m.pushesDropped.Inc()
}

// Reaped counts one connection closed by the liveness monitor.
func (m *Metrics) Reaped() {
	if m == nil {
		return
	}
	m.reaped.Inc()
}

// HTTPRequest counts one served HTTP request.
func (m *Metrics) HTTPRequest(method, route, code string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, code).Inc()
}
