// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "talko"

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"method", "route"},
	)

	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections_active",
			Help:      "Authenticated realtime connections.",
		},
	)

	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_users",
			Help:      "Identities currently reported online.",
		},
	)

	WSFramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_frames_received_total",
			Help:      "Inbound realtime frames by type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	WSPushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_pushes_total",
			Help:      "Outbound frame pushes by type and result.",
		},
		[]string{"type", "result"},
	)

	WSAuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_auth_failures_total",
			Help:      "Realtime handshakes closed with a policy violation.",
		},
		[]string{"reason"},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Persisted messages by kind.",
		},
		[]string{"kind"},
	)
)

// ObserveHTTP records one finished request.
func ObserveHTTP(method, route string, status int, d time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordPush counts a push attempt of frame type typ.
func RecordPush(typ string, accepted bool) {
	result := "dropped"
	if accepted {
		result = "ok"
	}
	WSPushes.WithLabelValues(typ, result).Inc()
}

// MessageKind labels a message as "direct" or "broadcast".
func MessageKind(direct bool) string {
	if direct {
		return "direct"
	}
	return "broadcast"
}
