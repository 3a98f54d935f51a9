// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OpenConnections tracks currently admitted websocket connections.
	OpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jobchat_ws_open_connections",
		Help: "Number of open, authenticated websocket connections.",
	})

	// HandshakeFailures counts rejected handshakes by reason
	// (missing-token, invalid-token, expired-token, timeout).
	HandshakeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobchat_ws_handshake_failures_total",
		Help: "Websocket handshakes rejected, by reason.",
	}, []string{"reason"})

	// MessagesDispatched counts messages accepted and persisted by the
	// dispatcher.
	MessagesDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobchat_messages_dispatched_total",
		Help: "Messages validated, persisted and published.",
	})

	// DispatchRejected counts sends refused before persistence, by error
	// kind (invalid-content, job-not-found, forbidden, no-recipient).
	DispatchRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobchat_dispatch_rejected_total",
		Help: "Message sends rejected before persistence, by reason.",
	}, []string{"reason"})

	// EventsPublished counts live events fanned out to local subscribers,
	// by channel kind (room, personal, role).
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobchat_events_published_total",
		Help: "Live events delivered to local subscribers, by channel kind.",
	}, []string{"kind"})

	// EventsDropped counts events discarded because a subscriber's send
	// buffer was full.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobchat_events_dropped_total",
		Help: "Live events dropped due to slow subscribers.",
	})
)

// Handler serves the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
