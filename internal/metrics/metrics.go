// Package metrics provides Prometheus instrumentation for the support-chat
// broker. It exposes gauges for connection and room counts, counters for
// message throughput and broker outcomes, and a histogram for operation
// latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "support_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the number of tickets with at least one member.
	ActiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "support_active_rooms",
		Help: "Current number of ticket rooms with at least one member",
	})

	// MessagesTotal counts stored messages, labeled by sender type:
	// "customer" or "agent".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "support_messages_total",
		Help: "Total number of messages appended to tickets",
	}, []string{"sender_type"})

	// BrokerOps counts broker operations by name and outcome. result is "ok"
	// or the error code returned to the caller.
	BrokerOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "support_broker_operations_total",
		Help: "Broker operations by operation and result",
	}, []string{"op", "result"})

	// BrokerOpLatency records broker operation latency in seconds.
	BrokerOpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "support_broker_operation_seconds",
		Help:    "Broker operation latency in seconds",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
	}, []string{"op"})

	// OutboundDropped counts events dropped because a connection's outbound
	// queue was full or the connection was already gone.
	OutboundDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "support_outbound_dropped_total",
		Help: "Outbound events dropped before reaching the socket",
	}, []string{"reason"}) // reason = "queue_full", "gone"

	// PublishFailures counts ticket events that could not be published.
	PublishFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "support_event_publish_failures_total",
		Help: "Ticket events that failed to publish to NATS",
	})

	// RateLimited counts operations rejected by the rate limiter.
	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "support_rate_limited_total",
		Help: "Operations rejected by the rate limiter",
	}, []string{"action"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ActiveRooms,
		MessagesTotal,
		BrokerOps,
		BrokerOpLatency,
		OutboundDropped,
		PublishFailures,
		RateLimited,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
