package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the signaling server.
//
// Naming convention: namespace_subsystem_name
// - namespace: matchpoint (application-level grouping)
// - subsystem: websocket, room, signaling (feature-level grouping)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, participants)
// - Counter: Cumulative events (frames routed, drops, rate limits)

var (
	// ActiveConnections tracks the current number of open WebSocket sessions.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "matchpoint",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of live rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "matchpoint",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomParticipants tracks the number of peers in each room.
	RoomParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "matchpoint",
		Subsystem: "room",
		Name:      "participants_count",
		Help:      "Number of peers in each room",
	}, []string{"room_id"})

	// SignalingEvents counts every outbound event by type and outcome.
	// status is "sent" or "dropped"; a drop means the recipient was gone
	// or its send buffer rejected the enqueue.
	SignalingEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "matchpoint",
		Subsystem: "signaling",
		Name:      "events_total",
		Help:      "Total signaling events emitted",
	}, []string{"event_type", "status"})

	// InboundFrames counts frames received from peers by request type.
	// request_type is "signal", "keep_alive", or "malformed".
	InboundFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "matchpoint",
		Subsystem: "signaling",
		Name:      "inbound_frames_total",
		Help:      "Total inbound frames by request type",
	}, []string{"request_type"})

	// RateLimitRequests counts requests that passed rate limiting.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "matchpoint",
		Subsystem: "websocket",
		Name:      "ratelimit_requests_total",
		Help:      "Total requests checked against the rate limiter",
	}, []string{"route"})

	// RateLimitExceeded counts requests rejected by the rate limiter.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "matchpoint",
		Subsystem: "websocket",
		Name:      "ratelimit_exceeded_total",
		Help:      "Total requests rejected by the rate limiter",
	}, []string{"route", "limit_type"})

	// CircuitBreakerState mirrors the breaker state per backing service
	// (0 = closed, 1 = open, 2 = half-open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "matchpoint",
		Subsystem: "store",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	// CircuitBreakerFailures counts calls refused by an open breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "matchpoint",
		Subsystem: "store",
		Name:      "circuit_breaker_failures_total",
		Help:      "Calls refused while the circuit breaker was open",
	}, []string{"service"})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
