// Package metrics declares the Prometheus collectors shared across the room
// fabric. Declared in one package, close to nothing in particular, so every
// component can import it without a dependency cycle back to room/registry.
//
// Naming convention: namespace_subsystem_name
//   - namespace: roomfabric (application-level grouping)
//   - subsystem: connection, room, dispatch, admission, cleanup, lock, breaker, rate_limit, bus
//   - name: specific metric (connections_active, events_total, etc.)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveWebSocketConnections tracks the current number of live connections.
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "roomfabric",
		Subsystem: "connection",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of live rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "roomfabric",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomParticipants tracks the number of connected sessions per room.
	RoomParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "roomfabric",
		Subsystem: "room",
		Name:      "participants_count",
		Help:      "Number of sessions attached to each room",
	}, []string{"room_id"})

	// WebsocketEvents tracks every dispatched event by kind and outcome.
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roomfabric",
		Subsystem: "dispatch",
		Name:      "events_total",
		Help:      "Total room events dispatched",
	}, []string{"event_type", "status"})

	// MessageProcessingDuration tracks event handling latency.
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "roomfabric",
		Subsystem: "dispatch",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing one dispatched event",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// AdmissionAttempts tracks connection admission outcomes (C10).
	AdmissionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roomfabric",
		Subsystem: "admission",
		Name:      "attempts_total",
		Help:      "Total connection admission attempts by outcome",
	}, []string{"status"})

	// AdmissionQueueDepth tracks the current size of the admission queue.
	AdmissionQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "roomfabric",
		Subsystem: "admission",
		Name:      "queue_depth",
		Help:      "Current depth of the connection admission queue",
	})

	// LockConflicts tracks region/track lock contention (C6 invariant I3).
	LockConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roomfabric",
		Subsystem: "lock",
		Name:      "conflicts_total",
		Help:      "Total lock acquisitions rejected due to contention",
	}, []string{"kind"})

	// CleanupSweeps tracks the cleanup scheduler's disposal decisions (C11).
	CleanupSweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roomfabric",
		Subsystem: "cleanup",
		Name:      "sweeps_total",
		Help:      "Total namespaces disposed by the cleanup scheduler, by reason",
	}, []string{"reason"})

	// CircuitBreakerState tracks breaker state per wrapped backend.
	// 0: Closed (Healthy), 1: Open (Failure), 2: Half-Open (Recovering)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "roomfabric",
		Subsystem: "breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// CircuitBreakerFailures tracks requests rejected by an open breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roomfabric",
		Subsystem: "breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by a circuit breaker",
	}, []string{"service"})

	// RateLimitExceeded tracks C3/C10 rate limit rejections.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roomfabric",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total requests rejected for exceeding a rate limit",
	}, []string{"endpoint", "reason"})

	// RateLimitRequests tracks every request checked against a limiter.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roomfabric",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total requests checked against a rate limiter",
	}, []string{"endpoint"})

	// RedisOperationsTotal tracks bus pub/sub calls (C7 cross-process fan-out).
	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roomfabric",
		Subsystem: "bus",
		Name:      "operations_total",
		Help:      "Total number of distributed bus operations",
	}, []string{"operation", "status"})

	// RedisOperationDuration tracks bus call latency.
	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "roomfabric",
		Subsystem: "bus",
		Name:      "operation_duration_seconds",
		Help:      "Duration of distributed bus operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
