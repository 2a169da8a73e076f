// Package metrics holds the Prometheus metrics exposed by the coordinator
// and the capture nodes, following the teacher's promauto factory pattern
// (telemetry/gnmi-writer/internal/gnmi.NewConsumerMetrics).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CoordinatorMetrics holds metrics for the master side: command issuance,
// completion latency, per-peer and global outcome counts, and bus health.
type CoordinatorMetrics struct {
	CommandsIssued     *prometheus.CounterVec
	CommandsCompleted  *prometheus.CounterVec
	CommandsTimedOut   *prometheus.CounterVec
	ResponseRTT        *prometheus.HistogramVec
	PeerResponsesOK    *prometheus.CounterVec
	PeerResponsesError *prometheus.CounterVec
	LocalCapturesOK    prometheus.Counter
	LocalCapturesError prometheus.Counter
	BusConnected       prometheus.Gauge
	TriggerQueueDepth  prometheus.Gauge
	HeartbeatsSent     prometheus.Counter
	HeartbeatMisses    *prometheus.CounterVec
}

// NewCoordinatorMetrics registers coordinator metrics with reg.
func NewCoordinatorMetrics(reg prometheus.Registerer) *CoordinatorMetrics {
	factory := promauto.With(reg)
	return &CoordinatorMetrics{
		CommandsIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "helmcam_commands_issued_total",
			Help: "Total number of commands issued by kind",
		}, []string{"kind"}),
		CommandsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "helmcam_commands_completed_total",
			Help: "Total number of commands that closed with every peer responded",
		}, []string{"kind"}),
		CommandsTimedOut: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "helmcam_commands_timed_out_total",
			Help: "Total number of commands that closed on the deadline with peers still outstanding",
		}, []string{"kind"}),
		ResponseRTT: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "helmcam_response_rtt_seconds",
			Help:    "Round-trip time from command issuance to a peer's response",
			Buckets: prometheus.DefBuckets,
		}, []string{"peer"}),
		PeerResponsesOK: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "helmcam_peer_responses_ok_total",
			Help: "Total number of ok responses per peer",
		}, []string{"peer"}),
		PeerResponsesError: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "helmcam_peer_responses_error_total",
			Help: "Total number of error or timeout outcomes per peer",
		}, []string{"peer"}),
		LocalCapturesOK: factory.NewCounter(prometheus.CounterOpts{
			Name: "helmcam_local_captures_ok_total",
			Help: "Total number of successful captures on the master's own camera",
		}),
		LocalCapturesError: factory.NewCounter(prometheus.CounterOpts{
			Name: "helmcam_local_captures_error_total",
			Help: "Total number of failed captures on the master's own camera",
		}),
		BusConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "helmcam_bus_connected",
			Help: "1 if the most recent bus publish or health check succeeded, else 0",
		}),
		TriggerQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "helmcam_trigger_queue_depth",
			Help: "Current number of pending ticks in the trigger arbiter's queue",
		}),
		HeartbeatsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "helmcam_heartbeats_sent_total",
			Help: "Total number of poll commands issued by the heartbeat driver",
		}),
		HeartbeatMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "helmcam_heartbeat_misses_total",
			Help: "Total number of heartbeat polls a peer failed to answer before the deadline",
		}, []string{"peer"}),
	}
}

// PeerMetrics holds metrics for a capture node: inbound command handling,
// duplicate suppression, and session bookkeeping.
type PeerMetrics struct {
	CommandsReceived     *prometheus.CounterVec
	DuplicatesSuppressed prometheus.Counter
	CapturesOK           prometheus.Counter
	CapturesError        prometheus.Counter
	ResponsePublishErr   prometheus.Counter
	SessionRollovers     prometheus.Counter
}

// NewPeerMetrics registers capture-node metrics with reg.
func NewPeerMetrics(reg prometheus.Registerer) *PeerMetrics {
	factory := promauto.With(reg)
	return &PeerMetrics{
		CommandsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "helmcam_peer_commands_received_total",
			Help: "Total number of commands received by kind",
		}, []string{"kind"}),
		DuplicatesSuppressed: factory.NewCounter(prometheus.CounterOpts{
			Name: "helmcam_peer_duplicates_suppressed_total",
			Help: "Total number of commands ignored because their id equalled last_seen_id",
		}),
		CapturesOK: factory.NewCounter(prometheus.CounterOpts{
			Name: "helmcam_peer_captures_ok_total",
			Help: "Total number of successful local camera captures",
		}),
		CapturesError: factory.NewCounter(prometheus.CounterOpts{
			Name: "helmcam_peer_captures_error_total",
			Help: "Total number of failed local camera captures",
		}),
		ResponsePublishErr: factory.NewCounter(prometheus.CounterOpts{
			Name: "helmcam_peer_response_publish_errors_total",
			Help: "Total number of failures publishing a response envelope",
		}),
		SessionRollovers: factory.NewCounter(prometheus.CounterOpts{
			Name: "helmcam_peer_session_rollovers_total",
			Help: "Total number of session directory rollovers",
		}),
	}
}
