package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons used with FramesDropped.
const (
	DropInvalidPayload  = "invalid_payload"
	DropOversized       = "oversized_payload"
	DropNoViewer        = "no_paired_viewer"
	DropViewerOffline   = "viewer_offline"
	DropSendBufferFull  = "send_buffer_full"
	DropViewerSendError = "viewer_send_error"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silo_relay_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "silo_relay_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Connection metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "silo_relay_connections_active",
			Help: "Open WebSocket connections",
		},
	)

	ConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "silo_relay_connections_total",
			Help: "Total WebSocket connections accepted",
		},
	)

	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silo_relay_events_received_total",
			Help: "Inbound events by name",
		},
		[]string{"event"},
	)

	EventErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silo_relay_event_errors_total",
			Help: "Error events sent back to clients",
		},
		[]string{"code"},
	)

	// Relay metrics
	SignalingForwarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silo_relay_signaling_forwarded_total",
			Help: "Signaling messages forwarded between peers",
		},
		[]string{"event"},
	)

	FramesRelayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "silo_relay_frames_relayed_total",
			Help: "Frames forwarded to a viewer",
		},
	)

	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silo_relay_frames_dropped_total",
			Help: "Frames dropped before reaching a viewer",
		},
		[]string{"reason"},
	)

	StreamsRequested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "silo_relay_streams_requested_total",
			Help: "Stream requests accepted",
		},
	)

	// Persistence metrics
	SnapshotFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silo_relay_snapshot_flushes_total",
			Help: "Snapshot flush attempts",
		},
		[]string{"result"}, // "ok" or "error"
	)
)
