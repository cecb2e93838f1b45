package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection Metrics
var (
	// ConnectedProducers tracks producers currently present in the registry
	ConnectedProducers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crowdpointer_connected_producers",
			Help: "Number of producer connections currently registered",
		},
	)

	// PositionUpdatesTotal counts update_position frames applied to the registry
	PositionUpdatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crowdpointer_position_updates_total",
			Help: "Total position updates applied",
		},
	)

	// InvalidFramesTotal counts producer frames that could not be decoded
	InvalidFramesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crowdpointer_invalid_frames_total",
			Help: "Total producer frames dropped because they could not be decoded",
		},
	)

	// UpgradesRejectedTotal counts websocket upgrades refused by the admission limiter
	UpgradesRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crowdpointer_upgrades_rejected_total",
			Help: "Total websocket upgrades rejected by endpoint",
		},
		[]string{"endpoint"},
	)
)

// Pub/Sub Metrics
var (
	// TopicSubscribers tracks current subscribers by topic
	TopicSubscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crowdpointer_topic_subscribers",
			Help: "Current subscribers by topic",
		},
		[]string{"topic"},
	)

	// MessagesPublishedTotal counts publish calls by topic
	MessagesPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crowdpointer_messages_published_total",
			Help: "Total messages published by topic",
		},
		[]string{"topic"},
	)

	// MessagesDroppedTotal counts deliveries skipped because a subscriber buffer was full
	MessagesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crowdpointer_messages_dropped_total",
			Help: "Total messages dropped for slow subscribers by topic",
		},
		[]string{"topic"},
	)

	// MirrorErrorsTotal counts failed Redis mirror publishes
	MirrorErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crowdpointer_mirror_errors_total",
			Help: "Total Redis mirror publish failures by topic",
		},
		[]string{"topic"},
	)
)

// Broadcaster Metrics
var (
	// BroadcastTicksTotal counts completed broadcaster ticks
	BroadcastTicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crowdpointer_broadcast_ticks_total",
			Help: "Total broadcaster ticks",
		},
	)

	// BroadcastFailuresTotal counts ticks whose publish failed or panicked
	BroadcastFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crowdpointer_broadcast_failures_total",
			Help: "Total broadcaster ticks that failed to publish",
		},
	)

	// BroadcastSnapshotSize tracks the number of positions in the last snapshot
	BroadcastSnapshotSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crowdpointer_broadcast_snapshot_size",
			Help: "Number of positions in the most recent broadcast",
		},
	)
)
