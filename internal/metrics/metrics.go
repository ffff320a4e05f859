// Package metrics holds the prometheus collectors shared by the realtime core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveSessions tracks the number of open WebSocket sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "friendchat_active_sessions",
			Help: "Number of open WebSocket sessions",
		},
	)

	// ActiveHandles tracks the number of handles with at least one live session.
	ActiveHandles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "friendchat_active_handles",
			Help: "Number of handles with at least one live session",
		},
	)

	// FramesReceived counts inbound frames by tag.
	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "friendchat_frames_received_total",
			Help: "Inbound frames by source tag",
		},
		[]string{"source"},
	)

	// FramesDropped counts inbound frames that produced no response, by tag and reason.
	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "friendchat_frames_dropped_total",
			Help: "Inbound frames that were dropped without a response",
		},
		[]string{"source", "reason"},
	)

	// HandlerLatency tracks how long each command handler takes.
	HandlerLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "friendchat_handler_latency_seconds",
			Help:    "Latency of command handlers",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// Publishes counts publish calls by outbound tag.
	Publishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "friendchat_publishes_total",
			Help: "Publish calls by outbound tag",
		},
		[]string{"source"},
	)

	// Deliveries counts frames handed to live sessions.
	Deliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "friendchat_deliveries_total",
			Help: "Frames queued to live sessions",
		},
	)

	// SlowConsumers counts sessions evicted because their send buffer was full.
	SlowConsumers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "friendchat_slow_consumers_total",
			Help: "Sessions evicted because their send buffer was full",
		},
	)
)
