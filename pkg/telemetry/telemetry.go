// Package telemetry registers the feed's prometheus collectors. Everything
// is registered on the default registry and exposed by the app on /metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Merges counts reconciliation outcomes: "confirmed" (exact durable-id
	// match), "promoted" (optimistic entry promoted), "appended" (fresh row).
	Merges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatfeed_merge_total",
		Help: "Reconciliation merges by outcome.",
	}, []string{"outcome"})

	// Evictions counts non-system entries dropped by capacity pressure.
	Evictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatfeed_evictions_total",
		Help: "Timeline entries evicted by the capacity policy.",
	})

	// Sends counts send attempts: "accepted", "cooldown", "failed".
	Sends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatfeed_sends_total",
		Help: "Send pipeline attempts by result.",
	}, []string{"result"})

	// RealtimeRows counts rows delivered by the realtime subscription.
	RealtimeRows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatfeed_realtime_rows_total",
		Help: "Durable rows received on the realtime path.",
	})

	// AvatarFetches counts avatar resolution attempts: "resolved", "empty",
	// "error".
	AvatarFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatfeed_avatar_fetch_total",
		Help: "Avatar fetch attempts by result.",
	}, []string{"result"})

	// SubscriberDropped counts rows dropped because a subscriber's buffer
	// was full.
	SubscriberDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatfeed_subscriber_dropped_total",
		Help: "Rows dropped on slow realtime subscribers.",
	})

	// Timeline is the current number of entries held by the store.
	Timeline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatfeed_timeline_entries",
		Help: "Current feed timeline size, system entries included.",
	})
)
