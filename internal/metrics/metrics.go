// Package metrics defines the process-wide prometheus collectors. They are
// registered on the default registry and exposed on the admin server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WakeDetections counts wake phrase activations by phrase.
	WakeDetections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voiced",
		Name:      "wake_detections_total",
		Help:      "Wake phrase activations.",
	}, []string{"phrase"})

	// Exchanges counts completed exchanges by outcome.
	Exchanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voiced",
		Name:      "exchanges_total",
		Help:      "Completed exchanges by outcome.",
	}, []string{"outcome"})

	// ExchangeDuration observes end-to-end exchange latency.
	ExchangeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "voiced",
		Name:      "exchange_duration_seconds",
		Help:      "End-to-end exchange latency.",
		Buckets:   prometheus.DefBuckets,
	})

	// ToolInvocations counts tool invocations by provider and status.
	ToolInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voiced",
		Name:      "tool_invocations_total",
		Help:      "Tool invocations by provider and final status.",
	}, []string{"provider", "status"})

	// Capabilities tracks discovered operations per provider.
	Capabilities = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "voiced",
		Name:      "capabilities",
		Help:      "Discovered operations per provider.",
	}, []string{"provider"})
)
