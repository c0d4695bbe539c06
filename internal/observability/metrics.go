package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Domain-level collectors. HTTP traffic metrics live in the middleware
// package; these cover the gateway's messaging pipeline.
var (
	// SessionsConnected gauges the number of live socket sessions.
	SessionsConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_sessions_connected",
			Help: "Number of socket sessions currently connected.",
		},
	)

	// EventsIngested counts normalized events applied to the store, by
	// provider and event kind.
	EventsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_events_ingested_total",
			Help: "Total normalized inbound events persisted.",
		},
		[]string{"provider", "kind"},
	)

	// EventsDuplicate counts redeliveries suppressed by idempotent insert.
	EventsDuplicate = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_events_duplicate_total",
			Help: "Total redelivered events dropped as duplicates.",
		},
		[]string{"provider"},
	)

	// EventsDeadLettered counts events that exhausted persistence retries.
	EventsDeadLettered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_events_deadlettered_total",
			Help: "Total events published to the dead-letter exchange.",
		},
		[]string{"provider"},
	)

	// WebhooksRejected counts webhook deliveries refused at the edge.
	WebhooksRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_webhooks_rejected_total",
			Help: "Total webhook deliveries rejected before ingestion.",
		},
		[]string{"provider", "reason"},
	)

	// PairingAttempts counts pairing attempts by terminal outcome.
	PairingAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_pairing_attempts_total",
			Help: "Total pairing attempts by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		SessionsConnected,
		EventsIngested,
		EventsDuplicate,
		EventsDeadLettered,
		WebhooksRejected,
		PairingAttempts,
	)
}
