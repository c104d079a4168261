// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReceiptsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recetra_receipts_issued_total",
			Help: "Receipts issued, by organization code",
		},
		[]string{"organization"},
	)

	ChannelAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recetra_channel_attempts_total",
			Help: "Provider calls made by the dispatcher",
		},
		[]string{"channel", "result"},
	)

	ChannelOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recetra_channel_outcomes_total",
			Help: "Channel outcomes handed to the reconciler, by decision",
		},
		[]string{"channel", "status", "decision"},
	)

	AnomalousTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recetra_anomalous_transitions_total",
			Help: "Outcomes dropped because the channel already succeeded",
		},
		[]string{"channel"},
	)

	ProviderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recetra_provider_call_duration_seconds",
			Help:    "Duration of single provider calls",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"channel"},
	)

	Verifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recetra_verifications_total",
			Help: "Verification queries, by result",
		},
		[]string{"result"},
	)

	EventPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recetra_event_publish_errors_total",
			Help: "Receipt events that could not be published",
		},
	)
)
