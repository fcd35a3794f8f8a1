package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	edgesCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synapse_edges_created_total",
			Help: "Edges created, by detecting strategy",
		},
		[]string{"strategy"},
	)

	edgesReinforcedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synapse_edges_reinforced_total",
			Help: "Existing edges reinforced, by detecting strategy",
		},
		[]string{"strategy"},
	)

	edgesPrunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "synapse_edges_pruned_total",
			Help: "Edges deleted after decaying below the prune threshold",
		},
	)

	proposalsFilteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synapse_proposals_filtered_total",
			Help: "Proposals dropped before reinforcement, by reason",
		},
		[]string{"reason"},
	)

	strategyFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synapse_strategy_failures_total",
			Help: "Detection strategy failures, isolated from the run",
		},
		[]string{"strategy"},
	)

	strategyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "synapse_strategy_duration_seconds",
			Help:    "Time spent in each detection strategy",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		},
		[]string{"strategy"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "synapse_run_duration_seconds",
			Help:    "Duration of engine runs, by mode and outcome",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"mode", "status"},
	)
)
