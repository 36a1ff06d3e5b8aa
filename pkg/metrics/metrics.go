package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deep_research_runs_started_total",
			Help: "Total number of research runs started",
		},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_runs_completed_total",
			Help: "Total number of research runs finished, by how they ended",
		},
		[]string{"outcome"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deep_research_run_duration_seconds",
			Help:    "Research run duration in seconds",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)

	Iterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deep_research_iterations",
			Help:    "Completed iterations per research run",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 20},
		},
	)

	// Pipeline metrics
	SearchCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_search_calls_total",
			Help: "Search provider calls by status",
		},
		[]string{"status"},
	)

	LinksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_links_processed_total",
			Help: "Links run through the fetch/evaluate/extract pipeline, by result",
		},
		[]string{"result"},
	)

	PassagesRetained = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deep_research_passages_retained_total",
			Help: "Passages kept for the final report",
		},
	)

	RefineDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_refine_decisions_total",
			Help: "Query planner refine outcomes",
		},
		[]string{"decision"},
	)

	// Job metrics
	JobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deep_research_jobs_active",
			Help: "Research jobs currently running in the server",
		},
	)
)
