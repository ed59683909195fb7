// Package metrics provides Prometheus metrics for the extraction engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obra_cache_hits_total",
			Help: "Cache reads served from a fresh entry",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obra_cache_misses_total",
			Help: "Cache reads that required a load",
		},
		[]string{"cache"},
	)

	CacheStaleServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obra_cache_stale_served_total",
			Help: "Reads answered with an expired entry because the backend failed or is cooling down",
		},
		[]string{"cache"},
	)

	CacheDeduplicated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obra_cache_deduplicated_total",
			Help: "Loads that joined an in-flight request for the same key",
		},
		[]string{"cache"},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obra_cache_evictions_total",
			Help: "Entries removed by invalidation, replacement or disposal",
		},
		[]string{"cache"},
	)

	// Extraction metrics
	ImportAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obra_import_attempts_total",
			Help: "Per-tabla import attempts by outcome",
		},
		[]string{"source", "status"},
	)

	ImportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "obra_import_duration_seconds",
			Help:    "Time taken to extract one document into one tabla",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		},
		[]string{"source"},
	)

	RowsInserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "obra_rows_inserted_total",
			Help: "Rows inserted by document imports",
		},
	)

	// Formula metrics
	FormulaCompileFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "obra_formula_compile_failures_total",
			Help: "Formulas rejected by validation or parsing",
		},
	)

	FormulaEvaluationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "obra_formula_evaluation_failures_total",
			Help: "Formula evaluations that produced no finite value",
		},
	)

	// MCP metrics
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obra_mcp_tool_calls_total",
			Help: "MCP tool calls by tool and outcome",
		},
		[]string{"tool", "status"},
	)

	ToolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "obra_mcp_tool_duration_seconds",
			Help:    "Time taken to answer one MCP tool call",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)
)
