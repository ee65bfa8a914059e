package mcpspoke

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	spokeCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gud_agent",
			Subsystem: "spoke",
			Name:      "tool_calls_total",
			Help:      "Total MCP spoke tool calls",
		},
		[]string{"tool", "status"},
	)

	spokeSearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "gud_agent",
			Subsystem: "spoke",
			Name:      "search_duration_seconds",
			Help:      "Duration of MCP spoke knowledge searches in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
