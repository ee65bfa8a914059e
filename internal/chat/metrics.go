package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gud_agent",
			Name:      "llm_calls_total",
			Help:      "Total LLM API calls",
		},
		[]string{"status"},
	)

	llmDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "gud_agent",
			Name:      "llm_duration_seconds",
			Help:      "Duration of LLM API calls in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		},
	)

	toolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gud_agent",
			Name:      "tool_calls_total",
			Help:      "Total agent tool executions",
		},
		[]string{"tool", "status"}, // status: "ok", "failed", "error"
	)

	messagesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gud_agent",
			Name:      "messages_processed_total",
			Help:      "Visitor messages processed by the agent",
		},
		[]string{"outcome"}, // "replied", "fallback", "failed"
	)

	historyErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gud_agent",
			Name:      "history_errors_total",
			Help:      "Conversation history store failures",
		},
		[]string{"op"},
	)
)
