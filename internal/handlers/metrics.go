package handlers

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	webhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gud_agent",
			Name:      "webhook_events_total",
			Help:      "Webhook deliveries by outcome",
		},
		[]string{"result"}, // "accepted", "ignored", "unauthorized", "invalid"
	)

	messageProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gud_agent",
			Name:      "message_processing_seconds",
			Help:      "Background processing time per visitor message",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		},
		[]string{"status"},
	)

	messagesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gud_agent",
			Name:      "messages_in_flight",
			Help:      "Visitor messages currently being processed",
		},
	)
)
