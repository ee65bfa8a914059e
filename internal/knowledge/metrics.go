package knowledge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	crawlPagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gud_agent",
			Name:      "crawl_pages_total",
			Help:      "Pages processed by the crawler, by final state and reason",
		},
		[]string{"state", "reason"},
	)

	crawlDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "gud_agent",
			Name:      "crawl_duration_seconds",
			Help:      "Duration of full crawls in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~8.5m
		},
	)

	linkDiscoveryTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gud_agent",
			Name:      "link_discovery_total",
			Help:      "Links enqueued from crawled pages",
		},
	)

	indexRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gud_agent",
			Name:      "knowledge_refresh_total",
			Help:      "Knowledge index refresh attempts",
		},
		[]string{"source", "status"},
	)

	indexSections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gud_agent",
			Name:      "knowledge_sections",
			Help:      "Sections in the current knowledge snapshot",
		},
	)

	searchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gud_agent",
			Name:      "knowledge_search_total",
			Help:      "Knowledge searches by outcome",
		},
		[]string{"outcome"},
	)

	syncArticlesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gud_agent",
			Name:      "sync_articles_total",
			Help:      "Articles pushed to the helpdesk by action",
		},
		[]string{"action"},
	)
)
