// Package metrics defines the Prometheus collectors shared by adapters, executor and feeds
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "orbityield"

// ── Discovery ─────────────────────────────────────────────────────────

var (
	DiscoveryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "discovery",
		Name:      "runs_total",
		Help:      "Discovery runs per adapter and chain by outcome.",
	}, []string{"protocol", "chain", "status"})

	DiscoveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "discovery",
		Name:      "duration_seconds",
		Help:      "Duration of one adapter discovery run in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"protocol", "chain"})

	OpportunitiesDiscovered = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "discovery",
		Name:      "opportunities",
		Help:      "Opportunities published by the last discovery run.",
	}, []string{"protocol", "chain"})

	MarketsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "discovery",
		Name:      "markets_skipped_total",
		Help:      "Markets dropped during discovery by reason.",
	}, []string{"protocol", "chain", "reason"})

	AverageAPY = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "discovery",
		Name:      "apy_percent",
		Help:      "TVL-weighted and median APY across published opportunities.",
	}, []string{"chain", "method"})
)

// ── Transactions ──────────────────────────────────────────────────────

var (
	StageTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "executor",
		Name:      "stage_transitions_total",
		Help:      "Executor stage transitions by operation.",
	}, []string{"chain", "operation", "stage"})

	ConfirmationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "executor",
		Name:      "confirmation_seconds",
		Help:      "Time from submission to receipt in seconds.",
		Buckets:   []float64{1, 2, 5, 10, 15, 30, 60, 120, 300},
	}, []string{"chain", "operation"})
)

// ── Feeds ─────────────────────────────────────────────────────────────

var (
	FeedRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "requests_total",
		Help:      "Market data feed requests by outcome.",
	}, []string{"feed", "status"})

	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "breaker_state",
		Help:      "Circuit breaker state per feed (0 closed, 1 open, 2 half-open).",
	}, []string{"feed"})

	PriceCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "price",
		Name:      "cache_lookups_total",
		Help:      "Price cache lookups by result.",
	}, []string{"result"})

	ExportBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "export",
		Name:      "batches_total",
		Help:      "Webhook export batches by result.",
	}, []string{"result"})
)
