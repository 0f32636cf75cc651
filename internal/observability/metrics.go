// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the feed pipeline.
type Metrics struct {
	// Historical fetch metrics
	BucketsFetched prometheus.Counter
	BucketsSkipped *prometheus.CounterVec
	TicksDecoded   prometheus.Counter
	BarsAggregated prometheus.Counter
	FetchLatency   *prometheus.HistogramVec

	// Streaming metrics
	PollCycles         prometheus.Counter
	PollSymbolErrors   *prometheus.CounterVec
	BarsPublished      prometheus.Counter
	PublishesSkipped   prometheus.Counter
	PublishErrors      prometheus.Counter
	PollCycleDuration  prometheus.Histogram
	LastSuccessfulPoll prometheus.Gauge

	// Storage metrics
	BarsPersisted prometheus.Counter
	StoreErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "fx_feed_lab"
	}

	return &Metrics{
		BucketsFetched: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "buckets_fetched_total",
			Help:      "Total number of hour buckets fetched and decoded",
		}),
		BucketsSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "buckets_skipped_total",
			Help:      "Total number of hour buckets skipped, by reason",
		}, []string{"reason"}),
		TicksDecoded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "ticks_decoded_total",
			Help:      "Total number of ticks decoded from upstream feeds",
		}),
		BarsAggregated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "bars_aggregated_total",
			Help:      "Total number of bars produced by the aggregator",
		}),
		FetchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "fetch_latency_seconds",
			Help:      "Latency of per-bucket fetch+decode",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),

		PollCycles: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "poll_cycles_total",
			Help:      "Total number of completed poll cycles",
		}),
		PollSymbolErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "poll_symbol_errors_total",
			Help:      "Total number of per-symbol poll failures, by stage",
		}, []string{"stage"}),
		BarsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "bars_published_total",
			Help:      "Total number of bars published downstream",
		}),
		PublishesSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "publishes_skipped_total",
			Help:      "Total number of per-symbol polls with an empty delta (publish skipped)",
		}),
		PublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "publish_errors_total",
			Help:      "Total number of failed publishes",
		}),
		PollCycleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "poll_cycle_duration_seconds",
			Help:      "Duration of a full poll cycle across all symbols",
			Buckets:   prometheus.DefBuckets,
		}),
		LastSuccessfulPoll: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "last_successful_poll_timestamp_seconds",
			Help:      "Unix timestamp of the last fully completed poll cycle",
		}),

		BarsPersisted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "bars_persisted_total",
			Help:      "Total number of bars written to the bar store",
		}),
		StoreErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "errors_total",
			Help:      "Total number of bar store errors, by operation",
		}, []string{"op"}),
	}
}

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
