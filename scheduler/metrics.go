package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "panda_feed_fetches_total",
		Help: "Feed fetch pipelines by outcome",
	}, []string{"outcome"})

	mergeDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "panda_merge_decisions_total",
		Help: "Merged entries by decision",
	}, []string{"decision"})

	fetchesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "panda_feed_fetches_in_flight",
		Help: "Feed pipelines currently running",
	})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "panda_feed_fetch_duration_seconds",
		Help:    "Duration of a fetch, parse and merge pipeline for one feed",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms up to ~100s
	})

	cyclesRun = promauto.NewCounter(prometheus.CounterOpts{
		Name: "panda_scheduler_cycles_total",
		Help: "Completed scheduling cycles",
	})
)

func observeStats(outcome Outcome) {
	fetchOutcomes.WithLabelValues(string(outcome.Result)).Inc()
	mergeDecisions.WithLabelValues("inserted").Add(float64(outcome.Stats.Inserted))
	mergeDecisions.WithLabelValues("updated").Add(float64(outcome.Stats.Updated))
	mergeDecisions.WithLabelValues("skipped").Add(float64(outcome.Stats.Skipped))
	mergeDecisions.WithLabelValues("foreign").Add(float64(outcome.Stats.Foreign))
	mergeDecisions.WithLabelValues("invalid").Add(float64(outcome.Stats.Invalid))
}
