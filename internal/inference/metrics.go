package inference

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "inference",
			Name:      "runs_total",
			Help:      "Inference runs by outcome (ok, cached, too_busy or error code)",
		},
		[]string{"outcome"},
	)

	tokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "inference",
			Name:      "tokens_total",
			Help:      "Tokens processed, split by prompt and generated",
		},
		[]string{"kind"},
	)

	generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "inferd",
			Subsystem: "inference",
			Name:      "generation_duration_seconds",
			Help:      "Wall time of a generation including queueing",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"stop_reason"},
	)

	cacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "inference",
			Name:      "cache_hits_total",
			Help:      "Answers served from the answer cache",
		},
	)

	workersBusy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "inferd",
			Subsystem: "inference",
			Name:      "workers_busy",
			Help:      "Generation workers currently running",
		},
	)
)

func init() {
	prometheus.MustRegister(runsTotal, tokensTotal, generationDuration, cacheHitsTotal, workersBusy)
}
