package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	contractsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "contractd",
		Subsystem: "executor",
		Name:      "contracts_total",
		Help:      "Contracts resolved, by terminal status.",
	}, []string{"status"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "contractd",
		Subsystem: "executor",
		Name:      "run_duration_seconds",
		Help:      "Wall time of a complete executor run.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	externalCallsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "contractd",
		Subsystem: "executor",
		Name:      "external_calls_total",
		Help:      "Operation calls that reached a service rather than the cache.",
	})
)
