package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/go-contracts/internal/domain"
)

const (
	outcomeSuccess  = "success"
	outcomeFailure  = "failure"
	outcomeRejected = "rejected"
)

var (
	// invocationsTotal counts resolved requests.
	// Labels: service, path (cache, fast_path, fallback, governor, none), outcome
	invocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "contractd",
		Subsystem: "service",
		Name:      "invocations_total",
		Help:      "Total service requests by resolving path and outcome",
	}, []string{"service", "path", "outcome"})

	// invocationDuration observes individual invocation attempts.
	// Labels: service, path
	invocationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "contractd",
		Subsystem: "service",
		Name:      "invocation_duration_seconds",
		Help:      "Duration of individual invocation attempts",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
	}, []string{"service", "path"})

	// healthGauge exposes recorded health (0 unknown, 1 healthy, 2 degraded, 3 unavailable).
	// Labels: service
	healthGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "contractd",
		Subsystem: "service",
		Name:      "health_state",
		Help:      "Recorded service health (0 unknown, 1 healthy, 2 degraded, 3 unavailable)",
	}, []string{"service"})
)

func healthValue(s domain.HealthState) float64 {
	switch s {
	case domain.HealthHealthy:
		return 1
	case domain.HealthDegraded:
		return 2
	case domain.HealthUnavailable:
		return 3
	default:
		return 0
	}
}
