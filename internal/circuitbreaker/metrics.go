package circuitbreaker

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// stateGauge exposes each breaker's state (0 closed, 1 open, 2 half-open).
	// Labels: service
	stateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "contractd",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Circuit breaker state per service (0 closed, 1 open, 2 half-open)",
	}, []string{"service"})

	// transitionsTotal counts state transitions.
	// Labels: service, to
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "contractd",
		Subsystem: "circuit_breaker",
		Name:      "transitions_total",
		Help:      "Total circuit breaker state transitions",
	}, []string{"service", "to"})
)

// breakerMetrics tracks per-breaker counters.
type breakerMetrics struct {
	stateTransitions atomic.Int64 // Total state transitions
	requestsAllowed  atomic.Int64 // Total requests allowed
	requestsRejected atomic.Int64 // Total requests rejected
	probeAttempts    atomic.Int64 // Total probe attempts
	probeSuccesses   atomic.Int64 // Total successful probes
	timeInClosed     atomic.Int64 // Nanoseconds in closed state
	timeInOpen       atomic.Int64 // Nanoseconds in open state
	timeInHalfOpen   atomic.Int64 // Nanoseconds in half-open state
	lastStateChange  atomic.Int64 // Timestamp of last state change
}

// updateStateTime adds the time spent in the state being left.
func (m *breakerMetrics) updateStateTime(leaving CircuitState, at time.Time) {
	now := at.UnixNano()
	lastChange := m.lastStateChange.Load()
	if lastChange == 0 {
		m.lastStateChange.Store(now)
		return
	}

	duration := now - lastChange
	switch leaving {
	case StateClosed:
		m.timeInClosed.Add(duration)
	case StateOpen:
		m.timeInOpen.Add(duration)
	case StateHalfOpen:
		m.timeInHalfOpen.Add(duration)
	}
	m.lastStateChange.Store(now)
}

// Stats aggregates counters across every breaker in a group.
type Stats struct {
	// TotalBreakers is the number of services with a breaker.
	TotalBreakers int `json:"total_breakers"`
	// StateCount maps each circuit state to the number of breakers in that state.
	StateCount map[string]int `json:"state_count"`
	// TotalStateTransitions is the total number of state changes across all breakers.
	TotalStateTransitions int64 `json:"total_state_transitions"`
	// TotalRequestsAllowed is the total number of requests permitted by all breakers.
	TotalRequestsAllowed int64 `json:"total_requests_allowed"`
	// TotalRequestsRejected is the total number of requests blocked by all breakers.
	TotalRequestsRejected int64 `json:"total_requests_rejected"`
	// TotalProbeAttempts is the total number of half-open probe requests admitted.
	TotalProbeAttempts int64 `json:"total_probe_attempts"`
	// TotalProbeSuccesses is the total number of successful half-open probes.
	TotalProbeSuccesses int64 `json:"total_probe_successes"`
}

// Stats returns aggregated counters.
func (g *Group) Stats() Stats {
	s := Stats{StateCount: make(map[string]int)}
	g.breakers.forEach(func(b *Breaker) {
		s.TotalBreakers++
		s.StateCount[b.State().String()]++
		s.TotalStateTransitions += b.metrics.stateTransitions.Load()
		s.TotalRequestsAllowed += b.metrics.requestsAllowed.Load()
		s.TotalRequestsRejected += b.metrics.requestsRejected.Load()
		s.TotalProbeAttempts += b.metrics.probeAttempts.Load()
		s.TotalProbeSuccesses += b.metrics.probeSuccesses.Load()
	})
	return s
}
