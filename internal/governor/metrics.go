package governor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/go-contracts/internal/circuitbreaker"
)

var (
	// inFlightGauge tracks leases currently held.
	inFlightGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "contractd",
		Subsystem: "governor",
		Name:      "in_flight",
		Help:      "Number of leases currently held",
	})

	// rejectionsTotal counts refused leases.
	// Labels: reason
	rejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "contractd",
		Subsystem: "governor",
		Name:      "rejections_total",
		Help:      "Total leases refused by the governor",
	}, []string{"reason"})

	// leasesTotal counts granted leases.
	// Labels: service
	leasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "contractd",
		Subsystem: "governor",
		Name:      "leases_total",
		Help:      "Total leases granted by the governor",
	}, []string{"service"})
)

type rejectReason int

const (
	reasonCircuitOpen rejectReason = iota
	reasonConcurrency
	reasonMemory
	reasonRunBudget
	reasonRateLimit
	numReasons
)

func (r rejectReason) String() string {
	switch r {
	case reasonCircuitOpen:
		return "circuit_open"
	case reasonConcurrency:
		return "concurrency"
	case reasonMemory:
		return "memory"
	case reasonRunBudget:
		return "run_budget"
	case reasonRateLimit:
		return "rate_limit"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time view of the governor's counters.
type Snapshot struct {
	InFlight      int64                `json:"in_flight"`
	RunCalls      int64                `json:"run_calls"`
	HeapBytes     uint64               `json:"heap_bytes"`
	CallsGranted  map[string]int64     `json:"calls_granted"`
	Rejections    map[string]int64     `json:"rejections"`
	CircuitStates map[string]string    `json:"circuit_states"`
	Breakers      circuitbreaker.Stats `json:"breakers"`
}

// Snapshot returns the current counters. Rejections only lists reasons
// that occurred.
func (g *Governor) Snapshot() Snapshot {
	s := Snapshot{
		InFlight:      g.inFlight.Load(),
		RunCalls:      g.runCalls.Load(),
		HeapBytes:     g.sampler.HeapBytes(),
		CallsGranted:  make(map[string]int64),
		Rejections:    make(map[string]int64),
		CircuitStates: make(map[string]string),
		Breakers:      g.breakers.Stats(),
	}

	g.mu.Lock()
	for svc, n := range g.granted {
		s.CallsGranted[svc] = n
	}
	g.mu.Unlock()

	for i := range g.rejections {
		if n := g.rejections[i].Load(); n > 0 {
			s.Rejections[rejectReason(i).String()] = n
		}
	}
	for svc, st := range g.breakers.Snapshot() {
		s.CircuitStates[svc] = st.String()
	}
	return s
}
