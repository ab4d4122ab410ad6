// Package governor enforces the run-wide resource budget. Every external
// invocation must hold a Lease, which is granted only when the service's
// circuit is closed (or admitting a probe), the in-flight count is under the
// concurrency cap, sampled memory is under the ceiling, the run's external
// call budget is not spent, and the service has made fewer calls than its
// per-minute limit over the trailing 60 seconds.
// Acquisition never blocks; a refusal is returned immediately so callers can
// decide whether to back off.
package governor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/ahrav/go-contracts/internal/circuitbreaker"
	"github.com/ahrav/go-contracts/internal/domain"
	dcerrors "github.com/ahrav/go-contracts/internal/errors"
)

// ErrLeasesOutstanding is returned by Reset while leases are still held.
var ErrLeasesOutstanding = errors.New("cannot reset governor with leases outstanding")

// Option configures a Governor.
type Option func(*Governor)

// WithClock injects the time source used by the rate windows.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Governor) { g.logger = l.With("component", "governor") }
}

// WithMemorySampler replaces the runtime heap sampler.
func WithMemorySampler(s MemorySampler) Option {
	return func(g *Governor) { g.sampler = s }
}

// Governor hands out leases against a ResourceBudget and feeds invocation
// outcomes into per-service circuit breakers. It is safe for concurrent use.
type Governor struct {
	budget   domain.ResourceBudget
	breakers *circuitbreaker.Group
	sampler  MemorySampler
	now      func() time.Time
	logger   *slog.Logger

	inFlight atomic.Int64
	runCalls atomic.Int64

	mu      sync.Mutex
	windows map[string][]time.Time
	granted map[string]int64

	rejections [numReasons]atomic.Int64

	// rateLog throttles the warning emitted when a service hits its limit.
	rateLog rate.Sometimes
}

// rateWindow is the span over which per-service calls are counted.
const rateWindow = time.Minute

// New returns a governor enforcing budget. Breaker state is owned by
// breakers and outlives Reset.
func New(budget domain.ResourceBudget, breakers *circuitbreaker.Group, opts ...Option) (*Governor, error) {
	if err := budget.Validate(); err != nil {
		return nil, err
	}
	if breakers == nil {
		breakers = circuitbreaker.NewGroup(circuitbreaker.DefaultConfig())
	}
	g := &Governor{
		budget:   budget,
		breakers: breakers,
		now:      time.Now,
		logger:   slog.Default().With("component", "governor"),
		windows:  make(map[string][]time.Time),
		granted:  make(map[string]int64),
		rateLog:  rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.sampler == nil {
		g.sampler = NewRuntimeSampler(DefaultSampleInterval, g.now)
	}
	return g, nil
}

// Budget returns the limits being enforced.
func (g *Governor) Budget() domain.ResourceBudget { return g.budget }

// Breakers returns the breaker group backing the governor.
func (g *Governor) Breakers() *circuitbreaker.Group { return g.breakers }

// Acquire grants a lease for one invocation of service. Checks run in a fixed
// order and a refusal undoes every counter the earlier checks took, so a
// rejected call leaves no trace beyond the rejection metric:
//
//  1. circuit open: *errors.CircuitOpenError
//  2. in-flight at the cap: reason concurrency
//  3. sampled memory over the ceiling: reason memory
//  4. run call budget spent: reason run_budget
//  5. per-service limit reached within the trailing minute: reason rate_limit
func (g *Governor) Acquire(ctx context.Context, service string) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	releaseProbe, err := g.breakers.Breaker(service).Allow()
	if err != nil {
		g.reject(ctx, reasonCircuitOpen, service)
		return nil, err
	}

	if !g.tryIncrementInFlight() {
		releaseProbe()
		g.reject(ctx, reasonConcurrency, service)
		return nil, &dcerrors.ResourceExhaustedError{
			Reason:  dcerrors.ReasonConcurrency,
			Service: service,
			Limit:   g.budget.MaxConcurrentOperations,
			Current: g.inFlight.Load(),
		}
	}

	if heap := g.sampler.HeapBytes(); heap > uint64(g.budget.MaxMemoryBytes) {
		g.inFlight.Add(-1)
		releaseProbe()
		g.reject(ctx, reasonMemory, service)
		return nil, &dcerrors.ResourceExhaustedError{
			Reason:  dcerrors.ReasonMemory,
			Service: service,
			Limit:   g.budget.MaxMemoryBytes,
			Current: int64(heap), // #nosec G115 -- heap sizes fit in int64
		}
	}

	if limit := g.budget.MaxExternalCallsPerRun; limit > 0 {
		if n := g.runCalls.Add(1); n > limit {
			g.runCalls.Add(-1)
			g.inFlight.Add(-1)
			releaseProbe()
			g.reject(ctx, reasonRunBudget, service)
			return nil, &dcerrors.ResourceExhaustedError{
				Reason:  dcerrors.ReasonRunBudget,
				Service: service,
				Limit:   limit,
				Current: n - 1,
			}
		}
	} else {
		g.runCalls.Add(1)
	}

	if recent, ok := g.takeSlot(service); !ok {
		g.runCalls.Add(-1)
		g.inFlight.Add(-1)
		releaseProbe()
		g.reject(ctx, reasonRateLimit, service)
		limit := g.budget.CallsPerMinute(service)
		g.rateLog.Do(func() {
			g.logger.WarnContext(ctx, "service rate limit reached", "service", service, "limit_per_minute", limit)
		})
		return nil, &dcerrors.ResourceExhaustedError{
			Reason:  dcerrors.ReasonRateLimit,
			Service: service,
			Limit:   limit,
			Current: recent,
		}
	}

	inFlightGauge.Inc()
	leasesTotal.WithLabelValues(service).Inc()
	return &Lease{service: service, gov: g, releaseProbe: releaseProbe}, nil
}

func (g *Governor) tryIncrementInFlight() bool {
	limit := g.budget.MaxConcurrentOperations
	for {
		cur := g.inFlight.Load()
		if cur >= limit {
			return false
		}
		if g.inFlight.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// takeSlot records a call to service if fewer than its per-minute limit
// were granted in the trailing rateWindow. A call granted at t stops
// counting at t+rateWindow. It returns the number of calls in the window.
func (g *Governor) takeSlot(service string) (int64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	cutoff := now.Add(-rateWindow)
	calls := g.windows[service]
	i := 0
	for i < len(calls) && !calls[i].After(cutoff) {
		i++
	}
	calls = calls[i:]

	if int64(len(calls)) >= g.budget.CallsPerMinute(service) {
		g.windows[service] = calls
		return int64(len(calls)), false
	}
	g.windows[service] = append(calls, now)
	g.granted[service]++
	return int64(len(calls)) + 1, true
}

func (g *Governor) reject(ctx context.Context, reason rejectReason, service string) {
	g.rejections[reason].Add(1)
	rejectionsTotal.WithLabelValues(reason.String()).Inc()
	g.logger.DebugContext(ctx, "lease rejected", "service", service, "reason", reason.String())
}

// RecordSuccess reports a successful invocation of service.
func (g *Governor) RecordSuccess(service string) {
	g.breakers.Breaker(service).RecordSuccess()
}

// RecordFailure reports a failed invocation of service and returns the
// breaker state that results.
func (g *Governor) RecordFailure(service string) circuitbreaker.CircuitState {
	return g.breakers.Breaker(service).RecordFailure()
}

// CircuitState returns the breaker state for service.
func (g *Governor) CircuitState(service string) circuitbreaker.CircuitState {
	return g.breakers.State(service)
}

// Reset clears the run counters, the call budget and every rate window.
// Circuit state is kept.
func (g *Governor) Reset() error {
	if n := g.inFlight.Load(); n != 0 {
		return fmt.Errorf("%w: %d in flight", ErrLeasesOutstanding, n)
	}
	g.runCalls.Store(0)
	g.mu.Lock()
	g.windows = make(map[string][]time.Time)
	g.granted = make(map[string]int64)
	g.mu.Unlock()
	for i := range g.rejections {
		g.rejections[i].Store(0)
	}
	return nil
}

// Lease is permission for one invocation. Release must be called on every
// exit path; calls after the first are no-ops.
type Lease struct {
	service      string
	gov          *Governor
	releaseProbe func()
	once         sync.Once
}

// Service returns the service the lease was granted for.
func (l *Lease) Service() string { return l.service }

// Release returns the lease's concurrency slot.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.gov.inFlight.Add(-1)
		inFlightGauge.Dec()
		l.releaseProbe()
	})
}
