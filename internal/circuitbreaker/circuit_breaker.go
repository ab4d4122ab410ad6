// Package circuitbreaker stops invoking repeatedly failing services for a
// cool-down period. Each service gets its own breaker: N consecutive failures
// inside a sliding window open it, a fixed cool-down later a limited number of
// half-open probes are admitted, and probe outcomes close or re-open it.
package circuitbreaker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	dcerrors "github.com/ahrav/go-contracts/internal/errors"
)

// ErrUnknownCircuitState is returned when the circuit is in an unknown state.
var ErrUnknownCircuitState = errors.New("unknown circuit state")

// CircuitState represents the current state of a circuit breaker.
type CircuitState int32

const (
	// StateClosed allows requests through.
	StateClosed CircuitState = iota
	// StateOpen blocks all requests.
	StateOpen
	// StateHalfOpen allows limited requests for testing.
	StateHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds per-service breaker thresholds.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int `mapstructure:"failure_threshold" validate:"min=1"`
	// FailureWindow bounds how far apart those failures may be.
	FailureWindow time.Duration `mapstructure:"failure_window" validate:"min=0"`
	// OpenTimeout is the fixed cool-down before a half-open probe is admitted.
	OpenTimeout time.Duration `mapstructure:"open_timeout" validate:"min=0"`
	// SuccessThreshold is the number of probe successes that closes the circuit.
	SuccessThreshold int `mapstructure:"success_threshold" validate:"min=1"`
	// HalfOpenProbes caps concurrent probes while half-open.
	HalfOpenProbes int `mapstructure:"half_open_probes" validate:"min=1"`
}

// DefaultConfig opens after 5 failures within 60s and cools down for 60s.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		FailureWindow:    60 * time.Second,
		OpenTimeout:      60 * time.Second,
		SuccessThreshold: 1,
		HalfOpenProbes:   1,
	}
}

// Breaker tracks one service. State transitions use atomics; the failure
// timestamps of the current streak are guarded by mu.
type Breaker struct {
	name string
	cfg  Config
	now  func() time.Time

	state          atomic.Int32
	successes      atomic.Int32
	halfOpenProbes atomic.Int32
	openedAt       atomic.Int64

	mu     sync.Mutex
	streak []time.Time

	logger       *slog.Logger
	metrics      *breakerMetrics
	onTransition func(name string, from, to CircuitState)
}

func newBreaker(name string, cfg Config, now func() time.Time, logger *slog.Logger,
	onTransition func(string, CircuitState, CircuitState),
) *Breaker {
	b := &Breaker{
		name:         name,
		cfg:          cfg,
		now:          now,
		logger:       logger,
		metrics:      &breakerMetrics{},
		onTransition: onTransition,
	}
	b.state.Store(int32(StateClosed))
	b.metrics.lastStateChange.Store(now().UnixNano())
	return b
}

// Name returns the service the breaker guards.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, promoting open to half-open once the
// cool-down has elapsed.
func (b *Breaker) State() CircuitState {
	state := CircuitState(b.state.Load())
	if state == StateOpen && b.coolDownElapsed() {
		return StateHalfOpen
	}
	return state
}

// ResetAt returns, in UTC, when an open circuit will admit a probe.
func (b *Breaker) ResetAt() time.Time {
	return time.Unix(0, b.openedAt.Load()).Add(b.cfg.OpenTimeout).UTC()
}

// Allow reports whether a request may proceed. On success the returned
// release func must be called once the request completes; it frees the
// half-open probe slot when the request was a probe. A refused request gets a
// *errors.CircuitOpenError.
func (b *Breaker) Allow() (release func(), err error) {
	noop := func() {}
	state := CircuitState(b.state.Load())

	switch state {
	case StateClosed:
		b.metrics.requestsAllowed.Add(1)
		return noop, nil

	case StateOpen, StateHalfOpen:
		if state == StateOpen {
			if !b.coolDownElapsed() {
				b.metrics.requestsRejected.Add(1)
				return noop, b.openError(StateOpen)
			}
			b.casTransition(StateOpen, StateHalfOpen)
		}
		return b.handleHalfOpenProbe()

	default:
		return noop, fmt.Errorf("%w: %v", ErrUnknownCircuitState, state)
	}
}

// handleHalfOpenProbe claims a probe slot if one is free.
func (b *Breaker) handleHalfOpenProbe() (func(), error) {
	for {
		current := b.halfOpenProbes.Load()
		if int(current) >= b.cfg.HalfOpenProbes {
			b.metrics.requestsRejected.Add(1)
			return func() {}, b.openError(StateHalfOpen)
		}
		if b.halfOpenProbes.CompareAndSwap(current, current+1) {
			var once sync.Once
			release := func() {
				once.Do(func() {
					// Saturate at 0 if a concurrent transition reset the counter.
					for {
						cur := b.halfOpenProbes.Load()
						if cur == 0 {
							return
						}
						if b.halfOpenProbes.CompareAndSwap(cur, cur-1) {
							return
						}
					}
				})
			}
			b.metrics.probeAttempts.Add(1)
			b.metrics.requestsAllowed.Add(1)
			return release, nil
		}
	}
}

// RecordSuccess clears the failure streak, or counts a probe success while
// half-open and closes the circuit at SuccessThreshold.
func (b *Breaker) RecordSuccess() {
	for {
		state := b.state.Load()
		switch CircuitState(state) {
		case StateClosed:
			b.clearStreak()
			return

		case StateHalfOpen:
			successes := b.successes.Add(1)
			b.metrics.probeSuccesses.Add(1)
			if int(successes) >= b.cfg.SuccessThreshold {
				if b.casTransition(StateHalfOpen, StateClosed) {
					return
				}
				b.successes.Add(-1)
				continue
			}
			return

		case StateOpen:
			// A request admitted before the circuit opened finished late.
			b.logger.Debug("success recorded in open state", "service", b.name)
			return

		default:
			return
		}
	}
}

// RecordFailure extends the failure streak and opens the circuit once
// FailureThreshold failures fall inside FailureWindow. A failed half-open
// probe re-opens immediately. It returns the resulting state.
func (b *Breaker) RecordFailure() CircuitState {
	now := b.now()
	for {
		state := b.state.Load()
		switch CircuitState(state) {
		case StateClosed:
			if b.extendStreak(now) < b.cfg.FailureThreshold {
				return StateClosed
			}
			if b.casTransition(StateClosed, StateOpen) {
				return StateOpen
			}
			continue

		case StateHalfOpen:
			if b.casTransition(StateHalfOpen, StateOpen) {
				return StateOpen
			}
			continue

		case StateOpen:
			return StateOpen

		default:
			return CircuitState(state)
		}
	}
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	from := CircuitState(b.state.Swap(int32(StateClosed)))
	b.successes.Store(0)
	b.halfOpenProbes.Store(0)
	b.clearStreak()
	if from != StateClosed {
		b.recordTransition(from, StateClosed)
	}
}

func (b *Breaker) coolDownElapsed() bool {
	return b.now().Sub(time.Unix(0, b.openedAt.Load())) >= b.cfg.OpenTimeout
}

func (b *Breaker) openError(state CircuitState) error {
	return &dcerrors.CircuitOpenError{
		Service: b.name,
		State:   state.String(),
		ResetAt: b.ResetAt(),
	}
}

// extendStreak appends a failure at now, drops failures older than the
// window and returns the streak length.
func (b *Breaker) extendStreak(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streak = append(b.streak, now)
	if b.cfg.FailureWindow > 0 {
		cutoff := now.Add(-b.cfg.FailureWindow)
		i := 0
		for i < len(b.streak) && b.streak[i].Before(cutoff) {
			i++
		}
		b.streak = b.streak[i:]
	}
	return len(b.streak)
}

func (b *Breaker) clearStreak() {
	b.mu.Lock()
	b.streak = b.streak[:0]
	b.mu.Unlock()
}

// casTransition moves from one state to another if the breaker is still in
// from, resetting the counters owned by the new state.
func (b *Breaker) casTransition(from, to CircuitState) bool {
	if to == StateOpen {
		// Readers that observe the open state must also observe its start time.
		b.openedAt.Store(b.now().UnixNano())
	}
	if !b.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	switch to {
	case StateOpen:
		b.successes.Store(0)
		b.halfOpenProbes.Store(0)
		b.clearStreak()
	case StateHalfOpen:
		b.successes.Store(0)
		b.halfOpenProbes.Store(0)
	case StateClosed:
		b.successes.Store(0)
		b.halfOpenProbes.Store(0)
		b.clearStreak()
	}
	b.recordTransition(from, to)
	return true
}

func (b *Breaker) recordTransition(from, to CircuitState) {
	b.metrics.stateTransitions.Add(1)
	b.metrics.updateStateTime(from, b.now())
	b.logger.Info("circuit breaker state transition",
		"service", b.name,
		"from", from.String(),
		"to", to.String())
	if b.onTransition != nil {
		b.onTransition(b.name, from, to)
	}
}
