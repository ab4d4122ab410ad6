package circuitbreaker_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-contracts/internal/circuitbreaker"
	dcerrors "github.com/ahrav/go-contracts/internal/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newGroup(clock *fakeClock) *circuitbreaker.Group {
	return circuitbreaker.NewGroup(circuitbreaker.DefaultConfig(), circuitbreaker.WithClock(clock.Now))
}

// TestBreaker_OpensAfterConsecutiveFailures verifies that five failures
// inside the window open the circuit and that calls during cool-down fail
// fast with a CircuitOpenError.
func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	clock := newFakeClock()
	b := newGroup(clock).Breaker("market")

	for i := range 4 {
		assert.Equal(t, circuitbreaker.StateClosed, b.RecordFailure(), "failure %d", i+1)
	}
	assert.Equal(t, circuitbreaker.StateOpen, b.RecordFailure())

	_, err := b.Allow()
	require.Error(t, err)
	var openErr *dcerrors.CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "market", openErr.Service)
	assert.Equal(t, "open", openErr.State)
	assert.Equal(t, clock.Now().Add(60*time.Second), openErr.ResetAt)
	assert.Equal(t, time.UTC, openErr.ResetAt.Location())
	assert.ErrorIs(t, err, dcerrors.ErrCircuitOpen)
}

func TestBreaker_SuccessResetsStreak(t *testing.T) {
	clock := newFakeClock()
	b := newGroup(clock).Breaker("market")

	for range 4 {
		b.RecordFailure()
	}
	b.RecordSuccess()
	for range 4 {
		assert.Equal(t, circuitbreaker.StateClosed, b.RecordFailure())
	}
}

// TestBreaker_SlidingWindow verifies that failures older than the window do
// not count toward the threshold.
func TestBreaker_SlidingWindow(t *testing.T) {
	clock := newFakeClock()
	b := newGroup(clock).Breaker("market")

	for range 4 {
		b.RecordFailure()
		clock.Advance(20 * time.Second)
	}
	// The first failure is now 80s old and drops out of the window.
	assert.Equal(t, circuitbreaker.StateClosed, b.RecordFailure())
	assert.Equal(t, circuitbreaker.StateOpen, b.RecordFailure())
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	tests := []struct {
		name      string
		succeed   bool
		wantState circuitbreaker.CircuitState
	}{
		{name: "probe success closes", succeed: true, wantState: circuitbreaker.StateClosed},
		{name: "probe failure reopens", succeed: false, wantState: circuitbreaker.StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			b := newGroup(clock).Breaker("market")
			for range 5 {
				b.RecordFailure()
			}

			clock.Advance(59 * time.Second)
			_, err := b.Allow()
			require.Error(t, err, "cool-down is fixed at 60s")

			clock.Advance(time.Second)
			assert.Equal(t, circuitbreaker.StateHalfOpen, b.State())

			release, err := b.Allow()
			require.NoError(t, err)

			_, err = b.Allow()
			require.Error(t, err, "only one probe while half-open")

			if tt.succeed {
				b.RecordSuccess()
			} else {
				b.RecordFailure()
			}
			release()
			release()

			assert.Equal(t, tt.wantState, b.State())
		})
	}
}

func TestBreaker_Reset(t *testing.T) {
	clock := newFakeClock()
	b := newGroup(clock).Breaker("market")
	for range 5 {
		b.RecordFailure()
	}
	b.Reset()

	assert.Equal(t, circuitbreaker.StateClosed, b.State())
	_, err := b.Allow()
	require.NoError(t, err)
}

func TestGroup_PerServiceIsolation(t *testing.T) {
	clock := newFakeClock()
	var transitions []string
	g := circuitbreaker.NewGroup(circuitbreaker.DefaultConfig(),
		circuitbreaker.WithClock(clock.Now),
		circuitbreaker.WithTransitionHook(func(service string, from, to circuitbreaker.CircuitState) {
			transitions = append(transitions, service+":"+from.String()+"->"+to.String())
		}))

	for range 5 {
		g.Breaker("market").RecordFailure()
	}

	assert.Equal(t, circuitbreaker.StateOpen, g.State("market"))
	assert.Equal(t, circuitbreaker.StateClosed, g.State("exchange"))
	assert.Equal(t, circuitbreaker.StateClosed, g.State("never-seen"))
	assert.Same(t, g.Breaker("market"), g.Breaker("market"))
	assert.Equal(t, []string{"market:closed->open"}, transitions)

	g.Breaker("exchange")
	snap := g.Snapshot()
	assert.Equal(t, circuitbreaker.StateOpen, snap["market"])
	assert.Equal(t, circuitbreaker.StateClosed, snap["exchange"])

	stats := g.Stats()
	assert.Equal(t, 2, stats.TotalBreakers)
	assert.Equal(t, 1, stats.StateCount["open"])
	assert.Equal(t, int64(1), stats.TotalStateTransitions)
}

func TestGroup_ConcurrentBreakerCreation(t *testing.T) {
	g := circuitbreaker.NewGroup(circuitbreaker.DefaultConfig())

	var wg sync.WaitGroup
	breakers := make([]*circuitbreaker.Breaker, 64)
	for i := range breakers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			breakers[i] = g.Breaker("shared")
		}()
	}
	wg.Wait()

	for _, b := range breakers {
		assert.Same(t, breakers[0], b)
	}
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", circuitbreaker.StateClosed.String())
	assert.Equal(t, "open", circuitbreaker.StateOpen.String())
	assert.Equal(t, "half-open", circuitbreaker.StateHalfOpen.String())
	assert.Equal(t, "unknown", circuitbreaker.CircuitState(9).String())
}
