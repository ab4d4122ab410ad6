package retry_test

import (
	"context"
	"errors"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dcerrors "github.com/ahrav/go-contracts/internal/errors"
	"github.com/ahrav/go-contracts/internal/retry"
)

func testConfig() retry.Config {
	return retry.Config{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2.0,
	}
}

func transient() error {
	return &dcerrors.TransientError{Kind: dcerrors.KindConnection, Service: "market", Message: "refused"}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *retry.Config)
	}{
		{name: "zero attempts", mutate: func(c *retry.Config) { c.MaxAttempts = 0 }},
		{name: "zero interval", mutate: func(c *retry.Config) { c.InitialInterval = 0 }},
		{name: "max below initial", mutate: func(c *retry.Config) { c.MaxInterval = time.Millisecond }},
		{name: "shrinking multiplier", mutate: func(c *retry.Config) { c.Multiplier = 0.5 }},
		{name: "negative elapsed", mutate: func(c *retry.Config) { c.MaxElapsedTime = -time.Second }},
	}

	require.NoError(t, retry.DefaultConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := retry.New(cfg)
			require.Error(t, err)
		})
	}
}

// TestDo_RetriesTransientWithDoublingBackoff verifies the explicit bounded
// loop sleeps 100ms then 200ms between three attempts.
func TestDo_RetriesTransientWithDoublingBackoff(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		p, err := retry.New(testConfig())
		require.NoError(t, err)

		var times []time.Time
		start := time.Now()
		attempts, err := p.Do(context.Background(), func(context.Context, int) error {
			times = append(times, time.Now())
			return transient()
		})

		require.Error(t, err)
		assert.ErrorIs(t, err, retry.ErrRetriesExhausted)
		assert.Equal(t, dcerrors.KindConnection, dcerrors.KindOf(err))
		assert.Equal(t, 3, attempts)
		require.Len(t, times, 3)
		assert.Equal(t, 100*time.Millisecond, times[1].Sub(start))
		assert.Equal(t, 300*time.Millisecond, times[2].Sub(start))

		stats := p.Stats()
		assert.Equal(t, int64(3), stats.TotalAttempts)
		assert.Equal(t, int64(1), stats.FailedRetries)
		assert.Equal(t, 200*time.Millisecond, stats.MaxBackoff)
	})
}

func TestDo_SucceedsAfterRetry(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		p, err := retry.New(testConfig())
		require.NoError(t, err)

		attempts, err := p.Do(context.Background(), func(_ context.Context, attempt int) error {
			if attempt < 2 {
				return transient()
			}
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 2, attempts)
		assert.Equal(t, int64(1), p.Stats().SuccessfulRetries)
	})
}

func TestDo_PermanentErrorsNotRetried(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "validation", err: &dcerrors.ValidationError{Field: "symbol", Message: "required"}},
		{name: "not found", err: &dcerrors.NotFoundError{What: "operation", Name: "x"}},
		{name: "plain execution failure", err: errors.New("exit status 1")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := retry.New(testConfig())
			require.NoError(t, err)

			attempts, err := p.Do(context.Background(), func(context.Context, int) error { return tt.err })
			assert.Equal(t, 1, attempts)
			assert.Same(t, tt.err, err)
		})
	}
}

// TestDo_CancellationAbandonsBackoff verifies a cancelled run never makes a
// late retry and reports cancellation.
func TestDo_CancellationAbandonsBackoff(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		p, err := retry.New(testConfig())
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		calls := 0
		attempts, err := p.Do(ctx, func(context.Context, int) error {
			calls++
			return transient()
		})

		assert.Equal(t, 1, attempts)
		assert.Equal(t, 1, calls)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, dcerrors.KindCancelled, dcerrors.KindOf(err))
	})
}

func TestDo_AlreadyCancelled(t *testing.T) {
	p, err := retry.New(testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts, err := p.Do(ctx, func(context.Context, int) error {
		t.Fatal("fn must not run")
		return nil
	})
	assert.Equal(t, 0, attempts)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_CustomPredicate(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		p, err := retry.New(testConfig(), retry.WithRetryable(func(err error) bool {
			return errors.Is(err, dcerrors.ErrRateLimitExceeded)
		}))
		require.NoError(t, err)

		attempts, err := p.Do(context.Background(), func(context.Context, int) error {
			return &dcerrors.ResourceExhaustedError{Reason: dcerrors.ReasonRateLimit, Service: "market"}
		})
		assert.Equal(t, 3, attempts)
		assert.ErrorIs(t, err, dcerrors.ErrRateLimitExceeded)
	})
}

func TestDo_MaxElapsedTime(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxAttempts = 10
		cfg.MaxElapsedTime = 250 * time.Millisecond
		p, err := retry.New(cfg)
		require.NoError(t, err)

		// Delays 100ms, 200ms: the second would end at 300ms, past the bound.
		attempts, err := p.Do(context.Background(), func(context.Context, int) error { return transient() })
		assert.Equal(t, 2, attempts)
		assert.ErrorIs(t, err, retry.ErrRetriesExhausted)
	})
}

func TestExponentialBackoff(t *testing.T) {
	cfg := testConfig()
	cfg.MaxInterval = 350 * time.Millisecond

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 0},
		{attempt: 1, want: 100 * time.Millisecond},
		{attempt: 2, want: 200 * time.Millisecond},
		{attempt: 3, want: 350 * time.Millisecond},
		{attempt: 10, want: 350 * time.Millisecond},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, retry.ExponentialBackoff(tt.attempt, cfg), "attempt %d", tt.attempt)
	}

	cfg.UseJitter = true
	for range 50 {
		d := retry.ExponentialBackoff(2, cfg)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 200*time.Millisecond)
	}
}
