// Package retry implements a bounded retry loop with exponential backoff.
// Each attempt either succeeds, fails permanently, or fails transiently and
// is followed by an explicit backoff sleep that observes cancellation.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	dcerrors "github.com/ahrav/go-contracts/internal/errors"
)

var (
	// Configuration validation errors.
	errMaxAttemptsInvalid     = errors.New("maxAttempts must be greater than 0")
	errInitialIntervalInvalid = errors.New("initialInterval must be greater than 0")
	errMaxIntervalInvalid     = errors.New("maxInterval must be >= initialInterval")
	errMultiplierInvalid      = errors.New("multiplier must be >= 1.0")
	errMaxElapsedTimeInvalid  = errors.New("maxElapsedTime must be >= 0")

	errContextCancelledBeforeRetry = errors.New("context cancelled before retry")
	errContextCancelledDuringRetry = errors.New("context cancelled during retry")

	// ErrRetriesExhausted wraps the last error once every attempt has failed.
	ErrRetriesExhausted = errors.New("all retries exhausted")
)

// Config controls attempt count and backoff shape.
type Config struct {
	// MaxAttempts includes the first attempt.
	MaxAttempts int `mapstructure:"max_attempts" validate:"min=1"`
	// InitialInterval is the delay after the first failure.
	InitialInterval time.Duration `mapstructure:"initial_interval" validate:"gt=0"`
	// MaxInterval caps any single delay.
	MaxInterval time.Duration `mapstructure:"max_interval" validate:"gtefield=InitialInterval"`
	// Multiplier grows the delay between attempts; 2 doubles it.
	Multiplier float64 `mapstructure:"multiplier" validate:"gte=1"`
	// MaxElapsedTime bounds the whole loop; zero disables the bound.
	MaxElapsedTime time.Duration `mapstructure:"max_elapsed_time" validate:"gte=0"`
	// UseJitter applies full jitter to each delay.
	UseJitter bool `mapstructure:"use_jitter"`
}

// DefaultConfig makes 3 attempts with a doubling 250ms base delay.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
		MaxElapsedTime:  0,
		UseJitter:       false,
	}
}

// Validate checks that the configuration describes a terminating loop.
func (c Config) Validate() error {
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("%w, got %d", errMaxAttemptsInvalid, c.MaxAttempts)
	}
	if c.InitialInterval <= 0 {
		return fmt.Errorf("%w, got %v", errInitialIntervalInvalid, c.InitialInterval)
	}
	if c.MaxInterval < c.InitialInterval {
		return fmt.Errorf("%w, MaxInterval: %v, InitialInterval: %v", errMaxIntervalInvalid, c.MaxInterval, c.InitialInterval)
	}
	if c.Multiplier < 1.0 {
		return fmt.Errorf("%w, got %f", errMultiplierInvalid, c.Multiplier)
	}
	if c.MaxElapsedTime < 0 {
		return fmt.Errorf("%w, got %v", errMaxElapsedTimeInvalid, c.MaxElapsedTime)
	}
	return nil
}

// Option configures a Policy.
type Option func(*Policy)

// WithRetryable replaces the default predicate, which retries only the
// transient kinds (timeout and connection).
func WithRetryable(fn func(error) bool) Option {
	return func(p *Policy) { p.isRetryable = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Policy) { p.logger = l.With("component", "retry") }
}

// Policy runs functions under a retry configuration. It is safe for
// concurrent use.
type Policy struct {
	config      Config
	isRetryable func(error) bool
	logger      *slog.Logger
	stats       *retryStats
}

// New validates cfg and returns a policy.
func New(cfg Config, opts ...Option) (*Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Policy{
		config:      cfg,
		isRetryable: dcerrors.IsRetryable,
		logger:      slog.Default().With("component", "retry"),
		stats:       &retryStats{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// MaxAttempts returns the configured attempt bound.
func (p *Policy) MaxAttempts() int { return p.config.MaxAttempts }

// Do calls fn until it succeeds, returns a non-retryable error, the attempt
// bound is reached, or ctx is cancelled. It returns the number of attempts
// made. Cancellation abandons the loop immediately; the returned error then
// wraps ctx.Err().
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", errContextCancelledBeforeRetry, err)
	}

	startTime := time.Now()
	var lastErr error
	attempt := 0

	for attempt < p.config.MaxAttempts {
		attempt++
		err := fn(ctx, attempt)
		p.stats.totalAttempts.Add(1)

		if err == nil {
			if attempt > 1 {
				p.stats.successfulRetries.Add(1)
				p.logger.DebugContext(ctx, "attempt succeeded after retry", "attempt", attempt)
			} else {
				p.stats.successfulFirstAttempts.Add(1)
			}
			return attempt, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return attempt, fmt.Errorf("%w: %w", errContextCancelledDuringRetry, ctx.Err())
		}
		if !p.isRetryable(err) {
			p.stats.permanentFailures.Add(1)
			return attempt, err
		}
		if attempt == p.config.MaxAttempts {
			break
		}

		backoff := p.Backoff(attempt)
		if p.config.MaxElapsedTime > 0 && time.Since(startTime)+backoff > p.config.MaxElapsedTime {
			p.logger.WarnContext(ctx, "max elapsed time exceeded",
				"elapsed", time.Since(startTime),
				"attempts", attempt,
				"last_error", err)
			break
		}
		p.recordBackoff(backoff)

		p.logger.DebugContext(ctx, "retrying after backoff",
			"attempt", attempt,
			"backoff", backoff,
			"error", err)

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return attempt, fmt.Errorf("%w: %w", errContextCancelledDuringRetry, ctx.Err())
		}
	}

	p.stats.failedRetries.Add(1)
	return attempt, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, lastErr)
}

// Backoff returns the delay after the given failed attempt (1-based).
func (p *Policy) Backoff(attempt int) time.Duration {
	return ExponentialBackoff(attempt, p.config)
}

// ExponentialBackoff computes InitialInterval * Multiplier^(attempt-1),
// capped at MaxInterval, with optional full jitter. Returns zero for
// non-positive attempt numbers.
func ExponentialBackoff(attempt int, config Config) time.Duration {
	if attempt <= 0 {
		return 0
	}

	backoff := config.InitialInterval
	if backoff <= 0 {
		backoff = time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * config.Multiplier)
		if config.MaxInterval > 0 && backoff > config.MaxInterval {
			backoff = config.MaxInterval
			break
		}
	}

	if config.UseJitter {
		jitterMs := rand.Int64N(backoff.Milliseconds() + 1) // #nosec G404 -- non-cryptographic jitter is appropriate here
		return time.Duration(jitterMs) * time.Millisecond
	}
	return backoff
}
