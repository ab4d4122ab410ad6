package retry

import (
	"sync/atomic"
	"time"
)

// retryStats provides thread-safe retry metrics using atomic operations.
type retryStats struct {
	totalAttempts           atomic.Int64 // Attempts across all calls
	successfulRetries       atomic.Int64 // Calls that succeeded after retry
	failedRetries           atomic.Int64 // Calls that exhausted every attempt
	permanentFailures       atomic.Int64 // Calls stopped by a non-retryable error
	successfulFirstAttempts atomic.Int64 // Calls that succeeded on first attempt
	maxBackoff              atomic.Int64 // Maximum backoff duration in nanoseconds
}

// Stats holds aggregated metrics for a Policy.
type Stats struct {
	// TotalAttempts counts initial attempts and all retries.
	TotalAttempts int64 `json:"total_attempts"`
	// SuccessfulRetries counts calls that succeeded only after one or more retries.
	SuccessfulRetries int64 `json:"successful_retries"`
	// FailedRetries counts calls that failed after exhausting all attempts.
	FailedRetries int64 `json:"failed_retries"`
	// PermanentFailures counts calls stopped by a non-retryable error.
	PermanentFailures int64 `json:"permanent_failures"`
	// AverageAttempts is the average number of attempts per call.
	AverageAttempts float64 `json:"average_attempts"`
	// MaxBackoff is the longest backoff applied.
	MaxBackoff time.Duration `json:"max_backoff"`
}

func (p *Policy) recordBackoff(backoff time.Duration) {
	backoffNanos := backoff.Nanoseconds()
	for {
		current := p.stats.maxBackoff.Load()
		if backoffNanos <= current {
			return
		}
		if p.stats.maxBackoff.CompareAndSwap(current, backoffNanos) {
			return
		}
	}
}

// Stats returns a snapshot of the policy's counters.
func (p *Policy) Stats() Stats {
	totalAttempts := p.stats.totalAttempts.Load()
	successfulRetries := p.stats.successfulRetries.Load()
	failedRetries := p.stats.failedRetries.Load()
	permanent := p.stats.permanentFailures.Load()
	first := p.stats.successfulFirstAttempts.Load()

	averageAttempts := 1.0
	if calls := first + successfulRetries + failedRetries + permanent; calls > 0 {
		averageAttempts = float64(totalAttempts) / float64(calls)
	}

	return Stats{
		TotalAttempts:     totalAttempts,
		SuccessfulRetries: successfulRetries,
		FailedRetries:     failedRetries,
		PermanentFailures: permanent,
		AverageAttempts:   averageAttempts,
		MaxBackoff:        time.Duration(p.stats.maxBackoff.Load()),
	}
}
