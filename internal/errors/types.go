// Package errors defines the error taxonomy shared by every layer of the
// contract pipeline. Each failure is classified into a Kind that drives retry
// and reporting decisions: transient kinds are retried with backoff, permanent
// kinds are surfaced immediately.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind categorizes pipeline failures for retry classification and reporting.
type Kind string

const (
	// KindValidation indicates schema or parameter violations (never retried).
	KindValidation Kind = "validation"

	// KindConfiguration indicates a missing or invalid service descriptor.
	// Fatal for the affected contract only.
	KindConfiguration Kind = "configuration"

	// KindResourceExhausted indicates a governor rejection.
	KindResourceExhausted Kind = "resource_exhausted"

	// KindTimeout indicates an invocation exceeded its declared timeout (transient).
	KindTimeout Kind = "timeout"

	// KindConnection indicates the service could not be reached (transient).
	KindConnection Kind = "connection"

	// KindCircuitOpen indicates the service is in circuit-breaker cool-down.
	KindCircuitOpen Kind = "circuit_open"

	// KindCancelled indicates the run was cancelled.
	KindCancelled Kind = "cancelled"

	// KindNotFound indicates an operation, executable or contract does not exist.
	KindNotFound Kind = "not_found"

	// KindExecution indicates a handler or process failed for a non-transient reason.
	KindExecution Kind = "execution"

	// KindDependency marks contracts skipped because a dependency did not resolve.
	KindDependency Kind = "dependency"

	// KindUnknown indicates an unclassified error.
	KindUnknown Kind = "unknown"
)

// IsTransient reports whether errors of this kind are eligible for backoff retry.
func (k Kind) IsTransient() bool {
	return k == KindTimeout || k == KindConnection
}

// Sentinel errors. Typed errors match these through errors.Is.
var (
	ErrConcurrencyExceeded   = errors.New("concurrency limit exceeded")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrMemoryCeilingExceeded = errors.New("memory ceiling exceeded")
	ErrRunBudgetExceeded     = errors.New("run call budget exceeded")
	ErrCircuitOpen           = errors.New("circuit breaker open")
	ErrNotFound              = errors.New("not found")
	ErrCancelled             = errors.New("operation cancelled")
)

// ValidationError captures a single schema or input violation.
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// ParameterValidationError is returned by the operation registry when a call's
// parameters do not satisfy the operation's declared parameter contract.
type ParameterValidationError struct {
	Operation string `json:"operation"`
	Parameter string `json:"parameter"`
	Expected  string `json:"expected,omitempty"`
	Got       string `json:"got,omitempty"`
	Message   string `json:"message"`
}

func (e *ParameterValidationError) Error() string {
	if e.Expected != "" {
		return fmt.Sprintf("operation %s: parameter %q: %s (expected %s, got %s)",
			e.Operation, e.Parameter, e.Message, e.Expected, e.Got)
	}
	return fmt.Sprintf("operation %s: parameter %q: %s", e.Operation, e.Parameter, e.Message)
}

// ConfigurationError indicates a missing or invalid service descriptor.
type ConfigurationError struct {
	Service string `json:"service"`
	Message string `json:"message"`
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for service %s: %s", e.Service, e.Message)
}

// ExhaustionReason identifies which governor limit rejected a lease.
type ExhaustionReason string

const (
	ReasonConcurrency ExhaustionReason = "concurrency"
	ReasonRateLimit   ExhaustionReason = "rate_limit"
	ReasonMemory      ExhaustionReason = "memory"
	ReasonRunBudget   ExhaustionReason = "run_budget"
)

// ResourceExhaustedError is returned when the governor refuses a lease.
// It matches ErrConcurrencyExceeded, ErrRateLimitExceeded,
// ErrMemoryCeilingExceeded or ErrRunBudgetExceeded depending on Reason.
type ResourceExhaustedError struct {
	Reason  ExhaustionReason `json:"reason"`
	Service string           `json:"service"`
	Limit   int64            `json:"limit"`
	Current int64            `json:"current"`
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("resource exhausted (%s) for %s: limit=%d, current=%d",
		e.Reason, e.Service, e.Limit, e.Current)
}

// Is maps the exhaustion reason onto the matching sentinel.
func (e *ResourceExhaustedError) Is(target error) bool {
	switch e.Reason {
	case ReasonConcurrency:
		return target == ErrConcurrencyExceeded
	case ReasonRateLimit:
		return target == ErrRateLimitExceeded
	case ReasonMemory:
		return target == ErrMemoryCeilingExceeded
	case ReasonRunBudget:
		return target == ErrRunBudgetExceeded
	default:
		return false
	}
}

// Retryable reports whether the rejection may clear after a backoff.
// The memory ceiling is a hard stop and never retried.
func (e *ResourceExhaustedError) Retryable() bool {
	return e.Reason != ReasonMemory
}

// CircuitOpenError indicates the service's breaker is in cool-down.
type CircuitOpenError struct {
	Service string    `json:"service"`
	State   string    `json:"state"`
	ResetAt time.Time `json:"reset_at"`
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %s for %s", e.State, e.Service)
}

func (e *CircuitOpenError) Is(target error) bool { return target == ErrCircuitOpen }

// TransientError wraps a failure that may succeed on retry.
// Kind must be KindTimeout or KindConnection.
type TransientError struct {
	Kind    Kind   `json:"kind"`
	Service string `json:"service"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *TransientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error from %s: %s: %v", e.Kind, e.Service, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error from %s: %s", e.Kind, e.Service, e.Message)
}

func (e *TransientError) Unwrap() error { return e.Cause }

// NotFoundError indicates a missing operation, executable or resource.
type NotFoundError struct {
	What string `json:"what"`
	Name string `json:"name"`
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.What, e.Name)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// DuplicateContractError is returned when a contract id is registered twice.
type DuplicateContractError struct {
	ID string `json:"id"`
}

func (e *DuplicateContractError) Error() string {
	return fmt.Sprintf("contract %q already registered", e.ID)
}

// CyclicDependencyError lists the contracts participating in a dependency cycle.
type CyclicDependencyError struct {
	Contracts []string `json:"contracts"`
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency among contracts: %s", strings.Join(e.Contracts, " -> "))
}

// UnknownContractError indicates a reference to a contract id that was never
// registered. This is a programmer error, not a data-shape problem.
type UnknownContractError struct {
	ID           string `json:"id"`
	ReferencedBy string `json:"referenced_by,omitempty"`
}

func (e *UnknownContractError) Error() string {
	if e.ReferencedBy != "" {
		return fmt.Sprintf("contract %q (dependency of %q) is not registered", e.ID, e.ReferencedBy)
	}
	return fmt.Sprintf("contract %q is not registered", e.ID)
}
