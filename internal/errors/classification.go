package errors

import (
	"context"
	"errors"
	"net"
	"os/exec"
	"strings"
)

// Classify transforms any error into an OperationError with retry guidance.
// Typed errors are checked first, then sentinels and standard library
// errors, and finally message patterns for untyped errors.
func Classify(err error) *OperationError {
	if err == nil {
		return nil
	}

	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr
	}

	if classified := classifyTypedErrors(err); classified != nil {
		return classified
	}

	if classified := classifySentinelErrors(err); classified != nil {
		return classified
	}

	return classifyStringPatternErrors(err)
}

// KindOf is shorthand for Classify(err).Kind; nil errors have no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return Classify(err).Kind
}

// IsRetryable reports whether err warrants a backoff retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err).Retryable
}

func classifyTypedErrors(err error) *OperationError {
	var paramErr *ParameterValidationError
	if errors.As(err, &paramErr) {
		return &OperationError{
			Kind:    KindValidation,
			Code:    "PARAMETER_VALIDATION",
			Message: paramErr.Error(),
			Details: map[string]any{
				"operation": paramErr.Operation,
				"parameter": paramErr.Parameter,
			},
			Cause: err,
		}
	}

	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return &OperationError{
			Kind:    KindValidation,
			Code:    "VALIDATION",
			Message: valErr.Error(),
			Details: map[string]any{"field": valErr.Field},
			Cause:   err,
		}
	}

	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return &OperationError{
			Kind:    KindConfiguration,
			Code:    "CONFIGURATION",
			Message: cfgErr.Error(),
			Details: map[string]any{"service": cfgErr.Service},
			Cause:   err,
		}
	}

	var exhausted *ResourceExhaustedError
	if errors.As(err, &exhausted) {
		return &OperationError{
			Kind:    KindResourceExhausted,
			Code:    "RESOURCE_" + strings.ToUpper(string(exhausted.Reason)),
			Message: exhausted.Error(),
			// Governor rejections are never retried by the wrapper itself;
			// the executor applies its own bounded retry for retryable reasons.
			Retryable: false,
			Details: map[string]any{
				"reason":  string(exhausted.Reason),
				"service": exhausted.Service,
				"limit":   exhausted.Limit,
				"current": exhausted.Current,
			},
			Cause: err,
		}
	}

	var cbErr *CircuitOpenError
	if errors.As(err, &cbErr) {
		return &OperationError{
			Kind:    KindCircuitOpen,
			Code:    "CIRCUIT_OPEN",
			Message: cbErr.Error(),
			Details: map[string]any{
				"service":  cbErr.Service,
				"state":    cbErr.State,
				"reset_at": cbErr.ResetAt,
			},
			Cause: err,
		}
	}

	var transient *TransientError
	if errors.As(err, &transient) {
		kind := transient.Kind
		if !kind.IsTransient() {
			kind = KindConnection
		}
		return &OperationError{
			Kind:      kind,
			Code:      strings.ToUpper(string(kind)),
			Message:   transient.Error(),
			Retryable: true,
			Details:   map[string]any{"service": transient.Service},
			Cause:     err,
		}
	}

	var nf *NotFoundError
	if errors.As(err, &nf) {
		return &OperationError{
			Kind:    KindNotFound,
			Code:    "NOT_FOUND",
			Message: nf.Error(),
			Details: map[string]any{"what": nf.What, "name": nf.Name},
			Cause:   err,
		}
	}

	var dup *DuplicateContractError
	if errors.As(err, &dup) {
		return &OperationError{Kind: KindConfiguration, Code: "DUPLICATE_CONTRACT", Message: dup.Error(), Cause: err}
	}

	var cyc *CyclicDependencyError
	if errors.As(err, &cyc) {
		return &OperationError{Kind: KindConfiguration, Code: "CYCLIC_DEPENDENCY", Message: cyc.Error(), Cause: err}
	}

	var unknown *UnknownContractError
	if errors.As(err, &unknown) {
		return &OperationError{Kind: KindNotFound, Code: "UNKNOWN_CONTRACT", Message: unknown.Error(), Cause: err}
	}

	return nil
}

func classifySentinelErrors(err error) *OperationError {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, ErrCancelled):
		return &OperationError{Kind: KindCancelled, Code: "CANCELLED", Message: err.Error(), Cause: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &OperationError{Kind: KindTimeout, Code: "TIMEOUT", Message: err.Error(), Retryable: true, Cause: err}
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, ErrNotFound):
		return &OperationError{Kind: KindNotFound, Code: "NOT_FOUND", Message: err.Error(), Cause: err}
	case errors.Is(err, ErrCircuitOpen):
		return &OperationError{Kind: KindCircuitOpen, Code: "CIRCUIT_OPEN", Message: err.Error(), Cause: err}
	case errors.Is(err, ErrConcurrencyExceeded),
		errors.Is(err, ErrRateLimitExceeded),
		errors.Is(err, ErrMemoryCeilingExceeded),
		errors.Is(err, ErrRunBudgetExceeded):
		return &OperationError{Kind: KindResourceExhausted, Code: "RESOURCE_EXHAUSTED", Message: err.Error(), Cause: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &OperationError{Kind: KindTimeout, Code: "TIMEOUT", Message: err.Error(), Retryable: true, Cause: err}
		}
		return &OperationError{Kind: KindConnection, Code: "CONNECTION", Message: err.Error(), Retryable: true, Cause: err}
	}

	return nil
}

func classifyStringPatternErrors(err error) *OperationError {
	errMsg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline"):
		return &OperationError{
			Kind:      KindTimeout,
			Code:      "TIMEOUT",
			Message:   "invocation timeout",
			Retryable: true,
			Details:   map[string]any{"original_error": err.Error()},
			Cause:     err,
		}
	case strings.Contains(errMsg, "connection refused"),
		strings.Contains(errMsg, "connection reset"),
		strings.Contains(errMsg, "broken pipe"),
		strings.Contains(errMsg, "no such host"),
		strings.Contains(errMsg, "network is unreachable"):
		return &OperationError{
			Kind:      KindConnection,
			Code:      "CONNECTION",
			Message:   "connection error",
			Retryable: true,
			Details:   map[string]any{"original_error": err.Error()},
			Cause:     err,
		}
	default:
		return &OperationError{
			Kind:    KindExecution,
			Code:    "EXECUTION_FAILED",
			Message: err.Error(),
			Cause:   err,
		}
	}
}
