package errors

import (
	"fmt"
	"maps"
)

// OperationError is the classified form of any failure that crosses a
// component boundary. ExecutionResult carries it; the executor reports it.
type OperationError struct {
	Kind      Kind           `json:"kind"`
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
	Cause     error          `json:"-"`
}

// Error returns formatted error string with kind and code context.
func (e *OperationError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As compatibility.
func (e *OperationError) Unwrap() error {
	return e.Cause
}

// WithDetail returns a copy of e with an extra detail entry.
func (e *OperationError) WithDetail(key string, value any) *OperationError {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	maps.Copy(cp.Details, e.Details)
	cp.Details[key] = value
	return &cp
}

// New builds an OperationError of the given kind. Retryable follows the kind.
func New(kind Kind, code, message string) *OperationError {
	return &OperationError{
		Kind:      kind,
		Code:      code,
		Message:   message,
		Retryable: kind.IsTransient(),
	}
}
