package domain

import (
	"fmt"
	"time"
)

// DefaultServiceTimeout bounds every external invocation when a descriptor
// declares no timeout.
const DefaultServiceTimeout = 30 * time.Second

// HealthState is the last observed health of a service.
type HealthState string

const (
	HealthUnknown     HealthState = "unknown"
	HealthHealthy     HealthState = "healthy"
	HealthDegraded    HealthState = "degraded"
	HealthUnavailable HealthState = "unavailable"
)

// ServiceHealth is the mutable part of a service descriptor.
// Only the service execution wrapper writes it.
type ServiceHealth struct {
	State               HealthState `json:"state"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	LastSuccess         time.Time   `json:"last_success,omitzero"`
	LastFailure         time.Time   `json:"last_failure,omitzero"`
}

// ServiceDescriptor describes a named external service and how to invoke it.
type ServiceDescriptor struct {
	// Name identifies the service in contracts and field specs.
	Name string `json:"name" mapstructure:"name" validate:"required"`

	// FastPath is a command template for the preferred invocation path.
	// Placeholders {service} and {operation} are substituted before execution.
	FastPath string `json:"fast_path,omitempty" mapstructure:"fast_path"`

	// Fallback is an operation-name template resolved in the operation registry.
	// Placeholders {service} and {operation} are substituted before lookup.
	Fallback string `json:"fallback,omitempty" mapstructure:"fallback"`

	// Timeout bounds a single invocation attempt.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout" validate:"gte=0"`

	// RateLimit is the declared calls-per-minute ceiling; zero uses the budget default.
	RateLimit int64 `json:"rate_limit,omitempty" mapstructure:"rate_limit" validate:"gte=0"`

	// Health is maintained by the execution wrapper.
	Health ServiceHealth `json:"health" mapstructure:"-"`
}

// Validate checks that the descriptor names at least one invocation mode.
func (s *ServiceDescriptor) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidServiceDescriptor, s.Name, err)
	}
	if s.FastPath == "" && s.Fallback == "" {
		return fmt.Errorf("%w: %s: no fast path or fallback configured", ErrInvalidServiceDescriptor, s.Name)
	}
	return nil
}

// EffectiveTimeout returns the declared timeout or DefaultServiceTimeout.
func (s *ServiceDescriptor) EffectiveTimeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return DefaultServiceTimeout
}

// HealthStatus is the response of a side-effect free health probe.
type HealthStatus struct {
	Service     string      `json:"service"`
	State       HealthState `json:"state"`
	Available   bool        `json:"available"`
	LatencyMS   int64       `json:"latency_ms"`
	LastChecked time.Time   `json:"last_checked"`
	Strategy    string      `json:"strategy,omitempty"`
	Error       string      `json:"error,omitempty"`
}
