package domain

import "fmt"

const (
	defaultMaxConcurrentOperations     = 8
	defaultMaxMemoryBytes              = 1 << 30 // 1 GiB
	defaultMaxCallsPerMinutePerService = 60
)

// ResourceBudget defines the limits enforced by the resource governor for a
// pipeline run. Counters live in the governor and are reset between runs.
type ResourceBudget struct {
	// MaxConcurrentOperations caps in-flight leases across all services.
	MaxConcurrentOperations int64 `json:"max_concurrent_operations" mapstructure:"max_concurrent_operations" validate:"required,min=1"`

	// MaxMemoryBytes is a hard ceiling on sampled heap usage.
	MaxMemoryBytes int64 `json:"max_memory_bytes" mapstructure:"max_memory_bytes" validate:"required,min=1"`

	// MaxCallsPerMinutePerService is the default per-service rate.
	MaxCallsPerMinutePerService int64 `json:"max_calls_per_minute_per_service" mapstructure:"max_calls_per_minute_per_service" validate:"required,min=1"`

	// MaxExternalCallsPerRun caps leases granted during one run (0 = unlimited).
	MaxExternalCallsPerRun int64 `json:"max_external_calls_per_run" mapstructure:"max_external_calls_per_run" validate:"min=0"`

	// ServiceOverrides replaces the per-minute rate for individual services.
	ServiceOverrides map[string]int64 `json:"service_overrides,omitempty" mapstructure:"service_overrides" validate:"omitempty,dive,min=1"`
}

// DefaultResourceBudget returns limits suitable for a single-host run:
//   - MaxConcurrentOperations: 8
//   - MaxMemoryBytes: 1 GiB
//   - MaxCallsPerMinutePerService: 60
//   - MaxExternalCallsPerRun: unlimited
func DefaultResourceBudget() ResourceBudget {
	return ResourceBudget{
		MaxConcurrentOperations:     defaultMaxConcurrentOperations,
		MaxMemoryBytes:              defaultMaxMemoryBytes,
		MaxCallsPerMinutePerService: defaultMaxCallsPerMinutePerService,
	}
}

// Validate checks if the budget meets all requirements.
func (b *ResourceBudget) Validate() error {
	if err := validate.Struct(b); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBudget, err)
	}
	return nil
}

// CallsPerMinute returns the effective per-minute limit for service.
func (b *ResourceBudget) CallsPerMinute(service string) int64 {
	if n, ok := b.ServiceOverrides[service]; ok && n > 0 {
		return n
	}
	return b.MaxCallsPerMinutePerService
}
