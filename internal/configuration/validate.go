package configuration

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints and the cross-field rules tags
// cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	for _, check := range []func() error{
		c.validateServices,
		c.validateResilience,
		c.validateCacheConfig,
		c.validateStorageConfig,
		c.validateObservability,
	} {
		if err := check(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}

func (c *Config) validateServices() error {
	seen := make(map[string]struct{}, len(c.Services))
	for i := range c.Services {
		s := &c.Services[i]
		if err := s.Validate(); err != nil {
			return err
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("service %q declared twice", s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	for name := range c.Governor.ServiceOverrides {
		if _, ok := seen[name]; !ok {
			return fmt.Errorf("governor override for undeclared service %q", name)
		}
	}
	return nil
}

func (c *Config) validateResilience() error {
	if err := c.Governor.Validate(); err != nil {
		return err
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if err := c.RejectionRetry.Validate(); err != nil {
		return fmt.Errorf("rejection_retry: %w", err)
	}
	if c.CircuitBreaker.OpenTimeout <= 0 {
		return errors.New("circuit_breaker.open_timeout must be positive")
	}
	return nil
}

func (c *Config) validateCacheConfig() error {
	if c.Cache.Backend == BackendRedis && c.Cache.RedisAddr == "" {
		return errors.New("cache.redis_addr is required for the redis backend")
	}
	if c.Cache.Backend == BackendBadger && c.Storage.Badger.Path == "" && !c.Storage.Badger.InMemory {
		return errors.New("storage.badger.path is required for the badger cache")
	}
	return nil
}

func (c *Config) validateStorageConfig() error {
	if c.Storage.Inventory == BackendBadger && c.Storage.Badger.Path == "" && !c.Storage.Badger.InMemory {
		return errors.New("storage.badger.path is required for the badger inventory")
	}
	return nil
}

func (c *Config) validateObservability() error {
	if c.Observability.TraceExporter == TraceExporterOTLP && c.Observability.OTLPEndpoint == "" {
		return errors.New("observability.otlp_endpoint is required for the otlp exporter")
	}
	return nil
}

// UsesBadger reports whether any component needs the embedded database.
func (c *Config) UsesBadger() bool {
	return c.Cache.Backend == BackendBadger || c.Storage.Inventory == BackendBadger
}
