// Package configuration loads and validates contractd runtime settings.
package configuration

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ahrav/go-contracts/internal/circuitbreaker"
	"github.com/ahrav/go-contracts/internal/domain"
	"github.com/ahrav/go-contracts/internal/retry"
	"github.com/ahrav/go-contracts/internal/storage"
)

// Config holds the full runtime configuration: contract source, services,
// resilience settings, storage backends and the serving surfaces.
type Config struct {
	// Environment labels run reports; "dev", "prod" and so on.
	Environment string `mapstructure:"environment"`

	// Contracts locates the contract-set document.
	Contracts ContractsConfig `mapstructure:"contracts"`

	// Services lists every external service contracts may reference.
	Services []domain.ServiceDescriptor `mapstructure:"services" validate:"dive"`

	// Governor is the per-run resource budget.
	Governor domain.ResourceBudget `mapstructure:"governor"`

	// Retry bounds fallback-path retries of transient failures.
	Retry retry.Config `mapstructure:"retry"`

	// RejectionRetry bounds how long a contract waits out governor rejections.
	RejectionRetry retry.Config `mapstructure:"rejection_retry"`

	// Circuit breaker configuration
	CircuitBreaker circuitbreaker.Config `mapstructure:"circuit_breaker"`

	// Cache configuration
	Cache CacheConfig `mapstructure:"cache"`

	// Storage configures inventory and output persistence.
	Storage StorageConfig `mapstructure:"storage"`

	// Server configures the HTTP API.
	Server ServerConfig `mapstructure:"server"`

	// Temporal configures the worker and workflow client.
	Temporal TemporalConfig `mapstructure:"temporal"`

	// Observability configuration
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ContractsConfig points at the contract-set document.
type ContractsConfig struct {
	File string `mapstructure:"file" validate:"required"`
}

// Cache backends.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendRedis  = "redis"
)

// CacheConfig selects and tunes the response cache backend.
type CacheConfig struct {
	Backend       string        `mapstructure:"backend" validate:"oneof=memory badger redis"`
	TTL           time.Duration `mapstructure:"ttl" validate:"gte=0"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gte=0"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password" json:"-"`
	RedisDB       int           `mapstructure:"redis_db" validate:"gte=0"`
}

// StorageConfig selects the inventory backend, output root and the
// directory local fallback snapshots are read from.
type StorageConfig struct {
	Inventory    string               `mapstructure:"inventory" validate:"oneof=memory badger"`
	Badger       storage.BadgerConfig `mapstructure:"badger"`
	OutputRoot   string               `mapstructure:"output_root" validate:"required"`
	SnapshotRoot string               `mapstructure:"snapshot_root"`
}

// ServerConfig configures `contractd serve`.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`
}

// TemporalConfig configures `contractd worker`.
type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port" validate:"required"`
	Namespace string `mapstructure:"namespace" validate:"required"`
	TaskQueue string `mapstructure:"task_queue" validate:"required"`
}

// Trace exporters.
const (
	TraceExporterNone   = "none"
	TraceExporterStdout = "stdout"
	TraceExporterOTLP   = "otlp"
)

// ObservabilityConfig controls logging, metrics and tracing.
type ObservabilityConfig struct {
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	LogLevel       string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat      string `mapstructure:"log_format" validate:"oneof=json text"`

	// ServiceName identifies this process in exported spans.
	ServiceName   string `mapstructure:"service_name" validate:"required"`
	TraceExporter string `mapstructure:"trace_exporter" validate:"oneof=none stdout otlp"`
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`
	OTLPInsecure  bool   `mapstructure:"otlp_insecure"`
}

// Level maps LogLevel onto slog.
func (o ObservabilityConfig) Level() slog.Level {
	switch strings.ToLower(o.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger builds the process logger writing to w.
func (o ObservabilityConfig) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: o.Level()}
	if o.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// Service returns the descriptor named name.
func (c *Config) Service(name string) (domain.ServiceDescriptor, bool) {
	for _, s := range c.Services {
		if s.Name == name {
			return s, true
		}
	}
	return domain.ServiceDescriptor{}, false
}

// applyServiceRateLimits folds each descriptor's declared rate limit into
// the governor overrides. An explicit governor override wins.
func (c *Config) applyServiceRateLimits() {
	for _, s := range c.Services {
		if s.RateLimit <= 0 {
			continue
		}
		if c.Governor.ServiceOverrides == nil {
			c.Governor.ServiceOverrides = make(map[string]int64)
		}
		if _, ok := c.Governor.ServiceOverrides[s.Name]; !ok {
			c.Governor.ServiceOverrides[s.Name] = s.RateLimit
		}
	}
}
