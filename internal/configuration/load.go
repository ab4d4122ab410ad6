package configuration

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/ahrav/go-contracts/internal/retry"
)

// EnvPrefix prefixes every environment override, e.g.
// CONTRACTD_GOVERNOR_MAX_CONCURRENT_OPERATIONS=4.
const EnvPrefix = "CONTRACTD"

// Load reads configuration from path, merges the environment overlay
// contractd.<env>.yaml found next to it, and applies CONTRACTD_* overrides.
// An empty path searches ./contractd.yaml and ./configs/contractd.yaml; a
// missing base file leaves the defaults in place. An empty env falls back
// to CONTRACTD_ENVIRONMENT, then to the configured environment.
func Load(path, env string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("contractd")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if env == "" {
		env = v.GetString("environment")
	}
	if env != "" {
		v.Set("environment", env)
		if err := mergeOverlay(v, env); err != nil {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyServiceRateLimits()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeOverlay merges contractd.<env>.yaml from the base file's directory.
func mergeOverlay(v *viper.Viper, env string) error {
	dir := "."
	if used := v.ConfigFileUsed(); used != "" {
		dir = filepath.Dir(used)
	}
	overlay := filepath.Join(dir, "contractd."+env+".yaml")
	if _, err := os.Stat(overlay); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat overlay %s: %w", overlay, err)
	}
	v.SetConfigFile(overlay)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("merge overlay %s: %w", overlay, err)
	}
	return nil
}

// setDefaults seeds every scalar key so env-only configuration works.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("environment", cfg.Environment)
	v.SetDefault("contracts.file", cfg.Contracts.File)

	v.SetDefault("governor.max_concurrent_operations", cfg.Governor.MaxConcurrentOperations)
	v.SetDefault("governor.max_memory_bytes", cfg.Governor.MaxMemoryBytes)
	v.SetDefault("governor.max_calls_per_minute_per_service", cfg.Governor.MaxCallsPerMinutePerService)
	v.SetDefault("governor.max_external_calls_per_run", cfg.Governor.MaxExternalCallsPerRun)

	setRetryDefaults(v, "retry", cfg.Retry)
	setRetryDefaults(v, "rejection_retry", cfg.RejectionRetry)

	v.SetDefault("circuit_breaker.failure_threshold", cfg.CircuitBreaker.FailureThreshold)
	v.SetDefault("circuit_breaker.failure_window", cfg.CircuitBreaker.FailureWindow)
	v.SetDefault("circuit_breaker.open_timeout", cfg.CircuitBreaker.OpenTimeout)
	v.SetDefault("circuit_breaker.success_threshold", cfg.CircuitBreaker.SuccessThreshold)
	v.SetDefault("circuit_breaker.half_open_probes", cfg.CircuitBreaker.HalfOpenProbes)

	v.SetDefault("cache.backend", cfg.Cache.Backend)
	v.SetDefault("cache.ttl", cfg.Cache.TTL)
	v.SetDefault("cache.sweep_interval", cfg.Cache.SweepInterval)
	v.SetDefault("cache.redis_addr", cfg.Cache.RedisAddr)
	v.SetDefault("cache.redis_password", cfg.Cache.RedisPassword)
	v.SetDefault("cache.redis_db", cfg.Cache.RedisDB)

	v.SetDefault("storage.inventory", cfg.Storage.Inventory)
	v.SetDefault("storage.output_root", cfg.Storage.OutputRoot)
	v.SetDefault("storage.snapshot_root", cfg.Storage.SnapshotRoot)
	v.SetDefault("storage.badger.path", cfg.Storage.Badger.Path)
	v.SetDefault("storage.badger.in_memory", cfg.Storage.Badger.InMemory)
	v.SetDefault("storage.badger.sync_writes", cfg.Storage.Badger.SyncWrites)
	v.SetDefault("storage.badger.gc_interval", cfg.Storage.Badger.GCInterval)
	v.SetDefault("storage.badger.gc_discard_ratio", cfg.Storage.Badger.GCDiscardRatio)

	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)

	v.SetDefault("temporal.host_port", cfg.Temporal.HostPort)
	v.SetDefault("temporal.namespace", cfg.Temporal.Namespace)
	v.SetDefault("temporal.task_queue", cfg.Temporal.TaskQueue)

	v.SetDefault("observability.metrics_enabled", cfg.Observability.MetricsEnabled)
	v.SetDefault("observability.log_level", cfg.Observability.LogLevel)
	v.SetDefault("observability.log_format", cfg.Observability.LogFormat)
	v.SetDefault("observability.service_name", cfg.Observability.ServiceName)
	v.SetDefault("observability.trace_exporter", cfg.Observability.TraceExporter)
	v.SetDefault("observability.otlp_endpoint", cfg.Observability.OTLPEndpoint)
	v.SetDefault("observability.otlp_insecure", cfg.Observability.OTLPInsecure)
}

func setRetryDefaults(v *viper.Viper, prefix string, r retry.Config) {
	v.SetDefault(prefix+".max_attempts", r.MaxAttempts)
	v.SetDefault(prefix+".initial_interval", r.InitialInterval)
	v.SetDefault(prefix+".max_interval", r.MaxInterval)
	v.SetDefault(prefix+".multiplier", r.Multiplier)
	v.SetDefault(prefix+".max_elapsed_time", r.MaxElapsedTime)
	v.SetDefault(prefix+".use_jitter", r.UseJitter)
}
