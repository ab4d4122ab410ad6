package configuration

import (
	"time"

	"github.com/ahrav/go-contracts/internal/cache"
	"github.com/ahrav/go-contracts/internal/circuitbreaker"
	"github.com/ahrav/go-contracts/internal/domain"
	"github.com/ahrav/go-contracts/internal/executor"
	"github.com/ahrav/go-contracts/internal/retry"
	"github.com/ahrav/go-contracts/internal/storage"
)

// Server and worker constants.
const (
	DefaultServerAddr      = ":8080"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 5 * time.Minute
	DefaultShutdownTimeout = 30 * time.Second
	DefaultTemporalHost    = "localhost:7233"
	DefaultNamespace       = "default"
	DefaultTaskQueue       = "contractd"
)

// Cache and storage constants.
const (
	DefaultSweepInterval = 5 * time.Minute
	DefaultContractsFile = "contracts.yaml"
	DefaultOutputRoot    = "."
	DefaultSnapshotRoot  = "snapshots"
)

// DefaultConfig returns production defaults: in-memory cache and
// inventory, the default resource budget, 3 fallback attempts, and a
// breaker that opens after 5 failures within 60s for a fixed 60s.
func DefaultConfig() *Config {
	return &Config{
		Environment:    "dev",
		Contracts:      ContractsConfig{File: DefaultContractsFile},
		Governor:       domain.DefaultResourceBudget(),
		Retry:          retry.DefaultConfig(),
		RejectionRetry: executor.DefaultRejectionRetry(),
		CircuitBreaker: circuitbreaker.DefaultConfig(),
		Cache: CacheConfig{
			Backend:       BackendMemory,
			TTL:           cache.DefaultTTL,
			SweepInterval: DefaultSweepInterval,
		},
		Storage: StorageConfig{
			Inventory:    BackendMemory,
			Badger:       storage.DefaultBadgerConfig(),
			OutputRoot:   DefaultOutputRoot,
			SnapshotRoot: DefaultSnapshotRoot,
		},
		Server: ServerConfig{
			Addr:            DefaultServerAddr,
			ReadTimeout:     DefaultReadTimeout,
			WriteTimeout:    DefaultWriteTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Temporal: TemporalConfig{
			HostPort:  DefaultTemporalHost,
			Namespace: DefaultNamespace,
			TaskQueue: DefaultTaskQueue,
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: true,
			LogLevel:       "info",
			LogFormat:      "json",
			ServiceName:    "contractd",
			TraceExporter:  TraceExporterNone,
		},
	}
}
