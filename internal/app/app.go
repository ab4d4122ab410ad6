// Package app assembles the contract orchestration stack from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/ahrav/go-contracts/internal/cache"
	"github.com/ahrav/go-contracts/internal/circuitbreaker"
	"github.com/ahrav/go-contracts/internal/configuration"
	"github.com/ahrav/go-contracts/internal/executor"
	"github.com/ahrav/go-contracts/internal/governor"
	"github.com/ahrav/go-contracts/internal/registry"
	"github.com/ahrav/go-contracts/internal/retry"
	"github.com/ahrav/go-contracts/internal/schema"
	"github.com/ahrav/go-contracts/internal/service"
	"github.com/ahrav/go-contracts/internal/storage"
	"github.com/ahrav/go-contracts/pkg/events"
)

// App holds every long-lived component. Close releases what Build opened.
type App struct {
	Config   *configuration.Config
	Logger   *slog.Logger
	Store    *schema.Store
	Cache    *cache.Cache
	Breakers *circuitbreaker.Group
	Governor *governor.Governor
	Registry *registry.Registry
	Services *service.Wrapper
	Executor *executor.Executor
	Events   events.EventSink

	closers []func() error
}

// Option adjusts Build.
type Option func(*options)

type options struct {
	sink   events.EventSink
	output storage.OutputWriter
}

// WithEventSink replaces the default log sink.
func WithEventSink(s events.EventSink) Option {
	return func(o *options) { o.sink = s }
}

// WithOutputWriter replaces the file writer rooted at storage.output_root.
func WithOutputWriter(w storage.OutputWriter) Option {
	return func(o *options) { o.output = w }
}

// Build loads the contract file and wires storage, cache, governor,
// service wrapper and executor according to cfg. On error everything
// opened so far is closed.
func Build(ctx context.Context, cfg *configuration.Config, logger *slog.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.Store = schema.New(schema.WithLogger(logger))
	if err := a.Store.LoadFile(cfg.Contracts.File); err != nil {
		return nil, err
	}

	var db *storage.DB
	if cfg.UsesBadger() {
		db, err = storage.OpenBadger(cfg.Storage.Badger, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
	}

	cacheStore, err := a.cacheStore(ctx, db)
	if err != nil {
		return nil, err
	}
	a.Cache = cache.New(cacheStore, cache.WithLogger(logger), cache.WithDefaultTTL(cfg.Cache.TTL))
	// Registered before db.Close so the sweeper stops first.
	a.closers = append([]func() error{a.Cache.Close}, a.closers...)
	if cfg.Cache.SweepInterval > 0 {
		a.Cache.StartSweeper(cfg.Cache.SweepInterval)
	}

	a.Breakers = circuitbreaker.NewGroup(cfg.CircuitBreaker, circuitbreaker.WithLogger(logger))
	a.Governor, err = governor.New(cfg.Governor, a.Breakers, governor.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	a.Registry = registry.New(registry.WithLogger(logger))
	if _, err := a.Registry.RegisterSnapshots(cfg.Storage.SnapshotRoot, snapshotOperations(cfg, a.Store)); err != nil {
		return nil, err
	}

	policy, err := retry.New(cfg.Retry, retry.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	a.Services, err = service.New(cfg.Services, a.Governor, a.Cache,
		service.NewExecInvoker(logger), service.NewRegistryInvoker(a.Registry),
		service.WithLogger(logger),
		service.WithRetryPolicy(policy),
		service.WithCacheTTL(cfg.Cache.TTL))
	if err != nil {
		return nil, err
	}

	inv := storage.Inventory(storage.NewMemoryInventory())
	if cfg.Storage.Inventory == configuration.BackendBadger {
		inv = storage.NewBadgerInventory(db.DB)
	}
	out := o.output
	if out == nil {
		out = storage.NewFileWriter(cfg.Storage.OutputRoot)
	}
	a.Events = o.sink
	if a.Events == nil {
		a.Events = events.NewLogSink(logger)
	}

	a.Executor, err = executor.New(a.Store, a.Services, a.Governor, inv, out,
		executor.WithLogger(logger),
		executor.WithEventSink(a.Events),
		executor.WithRejectionRetry(cfg.RejectionRetry),
		executor.WithEnvironment(cfg.Environment))
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) cacheStore(ctx context.Context, db *storage.DB) (cache.Store, error) {
	cfg := a.Config.Cache
	switch cfg.Backend {
	case configuration.BackendBadger:
		return cache.NewBadgerStore(db.DB), nil
	case configuration.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis cache %s: %w", cfg.RedisAddr, err)
		}
		return cache.NewRedisStore(client), nil
	default:
		return cache.NewMemoryStore(), nil
	}
}

// snapshotOperations lists the fallback operations every contract field can
// reach, so each resolves to a local snapshot handler.
func snapshotOperations(cfg *configuration.Config, store *schema.Store) []registry.SnapshotOperation {
	var ops []registry.SnapshotOperation
	for _, id := range store.IDs() {
		c, _ := store.Get(id)
		for _, f := range c.RequiredFields {
			svc := c.ServiceFor(f)
			desc, ok := cfg.Service(svc)
			if !ok {
				continue
			}
			op := c.OperationFor(f)
			name := service.FallbackOperation(desc, op)
			if name == "" {
				continue
			}
			params := make([]string, 0, len(f.Args))
			for k := range f.Args {
				params = append(params, k)
			}
			ops = append(ops, registry.SnapshotOperation{Name: name, Service: svc, Operation: op, Params: params})
		}
	}
	return ops
}

// Close stops the sweeper and closes the cache backends in order.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
