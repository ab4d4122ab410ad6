// Package cache provides the content-addressed response cache shared by the
// execution wrapper and the contract executor. Entries are addressed by
// DeriveKey, expire lazily against an injectable clock, and live in a
// pluggable Store (memory, BadgerDB or Redis). Store failures degrade to
// cache misses rather than failing the caller.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ahrav/go-contracts/internal/domain"
)

// DefaultTTL applies when Set is called without a ttl.
const DefaultTTL = time.Hour

// Option configures a Cache.
type Option func(*Cache)

// WithClock injects the time source used for created_at and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l.With("component", "cache") }
}

// WithDefaultTTL overrides DefaultTTL.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// Cache is safe for concurrent use. No lock is held across store calls.
type Cache struct {
	store      Store
	now        func() time.Time
	defaultTTL time.Duration
	logger     *slog.Logger

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	errors    atomic.Int64

	sweepMu   sync.Mutex
	sweepStop chan struct{}
	sweepDone chan struct{}
}

// New creates a cache over store.
func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:      store,
		now:        time.Now,
		defaultTTL: DefaultTTL,
		logger:     slog.Default().With("component", "cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the live entry for a logical request. Misses, expired entries
// and store failures all report false; expired entries are evicted.
func (c *Cache) Get(ctx context.Context, service, operation string, args map[string]any) (*domain.CacheEntry, bool) {
	key, err := DeriveKey(service, operation, args)
	if err != nil {
		c.errors.Add(1)
		c.misses.Add(1)
		lookupsTotal.WithLabelValues(lookupError).Inc()
		c.logger.WarnContext(ctx, "cache key derivation failed", "error", err)
		return nil, false
	}
	return c.Lookup(ctx, key)
}

// Lookup is Get for a key already produced by DeriveKey.
func (c *Cache) Lookup(ctx context.Context, key Key) (*domain.CacheEntry, bool) {
	raw, ok, err := c.store.Get(ctx, key.ID)
	if err != nil {
		c.errors.Add(1)
		c.misses.Add(1)
		lookupsTotal.WithLabelValues(lookupError).Inc()
		c.logger.WarnContext(ctx, "cache store read failed, treating as miss", "key", key.ID, "error", err)
		return nil, false
	}
	if !ok {
		c.misses.Add(1)
		lookupsTotal.WithLabelValues(lookupMiss).Inc()
		return nil, false
	}

	var entry domain.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.errors.Add(1)
		c.misses.Add(1)
		lookupsTotal.WithLabelValues(lookupError).Inc()
		c.logger.WarnContext(ctx, "corrupt cache entry evicted", "key", key.ID, "error", err)
		c.evict(ctx, key.ID)
		return nil, false
	}

	if entry.Expired(c.now()) {
		c.misses.Add(1)
		lookupsTotal.WithLabelValues(lookupExpired).Inc()
		c.evict(ctx, key.ID)
		return nil, false
	}

	c.hits.Add(1)
	lookupsTotal.WithLabelValues(lookupHit).Inc()
	c.logger.DebugContext(ctx, "cache hit", "key", key.ID, "namespace", key.Namespace)
	return &entry, true
}

// Set stores value for a logical request, overwriting any existing entry.
// A non-positive ttl uses the default TTL.
func (c *Cache) Set(ctx context.Context, service, operation string, args map[string]any, value []byte, contentType string, ttl time.Duration) error {
	key, err := DeriveKey(service, operation, args)
	if err != nil {
		return err
	}
	return c.Put(ctx, key, value, contentType, ttl)
}

// Put is Set for a key already produced by DeriveKey.
func (c *Cache) Put(ctx context.Context, key Key, value []byte, contentType string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	entry := domain.CacheEntry{
		Key:         key.ID,
		Namespace:   key.Namespace,
		Value:       value,
		ContentType: contentType,
		CreatedAt:   c.now(),
		TTL:         ttl,
	}
	raw, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key.ID, err)
	}
	if err := c.store.Put(ctx, key.ID, raw, ttl); err != nil {
		c.errors.Add(1)
		return fmt.Errorf("write cache entry %s: %w", key.ID, err)
	}
	return nil
}

// Invalidate removes every entry whose namespace ("service:operation")
// matches pattern, using path.Match glob syntax. It returns the number of
// entries removed.
func (c *Cache) Invalidate(ctx context.Context, pattern string) (int, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, fmt.Errorf("invalid invalidation pattern %q: %w", pattern, err)
	}

	keys, err := c.store.Keys(ctx, keyPrefix)
	if err != nil {
		c.errors.Add(1)
		return 0, fmt.Errorf("list cache keys: %w", err)
	}

	var matched []string
	for _, k := range keys {
		ns, ok := namespaceOf(k)
		if !ok {
			continue
		}
		if m, _ := path.Match(pattern, ns); m {
			matched = append(matched, k)
		}
	}
	if len(matched) == 0 {
		return 0, nil
	}
	if err := c.store.Delete(ctx, matched...); err != nil {
		c.errors.Add(1)
		return 0, fmt.Errorf("delete invalidated entries: %w", err)
	}
	c.logger.InfoContext(ctx, "cache entries invalidated", "pattern", pattern, "count", len(matched))
	return len(matched), nil
}

// Sweep evicts every expired entry and returns how many were removed.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	keys, err := c.store.Keys(ctx, keyPrefix)
	if err != nil {
		c.errors.Add(1)
		return 0, fmt.Errorf("list cache keys: %w", err)
	}

	now := c.now()
	removed := 0
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		raw, ok, err := c.store.Get(ctx, k)
		if err != nil || !ok {
			continue
		}
		var entry domain.CacheEntry
		if err := json.Unmarshal(raw, &entry); err == nil && !entry.Expired(now) {
			continue
		}
		c.evict(ctx, k)
		removed++
	}
	if removed > 0 {
		c.logger.DebugContext(ctx, "cache sweep completed", "evicted", removed)
	}
	return removed, nil
}

// StartSweeper runs Sweep every interval until Close. Calling it again
// while a sweeper is running is a no-op.
func (c *Cache) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		return
	}
	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()
	if c.sweepStop != nil {
		return
	}
	stop, done := make(chan struct{}), make(chan struct{})
	c.sweepStop, c.sweepDone = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if _, err := c.Sweep(context.Background()); err != nil {
					c.logger.Warn("cache sweep failed", "error", err)
				}
			}
		}
	}()
}

// Close stops the sweeper, if running. The store is owned by the caller.
func (c *Cache) Close() error {
	c.sweepMu.Lock()
	stop, done := c.sweepStop, c.sweepDone
	c.sweepStop, c.sweepDone = nil, nil
	c.sweepMu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}

func (c *Cache) evict(ctx context.Context, key string) {
	if err := c.store.Delete(ctx, key); err != nil {
		c.errors.Add(1)
		c.logger.WarnContext(ctx, "cache eviction failed", "key", key, "error", err)
		return
	}
	c.evictions.Add(1)
	evictionsTotal.Inc()
}
