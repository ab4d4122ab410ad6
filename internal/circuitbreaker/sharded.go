package circuitbreaker

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// hashMultiplier is used in the hash function for shard selection.
const hashMultiplier = 31

// shardedBreakers distributes breakers across 16 shards to reduce lock
// contention when many services are invoked concurrently.
type shardedBreakers struct {
	shards [16]struct {
		sync.RWMutex
		breakers map[string]*Breaker
	}
	total atomic.Int64
}

func newShardedBreakers() *shardedBreakers {
	sb := new(shardedBreakers)
	for i := range sb.shards {
		sb.shards[i].breakers = make(map[string]*Breaker)
	}
	return sb
}

func (sb *shardedBreakers) getShard(key string) int {
	var hash uint32
	for i := 0; i < len(key); i++ {
		hash = hash*hashMultiplier + uint32(key[i])
	}
	return int(hash % uint32(len(sb.shards)))
}

func (sb *shardedBreakers) get(key string) (*Breaker, bool) {
	shard := &sb.shards[sb.getShard(key)]
	shard.RLock()
	breaker, exists := shard.breakers[key]
	shard.RUnlock()
	return breaker, exists
}

// getOrCreate uses double-checked locking so the common path only takes a
// read lock.
func (sb *shardedBreakers) getOrCreate(key string, create func() *Breaker) *Breaker {
	if breaker, exists := sb.get(key); exists {
		return breaker
	}

	shard := &sb.shards[sb.getShard(key)]
	shard.Lock()
	defer shard.Unlock()

	if breaker, exists := shard.breakers[key]; exists {
		return breaker
	}
	breaker := create()
	shard.breakers[key] = breaker
	sb.total.Add(1)
	return breaker
}

func (sb *shardedBreakers) forEach(fn func(*Breaker)) {
	for i := range sb.shards {
		shard := &sb.shards[i]
		shard.RLock()
		for _, b := range shard.breakers {
			fn(b)
		}
		shard.RUnlock()
	}
}

// Option configures a Group.
type Option func(*Group)

// WithClock injects the time source for windows and cool-downs.
func WithClock(now func() time.Time) Option {
	return func(g *Group) { g.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Group) { g.logger = l.With("component", "circuit_breaker") }
}

// WithTransitionHook registers a callback invoked on every state change.
func WithTransitionHook(fn func(service string, from, to CircuitState)) Option {
	return func(g *Group) { g.hook = fn }
}

// Group holds one breaker per service, created on first use. Breaker state
// lives for the lifetime of the Group.
type Group struct {
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
	hook     func(string, CircuitState, CircuitState)
	breakers *shardedBreakers
}

// NewGroup creates an empty group using cfg for every breaker.
func NewGroup(cfg Config, opts ...Option) *Group {
	g := &Group{
		cfg:      cfg,
		now:      time.Now,
		logger:   slog.Default().With("component", "circuit_breaker"),
		breakers: newShardedBreakers(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Breaker returns the breaker for service, creating it if needed.
func (g *Group) Breaker(service string) *Breaker {
	return g.breakers.getOrCreate(service, func() *Breaker {
		return newBreaker(service, g.cfg, g.now, g.logger, g.transition)
	})
}

// State returns the state of service's breaker. Unknown services are closed.
func (g *Group) State(service string) CircuitState {
	if b, ok := g.breakers.get(service); ok {
		return b.State()
	}
	return StateClosed
}

// Snapshot returns the state of every known breaker.
func (g *Group) Snapshot() map[string]CircuitState {
	out := make(map[string]CircuitState, g.breakers.total.Load())
	g.breakers.forEach(func(b *Breaker) { out[b.Name()] = b.State() })
	return out
}

func (g *Group) transition(service string, from, to CircuitState) {
	stateGauge.WithLabelValues(service).Set(float64(to))
	transitionsTotal.WithLabelValues(service, to.String()).Inc()
	if g.hook != nil {
		g.hook(service, from, to)
	}
}
