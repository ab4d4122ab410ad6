// Package service is the single entry point for invoking external
// services. A call is answered from cache when possible; otherwise it takes
// a governor lease, tries the fast path, falls back to the registry path
// with bounded retry, and records the outcome in the service's health and
// circuit breaker.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ahrav/go-contracts/internal/cache"
	"github.com/ahrav/go-contracts/internal/circuitbreaker"
	"github.com/ahrav/go-contracts/internal/domain"
	dcerrors "github.com/ahrav/go-contracts/internal/errors"
	"github.com/ahrav/go-contracts/internal/governor"
	"github.com/ahrav/go-contracts/internal/retry"
)

// ErrUnknownService is wrapped by lookups of unconfigured services.
var ErrUnknownService = errors.New("unknown service")

// Option configures a Wrapper.
type Option func(*Wrapper)

// WithClock injects the time source for health timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Wrapper) { w.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Wrapper) { w.logger = l.With("component", "service_wrapper") }
}

// WithRetryPolicy replaces the fallback retry policy.
func WithRetryPolicy(p *retry.Policy) Option {
	return func(w *Wrapper) { w.retry = p }
}

// WithCacheTTL sets the TTL of entries written after a successful call.
// Zero uses the cache's default.
func WithCacheTTL(ttl time.Duration) Option {
	return func(w *Wrapper) { w.cacheTTL = ttl }
}

// serviceState is the wrapper's private view of one service.
type serviceState struct {
	desc domain.ServiceDescriptor

	probeOnce sync.Once
	useFast   bool
	probeErr  error

	mu     sync.Mutex
	health domain.ServiceHealth
}

// Wrapper invokes services on behalf of the executor. It is safe for
// concurrent use.
type Wrapper struct {
	services map[string]*serviceState
	cache    *cache.Cache
	gov      *governor.Governor
	fast     Invoker
	fallback Invoker
	retry    *retry.Policy
	cacheTTL time.Duration
	group    singleflight.Group
	now      func() time.Time
	logger   *slog.Logger
}

// New builds a wrapper for descs. Either invoker may be nil when no
// configured service uses that path; c may be nil to disable caching.
func New(descs []domain.ServiceDescriptor, gov *governor.Governor, c *cache.Cache, fast, fallback Invoker, opts ...Option) (*Wrapper, error) {
	if gov == nil {
		return nil, errors.New("service wrapper requires a governor")
	}
	policy, err := retry.New(retry.DefaultConfig())
	if err != nil {
		return nil, err
	}
	w := &Wrapper{
		services: make(map[string]*serviceState, len(descs)),
		cache:    c,
		gov:      gov,
		fast:     fast,
		fallback: fallback,
		retry:    policy,
		now:      time.Now,
		logger:   slog.Default().With("component", "service_wrapper"),
	}
	for _, opt := range opts {
		opt(w)
	}

	for _, d := range descs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := w.services[d.Name]; dup {
			return nil, fmt.Errorf("%w: %s: duplicate service", domain.ErrInvalidServiceDescriptor, d.Name)
		}
		d.Health = domain.ServiceHealth{State: domain.HealthUnknown}
		w.services[d.Name] = &serviceState{desc: d, health: d.Health}
	}
	return w, nil
}

// Services returns the configured service names in order.
func (w *Wrapper) Services() []string {
	names := make([]string, 0, len(w.services))
	for name := range w.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RetryStats reports the fallback retry policy's counters.
func (w *Wrapper) RetryStats() retry.Stats { return w.retry.Stats() }

// Descriptor returns the descriptor of service with its current health.
func (w *Wrapper) Descriptor(service string) (domain.ServiceDescriptor, error) {
	st, ok := w.services[service]
	if !ok {
		return domain.ServiceDescriptor{}, fmt.Errorf("%w: %s", ErrUnknownService, service)
	}
	d := st.desc
	st.mu.Lock()
	d.Health = st.health
	st.mu.Unlock()
	return d, nil
}

// Execute resolves one (service, operation, args) request. It never returns
// an error: every outcome is an ExecutionResult whose metadata "source" is
// cache, fast_path or fallback on success. Any unexpired cache entry
// answers the request.
func (w *Wrapper) Execute(ctx context.Context, service, operation string, args map[string]any) domain.ExecutionResult {
	return w.ExecuteFresh(ctx, service, operation, args, 0)
}

// ExecuteFresh is Execute for a caller that only accepts cached content
// fetched within maxAge. Older entries count as misses but stay cached for
// callers with wider windows. Zero means no limit. Cache hits carry the
// original fetch time as metadata "cached_at".
func (w *Wrapper) ExecuteFresh(ctx context.Context, service, operation string, args map[string]any,
	maxAge time.Duration,
) domain.ExecutionResult {
	start := w.now()
	st, ok := w.services[service]
	if !ok {
		err := &dcerrors.ConfigurationError{Service: service, Message: "service is not configured"}
		return domain.Failed(operation, err, w.now().Sub(start), map[string]any{"inputs": args})
	}

	key, err := cache.DeriveKey(service, operation, args)
	if err != nil {
		verr := &dcerrors.ValidationError{Field: "args", Message: err.Error()}
		return domain.Failed(operation, verr, w.now().Sub(start), map[string]any{"inputs": args})
	}

	if w.cache != nil {
		if entry, hit := w.cache.Lookup(ctx, key); hit && (maxAge <= 0 || start.Sub(entry.CreatedAt) <= maxAge) {
			invocationsTotal.WithLabelValues(service, domain.SourceCache, outcomeSuccess).Inc()
			return domain.Succeeded(operation, entry.Value, entry.ContentType, w.now().Sub(start), map[string]any{
				"source":    domain.SourceCache,
				"service":   service,
				"cache_key": key.ID,
				"cached_at": entry.CreatedAt,
			})
		}
	}

	// The shared invocation runs under the context of the caller that
	// started it. A caller whose own context is still live resubmits when
	// that invocation was cancelled.
	ch := w.group.DoChan(key.ID, func() (any, error) {
		return w.invoke(ctx, st, key, operation, args, start), nil
	})
	select {
	case r := <-ch:
		res := r.Val.(domain.ExecutionResult) //nolint:forcetypeassert // only invoke's result is stored
		if r.Shared {
			if res.Kind() == dcerrors.KindCancelled && ctx.Err() == nil {
				return w.ExecuteFresh(ctx, service, operation, args, maxAge)
			}
			res = res.WithMetadata("shared", true)
		}
		return res
	case <-ctx.Done():
		return domain.Failed(operation, ctx.Err(), w.now().Sub(start), map[string]any{"inputs": args})
	}
}

// invoke runs the governed fast path and fallback for one request.
func (w *Wrapper) invoke(ctx context.Context, st *serviceState, key cache.Key, operation string,
	args map[string]any, start time.Time,
) domain.ExecutionResult {
	service := st.desc.Name
	errCtx := map[string]any{"inputs": args}

	lease, err := w.gov.Acquire(ctx, service)
	if err != nil {
		errCtx["paths_tried"] = []string{}
		errCtx["attempts"] = 0
		invocationsTotal.WithLabelValues(service, "governor", outcomeRejected).Inc()
		return domain.Failed(operation, err, w.now().Sub(start), errCtx)
	}
	defer lease.Release()

	req := Request{Descriptor: st.desc, Operation: operation, Args: args}
	var (
		pathsTried  []string
		attempts    int
		fastErr     error
		fallbackErr error
	)

	useFast, probeErr := w.strategy(ctx, st)
	if useFast {
		pathsTried = append(pathsTried, domain.SourceFastPath)
		attempts++
		resp, err := w.attempt(ctx, w.fast, req)
		if err == nil {
			return w.succeed(ctx, st, key, operation, resp, domain.SourceFastPath, attempts, start)
		}
		fastErr = err
		if ctx.Err() != nil {
			return w.cancelled(operation, ctx.Err(), errCtx, pathsTried, attempts, start)
		}
		w.logger.WarnContext(ctx, "fast path failed, trying fallback",
			"service", service, "operation", operation, "error", err)
	} else if probeErr != nil {
		fastErr = probeErr
	}

	if st.desc.Fallback != "" && w.fallback != nil {
		pathsTried = append(pathsTried, domain.SourceFallback)
		var resp Response
		n, err := w.retry.Do(ctx, func(ctx context.Context, _ int) error {
			var err error
			resp, err = w.attempt(ctx, w.fallback, req)
			return err
		})
		attempts += n
		if err == nil {
			return w.succeed(ctx, st, key, operation, resp, domain.SourceFallback, attempts, start)
		}
		fallbackErr = err
		if ctx.Err() != nil {
			return w.cancelled(operation, ctx.Err(), errCtx, pathsTried, attempts, start)
		}
	}

	finalErr := fallbackErr
	if finalErr == nil {
		finalErr = fastErr
	}
	if finalErr == nil {
		finalErr = &dcerrors.ConfigurationError{Service: service, Message: "no invocation path available"}
	}

	state := w.gov.RecordFailure(service)
	w.markFailure(st, state)
	invocationsTotal.WithLabelValues(service, lastPath(pathsTried), outcomeFailure).Inc()

	errCtx["paths_tried"] = pathsTried
	errCtx["attempts"] = attempts
	if fastErr != nil {
		errCtx["fast_path_error"] = fastErr.Error()
	}
	if fallbackErr != nil {
		errCtx["fallback_error"] = fallbackErr.Error()
	}
	elapsed := w.now().Sub(start)
	errCtx["elapsed_ms"] = elapsed.Milliseconds()

	w.logger.WarnContext(ctx, "service invocation failed",
		"service", service,
		"operation", operation,
		"paths_tried", pathsTried,
		"attempts", attempts,
		"circuit", state.String(),
		"error", finalErr)
	return domain.Failed(operation, finalErr, elapsed, errCtx)
}

// strategy decides once per service whether the fast path is usable.
func (w *Wrapper) strategy(ctx context.Context, st *serviceState) (bool, error) {
	st.probeOnce.Do(func() {
		if st.desc.FastPath == "" || w.fast == nil {
			return
		}
		if err := w.fast.Probe(ctx, st.desc); err != nil {
			st.probeErr = err
			w.logger.InfoContext(ctx, "fast path unavailable, using fallback",
				"service", st.desc.Name, "error", err)
			return
		}
		st.useFast = true
	})
	return st.useFast, st.probeErr
}

// attempt runs one invocation under the descriptor's timeout and observes
// its duration.
func (w *Wrapper) attempt(ctx context.Context, inv Invoker, req Request) (Response, error) {
	actx, cancel := context.WithTimeout(ctx, req.Descriptor.EffectiveTimeout())
	defer cancel()

	begin := time.Now()
	resp, err := inv.Invoke(actx, req)
	invocationDuration.WithLabelValues(req.Descriptor.Name, inv.Name()).Observe(time.Since(begin).Seconds())

	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		var te *dcerrors.TransientError
		if !errors.As(err, &te) {
			err = &dcerrors.TransientError{
				Kind:    dcerrors.KindTimeout,
				Service: req.Descriptor.Name,
				Message: fmt.Sprintf("%s exceeded %s", inv.Name(), req.Descriptor.EffectiveTimeout()),
				Cause:   err,
			}
		}
	}
	return resp, err
}

func (w *Wrapper) succeed(ctx context.Context, st *serviceState, key cache.Key, operation string,
	resp Response, source string, attempts int, start time.Time,
) domain.ExecutionResult {
	service := st.desc.Name
	w.gov.RecordSuccess(service)
	w.markSuccess(st)
	invocationsTotal.WithLabelValues(service, source, outcomeSuccess).Inc()

	if w.cache != nil {
		if err := w.cache.Put(ctx, key, resp.Content, resp.ContentType, w.cacheTTL); err != nil {
			w.logger.WarnContext(ctx, "cache write failed", "service", service, "key", key.ID, "error", err)
		}
	}

	return domain.Succeeded(operation, resp.Content, resp.ContentType, w.now().Sub(start), map[string]any{
		"source":    source,
		"service":   service,
		"attempts":  attempts,
		"cache_key": key.ID,
	})
}

// cancelled reports a cancelled invocation. Cancellation is not a service
// fault, so neither health nor the breaker is touched.
func (w *Wrapper) cancelled(operation string, err error, errCtx map[string]any, paths []string,
	attempts int, start time.Time,
) domain.ExecutionResult {
	errCtx["paths_tried"] = paths
	errCtx["attempts"] = attempts
	elapsed := w.now().Sub(start)
	errCtx["elapsed_ms"] = elapsed.Milliseconds()
	return domain.Failed(operation, err, elapsed, errCtx)
}

func (w *Wrapper) markSuccess(st *serviceState) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.health.State = domain.HealthHealthy
	st.health.ConsecutiveFailures = 0
	st.health.LastSuccess = w.now()
	healthGauge.WithLabelValues(st.desc.Name).Set(healthValue(domain.HealthHealthy))
}

func (w *Wrapper) markFailure(st *serviceState, circuit circuitbreaker.CircuitState) {
	st.mu.Lock()
	defer st.mu.Unlock()
	from := st.health.State
	st.health.ConsecutiveFailures++
	st.health.LastFailure = w.now()
	if circuit == circuitbreaker.StateOpen {
		st.health.State = domain.HealthUnavailable
	} else {
		st.health.State = domain.HealthDegraded
	}
	healthGauge.WithLabelValues(st.desc.Name).Set(healthValue(st.health.State))
	if from != st.health.State {
		w.logger.Info("service health changed",
			"service", st.desc.Name,
			"from", string(from),
			"to", string(st.health.State))
	}
}

// Health returns the health recorded for service.
func (w *Wrapper) Health(service string) (domain.ServiceHealth, error) {
	st, ok := w.services[service]
	if !ok {
		return domain.ServiceHealth{}, fmt.Errorf("%w: %s", ErrUnknownService, service)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.health, nil
}

// HealthCheck probes service's invocation path without calling it. It does
// not take a lease or change recorded health.
func (w *Wrapper) HealthCheck(ctx context.Context, service string) domain.HealthStatus {
	checked := w.now()
	st, ok := w.services[service]
	if !ok {
		return domain.HealthStatus{
			Service:     service,
			State:       domain.HealthUnknown,
			LastChecked: checked,
			Error:       fmt.Sprintf("%v: %s", ErrUnknownService, service),
		}
	}

	st.mu.Lock()
	state := st.health.State
	st.mu.Unlock()

	begin := time.Now()
	strategy, err := w.probe(ctx, st)
	latency := time.Since(begin)

	status := domain.HealthStatus{
		Service:     service,
		State:       state,
		Available:   err == nil,
		LatencyMS:   latency.Milliseconds(),
		LastChecked: checked,
		Strategy:    strategy,
	}
	if err != nil {
		status.Error = err.Error()
	}
	if w.gov.CircuitState(service) == circuitbreaker.StateOpen {
		status.Available = false
		status.Error = "circuit open"
	}
	return status
}

// probe checks the path Execute would take first: the fast path when it is
// configured and usable, otherwise the fallback.
func (w *Wrapper) probe(ctx context.Context, st *serviceState) (string, error) {
	var fastErr error
	if st.desc.FastPath != "" && w.fast != nil {
		if fastErr = w.fast.Probe(ctx, st.desc); fastErr == nil {
			return w.fast.Name(), nil
		}
	}
	if st.desc.Fallback != "" && w.fallback != nil {
		return w.fallback.Name(), w.fallback.Probe(ctx, st.desc)
	}
	if fastErr != nil {
		return domain.SourceFastPath, fastErr
	}
	return "", &dcerrors.ConfigurationError{Service: st.desc.Name, Message: "no invocation path available"}
}

func lastPath(paths []string) string {
	if len(paths) == 0 {
		return "none"
	}
	return paths[len(paths)-1]
}
