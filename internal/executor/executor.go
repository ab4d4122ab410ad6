// Package executor resolves contract sets. A run walks the dependency waves
// of the requested contracts, fills each contract from fresh local inventory
// first, calls services only for the gaps, validates the merged payload,
// and writes it out. Every contract ends the run satisfied, failed or
// skipped, and the run report lists all three.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-contracts/internal/domain"
	dcerrors "github.com/ahrav/go-contracts/internal/errors"
	"github.com/ahrav/go-contracts/internal/governor"
	"github.com/ahrav/go-contracts/internal/retry"
	"github.com/ahrav/go-contracts/internal/schema"
	"github.com/ahrav/go-contracts/internal/storage"
	"github.com/ahrav/go-contracts/pkg/events"
)

var tracer = otel.Tracer("github.com/ahrav/go-contracts/internal/executor")

const eventSource = "contractd.executor"

// Caller resolves one service operation, accepting cached content only
// when it was fetched within maxAge. *service.Wrapper implements it.
type Caller interface {
	ExecuteFresh(ctx context.Context, service, operation string, args map[string]any, maxAge time.Duration) domain.ExecutionResult
}

// DefaultRejectionRetry bounds how long a contract waits out governor
// rejections before failing with resource_exhausted.
func DefaultRejectionRetry() retry.Config {
	return retry.Config{
		MaxAttempts:     4,
		InitialInterval: time.Second,
		MaxInterval:     10 * time.Second,
		Multiplier:      2,
	}
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock injects the time source used for freshness and report timing.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l.With("component", "executor") }
}

// WithEventSink sets where domain events go. The default discards them.
func WithEventSink(s events.EventSink) Option {
	return func(e *Executor) { e.sink = s }
}

// WithRejectionRetry replaces the retry applied to retryable governor
// rejections.
func WithRejectionRetry(cfg retry.Config) Option {
	return func(e *Executor) { e.retryCfg = cfg }
}

// WithEnvironment labels reports with the environment they ran in.
func WithEnvironment(env string) Option {
	return func(e *Executor) { e.environment = env }
}

// Executor runs contract sets. Runs on one Executor are serialized because
// each run starts from a reset governor budget.
type Executor struct {
	store     *schema.Store
	caller    Caller
	gov       *governor.Governor
	inventory storage.Inventory
	output    storage.OutputWriter
	sink      events.EventSink

	retryCfg    retry.Config
	retry       *retry.Policy
	environment string
	now         func() time.Time
	logger      *slog.Logger

	runMu sync.Mutex
}

// New builds an executor. Every collaborator is required.
func New(store *schema.Store, caller Caller, gov *governor.Governor, inv storage.Inventory,
	out storage.OutputWriter, opts ...Option,
) (*Executor, error) {
	if store == nil || caller == nil || gov == nil || inv == nil || out == nil {
		return nil, errors.New("executor requires a store, caller, governor, inventory and output writer")
	}
	e := &Executor{
		store:     store,
		caller:    caller,
		gov:       gov,
		inventory: inv,
		output:    out,
		sink:      events.NewNoOpEventSink(),
		retryCfg:  DefaultRejectionRetry(),
		now:       time.Now,
		logger:    slog.Default().With("component", "executor"),
	}
	for _, opt := range opts {
		opt(e)
	}

	p, err := retry.New(e.retryCfg, retry.WithRetryable(retryableRejection), retry.WithLogger(e.logger))
	if err != nil {
		return nil, fmt.Errorf("rejection retry: %w", err)
	}
	e.retry = p
	return e, nil
}

// retryableRejection retries governor rejections that can clear with time.
func retryableRejection(err error) bool {
	var re *dcerrors.ResourceExhaustedError
	return errors.As(err, &re) && re.Retryable()
}

// RunSet runs the named contract set.
func (e *Executor) RunSet(ctx context.Context, set string) (*domain.RunReport, error) {
	ids, err := e.store.Set(set)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, set, ids)
}

// Run runs the given contracts and their dependencies; no ids runs every
// registered contract. The error is non-nil only when the run cannot be
// planned (unknown contracts, cycles); contract failures are in the report.
func (e *Executor) Run(ctx context.Context, ids []string) (*domain.RunReport, error) {
	return e.run(ctx, "", ids)
}

// outcome is the result of one contract within a run.
type outcome struct {
	status  domain.ContractStatus
	failure *domain.ContractFailure
	skip    *domain.ContractSkip

	fieldsTotal   int
	fromInventory int
	fromCache     int
	externalCalls int64
}

type runState struct {
	mu       sync.Mutex
	outcomes map[string]*outcome
}

func (r *runState) record(id string, o *outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[id] = o
}

// blocker returns the first dependency of c that did not resolve.
func (r *runState) blocker(c domain.Contract) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dep := range c.Dependencies {
		if o, ok := r.outcomes[dep]; !ok || o.status != domain.StatusSatisfied {
			return dep
		}
	}
	return ""
}

func (e *Executor) run(ctx context.Context, set string, ids []string) (*domain.RunReport, error) {
	waves, err := e.store.ResolveWaves(ids)
	if err != nil {
		return nil, err
	}

	e.runMu.Lock()
	defer e.runMu.Unlock()
	if err := e.gov.Reset(); err != nil {
		return nil, fmt.Errorf("reset governor: %w", err)
	}

	runID := uuid.NewString()
	start := e.now()
	total := 0
	for _, w := range waves {
		total += len(w)
	}

	ctx, span := tracer.Start(ctx, "contract.Run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("run.set", set),
		attribute.Int("run.contracts", total),
	))
	defer span.End()

	logger := e.logger.With("run_id", runID)
	logger.InfoContext(ctx, "run started", "set", set, "contracts", total, "waves", len(waves))

	state := &runState{outcomes: make(map[string]*outcome, total)}
	limit := int(e.gov.Budget().MaxConcurrentOperations)
	for _, wave := range waves {
		var g errgroup.Group
		g.SetLimit(limit)
		for _, id := range wave {
			c, _ := e.store.Get(id)
			if dep := state.blocker(c); dep != "" {
				state.record(id, e.skipped(ctx, runID, c, dep))
				continue
			}
			if err := ctx.Err(); err != nil {
				state.record(id, e.failed(ctx, runID, c, &outcome{}, err, nil))
				continue
			}
			g.Go(func() error {
				state.record(id, e.resolve(ctx, runID, c))
				return nil
			})
		}
		_ = g.Wait()
	}

	report := e.report(runID, set, start, total, state)
	runDuration.Observe(float64(report.DurationMS) / 1000)
	e.emit(ctx, runID, domain.EventTypeRunCompleted, runID, report)

	if report.HasFailures() {
		span.SetStatus(codes.Error, fmt.Sprintf("%d contracts failed", len(report.ContractsFailed)))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	logger.InfoContext(ctx, "run completed",
		"satisfied", report.ContractsSatisfied,
		"failed", len(report.ContractsFailed),
		"skipped", len(report.ContractsSkipped),
		"cache_hit_rate", report.CacheHitRate,
		"external_calls", report.ExternalCallsMade,
		"duration_ms", report.DurationMS)
	return report, nil
}

// resolve runs the local-first pipeline for one contract.
func (e *Executor) resolve(ctx context.Context, runID string, c domain.Contract) *outcome {
	ctx, span := tracer.Start(ctx, "contract.Resolve", trace.WithAttributes(
		attribute.String("contract.id", c.ID),
		attribute.Int("contract.fields", len(c.RequiredFields)),
	))
	defer span.End()

	out := &outcome{fieldsTotal: len(c.RequiredFields)}
	rec, err := e.inventory.Load(ctx, c.ID)
	if err != nil {
		e.logger.WarnContext(ctx, "inventory unavailable, fetching every field",
			"contract", c.ID, "error", err)
		rec = nil
	}

	p, err := planContract(c, rec, e.now())
	if err != nil {
		return e.failedSpan(ctx, span, runID, c, out, err, nil)
	}
	out.fromInventory = len(p.local)
	span.SetAttributes(attribute.Int("contract.gaps", len(p.gaps)))

	payload := make(map[string]any, len(c.RequiredFields))
	maps.Copy(payload, p.local)
	type fetchedValue struct {
		value  any
		source string
		at     time.Time
	}
	fetched := make(map[string]fetchedValue)
	sources := make(map[string]string)

	for _, g := range p.gaps {
		res, err := e.call(ctx, g, c.FreshnessWindow)
		if err != nil {
			err = fmt.Errorf("%s.%s: %w", g.service, g.operation, err)
			return e.failedSpan(ctx, span, runID, c, out, err, nil)
		}
		src := res.Source()
		at := e.now()
		if cachedAt, ok := res.CachedAt(); ok {
			at = cachedAt
		}
		switch {
		case src == domain.SourceCache:
			out.fromCache += len(g.fields)
		case res.Metadata["shared"] != true:
			out.externalCalls++
			externalCallsTotal.Inc()
		}
		for _, f := range g.fields {
			v, ok := extractField(res.Content, f.Name)
			if !ok {
				continue
			}
			payload[f.Name] = v
			fetched[f.Name] = fetchedValue{value: v, source: src, at: at}
			sources[f.Name] = src
		}
	}

	violations, err := e.store.Validate(c.ID, payload)
	if err != nil {
		return e.failedSpan(ctx, span, runID, c, out, err, nil)
	}
	if len(violations) > 0 {
		verr := &dcerrors.ValidationError{
			Field:   violations[0].Field,
			Message: fmt.Sprintf("payload has %d schema violations", len(violations)),
		}
		return e.failedSpan(ctx, span, runID, c, out, verr, violations)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return e.failedSpan(ctx, span, runID, c, out, fmt.Errorf("encode payload: %w", err), nil)
	}
	if err := e.output.Write(ctx, c.OutputLocation, raw); err != nil {
		return e.failedSpan(ctx, span, runID, c, out, err, nil)
	}

	if len(fetched) > 0 {
		if rec == nil {
			rec = domain.NewInventoryRecord(c.ID)
		}
		for name, fv := range fetched {
			b, err := json.Marshal(fv.value)
			if err != nil {
				continue
			}
			rec.Set(name, b, fv.source, fv.at)
		}
		if err := e.inventory.Save(ctx, rec); err != nil {
			e.logger.WarnContext(ctx, "inventory update failed", "contract", c.ID, "error", err)
		}
	}

	out.status = domain.StatusSatisfied
	contractsTotal.WithLabelValues(string(domain.StatusSatisfied)).Inc()
	span.SetStatus(codes.Ok, "")
	e.logger.InfoContext(ctx, "contract satisfied",
		"run_id", runID,
		"contract", c.ID,
		"from_inventory", out.fromInventory,
		"fetched", len(fetched),
		"output", c.OutputLocation)
	e.emit(ctx, runID, domain.EventTypeContractSatisfied, c.ID, &domain.ContractSatisfiedPayload{
		ContractID:          c.ID,
		OutputLocation:      c.OutputLocation,
		FieldsFromInventory: out.fromInventory,
		FieldsFetched:       len(fetched),
		Sources:             sources,
	})
	return out
}

// call invokes one gap, waiting out retryable governor rejections. Cached
// content older than window is refetched.
func (e *Executor) call(ctx context.Context, g *gap, window time.Duration) (domain.ExecutionResult, error) {
	var res domain.ExecutionResult
	_, err := e.retry.Do(ctx, func(ctx context.Context, _ int) error {
		res = e.caller.ExecuteFresh(ctx, g.service, g.operation, g.args, window)
		if res.Success {
			return nil
		}
		return res.Error
	})
	return res, err
}

func (e *Executor) failedSpan(ctx context.Context, span trace.Span, runID string, c domain.Contract,
	out *outcome, err error, violations []domain.Violation,
) *outcome {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return e.failed(ctx, runID, c, out, err, violations)
}

// failed records err as c's typed failure reason.
func (e *Executor) failed(ctx context.Context, runID string, c domain.Contract, out *outcome,
	err error, violations []domain.Violation,
) *outcome {
	opErr := dcerrors.Classify(err)
	out.status = domain.StatusFailed
	out.failure = &domain.ContractFailure{
		ID:         c.ID,
		Kind:       opErr.Kind,
		Reason:     err.Error(),
		Violations: violations,
	}
	contractsTotal.WithLabelValues(string(domain.StatusFailed)).Inc()
	e.logger.ErrorContext(ctx, "contract failed",
		"run_id", runID,
		"contract", c.ID,
		"kind", opErr.Kind,
		"error", err)
	e.emit(ctx, runID, domain.EventTypeContractFailed, c.ID, &domain.ContractFailedPayload{
		ContractID: c.ID,
		Kind:       string(opErr.Kind),
		Reason:     err.Error(),
	})
	return out
}

func (e *Executor) skipped(ctx context.Context, runID string, c domain.Contract, dep string) *outcome {
	contractsTotal.WithLabelValues(string(domain.StatusSkipped)).Inc()
	e.logger.WarnContext(ctx, "contract skipped", "run_id", runID, "contract", c.ID, "blocked_by", dep)
	e.emit(ctx, runID, domain.EventTypeContractSkipped, c.ID, &domain.ContractSkippedPayload{
		ContractID: c.ID,
		BlockedBy:  dep,
	})
	return &outcome{
		status: domain.StatusSkipped,
		skip:   &domain.ContractSkip{ID: c.ID, BlockedBy: dep},
	}
}

type validatable interface {
	Validate() error
}

// emit appends a domain event. Sink failures are logged and never fail
// the contract.
func (e *Executor) emit(ctx context.Context, runID string, eventType domain.EventType, subject string, payload any) {
	if v, ok := payload.(validatable); ok {
		if err := v.Validate(); err != nil {
			e.logger.WarnContext(ctx, "dropping invalid event", "type", eventType, "error", err)
			return
		}
	}
	env, err := events.NewEnvelope(string(eventType), eventSource, runID,
		domain.GenerateIdempotencyKey(runID, eventType, subject), payload, e.now())
	if err != nil {
		e.logger.WarnContext(ctx, "event encoding failed", "type", eventType, "error", err)
		return
	}
	if err := e.sink.Append(context.WithoutCancel(ctx), env); err != nil {
		e.logger.WarnContext(ctx, "event append failed", "type", eventType, "error", err)
	}
}

func (e *Executor) report(runID, set string, start time.Time, total int, state *runState) *domain.RunReport {
	r := &domain.RunReport{
		RunID:            runID,
		ContractSet:      set,
		Environment:      e.environment,
		StartedAt:        start,
		ContractsTotal:   total,
		Satisfied:        []string{},
		ContractsFailed:  []domain.ContractFailure{},
		ContractsSkipped: []domain.ContractSkip{},
	}

	ids := make([]string, 0, len(state.outcomes))
	for id := range state.outcomes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var fields, reused int
	for _, id := range ids {
		o := state.outcomes[id]
		switch o.status {
		case domain.StatusSatisfied:
			r.Satisfied = append(r.Satisfied, id)
		case domain.StatusFailed:
			r.ContractsFailed = append(r.ContractsFailed, *o.failure)
		case domain.StatusSkipped:
			r.ContractsSkipped = append(r.ContractsSkipped, *o.skip)
		}
		fields += o.fieldsTotal
		reused += o.fromInventory + o.fromCache
		r.ExternalCallsMade += o.externalCalls
	}
	r.ContractsSatisfied = len(r.Satisfied)
	if fields > 0 {
		r.CacheHitRate = float64(reused) / float64(fields)
	}
	r.DurationMS = e.now().Sub(start).Milliseconds()
	return r
}
