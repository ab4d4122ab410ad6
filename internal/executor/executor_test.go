package executor_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-contracts/internal/cache"
	"github.com/ahrav/go-contracts/internal/circuitbreaker"
	"github.com/ahrav/go-contracts/internal/domain"
	dcerrors "github.com/ahrav/go-contracts/internal/errors"
	"github.com/ahrav/go-contracts/internal/executor"
	"github.com/ahrav/go-contracts/internal/governor"
	"github.com/ahrav/go-contracts/internal/registry"
	"github.com/ahrav/go-contracts/internal/retry"
	"github.com/ahrav/go-contracts/internal/schema"
	"github.com/ahrav/go-contracts/internal/service"
	"github.com/ahrav/go-contracts/internal/storage"
	"github.com/ahrav/go-contracts/pkg/events"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 3, 16, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// marketInvoker answers fast-path calls from a table keyed by operation.
type marketInvoker struct {
	probeErr  error
	responses map[string]string
	failures  map[string]error

	mu    sync.Mutex
	calls []string
}

func newMarketInvoker() *marketInvoker {
	return &marketInvoker{
		responses: map[string]string{
			"price":  `101.5`,
			"volume": `1200`,
			"quote":  `{"price":101.5,"volume":1200}`,
			"report": `{"avg_volume":1100.25}`,
		},
		failures: map[string]error{},
	}
}

func (m *marketInvoker) Name() string { return domain.SourceFastPath }

func (m *marketInvoker) Probe(context.Context, domain.ServiceDescriptor) error { return m.probeErr }

func (m *marketInvoker) Invoke(_ context.Context, req service.Request) (service.Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req.Operation)
	m.mu.Unlock()
	if err, ok := m.failures[req.Operation]; ok {
		return service.Response{}, err
	}
	body, ok := m.responses[req.Operation]
	if !ok {
		return service.Response{}, &dcerrors.NotFoundError{What: "operation", Name: req.Operation}
	}
	return service.Response{Content: []byte(body), ContentType: service.ContentTypeJSON}, nil
}

func (m *marketInvoker) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

type harness struct {
	clock    *fakeClock
	store    *schema.Store
	cache    *cache.Cache
	gov      *governor.Governor
	fast     *marketInvoker
	wrapper  *service.Wrapper
	inv      *storage.MemoryInventory
	out      *storage.MemoryWriter
	sink     *events.MemorySink
	executor *executor.Executor
}

type harnessConfig struct {
	budget   domain.ResourceBudget
	sampler  governor.StaticSampler
	fallback service.Invoker
	desc     domain.ServiceDescriptor
}

func marketDescriptor() domain.ServiceDescriptor {
	return domain.ServiceDescriptor{
		Name:     "market",
		FastPath: "market-cli {operation}",
		Timeout:  time.Second,
	}
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 4 * time.Millisecond, Multiplier: 2}
}

func newHarness(t *testing.T, contracts []domain.Contract, mods ...func(*harnessConfig)) *harness {
	t.Helper()
	cfg := harnessConfig{budget: domain.DefaultResourceBudget(), desc: marketDescriptor()}
	for _, m := range mods {
		m(&cfg)
	}

	h := &harness{
		clock: newFakeClock(),
		store: schema.New(),
		fast:  newMarketInvoker(),
		inv:   storage.NewMemoryInventory(),
		out:   storage.NewMemoryWriter(),
		sink:  events.NewMemorySink(),
	}
	for _, c := range contracts {
		require.NoError(t, h.store.Register(c))
	}

	breakers := circuitbreaker.NewGroup(circuitbreaker.DefaultConfig(), circuitbreaker.WithClock(h.clock.Now))
	gov, err := governor.New(cfg.budget, breakers,
		governor.WithClock(h.clock.Now),
		governor.WithMemorySampler(cfg.sampler))
	require.NoError(t, err)
	h.gov = gov
	h.cache = cache.New(cache.NewMemoryStore(), cache.WithClock(h.clock.Now))

	policy, err := retry.New(fastRetry())
	require.NoError(t, err)
	h.wrapper, err = service.New([]domain.ServiceDescriptor{cfg.desc}, gov, h.cache, h.fast, cfg.fallback,
		service.WithClock(h.clock.Now), service.WithRetryPolicy(policy))
	require.NoError(t, err)

	h.executor = h.newExecutor(t, h.inv, h.out)
	return h
}

func (h *harness) newExecutor(t *testing.T, inv storage.Inventory, out storage.OutputWriter) *executor.Executor {
	t.Helper()
	e, err := executor.New(h.store, h.wrapper, h.gov, inv, out,
		executor.WithClock(h.clock.Now),
		executor.WithEventSink(h.sink),
		executor.WithRejectionRetry(fastRetry()),
		executor.WithEnvironment("test"))
	require.NoError(t, err)
	return e
}

func priceVolumeContract(id string, deps ...string) domain.Contract {
	return domain.Contract{
		ID:              id,
		SourceHint:      "market",
		OutputLocation:  "out/" + id + ".json",
		FreshnessWindow: time.Hour,
		RequiredFields: []domain.FieldSpec{
			{Name: "price", Type: domain.FieldNumber},
			{Name: "volume", Type: domain.FieldInteger},
		},
		Dependencies: deps,
	}
}

func decodeOutput(t *testing.T, out *storage.MemoryWriter, location string) map[string]any {
	t.Helper()
	raw, ok := out.Get(location)
	require.True(t, ok, "no output at %s", location)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestRun_CachedPriceMissingVolume(t *testing.T) {
	h := newHarness(t, []domain.Contract{priceVolumeContract("A")})
	ctx := context.Background()
	require.NoError(t, h.cache.Set(ctx, "market", "price", nil, []byte(`101.5`), service.ContentTypeJSON, 0))

	report, err := h.executor.Run(ctx, []string{"A"})
	require.NoError(t, err)

	assert.Equal(t, []string{"volume"}, h.fast.Calls(), "only the gap is fetched")
	assert.Equal(t, int64(1), report.ExternalCallsMade)
	assert.Greater(t, report.CacheHitRate, 0.0)
	assert.InDelta(t, 0.5, report.CacheHitRate, 1e-9)
	assert.Equal(t, []string{"A"}, report.Satisfied)
	assert.Empty(t, report.ContractsFailed)
	assert.Equal(t, 1, report.ContractsTotal)
	assert.Equal(t, "test", report.Environment)
	assert.Equal(t, map[string]any{"price": 101.5, "volume": 1200.0}, decodeOutput(t, h.out, "out/A.json"))
}

func TestRun_LocalFirst(t *testing.T) {
	h := newHarness(t, []domain.Contract{priceVolumeContract("A")})
	ctx := context.Background()

	rec := domain.NewInventoryRecord("A")
	rec.Set("price", json.RawMessage(`99.5`), domain.SourceInventory, h.clock.Now().Add(-30*time.Minute))
	rec.Set("volume", json.RawMessage(`800`), domain.SourceInventory, h.clock.Now().Add(-10*time.Minute))
	require.NoError(t, h.inv.Save(ctx, rec))

	report, err := h.executor.Run(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, h.fast.Calls(), "fresh local data needs no external calls")
	assert.Zero(t, report.ExternalCallsMade)
	assert.Empty(t, h.gov.Snapshot().CallsGranted)
	assert.InDelta(t, 1.0, report.CacheHitRate, 1e-9)
	assert.Equal(t, map[string]any{"price": 99.5, "volume": 800.0}, decodeOutput(t, h.out, "out/A.json"))

	h.clock.Advance(45 * time.Minute)
	report, err = h.executor.Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"price"}, h.fast.Calls(), "only the stale field is refetched")
	assert.Equal(t, int64(1), report.ExternalCallsMade)
	assert.Equal(t, map[string]any{"price": 101.5, "volume": 800.0}, decodeOutput(t, h.out, "out/A.json"))

	updated, err := h.inv.Load(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceFastPath, updated.Fields["price"].Source)
	assert.True(t, updated.Fields["price"].UpdatedAt.Equal(h.clock.Now()))
	assert.Equal(t, domain.SourceInventory, updated.Fields["volume"].Source)
}

func TestRun_CachedValuesHonourFreshnessWindow(t *testing.T) {
	c := priceVolumeContract("A")
	c.FreshnessWindow = 5 * time.Minute
	h := newHarness(t, []domain.Contract{c})
	ctx := context.Background()

	_, err := h.executor.Run(ctx, nil)
	require.NoError(t, err)
	require.Len(t, h.fast.Calls(), 2)

	h.clock.Advance(30 * time.Minute)
	h.fast.responses["price"] = `200`

	report, err := h.executor.Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.ExternalCallsMade, "cache entries older than the window are refetched")
	assert.Len(t, h.fast.Calls(), 4)
	assert.Equal(t, map[string]any{"price": 200.0, "volume": 1200.0}, decodeOutput(t, h.out, "out/A.json"))

	rec, err := h.inv.Load(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceFastPath, rec.Fields["price"].Source)
	assert.True(t, rec.Fields["price"].UpdatedAt.Equal(h.clock.Now()))
}

func TestRun_CacheServedFieldsKeepFetchTime(t *testing.T) {
	h := newHarness(t, []domain.Contract{priceVolumeContract("A")})
	ctx := context.Background()
	fetchedAt := h.clock.Now()

	_, err := h.executor.Run(ctx, nil)
	require.NoError(t, err)

	h.clock.Advance(10 * time.Minute)
	inv := storage.NewMemoryInventory()
	report, err := h.newExecutor(t, inv, storage.NewMemoryWriter()).Run(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, report.ExternalCallsMade)

	rec, err := inv.Load(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceCache, rec.Fields["price"].Source)
	assert.True(t, rec.Fields["price"].UpdatedAt.Equal(fetchedAt), "inventory records when the value was fetched")

	// Past the window neither the inventory nor the cache may answer.
	h.clock.Advance(55 * time.Minute)
	h.fast.responses["price"] = `200`
	out := storage.NewMemoryWriter()
	report, err = h.newExecutor(t, inv, out).Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.ExternalCallsMade)
	assert.Equal(t, map[string]any{"price": 200.0, "volume": 1200.0}, decodeOutput(t, out, "out/A.json"))
}

func TestRun_FieldsSharingAnOperationCallOnce(t *testing.T) {
	c := priceVolumeContract("quotes")
	for i := range c.RequiredFields {
		c.RequiredFields[i].Operation = "quote"
		c.RequiredFields[i].Args = map[string]any{"symbol": "ACME"}
	}
	h := newHarness(t, []domain.Contract{c})

	report, err := h.executor.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"quote"}, h.fast.Calls())
	assert.Equal(t, int64(1), report.ExternalCallsMade)
	assert.Equal(t, map[string]any{"price": 101.5, "volume": 1200.0}, decodeOutput(t, h.out, "out/quotes.json"))
}

func TestRun_Idempotent(t *testing.T) {
	h := newHarness(t, []domain.Contract{priceVolumeContract("A")})
	ctx := context.Background()

	first, err := h.executor.Run(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"A"}, first.Satisfied)
	want, _ := h.out.Get("out/A.json")
	require.Len(t, h.fast.Calls(), 2)

	h.clock.Advance(10 * time.Minute)
	second, err := h.executor.Run(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, second.ExternalCallsMade)
	assert.InDelta(t, 1.0, second.CacheHitRate, 1e-9)
	got, _ := h.out.Get("out/A.json")
	assert.Equal(t, want, got)
	assert.NotEqual(t, first.RunID, second.RunID)

	// A fresh inventory still resolves from the shared cache.
	out := storage.NewMemoryWriter()
	third, err := h.newExecutor(t, storage.NewMemoryInventory(), out).Run(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, third.ExternalCallsMade)
	assert.InDelta(t, 1.0, third.CacheHitRate, 1e-9)
	got, _ = out.Get("out/A.json")
	assert.Equal(t, want, got)
	assert.Len(t, h.fast.Calls(), 2, "no further service calls")
	assert.Equal(t, int64(2), h.cache.Stats().Hits)
}

func TestRun_FailureIsolation(t *testing.T) {
	broken := priceVolumeContract("broken")
	broken.RequiredFields[0].Operation = "missing"
	h := newHarness(t, []domain.Contract{
		broken,
		priceVolumeContract("dependent", "broken"),
		priceVolumeContract("grandchild", "dependent"),
		priceVolumeContract("sibling"),
	})

	report, err := h.executor.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 4, report.ContractsTotal)
	assert.Equal(t, []string{"sibling"}, report.Satisfied)
	require.Len(t, report.ContractsFailed, 1)
	assert.Equal(t, "broken", report.ContractsFailed[0].ID)
	assert.Equal(t, dcerrors.KindNotFound, report.ContractsFailed[0].Kind)
	assert.Contains(t, report.ContractsFailed[0].Reason, "market.missing")
	assert.Equal(t, []domain.ContractSkip{
		{ID: "dependent", BlockedBy: "broken"},
		{ID: "grandchild", BlockedBy: "dependent"},
	}, report.ContractsSkipped)
	assert.True(t, report.HasFailures())

	_, wrote := h.out.Get("out/broken.json")
	assert.False(t, wrote)
	assert.Equal(t, []string{"out/sibling.json"}, h.out.Locations())

	status, ok := report.StatusOf("grandchild")
	require.True(t, ok)
	assert.Equal(t, domain.StatusSkipped, status)

	assert.Len(t, h.sink.OfType(string(domain.EventTypeContractFailed)), 1)
	assert.Len(t, h.sink.OfType(string(domain.EventTypeContractSkipped)), 2)
	assert.Len(t, h.sink.OfType(string(domain.EventTypeContractSatisfied)), 1)
	assert.Len(t, h.sink.OfType(string(domain.EventTypeRunCompleted)), 1)
}

func TestRun_DependenciesRunFirst(t *testing.T) {
	report := domain.Contract{
		ID:              "report",
		SourceHint:      "market",
		OutputLocation:  "out/report.json",
		FreshnessWindow: time.Hour,
		RequiredFields:  []domain.FieldSpec{{Name: "avg_volume", Type: domain.FieldNumber, Operation: "report"}},
		Dependencies:    []string{"volume"},
	}
	volume := domain.Contract{
		ID:              "volume",
		SourceHint:      "market",
		OutputLocation:  "out/volume.json",
		FreshnessWindow: time.Hour,
		RequiredFields:  []domain.FieldSpec{{Name: "volume", Type: domain.FieldInteger}},
	}
	h := newHarness(t, []domain.Contract{report, volume})
	require.NoError(t, h.store.DefineSet("daily", []string{"report"}))

	got, err := h.executor.RunSet(context.Background(), "daily")
	require.NoError(t, err)
	assert.Equal(t, "daily", got.ContractSet)
	assert.Equal(t, []string{"report", "volume"}, got.Satisfied)
	assert.Equal(t, []string{"volume", "report"}, h.fast.Calls())
	assert.Equal(t, map[string]any{"avg_volume": 1100.25}, decodeOutput(t, h.out, "out/report.json"))
}

func TestRun_SchemaViolationExcludesOutput(t *testing.T) {
	h := newHarness(t, []domain.Contract{priceVolumeContract("A")})
	h.fast.responses["volume"] = `"lots"`

	report, err := h.executor.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, report.ContractsFailed, 1)
	failure := report.ContractsFailed[0]
	assert.Equal(t, dcerrors.KindValidation, failure.Kind)
	require.Len(t, failure.Violations, 1)
	assert.Equal(t, "volume", failure.Violations[0].Field)
	assert.Empty(t, h.out.Locations())

	rec, err := h.inv.Load(context.Background(), "A")
	require.NoError(t, err)
	assert.Nil(t, rec, "rejected payloads are not recorded locally")
}

func TestRun_ObjectWithoutMemberIsMissing(t *testing.T) {
	c := domain.Contract{
		ID:              "depth",
		SourceHint:      "market",
		OutputLocation:  "out/depth.json",
		FreshnessWindow: time.Hour,
		RequiredFields: []domain.FieldSpec{
			{Name: "price", Type: domain.FieldNumber, Operation: "quote"},
			{Name: "book", Type: domain.FieldObject, Operation: "quote"},
		},
	}
	h := newHarness(t, []domain.Contract{c})

	report, err := h.executor.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, report.ContractsFailed, 1)
	failure := report.ContractsFailed[0]
	assert.Equal(t, dcerrors.KindValidation, failure.Kind)
	require.Len(t, failure.Violations, 1)
	assert.Equal(t, domain.Violation{Field: "book", Expected: "object", Message: "required field missing"}, failure.Violations[0])
	assert.Empty(t, h.out.Locations())
	assert.Equal(t, []string{"quote"}, h.fast.Calls())
}

func TestRun_FallbackAlone(t *testing.T) {
	reg := registry.New()
	for op, v := range map[string]any{"price": 101.5, "volume": 1200} {
		reg.MustRegister(domain.OperationMetadata{
			Name:                 "market." + op,
			SupportedOutputTypes: []string{registry.ContentTypeJSON},
		}, registry.HandlerFunc(func(context.Context, map[string]any) (registry.Output, error) {
			return registry.JSONOutput(v)
		}))
	}
	desc := marketDescriptor()
	desc.Fallback = "market.{operation}"

	h := newHarness(t, []domain.Contract{priceVolumeContract("A")}, func(c *harnessConfig) {
		c.desc = desc
		c.fallback = service.NewRegistryInvoker(reg)
	})
	h.fast.probeErr = &dcerrors.NotFoundError{What: "executable", Name: "market-cli"}

	report, err := h.executor.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, report.Satisfied)
	assert.Empty(t, h.fast.Calls())
	assert.Equal(t, int64(2), report.ExternalCallsMade)
	assert.Equal(t, map[string]any{"price": 101.5, "volume": 1200.0}, decodeOutput(t, h.out, "out/A.json"))

	satisfied := h.sink.OfType(string(domain.EventTypeContractSatisfied))
	require.Len(t, satisfied, 1)
	var payload domain.ContractSatisfiedPayload
	require.NoError(t, json.Unmarshal(satisfied[0].Payload, &payload))
	assert.Equal(t, map[string]string{"price": domain.SourceFallback, "volume": domain.SourceFallback}, payload.Sources)
}

func TestRun_RunBudgetExhausted(t *testing.T) {
	budget := domain.DefaultResourceBudget()
	budget.MaxExternalCallsPerRun = 1
	h := newHarness(t, []domain.Contract{priceVolumeContract("A")}, func(c *harnessConfig) { c.budget = budget })

	report, err := h.executor.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"price"}, h.fast.Calls(), "rejections never reach the service")
	require.Len(t, report.ContractsFailed, 1)
	assert.Equal(t, dcerrors.KindResourceExhausted, report.ContractsFailed[0].Kind)
	assert.Equal(t, int64(3), h.gov.Snapshot().Rejections["run_budget"], "retried up to the attempt bound")

	// The next run starts from a fresh budget and the price fetched by the
	// failed run is still cached.
	h.fast.responses["volume"] = `1300`
	report, err = h.executor.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, report.Satisfied)
	assert.Equal(t, int64(1), report.ExternalCallsMade)
	assert.Equal(t, []string{"price", "volume"}, h.fast.Calls())
	assert.Equal(t, map[string]any{"price": 101.5, "volume": 1300.0}, decodeOutput(t, h.out, "out/A.json"))
}

func TestRun_MemoryCeilingIsNotRetried(t *testing.T) {
	h := newHarness(t, []domain.Contract{priceVolumeContract("A")}, func(c *harnessConfig) {
		c.sampler = governor.StaticSampler(4 << 30)
	})

	report, err := h.executor.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, report.ContractsFailed, 1)
	assert.Equal(t, dcerrors.KindResourceExhausted, report.ContractsFailed[0].Kind)
	assert.Empty(t, h.fast.Calls())
	assert.Equal(t, int64(1), h.gov.Snapshot().Rejections["memory"])
}

// flakyCaller rejects the first calls with a concurrency rejection.
type flakyCaller struct {
	rejections int32
	calls      atomic.Int32
}

func (f *flakyCaller) ExecuteFresh(_ context.Context, _, operation string, _ map[string]any, _ time.Duration) domain.ExecutionResult {
	if f.calls.Add(1) <= f.rejections {
		err := &dcerrors.ResourceExhaustedError{Reason: dcerrors.ReasonConcurrency, Service: "market", Limit: 1, Current: 1}
		return domain.Failed(operation, err, 0, nil)
	}
	return domain.Succeeded(operation, []byte(`7`), service.ContentTypeJSON, 0,
		map[string]any{"source": domain.SourceFastPath})
}

func TestRun_RetriesConcurrencyRejections(t *testing.T) {
	c := domain.Contract{
		ID:             "count",
		SourceHint:     "market",
		OutputLocation: "out/count.json",
		RequiredFields: []domain.FieldSpec{{Name: "count", Type: domain.FieldInteger}},
	}
	h := newHarness(t, []domain.Contract{c})
	caller := &flakyCaller{rejections: 2}
	e, err := executor.New(h.store, caller, h.gov, h.inv, h.out,
		executor.WithClock(h.clock.Now), executor.WithRejectionRetry(fastRetry()))
	require.NoError(t, err)

	report, err := e.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"count"}, report.Satisfied)
	assert.Equal(t, int32(3), caller.calls.Load())

	caller = &flakyCaller{rejections: 5}
	e, err = executor.New(h.store, caller, h.gov, h.inv, h.out,
		executor.WithClock(h.clock.Now), executor.WithRejectionRetry(fastRetry()))
	require.NoError(t, err)
	report, err = e.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, report.ContractsFailed, 1)
	assert.Equal(t, dcerrors.KindResourceExhausted, report.ContractsFailed[0].Kind)
	assert.Equal(t, int32(3), caller.calls.Load())
}

func TestRun_Cancelled(t *testing.T) {
	h := newHarness(t, []domain.Contract{
		priceVolumeContract("A"),
		priceVolumeContract("B"),
		priceVolumeContract("C", "A"),
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.executor.Run(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, h.fast.Calls())
	require.Len(t, report.ContractsFailed, 2)
	for _, f := range report.ContractsFailed {
		assert.Equal(t, dcerrors.KindCancelled, f.Kind, f.ID)
	}
	assert.Equal(t, []domain.ContractSkip{{ID: "C", BlockedBy: "A"}}, report.ContractsSkipped)
}

func TestRun_Errors(t *testing.T) {
	h := newHarness(t, []domain.Contract{priceVolumeContract("A")})

	_, err := h.executor.Run(context.Background(), []string{"ghost"})
	var unk *dcerrors.UnknownContractError
	assert.ErrorAs(t, err, &unk)

	_, err = h.executor.RunSet(context.Background(), "weekly")
	assert.ErrorIs(t, err, dcerrors.ErrNotFound)

	_, err = executor.New(h.store, nil, h.gov, h.inv, h.out)
	assert.Error(t, err)

	_, err = executor.New(h.store, h.wrapper, h.gov, h.inv, h.out,
		executor.WithRejectionRetry(retry.Config{}))
	assert.Error(t, err)
}

func TestRun_EventsAreIdempotent(t *testing.T) {
	h := newHarness(t, []domain.Contract{priceVolumeContract("A")})
	report, err := h.executor.Run(context.Background(), nil)
	require.NoError(t, err)

	evs := h.sink.OfType(string(domain.EventTypeContractSatisfied))
	require.Len(t, evs, 1)
	assert.Equal(t, report.RunID, evs[0].RunID)
	assert.Equal(t, domain.GenerateIdempotencyKey(report.RunID, domain.EventTypeContractSatisfied, "A"), evs[0].IdempotencyKey)

	require.NoError(t, h.sink.Append(context.Background(), evs[0]))
	assert.Len(t, h.sink.OfType(string(domain.EventTypeContractSatisfied)), 1)

	completed := h.sink.OfType(string(domain.EventTypeRunCompleted))
	require.Len(t, completed, 1)
	var got domain.RunReport
	require.NoError(t, json.Unmarshal(completed[0].Payload, &got))
	assert.Equal(t, report.Satisfied, got.Satisfied)
}

func TestRun_CircuitOpenFailsFast(t *testing.T) {
	h := newHarness(t, []domain.Contract{priceVolumeContract("A")})
	h.fast.failures["price"] = errors.New("upstream exploded")

	for range 5 {
		report, err := h.executor.Run(context.Background(), nil)
		require.NoError(t, err)
		require.Len(t, report.ContractsFailed, 1)
	}
	health, err := h.wrapper.Health("market")
	require.NoError(t, err)
	assert.Equal(t, domain.HealthUnavailable, health.State)

	before := len(h.fast.Calls())
	report, err := h.executor.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, report.ContractsFailed, 1)
	assert.Equal(t, dcerrors.KindCircuitOpen, report.ContractsFailed[0].Kind)
	assert.Len(t, h.fast.Calls(), before, "open circuit never invokes the service")
	assert.Empty(t, h.gov.Snapshot().CallsGranted)
}
