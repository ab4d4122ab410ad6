// Package registry holds locally implemented operations behind declared,
// typed parameter contracts. Parameters are checked against the contract
// before a handler runs, and every handler outcome, including a panic, is
// reported as an ExecutionResult.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ahrav/go-contracts/internal/domain"
	dcerrors "github.com/ahrav/go-contracts/internal/errors"
)

// ErrDuplicateOperation is returned when an operation name is registered twice.
var ErrDuplicateOperation = errors.New("operation already registered")

// ContentTypeJSON is the content type produced by JSONOutput.
const ContentTypeJSON = "application/json"

// Output is what a handler produces on success.
type Output struct {
	Content     []byte
	ContentType string
}

// JSONOutput marshals v into a JSON Output.
func JSONOutput(v any) (Output, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Output{}, fmt.Errorf("marshal output: %w", err)
	}
	return Output{Content: b, ContentType: ContentTypeJSON}, nil
}

// Handler implements one operation.
type Handler interface {
	Execute(ctx context.Context, params map[string]any) (Output, error)
}

// InputValidator is implemented by handlers that check their inputs beyond
// the declared parameter types. It runs before Execute when the operation's
// metadata sets RequiresValidation.
type InputValidator interface {
	ValidateInputs(params map[string]any) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, params map[string]any) (Output, error)

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, params map[string]any) (Output, error) {
	return f(ctx, params)
}

type entry struct {
	meta    domain.OperationMetadata
	handler Handler
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l.With("component", "registry") }
}

// Registry maps operation names to handlers. Construct one at startup and
// pass it to whatever invokes operations.
type Registry struct {
	mu     sync.RWMutex
	ops    map[string]entry
	logger *slog.Logger
}

// New returns an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		ops:    make(map[string]entry),
		logger: slog.Default().With("component", "registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an operation. The metadata must be valid and the name unused.
func (r *Registry) Register(meta domain.OperationMetadata, h Handler) error {
	if h == nil {
		return fmt.Errorf("register %s: nil handler", meta.Name)
	}
	if err := meta.Validate(); err != nil {
		return fmt.Errorf("register %s: %w", meta.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ops[meta.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateOperation, meta.Name)
	}
	r.ops[meta.Name] = entry{meta: meta, handler: h}
	r.logger.Debug("operation registered", "operation", meta.Name)
	return nil
}

// MustRegister is Register for wiring code that cannot continue on failure.
func (r *Registry) MustRegister(meta domain.OperationMetadata, h Handler) {
	if err := r.Register(meta, h); err != nil {
		panic(err)
	}
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ops[name]
	return ok
}

// Metadata returns the declared contract of name.
func (r *Registry) Metadata(name string) (domain.OperationMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.ops[name]
	return e.meta, ok
}

// List returns every registered operation's metadata ordered by name.
func (r *Registry) List() []domain.OperationMetadata {
	r.mu.RLock()
	out := make([]domain.OperationMetadata, 0, len(r.ops))
	for _, e := range r.ops {
		out = append(out, e.meta)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs name with params. It never returns an error or panics:
// unknown operations, parameter violations, handler errors and handler
// panics all become failed results with a typed kind.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (result domain.ExecutionResult) {
	start := time.Now()
	errCtx := map[string]any{"operation": name, "parameters": params}

	r.mu.RLock()
	e, ok := r.ops[name]
	r.mu.RUnlock()
	if !ok {
		return domain.Failed(name, &dcerrors.NotFoundError{What: "operation", Name: name}, time.Since(start), errCtx)
	}

	if err := checkParameters(e.meta, params); err != nil {
		return domain.Failed(name, err, time.Since(start), errCtx)
	}

	if e.meta.RequiresValidation {
		if v, ok := e.handler.(InputValidator); ok {
			if err := v.ValidateInputs(params); err != nil {
				return domain.Failed(name, asValidation(err), time.Since(start), errCtx)
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return domain.Failed(name, err, time.Since(start), errCtx)
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.ErrorContext(ctx, "operation handler panicked", "operation", name, "panic", p)
			opErr := dcerrors.New(dcerrors.KindExecution, "HANDLER_PANIC", fmt.Sprintf("handler panicked: %v", p))
			result = domain.Failed(name, opErr, time.Since(start), errCtx)
		}
	}()

	out, err := e.handler.Execute(ctx, params)
	if err != nil {
		r.logger.DebugContext(ctx, "operation failed", "operation", name, "error", err)
		return domain.Failed(name, err, time.Since(start), errCtx)
	}

	if len(e.meta.SupportedOutputTypes) > 0 && !slices.Contains(e.meta.SupportedOutputTypes, out.ContentType) {
		err := &dcerrors.ValidationError{
			Field:   "content_type",
			Value:   out.ContentType,
			Message: fmt.Sprintf("operation declares output types %v", e.meta.SupportedOutputTypes),
		}
		return domain.Failed(name, err, time.Since(start), errCtx)
	}

	return domain.Succeeded(name, out.Content, out.ContentType, time.Since(start),
		map[string]any{"source": domain.SourceRegistry})
}

// asValidation keeps typed validation errors and wraps anything else so a
// rejected input is always reported as a validation failure.
func asValidation(err error) error {
	var ve *dcerrors.ValidationError
	var pe *dcerrors.ParameterValidationError
	if errors.As(err, &ve) || errors.As(err, &pe) {
		return err
	}
	return &dcerrors.ValidationError{Message: err.Error()}
}
