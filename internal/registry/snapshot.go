package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"github.com/ahrav/go-contracts/internal/domain"
	dcerrors "github.com/ahrav/go-contracts/internal/errors"
)

// SnapshotOperation describes a fallback operation served from a local
// JSON snapshot at <root>/<Service>/<Operation>.json.
type SnapshotOperation struct {
	// Name is the registry name the fallback template resolves to.
	Name      string
	Service   string
	Operation string
	// Params are the argument names callers may pass; all are optional.
	Params []string
}

// SnapshotHandler serves a previously captured payload for one operation.
type SnapshotHandler struct {
	path string
}

// NewSnapshotHandler returns a handler reading root/service/operation.json.
func NewSnapshotHandler(root, service, operation string) *SnapshotHandler {
	return &SnapshotHandler{path: filepath.Join(root, service, operation+".json")}
}

// Execute implements Handler. A missing snapshot is not_found; a snapshot
// that is not valid JSON is a validation failure.
func (h *SnapshotHandler) Execute(ctx context.Context, _ map[string]any) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	b, err := os.ReadFile(h.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Output{}, &dcerrors.NotFoundError{What: "snapshot", Name: h.path}
		}
		return Output{}, fmt.Errorf("read snapshot %s: %w", h.path, err)
	}
	if !json.Valid(b) {
		return Output{}, &dcerrors.ValidationError{Field: "snapshot", Value: h.path, Message: "snapshot is not valid JSON"}
	}
	return Output{Content: b, ContentType: ContentTypeJSON}, nil
}

// RegisterSnapshots registers a SnapshotHandler for each operation not
// already present. Operations sharing a name merge their parameters.
// It returns the names registered.
func (r *Registry) RegisterSnapshots(root string, ops []SnapshotOperation) ([]string, error) {
	merged := make(map[string]SnapshotOperation, len(ops))
	for _, op := range ops {
		prev, ok := merged[op.Name]
		if !ok {
			merged[op.Name] = op
			continue
		}
		prev.Params = append(prev.Params, op.Params...)
		merged[op.Name] = prev
	}

	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	var registered []string
	for _, name := range names {
		if r.Has(name) {
			continue
		}
		op := merged[name]
		params := slices.Compact(slices.Sorted(slices.Values(op.Params)))
		types := make(map[string]domain.ParamType, len(params))
		for _, p := range params {
			types[p] = domain.AnyParam()
		}
		meta := domain.OperationMetadata{
			Name:                 name,
			Description:          fmt.Sprintf("local snapshot of %s.%s", op.Service, op.Operation),
			OptionalParameters:   params,
			ParameterTypes:       types,
			SupportedOutputTypes: []string{ContentTypeJSON},
		}
		if err := r.Register(meta, NewSnapshotHandler(root, op.Service, op.Operation)); err != nil {
			return registered, err
		}
		registered = append(registered, name)
	}
	return registered, nil
}
