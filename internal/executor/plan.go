package executor

import (
	"encoding/json"
	"maps"
	"time"

	"github.com/ahrav/go-contracts/internal/cache"
	"github.com/ahrav/go-contracts/internal/domain"
	dcerrors "github.com/ahrav/go-contracts/internal/errors"
)

// gap is one operation call that fills one or more missing fields.
type gap struct {
	key       cache.Key
	service   string
	operation string
	args      map[string]any
	fields    []domain.FieldSpec
}

// plan is the local-first resolution of one contract.
type plan struct {
	local map[string]any
	gaps  []*gap
}

// planContract splits c's required fields into values served by fresh
// inventory and the minimal set of operations for the rest. Fields sharing
// a service, operation and args collapse into a single gap, ordered by the
// first field that needs it.
func planContract(c domain.Contract, rec *domain.InventoryRecord, now time.Time) (*plan, error) {
	p := &plan{local: make(map[string]any, len(c.RequiredFields))}
	byKey := make(map[string]*gap)

	for _, f := range c.RequiredFields {
		if rec.IsFresh(f.Name, c.FreshnessWindow, now) {
			var v any
			if err := json.Unmarshal(rec.Fields[f.Name].Value, &v); err == nil {
				p.local[f.Name] = v
				continue
			}
		}

		svc, op := c.ServiceFor(f), c.OperationFor(f)
		key, err := cache.DeriveKey(svc, op, f.Args)
		if err != nil {
			return nil, &dcerrors.ValidationError{Field: f.Name, Value: f.Args, Message: err.Error()}
		}
		g, ok := byKey[key.ID]
		if !ok {
			g = &gap{key: key, service: svc, operation: op, args: maps.Clone(f.Args)}
			byKey[key.ID] = g
			p.gaps = append(p.gaps, g)
		}
		g.fields = append(g.fields, f)
	}
	return p, nil
}

// extractField pulls a field out of an operation's content. A JSON object
// yields the member named after the field and reports it absent when there
// is none. Any other JSON value is the field value itself, and non-JSON
// content is kept as a string.
func extractField(content []byte, name string) (any, bool) {
	var decoded any
	if err := json.Unmarshal(content, &decoded); err != nil {
		return string(content), true
	}
	if obj, ok := decoded.(map[string]any); ok {
		v, ok := obj[name]
		return v, ok
	}
	return decoded, true
}
