package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ahrav/go-contracts/internal/domain"
	dcerrors "github.com/ahrav/go-contracts/internal/errors"
)

// jsonSchemaType maps a contract field type onto a JSON Schema fragment.
func jsonSchemaType(t domain.FieldType) map[string]any {
	switch t {
	case domain.FieldString:
		return map[string]any{"type": "string"}
	case domain.FieldNumber:
		return map[string]any{"type": "number"}
	case domain.FieldInteger:
		return map[string]any{"type": "integer"}
	case domain.FieldBoolean:
		return map[string]any{"type": "boolean"}
	case domain.FieldList:
		return map[string]any{"type": "array"}
	case domain.FieldObject:
		return map[string]any{"type": "object"}
	case domain.FieldTimestamp:
		return map[string]any{"type": "string", "format": "date-time"}
	default:
		return map[string]any{}
	}
}

// SchemaDocument returns the JSON Schema (draft 2020-12) a contract's
// payload must satisfy.
func SchemaDocument(c domain.Contract) map[string]any {
	props := make(map[string]any, len(c.RequiredFields))
	required := make([]string, 0, len(c.RequiredFields))
	for _, f := range c.RequiredFields {
		props[f.Name] = jsonSchemaType(f.Type)
		required = append(required, f.Name)
	}
	return map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"title":      c.ID,
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func compileContract(c domain.Contract) (*jsonschema.Schema, error) {
	doc, err := json.Marshal(SchemaDocument(c))
	if err != nil {
		return nil, err
	}
	url := "contract://" + c.ID + ".json"
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	compiler.AssertFormat = true
	if err := compiler.AddResource(url, bytes.NewReader(doc)); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

// Validate checks payload against the contract's schema and returns every
// violation found; an empty result means the payload is valid. Data-shape
// problems never produce an error. An unregistered contractID yields
// *errors.UnknownContractError.
func (s *Store) Validate(contractID string, payload map[string]any) ([]domain.Violation, error) {
	s.mu.RLock()
	e, ok := s.contracts[contractID]
	s.mu.RUnlock()
	if !ok {
		return nil, &dcerrors.UnknownContractError{ID: contractID}
	}

	types := make(map[string]domain.FieldType, len(e.contract.RequiredFields))
	var violations []domain.Violation
	for _, f := range e.contract.RequiredFields {
		types[f.Name] = f.Type
		if _, present := payload[f.Name]; !present {
			violations = append(violations, domain.Violation{
				Field:    f.Name,
				Expected: string(f.Type),
				Message:  "required field missing",
			})
		}
	}

	instance, err := toInstance(payload)
	if err != nil {
		return append(violations, domain.Violation{Message: fmt.Sprintf("payload is not JSON encodable: %v", err)}), nil
	}

	err = e.schema.Validate(instance)
	var ve *jsonschema.ValidationError
	if errors.As(err, &ve) {
		for _, leaf := range leaves(ve) {
			if strings.HasSuffix(leaf.KeywordLocation, "/required") {
				continue // reported above, one violation per field
			}
			field := fieldOf(leaf.InstanceLocation)
			violations = append(violations, domain.Violation{
				Field:    field,
				Expected: string(types[topLevel(field)]),
				Message:  leaf.Message,
			})
		}
	} else if err != nil {
		violations = append(violations, domain.Violation{Message: err.Error()})
	}

	sort.SliceStable(violations, func(i, j int) bool { return violations[i].Field < violations[j].Field })
	return violations, nil
}

// toInstance round-trips payload through JSON so the validator sees the
// same value shapes a reader of the output file would.
func toInstance(payload map[string]any) (any, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	d := json.NewDecoder(bytes.NewReader(raw))
	d.UseNumber()
	var v any
	if err := d.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func leaves(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var out []*jsonschema.ValidationError
	for _, c := range ve.Causes {
		out = append(out, leaves(c)...)
	}
	return out
}

// fieldOf converts a JSON pointer instance location into a dotted path.
func fieldOf(loc string) string {
	loc = strings.TrimPrefix(loc, "/")
	if loc == "" {
		return ""
	}
	parts := strings.Split(loc, "/")
	for i, p := range parts {
		parts[i] = strings.NewReplacer("~1", "/", "~0", "~").Replace(p)
	}
	return strings.Join(parts, ".")
}

func topLevel(field string) string {
	name, _, _ := strings.Cut(field, ".")
	return name
}
