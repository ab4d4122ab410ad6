package domain

import (
	"fmt"
	"time"
)

// FieldType is the declared type of a contract field.
type FieldType string

const (
	FieldString    FieldType = "string"
	FieldNumber    FieldType = "number"
	FieldInteger   FieldType = "integer"
	FieldBoolean   FieldType = "boolean"
	FieldList      FieldType = "list"
	FieldObject    FieldType = "object"
	FieldTimestamp FieldType = "timestamp"
)

// FieldSpec describes one required field of a contract and where it comes from.
// Fields sharing the same service, operation and args are filled by a single call.
type FieldSpec struct {
	// Name is the key of the field in the output payload.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Type is the declared JSON type of the field value.
	Type FieldType `json:"type" yaml:"type" validate:"required,oneof=string number integer boolean list object timestamp"`

	// Service overrides the contract's SourceHint for this field.
	Service string `json:"service,omitempty" yaml:"service,omitempty"`

	// Operation names the service operation producing this field.
	// Defaults to the field name.
	Operation string `json:"operation,omitempty" yaml:"operation,omitempty"`

	// Args are passed verbatim to the operation.
	Args map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
}

// Contract identifies a desired output: which fields are required, where they
// are preferably sourced from, and how fresh they must be.
// Contracts are created at configuration load and are immutable during a run.
type Contract struct {
	// ID uniquely identifies the contract within a contract store.
	ID string `json:"id" yaml:"id" validate:"required"`

	// SourceHint names the preferred service for fields that do not override it.
	SourceHint string `json:"source_hint" yaml:"source_hint" validate:"required"`

	// OutputLocation is where the validated payload is written.
	OutputLocation string `json:"output_location" yaml:"output_location" validate:"required"`

	// RequiredFields is the ordered set of fields the payload must carry.
	RequiredFields []FieldSpec `json:"required_fields" yaml:"required_fields" validate:"required,min=1,dive"`

	// FreshnessWindow bounds how old locally held field values may be.
	// Zero means local values are never considered fresh.
	FreshnessWindow time.Duration `json:"freshness_window" yaml:"freshness_window" validate:"gte=0"`

	// Dependencies lists contract ids that must resolve before this one starts.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty" validate:"dive,required"`
}

// Validate checks struct constraints and that field names and dependencies
// are unique and the contract does not depend on itself.
func (c *Contract) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidContract, c.ID, err)
	}

	seen := make(map[string]struct{}, len(c.RequiredFields))
	for _, f := range c.RequiredFields {
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("%w: %s: duplicate field %q", ErrInvalidContract, c.ID, f.Name)
		}
		seen[f.Name] = struct{}{}
	}

	deps := make(map[string]struct{}, len(c.Dependencies))
	for _, d := range c.Dependencies {
		if d == c.ID {
			return fmt.Errorf("%w: %s: contract depends on itself", ErrInvalidContract, c.ID)
		}
		if _, dup := deps[d]; dup {
			return fmt.Errorf("%w: %s: duplicate dependency %q", ErrInvalidContract, c.ID, d)
		}
		deps[d] = struct{}{}
	}
	return nil
}

// ServiceFor returns the service that produces the given field.
func (c *Contract) ServiceFor(f FieldSpec) string {
	if f.Service != "" {
		return f.Service
	}
	return c.SourceHint
}

// OperationFor returns the operation that produces the given field.
func (c *Contract) OperationFor(f FieldSpec) string {
	if f.Operation != "" {
		return f.Operation
	}
	return f.Name
}

// FieldNames returns the required field names in declaration order.
func (c *Contract) FieldNames() []string {
	names := make([]string, len(c.RequiredFields))
	for i, f := range c.RequiredFields {
		names[i] = f.Name
	}
	return names
}
