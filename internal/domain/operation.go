package domain

import (
	"fmt"
	"slices"
)

// ParamKind tags the variant of a ParamType.
type ParamKind uint8

const (
	// ParamKindAny accepts any value, including nil.
	ParamKindAny ParamKind = iota
	ParamKindString
	ParamKindInt
	ParamKindNumber
	ParamKindBool
	ParamKindDuration
	ParamKindList
	ParamKindMap
)

// ParamType is a tagged variant describing the accepted type of an operation
// parameter. Container kinds carry an element type.
type ParamType struct {
	Kind ParamKind  `json:"kind"`
	Elem *ParamType `json:"elem,omitempty"`
}

func AnyParam() ParamType      { return ParamType{Kind: ParamKindAny} }
func StringParam() ParamType   { return ParamType{Kind: ParamKindString} }
func IntParam() ParamType      { return ParamType{Kind: ParamKindInt} }
func NumberParam() ParamType   { return ParamType{Kind: ParamKindNumber} }
func BoolParam() ParamType     { return ParamType{Kind: ParamKindBool} }
func DurationParam() ParamType { return ParamType{Kind: ParamKindDuration} }

// ListParam returns a list type whose elements must match elem.
func ListParam(elem ParamType) ParamType { return ParamType{Kind: ParamKindList, Elem: &elem} }

// MapParam returns a string-keyed map type whose values must match elem.
func MapParam(elem ParamType) ParamType { return ParamType{Kind: ParamKindMap, Elem: &elem} }

// String renders the type, e.g. "list<string>" or "map<number>".
func (p ParamType) String() string {
	switch p.Kind {
	case ParamKindAny:
		return "any"
	case ParamKindString:
		return "string"
	case ParamKindInt:
		return "int"
	case ParamKindNumber:
		return "number"
	case ParamKindBool:
		return "bool"
	case ParamKindDuration:
		return "duration"
	case ParamKindList:
		return "list<" + p.elem().String() + ">"
	case ParamKindMap:
		return "map<" + p.elem().String() + ">"
	default:
		return fmt.Sprintf("unknown(%d)", p.Kind)
	}
}

func (p ParamType) elem() ParamType {
	if p.Elem == nil {
		return AnyParam()
	}
	return *p.Elem
}

// ElemType returns the element type of a container, or AnyParam when unset.
func (p ParamType) ElemType() ParamType { return p.elem() }

// OperationMetadata is the static, read-only description of a registered
// operation's parameter contract.
type OperationMetadata struct {
	Name                 string               `json:"name" validate:"required"`
	Description          string               `json:"description,omitempty"`
	RequiredParameters   []string             `json:"required_parameters,omitempty"`
	OptionalParameters   []string             `json:"optional_parameters,omitempty"`
	ParameterTypes       map[string]ParamType `json:"parameter_types,omitempty"`
	SupportedOutputTypes []string             `json:"supported_output_types,omitempty"`
	RequiresValidation   bool                 `json:"requires_validation"`
}

// Validate checks that every declared parameter has a type and that no
// parameter is both required and optional.
func (m *OperationMetadata) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOperationMetadata, err)
	}
	for _, p := range m.RequiredParameters {
		if slices.Contains(m.OptionalParameters, p) {
			return fmt.Errorf("%w: %s: parameter %q is both required and optional", ErrInvalidOperationMetadata, m.Name, p)
		}
	}
	for _, p := range slices.Concat(m.RequiredParameters, m.OptionalParameters) {
		if _, ok := m.ParameterTypes[p]; !ok {
			return fmt.Errorf("%w: %s: parameter %q has no declared type", ErrInvalidOperationMetadata, m.Name, p)
		}
	}
	for p := range m.ParameterTypes {
		if !m.Declares(p) {
			return fmt.Errorf("%w: %s: typed parameter %q is neither required nor optional", ErrInvalidOperationMetadata, m.Name, p)
		}
	}
	return nil
}

// Declares reports whether name is a required or optional parameter.
func (m *OperationMetadata) Declares(name string) bool {
	return slices.Contains(m.RequiredParameters, name) || slices.Contains(m.OptionalParameters, name)
}
