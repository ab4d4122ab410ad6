package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParamTypeString(t *testing.T) {
	tests := []struct {
		p    ParamType
		want string
	}{
		{p: AnyParam(), want: "any"},
		{p: StringParam(), want: "string"},
		{p: IntParam(), want: "int"},
		{p: NumberParam(), want: "number"},
		{p: BoolParam(), want: "bool"},
		{p: DurationParam(), want: "duration"},
		{p: ListParam(StringParam()), want: "list<string>"},
		{p: MapParam(ListParam(NumberParam())), want: "map<list<number>>"},
		{p: ParamType{Kind: ParamKindList}, want: "list<any>"},
		{p: ParamType{Kind: ParamKind(99)}, want: "unknown(99)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.p.String())
		})
	}
}

func TestOperationMetadataValidate(t *testing.T) {
	tests := []struct {
		name    string
		meta    OperationMetadata
		wantErr bool
	}{
		{
			name: "valid",
			meta: OperationMetadata{
				Name:               "market.price",
				RequiredParameters: []string{"symbol"},
				OptionalParameters: []string{"currency"},
				ParameterTypes:     map[string]ParamType{"symbol": StringParam(), "currency": StringParam()},
			},
		},
		{name: "no parameters", meta: OperationMetadata{Name: "market.ping"}},
		{name: "missing name", meta: OperationMetadata{}, wantErr: true},
		{
			name: "required and optional",
			meta: OperationMetadata{
				Name:               "op",
				RequiredParameters: []string{"x"},
				OptionalParameters: []string{"x"},
				ParameterTypes:     map[string]ParamType{"x": IntParam()},
			},
			wantErr: true,
		},
		{
			name:    "untyped parameter",
			meta:    OperationMetadata{Name: "op", RequiredParameters: []string{"x"}},
			wantErr: true,
		},
		{
			name:    "typed but undeclared",
			meta:    OperationMetadata{Name: "op", ParameterTypes: map[string]ParamType{"x": IntParam()}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.meta.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidOperationMetadata)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestGenerateIdempotencyKey(t *testing.T) {
	a := GenerateIdempotencyKey("run-1", EventTypeContractSatisfied, "quotes")
	b := GenerateIdempotencyKey("run-1", EventTypeContractSatisfied, "quotes")
	c := GenerateIdempotencyKey("run-1", EventTypeContractFailed, "quotes")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
