package registry

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"time"

	"github.com/ahrav/go-contracts/internal/domain"
	dcerrors "github.com/ahrav/go-contracts/internal/errors"
)

// checkParameters enforces meta's parameter contract: every required
// parameter present, nothing undeclared, every value of its declared type.
// Parameters are visited in name order so the reported violation is stable.
func checkParameters(meta domain.OperationMetadata, params map[string]any) error {
	for _, name := range meta.RequiredParameters {
		if _, ok := params[name]; !ok {
			return &dcerrors.ParameterValidationError{
				Operation: meta.Name,
				Parameter: name,
				Message:   "required parameter missing",
			}
		}
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !meta.Declares(name) {
			return &dcerrors.ParameterValidationError{
				Operation: meta.Name,
				Parameter: name,
				Message:   "parameter not declared by operation",
			}
		}
		want := meta.ParameterTypes[name]
		if path, got, ok := matches(params[name], want, ""); !ok {
			return &dcerrors.ParameterValidationError{
				Operation: meta.Name,
				Parameter: name + path,
				Expected:  want.String(),
				Got:       got,
				Message:   "type mismatch",
			}
		}
	}
	return nil
}

// matches reports whether v conforms to t. On mismatch it returns the path
// to the offending element (e.g. "[2]" or ".close") and a description of
// what was found there.
func matches(v any, t domain.ParamType, path string) (string, string, bool) {
	switch t.Kind {
	case domain.ParamKindAny:
		return "", "", true
	case domain.ParamKindString:
		if _, ok := v.(string); ok {
			return "", "", true
		}
	case domain.ParamKindBool:
		if _, ok := v.(bool); ok {
			return "", "", true
		}
	case domain.ParamKindInt:
		if isInteger(v) {
			return "", "", true
		}
	case domain.ParamKindNumber:
		if isNumber(v) {
			return "", "", true
		}
	case domain.ParamKindDuration:
		if isDuration(v) {
			return "", "", true
		}
	case domain.ParamKindList:
		rv := reflect.ValueOf(v)
		if v == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
			break
		}
		if _, isBytes := v.([]byte); isBytes {
			break
		}
		elem := t.ElemType()
		for i := range rv.Len() {
			p := fmt.Sprintf("%s[%d]", path, i)
			if subPath, got, ok := matches(rv.Index(i).Interface(), elem, p); !ok {
				return subPath, got, false
			}
		}
		return "", "", true
	case domain.ParamKindMap:
		rv := reflect.ValueOf(v)
		if v == nil || rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
			break
		}
		elem := t.ElemType()
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		for _, k := range keys {
			p := path + "." + k.String()
			if subPath, got, ok := matches(rv.MapIndex(k).Interface(), elem, p); !ok {
				return subPath, got, false
			}
		}
		return "", "", true
	}
	return path, describe(v), false
}

func describe(v any) string {
	if v == nil {
		return "null"
	}
	switch v.(type) {
	case json.Number:
		return "number"
	case time.Duration:
		return "duration"
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "bool"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "int"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "list"
	case reflect.Map:
		return "map"
	default:
		return reflect.TypeOf(v).String()
	}
}

// isInteger accepts Go integer kinds plus integral floats and json.Number,
// since parameters decoded from JSON or YAML arrive in those forms.
func isInteger(v any) bool {
	switch n := v.(type) {
	case json.Number:
		_, err := n.Int64()
		return err == nil
	case time.Duration:
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		return !math.IsInf(f, 0) && f == math.Trunc(f)
	default:
		return false
	}
}

func isNumber(v any) bool {
	switch n := v.(type) {
	case json.Number:
		_, err := n.Float64()
		return err == nil
	case time.Duration:
		return false
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

func isDuration(v any) bool {
	switch d := v.(type) {
	case time.Duration:
		return true
	case string:
		_, err := time.ParseDuration(d)
		return err == nil
	default:
		return false
	}
}
