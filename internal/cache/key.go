package cache

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"
)

// keyPrefix scopes every cache key so stores shared with other data
// (a Badger inventory, a Redis database) can be scanned safely.
const keyPrefix = "dc:"

// Key identifies a cache entry. ID is the store key; Namespace is
// "service:operation" and is what invalidation patterns match against.
type Key struct {
	ID        string
	Namespace string
}

// String returns the store key.
func (k Key) String() string { return k.ID }

// DeriveKey computes the cache key for a logical request. It is the only key
// derivation in the system: the cache layer and the execution wrapper both
// call it, so identical requests always address the same entry.
//
// The key is "dc:{service}:{operation}:{hex(sha256(service_operation_args))}"
// where args are canonicalized: map keys sorted recursively and numbers of
// equal value rendered identically regardless of their Go type.
func DeriveKey(service, operation string, args map[string]any) (Key, error) {
	if service == "" {
		return Key{}, fmt.Errorf("derive cache key: service is required")
	}
	if operation == "" {
		return Key{}, fmt.Errorf("derive cache key: operation is required")
	}

	canon, err := Canonicalize(args)
	if err != nil {
		return Key{}, fmt.Errorf("derive cache key for %s.%s: %w", service, operation, err)
	}

	sum := sha256.Sum256([]byte(service + "_" + operation + "_" + canon))
	ns := Namespace(service, operation)
	return Key{ID: keyPrefix + ns + ":" + hex.EncodeToString(sum[:]), Namespace: ns}, nil
}

// Namespace returns the invalidation namespace for a service operation.
func Namespace(service, operation string) string {
	return service + ":" + operation
}

// namespaceOf recovers the namespace from a store key. The hash suffix never
// contains a colon, so the last colon always separates namespace and hash.
func namespaceOf(id string) (string, bool) {
	rest, ok := strings.CutPrefix(id, keyPrefix)
	if !ok {
		return "", false
	}
	i := strings.LastIndexByte(rest, ':')
	if i <= 0 {
		return "", false
	}
	return rest[:i], true
}

// Canonicalize renders v as a stable, order-independent string. A nil map and
// an empty map render the same.
func Canonicalize(v any) (string, error) {
	var b strings.Builder
	if err := writeCanonical(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}

func writeCanonical(b *strings.Builder, v any) error {
	switch x := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		b.WriteString(strconv.FormatBool(x))
	case string:
		b.WriteString(strconv.Quote(x))
	case json.Number:
		return writeJSONNumber(b, x)
	case int:
		b.WriteString(strconv.FormatInt(int64(x), 10))
	case int8:
		b.WriteString(strconv.FormatInt(int64(x), 10))
	case int16:
		b.WriteString(strconv.FormatInt(int64(x), 10))
	case int32:
		b.WriteString(strconv.FormatInt(int64(x), 10))
	case int64:
		b.WriteString(strconv.FormatInt(x, 10))
	case uint:
		b.WriteString(strconv.FormatUint(uint64(x), 10))
	case uint8:
		b.WriteString(strconv.FormatUint(uint64(x), 10))
	case uint16:
		b.WriteString(strconv.FormatUint(uint64(x), 10))
	case uint32:
		b.WriteString(strconv.FormatUint(uint64(x), 10))
	case uint64:
		b.WriteString(strconv.FormatUint(x, 10))
	case float32:
		writeFloat(b, float64(x))
	case float64:
		writeFloat(b, x)
	case time.Time:
		b.WriteString(strconv.Quote(x.UTC().Format(time.RFC3339Nano)))
	case time.Duration:
		b.WriteString(strconv.Quote(x.String()))
	case []byte:
		b.WriteString(strconv.Quote(base64.StdEncoding.EncodeToString(x)))
	case map[string]any:
		return writeMap(b, len(x), func(yield func(string, any) error) error {
			for k, val := range x {
				if err := yield(k, val); err != nil {
					return err
				}
			}
			return nil
		})
	case []any:
		b.WriteByte('[')
		for i, el := range x {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, el); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	default:
		return writeReflect(b, reflect.ValueOf(v))
	}
	return nil
}

// writeFloat renders integral floats exactly like the equal integer so that
// 1, int64(1), 1.0 and json.Number("1.0") canonicalize identically.
func writeFloat(b *strings.Builder, f float64) {
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		b.WriteString(strconv.FormatInt(int64(f), 10))
		return
	}
	b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
}

func writeJSONNumber(b *strings.Builder, n json.Number) error {
	if i, err := n.Int64(); err == nil {
		b.WriteString(strconv.FormatInt(i, 10))
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("canonicalize number %q: %w", n.String(), err)
	}
	writeFloat(b, f)
	return nil
}

func writeMap(b *strings.Builder, n int, each func(yield func(string, any) error) error) error {
	keys := make([]string, 0, n)
	vals := make(map[string]any, n)
	if err := each(func(k string, v any) error {
		keys = append(keys, k)
		vals[k] = v
		return nil
	}); err != nil {
		return err
	}
	slices.Sort(keys)

	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(k))
		b.WriteByte(':')
		if err := writeCanonical(b, vals[k]); err != nil {
			return err
		}
	}
	b.WriteByte('}')
	return nil
}

// writeReflect handles typed maps, slices and pointers (map[string]string,
// []string, *int) that the fast path above does not enumerate.
func writeReflect(b *strings.Builder, rv reflect.Value) error {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			b.WriteString("null")
			return nil
		}
		return writeCanonical(b, rv.Elem().Interface())
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("canonicalize: unsupported map key type %s", rv.Type().Key())
		}
		return writeMap(b, rv.Len(), func(yield func(string, any) error) error {
			iter := rv.MapRange()
			for iter.Next() {
				if err := yield(iter.Key().String(), iter.Value().Interface()); err != nil {
					return err
				}
			}
			return nil
		})
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			b.WriteString("[]")
			return nil
		}
		b.WriteByte('[')
		for i := range rv.Len() {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, rv.Index(i).Interface()); err != nil {
				return err
			}
		}
		b.WriteByte(']')
		return nil
	case reflect.String:
		b.WriteString(strconv.Quote(rv.String()))
		return nil
	case reflect.Bool:
		b.WriteString(strconv.FormatBool(rv.Bool()))
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		b.WriteString(strconv.FormatInt(rv.Int(), 10))
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		b.WriteString(strconv.FormatUint(rv.Uint(), 10))
		return nil
	case reflect.Float32, reflect.Float64:
		writeFloat(b, rv.Float())
		return nil
	default:
		return fmt.Errorf("canonicalize: unsupported argument type %s", rv.Type())
	}
}
