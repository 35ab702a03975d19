package util

import (
	"math"
	"reflect"
	"time"
)

// Sanitize returns a JSON-safe copy of a payload value.
//
// Mappings and sequences are walked recursively. NaN and ±Inf become 0.0,
// fixed-width integers collapse to int, float32 widens to float64, typed
// numeric slices or arrays become plain []any and nested typed containers
// are rebuilt whenever something inside them changes. time.Time is rendered as an
// RFC 3339 string. Every other value is returned unchanged, so Sanitize is
// total and idempotent.
func Sanitize(v any) any {
	switch x := v.(type) {
	case nil, bool, string, int, []byte:
		return x
	case float64:
		return finiteOrZero(x)
	case float32:
		return finiteOrZero(float64(x))
	case int8:
		return int(x)
	case int16:
		return int(x)
	case int32:
		return int(x)
	case int64:
		return int(x)
	case uint8:
		return int(x)
	case uint16:
		return int(x)
	case uint32:
		return int(x)
	case uint:
		return unsignedToCanonical(uint64(x))
	case uint64:
		return unsignedToCanonical(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case map[string]any:
		return SanitizeMap(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = Sanitize(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = SanitizeMap(item)
		}
		return out
	}
	return sanitizeReflect(v)
}

// SanitizeMap sanitizes every value of m into a new map. A nil map stays nil.
func SanitizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Sanitize(v)
	}
	return out
}

func finiteOrZero(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0.0
	}
	return f
}

func unsignedToCanonical(u uint64) any {
	if u > math.MaxInt64 {
		return float64(u)
	}
	return int(u)
}

// sanitizeReflect handles concrete slices, arrays and string-keyed maps, e.g.
// []float32, [3]int64, [][]float64 or map[string][]float32. Numeric
// sequences and maps always become []any / map[string]any. Other sequences
// are rebuilt as []any only when an element changes.
func sanitizeReflect(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return v
		}
		changed := isNumericKind(rv.Type().Elem().Kind())
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			item := rv.Index(i).Interface()
			out[i] = Sanitize(item)
			if !changed && !reflect.DeepEqual(out[i], item) {
				changed = true
			}
		}
		if !changed {
			return v
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String || rv.IsNil() {
			return v
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = Sanitize(iter.Value().Interface())
		}
		return out
	}
	return v
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
