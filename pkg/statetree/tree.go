package statetree

import (
	"encoding/json"
	"errors"
	"reflect"
)

// ErrNotTree is returned when a value cannot be used as the root of a tree
var ErrNotTree = errors.New("state must be a keyed mapping at the root")

// IsTree reports whether v can be used as the root of a state tree.
func IsTree(v any) bool {
	_, ok := v.(map[string]any)
	return ok
}

// AsTree returns v as a root mapping, normalizing typed Go maps and structs
// through JSON. It fails with ErrNotTree for anything that is not an object.
func AsTree(v any) (map[string]any, error) {
	switch t := v.(type) {
	case map[string]any:
		return t, nil
	case nil:
		return nil, ErrNotTree
	}

	normalized, ok := normalize(v).(map[string]any)
	if !ok {
		return nil, ErrNotTree
	}
	return normalized, nil
}

// Clone returns a deep copy of a JSON-like value. The result never shares
// maps or slices with v.
func Clone(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = Clone(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = Clone(child)
		}
		return out
	case string, bool, float64, float32,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		json.Number:
		return t
	default:
		n := normalize(t)
		if reflect.TypeOf(n) == reflect.TypeOf(t) {
			// not JSON-encodable as a composite, or a named scalar
			return underlying(t)
		}
		return Clone(n)
	}
}

// underlying converts named scalars such as time.Duration to their builtin
// kind. Anything else is returned unchanged.
func underlying(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	default:
		return v
	}
}

// CloneTree is Clone for root mappings. A nil tree clones to an empty one.
func CloneTree(t map[string]any) map[string]any {
	if t == nil {
		return map[string]any{}
	}
	return Clone(t).(map[string]any)
}

// Equal reports whether two trees hold the same JSON value.
func Equal(a, b any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

// normalize converts arbitrary Go values into the JSON-like representation by
// round-tripping composite kinds through encoding/json.
func normalize(v any) any {
	if v == nil {
		return nil
	}

	switch reflect.TypeOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer:
	default:
		return v
	}

	data, err := json.Marshal(v)
	if err != nil {
		return v
	}

	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
