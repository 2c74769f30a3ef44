// Package statetree implements the value algebra behind module state.
//
// A tree is a JSON-like value: map[string]any for objects, []any for arrays,
// and string, float64, bool or nil for scalars. Other Go numeric kinds are
// accepted as scalars; other composite kinds are normalized through their
// JSON encoding before they enter a tree.
//
// Merge rules, for a delta value d applied at key k over an existing value e:
//
//	e object, d object   -> merged key by key, recursively
//	e anything, d array  -> d replaces e wholesale (never concatenated)
//	e anything, d scalar -> d replaces e
//	e anything, d nil    -> k is kept and set to nil (there is no delete)
//	e absent             -> k is set to a deep copy of d
//
// Diff reports the structural change between two trees as an RFC 6902 JSON
// Patch, which clients can apply directly to their copy of the state.
package statetree
