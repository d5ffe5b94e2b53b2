// Package hashed provides the value identity layer: every raw Go value that
// enters the engine is wrapped in a Value carrying a stable int64 identifier.
// Equal comparable values share one identifier, and the two booleans share
// one canonical wrapper instance each, so downstream code can compare and
// index values by ID alone.
package hashed

import "reflect"

// Value wraps a raw value together with its identity.
//
// Identity rules:
//   - false and true are the process-wide singletons False (ID 0) and
//     True (ID 1); Intern never allocates a second boolean wrapper.
//   - Comparable raw values intern through a table, so equal raws yield
//     the same *Value and therefore the same ID.
//   - Non-comparable raw values (slices, maps, funcs) get a fresh ID per
//     wrap; their identity is the wrapper itself.
type Value struct {
	// Raw is the wrapped value.
	Raw any

	// ID is the stable identifier. IDs 0 and 1 are reserved for the
	// boolean singletons; all other IDs start at 2.
	ID int64
}

// False and True are the canonical boolean wrappers. All boolean results
// produced by the engine are one of these two instances, which makes
// truth checks pointer comparisons.
var (
	False = &Value{Raw: false, ID: 0}
	True  = &Value{Raw: true, ID: 1}
)

var (
	interned = map[any]*Value{}
	nextID   int64 = 2
)

// Intern returns the canonical wrapper for raw.
//
// Wrapping an already-wrapped value returns it unchanged. Booleans map to
// the False/True singletons. The engine is single-goroutine by design, so
// the intern table is not synchronized.
func Intern(raw any) *Value {
	switch v := raw.(type) {
	case *Value:
		return v
	case bool:
		if v {
			return True
		}
		return False
	}
	if raw == nil || !isComparable(raw) {
		v := &Value{Raw: raw, ID: nextID}
		nextID++
		return v
	}
	if v, ok := interned[raw]; ok {
		return v
	}
	v := &Value{Raw: raw, ID: nextID}
	nextID++
	interned[raw] = v
	return v
}

// Bool returns the canonical wrapper for b.
func Bool(b bool) *Value {
	if b {
		return True
	}
	return False
}

// Derive returns a wrapper for raw that inherits the identity of parent.
// Attribute projection uses this so that values projected from the same
// entity dedup together.
func Derive(parent *Value, raw any) *Value {
	return &Value{Raw: raw, ID: parent.ID}
}

// NextID allocates a fresh identifier. Variables draw their IDs from the
// same sequence as interned values so binding keys never collide.
func NextID() int64 {
	id := nextID
	nextID++
	return id
}

// ResetInterning clears the intern table and restarts the ID sequence.
// The boolean singletons keep their reserved IDs. Intended for tests and
// Registry.Reset; any Value obtained before the reset is stale afterwards.
func ResetInterning() {
	interned = map[any]*Value{}
	nextID = 2
}

// Truthy reports whether the wrapped value counts as true in a condition
// position: nil and false are false, empty strings and empty collections
// are false, everything else is true.
func Truthy(v *Value) bool {
	if v == nil || v.Raw == nil {
		return false
	}
	switch r := v.Raw.(type) {
	case bool:
		return r
	case string:
		return r != ""
	case int:
		return r != 0
	case int64:
		return r != 0
	case float64:
		return r != 0
	}
	rv := reflect.ValueOf(v.Raw)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array, reflect.Chan:
		return rv.Len() > 0
	case reflect.Ptr, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

// isComparable reports whether raw can be used as a map key.
func isComparable(raw any) bool {
	t := reflect.TypeOf(raw)
	return t != nil && t.Comparable()
}
