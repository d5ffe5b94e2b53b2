package eql

import (
	"reflect"
	"strings"
)

// Op enumerates comparator operations.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpContains
	OpNotContains
)

var opNames = map[Op]string{
	OpEq:          "==",
	OpNe:          "!=",
	OpLt:          "<",
	OpLe:          "<=",
	OpGt:          ">",
	OpGe:          ">=",
	OpContains:    "contains",
	OpNotContains: "not contains",
}

func (op Op) String() string { return opNames[op] }

// Inverse returns the negated operation.
func (op Op) Inverse() Op {
	switch op {
	case OpEq:
		return OpNe
	case OpNe:
		return OpEq
	case OpLt:
		return OpGe
	case OpLe:
		return OpGt
	case OpGt:
		return OpLe
	case OpGe:
		return OpLt
	case OpContains:
		return OpNotContains
	case OpNotContains:
		return OpContains
	}
	return op
}

// Apply evaluates op over two raw values. For OpContains the left value
// is the container and the right the candidate item.
func (op Op) Apply(left, right any) bool {
	switch op {
	case OpEq:
		return valueEqual(left, right)
	case OpNe:
		return !valueEqual(left, right)
	case OpLt:
		return orderedCompare(left, right) < 0
	case OpLe:
		return orderedCompare(left, right) <= 0
	case OpGt:
		return orderedCompare(left, right) > 0
	case OpGe:
		return orderedCompare(left, right) >= 0
	case OpContains:
		return containerContains(left, right)
	case OpNotContains:
		return !containerContains(left, right)
	}
	return false
}

// valueEqual compares raw values: numerics compare across widths, other
// comparables compare directly, and the rest fall back to deep equality.
func valueEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
		return false
	}
	if reflect.TypeOf(a).Comparable() && reflect.TypeOf(b).Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

// orderedCompare orders numerics and strings. Unordered operands compare
// as equal, which makes the ordering comparators false for them under
// both an operation and its inverse.
func orderedCompare(a, b any) int {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.Compare(as, bs)
		}
	}
	return 0
}

// containerContains reports membership: substring for strings, element
// for slices and arrays, key for maps.
func containerContains(container, item any) bool {
	switch c := container.(type) {
	case string:
		s, ok := item.(string)
		return ok && strings.Contains(c, s)
	case nil:
		return false
	}
	rv := reflect.ValueOf(container)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if valueEqual(rv.Index(i).Interface(), item) {
				return true
			}
		}
	case reflect.Map:
		kv := reflect.ValueOf(item)
		if kv.IsValid() && kv.Type().AssignableTo(rv.Type().Key()) {
			return rv.MapIndex(kv).IsValid()
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
