package eql

import (
	"iter"
	"slices"
	"strconv"

	"github.com/entityql/eql/internal/hashed"
)

// Binding maps variable IDs to identified values. A binding is treated as
// an immutable snapshot during evaluation: nodes extend a copy at branch
// points rather than mutating the one they received.
type Binding map[int64]*hashed.Value

// stream is the evaluation result shape: one (binding, condition-held)
// pair per solution.
type stream = iter.Seq2[Binding, bool]

// Clone returns an independent copy.
func (b Binding) Clone() Binding {
	out := make(Binding, len(b)+2)
	for k, v := range b {
		out[k] = v
	}
	return out
}

// update merges other into b, overwriting on collision.
func (b Binding) update(other Binding) {
	for k, v := range other {
		b[k] = v
	}
}

// restrict returns the subset of b whose keys appear in keys.
func restrict(b Binding, keys []int64) Binding {
	out := make(Binding, len(keys))
	for _, k := range keys {
		if v, ok := b[k]; ok {
			out[k] = v
		}
	}
	return out
}

// encode renders the binding's (key, value-ID) pairs in key order, for use
// as a set-membership key during intersection and deduplication.
func (b Binding) encode() string {
	keys := make([]int64, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	var s []byte
	for _, k := range keys {
		s = strconv.AppendInt(s, k, 10)
		s = append(s, ':')
		s = strconv.AppendInt(s, b[k].ID, 10)
		s = append(s, ';')
	}
	return string(s)
}
