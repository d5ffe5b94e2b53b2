package hashed

import "iter"

// Set is an ordered set of Values keyed by identity. Membership is by ID;
// iteration follows insertion order, which is what makes query results
// deterministic for a fixed registry population.
type Set struct {
	order []int64
	byID  map[int64]*Value
}

// NewSet builds a Set from vals, dropping duplicate identities.
func NewSet(vals ...*Value) *Set {
	s := &Set{byID: make(map[int64]*Value, len(vals))}
	for _, v := range vals {
		s.Add(v)
	}
	return s
}

// Add inserts v unless a value with the same ID is already present.
// It reports whether the set grew.
func (s *Set) Add(v *Value) bool {
	if _, ok := s.byID[v.ID]; ok {
		return false
	}
	s.byID[v.ID] = v
	s.order = append(s.order, v.ID)
	return true
}

// Len returns the number of distinct identities.
func (s *Set) Len() int {
	return len(s.order)
}

// All iterates the values in insertion order.
func (s *Set) All() iter.Seq[*Value] {
	return func(yield func(*Value) bool) {
		for _, id := range s.order {
			if !yield(s.byID[id]) {
				return
			}
		}
	}
}
