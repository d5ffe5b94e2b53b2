// Package cache implements the per-node memoization layer: a coverage index
// over previously seen partial assignments (SeenSet) and an insertion-ordered
// nested memo store keyed by a fixed variable-ID tuple (IndexedCache).
//
// Assignments map variable IDs to identified values; all equality inside the
// cache is by value ID, never by raw value.
package cache

import "github.com/entityql/eql/internal/hashed"

// Assignment is a partial mapping from variable ID to identified value.
type Assignment = map[int64]*hashed.Value

// SeenSet is a coverage index for previously seen partial assignments.
//
// An assignment A is covered if some stored constraint C has all of its
// (key, value) pairs present in A. Lookups reject early via a key bitmask
// when the probe shares no keys with the stored key set, then try the O(1)
// exact-tuple set, then fall back to the stored constraints.
type SeenSet struct {
	// Keys is the fixed key order used for exact tuples. May be empty,
	// in which case only the coverage fallback applies.
	Keys []int64

	keyMask     uint64
	allSeen     bool
	constraints []Assignment
	exact       map[string]struct{}
}

// NewSeenSet builds a SeenSet over the given key order.
func NewSeenSet(keys []int64) *SeenSet {
	s := &SeenSet{
		Keys:  append([]int64(nil), keys...),
		exact: map[string]struct{}{},
	}
	for _, k := range keys {
		s.keyMask |= keyBit(k)
	}
	return s
}

// Add records a constraint. An empty constraint marks everything covered.
func (s *SeenSet) Add(assignment Assignment) {
	if s.allSeen {
		return
	}
	if len(assignment) == 0 {
		s.allSeen = true
		return
	}
	if t, ok := s.exactTuple(assignment); ok {
		s.exact[t] = struct{}{}
	}
	stored := make(Assignment, len(assignment))
	for k, v := range assignment {
		stored[k] = v
	}
	s.constraints = append(s.constraints, stored)
}

// Check reports whether any stored constraint covers the assignment.
//
// The first empty probe flips the all-seen flag but still reports false,
// so the caller that observed it gets one chance to populate.
func (s *SeenSet) Check(assignment Assignment) bool {
	if s.allSeen {
		return true
	}
	if len(assignment) == 0 {
		s.allSeen = true
		return false
	}
	if s.keyMask != 0 && s.keyMask&assignmentMask(assignment) == 0 {
		// No key bit overlaps, so no stored key appears in the probe.
		return false
	}
	if s.ExactContains(assignment) {
		return true
	}
	for _, constraint := range s.constraints {
		if coveredBy(constraint, assignment) {
			return true
		}
	}
	return false
}

// ExactContains reports whether the assignment binds every key and that
// exact key tuple was stored. It never consults the coverage constraints.
func (s *SeenSet) ExactContains(assignment Assignment) bool {
	t, ok := s.exactTuple(assignment)
	if !ok {
		return false
	}
	_, ok = s.exact[t]
	return ok
}

// Clear drops all recorded constraints and resets the all-seen flag.
func (s *SeenSet) Clear() {
	s.allSeen = false
	s.constraints = s.constraints[:0]
	s.exact = map[string]struct{}{}
}

// exactTuple encodes the assignment's values for Keys as a comparable
// tuple key. ok is false when Keys is empty or a key is unbound.
func (s *SeenSet) exactTuple(assignment Assignment) (string, bool) {
	if len(s.Keys) == 0 {
		return "", false
	}
	buf := make([]byte, 0, len(s.Keys)*9)
	for _, k := range s.Keys {
		v, bound := assignment[k]
		if !bound {
			return "", false
		}
		buf = appendID(buf, v.ID)
	}
	return string(buf), true
}

func coveredBy(constraint, assignment Assignment) bool {
	for k, want := range constraint {
		got, ok := assignment[k]
		if !ok || got.ID != want.ID {
			return false
		}
	}
	return true
}

func keyBit(k int64) uint64 {
	return 1 << (uint64(k) % 64)
}

func assignmentMask(assignment Assignment) uint64 {
	var m uint64
	for k := range assignment {
		m |= keyBit(k)
	}
	return m
}

// appendID encodes id as 8 big-endian bytes plus a separator.
func appendID(buf []byte, id int64) []byte {
	u := uint64(id)
	return append(buf,
		byte(u>>56), byte(u>>48), byte(u>>40), byte(u>>32),
		byte(u>>24), byte(u>>16), byte(u>>8), byte(u), '|')
}
