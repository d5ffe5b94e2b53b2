package eql

import (
	"iter"
)

// Query pairs a descriptor with a cardinality: An streams every match,
// The demands exactly one.
type Query struct {
	b    *Builder
	kind Kind
	desc Descriptor
}

// An wraps desc as a stream-all query.
func (b *Builder) An(desc Descriptor) *Query {
	return &Query{b: b, kind: KindAn, desc: desc}
}

// The wraps desc as an exactly-one query.
func (b *Builder) The(desc Descriptor) *Query {
	return &Query{b: b, kind: KindThe, desc: desc}
}

// Kind returns KindAn or KindThe.
func (q *Query) Kind() Kind { return q.kind }

// Descriptor returns the wrapped descriptor.
func (q *Query) Descriptor() Descriptor { return q.desc }

// Registry returns the registry the query evaluates against.
func (q *Query) Registry() *Registry { return q.b.reg }

// Err returns the first structural error recorded while the query's tree
// was built.
func (q *Query) Err() error { return q.b.Err() }

// Evaluate streams the query's results lazily. Per-node caches and
// selector state are reset first, so repeated calls see current registry
// contents. A The query is evaluated the same way; use One to enforce its
// cardinality.
func (q *Query) Evaluate() iter.Seq[any] {
	return func(yield func(any) bool) {
		resetTree(q.desc)
		ctx := q.b.newEvalCtx()
		for b, ok := range q.desc.eval(ctx, Binding{}, false) {
			if !ok {
				continue
			}
			if !yield(q.desc.row(b)) {
				return
			}
		}
	}
}

// One returns the single result. A The query with no match returns a
// NoSolutionError and one with several returns a MultipleSolutionsError
// carrying the first two. An An query returns its first result, or a
// NoSolutionError when there is none.
func (q *Query) One() (any, error) {
	if err := q.Err(); err != nil {
		return nil, err
	}
	var (
		first any
		n     int
	)
	for r := range q.Evaluate() {
		n++
		if n == 1 {
			first = r
			if q.kind == KindAn {
				break
			}
			continue
		}
		return nil, &MultipleSolutionsError{Query: q.desc.Label(), First: first, Second: r}
	}
	if n == 0 {
		return nil, &NoSolutionError{Query: q.desc.Label()}
	}
	return first, nil
}

// All collects every result into a slice.
func (q *Query) All() ([]any, error) {
	if err := q.Err(); err != nil {
		return nil, err
	}
	var out []any
	for r := range q.Evaluate() {
		out = append(out, r)
	}
	return out, nil
}
