// Package eql is the symbolic query core. A Builder assembles a closed set
// of expression node kinds (variables, attribute projections, comparators,
// logical connectives, quantifiers) into a tree, and evaluation walks that
// tree lazily, streaming variable bindings.
//
// Streams carry a (Binding, bool) pair per solution; the bool reports
// whether the node's condition held for that binding. Nodes normally emit
// only holding bindings, but a parent may request failing ones too, which
// is what gives else-if branches and rule selectors their semantics.
//
// The package is single-goroutine by design: bindings are cloned at branch
// points and never shared across concurrently running evaluations.
package eql
