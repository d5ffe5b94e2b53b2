package eql

import (
	"log/slog"

	"github.com/entityql/eql/internal/graph"
)

// Kind tags the closed set of expression node kinds. Evaluation and
// compilation switch exhaustively over it; an unknown kind is a bug in the
// evaluator and a CompilationError in the compiler.
type Kind int

const (
	KindVariable Kind = iota
	KindLiteral
	KindAttribute
	KindIndex
	KindFlatten
	KindConcatenate
	KindComparator
	KindHasType
	KindPredicate
	KindAnd
	KindUnion
	KindElseIf
	KindForAll
	KindEntity
	KindSetOf
	KindAn
	KindThe
	KindExceptIf
	KindAlternative
	KindNext
	KindCompute
)

var kindNames = map[Kind]string{
	KindVariable:    "Variable",
	KindLiteral:     "Literal",
	KindAttribute:   "Attribute",
	KindIndex:       "Index",
	KindFlatten:     "Flatten",
	KindConcatenate: "Concatenate",
	KindComparator:  "Comparator",
	KindHasType:     "HasType",
	KindPredicate:   "Predicate",
	KindAnd:         "And",
	KindUnion:       "Union",
	KindElseIf:      "ElseIf",
	KindForAll:      "ForAll",
	KindEntity:      "Entity",
	KindSetOf:       "SetOf",
	KindAn:          "An",
	KindThe:         "The",
	KindExceptIf:    "ExceptIf",
	KindAlternative: "Alternative",
	KindNext:        "Next",
	KindCompute:     "Compute",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "Unknown"
}

// Expr is the sealed interface implemented by every expression node. Only
// types in this package implement it; external packages inspect nodes via
// Kind and the exported accessors on the concrete types.
type Expr interface {
	// Kind tags the node.
	Kind() Kind

	// ID is the node's binding key. Nodes that produce a value (variables,
	// projections, comparators) store it under this key.
	ID() int64

	// Label names the node for diagnostics and generated source.
	Label() string

	// Node is the graph vertex owned by this expression.
	Node() *graph.Node

	// Children returns the structural children in evaluation order.
	Children() []Expr

	core() *base
	eval(ctx *evalCtx, src Binding, yieldFalse bool) stream
	appendVars(s *varSet)
}

// base carries the state shared by every node kind.
type base struct {
	id    int64
	label string
	node  *graph.Node

	conclusions []*Conclusion
}

func (n *base) ID() int64         { return n.id }
func (n *base) Label() string     { return n.label }
func (n *base) Node() *graph.Node { return n.node }
func (n *base) core() *base       { return n }

// conclusionsOf returns the conclusions attached to e.
func conclusionsOf(e Expr) []*Conclusion {
	return e.core().conclusions
}

// varSet accumulates distinct variable instances in first-seen order.
type varSet struct {
	order []*Variable
	seen  map[int64]bool
}

func newVarSet() *varSet {
	return &varSet{seen: map[int64]bool{}}
}

func (s *varSet) add(v *Variable) {
	if s.seen[v.id] {
		return
	}
	s.seen[v.id] = true
	s.order = append(s.order, v)
}

// nonLiteralIDs returns the IDs of the accumulated variables, literals
// excluded. Literal values never key a cache.
func (s *varSet) nonLiteralIDs() []int64 {
	var ids []int64
	for _, v := range s.order {
		if !v.literal {
			ids = append(ids, v.id)
		}
	}
	return ids
}

// variablesOf collects the distinct variables under e.
func variablesOf(e Expr) *varSet {
	s := newVarSet()
	e.appendVars(s)
	return s
}

// nonLiteralVarIDs is shorthand for the cache key set of a node.
func nonLiteralVarIDs(exprs ...Expr) []int64 {
	s := newVarSet()
	for _, e := range exprs {
		e.appendVars(s)
	}
	return s.nonLiteralIDs()
}

// evalCtx threads per-evaluation state through the node streams.
type evalCtx struct {
	reg     *Registry
	logger  *slog.Logger
	caching bool

	// extra holds conclusions selected by a rule-selector node for the
	// binding currently being yielded. Evaluation is a synchronous pull,
	// so the descriptor consuming the binding reads it before the
	// selector moves on.
	extra []*Conclusion
}

func (ctx *evalCtx) addExtra(cs ...*Conclusion) {
	ctx.extra = append(ctx.extra, cs...)
}

func (ctx *evalCtx) takeExtra() []*Conclusion {
	e := ctx.extra
	ctx.extra = nil
	return e
}

// resetter is implemented by nodes that carry per-evaluation state.
type resetter interface {
	resetEval()
}

// resetTree clears caches and selector state under e before a fresh
// top-level evaluation.
func resetTree(e Expr) {
	if r, ok := e.(resetter); ok {
		r.resetEval()
	}
	for _, c := range e.Children() {
		resetTree(c)
	}
}
