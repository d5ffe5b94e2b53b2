package eql

import (
	"fmt"
	"log/slog"
	"reflect"
	"sort"

	"github.com/entityql/eql/internal/cache"
	"github.com/entityql/eql/internal/graph"
	"github.com/entityql/eql/internal/hashed"
)

// Builder is the construction session for one expression tree. It owns
// the graph arena the nodes live in, lifts plain Go values to literals,
// and records the first structural error instead of failing each call.
type Builder struct {
	reg    *Registry
	arena  *graph.Arena
	logger *slog.Logger

	caching bool
	err     error
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger installs the logger used for evaluation warnings.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// WithoutCaching disables the per-node memo caches, mainly for tests
// comparing cached and uncached evaluation.
func WithoutCaching() Option {
	return func(b *Builder) { b.caching = false }
}

// NewBuilder starts a construction session over reg.
func NewBuilder(reg *Registry, opts ...Option) *Builder {
	b := &Builder{
		reg:     reg,
		arena:   graph.NewArena(),
		caching: true,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Registry returns the registry the session queries against.
func (b *Builder) Registry() *Registry { return b.reg }

// Err returns the first structural error recorded during construction.
func (b *Builder) Err() error { return b.err }

func (b *Builder) fail(err error) {
	if b.err == nil && err != nil {
		b.err = err
	}
}

func (b *Builder) newBase(label string) base {
	return base{
		id:    hashed.NextID(),
		label: label,
		node:  b.arena.NewNode(label, nil),
	}
}

// link makes parent the primary parent of each child whose node is still
// unattached; children already owned elsewhere get an auxiliary edge so
// the dependency stays visible without breaking the tree.
func (b *Builder) link(parent Expr, children ...Expr) {
	for _, c := range children {
		if c == nil {
			continue
		}
		if c.Node().Parent() == nil {
			b.fail(c.Node().SetParent(parent.Node()))
		} else {
			b.fail(c.Node().AddAuxParent(parent.Node()))
		}
	}
}

func (b *Builder) newEvalCtx() *evalCtx {
	return &evalCtx{reg: b.reg, logger: b.logger, caching: b.caching}
}

// Var declares a registry-backed variable ranging over every instance
// assignable to prototype's type. A nil pointer-to-interface prototype,
// as in (*Shape)(nil), ranges over everything implementing the interface.
func (b *Builder) Var(name string, prototype any) *Variable {
	t := reflect.TypeOf(prototype)
	if t != nil && t.Kind() == reflect.Ptr && t.Elem().Kind() == reflect.Interface {
		t = t.Elem()
	}
	v := &Variable{base: b.newBase(name), typ: t}
	v.node.Payload = v
	return v
}

// Let declares a variable with an explicit domain. domain must be a slice;
// its elements become the variable's values in order.
func (b *Builder) Let(name string, domain any) *Variable {
	rv := reflect.ValueOf(domain)
	v := &Variable{base: b.newBase(name), indexed: true}
	v.node.Payload = v
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		b.fail(fmt.Errorf("let %s: domain must be a slice, got %T", name, domain))
		v.domain = []*hashed.Value{}
		return v
	}
	if rv.Len() > 0 {
		v.typ = rv.Index(0).Type()
	}
	v.domain = make([]*hashed.Value, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		v.domain = append(v.domain, hashed.Intern(rv.Index(i).Interface()))
	}
	return v
}

// Literal wraps a fixed value as an expression.
func (b *Builder) Literal(value any) *Variable {
	hv := hashed.Intern(value)
	v := &Variable{
		base:    b.newBase(fmt.Sprintf("%v", value)),
		typ:     reflect.TypeOf(value),
		domain:  []*hashed.Value{hv},
		literal: true,
	}
	v.node.Payload = v
	return v
}

// lift converts a plain Go value to a literal, passing expressions through.
func (b *Builder) lift(v any) Expr {
	if e, ok := v.(Expr); ok {
		return e
	}
	return b.Literal(v)
}

// Attr projects the named exported field of child.
func (b *Builder) Attr(child Expr, field string) *Attribute {
	a := &Attribute{
		base:  b.newBase(child.Label() + "." + field),
		child: child,
		field: field,
	}
	a.node.Payload = a
	b.link(a, child)
	return a
}

// Index looks key up in child's value.
func (b *Builder) Index(child Expr, key any) *Index {
	ix := &Index{
		base:  b.newBase(fmt.Sprintf("%s[%v]", child.Label(), key)),
		child: child,
		key:   key,
	}
	ix.node.Payload = ix
	b.link(ix, child)
	return ix
}

// Flatten unnests child's iterable value.
func (b *Builder) Flatten(child Expr) *Flatten {
	f := &Flatten{base: b.newBase("flatten(" + child.Label() + ")"), child: child}
	f.node.Payload = f
	b.link(f, child)
	return f
}

// Concat collects child's values across solutions into one slice value.
func (b *Builder) Concat(child Expr) *Concatenate {
	c := &Concatenate{base: b.newBase("concat(" + child.Label() + ")"), child: child}
	c.node.Payload = c
	b.link(c, child)
	return c
}

func (b *Builder) compare(op Op, left, right any) *Comparator {
	l, r := b.lift(left), b.lift(right)
	c := &Comparator{
		base:  b.newBase(fmt.Sprintf("%s %s %s", l.Label(), op, r.Label())),
		left:  l,
		right: r,
		op:    op,
	}
	c.node.Payload = c
	c.cache = cache.NewIndexedCache(nonLiteralVarIDs(l, r))
	b.link(c, l, r)
	return c
}

// Eq compares for equality.
func (b *Builder) Eq(left, right any) *Comparator { return b.compare(OpEq, left, right) }

// Ne compares for inequality.
func (b *Builder) Ne(left, right any) *Comparator { return b.compare(OpNe, left, right) }

// Lt compares with <.
func (b *Builder) Lt(left, right any) *Comparator { return b.compare(OpLt, left, right) }

// Le compares with <=.
func (b *Builder) Le(left, right any) *Comparator { return b.compare(OpLe, left, right) }

// Gt compares with >.
func (b *Builder) Gt(left, right any) *Comparator { return b.compare(OpGt, left, right) }

// Ge compares with >=.
func (b *Builder) Ge(left, right any) *Comparator { return b.compare(OpGe, left, right) }

// Contains holds when container's value contains item's value.
func (b *Builder) Contains(container, item any) *Comparator {
	return b.compare(OpContains, container, item)
}

// In is Contains with the operands swapped to read naturally.
func (b *Builder) In(item, container any) *Comparator {
	return b.compare(OpContains, container, item)
}

// HasType holds when child's value is assignable to prototype's type.
// Interface prototypes follow the same (*Shape)(nil) convention as Var.
func (b *Builder) HasType(child Expr, prototype any) *HasType {
	t := reflect.TypeOf(prototype)
	if t != nil && t.Kind() == reflect.Ptr && t.Elem().Kind() == reflect.Interface {
		t = t.Elem()
	}
	h := &HasType{
		base:  b.newBase(fmt.Sprintf("hastype(%s, %s)", child.Label(), t)),
		child: child,
		typ:   t,
	}
	h.node.Payload = h
	b.link(h, child)
	return h
}

// Compute derives a value from the values of args, typically to build an
// inferred entity inside a conclusion.
func (b *Builder) Compute(name string, fn func(args ...any) any, args ...any) *Compute {
	lifted := make([]Expr, len(args))
	for i, a := range args {
		lifted[i] = b.lift(a)
	}
	c := &Compute{base: b.newBase(name), name: name, fn: fn, args: lifted}
	c.node.Payload = c
	b.link(c, lifted...)
	return c
}

// Predicate applies fn to the values of args.
func (b *Builder) Predicate(name string, fn func(args ...any) bool, args ...any) *Predicate {
	lifted := make([]Expr, len(args))
	for i, a := range args {
		lifted[i] = b.lift(a)
	}
	p := &Predicate{base: b.newBase(name), name: name, fn: fn, args: lifted}
	p.node.Payload = p
	b.link(p, lifted...)
	return p
}

func (b *Builder) and2(left, right Expr) *And {
	a := &And{base: b.newBase("And"), left: left, right: right}
	a.node.Payload = a
	a.rightCache = cache.NewIndexedCache(nonLiteralVarIDs(right))
	b.link(a, left, right)
	return a
}

func (b *Builder) union2(left, right Expr) *Union {
	u := &Union{base: b.newBase("Union"), left: left, right: right}
	u.node.Payload = u
	u.varIDs = nonLiteralVarIDs(left, right)
	b.link(u, left, right)
	return u
}

func (b *Builder) elseIf2(left, right Expr) *ElseIf {
	e := &ElseIf{base: b.newBase("ElseIf"), left: left, right: right}
	e.node.Payload = e
	e.rightCache = cache.NewIndexedCache(nonLiteralVarIDs(right))
	b.link(e, left, right)
	return e
}

// And chains conds left-associatively with conjunction.
func (b *Builder) And(conds ...any) Expr {
	return b.chain(conds, func(l, r Expr) Expr { return b.and2(l, r) })
}

// Or chains conds with disjunction. Operand pairs ranging over the same
// variables become ElseIf (first match wins per binding); different
// variable sets become Union.
func (b *Builder) Or(conds ...any) Expr {
	return b.chain(conds, func(l, r Expr) Expr {
		if sameVarIDs(nonLiteralVarIDs(l), nonLiteralVarIDs(r)) {
			return b.elseIf2(l, r)
		}
		return b.union2(l, r)
	})
}

func (b *Builder) chain(conds []any, combine func(l, r Expr) Expr) Expr {
	var acc Expr
	for _, c := range conds {
		e := b.lift(c)
		if acc == nil {
			acc = e
			continue
		}
		acc = combine(acc, e)
	}
	return acc
}

// Not pushes negation down the operand: De Morgan over the connectives,
// operation inversion on comparators, and an invert flag on leaves.
// Negating a quantifier is not meaningful and records an error.
func (b *Builder) Not(cond any) Expr {
	e := b.lift(cond)
	switch n := e.(type) {
	case *And:
		return b.elseIf2(b.Not(n.left), b.Not(n.right))
	case *Union:
		return b.and2(b.Not(n.left), b.Not(n.right))
	case *ElseIf:
		return b.and2(b.Not(n.left), b.Not(n.right))
	case *Comparator:
		n.invert = !n.invert
		return n
	case *Variable:
		n.invert = !n.invert
		return n
	case *Attribute:
		n.invert = !n.invert
		return n
	case *Index:
		n.invert = !n.invert
		return n
	case *Flatten:
		n.invert = !n.invert
		return n
	case *Predicate:
		n.invert = !n.invert
		return n
	case *HasType:
		n.invert = !n.invert
		return n
	case *Entity:
		if n.cond != nil {
			n.SetCondition(b.Not(n.cond))
		}
		return n
	case *SetOf:
		if n.cond != nil {
			n.SetCondition(b.Not(n.cond))
		}
		return n
	default:
		b.fail(fmt.Errorf("cannot negate %s: negate its conditions instead", e.Kind()))
		return e
	}
}

// ForAll quantifies cond universally over v.
func (b *Builder) ForAll(v *Variable, cond any) *ForAll {
	c := b.lift(cond)
	f := &ForAll{
		base:     b.newBase("forall(" + v.Label() + ")"),
		variable: v,
		cond:     c,
	}
	f.node.Payload = f
	uni := newVarSet()
	v.appendVars(uni)
	all := variablesOf(c)
	for _, cv := range all.order {
		if cv.literal || uni.seen[cv.id] {
			continue
		}
		f.condOnlyIDs = append(f.condOnlyIDs, cv.id)
	}
	b.link(f, v, c)
	return f
}

// Entity describes a query over selected, constrained by conds chained
// with conjunction.
func (b *Builder) Entity(selected *Variable, conds ...any) *Entity {
	cond := b.And(conds...)
	e := &Entity{
		base:     b.newBase("entity(" + selected.Label() + ")"),
		selected: selected,
		cond:     cond,
		warned:   map[int64]bool{},
	}
	e.node.Payload = e
	if cond != nil {
		b.link(e, cond)
	}
	b.link(e, selected)
	return e
}

// EntityWhere is Entity with field constraints: each entry constrains an
// attribute of selected by equality, chained in field-name order.
func (b *Builder) EntityWhere(selected *Variable, fields map[string]any, conds ...any) *Entity {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	all := make([]any, 0, len(names)+len(conds))
	for _, name := range names {
		all = append(all, b.Eq(b.Attr(selected, name), fields[name]))
	}
	all = append(all, conds...)
	return b.Entity(selected, all...)
}

// SetOf describes a query over a tuple of selected expressions.
func (b *Builder) SetOf(selected []Expr, conds ...any) *SetOf {
	cond := b.And(conds...)
	s := &SetOf{
		base:     b.newBase("set_of"),
		selected: selected,
		cond:     cond,
		warned:   map[int64]bool{},
	}
	s.node.Payload = s
	if cond != nil {
		b.link(s, cond)
	}
	b.link(s, selected...)
	return s
}

// ExceptIf builds a refinement selector: base yields unless refinement
// matches under it.
func (b *Builder) ExceptIf(baseBranch, refinement Expr) *ExceptIf {
	e := &ExceptIf{base: b.newBase("ExceptIf"), left: baseBranch, right: refinement}
	e.node.Payload = e
	e.rightCache = cache.NewIndexedCache(nonLiteralVarIDs(refinement))
	b.link(e, baseBranch, refinement)
	return e
}

// Alternative builds an else-if selector with conclusion selection.
func (b *Builder) Alternative(first, fallback Expr) *Alternative {
	a := &Alternative{base: b.newBase("Alternative"), left: first, right: fallback}
	a.node.Payload = a
	a.fired = cache.NewSeenSet(nil)
	b.link(a, first, fallback)
	return a
}

// Next builds a sequel selector: both branches always run.
func (b *Builder) Next(current, sequel Expr) *Next {
	n := &Next{base: b.newBase("Next"), left: current, right: sequel}
	n.node.Payload = n
	n.varIDs = nonLiteralVarIDs(current, sequel)
	n.fired = cache.NewSeenSet(nil)
	b.link(n, current, sequel)
	return n
}

// SetValue builds a conclusion assigning value to target when the branch
// it is attached to fires.
func (b *Builder) SetValue(target *Variable, value any) *Conclusion {
	return &Conclusion{kind: ConclusionSet, target: target, value: b.lift(value)}
}

// AddTo builds a conclusion appending value to target's collection when
// the branch it is attached to fires.
func (b *Builder) AddTo(target *Variable, value any) *Conclusion {
	return &Conclusion{kind: ConclusionAdd, target: target, value: b.lift(value)}
}

// Conclude attaches conclusions to a condition node.
func (b *Builder) Conclude(on Expr, cs ...*Conclusion) {
	on.core().conclusions = append(on.core().conclusions, cs...)
}

// Detach removes the primary-parent edge of e's node, in preparation for
// splicing it under a new parent.
func Detach(e Expr) {
	e.Node().RemoveParent()
}

// ReplaceChild swaps old for new in parent's structural slot and re-homes
// the graph edge. old must already be detached.
func ReplaceChild(parent, old, new Expr) error {
	switch p := parent.(type) {
	case *Entity:
		if p.cond == old {
			p.cond = new
		}
	case *SetOf:
		if p.cond == old {
			p.cond = new
		}
	case *ForAll:
		if p.cond == old {
			p.cond = new
		}
	case *And:
		replaceBranch(&p.left, &p.right, old, new)
	case *Union:
		replaceBranch(&p.left, &p.right, old, new)
	case *ElseIf:
		replaceBranch(&p.left, &p.right, old, new)
	case *ExceptIf:
		replaceBranch(&p.left, &p.right, old, new)
	case *Alternative:
		replaceBranch(&p.left, &p.right, old, new)
	case *Next:
		replaceBranch(&p.left, &p.right, old, new)
	default:
		return fmt.Errorf("cannot splice under %s", parent.Kind())
	}
	return new.Node().SetParent(parent.Node())
}

func replaceBranch(left, right *Expr, old, new Expr) {
	if *left == old {
		*left = new
	}
	if *right == old {
		*right = new
	}
}

func sameVarIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[int64]bool, len(a))
	for _, id := range a {
		set[id] = true
	}
	for _, id := range b {
		if !set[id] {
			return false
		}
	}
	return true
}
