package eql

import (
	"reflect"

	"github.com/entityql/eql/internal/hashed"
)

// Predicate applies a caller-supplied boolean function to the values of
// its argument expressions. Arguments are bound by the backtracking
// binding generator, so constrained arguments prune before the function
// runs.
type Predicate struct {
	base

	name   string
	fn     func(args ...any) bool
	args   []Expr
	invert bool
}

// Kind tags the node.
func (p *Predicate) Kind() Kind { return KindPredicate }

// Name returns the predicate's display name.
func (p *Predicate) Name() string { return p.name }

// Args returns the argument expressions in call order.
func (p *Predicate) Args() []Expr { return append([]Expr(nil), p.args...) }

// Func returns the predicate function.
func (p *Predicate) Func() func(args ...any) bool { return p.fn }

// Inverted reports whether the predicate was negated.
func (p *Predicate) Inverted() bool { return p.invert }

func (p *Predicate) Children() []Expr { return append([]Expr(nil), p.args...) }

func (p *Predicate) appendVars(s *varSet) {
	for _, a := range p.args {
		a.appendVars(s)
	}
}

func (p *Predicate) eval(ctx *evalCtx, src Binding, yieldFalse bool) stream {
	return func(yield func(Binding, bool) bool) {
		if _, bound := src[p.id]; bound {
			yield(src, true)
			return
		}
		for full := range generateBindings(ctx, p.args, src) {
			vals := make([]any, len(p.args))
			complete := true
			for i, a := range p.args {
				v, ok := full[a.ID()]
				if !ok {
					complete = false
					break
				}
				vals[i] = v.Raw
			}
			if !complete {
				continue
			}
			held := p.fn(vals...) != p.invert
			if !held && !yieldFalse {
				continue
			}
			out := full.Clone()
			out[p.id] = hashed.Bool(held)
			if !yield(out, held) {
				return
			}
		}
	}
}

// HasType holds when its child's value is assignable to the target type.
// The compiler lowers it to a direct type test.
type HasType struct {
	base

	child  Expr
	typ    reflect.Type
	invert bool
}

// Kind tags the node.
func (h *HasType) Kind() Kind { return KindHasType }

// Child returns the tested expression.
func (h *HasType) Child() Expr { return h.child }

// Type returns the target type.
func (h *HasType) Type() reflect.Type { return h.typ }

// Inverted reports whether the type test was negated.
func (h *HasType) Inverted() bool { return h.invert }

func (h *HasType) Children() []Expr     { return []Expr{h.child} }
func (h *HasType) appendVars(s *varSet) { h.child.appendVars(s) }

func (h *HasType) eval(ctx *evalCtx, src Binding, yieldFalse bool) stream {
	return func(yield func(Binding, bool) bool) {
		if _, bound := src[h.id]; bound {
			yield(src, true)
			return
		}
		for cb := range h.child.eval(ctx, src, yieldFalse) {
			v, ok := cb[h.child.ID()]
			if !ok {
				continue
			}
			held := TypeMatches(v.Raw, h.typ) != h.invert
			if !held && !yieldFalse {
				continue
			}
			out := cb.Clone()
			out[h.id] = hashed.Bool(held)
			if !yield(out, held) {
				return
			}
		}
	}
}

// TypeMatches reports whether raw's dynamic type is assignable to want.
func TypeMatches(raw any, want reflect.Type) bool {
	if want == nil {
		return false
	}
	rt := reflect.TypeOf(raw)
	if rt == nil {
		return false
	}
	return typeAssignable(rt, want)
}
