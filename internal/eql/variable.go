package eql

import (
	"iter"
	"reflect"

	"github.com/entityql/eql/internal/hashed"
)

// Variable is a typed placeholder. Its domain is either an explicit value
// list or, when nil, every registry instance assignable to its type.
// A Literal is a variable with a single fixed value.
type Variable struct {
	base

	typ     reflect.Type
	domain  []*hashed.Value
	literal bool
	indexed bool
	invert  bool
}

// Kind tags the node.
func (v *Variable) Kind() Kind {
	if v.literal {
		return KindLiteral
	}
	return KindVariable
}

// Type returns the variable's element type, or nil for untyped literals.
func (v *Variable) Type() reflect.Type { return v.typ }

// IsLiteral reports whether the variable carries a single fixed value.
func (v *Variable) IsLiteral() bool { return v.literal }

// Value returns a literal's fixed value, or nil.
func (v *Variable) Value() *hashed.Value {
	if v.literal && len(v.domain) == 1 {
		return v.domain[0]
	}
	return nil
}

// HasExplicitDomain reports whether the variable ranges over a caller
// supplied value list instead of the registry.
func (v *Variable) HasExplicitDomain() bool { return v.domain != nil }

// Inverted reports whether the variable's truthiness was negated.
func (v *Variable) Inverted() bool { return v.invert }

// Domain returns the explicit domain values in declaration order, or nil
// for registry-backed variables.
func (v *Variable) Domain() []*hashed.Value {
	return append([]*hashed.Value(nil), v.domain...)
}

func (v *Variable) Children() []Expr { return nil }

func (v *Variable) appendVars(s *varSet) { s.add(v) }

func (v *Variable) eval(ctx *evalCtx, src Binding, yieldFalse bool) stream {
	return func(yield func(Binding, bool) bool) {
		if _, bound := src[v.id]; bound {
			yield(src, true)
			return
		}
		for val := range v.domainValues(ctx) {
			out := src.Clone()
			out[v.id] = val
			if !yield(out, true) {
				return
			}
		}
	}
}

// evalCondition evaluates e in condition position: as a descriptor's
// condition root or as a connective branch. A bare variable there holds
// only for truthy values, honoring its invert flag. Every other node
// kind reports its own truth, and a variable used as an operand stays
// unfiltered so falsy values still reach comparators.
func evalCondition(ctx *evalCtx, e Expr, src Binding, yieldFalse bool) stream {
	v, ok := e.(*Variable)
	if !ok {
		return e.eval(ctx, src, yieldFalse)
	}
	return func(yield func(Binding, bool) bool) {
		for b := range v.eval(ctx, src, true) {
			held := hashed.Truthy(b[v.id]) != v.invert
			if !held && !yieldFalse {
				continue
			}
			if !yield(b, held) {
				return
			}
		}
	}
}

func (v *Variable) domainValues(ctx *evalCtx) iter.Seq[*hashed.Value] {
	if v.domain != nil {
		return func(yield func(*hashed.Value) bool) {
			for _, val := range v.domain {
				if !yield(val) {
					return
				}
			}
		}
	}
	if ctx.reg != nil && v.typ != nil {
		return ctx.reg.InstancesOf(v.typ)
	}
	return func(yield func(*hashed.Value) bool) {}
}

// domainSize reports how many values the variable ranges over, for the
// cartesian-product warning.
func (v *Variable) domainSize(ctx *evalCtx) int {
	if v.domain != nil {
		return len(v.domain)
	}
	if ctx.reg != nil && v.typ != nil {
		return ctx.reg.CountOf(v.typ)
	}
	return 0
}
