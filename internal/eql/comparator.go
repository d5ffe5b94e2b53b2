package eql

import (
	"github.com/entityql/eql/internal/cache"
	"github.com/entityql/eql/internal/hashed"
)

// Comparator applies a binary operation to the values of its operands.
// Results are memoized per operand-variable tuple in an IndexedCache;
// a re-entrancy guard keeps a node from serving itself from the cache it
// is currently populating.
type Comparator struct {
	base

	left, right Expr
	op          Op
	invert      bool

	cache  *cache.IndexedCache
	inEval bool
}

// Kind tags the node.
func (c *Comparator) Kind() Kind { return KindComparator }

// Left returns the left operand.
func (c *Comparator) Left() Expr { return c.left }

// Right returns the right operand.
func (c *Comparator) Right() Expr { return c.right }

// Op returns the effective operation, inversion applied.
func (c *Comparator) Op() Op {
	if c.invert {
		return c.op.Inverse()
	}
	return c.op
}

// Cache exposes the node's memo cache, mainly for counter inspection.
func (c *Comparator) Cache() *cache.IndexedCache { return c.cache }

func (c *Comparator) Children() []Expr { return []Expr{c.left, c.right} }

func (c *Comparator) appendVars(s *varSet) {
	c.left.appendVars(s)
	c.right.appendVars(s)
}

func (c *Comparator) resetEval() {
	c.cache.Reset()
	c.inEval = false
}

func (c *Comparator) eval(ctx *evalCtx, src Binding, yieldFalse bool) stream {
	return func(yield func(Binding, bool) bool) {
		if _, bound := src[c.id]; bound {
			yield(src, true)
			return
		}

		if ctx.caching && !c.inEval && c.cache.Check(src) {
			for entry, out := range c.cache.Retrieve(src) {
				held := out.(bool)
				if !held && !yieldFalse {
					continue
				}
				merged := src.Clone()
				merged.update(Binding(entry))
				merged[c.id] = hashed.Bool(held)
				if !yield(merged, held) {
					return
				}
			}
			return
		}

		c.inEval = true
		defer func() { c.inEval = false }()

		// Evaluate the operand with bound variables first so its values
		// constrain the other side.
		first, second := c.operandOrder(src)
		for fb := range first.eval(ctx, src, false) {
			for sb := range second.eval(ctx, fb, false) {
				fv, fok := sb[first.ID()]
				sv, sok := sb[second.ID()]
				if !fok || !sok {
					continue
				}
				lv, rv := fv, sv
				if first != c.left {
					lv, rv = sv, fv
				}
				held := c.Op().Apply(lv.Raw, rv.Raw)
				if !held && !yieldFalse {
					continue
				}
				out := sb.Clone()
				out[c.id] = hashed.Bool(held)
				if ctx.caching {
					c.cache.Insert(restrict(out, c.cache.Keys), held, true)
				}
				if !yield(out, held) {
					return
				}
			}
		}
	}
}

// operandOrder puts the right operand first when the incoming binding
// already constrains one of its variables.
func (c *Comparator) operandOrder(src Binding) (Expr, Expr) {
	if len(src) > 0 {
		for _, id := range nonLiteralVarIDs(c.right) {
			if _, ok := src[id]; ok {
				return c.right, c.left
			}
		}
	}
	return c.left, c.right
}
