package eql

import (
	"github.com/entityql/eql/internal/cache"
)

// And yields the join of its operands: for every binding satisfying the
// left side, the right side is evaluated under it. Right-side results are
// memoized per left binding in a cache keyed by the right side's variables.
type And struct {
	base

	left, right Expr
	rightCache  *cache.IndexedCache
}

// Kind tags the node.
func (a *And) Kind() Kind { return KindAnd }

// Left returns the left operand.
func (a *And) Left() Expr { return a.left }

// Right returns the right operand.
func (a *And) Right() Expr { return a.right }

func (a *And) Children() []Expr { return []Expr{a.left, a.right} }

func (a *And) appendVars(s *varSet) {
	a.left.appendVars(s)
	a.right.appendVars(s)
}

func (a *And) resetEval() { a.rightCache.Reset() }

func (a *And) eval(ctx *evalCtx, src Binding, yieldFalse bool) stream {
	return func(yield func(Binding, bool) bool) {
		for lb, lok := range evalCondition(ctx, a.left, src, yieldFalse) {
			if !lok {
				if !yield(lb, false) {
					return
				}
				continue
			}
			if ctx.caching && a.rightCache.Check(lb) {
				for entry, out := range a.rightCache.Retrieve(lb) {
					held := out.(bool)
					if !held && !yieldFalse {
						continue
					}
					merged := lb.Clone()
					merged.update(Binding(entry))
					if !yield(merged, held) {
						return
					}
				}
				continue
			}
			for rb, rok := range evalCondition(ctx, a.right, lb, yieldFalse) {
				if ctx.caching {
					a.rightCache.Insert(restrict(rb, a.rightCache.Keys), rok, true)
				}
				if !yield(rb, rok) {
					return
				}
			}
		}
	}
}

// Union yields every solution of either operand, suppressing bindings
// already produced with the same values for the union's variables.
type Union struct {
	base

	left, right Expr
	varIDs      []int64
}

// Kind tags the node.
func (u *Union) Kind() Kind { return KindUnion }

// Left returns the left operand.
func (u *Union) Left() Expr { return u.left }

// Right returns the right operand.
func (u *Union) Right() Expr { return u.right }

func (u *Union) Children() []Expr { return []Expr{u.left, u.right} }

func (u *Union) appendVars(s *varSet) {
	u.left.appendVars(s)
	u.right.appendVars(s)
}

func (u *Union) eval(ctx *evalCtx, src Binding, yieldFalse bool) stream {
	return func(yield func(Binding, bool) bool) {
		seen := map[string]bool{}
		emit := func(b Binding, held bool) bool {
			if held {
				key := restrict(b, u.varIDs).encode()
				if seen[key] {
					return true
				}
				seen[key] = true
			} else if !yieldFalse {
				return true
			}
			return yield(b, held)
		}
		for lb, lok := range evalCondition(ctx, u.left, src, yieldFalse) {
			if !lok {
				// The branch failed here; the right side may still
				// succeed under the left side's bindings.
				for rb, rok := range evalCondition(ctx, u.right, lb, yieldFalse) {
					if !emit(rb, rok) {
						return
					}
				}
				continue
			}
			if !emit(lb, true) {
				return
			}
		}
		for rb, rok := range evalCondition(ctx, u.right, src, yieldFalse) {
			if !emit(rb, rok) {
				return
			}
		}
	}
}

// ElseIf yields the left side's solutions; for each left binding that
// fails, the right side is tried under it. When the left side produces
// nothing at all, the right side runs against the incoming binding.
type ElseIf struct {
	base

	left, right Expr
	rightCache  *cache.IndexedCache
}

// Kind tags the node.
func (e *ElseIf) Kind() Kind { return KindElseIf }

// Left returns the left operand.
func (e *ElseIf) Left() Expr { return e.left }

// Right returns the right operand.
func (e *ElseIf) Right() Expr { return e.right }

func (e *ElseIf) Children() []Expr { return []Expr{e.left, e.right} }

func (e *ElseIf) appendVars(s *varSet) {
	e.left.appendVars(s)
	e.right.appendVars(s)
}

func (e *ElseIf) resetEval() { e.rightCache.Reset() }

func (e *ElseIf) eval(ctx *evalCtx, src Binding, yieldFalse bool) stream {
	return func(yield func(Binding, bool) bool) {
		anyLeft := false
		// The left side must report its failures for else-if semantics
		// regardless of what the caller asked for.
		for lb, lok := range evalCondition(ctx, e.left, src, true) {
			anyLeft = true
			if lok {
				if !yield(lb, true) {
					return
				}
				continue
			}
			if ctx.caching && e.rightCache.Check(lb) {
				for entry, out := range e.rightCache.Retrieve(lb) {
					held := out.(bool)
					if !held && !yieldFalse {
						continue
					}
					merged := lb.Clone()
					merged.update(Binding(entry))
					if !yield(merged, held) {
						return
					}
				}
				continue
			}
			for rb, rok := range evalCondition(ctx, e.right, lb, yieldFalse) {
				if ctx.caching {
					e.rightCache.Insert(restrict(rb, e.rightCache.Keys), rok, true)
				}
				if !yield(rb, rok) {
					return
				}
			}
		}
		if !anyLeft {
			for rb, rok := range evalCondition(ctx, e.right, src, yieldFalse) {
				if !yield(rb, rok) {
					return
				}
			}
		}
	}
}
