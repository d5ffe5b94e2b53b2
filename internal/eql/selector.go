package eql

import (
	"github.com/entityql/eql/internal/cache"
)

// The rule selectors are the logical connectives spliced in by the rule
// engine. They evaluate like their plain counterparts but additionally
// decide which branch's conclusions fire for each yielded binding. The
// selected conclusions travel through the evaluation context and are
// consumed by the enclosing query descriptor.

// ExceptIf yields the left branch's solutions unless the right branch
// matches under them: when the right side produces values, those values
// flow through and the right branch's conclusions fire instead of the
// left's.
type ExceptIf struct {
	base

	left, right Expr
	rightCache  *cache.IndexedCache
}

// Kind tags the node.
func (e *ExceptIf) Kind() Kind { return KindExceptIf }

// Left returns the base branch.
func (e *ExceptIf) Left() Expr { return e.left }

// Right returns the refinement branch.
func (e *ExceptIf) Right() Expr { return e.right }

func (e *ExceptIf) Children() []Expr { return []Expr{e.left, e.right} }

// Cache returns the refinement branch's memo store, mainly for counter
// inspection.
func (e *ExceptIf) Cache() *cache.IndexedCache { return e.rightCache }

func (e *ExceptIf) appendVars(s *varSet) {
	e.left.appendVars(s)
	e.right.appendVars(s)
}

func (e *ExceptIf) resetEval() { e.rightCache.Reset() }

func (e *ExceptIf) eval(ctx *evalCtx, src Binding, yieldFalse bool) stream {
	return func(yield func(Binding, bool) bool) {
		for lb, lok := range evalCondition(ctx, e.left, src, yieldFalse) {
			if !lok {
				if !yield(lb, false) {
					return
				}
				continue
			}
			refined := false
			if ctx.caching && e.rightCache.Check(lb) {
				for entry, out := range e.rightCache.Retrieve(lb) {
					if !out.(bool) {
						continue
					}
					refined = true
					ctx.addExtra(conclusionsOf(e.right)...)
					merged := lb.Clone()
					merged.update(Binding(entry))
					if !yield(merged, true) {
						return
					}
				}
			} else {
				// The refinement must report its failures so they land in
				// the memo alongside the successes.
				for rb, rok := range evalCondition(ctx, e.right, lb, true) {
					if ctx.caching {
						e.rightCache.Insert(restrict(rb, e.rightCache.Keys), rok, true)
					}
					if !rok {
						continue
					}
					refined = true
					ctx.addExtra(conclusionsOf(e.right)...)
					if !yield(rb, true) {
						return
					}
				}
			}
			if !refined {
				ctx.addExtra(conclusionsOf(e.left)...)
				if !yield(lb, true) {
					return
				}
			}
		}
	}
}

// Alternative behaves like ElseIf and selects the fired branch's
// conclusions: the left branch's when it held, otherwise the right's.
// A conclusion set fires at most once per distinct assignment of its
// variables per evaluation.
type Alternative struct {
	base

	left, right Expr
	fired       *cache.SeenSet
}

// Kind tags the node.
func (a *Alternative) Kind() Kind { return KindAlternative }

// Left returns the first branch.
func (a *Alternative) Left() Expr { return a.left }

// Right returns the fallback branch.
func (a *Alternative) Right() Expr { return a.right }

func (a *Alternative) Children() []Expr { return []Expr{a.left, a.right} }

func (a *Alternative) appendVars(s *varSet) {
	a.left.appendVars(s)
	a.right.appendVars(s)
}

func (a *Alternative) resetEval() { a.fired.Clear() }

func (a *Alternative) eval(ctx *evalCtx, src Binding, yieldFalse bool) stream {
	return func(yield func(Binding, bool) bool) {
		anyLeft := false
		for lb, lok := range evalCondition(ctx, a.left, src, true) {
			anyLeft = true
			if lok {
				a.selectConclusions(ctx, lb, conclusionsOf(a.left))
				if !yield(lb, true) {
					return
				}
				continue
			}
			for rb, rok := range evalCondition(ctx, a.right, lb, yieldFalse) {
				if rok {
					a.selectConclusions(ctx, rb, conclusionsOf(a.right))
				}
				if !yield(rb, rok) {
					return
				}
			}
		}
		if !anyLeft {
			for rb, rok := range evalCondition(ctx, a.right, src, yieldFalse) {
				if rok {
					a.selectConclusions(ctx, rb, conclusionsOf(a.right))
				}
				if !yield(rb, rok) {
					return
				}
			}
		}
	}
}

// Next always evaluates both branches, like Union, and fires the
// conclusions of whichever branch produced each binding.
type Next struct {
	base

	left, right Expr
	varIDs      []int64
	fired       *cache.SeenSet
}

// Kind tags the node.
func (n *Next) Kind() Kind { return KindNext }

// Left returns the current branch.
func (n *Next) Left() Expr { return n.left }

// Right returns the sequel branch.
func (n *Next) Right() Expr { return n.right }

func (n *Next) Children() []Expr { return []Expr{n.left, n.right} }

func (n *Next) appendVars(s *varSet) {
	n.left.appendVars(s)
	n.right.appendVars(s)
}

func (n *Next) resetEval() { n.fired.Clear() }

func (n *Next) eval(ctx *evalCtx, src Binding, yieldFalse bool) stream {
	return func(yield func(Binding, bool) bool) {
		seen := map[string]bool{}
		emit := func(b Binding, held bool, cs []*Conclusion) bool {
			if held {
				key := restrict(b, n.varIDs).encode()
				if seen[key] {
					return true
				}
				seen[key] = true
				n.selectConclusions(ctx, b, cs)
			} else if !yieldFalse {
				return true
			}
			return yield(b, held)
		}
		for lb, lok := range evalCondition(ctx, n.left, src, yieldFalse) {
			if !emit(lb, lok, conclusionsOf(n.left)) {
				return
			}
		}
		for rb, rok := range evalCondition(ctx, n.right, src, yieldFalse) {
			if !emit(rb, rok, conclusionsOf(n.right)) {
				return
			}
		}
	}
}

func (a *Alternative) selectConclusions(ctx *evalCtx, b Binding, cs []*Conclusion) {
	selectFired(ctx, a.fired, b, cs)
}

func (n *Next) selectConclusions(ctx *evalCtx, b Binding, cs []*Conclusion) {
	selectFired(ctx, n.fired, b, cs)
}

// selectFired hands cs to the context unless the same conclusion-variable
// assignment already fired during this evaluation.
func selectFired(ctx *evalCtx, fired *cache.SeenSet, b Binding, cs []*Conclusion) {
	if len(cs) == 0 {
		return
	}
	ids := newVarSet()
	for _, c := range cs {
		c.value.appendVars(ids)
		ids.add(c.target)
	}
	key := restrict(b, ids.nonLiteralIDs())
	if fired.Check(key) {
		return
	}
	fired.Add(key)
	ctx.addExtra(cs...)
}
