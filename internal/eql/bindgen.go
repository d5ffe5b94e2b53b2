package eql

import (
	"iter"
	"sort"
)

// generateBindings yields one complete binding per combination of values
// for items, depth first with backtracking. Each item's stream is
// evaluated under the accumulated partial binding, so every constraint
// prunes the search before deeper items expand; the output is therefore a
// subset of the naive cartesian product, and equal to it only when the
// items are mutually independent.
//
// A heuristic orders the items so that already-bound, indexed, and
// explicitly constrained ones expand first.
func generateBindings(ctx *evalCtx, items []Expr, src Binding) iter.Seq[Binding] {
	ordered := make([]Expr, len(items))
	copy(ordered, items)
	score := func(e Expr) int {
		s := 0
		if _, bound := src[e.ID()]; !bound {
			s += 4
		}
		v, isVar := e.(*Variable)
		if !isVar || !v.indexed {
			s += 2
		}
		if !isVar || !v.HasExplicitDomain() {
			s++
		}
		return s
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return score(ordered[i]) < score(ordered[j])
	})

	return func(yield func(Binding) bool) {
		acc := src.Clone()
		var dfs func(i int) bool
		dfs = func(i int) bool {
			if i == len(ordered) {
				return yield(acc.Clone())
			}
			e := ordered[i]
			for b, ok := range e.eval(ctx, acc, false) {
				if !ok {
					continue
				}
				if _, has := b[e.ID()]; !has {
					continue
				}
				// Adopt every binding the item produced, including the
				// ones its sub-expressions made, so later items prune
				// against them; drop them all on backtrack.
				var added []int64
				for k, v := range b {
					if _, had := acc[k]; !had {
						acc[k] = v
						added = append(added, k)
					}
				}
				if !dfs(i + 1) {
					return false
				}
				for _, k := range added {
					delete(acc, k)
				}
			}
			return true
		}
		dfs(0)
	}
}
