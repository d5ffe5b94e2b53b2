package eql

// ForAll holds when its condition holds for every value of the universal
// variable. The survivors are the assignments of the condition's other
// variables that worked for all values: per value, the condition's
// solutions are projected onto those variables, and the running solution
// set is intersected with them. The walk stops early only when the
// intersection empties.
type ForAll struct {
	base

	variable *Variable
	cond     Expr

	// condOnlyIDs are the condition's non-literal variables minus the
	// universal variable.
	condOnlyIDs []int64
}

// Kind tags the node.
func (f *ForAll) Kind() Kind { return KindForAll }

// Variable returns the universally quantified variable.
func (f *ForAll) Variable() *Variable { return f.variable }

// Condition returns the quantified condition.
func (f *ForAll) Condition() Expr { return f.cond }

func (f *ForAll) Children() []Expr { return []Expr{f.variable, f.cond} }

func (f *ForAll) appendVars(s *varSet) {
	f.variable.appendVars(s)
	f.cond.appendVars(s)
}

func (f *ForAll) eval(ctx *evalCtx, src Binding, yieldFalse bool) stream {
	return func(yield func(Binding, bool) bool) {
		var solutions []Binding
		first := true
		for vb := range f.variable.eval(ctx, src, false) {
			var current []Binding
			for cb, ok := range evalCondition(ctx, f.cond, vb, false) {
				if !ok {
					continue
				}
				current = append(current, restrict(cb, f.condOnlyIDs))
			}
			if len(current) == 0 {
				// One universal value with no satisfying bindings sinks
				// the whole quantifier.
				solutions = nil
				break
			}
			if first {
				solutions = current
				first = false
				continue
			}
			inCurrent := make(map[string]bool, len(current))
			for _, c := range current {
				inCurrent[c.encode()] = true
			}
			var kept []Binding
			for _, s := range solutions {
				if inCurrent[s.encode()] {
					kept = append(kept, s)
				}
			}
			solutions = kept
			if len(solutions) == 0 {
				break
			}
		}
		for _, sol := range solutions {
			out := sol.Clone()
			out.update(src)
			if !yield(out, true) {
				return
			}
		}
	}
}
