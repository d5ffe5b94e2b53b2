package eql

// Descriptor is the query-object surface shared by Entity and SetOf: the
// condition tree plus the selected projection. The rule engine splices
// selectors between a descriptor and its condition root.
type Descriptor interface {
	Expr

	// Condition returns the condition root, or nil for an unconditional
	// descriptor.
	Condition() Expr

	// SetCondition replaces the condition root. Used by rule splicing.
	SetCondition(Expr)

	// row projects one result from a solution binding.
	row(b Binding) any
}

// Entity describes a query over a single selected variable.
type Entity struct {
	base

	selected *Variable
	cond     Expr

	warned map[int64]bool
}

// Kind tags the node.
func (e *Entity) Kind() Kind { return KindEntity }

// Selected returns the selected variable.
func (e *Entity) Selected() *Variable { return e.selected }

// Condition returns the condition root, or nil.
func (e *Entity) Condition() Expr { return e.cond }

// SetCondition replaces the condition root.
func (e *Entity) SetCondition(c Expr) { e.cond = c }

func (e *Entity) Children() []Expr {
	if e.cond == nil {
		return nil
	}
	return []Expr{e.cond}
}

func (e *Entity) appendVars(s *varSet) {
	s.add(e.selected)
	if e.cond != nil {
		e.cond.appendVars(s)
	}
}

func (e *Entity) row(b Binding) any {
	if v, ok := b[e.selected.id]; ok {
		return v.Raw
	}
	return nil
}

func (e *Entity) eval(ctx *evalCtx, src Binding, yieldFalse bool) stream {
	return func(yield func(Binding, bool) bool) {
		for cb, ok := range descriptorSolutions(ctx, e.cond, src, yieldFalse) {
			if !ok && !yieldFalse {
				continue
			}
			warnUnboundVariables(ctx, e, cb, []*Variable{e.selected}, e.warned)
			for vb := range e.selected.eval(ctx, cb, false) {
				out := vb.Clone()
				out[e.id] = out[e.selected.id]
				if !yield(out, ok) {
					return
				}
			}
		}
	}
}

// SetOf describes a query over a tuple of selected expressions. Each
// solution is one assignment of all selected expressions.
type SetOf struct {
	base

	selected []Expr
	cond     Expr

	warned map[int64]bool
}

// Kind tags the node.
func (s *SetOf) Kind() Kind { return KindSetOf }

// Selected returns the selected expressions in declaration order.
func (s *SetOf) Selected() []Expr { return append([]Expr(nil), s.selected...) }

// Condition returns the condition root, or nil.
func (s *SetOf) Condition() Expr { return s.cond }

// SetCondition replaces the condition root.
func (s *SetOf) SetCondition(c Expr) { s.cond = c }

func (s *SetOf) Children() []Expr {
	out := append([]Expr(nil), s.selected...)
	if s.cond != nil {
		out = append(out, s.cond)
	}
	return out
}

func (s *SetOf) appendVars(vs *varSet) {
	for _, sel := range s.selected {
		sel.appendVars(vs)
	}
	if s.cond != nil {
		s.cond.appendVars(vs)
	}
}

func (s *SetOf) row(b Binding) any {
	row := make([]any, len(s.selected))
	for i, sel := range s.selected {
		if v, ok := b[sel.ID()]; ok {
			row[i] = v.Raw
		}
	}
	return row
}

func (s *SetOf) eval(ctx *evalCtx, src Binding, yieldFalse bool) stream {
	return func(yield func(Binding, bool) bool) {
		var selVars []*Variable
		vs := newVarSet()
		for _, sel := range s.selected {
			sel.appendVars(vs)
		}
		selVars = vs.order
		for cb, ok := range descriptorSolutions(ctx, s.cond, src, yieldFalse) {
			if !ok && !yieldFalse {
				continue
			}
			warnUnboundVariables(ctx, s, cb, selVars, s.warned)
			for full := range generateBindings(ctx, s.selected, cb) {
				out := full.Clone()
				if len(s.selected) > 0 {
					if v, has := out[s.selected[0].ID()]; has {
						out[s.id] = v
					}
				}
				if !yield(out, ok) {
					return
				}
			}
		}
	}
}

// descriptorSolutions streams the condition's solutions with attached and
// selector-fired conclusions applied, or a single pass-through binding
// when there is no condition.
func descriptorSolutions(ctx *evalCtx, cond Expr, src Binding, yieldFalse bool) stream {
	return func(yield func(Binding, bool) bool) {
		if cond == nil {
			yield(src.Clone(), true)
			return
		}
		for cb, ok := range evalCondition(ctx, cond, src, yieldFalse) {
			fired := ctx.takeExtra()
			b := cb
			if ok {
				b = applyConclusions(ctx, b, conclusionsOf(cond))
				b = applyConclusions(ctx, b, fired)
			}
			if !yield(b, ok) {
				return
			}
		}
	}
}

// warnUnboundVariables logs once per variable per descriptor when a
// selected variable is still unbound after the conditions ran and its
// domain is large enough to make the cartesian join costly.
func warnUnboundVariables(ctx *evalCtx, d Expr, b Binding, vars []*Variable, warned map[int64]bool) {
	if ctx.logger == nil {
		return
	}
	const cartesianWarnThreshold = 20
	for _, v := range vars {
		if v.literal || warned[v.id] {
			continue
		}
		if _, bound := b[v.id]; bound {
			continue
		}
		if v.domainSize(ctx) <= cartesianWarnThreshold {
			continue
		}
		warned[v.id] = true
		ctx.logger.Warn("cartesian product: variable is not constrained by the conditions",
			"descriptor", d.Label(),
			"variable", v.Label(),
			"domain_size", v.domainSize(ctx))
	}
}
