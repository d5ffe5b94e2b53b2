// Package rules builds decision-list rule trees over a query descriptor.
//
// A rule starts from the descriptor's condition tree and grows by splicing
// selector nodes into it: a refinement overrides the current branch when
// its extra conditions match, an alternative runs only when the current
// branch did not fire, and a sequel always runs in addition. Conclusions
// attached to a branch are applied to solutions produced by that branch.
package rules

import (
	"fmt"

	"github.com/entityql/eql/internal/eql"
)

// Branch is an insertion point in the rule tree. The root branch wraps the
// descriptor's original conditions; every splice returns the branch of the
// newly added conditions, so rule construction nests naturally.
type Branch struct {
	b    *eql.Builder
	expr eql.Expr
	err  error
}

// New starts a rule over desc's condition tree. The descriptor must have
// conditions; an unconditional descriptor has nothing to branch from.
func New(b *eql.Builder, desc eql.Descriptor) *Branch {
	br := &Branch{b: b, expr: desc.Condition()}
	if br.expr == nil {
		br.err = fmt.Errorf("rule over %s: descriptor has no conditions", desc.Label())
	}
	return br
}

// Err returns the first error recorded while building the rule tree,
// falling back to the builder's own error.
func (br *Branch) Err() error {
	if br.err != nil {
		return br.err
	}
	return br.b.Err()
}

// Conclude attaches conclusions to this branch. They fire for solutions
// this branch produces, subject to the selectors spliced above it.
func (br *Branch) Conclude(cs ...*eql.Conclusion) *Branch {
	if br.expr != nil {
		br.b.Conclude(br.expr, cs...)
	}
	return br
}

// Refinement splices the conditions as an override of this branch: when
// they match under a solution of the branch, the refinement's conclusions
// fire instead of the branch's own.
func (br *Branch) Refinement(conds ...any) *Branch {
	return br.splice(eql.KindExceptIf, conds)
}

// Alternative splices the conditions as a fallback tried only for
// bindings on which the preceding branches did not fire.
func (br *Branch) Alternative(conds ...any) *Branch {
	return br.splice(eql.KindAlternative, conds)
}

// NextRule splices the conditions as a sequel that always runs after the
// preceding branches, contributing its own solutions and conclusions.
func (br *Branch) NextRule(conds ...any) *Branch {
	return br.splice(eql.KindNext, conds)
}

func (br *Branch) splice(kind eql.Kind, conds []any) *Branch {
	if br.expr == nil {
		return &Branch{b: br.b, err: br.err}
	}
	branch := br.b.And(conds...)
	if branch == nil {
		return br.fail(fmt.Errorf("%s branch needs at least one condition", kind))
	}

	current := br.expr
	if kind != eql.KindExceptIf {
		// Chained alternatives and sequels wrap the whole selector built
		// so far, not just the original conditions.
		switch p := parentExpr(current).(type) {
		case *eql.Alternative:
			current = p
		case *eql.Next:
			current = p
		case *eql.ExceptIf:
			if p.Left() == current {
				current = p
			}
		}
	}

	prev := parentExpr(current)
	eql.Detach(current)
	var sel eql.Expr
	switch kind {
	case eql.KindExceptIf:
		sel = br.b.ExceptIf(current, branch)
	case eql.KindAlternative:
		sel = br.b.Alternative(current, branch)
	case eql.KindNext:
		sel = br.b.Next(current, branch)
	}
	if prev != nil {
		if err := eql.ReplaceChild(prev, current, sel); err != nil {
			return br.fail(err)
		}
	}
	return &Branch{b: br.b, expr: branch}
}

func (br *Branch) fail(err error) *Branch {
	if br.err == nil {
		br.err = err
	}
	return &Branch{b: br.b, err: br.err}
}

// parentExpr resolves the expression owning e's primary parent node.
func parentExpr(e eql.Expr) eql.Expr {
	n := e.Node().Parent()
	if n == nil {
		return nil
	}
	if p, ok := n.Payload.(eql.Expr); ok {
		return p
	}
	return nil
}
