package eql

import (
	"fmt"

	"github.com/entityql/eql/internal/hashed"
)

// ConclusionKind distinguishes the two binding mutations a fired rule
// branch can make.
type ConclusionKind int

const (
	// ConclusionSet assigns the value to the target variable's slot.
	ConclusionSet ConclusionKind = iota

	// ConclusionAdd contributes the value to the target variable's slot:
	// the first value binds directly, further values accumulate into a
	// collection.
	ConclusionAdd
)

// Conclusion is an action clause attached to a condition node. When the
// node fires for a binding, the conclusion adjusts that binding only;
// registry instances are never mutated.
type Conclusion struct {
	kind   ConclusionKind
	target *Variable
	value  Expr
}

// Kind tags the conclusion.
func (c *Conclusion) Kind() ConclusionKind { return c.kind }

// Target returns the variable the conclusion writes.
func (c *Conclusion) Target() *Variable { return c.target }

// Value returns the expression supplying the written value.
func (c *Conclusion) Value() Expr { return c.value }

func (c *Conclusion) String() string {
	op := "set"
	if c.kind == ConclusionAdd {
		op = "add"
	}
	return fmt.Sprintf("%s(%s, %s)", op, c.target.Label(), c.value.Label())
}

// apply evaluates the value under b and writes it into a copy of b.
// The first value solution wins; a value with no solution leaves b
// untouched.
func (c *Conclusion) apply(ctx *evalCtx, b Binding) Binding {
	var val *hashed.Value
	for vb, ok := range c.value.eval(ctx, b, false) {
		if !ok {
			continue
		}
		val = vb[c.value.ID()]
		break
	}
	if val == nil {
		return b
	}
	out := b.Clone()
	switch c.kind {
	case ConclusionSet:
		out[c.target.id] = val
	case ConclusionAdd:
		cur, ok := out[c.target.id]
		if !ok {
			out[c.target.id] = val
			break
		}
		var items []any
		if xs, isSlice := cur.Raw.([]any); isSlice {
			items = append(items, xs...)
		} else {
			items = append(items, cur.Raw)
		}
		items = append(items, val.Raw)
		out[c.target.id] = hashed.Intern(items)
	}
	return out
}

// applyConclusions runs every conclusion in order over b.
func applyConclusions(ctx *evalCtx, b Binding, cs []*Conclusion) Binding {
	for _, c := range cs {
		b = c.apply(ctx, b)
	}
	return b
}
