package eql

import (
	"github.com/entityql/eql/internal/hashed"
)

// Compute derives a value from its argument expressions with a caller
// supplied function. It always holds; its use is producing conclusion
// values, typically freshly inferred entities built from bound variables.
type Compute struct {
	base

	name string
	fn   func(args ...any) any
	args []Expr
}

// Kind tags the node.
func (c *Compute) Kind() Kind { return KindCompute }

// Name returns the computation's display name.
func (c *Compute) Name() string { return c.name }

// Args returns the argument expressions in call order.
func (c *Compute) Args() []Expr { return append([]Expr(nil), c.args...) }

func (c *Compute) Children() []Expr { return append([]Expr(nil), c.args...) }

func (c *Compute) appendVars(s *varSet) {
	for _, a := range c.args {
		a.appendVars(s)
	}
}

func (c *Compute) eval(ctx *evalCtx, src Binding, yieldFalse bool) stream {
	return func(yield func(Binding, bool) bool) {
		if _, bound := src[c.id]; bound {
			yield(src, true)
			return
		}
		for full := range generateBindings(ctx, c.args, src) {
			vals := make([]any, len(c.args))
			complete := true
			for i, a := range c.args {
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
			out := full.Clone()
			out[c.id] = hashed.Intern(c.fn(vals...))
			if !yield(out, true) {
				return
			}
		}
	}
}
