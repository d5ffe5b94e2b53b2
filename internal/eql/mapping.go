package eql

import (
	"iter"
	"reflect"

	"github.com/entityql/eql/internal/hashed"
)

// Attribute projects a named field from its child's value. The projected
// value inherits the child value's identity, so projections of the same
// entity deduplicate together.
type Attribute struct {
	base

	child  Expr
	field  string
	invert bool
}

// Kind tags the node.
func (a *Attribute) Kind() Kind { return KindAttribute }

// Child returns the projected expression.
func (a *Attribute) Child() Expr { return a.child }

// Field returns the projected field name.
func (a *Attribute) Field() string { return a.field }

// Inverted reports whether the node's truthiness was negated.
func (a *Attribute) Inverted() bool { return a.invert }

func (a *Attribute) Children() []Expr     { return []Expr{a.child} }
func (a *Attribute) appendVars(s *varSet) { a.child.appendVars(s) }

func (a *Attribute) eval(ctx *evalCtx, src Binding, yieldFalse bool) stream {
	return mappingStream(ctx, src, yieldFalse, a, a.child, a.invert,
		func(v *hashed.Value) iter.Seq[*hashed.Value] {
			return func(yield func(*hashed.Value) bool) {
				if out, ok := ProjectField(v.Raw, a.field); ok {
					yield(hashed.Derive(v, out))
				}
			}
		})
}

// Index looks up a key or position in its child's value, as [] does.
type Index struct {
	base

	child  Expr
	key    any
	invert bool
}

// Kind tags the node.
func (ix *Index) Kind() Kind { return KindIndex }

// Child returns the indexed expression.
func (ix *Index) Child() Expr { return ix.child }

// Key returns the index key.
func (ix *Index) Key() any { return ix.key }

// Inverted reports whether the node's truthiness was negated.
func (ix *Index) Inverted() bool { return ix.invert }

func (ix *Index) Children() []Expr     { return []Expr{ix.child} }
func (ix *Index) appendVars(s *varSet) { ix.child.appendVars(s) }

func (ix *Index) eval(ctx *evalCtx, src Binding, yieldFalse bool) stream {
	return mappingStream(ctx, src, yieldFalse, ix, ix.child, ix.invert,
		func(v *hashed.Value) iter.Seq[*hashed.Value] {
			return func(yield func(*hashed.Value) bool) {
				if out, ok := IndexValue(v.Raw, ix.key); ok {
					yield(hashed.Derive(v, out))
				}
			}
		})
}

// Flatten unnests its child: one solution per inner element of the child's
// iterable value, like UNNEST in SQL. Each element gets a fresh identity.
type Flatten struct {
	base

	child  Expr
	invert bool
}

// Kind tags the node.
func (f *Flatten) Kind() Kind { return KindFlatten }

// Child returns the flattened expression.
func (f *Flatten) Child() Expr { return f.child }

// Inverted reports whether the node's truthiness was negated.
func (f *Flatten) Inverted() bool { return f.invert }

func (f *Flatten) Children() []Expr     { return []Expr{f.child} }
func (f *Flatten) appendVars(s *varSet) { f.child.appendVars(s) }

func (f *Flatten) eval(ctx *evalCtx, src Binding, yieldFalse bool) stream {
	return mappingStream(ctx, src, yieldFalse, f, f.child, f.invert,
		func(v *hashed.Value) iter.Seq[*hashed.Value] {
			return func(yield func(*hashed.Value) bool) {
				for el := range Elements(v.Raw) {
					if !yield(hashed.Intern(el)) {
						return
					}
				}
			}
		})
}

// Concatenate collects the child's values across all of its solutions into
// a single slice-valued solution.
type Concatenate struct {
	base

	child Expr
}

// Kind tags the node.
func (c *Concatenate) Kind() Kind { return KindConcatenate }

// Child returns the collected expression.
func (c *Concatenate) Child() Expr { return c.child }

func (c *Concatenate) Children() []Expr     { return []Expr{c.child} }
func (c *Concatenate) appendVars(s *varSet) { c.child.appendVars(s) }

func (c *Concatenate) eval(ctx *evalCtx, src Binding, yieldFalse bool) stream {
	return func(yield func(Binding, bool) bool) {
		if _, bound := src[c.id]; bound {
			yield(src, true)
			return
		}
		var all []any
		for cb, ok := range c.child.eval(ctx, src, false) {
			if !ok {
				continue
			}
			if v, has := cb[c.child.ID()]; has {
				for el := range Elements(v.Raw) {
					all = append(all, el)
				}
			}
		}
		out := src.Clone()
		out[c.id] = hashed.Intern(all)
		yield(out, true)
	}
}

// mappingStream is the shared evaluation shape of the domain mappings:
// bound short-circuit, then one mapped value per child solution, with the
// mapped value's truthiness deciding whether the condition held.
func mappingStream(ctx *evalCtx, src Binding, yieldFalse bool, self Expr, child Expr, invert bool, apply func(*hashed.Value) iter.Seq[*hashed.Value]) stream {
	return func(yield func(Binding, bool) bool) {
		if _, bound := src[self.ID()]; bound {
			yield(src, true)
			return
		}
		for cb := range child.eval(ctx, src, yieldFalse) {
			cv, has := cb[child.ID()]
			if !has {
				continue
			}
			for mv := range apply(cv) {
				held := hashed.Truthy(mv) != invert
				if !held && !yieldFalse {
					continue
				}
				out := cb.Clone()
				out[self.ID()] = mv
				if !yield(out, held) {
					return
				}
			}
		}
	}
}

// ProjectField reads an exported field from raw, dereferencing pointers.
func ProjectField(raw any, field string) (any, bool) {
	rv := reflect.ValueOf(raw)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, false
	}
	fv := rv.FieldByName(field)
	if !fv.IsValid() {
		return nil, false
	}
	return fv.Interface(), true
}

// IndexValue performs map or positional lookup on raw.
func IndexValue(raw any, key any) (any, bool) {
	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Map:
		kv := reflect.ValueOf(key)
		if !kv.IsValid() || !kv.Type().AssignableTo(rv.Type().Key()) {
			return nil, false
		}
		out := rv.MapIndex(kv)
		if !out.IsValid() {
			return nil, false
		}
		return out.Interface(), true
	case reflect.Slice, reflect.Array, reflect.String:
		i, ok := key.(int)
		if !ok || i < 0 || i >= rv.Len() {
			return nil, false
		}
		return rv.Index(i).Interface(), true
	}
	return nil, false
}

// Elements iterates raw's items: slice, array, and map values iterate
// element-wise; anything else is a singleton.
func Elements(raw any) iter.Seq[any] {
	return func(yield func(any) bool) {
		rv := reflect.ValueOf(raw)
		switch rv.Kind() {
		case reflect.Slice, reflect.Array:
			for i := 0; i < rv.Len(); i++ {
				if !yield(rv.Index(i).Interface()) {
					return
				}
			}
		case reflect.Map:
			for _, k := range rv.MapKeys() {
				if !yield(rv.MapIndex(k).Interface()) {
					return
				}
			}
		default:
			yield(raw)
		}
	}
}
