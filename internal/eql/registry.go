package eql

import (
	"fmt"
	"iter"
	"reflect"

	"github.com/entityql/eql/internal/hashed"
)

// Registry holds the world: every typed instance a registry-backed variable
// can range over. Instances are bucketed by concrete type and kept in
// insertion order, which is what makes query results deterministic for a
// fixed population.
type Registry struct {
	byType map[reflect.Type]*hashed.Set
	order  []reflect.Type

	inverses []inverseDecl
}

type inverseDecl struct {
	owner   reflect.Type // pointer-to-struct
	field   string
	inverse string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byType: map[reflect.Type]*hashed.Set{}}
}

// Add registers instances. Each instance lands in its concrete type's
// bucket; declared inverse relations are maintained symmetrically.
func (r *Registry) Add(objs ...any) {
	for _, obj := range objs {
		t := reflect.TypeOf(obj)
		bucket, ok := r.byType[t]
		if !ok {
			bucket = hashed.NewSet()
			r.byType[t] = bucket
			r.order = append(r.order, t)
		}
		if bucket.Add(hashed.Intern(obj)) {
			r.applyInverses(obj)
		}
	}
}

// InstancesOf iterates every registered instance assignable to t, bucket
// by bucket in registration order.
func (r *Registry) InstancesOf(t reflect.Type) iter.Seq[*hashed.Value] {
	return func(yield func(*hashed.Value) bool) {
		if t == nil {
			return
		}
		for _, bt := range r.order {
			if !typeAssignable(bt, t) {
				continue
			}
			for v := range r.byType[bt].All() {
				if !yield(v) {
					return
				}
			}
		}
	}
}

// CountOf returns the number of registered instances assignable to t.
func (r *Registry) CountOf(t reflect.Type) int {
	if t == nil {
		return 0
	}
	n := 0
	for _, bt := range r.order {
		if typeAssignable(bt, t) {
			n += r.byType[bt].Len()
		}
	}
	return n
}

// Types returns the registered concrete types in registration order.
func (r *Registry) Types() []reflect.Type {
	return append([]reflect.Type(nil), r.order...)
}

// Reset empties the registry and the process-wide intern table. Values
// obtained before the reset are stale afterwards.
func (r *Registry) Reset() {
	r.byType = map[reflect.Type]*hashed.Set{}
	r.order = nil
	hashed.ResetInterning()
}

// DeclareInverse declares that owner's slice-of-pointer field `field` has
// an inverse field `inverse` on the target type, to be maintained on Add.
// The declaration is validated immediately: the inverse field must exist
// on the target type and must be able to hold the owner, otherwise an
// InverseTypeError is returned and nothing is recorded.
func (r *Registry) DeclareInverse(owner any, field, inverse string) error {
	ot := reflect.TypeOf(owner)
	if ot == nil || ot.Kind() != reflect.Ptr || ot.Elem().Kind() != reflect.Struct {
		return &InverseTypeError{Owner: ot, Field: field, Inverse: inverse,
			Reason: "owner must be a pointer to struct"}
	}
	sf, ok := ot.Elem().FieldByName(field)
	if !ok {
		return &InverseTypeError{Owner: ot, Field: field, Inverse: inverse,
			Reason: fmt.Sprintf("no field %q on %s", field, ot.Elem())}
	}
	target := sf.Type
	if target.Kind() == reflect.Slice {
		target = target.Elem()
	}
	if target.Kind() != reflect.Ptr || target.Elem().Kind() != reflect.Struct {
		return &InverseTypeError{Owner: ot, Field: field, Inverse: inverse,
			Reason: fmt.Sprintf("field %q is not a pointer or slice of pointers", field)}
	}
	inv, ok := target.Elem().FieldByName(inverse)
	if !ok {
		return &InverseTypeError{Owner: ot, Field: field, Inverse: inverse,
			Reason: fmt.Sprintf("no field %q on %s", inverse, target.Elem())}
	}
	holds := inv.Type
	if holds.Kind() == reflect.Slice {
		holds = holds.Elem()
	}
	if holds != ot {
		return &InverseTypeError{Owner: ot, Field: field, Inverse: inverse,
			Reason: fmt.Sprintf("field %q holds %s, not %s", inverse, holds, ot)}
	}
	r.inverses = append(r.inverses, inverseDecl{owner: ot, field: field, inverse: inverse})
	return nil
}

// applyInverses back-fills declared inverse fields on the targets of obj.
func (r *Registry) applyInverses(obj any) {
	ot := reflect.TypeOf(obj)
	for _, d := range r.inverses {
		if d.owner != ot {
			continue
		}
		fv := reflect.ValueOf(obj).Elem().FieldByName(d.field)
		switch fv.Kind() {
		case reflect.Slice:
			for i := 0; i < fv.Len(); i++ {
				setInverse(fv.Index(i), d.inverse, obj)
			}
		case reflect.Ptr:
			setInverse(fv, d.inverse, obj)
		}
	}
}

func setInverse(target reflect.Value, inverse string, owner any) {
	if target.Kind() != reflect.Ptr || target.IsNil() {
		return
	}
	inv := target.Elem().FieldByName(inverse)
	ov := reflect.ValueOf(owner)
	switch inv.Kind() {
	case reflect.Slice:
		for i := 0; i < inv.Len(); i++ {
			if inv.Index(i).Interface() == owner {
				return
			}
		}
		inv.Set(reflect.Append(inv, ov))
	case reflect.Ptr:
		inv.Set(ov)
	}
}

func typeAssignable(concrete, want reflect.Type) bool {
	if concrete == want || concrete.AssignableTo(want) {
		return true
	}
	return want.Kind() == reflect.Interface && concrete.Implements(want)
}
