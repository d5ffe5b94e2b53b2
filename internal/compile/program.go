package compile

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/entityql/eql/internal/eql"
	"github.com/entityql/eql/internal/hashed"
)

// runState carries the per-run mutable pieces of a compiled procedure:
// the precomputed membership sets, the projection dedup set, and the
// consumer's yield.
type runState struct {
	reg   *eql.Registry
	sets  map[string]map[*hashed.Value]bool
	seen  map[string]bool
	yield func(any) bool
}

// step is one lowered construct. A step reads and writes env, calls next
// once per continuation it produces, and returns false only when the
// consumer stopped pulling.
type step func(rt *runState, env map[int64]any, next func() bool) bool

func runSteps(steps []step, rt *runState, env map[int64]any) bool {
	var run func(i int) bool
	run = func(i int) bool {
		if i == len(steps) {
			return true
		}
		return steps[i](rt, env, func() bool { return run(i + 1) })
	}
	return run(0)
}

// valueFn resolves one operand value under the current env.
type valueFn func(env map[int64]any) any

func envValue(id int64) valueFn {
	return func(env map[int64]any) any { return env[id] }
}

func constValue(v any) valueFn {
	return func(map[int64]any) any { return v }
}

func stepForVar(id int64, v *eql.Variable) step {
	return func(rt *runState, env map[int64]any, next func() bool) bool {
		if v.HasExplicitDomain() {
			for _, hv := range v.Domain() {
				env[id] = hv.Raw
				if !next() {
					return false
				}
			}
			return true
		}
		for hv := range rt.reg.InstancesOf(v.Type()) {
			env[id] = hv.Raw
			if !next() {
				return false
			}
		}
		return true
	}
}

func stepAssignConst(id int64, val any) step {
	return func(rt *runState, env map[int64]any, next func() bool) bool {
		env[id] = val
		return next()
	}
}

func stepAssignAttr(id, child int64, field string) step {
	return func(rt *runState, env map[int64]any, next func() bool) bool {
		v, ok := eql.ProjectField(env[child], field)
		if !ok {
			return true
		}
		env[id] = v
		return next()
	}
}

func stepAssignIndex(id, child int64, key any) step {
	return func(rt *runState, env map[int64]any, next func() bool) bool {
		v, ok := eql.IndexValue(env[child], key)
		if !ok {
			return true
		}
		env[id] = v
		return next()
	}
}

func stepForFlatten(id, child int64) step {
	return func(rt *runState, env map[int64]any, next func() bool) bool {
		for el := range eql.Elements(env[child]) {
			env[id] = el
			if !next() {
				return false
			}
		}
		return true
	}
}

func stepCheck(test func(env map[int64]any) bool) step {
	return func(rt *runState, env map[int64]any, next func() bool) bool {
		if !test(env) {
			return true
		}
		return next()
	}
}

func stepInSet(set string, item valueFn) step {
	return func(rt *runState, env map[int64]any, next func() bool) bool {
		if !rt.sets[set][hashed.Intern(item(env))] {
			return true
		}
		return next()
	}
}

func stepYield(id int64) step {
	return func(rt *runState, env map[int64]any, _ func() bool) bool {
		return rt.yield(env[id])
	}
}

func stepYieldRow(vals []valueFn) step {
	return func(rt *runState, env map[int64]any, _ func() bool) bool {
		row := make([]any, len(vals))
		for i, f := range vals {
			row[i] = f(env)
		}
		key := fingerprint(row)
		if rt.seen[key] {
			return true
		}
		rt.seen[key] = true
		return rt.yield(row)
	}
}

// fingerprint keys a projected row by the identities of its values, the
// same identities the interpreter deduplicates on.
func fingerprint(row []any) string {
	var b strings.Builder
	for _, v := range row {
		b.WriteString(strconv.FormatInt(hashed.Intern(v).ID, 10))
		b.WriteByte(';')
	}
	return b.String()
}

// precompute is one hoisted membership set: the union of a container
// attribute's elements across a variable's domain, pruned by literal
// equality filters on that same variable.
type precompute struct {
	set     string
	source  *eql.Variable
	path    []string
	filters []precomputeFilter
}

type precomputeFilter struct {
	path []string
	want any
}

func (p precompute) build(reg *eql.Registry) map[*hashed.Value]bool {
	out := map[*hashed.Value]bool{}
	add := func(raw any) {
		for _, f := range p.filters {
			got, ok := walkPath(raw, f.path)
			if !ok || !eql.OpEq.Apply(got, f.want) {
				return
			}
		}
		container, ok := walkPath(raw, p.path)
		if !ok {
			return
		}
		rv := reflect.ValueOf(container)
		switch rv.Kind() {
		case reflect.Slice, reflect.Array:
			for i := 0; i < rv.Len(); i++ {
				out[hashed.Intern(rv.Index(i).Interface())] = true
			}
		case reflect.Map:
			// Map containment is key membership.
			for _, k := range rv.MapKeys() {
				out[hashed.Intern(k.Interface())] = true
			}
		}
	}
	if p.source.HasExplicitDomain() {
		for _, hv := range p.source.Domain() {
			add(hv.Raw)
		}
		return out
	}
	for hv := range reg.InstancesOf(p.source.Type()) {
		add(hv.Raw)
	}
	return out
}

func walkPath(raw any, path []string) (any, bool) {
	cur := raw
	for _, f := range path {
		v, ok := eql.ProjectField(cur, f)
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}
