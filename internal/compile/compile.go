// Package compile lowers a built query tree into a straight-line
// procedure of loops, assignments, and tests, together with a readable
// source rendering of that procedure. The compiled procedure reproduces
// the interpreter's results without tree-walking overhead: registry
// variables become instance loops, attribute access becomes an
// assignment, flatten becomes a nested loop, and a membership test whose
// container is invariant across the enclosing loops is hoisted into a
// set precomputed once up front.
//
// Lowering is intentionally partial. Node kinds with data-dependent
// control flow (disjunction, universal quantification, rule selectors)
// are not lowered; compiling them fails fast with a CompilationError.
package compile

import (
	"fmt"
	"iter"
	"strings"

	"github.com/entityql/eql/internal/eql"
	"github.com/entityql/eql/internal/hashed"
)

// CompilationError reports an expression node the lowering does not
// recognize or cannot express as straight-line loops.
type CompilationError struct {
	// Kind is the offending node kind.
	Kind eql.Kind

	// Detail narrows the failure when the kind alone is ambiguous.
	Detail string
}

// Error implements the error interface.
func (e *CompilationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("cannot compile %s node: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("cannot compile %s node", e.Kind)
}

// Compiled is a lowered query: the generated source text and the
// executable procedure it describes.
type Compiled struct {
	// Source is the procedure rendered as source text, for inspection
	// and golden testing.
	Source string

	reg   *eql.Registry
	pre   []precompute
	steps []step
}

// Run executes the procedure, streaming results lazily. Each call builds
// the precomputed sets afresh, so repeated runs see current registry
// contents.
func (c *Compiled) Run() iter.Seq[any] {
	return func(yield func(any) bool) {
		rt := &runState{
			reg:   c.reg,
			sets:  map[string]map[*hashed.Value]bool{},
			seen:  map[string]bool{},
			yield: yield,
		}
		for _, p := range c.pre {
			rt.sets[p.set] = p.build(c.reg)
		}
		runSteps(c.steps, rt, map[int64]any{})
	}
}

// Query lowers q. The query tree must be structurally valid and consist
// only of compilable node kinds.
func Query(q *eql.Query) (*Compiled, error) {
	if err := q.Err(); err != nil {
		return nil, err
	}
	c := &compiler{
		q:        q,
		src:      &sourceBuf{},
		names:    map[int64]string{},
		used:     map[string]bool{},
		tmpN:     map[string]int{},
		preBySig: map[string]string{},
		consumed: map[int64]bool{},
	}
	// Identifiers the generated skeleton uses for itself.
	for _, r := range []string{"yield", "seen", "row", "key", "el", "instances", "attr", "index", "elems", "fingerprint", "truthy"} {
		c.used[r] = true
	}
	if err := c.lower(); err != nil {
		return nil, err
	}
	return &Compiled{
		Source: strings.Join(c.src.lines, "\n") + "\n",
		reg:    q.Registry(),
		pre:    c.pre,
		steps:  c.steps,
	}, nil
}

type compiler struct {
	q   *eql.Query
	src *sourceBuf

	names map[int64]string
	used  map[string]bool
	tmpN  map[string]int

	pre      []precompute
	preBySig map[string]string
	consumed map[int64]bool

	steps []step
}

type sourceBuf struct {
	lines  []string
	indent int
}

func (s *sourceBuf) add(line string) {
	s.lines = append(s.lines, strings.Repeat("\t", s.indent)+line)
}

func (s *sourceBuf) open(line string) {
	s.add(line)
	s.indent++
}

func (s *sourceBuf) close() {
	s.indent--
	s.add("}")
}

func (s *sourceBuf) closeTo(level int) {
	for s.indent > level {
		s.close()
	}
}

func (c *compiler) newName(base string) string {
	if !c.used[base] {
		c.used[base] = true
		return base
	}
	for i := 2; ; i++ {
		name := fmt.Sprintf("%s_%d", base, i)
		if !c.used[name] {
			c.used[name] = true
			return name
		}
	}
}

func (c *compiler) tmp(prefix string) string {
	n := c.tmpN[prefix]
	c.tmpN[prefix]++
	return c.newName(fmt.Sprintf("%s_%d", prefix, n))
}

func (c *compiler) lower() error {
	desc := c.q.Descriptor()
	kindWord := "an"
	if c.q.Kind() == eql.KindThe {
		kindWord = "the"
	}
	c.src.add(fmt.Sprintf("// compiled from %s(%s)", kindWord, desc.Label()))
	c.src.open("func(yield func(any) bool) bool {")

	cond := desc.Condition()
	c.plan(desc, cond)
	c.emitPrecomputes()

	switch d := desc.(type) {
	case *eql.Entity:
		if _, err := c.bindValue(d.Selected()); err != nil {
			return err
		}
		if cond != nil {
			if err := c.emitCond(cond); err != nil {
				return err
			}
		}
		c.src.open(fmt.Sprintf("if !yield(%s) {", c.names[d.Selected().ID()]))
		c.src.add("return false")
		c.src.close()
		c.steps = append(c.steps, stepYield(d.Selected().ID()))
	case *eql.SetOf:
		c.src.add("seen := make(map[string]bool)")
		selected := d.Selected()
		for _, sel := range selected {
			for _, v := range baseVars(sel) {
				if _, err := c.bindValue(v); err != nil {
					return err
				}
			}
		}
		vals := make([]valueFn, 0, len(selected))
		srcs := make([]string, 0, len(selected))
		for _, sel := range selected {
			fn, s, err := c.valueOf(sel)
			if err != nil {
				return err
			}
			vals = append(vals, fn)
			srcs = append(srcs, s)
		}
		if cond != nil {
			if err := c.emitCond(cond); err != nil {
				return err
			}
		}
		c.src.add(fmt.Sprintf("row := []any{%s}", strings.Join(srcs, ", ")))
		c.src.add("key := fingerprint(row)")
		c.src.open("if !seen[key] {")
		c.src.add("seen[key] = true")
		c.src.open("if !yield(row) {")
		c.src.add("return false")
		c.src.close()
		c.src.close()
		c.steps = append(c.steps, stepYieldRow(vals))
	default:
		return &CompilationError{Kind: desc.Kind(), Detail: "unsupported query descriptor"}
	}

	c.src.closeTo(1)
	c.src.add("return true")
	c.src.close()
	return nil
}

// bindValue ensures e's value is available under its ID at run time,
// emitting the loop or assignment that produces it. Returns the source
// identifier the value is bound to.
func (c *compiler) bindValue(e eql.Expr) (string, error) {
	if name, ok := c.names[e.ID()]; ok {
		return name, nil
	}
	switch n := e.(type) {
	case *eql.Variable:
		return c.bindVariable(n)
	case *eql.Attribute:
		if n.Inverted() {
			return "", &CompilationError{Kind: n.Kind(), Detail: "negated projection"}
		}
		child, err := c.bindValue(n.Child())
		if err != nil {
			return "", err
		}
		name := c.newName(child + "_" + snake(n.Field()))
		c.names[e.ID()] = name
		c.src.add(fmt.Sprintf("%s := attr(%s, %q)", name, child, n.Field()))
		c.steps = append(c.steps, stepAssignAttr(e.ID(), n.Child().ID(), n.Field()))
		return name, nil
	case *eql.Index:
		if n.Inverted() {
			return "", &CompilationError{Kind: n.Kind(), Detail: "negated projection"}
		}
		child, err := c.bindValue(n.Child())
		if err != nil {
			return "", err
		}
		name := c.tmp("idx")
		c.names[e.ID()] = name
		c.src.add(fmt.Sprintf("%s := index(%s, %s)", name, child, literalSrc(n.Key())))
		c.steps = append(c.steps, stepAssignIndex(e.ID(), n.Child().ID(), n.Key()))
		return name, nil
	case *eql.Flatten:
		if n.Inverted() {
			return "", &CompilationError{Kind: n.Kind(), Detail: "negated projection"}
		}
		child, err := c.bindValue(n.Child())
		if err != nil {
			return "", err
		}
		name := c.tmp("flat")
		c.names[e.ID()] = name
		c.src.open(fmt.Sprintf("for _, %s := range elems(%s) {", name, child))
		c.steps = append(c.steps, stepForFlatten(e.ID(), n.Child().ID()))
		return name, nil
	}
	return "", &CompilationError{Kind: e.Kind(), Detail: "not a value expression"}
}

func (c *compiler) bindVariable(v *eql.Variable) (string, error) {
	name := c.newName(slug(v.Label()))
	c.names[v.ID()] = name
	if v.IsLiteral() {
		c.src.add(fmt.Sprintf("%s := %s", name, literalSrc(v.Value().Raw)))
		c.steps = append(c.steps, stepAssignConst(v.ID(), v.Value().Raw))
		return name, nil
	}
	if v.HasExplicitDomain() {
		vals := v.Domain()
		if len(vals) == 1 {
			c.src.add(fmt.Sprintf("%s := %s", name, literalSrc(vals[0].Raw)))
			c.steps = append(c.steps, stepAssignConst(v.ID(), vals[0].Raw))
			return name, nil
		}
		parts := make([]string, len(vals))
		for i, hv := range vals {
			parts[i] = literalSrc(hv.Raw)
		}
		c.src.open(fmt.Sprintf("for _, %s := range []any{%s} {", name, strings.Join(parts, ", ")))
		c.steps = append(c.steps, stepForVar(v.ID(), v))
		return name, nil
	}
	if v.Type() == nil {
		return "", &CompilationError{Kind: v.Kind(), Detail: fmt.Sprintf("variable %s has neither a type nor a domain", v.Label())}
	}
	c.src.open(fmt.Sprintf("for _, %s := range instances(%q) {", name, v.Type().String()))
	c.steps = append(c.steps, stepForVar(v.ID(), v))
	return name, nil
}

// valueOf resolves e to a runtime value function and its source form.
// Literals stay inline; everything else binds first.
func (c *compiler) valueOf(e eql.Expr) (valueFn, string, error) {
	if v, ok := e.(*eql.Variable); ok && v.IsLiteral() {
		raw := v.Value().Raw
		return constValue(raw), literalSrc(raw), nil
	}
	name, err := c.bindValue(e)
	if err != nil {
		return nil, "", err
	}
	return envValue(e.ID()), name, nil
}

func (c *compiler) emitCond(e eql.Expr) error {
	if c.consumed[e.ID()] {
		return nil
	}
	switch n := e.(type) {
	case *eql.And:
		if err := c.emitCond(n.Left()); err != nil {
			return err
		}
		return c.emitCond(n.Right())
	case *eql.Comparator:
		return c.emitComparator(n)
	case *eql.HasType:
		child, err := c.bindValue(n.Child())
		if err != nil {
			return err
		}
		neg := ""
		if n.Inverted() {
			neg = "!"
		}
		c.src.open(fmt.Sprintf("if %shasType(%s, %q) {", neg, child, n.Type().String()))
		typ, inv := n.Type(), n.Inverted()
		id := n.Child().ID()
		c.steps = append(c.steps, stepCheck(func(env map[int64]any) bool {
			return eql.TypeMatches(env[id], typ) != inv
		}))
		return nil
	case *eql.Predicate:
		args := n.Args()
		fns := make([]valueFn, len(args))
		srcs := make([]string, len(args))
		for i, a := range args {
			fn, s, err := c.valueOf(a)
			if err != nil {
				return err
			}
			fns[i], srcs[i] = fn, s
		}
		neg := ""
		if n.Inverted() {
			neg = "!"
		}
		c.src.open(fmt.Sprintf("if %s%s(%s) {", neg, slug(n.Name()), strings.Join(srcs, ", ")))
		pred, inv := n.Func(), n.Inverted()
		c.steps = append(c.steps, stepCheck(func(env map[int64]any) bool {
			vals := make([]any, len(fns))
			for i, f := range fns {
				vals[i] = f(env)
			}
			return pred(vals...) != inv
		}))
		return nil
	case *eql.Variable:
		fn, s, err := c.valueOf(n)
		if err != nil {
			return err
		}
		neg, inv := "", n.Inverted()
		if inv {
			neg = "!"
		}
		c.src.open(fmt.Sprintf("if %struthy(%s) {", neg, s))
		c.steps = append(c.steps, stepCheck(func(env map[int64]any) bool {
			return hashed.Truthy(hashed.Intern(fn(env))) != inv
		}))
		return nil
	case *eql.Attribute, *eql.Index, *eql.Flatten:
		fn, s, err := c.valueOf(n)
		if err != nil {
			return err
		}
		c.src.open(fmt.Sprintf("if truthy(%s) {", s))
		c.steps = append(c.steps, stepCheck(func(env map[int64]any) bool {
			return hashed.Truthy(hashed.Intern(fn(env)))
		}))
		return nil
	}
	return &CompilationError{Kind: e.Kind()}
}

func (c *compiler) emitComparator(n *eql.Comparator) error {
	op := n.Op()
	if op == eql.OpContains {
		if root, path, ok := extractChain(n.Left()); ok {
			if set, hoisted := c.preBySig[chainSig(root, path)]; hoisted {
				rfn, rsrc, err := c.valueOf(n.Right())
				if err != nil {
					return err
				}
				c.src.open(fmt.Sprintf("if %s[%s] {", set, rsrc))
				c.steps = append(c.steps, stepInSet(set, rfn))
				return nil
			}
		}
	}
	lfn, lsrc, err := c.valueOf(n.Left())
	if err != nil {
		return err
	}
	rfn, rsrc, err := c.valueOf(n.Right())
	if err != nil {
		return err
	}
	if op == eql.OpNotContains {
		c.src.open(fmt.Sprintf("if !contains(%s, %s) {", lsrc, rsrc))
	} else {
		c.src.open(fmt.Sprintf("if %s(%s, %s) {", opFunc(op), lsrc, rsrc))
	}
	c.steps = append(c.steps, stepCheck(func(env map[int64]any) bool {
		return op.Apply(lfn(env), rfn(env))
	}))
	return nil
}

// plan scans the flattened conjunction for membership tests whose
// container is an attribute path of a variable used nowhere else. Each
// such test is hoisted: the container elements are collected once into a
// set up front, literal equality conditions on the same variable prune
// its domain and are consumed, and the variable's loop is never emitted.
func (c *compiler) plan(desc eql.Descriptor, cond eql.Expr) {
	conds := flattenAnd(cond)
	if len(conds) == 0 {
		return
	}
	selVars := map[int64]bool{}
	switch d := desc.(type) {
	case *eql.Entity:
		selVars[d.Selected().ID()] = true
	case *eql.SetOf:
		for _, sel := range d.Selected() {
			for _, v := range baseVars(sel) {
				selVars[v.ID()] = true
			}
		}
	}
	for i, cd := range conds {
		cmp, ok := cd.(*eql.Comparator)
		if !ok || cmp.Op() != eql.OpContains {
			continue
		}
		root, path, ok := extractChain(cmp.Left())
		if !ok || len(path) == 0 || root.IsLiteral() || selVars[root.ID()] {
			continue
		}
		if usesVar(cmp.Right(), root.ID()) {
			continue
		}
		var filters []precomputeFilter
		var filterIDs []int64
		hoistable := true
		for j, other := range conds {
			if j == i || !usesVar(other, root.ID()) {
				continue
			}
			f, ok := literalEqFilter(other, root)
			if !ok {
				hoistable = false
				break
			}
			filters = append(filters, f)
			filterIDs = append(filterIDs, other.ID())
		}
		if !hoistable {
			continue
		}
		sig := chainSig(root, path)
		if _, dup := c.preBySig[sig]; dup {
			continue
		}
		set := c.newName("pre_" + slug(root.Label()) + "_" + snakePath(path))
		c.preBySig[sig] = set
		c.pre = append(c.pre, precompute{set: set, source: root, path: path, filters: filters})
		for _, id := range filterIDs {
			c.consumed[id] = true
		}
	}
}

func (c *compiler) emitPrecomputes() {
	for _, p := range c.pre {
		c.src.add(fmt.Sprintf("%s := make(map[any]bool)", p.set))
		iterVar := c.newName(slug(p.source.Label()))
		if p.source.HasExplicitDomain() {
			vals := p.source.Domain()
			parts := make([]string, len(vals))
			for i, hv := range vals {
				parts[i] = literalSrc(hv.Raw)
			}
			c.src.open(fmt.Sprintf("for _, %s := range []any{%s} {", iterVar, strings.Join(parts, ", ")))
		} else {
			c.src.open(fmt.Sprintf("for _, %s := range instances(%q) {", iterVar, p.source.Type().String()))
		}
		for _, f := range p.filters {
			c.src.open(fmt.Sprintf("if eq(%s, %s) {", attrChainSrc(iterVar, f.path), literalSrc(f.want)))
		}
		c.src.open(fmt.Sprintf("for _, el := range elems(%s) {", attrChainSrc(iterVar, p.path)))
		c.src.add(fmt.Sprintf("%s[el] = true", p.set))
		c.src.closeTo(1)
	}
}

func attrChainSrc(name string, path []string) string {
	out := name
	for _, f := range path {
		out = fmt.Sprintf("attr(%s, %q)", out, f)
	}
	return out
}

func opFunc(op eql.Op) string {
	switch op {
	case eql.OpEq:
		return "eq"
	case eql.OpNe:
		return "ne"
	case eql.OpLt:
		return "lt"
	case eql.OpLe:
		return "le"
	case eql.OpGt:
		return "gt"
	case eql.OpGe:
		return "ge"
	case eql.OpContains:
		return "contains"
	}
	return op.String()
}

func literalSrc(raw any) string {
	return fmt.Sprintf("%#v", raw)
}

func flattenAnd(e eql.Expr) []eql.Expr {
	if e == nil {
		return nil
	}
	if a, ok := e.(*eql.And); ok {
		return append(flattenAnd(a.Left()), flattenAnd(a.Right())...)
	}
	return []eql.Expr{e}
}

// baseVars collects the distinct non-literal variables under e in
// first-seen order.
func baseVars(e eql.Expr) []*eql.Variable {
	var out []*eql.Variable
	seen := map[int64]bool{}
	var walk func(eql.Expr)
	walk = func(x eql.Expr) {
		if v, ok := x.(*eql.Variable); ok {
			if !v.IsLiteral() && !seen[v.ID()] {
				seen[v.ID()] = true
				out = append(out, v)
			}
			return
		}
		for _, ch := range x.Children() {
			walk(ch)
		}
	}
	walk(e)
	return out
}

func usesVar(e eql.Expr, id int64) bool {
	if v, ok := e.(*eql.Variable); ok {
		return !v.IsLiteral() && v.ID() == id
	}
	for _, ch := range e.Children() {
		if usesVar(ch, id) {
			return true
		}
	}
	return false
}

// extractChain unwinds an attribute chain to its root variable.
func extractChain(e eql.Expr) (*eql.Variable, []string, bool) {
	var path []string
	cur := e
	for {
		switch n := cur.(type) {
		case *eql.Attribute:
			if n.Inverted() {
				return nil, nil, false
			}
			path = append([]string{n.Field()}, path...)
			cur = n.Child()
		case *eql.Variable:
			return n, path, true
		default:
			return nil, nil, false
		}
	}
}

func chainSig(root *eql.Variable, path []string) string {
	return fmt.Sprintf("%d.%s", root.ID(), strings.Join(path, "."))
}

func literalEqFilter(cond eql.Expr, root *eql.Variable) (precomputeFilter, bool) {
	cmp, ok := cond.(*eql.Comparator)
	if !ok || cmp.Op() != eql.OpEq {
		return precomputeFilter{}, false
	}
	if f, ok := chainEqLiteral(cmp.Left(), cmp.Right(), root); ok {
		return f, true
	}
	return chainEqLiteral(cmp.Right(), cmp.Left(), root)
}

func chainEqLiteral(chain, other eql.Expr, root *eql.Variable) (precomputeFilter, bool) {
	v, path, ok := extractChain(chain)
	if !ok || v != root || len(path) == 0 {
		return precomputeFilter{}, false
	}
	lit, ok := other.(*eql.Variable)
	if !ok || !lit.IsLiteral() {
		return precomputeFilter{}, false
	}
	return precomputeFilter{path: path, want: lit.Value().Raw}, true
}
