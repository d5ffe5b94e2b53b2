package compile_test

import (
	"fmt"
	"iter"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entityql/eql/internal/compile"
	"github.com/entityql/eql/internal/eql"
)

type course struct {
	Title string
	Level int
}

type student struct {
	Name  string
	Age   int
	Takes []*course
}

type professor struct {
	Name    string
	Dept    string
	Teaches []*course
}

func newWorld() *eql.Registry {
	algebra := &course{Title: "algebra", Level: 1}
	calculus := &course{Title: "calculus", Level: 2}
	poetry := &course{Title: "poetry", Level: 1}
	reg := eql.NewRegistry()
	reg.Add(algebra, calculus, poetry)
	reg.Add(
		&student{Name: "ann", Age: 20, Takes: []*course{algebra, calculus}},
		&student{Name: "bob", Age: 17, Takes: []*course{poetry}},
		&student{Name: "cara", Age: 22, Takes: []*course{algebra}},
	)
	reg.Add(
		&professor{Name: "knuth", Dept: "math", Teaches: []*course{algebra, calculus}},
		&professor{Name: "frost", Dept: "arts", Teaches: []*course{poetry}},
	)
	return reg
}

func render(r any) string {
	switch x := r.(type) {
	case *student:
		return "student:" + x.Name
	case *course:
		return "course:" + x.Title
	case []any:
		parts := make([]string, len(x))
		for i, v := range x {
			parts[i] = render(v)
		}
		return strings.Join(parts, "|")
	}
	return fmt.Sprintf("%v", r)
}

// counts collapses a result stream into a multiset keyed by rendering.
func counts(rows iter.Seq[any]) map[string]int {
	out := map[string]int{}
	for r := range rows {
		out[render(r)]++
	}
	return out
}

func golden(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestCompiledTypeFilterMatchesEvaluator(t *testing.T) {
	b := eql.NewBuilder(newWorld())
	s := b.Var("student", &student{})
	q := b.An(b.Entity(s, b.Gt(b.Attr(s, "Age"), 18)))

	compiled, err := compile.Query(q)
	require.NoError(t, err)

	want := counts(q.Evaluate())
	assert.Equal(t, map[string]int{"student:ann": 1, "student:cara": 1}, want)
	assert.Equal(t, want, counts(compiled.Run()))
}

func TestCompiledTypeFilterSource(t *testing.T) {
	b := eql.NewBuilder(newWorld())
	s := b.Var("student", &student{})
	q := b.An(b.Entity(s, b.Gt(b.Attr(s, "Age"), 18)))

	compiled, err := compile.Query(q)
	require.NoError(t, err)
	golden(t).Assert(t, "type_filter", []byte(compiled.Source))
}

func TestCompiledFlattenFilterMatchesEvaluator(t *testing.T) {
	b := eql.NewBuilder(newWorld())
	s := b.Var("student", &student{})
	taken := b.Flatten(b.Attr(s, "Takes"))
	q := b.An(b.Entity(s, b.Eq(b.Attr(taken, "Level"), 1)))

	compiled, err := compile.Query(q)
	require.NoError(t, err)
	assert.Contains(t, compiled.Source, "for _, flat_0 := range elems(")

	want := counts(q.Evaluate())
	assert.Equal(t, map[string]int{"student:ann": 1, "student:bob": 1, "student:cara": 1}, want)
	assert.Equal(t, want, counts(compiled.Run()))
}

func TestCompiledProjectedPairsMatchEvaluator(t *testing.T) {
	b := eql.NewBuilder(newWorld())
	s := b.Var("student", &student{})
	taken := b.Flatten(b.Attr(s, "Takes"))
	q := b.An(b.SetOf([]eql.Expr{s, taken}, b.Gt(b.Attr(taken, "Level"), 1)))

	compiled, err := compile.Query(q)
	require.NoError(t, err)

	want := counts(q.Evaluate())
	assert.Equal(t, map[string]int{"student:ann|course:calculus": 1}, want)
	assert.Equal(t, want, counts(compiled.Run()))
}

func TestCompiledSetOfDeduplicates(t *testing.T) {
	b := eql.NewBuilder(newWorld())
	s := b.Var("student", &student{})
	taken := b.Flatten(b.Attr(s, "Takes"))
	q := b.An(b.SetOf([]eql.Expr{b.Attr(taken, "Level")}))

	compiled, err := compile.Query(q)
	require.NoError(t, err)
	assert.Contains(t, compiled.Source, "seen[key] = true")

	// The interpreter streams one row per (student, course) pair; the
	// compiled set_of keeps each projected tuple once.
	evaluated := counts(q.Evaluate())
	assert.Equal(t, map[string]int{"1": 3, "2": 1}, evaluated)
	distinct := map[string]int{}
	for k := range evaluated {
		distinct[k] = 1
	}
	assert.Equal(t, distinct, counts(compiled.Run()))
}

func TestCompiledMembershipPrecompute(t *testing.T) {
	b := eql.NewBuilder(newWorld())
	s := b.Var("student", &student{})
	p := b.Var("professor", &professor{})
	taken := b.Flatten(b.Attr(s, "Takes"))
	q := b.An(b.SetOf([]eql.Expr{s, taken},
		b.Eq(b.Attr(p, "Dept"), "math"),
		b.Contains(b.Attr(p, "Teaches"), taken),
	))

	compiled, err := compile.Query(q)
	require.NoError(t, err)
	assert.Contains(t, compiled.Source, "pre_professor_teaches")
	golden(t).Assert(t, "membership_precompute", []byte(compiled.Source))

	want := counts(q.Evaluate())
	assert.Equal(t, map[string]int{
		"student:ann|course:algebra":  1,
		"student:ann|course:calculus": 1,
		"student:cara|course:algebra": 1,
	}, want)
	assert.Equal(t, want, counts(compiled.Run()))
}

func TestCompiledHasTypeOverExplicitDomain(t *testing.T) {
	b := eql.NewBuilder(newWorld())
	vals := b.Let("val", []any{1, "two", 3})
	q := b.An(b.Entity(vals, b.HasType(vals, 0)))

	compiled, err := compile.Query(q)
	require.NoError(t, err)
	assert.Contains(t, compiled.Source, `if hasType(val, "int") {`)

	want := counts(q.Evaluate())
	assert.Equal(t, map[string]int{"1": 1, "3": 1}, want)
	assert.Equal(t, want, counts(compiled.Run()))
}

func TestCompiledPredicateMatchesEvaluator(t *testing.T) {
	b := eql.NewBuilder(newWorld())
	s := b.Var("student", &student{})
	adult := b.Predicate("adult", func(args ...any) bool {
		return args[0].(int) >= 18
	}, b.Attr(s, "Age"))
	q := b.An(b.Entity(s, adult))

	compiled, err := compile.Query(q)
	require.NoError(t, err)
	assert.Contains(t, compiled.Source, "if adult(student_age) {")

	assert.Equal(t, counts(q.Evaluate()), counts(compiled.Run()))
}

func TestCompiledBareConditionMatchesEvaluator(t *testing.T) {
	b := eql.NewBuilder(eql.NewRegistry())
	x := b.Let("x", []any{0, 1, 2})
	q := b.An(b.Entity(x, x))

	compiled, err := compile.Query(q)
	require.NoError(t, err)

	// A bare variable condition keeps only truthy values on both paths.
	want := counts(q.Evaluate())
	assert.Equal(t, map[string]int{"1": 1, "2": 1}, want)
	assert.Equal(t, want, counts(compiled.Run()))
}

func TestCompiledNegatedBareConditionMatchesEvaluator(t *testing.T) {
	b := eql.NewBuilder(eql.NewRegistry())
	x := b.Let("x", []any{0, 1, 2})
	q := b.An(b.Entity(x, b.Not(x)))

	compiled, err := compile.Query(q)
	require.NoError(t, err)
	assert.Contains(t, compiled.Source, "if !truthy(x)")

	want := counts(q.Evaluate())
	assert.Equal(t, map[string]int{"0": 1}, want)
	assert.Equal(t, want, counts(compiled.Run()))
}

func TestCompileRejectsDisjunction(t *testing.T) {
	b := eql.NewBuilder(newWorld())
	s := b.Var("student", &student{})
	p := b.Var("professor", &professor{})
	q := b.An(b.Entity(s, b.Or(
		b.Gt(b.Attr(s, "Age"), 18),
		b.Eq(b.Attr(p, "Dept"), "arts"),
	)))

	compiled, err := compile.Query(q)
	require.Nil(t, compiled)
	var cerr *compile.CompilationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, eql.KindUnion, cerr.Kind)
}

func TestCompiledRunSeesRegistryChanges(t *testing.T) {
	reg := newWorld()
	b := eql.NewBuilder(reg)
	s := b.Var("student", &student{})
	q := b.An(b.Entity(s, b.Gt(b.Attr(s, "Age"), 18)))

	compiled, err := compile.Query(q)
	require.NoError(t, err)
	assert.Len(t, counts(compiled.Run()), 2)

	reg.Add(&student{Name: "dina", Age: 30})
	assert.Len(t, counts(compiled.Run()), 3)
}
