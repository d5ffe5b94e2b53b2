package eql

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type city struct {
	Name      string
	Cap       int
	Residents []*person
}

type person struct {
	Name   string
	Age    int
	Home   *city
	Tags   []string
	Scores map[string]int
}

func population(t *testing.T) (*Registry, []*person, []*city) {
	t.Helper()
	cities := []*city{
		{Name: "metropolis", Cap: 100},
		{Name: "midtown", Cap: 40},
		{Name: "hamlet", Cap: 20},
	}
	people := []*person{
		{Name: "alice", Age: 10, Home: cities[0], Tags: []string{"a", "b"}, Scores: map[string]int{"math": 5}},
		{Name: "bob", Age: 30, Home: cities[1], Tags: []string{"c"}, Scores: map[string]int{"math": 3}},
		{Name: "carol", Age: 50, Home: cities[0], Tags: nil, Scores: nil},
	}
	reg := NewRegistry()
	for _, c := range cities {
		reg.Add(c)
	}
	for _, p := range people {
		reg.Add(p)
	}
	return reg, people, cities
}

func names(t *testing.T, q *Query) []string {
	t.Helper()
	rows, err := q.All()
	require.NoError(t, err)
	var out []string
	for _, r := range rows {
		out = append(out, r.(*person).Name)
	}
	return out
}

func TestEntitySelectsByAttribute(t *testing.T) {
	reg, _, _ := population(t)
	b := NewBuilder(reg)
	p := b.Var("p", &person{})

	q := b.An(b.Entity(p, b.Eq(b.Attr(p, "Age"), 30)))
	assert.Equal(t, []string{"bob"}, names(t, q))
}

func TestEntityWithoutConditionsEnumerates(t *testing.T) {
	reg, _, _ := population(t)
	b := NewBuilder(reg)
	p := b.Var("p", &person{})

	q := b.An(b.Entity(p))
	assert.Equal(t, []string{"alice", "bob", "carol"}, names(t, q))
}

func TestEntityWhereChainsFieldConstraints(t *testing.T) {
	reg, _, _ := population(t)
	b := NewBuilder(reg)
	p := b.Var("p", &person{})

	q := b.An(b.EntityWhere(p, map[string]any{"Name": "alice", "Age": 10}))
	assert.Equal(t, []string{"alice"}, names(t, q))

	b2 := NewBuilder(reg)
	p2 := b2.Var("p", &person{})
	q2 := b2.An(b2.EntityWhere(p2, map[string]any{"Name": "alice", "Age": 30}))
	assert.Empty(t, names(t, q2))
}

func TestTheQueryCardinality(t *testing.T) {
	reg, people, _ := population(t)

	b := NewBuilder(reg)
	p := b.Var("p", &person{})
	got, err := b.The(b.Entity(p, b.Eq(b.Attr(p, "Name"), "bob"))).One()
	require.NoError(t, err)
	assert.Same(t, people[1], got)

	b2 := NewBuilder(reg)
	p2 := b2.Var("p", &person{})
	_, err = b2.The(b2.Entity(p2, b2.Eq(b2.Attr(p2, "Name"), "nobody"))).One()
	assert.True(t, IsNoSolution(err))

	b3 := NewBuilder(reg)
	p3 := b3.Var("p", &person{})
	_, err = b3.The(b3.Entity(p3, b3.Gt(b3.Attr(p3, "Age"), 0))).One()
	require.True(t, IsMultipleSolutions(err))
	var multi *MultipleSolutionsError
	require.ErrorAs(t, err, &multi)
	assert.Same(t, people[0], multi.First)
	assert.Same(t, people[1], multi.Second)
}

func TestAnOneReturnsFirstMatch(t *testing.T) {
	reg, people, _ := population(t)
	b := NewBuilder(reg)
	p := b.Var("p", &person{})

	got, err := b.An(b.Entity(p, b.Gt(b.Attr(p, "Age"), 20))).One()
	require.NoError(t, err)
	assert.Same(t, people[1], got)
}

func TestOrPicksElseIfForSameVariables(t *testing.T) {
	reg, _, _ := population(t)
	b := NewBuilder(reg)
	p := b.Var("p", &person{})
	c := b.Var("c", &city{})

	same := b.Or(b.Lt(b.Attr(p, "Age"), 40), b.Gt(b.Attr(p, "Age"), 20))
	assert.Equal(t, KindElseIf, same.Kind())

	diff := b.Or(b.Eq(b.Attr(p, "Age"), 10), b.Eq(b.Attr(c, "Cap"), 20))
	assert.Equal(t, KindUnion, diff.Kind())
}

func TestElseIfYieldsEachBindingOnce(t *testing.T) {
	reg, _, _ := population(t)
	b := NewBuilder(reg)
	p := b.Var("p", &person{})

	// Every person satisfies at least one branch; alice and bob satisfy
	// both, and must still appear once.
	q := b.An(b.Entity(p, b.Or(b.Lt(b.Attr(p, "Age"), 40), b.Gt(b.Attr(p, "Age"), 20))))
	assert.Equal(t, []string{"alice", "bob", "carol"}, names(t, q))
}

func TestUnionCombinesBranchSolutions(t *testing.T) {
	reg, _, _ := population(t)
	b := NewBuilder(reg)
	p := b.Var("p", &person{})
	c := b.Var("c", &city{})

	or := b.Or(b.Eq(b.Attr(p, "Age"), 10), b.Eq(b.Attr(c, "Cap"), 20))
	q := b.An(b.SetOf([]Expr{p, c}, or))
	rows, err := q.All()
	require.NoError(t, err)

	got := map[string]bool{}
	for _, r := range rows {
		pair := r.([]any)
		got[pair[0].(*person).Name+"/"+pair[1].(*city).Name] = true
	}
	want := map[string]bool{
		"alice/metropolis": true,
		"alice/midtown":    true,
		"alice/hamlet":     true,
		"bob/hamlet":       true,
		"carol/hamlet":     true,
	}
	assert.Equal(t, want, got)
}

func TestNotPushesDownConnectives(t *testing.T) {
	reg, _, _ := population(t)
	b := NewBuilder(reg)
	p := b.Var("p", &person{})
	c := b.Var("c", &city{})

	negAnd := b.Not(b.And(b.Gt(b.Attr(p, "Age"), 0), b.Lt(b.Attr(p, "Age"), 40)))
	assert.Equal(t, KindElseIf, negAnd.Kind())

	negUnion := b.Not(b.Or(b.Eq(b.Attr(p, "Age"), 10), b.Eq(b.Attr(c, "Cap"), 20)))
	assert.Equal(t, KindAnd, negUnion.Kind())

	negElseIf := b.Not(b.Or(b.Lt(b.Attr(p, "Age"), 40), b.Gt(b.Attr(p, "Age"), 20)))
	assert.Equal(t, KindAnd, negElseIf.Kind())

	cmp := b.Eq(b.Attr(p, "Age"), 10)
	assert.Equal(t, OpNe, b.Not(cmp).(*Comparator).Op())
	assert.Equal(t, OpEq, b.Not(cmp).(*Comparator).Op())
}

func TestNotComparatorFiltersComplement(t *testing.T) {
	reg, _, _ := population(t)
	b := NewBuilder(reg)
	p := b.Var("p", &person{})

	q := b.An(b.Entity(p, b.Not(b.Eq(b.Attr(p, "Age"), 30))))
	assert.Equal(t, []string{"alice", "carol"}, names(t, q))
}

func TestBareVariableConditionFiltersTruthiness(t *testing.T) {
	reg := NewRegistry()
	b := NewBuilder(reg)
	x := b.Let("x", []any{0, 1, 2})

	q := b.An(b.Entity(x, x))
	rows, err := q.All()
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2}, rows)
}

func TestNotBareVariableCondition(t *testing.T) {
	reg := NewRegistry()
	b := NewBuilder(reg)
	x := b.Let("x", []any{0, 1, 2})

	q := b.An(b.Entity(x, b.Not(x)))
	rows, err := q.All()
	require.NoError(t, err)
	assert.Equal(t, []any{0}, rows)
}

func TestFalsyOperandStillReachesComparator(t *testing.T) {
	reg := NewRegistry()
	b := NewBuilder(reg)
	x := b.Let("x", []any{0, 1, 2})

	// As a comparator operand the variable is a value, not a condition:
	// the falsy zero must not be filtered away before the comparison.
	q := b.An(b.Entity(x, b.Eq(x, 0)))
	rows, err := q.All()
	require.NoError(t, err)
	assert.Equal(t, []any{0}, rows)
}

func TestNotQuantifierIsRejected(t *testing.T) {
	reg, _, _ := population(t)
	b := NewBuilder(reg)
	p := b.Var("p", &person{})

	fa := b.ForAll(p, b.Gt(b.Attr(p, "Age"), 0))
	b.Not(fa)
	assert.Error(t, b.Err())
}

func TestForAllIntersectsAcrossUniversalValues(t *testing.T) {
	reg, _, _ := population(t)
	b := NewBuilder(reg)
	p := b.Var("p", &person{})
	c := b.Var("c", &city{})

	// Cities whose cap exceeds every person's age: ages are 10, 30, 50,
	// so only metropolis (100) survives.
	q := b.An(b.Entity(c, b.ForAll(p, b.Lt(b.Attr(p, "Age"), b.Attr(c, "Cap")))))
	rows, err := q.All()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "metropolis", rows[0].(*city).Name)
}

func TestForAllWithFailingValueSinksEverything(t *testing.T) {
	reg, _, _ := population(t)
	b := NewBuilder(reg)
	p := b.Var("p", &person{})
	c := b.Var("c", &city{})

	// carol is 50 and no cap is below 0, so no city works for her.
	q := b.An(b.Entity(c, b.ForAll(p, b.Lt(b.Attr(c, "Cap"), b.Attr(p, "Age")))))
	rows, err := q.All()
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFlattenUnnestsCollections(t *testing.T) {
	reg, _, _ := population(t)
	b := NewBuilder(reg)
	p := b.Var("p", &person{})

	q := b.An(b.Entity(p, b.Eq(b.Flatten(b.Attr(p, "Tags")), "b")))
	assert.Equal(t, []string{"alice"}, names(t, q))
}

func TestIndexLooksUpMapKey(t *testing.T) {
	reg, _, _ := population(t)
	b := NewBuilder(reg)
	p := b.Var("p", &person{})

	q := b.An(b.Entity(p, b.Eq(b.Index(b.Attr(p, "Scores"), "math"), 5)))
	assert.Equal(t, []string{"alice"}, names(t, q))
}

func TestContainsAndIn(t *testing.T) {
	reg, _, _ := population(t)

	b := NewBuilder(reg)
	p := b.Var("p", &person{})
	q := b.An(b.Entity(p, b.Contains(b.Attr(p, "Tags"), "c")))
	assert.Equal(t, []string{"bob"}, names(t, q))

	b2 := NewBuilder(reg)
	p2 := b2.Var("p", &person{})
	q2 := b2.An(b2.Entity(p2, b2.In("a", b2.Attr(p2, "Tags"))))
	assert.Equal(t, []string{"alice"}, names(t, q2))
}

func TestHasTypeFiltersByAssignability(t *testing.T) {
	reg := NewRegistry()
	b := NewBuilder(reg)
	x := b.Let("x", []any{1, "a", 2})

	q := b.An(b.Entity(x, b.HasType(x, 0)))
	rows, err := q.All()
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2}, rows)
}

func TestPredicateFilters(t *testing.T) {
	reg, _, _ := population(t)
	b := NewBuilder(reg)
	p := b.Var("p", &person{})

	even := b.Predicate("even age", func(args ...any) bool {
		return args[0].(int)%2 == 0
	}, b.Attr(p, "Age"))
	q := b.An(b.Entity(p, even))
	assert.Equal(t, []string{"alice", "bob", "carol"}, names(t, q))

	b2 := NewBuilder(reg)
	p2 := b2.Var("p", &person{})
	young := b2.Predicate("young", func(args ...any) bool {
		return args[0].(*person).Age < 20
	}, p2)
	q2 := b2.An(b2.Entity(p2, young))
	assert.Equal(t, []string{"alice"}, names(t, q2))
}

func TestConjunctionMemoizesRightBranch(t *testing.T) {
	reg, _, _ := population(t)
	b := NewBuilder(reg)
	p := b.Var("p", &person{})

	// The flatten on the left yields alice twice (two tags), bob once.
	// The right branch must run once per distinct person.
	calls := 0
	counted := b.Predicate("counted", func(args ...any) bool {
		calls++
		return true
	}, p)
	q := b.An(b.Entity(p, b.And(b.Flatten(b.Attr(p, "Tags")), counted)))
	rows, err := q.All()
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.Equal(t, 2, calls)
}

func TestCachingDisabledStillAgrees(t *testing.T) {
	reg, _, _ := population(t)
	b := NewBuilder(reg, WithoutCaching())
	p := b.Var("p", &person{})

	calls := 0
	counted := b.Predicate("counted", func(args ...any) bool {
		calls++
		return true
	}, p)
	q := b.An(b.Entity(p, b.And(b.Flatten(b.Attr(p, "Tags")), counted)))
	rows, err := q.All()
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.Equal(t, 3, calls)
}

func TestComparatorCacheCountsActivity(t *testing.T) {
	reg, _, _ := population(t)
	b := NewBuilder(reg)
	p := b.Var("p", &person{})

	cmp := b.Gt(b.Attr(p, "Age"), 5)
	q := b.An(b.Entity(p, b.And(b.Flatten(b.Attr(p, "Tags")), cmp)))
	rows, err := q.All()
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.Positive(t, cmp.Cache().Enters)
	assert.Positive(t, cmp.Cache().Searches)
}

func TestEvaluateResetsPerRun(t *testing.T) {
	reg, _, _ := population(t)
	b := NewBuilder(reg)
	p := b.Var("p", &person{})

	q := b.An(b.Entity(p, b.Eq(b.Attr(p, "Age"), 30)))
	assert.Equal(t, []string{"bob"}, names(t, q))

	reg.Add(&person{Name: "dave", Age: 30})
	assert.Equal(t, []string{"bob", "dave"}, names(t, q))
}

func TestConcatenateCollectsIntoOneSolution(t *testing.T) {
	reg, _, _ := population(t)
	b := NewBuilder(reg)
	p := b.Var("p", &person{})

	q := b.An(b.SetOf([]Expr{b.Concat(b.Attr(p, "Age"))}))
	rows, err := q.All()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []any{10, 30, 50}, rows[0].([]any)[0])
}

func TestConclusionSetBindsDerivedVariable(t *testing.T) {
	reg, _, _ := population(t)
	b := NewBuilder(reg)
	p := b.Var("p", &person{})
	label := b.Var("label", "")

	cond := b.Lt(b.Attr(p, "Age"), 20)
	b.Conclude(cond, b.SetValue(label, "minor"))
	q := b.An(b.SetOf([]Expr{p, label}, cond))
	rows, err := q.All()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	row := rows[0].([]any)
	assert.Equal(t, "alice", row[0].(*person).Name)
	assert.Equal(t, "minor", row[1])
}

func TestConclusionAddAccumulates(t *testing.T) {
	reg, _, _ := population(t)
	b := NewBuilder(reg)
	p := b.Var("p", &person{})
	notes := b.Var("notes", "")

	cond := b.Eq(b.Attr(p, "Name"), "bob")
	b.Conclude(cond, b.AddTo(notes, "first"), b.AddTo(notes, "second"))
	q := b.An(b.SetOf([]Expr{p, notes}, cond))
	rows, err := q.All()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []any{"first", "second"}, rows[0].([]any)[1])
}

func TestUnconcludedVariableProducesNoRows(t *testing.T) {
	reg, _, _ := population(t)
	b := NewBuilder(reg)
	p := b.Var("p", &person{})
	label := b.Var("label", "")

	q := b.An(b.SetOf([]Expr{p, label}, b.Eq(b.Attr(p, "Name"), "bob")))
	rows, err := q.All()
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDeclareInverseBackfills(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.DeclareInverse(&person{}, "Home", "Residents"))

	home := &city{Name: "metropolis"}
	alice := &person{Name: "alice", Home: home}
	reg.Add(home, alice)
	require.Len(t, home.Residents, 1)
	assert.Same(t, alice, home.Residents[0])

	// Re-adding must not duplicate the back reference.
	reg.Add(alice)
	assert.Len(t, home.Residents, 1)
}

func TestDeclareInverseValidation(t *testing.T) {
	reg := NewRegistry()

	var ite *InverseTypeError
	err := reg.DeclareInverse(&person{}, "Missing", "Residents")
	require.ErrorAs(t, err, &ite)

	err = reg.DeclareInverse(&person{}, "Home", "Cap")
	require.ErrorAs(t, err, &ite)
	assert.Contains(t, ite.Error(), "Cap")

	err = reg.DeclareInverse(person{}, "Home", "Residents")
	require.ErrorAs(t, err, &ite)
}

type recordingHandler struct {
	mu   sync.Mutex
	msgs []string
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, r.Message)
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func TestUnconstrainedSelectionWarnsOnce(t *testing.T) {
	reg := NewRegistry()
	for i := 0; i < 25; i++ {
		reg.Add(&city{Name: fmt.Sprintf("city-%d", i)})
	}
	reg.Add(&person{Name: "alice", Age: 10}, &person{Name: "bob", Age: 10})

	h := &recordingHandler{}
	b := NewBuilder(reg, WithLogger(slog.New(h)))
	p := b.Var("p", &person{})
	c := b.Var("c", &city{})

	q := b.An(b.Entity(c, b.Eq(b.Attr(p, "Age"), 10)))
	rows, err := q.All()
	require.NoError(t, err)
	assert.Len(t, rows, 50)
	require.Len(t, h.msgs, 1)
	assert.Contains(t, h.msgs[0], "cartesian")
}

func TestLetRequiresSlice(t *testing.T) {
	reg := NewRegistry()
	b := NewBuilder(reg)
	b.Let("x", 5)
	assert.Error(t, b.Err())
}

func TestGenerateBindingsPrunesAgainstPartials(t *testing.T) {
	reg, _, _ := population(t)
	b := NewBuilder(reg)
	p := b.Var("p", &person{})
	age := b.Attr(p, "Age")

	ctx := b.newEvalCtx()
	var got []int
	for full := range generateBindings(ctx, []Expr{p, age}, Binding{}) {
		got = append(got, full[age.ID()].Raw.(int))
	}
	// One combination per person, not the 3x3 product: the attribute is
	// evaluated under the binding that already fixed its person.
	assert.Equal(t, []int{10, 30, 50}, got)
}
