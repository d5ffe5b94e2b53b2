package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entityql/eql/internal/hashed"
)

func asg(pairs ...any) Assignment {
	a := Assignment{}
	for i := 0; i < len(pairs); i += 2 {
		a[int64(pairs[i].(int))] = hashed.Intern(pairs[i+1])
	}
	return a
}

func TestExactContains(t *testing.T) {
	c := NewIndexedCache([]int64{1, 2})
	c.Insert(asg(1, "a", 2, "b"), "ab", true)

	assert.True(t, c.ExactContains(asg(1, "a", 2, "b")))
	assert.False(t, c.ExactContains(asg(1, "a")))
	assert.False(t, c.ExactContains(asg(2, "b")))
	assert.False(t, c.ExactContains(asg(1, "a", 2, "x")))
}

func TestCheckBitmaskAndCoverage(t *testing.T) {
	c := NewIndexedCache([]int64{1, 2})

	// No key overlap rejects without consulting the index.
	assert.False(t, c.Check(asg(3, "z")))

	c.Insert(asg(1, "a", 2, "b"), "ab", true)
	c.Insert(asg(1, "a"), "a*", true)

	assert.True(t, c.Check(asg(1, "a", 2, "b")))
	// Covered by the partial constraint stored under 1="a".
	assert.True(t, c.Check(asg(1, "a")))
	assert.False(t, c.Check(asg(1, "x")))
}

func TestCheckCounters(t *testing.T) {
	c := NewIndexedCache([]int64{1})
	c.Insert(asg(1, "a"), nil, true)

	c.Check(asg(1, "a"))
	c.Check(asg(1, "a"))
	c.Check(asg(1, "x"))

	assert.Equal(t, 1, c.Enters)
	assert.Equal(t, 3, c.Searches)
	assert.Equal(t, 2, c.Matches)

	c.Reset()
	assert.Equal(t, 0, c.Enters)
	assert.Equal(t, 0, c.Searches)
	assert.Equal(t, 0, c.Matches)
	assert.False(t, c.Check(asg(1, "a")))
}

func TestSeenSetEmptyProbeFlipsAllSeen(t *testing.T) {
	s := NewSeenSet([]int64{1})

	// First empty probe answers false but marks everything covered.
	assert.False(t, s.Check(Assignment{}))
	assert.True(t, s.Check(asg(1, "anything")))
	assert.True(t, s.Check(Assignment{}))

	s.Clear()
	assert.False(t, s.Check(asg(1, "anything")))
}

func TestSeenSetEmptyConstraintCoversEverything(t *testing.T) {
	s := NewSeenSet([]int64{1, 2})
	s.Add(Assignment{})
	assert.True(t, s.Check(asg(1, "a")))
	assert.True(t, s.Check(asg(7, "q")))
}

func TestRetrieveConstrainedMiddleKeyInsertionOrder(t *testing.T) {
	c := NewIndexedCache([]int64{1, 2, 3})

	vals := []string{"a", "b"}
	var inserted []string
	for _, v1 := range vals {
		for _, v2 := range vals {
			for _, v3 := range vals {
				c.Insert(asg(1, v1, 2, v2, 3, v3), v1+v2+v3, true)
				inserted = append(inserted, v1+v2+v3)
			}
		}
	}
	require.Len(t, inserted, 8)

	var got []string
	for entry, out := range c.Retrieve(asg(2, "a")) {
		require.Len(t, entry, 3)
		assert.Equal(t, hashed.Intern("a").ID, entry[2].ID)
		got = append(got, out.(string))
	}
	assert.Equal(t, []string{"aaa", "aab", "baa", "bab"}, got)
}

func TestRetrieveUnconstrainedEnumeratesAll(t *testing.T) {
	c := NewIndexedCache([]int64{1})
	c.Insert(asg(1, "x"), 1, true)
	c.Insert(asg(1, "y"), 2, true)
	c.Insert(asg(1, "z"), 3, true)

	var got []int
	for _, out := range c.Retrieve(Assignment{}) {
		got = append(got, out.(int))
	}
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestRetrieveZeroOverlapIsEmpty(t *testing.T) {
	c := NewIndexedCache([]int64{1})
	c.Insert(asg(1, "x"), 1, true)

	count := 0
	for range c.Retrieve(asg(9, "q")) {
		count++
	}
	assert.Equal(t, 0, count)
}

func TestWildcardSlotMatchesAnyConstraint(t *testing.T) {
	c := NewIndexedCache([]int64{1, 2})
	c.Insert(asg(1, "a"), "partial", true)
	c.Insert(asg(1, "a", 2, "b"), "full", true)

	var got []string
	for entry, out := range c.Retrieve(asg(2, "b")) {
		got = append(got, out.(string))
		if out == "partial" {
			_, bound := entry[2]
			assert.False(t, bound)
		}
	}
	assert.ElementsMatch(t, []string{"partial", "full"}, got)
}
