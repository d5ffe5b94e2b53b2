package cache

import (
	"iter"

	"github.com/entityql/eql/internal/hashed"
)

// wildcardID marks a trie slot for an entry that left the level's key
// unbound. It can never collide with a real value ID.
const wildcardID int64 = -1 << 63

// IndexedCache memoizes node results keyed by a fixed tuple of variable IDs.
//
// Entries form a trie with one level per key; every level keeps its children
// in insertion order, so Retrieve enumerates matches deterministically in the
// order entries were inserted. A key left unbound by an entry occupies a
// wildcard slot at its level and matches any constraint during retrieval.
type IndexedCache struct {
	// Keys is the fixed key order. Levels of the trie follow this order.
	Keys []int64

	root *trieNode
	seen *SeenSet

	// Enters counts Insert calls, Searches counts Check calls, and
	// Matches counts Check calls that answered true.
	Enters   int
	Searches int
	Matches  int
}

type trieNode struct {
	order    []int64
	children map[int64]*trieNode

	// value is the binding value that led into this node. nil at the
	// root and under wildcard slots.
	value *hashed.Value

	// output is set at leaf depth.
	output    any
	hasOutput bool
}

func newTrieNode(v *hashed.Value) *trieNode {
	return &trieNode{children: map[int64]*trieNode{}, value: v}
}

// NewIndexedCache builds a cache over the given key order.
func NewIndexedCache(keys []int64) *IndexedCache {
	return &IndexedCache{
		Keys: append([]int64(nil), keys...),
		root: newTrieNode(nil),
		seen: NewSeenSet(keys),
	}
}

// Insert stores output under the assignment's values for the cache keys.
// Keys absent from the assignment occupy wildcard slots. When index is
// true the entry is also recorded in the coverage index consulted by
// Check and ExactContains.
func (c *IndexedCache) Insert(assignment Assignment, output any, index bool) {
	c.Enters++
	node := c.root
	restricted := make(Assignment, len(c.Keys))
	for _, k := range c.Keys {
		slot := wildcardID
		var v *hashed.Value
		if bound, ok := assignment[k]; ok {
			slot = bound.ID
			v = bound
			restricted[k] = bound
		}
		child, ok := node.children[slot]
		if !ok {
			child = newTrieNode(v)
			node.children[slot] = child
			node.order = append(node.order, slot)
		}
		node = child
	}
	node.output = output
	node.hasOutput = true
	if index {
		c.seen.Add(restricted)
	}
}

// ExactContains reports whether an entry binding every key to exactly the
// assignment's values was inserted with indexing enabled.
func (c *IndexedCache) ExactContains(assignment Assignment) bool {
	return c.seen.ExactContains(assignment)
}

// Check reports whether an indexed entry covers the assignment. A probe
// sharing no keys with the cache is rejected by the key bitmask without
// touching the index.
func (c *IndexedCache) Check(assignment Assignment) bool {
	c.Searches++
	if c.seen.Check(assignment) {
		c.Matches++
		return true
	}
	return false
}

// Retrieve walks the trie lazily, yielding each stored entry consistent
// with the constraint: constrained keys are looked up directly, while
// unconstrained keys enumerate every stored value at their level in
// insertion order. The yielded assignment carries the entry's bound keys
// only; wildcard slots contribute nothing.
func (c *IndexedCache) Retrieve(constraint Assignment) iter.Seq2[Assignment, any] {
	return func(yield func(Assignment, any) bool) {
		if len(constraint) > 0 && !c.overlaps(constraint) {
			return
		}
		c.walk(c.root, 0, make(Assignment, len(c.Keys)), constraint, yield)
	}
}

// overlaps reports whether the constraint shares at least one key with
// the cache's key set.
func (c *IndexedCache) overlaps(constraint Assignment) bool {
	for _, k := range c.Keys {
		if _, ok := constraint[k]; ok {
			return true
		}
	}
	return false
}

func (c *IndexedCache) walk(node *trieNode, depth int, acc Assignment, constraint Assignment, yield func(Assignment, any) bool) bool {
	if depth == len(c.Keys) {
		if !node.hasOutput {
			return true
		}
		out := make(Assignment, len(acc))
		for k, v := range acc {
			out[k] = v
		}
		return yield(out, node.output)
	}
	key := c.Keys[depth]
	if want, ok := constraint[key]; ok {
		if child, ok := node.children[want.ID]; ok {
			acc[key] = child.value
			if !c.walk(child, depth+1, acc, constraint, yield) {
				return false
			}
			delete(acc, key)
		}
		if child, ok := node.children[wildcardID]; ok {
			if !c.walk(child, depth+1, acc, constraint, yield) {
				return false
			}
		}
		return true
	}
	for _, slot := range node.order {
		child := node.children[slot]
		if slot != wildcardID {
			acc[key] = child.value
		}
		if !c.walk(child, depth+1, acc, constraint, yield) {
			return false
		}
		delete(acc, key)
	}
	return true
}

// Reset drops every entry and zeroes the counters.
func (c *IndexedCache) Reset() {
	c.root = newTrieNode(nil)
	c.seen.Clear()
	c.Enters, c.Searches, c.Matches = 0, 0, 0
}
