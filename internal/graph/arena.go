// Package graph provides the expression-graph substrate: an arena of nodes
// addressed by integer index, each with at most one primary parent and any
// number of auxiliary edges. Rule splicing relies on re-parenting being an
// O(1) field swap that leaves auxiliary edges untouched.
package graph

import (
	"iter"
	"slices"
)

// NodeID addresses a node within its arena.
type NodeID int

// None marks an absent node reference.
const None NodeID = -1

// Arena owns a set of nodes. Nodes are never removed; detaching a node
// just clears its parent reference.
type Arena struct {
	nodes []*Node
}

// Node is one vertex of the expression graph.
type Node struct {
	arena *Arena
	id    NodeID

	// Name labels the node for diagnostics.
	Name string

	// Payload carries the expression node that owns this vertex.
	Payload any

	parent      NodeID
	children    []NodeID
	auxParents  []NodeID
	auxChildren []NodeID
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{}
}

// NewNode allocates a node with no edges.
func (a *Arena) NewNode(name string, payload any) *Node {
	n := &Node{
		arena:   a,
		id:      NodeID(len(a.nodes)),
		Name:    name,
		Payload: payload,
		parent:  None,
	}
	a.nodes = append(a.nodes, n)
	return n
}

// Node resolves an ID, or nil for None / out of range.
func (a *Arena) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(a.nodes) {
		return nil
	}
	return a.nodes[id]
}

// Len returns the number of allocated nodes.
func (a *Arena) Len() int {
	return len(a.nodes)
}

// ID returns the node's address.
func (n *Node) ID() NodeID {
	return n.id
}

// Parent returns the primary parent, or nil.
func (n *Node) Parent() *Node {
	return n.arena.Node(n.parent)
}

// Children returns the primary children in attachment order.
func (n *Node) Children() []*Node {
	out := make([]*Node, 0, len(n.children))
	for _, id := range n.children {
		out = append(out, n.arena.Node(id))
	}
	return out
}

// SetParent makes parent the node's primary parent, replacing any current
// one. The edge is rejected when it would create a cycle.
func (n *Node) SetParent(parent *Node) error {
	if parent == nil {
		n.RemoveParent()
		return nil
	}
	if parent.id == n.id {
		return newSelfEdgeError(n.id)
	}
	if n.reaches(parent.id) {
		return newCycleError(n.id, parent.id)
	}
	n.RemoveParent()
	n.parent = parent.id
	parent.children = append(parent.children, n.id)
	return nil
}

// RemoveParent detaches the primary-parent relationship only; auxiliary
// edges between the two nodes survive.
func (n *Node) RemoveParent() {
	p := n.arena.Node(n.parent)
	if p == nil {
		return
	}
	p.children = slices.DeleteFunc(p.children, func(id NodeID) bool { return id == n.id })
	n.parent = None
}

// AddAuxParent records a non-primary dependency on parent. Duplicate and
// cycle-forming edges are rejected, the former silently.
func (n *Node) AddAuxParent(parent *Node) error {
	if parent.id == n.id {
		return newSelfEdgeError(n.id)
	}
	if slices.Contains(n.auxParents, parent.id) {
		return nil
	}
	if n.reaches(parent.id) {
		return newCycleError(n.id, parent.id)
	}
	n.auxParents = append(n.auxParents, parent.id)
	parent.auxChildren = append(parent.auxChildren, n.id)
	return nil
}

// AuxParents returns the auxiliary parents in attachment order.
func (n *Node) AuxParents() []*Node {
	out := make([]*Node, 0, len(n.auxParents))
	for _, id := range n.auxParents {
		out = append(out, n.arena.Node(id))
	}
	return out
}

// Root follows the primary-parent chain to its end.
func (n *Node) Root() *Node {
	cur := n
	for {
		p := cur.Parent()
		if p == nil {
			return cur
		}
		cur = p
	}
}

// Ancestors iterates every node reachable upward through primary and
// auxiliary parent edges, depth first, each node once.
func (n *Node) Ancestors() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		seen := map[NodeID]bool{n.id: true}
		var visit func(cur *Node) bool
		visit = func(cur *Node) bool {
			for _, id := range cur.parentIDs() {
				if seen[id] {
					continue
				}
				seen[id] = true
				p := n.arena.Node(id)
				if !yield(p) || !visit(p) {
					return false
				}
			}
			return true
		}
		visit(n)
	}
}

// Descendants iterates every node reachable downward through primary and
// auxiliary child edges, depth first, each node once.
func (n *Node) Descendants() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		seen := map[NodeID]bool{n.id: true}
		var visit func(cur *Node) bool
		visit = func(cur *Node) bool {
			for _, id := range cur.childIDs() {
				if seen[id] {
					continue
				}
				seen[id] = true
				c := n.arena.Node(id)
				if !yield(c) || !visit(c) {
					return false
				}
			}
			return true
		}
		visit(n)
	}
}

// Leaves returns the descendants that have no children of their own,
// or the node itself when it has none.
func (n *Node) Leaves() []*Node {
	var out []*Node
	if len(n.childIDs()) == 0 {
		return []*Node{n}
	}
	for d := range n.Descendants() {
		if len(d.childIDs()) == 0 {
			out = append(out, d)
		}
	}
	return out
}

// reaches reports whether target is reachable downward from n, which is
// exactly the condition under which target may not become n's parent.
func (n *Node) reaches(target NodeID) bool {
	for d := range n.Descendants() {
		if d.id == target {
			return true
		}
	}
	return false
}

func (n *Node) parentIDs() []NodeID {
	ids := make([]NodeID, 0, 1+len(n.auxParents))
	if n.parent != None {
		ids = append(ids, n.parent)
	}
	return append(ids, n.auxParents...)
}

func (n *Node) childIDs() []NodeID {
	ids := make([]NodeID, 0, len(n.children)+len(n.auxChildren))
	ids = append(ids, n.children...)
	return append(ids, n.auxChildren...)
}
