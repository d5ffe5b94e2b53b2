package graph

import (
	"errors"
	"fmt"
)

// StructureError represents a rejected mutation of the expression graph.
//
// Structure errors include:
//   - Cycle detection: an edge would make a node its own ancestor
//   - Self edge: a node offered as its own parent
type StructureError struct {
	// Code identifies the error category.
	Code StructureErrorCode

	// Message is a human-readable description.
	Message string

	// Node identifies the node whose mutation was rejected.
	Node NodeID

	// Parent identifies the offered parent.
	Parent NodeID
}

// StructureErrorCode categorizes structure errors.
type StructureErrorCode string

const (
	// ErrCodeCycle indicates the edge would create a cycle.
	ErrCodeCycle StructureErrorCode = "CYCLE"

	// ErrCodeSelfEdge indicates a node was offered as its own parent.
	ErrCodeSelfEdge StructureErrorCode = "SELF_EDGE"
)

// Error implements the error interface.
func (e *StructureError) Error() string {
	return fmt.Sprintf("%s: %s (node=%d, parent=%d)", e.Code, e.Message, e.Node, e.Parent)
}

// IsCycleError returns true if the error is a cycle rejection.
// Uses errors.As to handle wrapped errors.
func IsCycleError(err error) bool {
	var se *StructureError
	if errors.As(err, &se) {
		return se.Code == ErrCodeCycle || se.Code == ErrCodeSelfEdge
	}
	return false
}

func newCycleError(node, parent NodeID) *StructureError {
	return &StructureError{
		Code:    ErrCodeCycle,
		Message: "edge would make the node an ancestor of itself",
		Node:    node,
		Parent:  parent,
	}
}

func newSelfEdgeError(node NodeID) *StructureError {
	return &StructureError{
		Code:    ErrCodeSelfEdge,
		Message: "node cannot be its own parent",
		Node:    node,
		Parent:  node,
	}
}
