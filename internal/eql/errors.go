package eql

import (
	"errors"
	"fmt"
	"reflect"
)

// NoSolutionError is returned by a The query that matched nothing.
type NoSolutionError struct {
	// Query labels the query descriptor that failed.
	Query string
}

// Error implements the error interface.
func (e *NoSolutionError) Error() string {
	return fmt.Sprintf("no solution found for %s", e.Query)
}

// MultipleSolutionsError is returned by a The query that matched more than
// one binding. It carries the first two results for diagnostics.
type MultipleSolutionsError struct {
	// Query labels the query descriptor.
	Query string

	// First and Second are the first two conflicting results.
	First  any
	Second any
}

// Error implements the error interface.
func (e *MultipleSolutionsError) Error() string {
	return fmt.Sprintf("multiple solutions found for %s: %v, %v", e.Query, e.First, e.Second)
}

// InverseTypeError is returned by Registry.DeclareInverse when the named
// inverse field cannot hold the owning type.
type InverseTypeError struct {
	// Owner is the type whose relation was being declared.
	Owner reflect.Type

	// Field is the forward relation field on Owner.
	Field string

	// Inverse is the offending field on the target type.
	Inverse string

	// Reason describes the mismatch.
	Reason string
}

// Error implements the error interface.
func (e *InverseTypeError) Error() string {
	return fmt.Sprintf("inverse relation %s.%s -> %s: %s", e.Owner, e.Field, e.Inverse, e.Reason)
}

// IsNoSolution returns true if the error is a NoSolutionError.
// Uses errors.As to handle wrapped errors.
func IsNoSolution(err error) bool {
	var e *NoSolutionError
	return errors.As(err, &e)
}

// IsMultipleSolutions returns true if the error is a MultipleSolutionsError.
// Uses errors.As to handle wrapped errors.
func IsMultipleSolutions(err error) bool {
	var e *MultipleSolutionsError
	return errors.As(err, &e)
}
