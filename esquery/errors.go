package esquery

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedOperation      = errors.New("esquery: unsupported operation")
	ErrAggregateFunctionMismatch = errors.New("esquery: aggregate function mismatch")
	ErrInvalidCondition          = errors.New("esquery: invalid condition")
	ErrMissingDocumentID         = errors.New("esquery: missing document id")
	ErrNotFound                  = errors.New("esquery: document not found")
	ErrInvalidResponse           = errors.New("esquery: invalid response")
)

// UnsupportedOperationError reports a capability the search backend cannot express.
type UnsupportedOperationError struct {
	Name string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("%s: %q is not supported by the search backend", ErrUnsupportedOperation, e.Name)
}

func (e *UnsupportedOperationError) Unwrap() error {
	return ErrUnsupportedOperation
}

// Unsupported builds an UnsupportedOperationError for name.
func Unsupported(name string) error {
	return &UnsupportedOperationError{Name: name}
}

// AggregateFunctionMismatchError reports an aggregate function without an engine mapping.
type AggregateFunctionMismatchError struct {
	Function string
}

func (e *AggregateFunctionMismatchError) Error() string {
	return fmt.Sprintf("%s: %q", ErrAggregateFunctionMismatch, e.Function)
}

func (e *AggregateFunctionMismatchError) Unwrap() error {
	return ErrAggregateFunctionMismatch
}
