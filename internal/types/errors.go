package types

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a record is not found
	ErrNotFound = errors.New("record not found")

	// ErrUnsupportedDimension is matched by *UnsupportedDimensionError
	ErrUnsupportedDimension = errors.New("unsupported dimension")

	// ErrDimensionMismatch is matched by *DimensionMismatchError
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrInvalidVector is returned for vectors with NaN or infinite components
	ErrInvalidVector = errors.New("invalid vector")

	// ErrInvalidInput is returned for malformed requests (empty id, bad limit)
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnknownCollection is returned for collections that were not configured
	ErrUnknownCollection = errors.New("unknown collection")
)

// UnsupportedDimensionError reports a vector length outside the registry.
type UnsupportedDimensionError struct {
	Dimension int
	Supported []int
}

func (e *UnsupportedDimensionError) Error() string {
	dims := make([]string, len(e.Supported))
	for i, d := range e.Supported {
		dims[i] = fmt.Sprint(d)
	}
	return fmt.Sprintf("unsupported dimension %d: must be one of [%s]", e.Dimension, strings.Join(dims, ", "))
}

func (e *UnsupportedDimensionError) Is(target error) bool {
	return target == ErrUnsupportedDimension
}

// DimensionMismatchError means a populated slot disagrees with the declared
// dimension. It indicates a bug, not bad input.
type DimensionMismatchError struct {
	ID       string
	Declared int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch for record %q: declared %d, slot holds %d", e.ID, e.Declared, e.Actual)
}

func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}
