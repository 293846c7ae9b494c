package domain

import (
	"errors"
	"fmt"
)

// Base error types (sentinel errors).
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnsupported  = errors.New("unsupported operation")
	ErrInternal     = errors.New("internal error")
	ErrUnavailable  = errors.New("service unavailable")
)

// Specific errors.
var (
	ErrLayerNotFound       = fmt.Errorf("layer: %w", ErrNotFound)
	ErrDuplicateLayer      = fmt.Errorf("duplicate layer: %w", ErrInvalidInput)
	ErrInvalidUnit         = fmt.Errorf("unit: %w", ErrInvalidInput)
	ErrInvalidDistance     = fmt.Errorf("distance: %w", ErrInvalidInput)
	ErrNoMatchingOperation = fmt.Errorf("no matching operation: %w", ErrUnsupported)
	ErrUnsupportedSRID     = fmt.Errorf("srid: %w", ErrUnsupported)
	ErrOracleTimeout       = fmt.Errorf("oracle timeout: %w", ErrUnavailable)
	ErrOracleUnavailable   = fmt.Errorf("oracle: %w", ErrUnavailable)
)

// ErrorKind is the closed set of failure categories reported to users.
type ErrorKind string

// Error kinds.
const (
	KindNoMatchingOperation ErrorKind = "NoMatchingOperation"
	KindInvalidUnit         ErrorKind = "InvalidUnit"
	KindInvalidDistance     ErrorKind = "InvalidDistance"
	KindUnknownLayer        ErrorKind = "UnknownLayer"
	KindOracleTimeout       ErrorKind = "OracleTimeout"
	KindOracleUnavailable   ErrorKind = "OracleUnavailable"
	KindInternal            ErrorKind = "InternalError"
)

// KindOf classifies an error. Anything not recognised is an internal error.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrLayerNotFound):
		return KindUnknownLayer
	case errors.Is(err, ErrInvalidUnit):
		return KindInvalidUnit
	case errors.Is(err, ErrInternal):
		return KindInternal
	case errors.Is(err, ErrInvalidDistance):
		return KindInvalidDistance
	case errors.Is(err, ErrNoMatchingOperation):
		return KindNoMatchingOperation
	case errors.Is(err, ErrOracleTimeout):
		return KindOracleTimeout
	case errors.Is(err, ErrOracleUnavailable):
		return KindOracleUnavailable
	default:
		return KindInternal
	}
}

// ValidationError represents a detailed validation error.
type ValidationError struct {
	Field      string // Field that failed validation
	Value      any    // The invalid value
	Constraint string // The constraint that was violated
	Message    string // Human-readable message
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s (value: %v, constraint: %s)",
		e.Field, e.Message, e.Value, e.Constraint)
}

// Unwrap returns the underlying error type.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// LayerRole names the position a layer occupies in an operation request.
type LayerRole string

// Layer roles.
const (
	RoleTarget    LayerRole = "target"
	RoleReference LayerRole = "reference"
)

// UnknownLayerError reports a layer name that is not in the catalog.
type UnknownLayerError struct {
	Role      LayerRole // Which argument carried the name
	Name      string    // The name as given
	Available []string  // Catalog names at the time of the lookup, sorted
}

// Error implements the error interface.
func (e *UnknownLayerError) Error() string {
	return fmt.Sprintf("unknown %s layer %q", e.Role, e.Name)
}

// Unwrap returns the underlying error type.
func (e *UnknownLayerError) Unwrap() error {
	return ErrLayerNotFound
}

// InterpretationError represents a failure to turn oracle output into an
// operation request.
type InterpretationError struct {
	Field  string // Offending parameter, empty when the whole call was rejected
	Value  any    // The value as received
	Reason string // Human-readable reason
	Err    error  // One of ErrInvalidUnit, ErrInvalidDistance, ErrNoMatchingOperation
}

// Error implements the error interface.
func (e *InterpretationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("interpretation error for %s: %s (value: %v)", e.Field, e.Reason, e.Value)
	}
	return fmt.Sprintf("interpretation error: %s", e.Reason)
}

// Unwrap returns the underlying error.
func (e *InterpretationError) Unwrap() error {
	return e.Err
}

// PreconditionError is raised by the executor when it receives a request that
// validation should have rejected. It is a programming error, never user input.
type PreconditionError struct {
	Field   string
	Value   any
	Message string
}

// Error implements the error interface.
func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition failed for %s: %s (value: %v)", e.Field, e.Message, e.Value)
}

// Unwrap returns the underlying error type.
func (e *PreconditionError) Unwrap() error {
	return ErrInternal
}

// QueryError represents an error while reading a layer.
type QueryError struct {
	Source string // File backing the layer
	Layer  string // Layer name
	Err    error  // Underlying error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	if e.Layer != "" {
		return fmt.Sprintf("query error in %s, layer %s: %v", e.Source, e.Layer, e.Err)
	}
	return fmt.Sprintf("query error in %s: %v", e.Source, e.Err)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// StorageError represents an error during storage operations.
type StorageError struct {
	Operation string // Operation that failed (download, list, etc.)
	Key       string // Object key
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage error during %s for %s: %v",
			e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("storage error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}
