// Package errs provides the error types shared by the merge engine.
// Every failure the engine reports is one of NotFound, Validation or IO so
// callers can branch with errors.Is and the CLI can pick an exit code.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors matched by the typed errors below.
var (
	// ErrNotFound indicates a required directory, file or case is missing
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates descriptors disagree or an option is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrIO indicates an underlying filesystem operation failed
	ErrIO = errors.New("io failure")
)

// NotFoundError represents a missing resource.
type NotFoundError struct {
	Resource string
	ID       string
	Detail   string
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s not found: %s", e.Resource, e.ID, e.Detail)
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// Is implements errors.Is support
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError represents a validation failure
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Is implements errors.Is support
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewValidationError creates a new ValidationError
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// IOError represents a failed filesystem operation. Target is set for
// two-path operations (link, copy, rename).
type IOError struct {
	Operation string
	Path      string
	Target    string
	Err       error
}

// Error implements the error interface
func (e *IOError) Error() string {
	switch {
	case e.Target != "":
		return fmt.Sprintf("%s %s -> %s: %v", e.Operation, e.Path, e.Target, e.Err)
	case e.Path != "":
		return fmt.Sprintf("%s %s: %v", e.Operation, e.Path, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Operation, e.Err)
	}
}

// Unwrap implements errors.Unwrap
func (e *IOError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *IOError) Is(target error) bool {
	return target == ErrIO
}

// WrapIO wraps err as an IOError. Returns nil when err is nil.
func WrapIO(operation, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Operation: operation, Path: path, Err: err}
}

// WrapIO2 wraps err for an operation involving a source and a destination.
func WrapIO2(operation, src, dst string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Operation: operation, Path: src, Target: dst, Err: err}
}

// IsNotFound reports whether err is a NotFound condition.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation reports whether err is a Validation condition.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsIO reports whether err is an IO condition.
func IsIO(err error) bool {
	return errors.Is(err, ErrIO)
}

// Exit codes returned by the CLI.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitValidation = 2
	ExitNotFound   = 3
	ExitIO         = 4
)

// ExitCode maps an error to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case IsValidation(err):
		return ExitValidation
	case IsNotFound(err):
		return ExitNotFound
	case IsIO(err):
		return ExitIO
	default:
		return ExitFailure
	}
}
