package catalog

import (
	"errors"
	"fmt"
)

// Standard catalog and directory errors
var (
	// ErrNotFound is returned when a named entity, key, or mapping is absent
	ErrNotFound = errors.New("not found")

	// ErrNotUnique is returned when a name collides within its scope
	ErrNotUnique = errors.New("name already exists")

	// ErrReadOnly is returned when the catalog, a node, or a key is read-only
	ErrReadOnly = errors.New("read-only")

	// ErrNotSupported is returned by operations that are deliberately unimplemented
	ErrNotSupported = errors.New("operation not supported")

	// ErrPersistence is returned when the underlying store fails
	ErrPersistence = errors.New("persistence failure")

	// ErrInvalidEntity is returned when an entity fails structural validation
	ErrInvalidEntity = errors.New("invalid entity")
)

// NotFoundError reports an absent entity, key, or mapping.
type NotFoundError struct {
	Kind string
	Name string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

// Is checks if the error matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return errors.Is(target, ErrNotFound)
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(kind, name string) *NotFoundError {
	return &NotFoundError{Kind: kind, Name: name}
}

// NotUniqueError reports a duplicate name within a scope.
type NotUniqueError struct {
	Kind  string
	Name  string
	Scope string
}

// Error implements the error interface.
func (e *NotUniqueError) Error() string {
	if e.Scope != "" {
		return fmt.Sprintf("%s %q already exists in %s", e.Kind, e.Name, e.Scope)
	}
	return fmt.Sprintf("%s %q already exists", e.Kind, e.Name)
}

// Is checks if the error matches ErrNotUnique.
func (e *NotUniqueError) Is(target error) bool {
	return errors.Is(target, ErrNotUnique)
}

// NewNotUniqueError creates a new NotUniqueError.
func NewNotUniqueError(kind, name, scope string) *NotUniqueError {
	return &NotUniqueError{Kind: kind, Name: name, Scope: scope}
}

// ReadOnlyError reports a rejected write against a read-only catalog, node,
// or key.
type ReadOnlyError struct {
	Subject   string
	Operation string
}

// Error implements the error interface.
func (e *ReadOnlyError) Error() string {
	return fmt.Sprintf("%s rejected: %s is read-only", e.Operation, e.Subject)
}

// Is checks if the error matches ErrReadOnly.
func (e *ReadOnlyError) Is(target error) bool {
	return errors.Is(target, ErrReadOnly)
}

// NewReadOnlyError creates a new ReadOnlyError.
func NewReadOnlyError(subject, operation string) *ReadOnlyError {
	return &ReadOnlyError{Subject: subject, Operation: operation}
}

// NotSupportedError reports an operation that is validated but deliberately
// unimplemented. Deleting catalog entities requires a cascade design that
// does not exist yet, so those operations fail loudly instead of silently
// succeeding.
type NotSupportedError struct {
	Operation string
	Reason    string
}

// Error implements the error interface.
func (e *NotSupportedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s is not supported: %s", e.Operation, e.Reason)
	}
	return fmt.Sprintf("%s is not supported", e.Operation)
}

// Is checks if the error matches ErrNotSupported.
func (e *NotSupportedError) Is(target error) bool {
	return errors.Is(target, ErrNotSupported)
}

// NewNotSupportedError creates a new NotSupportedError.
func NewNotSupportedError(operation, reason string) *NotSupportedError {
	return &NotSupportedError{Operation: operation, Reason: reason}
}

// PersistenceError wraps a store failure with the operation that hit it.
type PersistenceError struct {
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Operation, e.Cause)
}

// Unwrap returns the underlying error.
func (e *PersistenceError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches ErrPersistence.
func (e *PersistenceError) Is(target error) bool {
	if errors.Is(target, ErrPersistence) {
		return true
	}
	return errors.Is(e.Cause, target)
}

// WrapPersistence wraps a store error. Already-wrapped errors pass through.
func WrapPersistence(operation string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Operation: operation, Cause: err}
}
