// Package runtime provides the shared error taxonomy for the persistence layer.
package runtime

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by table facades, translators and the reconciler.
var (
	// ErrDuplicateKey is returned when the backend reports a uniqueness
	// constraint violation on insert.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrNotFound is returned when a single-record lookup matches nothing.
	ErrNotFound = errors.New("record not found")

	// ErrTranslation is returned when a query tree contains a shape the
	// target backend cannot express. It fails at translate time, before
	// any network round-trip.
	ErrTranslation = errors.New("query not translatable")

	// ErrSchemaReconcile is returned when a DDL step of a reconcile call fails.
	ErrSchemaReconcile = errors.New("schema reconcile failed")

	// ErrMisuse is returned when a caller violates a documented precondition.
	ErrMisuse = errors.New("invalid use")

	// ErrBackend wraps any other backend-reported failure.
	ErrBackend = errors.New("backend failure")
)

// DuplicateKeyError reports a uniqueness violation with the table it hit.
type DuplicateKeyError struct {
	Table string
	Cause error
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key on %s: %v", e.Table, e.Cause)
}

func (e *DuplicateKeyError) Unwrap() error { return e.Cause }

func (e *DuplicateKeyError) Is(target error) bool { return target == ErrDuplicateKey }

// TranslationError reports a query node a backend translator cannot compile.
type TranslationError struct {
	Backend string
	Node    string
	Detail  string
}

func (e *TranslationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: cannot translate %s node: %s", e.Backend, e.Node, e.Detail)
	}
	return fmt.Sprintf("%s: cannot translate %s node", e.Backend, e.Node)
}

func (e *TranslationError) Is(target error) bool { return target == ErrTranslation }

// ReconcileError reports a failed DDL step with the object it was applied to.
type ReconcileError struct {
	Object string
	Column string
	Cause  error
}

func (e *ReconcileError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("reconcile %s: column %s: %v", e.Object, e.Column, e.Cause)
	}
	return fmt.Sprintf("reconcile %s: %v", e.Object, e.Cause)
}

func (e *ReconcileError) Unwrap() error { return e.Cause }

func (e *ReconcileError) Is(target error) bool { return target == ErrSchemaReconcile }

// OpError wraps a backend failure with the operation and table that issued it.
type OpError struct {
	Op    string
	Table string
	Cause error
}

func (e *OpError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("%s on %s: %v", e.Op, e.Table, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *OpError) Unwrap() error { return e.Cause }

func (e *OpError) Is(target error) bool {
	if target == ErrBackend {
		return true
	}
	return errors.Is(e.Cause, target)
}

// Misusef reports a violated caller precondition. It is never sent to a backend.
func Misusef(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMisuse, fmt.Sprintf(format, args...))
}

// IsDuplicateKey checks if an error is a uniqueness constraint violation.
func IsDuplicateKey(err error) bool { return errors.Is(err, ErrDuplicateKey) }

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsTranslation checks if an error is a failed query translation.
func IsTranslation(err error) bool { return errors.Is(err, ErrTranslation) }

// IsMisuse checks if an error is a violated caller precondition.
func IsMisuse(err error) bool { return errors.Is(err, ErrMisuse) }
