package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a task does not exist.
	ErrNotFound = errors.New("task not found")
	// ErrInvalidArgument marks malformed input such as a negative index or an unknown column.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConcurrencyConflict indicates that the underlying storage rejected an
	// update because a newer version of the entity is already persisted.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrPersistence matches every PersistenceError.
	ErrPersistence = errors.New("persistence failure")
)

// PersistenceError reports a failed write to the task store. Reason holds the
// server supplied explanation when one was returned.
type PersistenceError struct {
	Reason string
	Err    error
}

func (e *PersistenceError) Error() string {
	switch {
	case e.Reason != "" && e.Err != nil:
		return fmt.Sprintf("persistence failure: %s: %v", e.Reason, e.Err)
	case e.Reason != "":
		return "persistence failure: " + e.Reason
	case e.Err != nil:
		return "persistence failure: " + e.Err.Error()
	}
	return ErrPersistence.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
