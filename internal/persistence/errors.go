package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrConstraintViolation is returned when a record fails a schema constraint.
	ErrConstraintViolation = errors.New("persistence: constraint violation")
	// ErrLocked is returned when the database stayed locked past the retry budget.
	ErrLocked = errors.New("persistence: database locked")
)
