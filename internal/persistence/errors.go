package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")

	// ErrDuplicate is returned when an insert violates a unique constraint.
	ErrDuplicate = errors.New("persistence: duplicate record")

	// ErrForeignKeyViolation is returned when a write references a record
	// that does not exist.
	ErrForeignKeyViolation = errors.New("persistence: foreign key violation")

	// ErrConstraintViolation is returned when a write violates a check
	// constraint or an argument fails basic validation.
	ErrConstraintViolation = errors.New("persistence: constraint violation")

	// ErrLockHeld is returned when another in-flight operation holds the
	// booking's advisory lock.
	ErrLockHeld = errors.New("persistence: booking lock held")

	// ErrStaleState is returned when a conditional update matches no row
	// because the record left the expected state since it was read.
	ErrStaleState = errors.New("persistence: state changed concurrently")

	// ErrCapacityExhausted is returned when a seat-guarded counter update
	// matches no row because the group is already at capacity or closed.
	ErrCapacityExhausted = errors.New("persistence: capacity exhausted")
)
