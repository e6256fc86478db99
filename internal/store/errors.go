package store

import (
	"errors"
	"fmt"
)

var (
	// ErrRecordNotFound is returned when no record has the conversion id.
	ErrRecordNotFound = errors.New("conversion record not found")

	// ErrInvalidTransition is returned when a status update would break the
	// record lifecycle.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrDurabilityWriteFailed is returned when a write to the record store
	// fails. Callers log it and carry on without durability.
	ErrDurabilityWriteFailed = errors.New("record store write failed")
)

// StoreError wraps errors with the operation and record they concern.
type StoreError struct {
	Op           string
	ConversionID string
	Err          error
}

func (e *StoreError) Error() string {
	if e.ConversionID != "" {
		return fmt.Sprintf("store: %s %s: %v", e.Op, e.ConversionID, e.Err)
	}
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func newStoreError(op, id string, err error) error {
	return &StoreError{Op: op, ConversionID: id, Err: err}
}

// writeFailed marks a database error as a durability failure.
func writeFailed(op, id string, err error) error {
	return newStoreError(op, id, fmt.Errorf("%w: %w", ErrDurabilityWriteFailed, err))
}
