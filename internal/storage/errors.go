package storage

import (
	"errors"
	"fmt"
)

// Error kinds shared by every LedgerStore implementation. Callers match them with errors.Is.
var (
	ErrReadFailure          = errors.New("storage: read failure")
	ErrWriteFailure         = errors.New("storage: write failure")
	ErrSerializationFailure = errors.New("storage: serialization failure")
	ErrConcurrencyConflict  = errors.New("storage: collection changed since it was loaded")
)

func ReadFailure(err error) error {
	return fmt.Errorf("%w: %w", ErrReadFailure, err)
}

func WriteFailure(err error) error {
	return fmt.Errorf("%w: %w", ErrWriteFailure, err)
}

func SerializationFailure(err error) error {
	return fmt.Errorf("%w: %w", ErrSerializationFailure, err)
}

// Conflict reports the version the caller loaded against the one currently stored.
func Conflict(expected, actual int64) error {
	return fmt.Errorf("%w: expected version %d, found %d", ErrConcurrencyConflict, expected, actual)
}

// IsRetryable reports whether the failure is transient and the whole
// load-mutate-save cycle may be attempted again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) ||
		errors.Is(err, ErrWriteFailure) ||
		errors.Is(err, ErrReadFailure)
}
