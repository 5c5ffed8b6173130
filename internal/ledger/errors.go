package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation error")
	// ErrNotFound matches every *NotFoundError.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTarget is returned when a funding target is zero or negative.
	ErrInvalidTarget = &ValidationError{Field: "target", Reason: "must be greater than zero"}
)

// ValidationError reports malformed or out-of-range input. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NotFoundError reports a reference to an equipment item or donation that does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func equipmentNotFound(id string) error {
	return &NotFoundError{Kind: "equipment", ID: id}
}
