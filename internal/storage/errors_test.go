package storage

import (
	"errors"
	"testing"
)

func TestErrorKinds(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name      string
		err       error
		kind      error
		retryable bool
	}{
		{name: "read", err: ReadFailure(cause), kind: ErrReadFailure, retryable: true},
		{name: "write", err: WriteFailure(cause), kind: ErrWriteFailure, retryable: true},
		{name: "serialization", err: SerializationFailure(cause), kind: ErrSerializationFailure, retryable: false},
		{name: "conflict", err: Conflict(3, 4), kind: ErrConcurrencyConflict, retryable: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.kind) {
				t.Fatalf("expected %v to match %v", tt.err, tt.kind)
			}
			if tt.kind != ErrConcurrencyConflict && !errors.Is(tt.err, cause) {
				t.Fatalf("expected %v to keep its cause", tt.err)
			}
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Fatalf("IsRetryable: expected %t, got %t", tt.retryable, got)
			}
		})
	}
}
