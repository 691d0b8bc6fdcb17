package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
)

func TestDefaultLogger(t *testing.T) {
	t.Parallel()

	custom := slog.New(slog.NewTextHandler(io.Discard, nil))
	if got := defaultLogger(custom); got != custom {
		t.Fatalf("expected custom logger to be returned")
	}

	if got := defaultLogger(nil); got != slog.Default() {
		t.Fatalf("expected default logger when none provided")
	}
}

func TestErrorKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{err: nil, want: ""},
		{err: ErrUnauthorized, want: "unauthorized"},
		{err: fmt.Errorf("wrap: %w", ErrNotFound), want: "not_found"},
		{err: ErrNotAuthenticated, want: "not_authenticated"},
		{err: ErrAuthenticationExpired, want: "authentication_expired"},
		{err: fmt.Errorf("%w: %w", ErrConnectivity, errors.New("dial tcp: refused")), want: "connectivity"},
		{err: ErrStaleResponse, want: "stale_response"},
		{err: ErrSlotOccupied, want: "slot_occupied"},
		{err: ErrNotCancellable, want: "not_cancellable"},
		{err: ErrSubmissionInProgress, want: "submission_in_progress"},
		{err: context.Canceled, want: "canceled"},
		{err: &ValidationError{}, want: "validation"},
		{err: &RejectedError{Status: 409}, want: "conflict"},
		{err: &RejectedError{Status: 403}, want: "rejected"},
		{err: errors.New("boom"), want: "unexpected"},
	}

	for _, tc := range tests {
		if got := ErrorKind(tc.err); got != tc.want {
			t.Fatalf("ErrorKind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
