package application

import "testing"

func TestValidationError_Error(t *testing.T) {
	t.Parallel()

	var err *ValidationError
	if err.Error() != "" {
		t.Fatalf("expected empty string for nil error, got %q", err.Error())
	}

	empty := &ValidationError{}
	if got := empty.Error(); got != "validation failed" {
		t.Fatalf("expected generic message for empty error, got %q", got)
	}

	withFields := &ValidationError{FieldErrors: map[string]string{"time_slot": "invalid", "date": "invalid"}}
	if got := withFields.Error(); got != "validation failed: date, time_slot" {
		t.Fatalf("expected sorted field list, got %q", got)
	}
}

func TestValidationError_HasErrors(t *testing.T) {
	t.Parallel()

	if err := (&ValidationError{}).HasErrors(); err {
		t.Fatalf("expected HasErrors to report false for empty error")
	}

	if err := (&ValidationError{FieldErrors: map[string]string{"field": "bad"}}).HasErrors(); !err {
		t.Fatalf("expected HasErrors to report true when fields are present")
	}
}

func TestValidationError_Add(t *testing.T) {
	t.Parallel()

	base := &ValidationError{}
	base.add("first", "value")
	if got := base.FieldErrors["first"]; got != "value" {
		t.Fatalf("expected add to populate map, got %q", got)
	}
}

func TestRejectedError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      *RejectedError
		message  string
		conflict bool
	}{
		{name: "nil", err: nil, message: "", conflict: false},
		{name: "server message verbatim", err: &RejectedError{Status: 400, Message: "該時段已被預約", FieldErrors: map[string]string{"detail": "該時段已被預約"}}, message: "該時段已被預約", conflict: true},
		{name: "explicit conflict", err: &RejectedError{Status: 409}, message: "request rejected", conflict: true},
		{name: "field validation", err: &RejectedError{Status: 400, Message: "reason: required", FieldErrors: map[string]string{"reason": "required"}}, message: "reason: required", conflict: false},
		{name: "forbidden", err: &RejectedError{Status: 403, Message: "forbidden"}, message: "forbidden", conflict: false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.err.Error(); got != tc.message {
				t.Fatalf("expected message %q, got %q", tc.message, got)
			}
			if got := tc.err.IsConflict(); got != tc.conflict {
				t.Fatalf("expected conflict %v, got %v", tc.conflict, got)
			}
		})
	}
}
