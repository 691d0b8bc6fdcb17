package application

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrUnauthorized is returned when the acting session lacks permission for an operation.
	ErrUnauthorized = errors.New("application: unauthorized")
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrNotAuthenticated is returned before any network call when no access token is held.
	ErrNotAuthenticated = errors.New("application: not authenticated")
	// ErrAuthenticationExpired is returned when the one-shot refresh could not recover
	// the session. The session has already been cleared when this is returned.
	ErrAuthenticationExpired = errors.New("application: authentication expired")
	// ErrConnectivity is returned when the backend could not be reached at all.
	ErrConnectivity = errors.New("application: cannot reach server")
	// ErrStaleResponse is returned when a response arrived for a selection that is no longer current.
	ErrStaleResponse = errors.New("application: stale response dropped")
	// ErrSlotOccupied is returned when a draft targets an hour already known to be occupied.
	ErrSlotOccupied = errors.New("application: slot already occupied")
	// ErrNotCancellable is returned when a reservation has left the cancellable states.
	ErrNotCancellable = errors.New("application: reservation cannot be cancelled")
	// ErrSubmissionInProgress is returned when a second submit starts before the first resolves.
	ErrSubmissionInProgress = errors.New("application: submission already in progress")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	if len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// RejectedError is a structured 4xx answer from the backend. Message is the
// server-provided text and is meant to be shown to the user verbatim.
type RejectedError struct {
	Status      int
	Message     string
	FieldErrors map[string]string
}

// Error implements the error interface.
func (r *RejectedError) Error() string {
	if r == nil {
		return ""
	}
	if r.Message != "" {
		return r.Message
	}
	return "request rejected"
}

// IsConflict reports whether the rejection reads as a slot race. The backend
// answers races with a plain 400 carrying a detail message, so 409 is not the
// only signal.
func (r *RejectedError) IsConflict() bool {
	if r == nil {
		return false
	}
	if r.Status == 409 {
		return true
	}
	_, hasDetail := r.FieldErrors["detail"]
	return r.Status == 400 && hasDetail
}
