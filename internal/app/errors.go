package app

import (
	"errors"
	"fmt"
)

var (
	// ErrUpstreamUnavailable marks failures talking to the external calendar.
	// Callers degrade instead of failing the request.
	ErrUpstreamUnavailable = errors.New("external calendar unavailable")
	ErrNotFound            = errors.New("not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
	// ErrDuplicate is returned by stores when an insert hits the
	// (date, time, service) unique index. The reconciler treats it as
	// "already synced".
	ErrDuplicate = errors.New("appointment already exists")
)

// ValidationError rejects malformed input. Field names the offending input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ReconcileError reports a sync run whose insert batch was rolled back.
type ReconcileError struct {
	RunID string
	Err   error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("reconcile run %s rolled back: %v", e.RunID, e.Err)
}

func (e *ReconcileError) Unwrap() error { return e.Err }

func upstream(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUpstreamUnavailable, err)
}
