// Package service contains the business rules of the compute session broker:
// input validation, the booking state machine, and the admin operations. Each
// service validates first, then delegates the transactional work to a
// repository.
package service

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidCredentials is returned on a failed login. It covers both an
	// unknown email and a wrong password so the response does not reveal
	// which one it was.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrEmailTaken is returned when a registration reuses an email.
	ErrEmailTaken = errors.New("email already registered")

	// ErrUserInactive is returned when a deactivated account logs in.
	ErrUserInactive = errors.New("account is deactivated")

	// ErrBookingNotFound is returned when the addressed booking does not
	// exist or is not visible to the caller.
	ErrBookingNotFound = errors.New("booking not found")

	// ErrAgentNotFound is returned when the addressed agent does not exist.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrBookingOverlap is returned when a new booking intersects the user's
	// approved or active sessions.
	ErrBookingOverlap = errors.New("booking overlaps with an existing session")

	// ErrNotPending is returned when approve/reject targets a booking that
	// already left the pending state.
	ErrNotPending = errors.New("booking is not pending")

	// ErrNotActive is returned when extend targets a non-active booking.
	ErrNotActive = errors.New("booking is not active")

	// ErrNotCancellable is returned when cancel targets a booking past the
	// pending/approved window.
	ErrNotCancellable = errors.New("booking cannot be cancelled in its current state")

	// ErrAgentUnavailable is returned when the admin pins an agent that is
	// missing or not online.
	ErrAgentUnavailable = errors.New("selected agent is not available")

	// ErrNoAgents is returned when auto-selection finds no online agent with
	// enough free capacity.
	ErrNoAgents = errors.New("no agents with sufficient capacity available")

	// ErrTimeout is returned when a transaction exceeded its lock-wait
	// deadline.
	ErrTimeout = errors.New("operation timed out waiting for lock")
)

// ValidationError carries per-field messages for a 400 response.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for f, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f, msg))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// fieldErrors accumulates validation failures and converts to a
// *ValidationError only if any were recorded.
type fieldErrors map[string]string

func (fe fieldErrors) add(field, msg string) { fe[field] = msg }

func (fe fieldErrors) err() error {
	if len(fe) == 0 {
		return nil
	}
	return &ValidationError{Fields: fe}
}
