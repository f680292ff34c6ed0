package repository

import "errors"

// Sentinel errors shared by the repositories. Services translate these into
// user-facing errors; the reconciler branches on them directly.
var (
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateEmail is returned when a registration hits the unique email index.
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrOverlap is returned when a new booking intersects an approved or
	// active booking of the same user.
	ErrOverlap = errors.New("booking overlaps with existing session")

	// ErrNotPending is returned when approve/reject addresses a booking that
	// already left the pending state.
	ErrNotPending = errors.New("booking is not pending")

	// ErrNotApproved is returned when the Phase-B commit guard finds the
	// booking no longer approved (e.g. a cancel won the race).
	ErrNotApproved = errors.New("booking is not approved")

	// ErrNotActive is returned when extend or the Phase-C commit addresses a
	// booking that is not active.
	ErrNotActive = errors.New("booking is not active")

	// ErrNotCancellable is returned when the owner cancels a booking that is
	// past the pending/approved window.
	ErrNotCancellable = errors.New("booking cannot be cancelled in its current state")

	// ErrAgentUnavailable is returned when an explicitly selected agent is
	// missing or not online.
	ErrAgentUnavailable = errors.New("selected agent not available")

	// ErrNoAgents is returned when auto-selection finds no online agent with
	// enough free capacity.
	ErrNoAgents = errors.New("no available agents")

	// ErrInsufficientCapacity is returned when the capacity debit would push
	// an agent's available counters negative. The stale read is detected at
	// commit time and the transaction rolls back.
	ErrInsufficientCapacity = errors.New("insufficient capacity on agent")
)
