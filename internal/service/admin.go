package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shiva/labdock/internal/model"
	"github.com/shiva/labdock/internal/repository"
)

// DefaultRejectionReason is recorded when the admin gives none.
const DefaultRejectionReason = "Rejected by admin"

// DefaultExtensionHours is applied when an extend request names no duration.
const DefaultExtensionHours = 1

// AdminBookingStore is the booking seam for AdminService.
type AdminBookingStore interface {
	ListAll(ctx context.Context, status string) ([]*repository.BookingWithUser, error)
	Approve(ctx context.Context, bookingID int64, agentID *int64) (int64, error)
	Reject(ctx context.Context, id int64, reason string) error
	Extend(ctx context.Context, id int64, hours int) (time.Time, error)
}

// AgentStore is the agent seam for AdminService.
type AgentStore interface {
	Get(ctx context.Context, id int64) (*model.Agent, error)
	List(ctx context.Context) ([]*model.Agent, error)
	UpdateStatus(ctx context.Context, id int64, status model.AgentStatus) error
}

// StatsStore is the dashboard seam for AdminService.
type StatsStore interface {
	Get(ctx context.Context) (*repository.Stats, error)
	Invalidate(ctx context.Context)
}

// AdminService handles the administrator operations: the approval queue,
// agent fleet management, and the dashboard.
type AdminService struct {
	bookings AdminBookingStore
	agents   AgentStore
	stats    StatsStore
}

// NewAdminService creates an admin service.
func NewAdminService(bookings AdminBookingStore, agents AgentStore, stats StatsStore) *AdminService {
	return &AdminService{bookings: bookings, agents: agents, stats: stats}
}

// ListBookings returns all bookings, optionally filtered by status.
// An unknown status filter is a validation error, not an empty list.
func (s *AdminService) ListBookings(ctx context.Context, status string) ([]*repository.BookingWithUser, error) {
	if status != "" {
		if _, err := model.ParseBookingStatus(status); err != nil {
			fe := fieldErrors{}
			fe.add("status", "unknown booking status")
			return nil, fe.err()
		}
	}
	return s.bookings.ListAll(ctx, status)
}

// Approve binds a pending booking to an agent. With a nil agentID the store
// auto-selects the online agent with the most free CPU. Approval never debits
// capacity; the reconciler debits on container start.
func (s *AdminService) Approve(ctx context.Context, bookingID int64, agentID *int64) (int64, error) {
	chosen, err := s.bookings.Approve(ctx, bookingID, agentID)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotFound):
		return 0, ErrBookingNotFound
	case errors.Is(err, repository.ErrNotPending):
		return 0, ErrNotPending
	case errors.Is(err, repository.ErrAgentUnavailable):
		return 0, ErrAgentUnavailable
	case errors.Is(err, repository.ErrNoAgents):
		return 0, ErrNoAgents
	default:
		return 0, classifyError(err)
	}

	s.stats.Invalidate(ctx)
	log.Printf("[admin] Approved booking #%d on agent #%d", bookingID, chosen)
	return chosen, nil
}

// Reject marks a pending booking rejected. An empty reason gets the default.
func (s *AdminService) Reject(ctx context.Context, bookingID int64, reason string) error {
	if reason == "" {
		reason = DefaultRejectionReason
	}
	err := s.bookings.Reject(ctx, bookingID, reason)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotFound):
		return ErrBookingNotFound
	case errors.Is(err, repository.ErrNotPending):
		return ErrNotPending
	default:
		return classifyError(err)
	}

	s.stats.Invalidate(ctx)
	log.Printf("[admin] Rejected booking #%d (%s)", bookingID, reason)
	return nil
}

// Extend pushes an active booking's end time out by the given hours
// (default 1) and returns the new end time. The extension does not re-check
// overlaps: the session already holds its capacity.
func (s *AdminService) Extend(ctx context.Context, bookingID int64, hours int) (time.Time, error) {
	if hours == 0 {
		hours = DefaultExtensionHours
	}
	if hours < 1 || hours > MaxDurationHr {
		fe := fieldErrors{}
		fe.add("hours", fmt.Sprintf("must be between 1 and %d", MaxDurationHr))
		return time.Time{}, fe.err()
	}

	newEnd, err := s.bookings.Extend(ctx, bookingID, hours)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotFound):
		return time.Time{}, ErrBookingNotFound
	case errors.Is(err, repository.ErrNotActive):
		return time.Time{}, ErrNotActive
	default:
		return time.Time{}, classifyError(err)
	}

	log.Printf("[admin] Extended booking #%d by %dh (new end %s)",
		bookingID, hours, newEnd.Format(time.RFC3339))
	return newEnd, nil
}

// ListAgents returns the worker fleet.
func (s *AdminService) ListAgents(ctx context.Context) ([]*model.Agent, error) {
	return s.agents.List(ctx)
}

// SetAgentStatus applies an admin status override (e.g. maintenance). The
// next health probe may overwrite it.
func (s *AdminService) SetAgentStatus(ctx context.Context, agentID int64, status string) error {
	st, err := model.ParseAgentStatus(status)
	if err != nil {
		fe := fieldErrors{}
		fe.add("status", "must be 'online', 'offline' or 'maintenance'")
		return fe.err()
	}

	if err := s.agents.UpdateStatus(ctx, agentID, st); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAgentNotFound
		}
		return err
	}

	s.stats.Invalidate(ctx)
	log.Printf("[admin] Agent #%d status set to %s", agentID, st)
	return nil
}

// Stats returns the dashboard counters.
func (s *AdminService) Stats(ctx context.Context) (*repository.Stats, error) {
	return s.stats.Get(ctx)
}
