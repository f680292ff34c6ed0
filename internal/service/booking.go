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

// Booking constraints. Duration and CPU bounds are policy, not hardware
// limits: they keep a single booking from monopolizing a worker.
const (
	MinCPU        = 1
	MaxCPU        = 16
	MinDurationHr = 1
	MaxDurationHr = 24
	MaxImageLen   = 100
)

// BookingStore is the persistence seam for BookingService.
type BookingStore interface {
	Create(ctx context.Context, b *model.Booking) error
	GetByID(ctx context.Context, id int64) (*model.Booking, error)
	ListByUser(ctx context.Context, userID int64) ([]*model.Booking, error)
	CancelOwned(ctx context.Context, id, userID int64) error
}

// BookingService handles the student-facing booking operations.
//
// Concurrency model:
//   - Creation checks for overlapping sessions inside one transaction.
//   - Cancellation locks the booking row, so a cancel racing the reconciler's
//     start serializes in the store; the loser sees a status mismatch.
type BookingService struct {
	bookings BookingStore
	clock    func() time.Time
}

// NewBookingService creates a booking service using the wall clock.
func NewBookingService(bookings BookingStore) *BookingService {
	return &BookingService{bookings: bookings, clock: time.Now}
}

// CreateInput is the booking creation request body.
type CreateInput struct {
	CPU        int       `json:"cpu"`
	Memory     string    `json:"memory"`
	Image      string    `json:"image"`
	StartTime  time.Time `json:"start_time"`
	DurationHr int       `json:"duration_hr"`
	Notes      string    `json:"notes"`
}

// Create validates the request and records a pending booking for the user.
//
// Rules:
//   - cpu in [1,16]; memory matches ^\d+[gm]$; image 1..100 chars
//   - duration_hr in [1,24]; start_time strictly in the future (UTC)
//   - no overlap with the user's approved or active sessions (half-open
//     intervals, so back-to-back bookings are fine)
func (s *BookingService) Create(ctx context.Context, userID int64, in CreateInput) (*model.Booking, error) {
	fe := fieldErrors{}

	if in.CPU < MinCPU || in.CPU > MaxCPU {
		fe.add("cpu", fmt.Sprintf("must be between %d and %d", MinCPU, MaxCPU))
	}
	if !model.ValidMemory(in.Memory) {
		fe.add("memory", "must be a number followed by 'g' or 'm', e.g. '4g'")
	}
	if len(in.Image) < 1 || len(in.Image) > MaxImageLen {
		fe.add("image", fmt.Sprintf("must be between 1 and %d characters", MaxImageLen))
	}
	if in.DurationHr < MinDurationHr || in.DurationHr > MaxDurationHr {
		fe.add("duration_hr", fmt.Sprintf("must be between %d and %d hours", MinDurationHr, MaxDurationHr))
	}

	now := s.clock().UTC()
	start := in.StartTime.UTC()
	if !start.After(now) {
		fe.add("start_time", "must be in the future")
	}

	if err := fe.err(); err != nil {
		return nil, err
	}

	b := &model.Booking{
		UserID:    userID,
		CPU:       in.CPU,
		Memory:    in.Memory,
		Image:     in.Image,
		StartTime: start,
		EndTime:   start.Add(time.Duration(in.DurationHr) * time.Hour),
		Notes:     in.Notes,
	}

	if err := s.bookings.Create(ctx, b); err != nil {
		if errors.Is(err, repository.ErrOverlap) {
			return nil, ErrBookingOverlap
		}
		return nil, classifyError(err)
	}

	log.Printf("[booking] Created booking #%d for user #%d (%s, %d CPU, %s, %s → %s)",
		b.ID, userID, b.Image, b.CPU, b.Memory,
		b.StartTime.Format(time.RFC3339), b.EndTime.Format(time.RFC3339))

	return b, nil
}

// ListMine returns the user's bookings, newest first.
func (s *BookingService) ListMine(ctx context.Context, userID int64) ([]*model.Booking, error) {
	return s.bookings.ListByUser(ctx, userID)
}

// GetMine returns one booking if it belongs to the user; otherwise
// ErrBookingNotFound (ownership is not revealed).
func (s *BookingService) GetMine(ctx context.Context, id, userID int64) (*model.Booking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	if b.UserID != userID {
		return nil, ErrBookingNotFound
	}
	return b, nil
}

// Cancel cancels the user's own pending or approved booking. An active
// session cannot be self-cancelled; it runs to its end time.
func (s *BookingService) Cancel(ctx context.Context, id, userID int64) error {
	err := s.bookings.CancelOwned(ctx, id, userID)
	switch {
	case err == nil:
		log.Printf("[booking] User #%d cancelled booking #%d", userID, id)
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return ErrBookingNotFound
	case errors.Is(err, repository.ErrNotCancellable):
		return ErrNotCancellable
	default:
		return classifyError(err)
	}
}

// classifyError maps low-level store errors to user-facing ones.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrTimeout
	}
	return err
}
