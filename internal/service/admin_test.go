package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shiva/labdock/internal/model"
	"github.com/shiva/labdock/internal/repository"
)

// fakeAdminStore implements AdminBookingStore, AgentStore and StatsStore.
type fakeAdminStore struct {
	bookings    map[int64]*model.Booking
	agents      map[int64]*model.Agent
	invalidated int
}

func newFakeAdminStore() *fakeAdminStore {
	return &fakeAdminStore{
		bookings: map[int64]*model.Booking{},
		agents:   map[int64]*model.Agent{},
	}
}

func (f *fakeAdminStore) ListAll(_ context.Context, status string) ([]*repository.BookingWithUser, error) {
	var out []*repository.BookingWithUser
	for _, b := range f.bookings {
		if status == "" || string(b.Status) == status {
			out = append(out, &repository.BookingWithUser{Booking: *b, UserName: "Test User"})
		}
	}
	return out, nil
}

func (f *fakeAdminStore) Approve(_ context.Context, bookingID int64, agentID *int64) (int64, error) {
	b, ok := f.bookings[bookingID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	if b.Status != model.BookingPending {
		return 0, repository.ErrNotPending
	}

	memGB, err := model.ParseMemoryGB(b.Memory)
	if err != nil {
		return 0, err
	}

	var chosen *model.Agent
	if agentID != nil {
		a, ok := f.agents[*agentID]
		if !ok || a.Status != model.AgentOnline {
			return 0, repository.ErrAgentUnavailable
		}
		chosen = a
	} else {
		for _, a := range f.agents {
			if a.Status != model.AgentOnline || a.AvailableCPU < b.CPU || a.AvailMemGB < memGB {
				continue
			}
			if chosen == nil ||
				a.AvailableCPU > chosen.AvailableCPU ||
				(a.AvailableCPU == chosen.AvailableCPU && a.ID < chosen.ID) {
				chosen = a
			}
		}
		if chosen == nil {
			return 0, repository.ErrNoAgents
		}
	}

	b.Status = model.BookingApproved
	b.AgentID = &chosen.ID
	return chosen.ID, nil
}

func (f *fakeAdminStore) Reject(_ context.Context, id int64, reason string) error {
	b, ok := f.bookings[id]
	if !ok {
		return repository.ErrNotFound
	}
	if b.Status != model.BookingPending {
		return repository.ErrNotPending
	}
	b.Status = model.BookingRejected
	b.RejectionReason = &reason
	return nil
}

func (f *fakeAdminStore) Extend(_ context.Context, id int64, hours int) (time.Time, error) {
	b, ok := f.bookings[id]
	if !ok {
		return time.Time{}, repository.ErrNotFound
	}
	if b.Status != model.BookingActive {
		return time.Time{}, repository.ErrNotActive
	}
	b.EndTime = b.EndTime.Add(time.Duration(hours) * time.Hour)
	return b.EndTime, nil
}

func (f *fakeAdminStore) Get(_ context.Context, id int64) (*model.Agent, error) {
	a, ok := f.agents[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return a, nil
}

func (f *fakeAdminStore) List(_ context.Context) ([]*model.Agent, error) {
	var out []*model.Agent
	for _, a := range f.agents {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeAdminStore) UpdateStatus(_ context.Context, id int64, status model.AgentStatus) error {
	a, ok := f.agents[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.Status = status
	return nil
}

type fakeStats struct{ store *fakeAdminStore }

func (s fakeStats) Get(_ context.Context) (*repository.Stats, error) {
	return &repository.Stats{TotalBookings: len(s.store.bookings)}, nil
}
func (s fakeStats) Invalidate(_ context.Context) { s.store.invalidated++ }

func testAdminService(store *fakeAdminStore) *AdminService {
	return NewAdminService(store, store, fakeStats{store})
}

func pendingBooking(id int64, cpu int, memory string) *model.Booking {
	return &model.Booking{
		ID: id, UserID: 1, CPU: cpu, Memory: memory, Image: "img",
		Status: model.BookingPending,
	}
}

func onlineAgent(id int64, cpu, memGB int) *model.Agent {
	return &model.Agent{
		ID: id, Name: "agent", IP: "10.0.0.1", Port: 5000,
		Status: model.AgentOnline, TotalCPU: cpu, TotalMemGB: memGB,
		AvailableCPU: cpu, AvailMemGB: memGB,
	}
}

func TestApprove_AutoSelect(t *testing.T) {
	store := newFakeAdminStore()
	store.bookings[1] = pendingBooking(1, 2, "4g")
	store.agents[1] = onlineAgent(1, 4, 8)
	store.agents[2] = onlineAgent(2, 8, 16) // more free CPU: should win
	svc := testAdminService(store)

	chosen, err := svc.Approve(context.Background(), 1, nil)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if chosen != 2 {
		t.Errorf("chosen agent = %d, want 2 (most free CPU)", chosen)
	}
	if store.bookings[1].Status != model.BookingApproved {
		t.Errorf("status = %s, want approved", store.bookings[1].Status)
	}
	// Approval must not debit capacity.
	if store.agents[2].AvailableCPU != 8 {
		t.Errorf("available cpu = %d, approval must not debit", store.agents[2].AvailableCPU)
	}
	if store.invalidated == 0 {
		t.Error("stats cache not invalidated after approval")
	}
}

func TestApprove_ExactFit(t *testing.T) {
	store := newFakeAdminStore()
	store.bookings[1] = pendingBooking(1, 4, "8g")
	store.agents[1] = onlineAgent(1, 4, 8) // exactly the requested capacity
	svc := testAdminService(store)

	if _, err := svc.Approve(context.Background(), 1, nil); err != nil {
		t.Errorf("exact-fit approve failed: %v", err)
	}
}

func TestApprove_NoCapacity(t *testing.T) {
	store := newFakeAdminStore()
	store.bookings[1] = pendingBooking(1, 4, "8g")
	store.agents[1] = onlineAgent(1, 3, 8) // one CPU short
	svc := testAdminService(store)

	if _, err := svc.Approve(context.Background(), 1, nil); !errors.Is(err, ErrNoAgents) {
		t.Errorf("err = %v, want ErrNoAgents", err)
	}
}

func TestApprove_ExplicitAgentOffline(t *testing.T) {
	store := newFakeAdminStore()
	store.bookings[1] = pendingBooking(1, 2, "4g")
	a := onlineAgent(1, 8, 16)
	a.Status = model.AgentOffline
	store.agents[1] = a
	svc := testAdminService(store)

	id := int64(1)
	if _, err := svc.Approve(context.Background(), 1, &id); !errors.Is(err, ErrAgentUnavailable) {
		t.Errorf("err = %v, want ErrAgentUnavailable", err)
	}
}

func TestApprove_NotPending(t *testing.T) {
	store := newFakeAdminStore()
	b := pendingBooking(1, 2, "4g")
	b.Status = model.BookingCancelled
	store.bookings[1] = b
	store.agents[1] = onlineAgent(1, 8, 16)
	svc := testAdminService(store)

	if _, err := svc.Approve(context.Background(), 1, nil); !errors.Is(err, ErrNotPending) {
		t.Errorf("err = %v, want ErrNotPending", err)
	}
}

func TestReject_DefaultReason(t *testing.T) {
	store := newFakeAdminStore()
	store.bookings[1] = pendingBooking(1, 2, "4g")
	svc := testAdminService(store)

	if err := svc.Reject(context.Background(), 1, ""); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	b := store.bookings[1]
	if b.Status != model.BookingRejected {
		t.Errorf("status = %s, want rejected", b.Status)
	}
	if b.RejectionReason == nil || *b.RejectionReason != DefaultRejectionReason {
		t.Errorf("reason = %v, want %q", b.RejectionReason, DefaultRejectionReason)
	}
}

func TestExtend(t *testing.T) {
	store := newFakeAdminStore()
	end := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	b := pendingBooking(1, 2, "4g")
	b.Status = model.BookingActive
	b.EndTime = end
	store.bookings[1] = b
	svc := testAdminService(store)

	// Zero hours takes the default.
	newEnd, err := svc.Extend(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if want := end.Add(time.Hour); !newEnd.Equal(want) {
		t.Errorf("new end = %s, want %s", newEnd, want)
	}

	if _, err := svc.Extend(context.Background(), 1, 25); err == nil {
		t.Error("hours=25 accepted, want validation error")
	}

	b.Status = model.BookingCompleted
	if _, err := svc.Extend(context.Background(), 1, 1); !errors.Is(err, ErrNotActive) {
		t.Errorf("err = %v, want ErrNotActive", err)
	}
}

func TestSetAgentStatus(t *testing.T) {
	store := newFakeAdminStore()
	store.agents[1] = onlineAgent(1, 8, 16)
	svc := testAdminService(store)

	if err := svc.SetAgentStatus(context.Background(), 1, "maintenance"); err != nil {
		t.Fatalf("SetAgentStatus: %v", err)
	}
	if store.agents[1].Status != model.AgentMaintenance {
		t.Errorf("status = %s, want maintenance", store.agents[1].Status)
	}

	var ve *ValidationError
	if err := svc.SetAgentStatus(context.Background(), 1, "broken"); !errors.As(err, &ve) {
		t.Errorf("unknown status: err = %v, want *ValidationError", err)
	}
	if err := svc.SetAgentStatus(context.Background(), 99, "online"); !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("missing agent: err = %v, want ErrAgentNotFound", err)
	}
}

func TestListBookings_UnknownStatus(t *testing.T) {
	svc := testAdminService(newFakeAdminStore())
	var ve *ValidationError
	if _, err := svc.ListBookings(context.Background(), "bogus"); !errors.As(err, &ve) {
		t.Errorf("err = %v, want *ValidationError", err)
	}
}
