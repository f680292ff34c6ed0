package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/shiva/labdock/internal/middleware"
	"github.com/shiva/labdock/internal/service"
)

// StudentHandler handles the student-facing booking endpoints.
type StudentHandler struct {
	bookings *service.BookingService
}

// NewStudentHandler creates a new handler wired to the booking service.
func NewStudentHandler(bookings *service.BookingService) *StudentHandler {
	return &StudentHandler{bookings: bookings}
}

// Book handles POST /api/student/book.
//
// Body: `{cpu, memory, image, start_time, duration_hr, tags?}`.
// Returns 201 with the pending booking, 400 on validation failure, or 409 if
// the interval overlaps one of the caller's approved/active sessions.
func (h *StudentHandler) Book(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing credentials")
		return
	}

	var in struct {
		CPU        int       `json:"cpu"`
		Memory     string    `json:"memory"`
		Image      string    `json:"image"`
		StartTime  time.Time `json:"start_time"`
		DurationHr int       `json:"duration_hr"`
		Tags       string    `json:"tags"`
	}
	if !decodeBody(w, r, &in, false) {
		return
	}

	b, err := h.bookings.Create(r.Context(), claims.UserID, service.CreateInput{
		CPU:        in.CPU,
		Memory:     in.Memory,
		Image:      in.Image,
		StartTime:  in.StartTime,
		DurationHr: in.DurationHr,
		Notes:      in.Tags,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, b)
}

// ListBookings handles GET /api/student/bookings, newest first.
func (h *StudentHandler) ListBookings(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing credentials")
		return
	}

	list, err := h.bookings.ListMine(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"bookings": list})
}

// GetBooking handles GET /api/student/bookings/{id}. A booking owned by a
// different user answers 404.
func (h *StudentHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing credentials")
		return
	}

	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	b, err := h.bookings.GetMine(r.Context(), id, claims.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, b)
}

// CancelBooking handles POST /api/student/bookings/{id}/cancel.
//
// Only pending and approved bookings can be cancelled; an active session runs
// to its end time (409 otherwise).
func (h *StudentHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing credentials")
		return
	}

	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.bookings.Cancel(r.Context(), id, claims.UserID); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "booking cancelled"})
}

// pathID parses an integer path variable, answering 400 itself on failure.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name+": must be an integer")
		return 0, false
	}
	return id, true
}
