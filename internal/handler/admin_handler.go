package handler

import (
	"net/http"
	"time"

	"github.com/shiva/labdock/internal/service"
)

// AdminHandler handles the administrator endpoints: the approval queue, the
// agent fleet, and the dashboard.
type AdminHandler struct {
	admin *service.AdminService
}

// NewAdminHandler creates a new handler wired to the admin service.
func NewAdminHandler(admin *service.AdminService) *AdminHandler {
	return &AdminHandler{admin: admin}
}

// ListBookings handles GET /api/admin/bookings?status=.
func (h *AdminHandler) ListBookings(w http.ResponseWriter, r *http.Request) {
	list, err := h.admin.ListBookings(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bookings": list})
}

// Approve handles POST /api/admin/approve/{id} with optional body `{agent_id}`.
//
// Without an agent_id the online agent with the most free CPU is selected.
// 404 unknown booking, 409 not pending, 503 no suitable agent.
func (h *AdminHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var in struct {
		AgentID *int64 `json:"agent_id"`
	}
	if !decodeBody(w, r, &in, true) {
		return
	}

	agentID, err := h.admin.Approve(r.Context(), id, in.AgentID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "booking approved",
		"agent_id": agentID,
	})
}

// Reject handles POST /api/admin/reject/{id} with optional body `{reason}`.
func (h *AdminHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var in struct {
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &in, true) {
		return
	}

	if err := h.admin.Reject(r.Context(), id, in.Reason); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "booking rejected"})
}

// Extend handles POST /api/admin/extend/{id} with optional body `{hours}`
// (default 1). Only active bookings can be extended.
func (h *AdminHandler) Extend(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var in struct {
		Hours int `json:"hours"`
	}
	if !decodeBody(w, r, &in, true) {
		return
	}

	newEnd, err := h.admin.Extend(r.Context(), id, in.Hours)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "booking extended",
		"end_time": newEnd.Format(time.RFC3339),
	})
}

// ListAgents handles GET /api/admin/agents.
func (h *AdminHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.admin.ListAgents(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"agents": agents})
}

// SetAgentStatus handles POST /api/admin/agents/{id}/status with body
// `{status}`. The next health probe may overwrite the override.
func (h *AdminHandler) SetAgentStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var in struct {
		Status string `json:"status"`
	}
	if !decodeBody(w, r, &in, false) {
		return
	}

	if err := h.admin.SetAgentStatus(r.Context(), id, in.Status); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "agent status updated"})
}

// Stats handles GET /api/admin/stats.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.admin.Stats(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
