// Package model contains domain models for the compute session broker.
// These structs map to the PostgreSQL schema defined in migrations/001_create_schema.up.sql.
package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ─── Enums ──────────────────────────────────────────────────

type UserRole string

const (
	RoleAdmin   UserRole = "admin"
	RoleStudent UserRole = "student"
)

// ParseUserRole validates a role string coming from the store or a token.
// Unknown roles are rejected, never defaulted.
func ParseUserRole(s string) (UserRole, error) {
	switch UserRole(s) {
	case RoleAdmin, RoleStudent:
		return UserRole(s), nil
	}
	return "", fmt.Errorf("unknown user role %q", s)
}

type AgentStatus string

const (
	AgentOnline      AgentStatus = "online"
	AgentOffline     AgentStatus = "offline"
	AgentMaintenance AgentStatus = "maintenance"
)

// ParseAgentStatus validates an agent status string at the store boundary.
func ParseAgentStatus(s string) (AgentStatus, error) {
	switch AgentStatus(s) {
	case AgentOnline, AgentOffline, AgentMaintenance:
		return AgentStatus(s), nil
	}
	return "", fmt.Errorf("unknown agent status %q", s)
}

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingApproved  BookingStatus = "approved"
	BookingRejected  BookingStatus = "rejected"
	BookingActive    BookingStatus = "active"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
)

// ParseBookingStatus validates a booking status string at the store boundary.
func ParseBookingStatus(s string) (BookingStatus, error) {
	switch BookingStatus(s) {
	case BookingPending, BookingApproved, BookingRejected,
		BookingActive, BookingCompleted, BookingCancelled:
		return BookingStatus(s), nil
	}
	return "", fmt.Errorf("unknown booking status %q", s)
}

// Terminal reports whether a booking can never leave this status.
func (s BookingStatus) Terminal() bool {
	switch s {
	case BookingRejected, BookingCompleted, BookingCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the state machine allows s → to.
//
//	pending  → approved | rejected | cancelled
//	approved → active | cancelled
//	active   → completed
func (s BookingStatus) CanTransition(to BookingStatus) bool {
	switch s {
	case BookingPending:
		return to == BookingApproved || to == BookingRejected || to == BookingCancelled
	case BookingApproved:
		return to == BookingActive || to == BookingCancelled
	case BookingActive:
		return to == BookingCompleted
	}
	return false
}

// ─── Domain Models ──────────────────────────────────────────

// User maps to the `users` table.
type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	Department   string    `json:"department"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Agent maps to the `agents` table. One row per worker host.
type Agent struct {
	ID           int64       `json:"id"`
	Name         string      `json:"name"`
	IP           string      `json:"ip"`
	MAC          string      `json:"mac,omitempty"`
	Port         int         `json:"port"`
	WolEnabled   bool        `json:"wol_enabled"`
	Status       AgentStatus `json:"status"`
	LastSeen     time.Time   `json:"last_seen"`
	TotalCPU     int         `json:"total_cpu"`
	TotalMemGB   int         `json:"total_mem"`
	AvailableCPU int         `json:"available_cpu"`
	AvailMemGB   int         `json:"available_mem"`
	Tags         string      `json:"tags"` // comma-separated: gpu,ml,heavy
	CreatedAt    time.Time   `json:"created_at"`
}

// Addr returns the agent's HTTP base address.
func (a *Agent) Addr() string {
	return fmt.Sprintf("http://%s:%d", a.IP, a.Port)
}

// Booking maps to the `bookings` table.
type Booking struct {
	ID              int64         `json:"id"`
	UserID          int64         `json:"user_id"`
	AgentID         *int64        `json:"agent_id,omitempty"` // set once approved
	CPU             int           `json:"cpu"`
	Memory          string        `json:"memory"` // e.g. "4g", "512m"
	Image           string        `json:"image"`
	StartTime       time.Time     `json:"start_time"`
	EndTime         time.Time     `json:"end_time"`
	Status          BookingStatus `json:"status"`
	ContainerName   *string       `json:"container_name,omitempty"`
	AccessURL       *string       `json:"access_url,omitempty"`
	RejectionReason *string       `json:"rejection_reason,omitempty"`
	Notes           string        `json:"notes,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Overlaps reports whether [b.StartTime, b.EndTime) intersects [start, end).
// Half-open: a booking ending exactly when another starts does not overlap.
func (b *Booking) Overlaps(start, end time.Time) bool {
	return b.StartTime.Before(end) && b.EndTime.After(start)
}

// ─── Memory parsing ─────────────────────────────────────────

var memoryRe = regexp.MustCompile(`^(\d+)([gm])$`)

// ValidMemory reports whether s is a well-formed memory request ("4g", "512m").
func ValidMemory(s string) bool {
	return memoryRe.MatchString(s)
}

// ParseMemoryGB converts a memory request string to whole gigabytes.
// "g" values are taken as-is; "m" values round up to the next whole GB,
// so "512m" is 1 GB, not 512. All capacity accounting is done in GB.
func ParseMemoryGB(s string) (int, error) {
	m := memoryRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return 0, fmt.Errorf("invalid memory %q: want <digits>g or <digits>m", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid memory %q", s)
	}
	if m[2] == "m" {
		return (n + 1023) / 1024, nil
	}
	return n, nil
}
