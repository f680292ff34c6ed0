package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/shiva/labdock/internal/middleware"
	"github.com/shiva/labdock/internal/model"
	"github.com/shiva/labdock/internal/repository"
	"github.com/shiva/labdock/internal/service"
)

// UserGetter fetches a user for the profile endpoint.
type UserGetter interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
}

// AuthHandler handles registration, login, logout and the self profile.
type AuthHandler struct {
	auth  *service.AuthService
	users UserGetter
}

// NewAuthHandler creates a new handler wired to the auth service.
func NewAuthHandler(auth *service.AuthService, users UserGetter) *AuthHandler {
	return &AuthHandler{auth: auth, users: users}
}

// Register handles POST /api/auth/register.
//
// Returns 201 with the created user, 400 on validation failure, or 409 if
// the email is taken.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var in service.RegisterInput
	if !decodeBody(w, r, &in, false) {
		return
	}

	u, err := h.auth.Register(r.Context(), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, u)
}

// Login handles POST /api/auth/login.
//
// Returns 200 with `{token, user}`, 401 on bad credentials, or 403 if the
// account is deactivated.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &in, false) {
		return
	}

	u, token, err := h.auth.Login(r.Context(), in.Email, in.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"user":  u,
	})
}

// Logout handles POST /api/auth/logout. Tokens are stateless, so this is an
// acknowledgment: the client discards its token.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// Profile handles GET /api/student/profile, returning the caller's account.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing credentials")
		return
	}

	u, err := h.users.GetByID(r.Context(), claims.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, u)
}
