package service

import (
	"context"
	"errors"
	"log"
	"net/mail"
	"strings"

	"github.com/shiva/labdock/internal/auth"
	"github.com/shiva/labdock/internal/model"
	"github.com/shiva/labdock/internal/repository"
)

// UserStore is the persistence seam for AuthService.
type UserStore interface {
	Create(ctx context.Context, u *model.User) error
	GetByEmail(ctx context.Context, email string) (*model.User, error)
}

// AuthService handles registration and login.
type AuthService struct {
	users  UserStore
	issuer *auth.TokenIssuer
}

// NewAuthService creates an auth service.
func NewAuthService(users UserStore, issuer *auth.TokenIssuer) *AuthService {
	return &AuthService{users: users, issuer: issuer}
}

// RegisterInput is the registration request body.
type RegisterInput struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	Role       string `json:"role"`
	Department string `json:"department"`
}

// Register creates a new account. Role defaults to student, department to
// "General". The returned user has PasswordHash stripped from JSON by the
// model tag.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	fe := fieldErrors{}

	in.Name = strings.TrimSpace(in.Name)
	if len(in.Name) < 2 || len(in.Name) > 80 {
		fe.add("name", "must be between 2 and 80 characters")
	}

	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := mail.ParseAddress(in.Email); err != nil {
		fe.add("email", "must be a valid email address")
	}

	if len(in.Password) < 6 {
		fe.add("password", "must be at least 6 characters")
	}

	role := model.RoleStudent
	if in.Role != "" {
		var err error
		if role, err = model.ParseUserRole(in.Role); err != nil {
			fe.add("role", "must be 'admin' or 'student'")
		}
	}

	if err := fe.err(); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	u := &model.User{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         role,
		Department:   strings.TrimSpace(in.Department),
	}
	if u.Department == "" {
		u.Department = "General"
	}

	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	log.Printf("[auth] Registered user #%d (%s, %s)", u.ID, u.Email, u.Role)
	return u, nil
}

// Login verifies the credentials and returns the user plus a signed token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*model.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, "", ErrInvalidCredentials
	}

	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", err
	}
	if !u.Active {
		return nil, "", ErrUserInactive
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.issuer.Issue(u)
	if err != nil {
		return nil, "", err
	}

	log.Printf("[auth] User #%d logged in", u.ID)
	return u, token, nil
}
