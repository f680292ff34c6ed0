// Package repository provides database access for the compute session broker.
//
// All booking status transitions that touch agent capacity run inside a single
// transaction with pessimistic locking (SELECT ... FOR UPDATE) so that
// concurrent reconciler and admin operations serialize on the agent row.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shiva/labdock/internal/model"
)

// UserRepository handles the users table.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new user repository.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

const uniqueViolation = "23505"

// Create inserts a new user. Returns ErrDuplicateEmail if the email is taken.
func (r *UserRepository) Create(ctx context.Context, u *model.User) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (name, email, password_hash, role, department, active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		RETURNING id, created_at
	`, u.Name, u.Email, u.PasswordHash, string(u.Role), u.Department).
		Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("users: insert: %w", err)
	}
	u.Active = true
	return nil
}

// GetByEmail returns the user with the given email, or ErrNotFound.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.get(ctx, `WHERE email = $1`, email)
}

// GetByID returns the user with the given id, or ErrNotFound.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	return r.get(ctx, `WHERE id = $1`, id)
}

func (r *UserRepository) get(ctx context.Context, where string, arg interface{}) (*model.User, error) {
	u := &model.User{}
	var role string
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, email, password_hash, role, department, active, created_at
		FROM users `+where,
		arg,
	).Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &u.Department, &u.Active, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("users: select: %w", err)
	}
	u.Role, err = model.ParseUserRole(role)
	if err != nil {
		return nil, fmt.Errorf("users: row %d: %w", u.ID, err)
	}
	return u, nil
}
