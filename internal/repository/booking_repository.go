package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shiva/labdock/internal/model"
)

// DefaultTxTimeout is the maximum duration for a booking transaction,
// including lock wait time.
const DefaultTxTimeout = 5 * time.Second

// BookingRepository handles transactional booking operations.
//
// Concurrency strategy: PESSIMISTIC LOCKING.
//
// Every operation that couples a booking status change to an agent capacity
// change locks the agent row with SELECT ... FOR UPDATE, so a concurrent
// approval, start, or stop on the same agent blocks until the first
// transaction commits, then re-reads the updated counters. Status-only
// transitions are guarded with `WHERE status = ...` so a racing transition
// (e.g. a user cancel during Phase B) wins cleanly: the loser sees zero rows
// affected and rolls back.
type BookingRepository struct {
	pool *pgxpool.Pool
}

// NewBookingRepository creates a new booking repository.
func NewBookingRepository(pool *pgxpool.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

const bookingColumns = `
	id, user_id, agent_id, cpu, memory, image, start_time, end_time, status,
	container_name, access_url, rejection_reason, COALESCE(notes, ''),
	created_at, updated_at`

func scanBooking(row pgx.Row) (*model.Booking, error) {
	b := &model.Booking{}
	var status string
	err := row.Scan(
		&b.ID, &b.UserID, &b.AgentID, &b.CPU, &b.Memory, &b.Image,
		&b.StartTime, &b.EndTime, &status,
		&b.ContainerName, &b.AccessURL, &b.RejectionReason, &b.Notes,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Status, err = model.ParseBookingStatus(status)
	if err != nil {
		return nil, fmt.Errorf("bookings: row %d: %w", b.ID, err)
	}
	return b, nil
}

// ─── Creation ───────────────────────────────────────────────

// Create inserts a pending booking after checking that the user has no
// approved or active booking overlapping [StartTime, EndTime). The check and
// the insert share one transaction; intervals are half-open, so a booking
// ending exactly when the new one starts does not conflict.
func (r *BookingRepository) Create(ctx context.Context, b *model.Booking) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("bookings: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var overlaps bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bookings
			WHERE user_id = $1
			  AND status IN ('approved', 'active')
			  AND start_time < $3
			  AND end_time > $2
		)
	`, b.UserID, b.StartTime, b.EndTime).Scan(&overlaps)
	if err != nil {
		return fmt.Errorf("bookings: overlap check: %w", err)
	}
	if overlaps {
		return ErrOverlap
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO bookings (user_id, cpu, memory, image, start_time, end_time, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7)
		RETURNING id, created_at, updated_at
	`, b.UserID, b.CPU, b.Memory, b.Image, b.StartTime, b.EndTime, b.Notes).
		Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("bookings: insert: %w", err)
	}
	b.Status = model.BookingPending

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("bookings: commit: %w", err)
	}
	return nil
}

// ─── Reads ──────────────────────────────────────────────────

// GetByID returns the booking with the given id, or ErrNotFound.
func (r *BookingRepository) GetByID(ctx context.Context, id int64) (*model.Booking, error) {
	b, err := scanBooking(r.pool.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("bookings: select %d: %w", id, err)
	}
	return b, nil
}

// ListByUser returns the user's bookings, newest first.
func (r *BookingRepository) ListByUser(ctx context.Context, userID int64) ([]*model.Booking, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE user_id = $1 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("bookings: list by user: %w", err)
	}
	defer rows.Close()
	return collectBookings(rows)
}

// BookingWithUser is the admin listing row: a booking joined with its owner's name.
type BookingWithUser struct {
	model.Booking
	UserName string `json:"user_name"`
}

// ListAll returns all bookings newest first, optionally filtered by status.
func (r *BookingRepository) ListAll(ctx context.Context, status string) ([]*BookingWithUser, error) {
	query := `
		SELECT b.id, b.user_id, b.agent_id, b.cpu, b.memory, b.image,
		       b.start_time, b.end_time, b.status, b.container_name, b.access_url,
		       b.rejection_reason, COALESCE(b.notes, ''), b.created_at, b.updated_at,
		       COALESCE(u.name, 'Unknown')
		FROM bookings b
		LEFT JOIN users u ON u.id = b.user_id`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE b.status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY b.created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("bookings: list all: %w", err)
	}
	defer rows.Close()

	var out []*BookingWithUser
	for rows.Next() {
		b := &BookingWithUser{}
		var st string
		if err := rows.Scan(
			&b.ID, &b.UserID, &b.AgentID, &b.CPU, &b.Memory, &b.Image,
			&b.StartTime, &b.EndTime, &st, &b.ContainerName, &b.AccessURL,
			&b.RejectionReason, &b.Notes, &b.CreatedAt, &b.UpdatedAt,
			&b.UserName,
		); err != nil {
			return nil, fmt.Errorf("bookings: list all: %w", err)
		}
		if b.Status, err = model.ParseBookingStatus(st); err != nil {
			return nil, fmt.Errorf("bookings: row %d: %w", b.ID, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func collectBookings(rows pgx.Rows) ([]*model.Booking, error) {
	var out []*model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("bookings: scan: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ─── Owner cancellation ─────────────────────────────────────

// CancelOwned cancels the booking if it belongs to userID and is still
// pending or approved. A booking owned by someone else reports ErrNotFound
// rather than leaking its existence.
func (r *BookingRepository) CancelOwned(ctx context.Context, id, userID int64) error {
	txCtx, cancel := context.WithTimeout(ctx, DefaultTxTimeout)
	defer cancel()

	tx, err := r.pool.BeginTx(txCtx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("bookings: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var ownerID int64
	var status string
	err = tx.QueryRow(ctx,
		`SELECT user_id, status FROM bookings WHERE id = $1 FOR UPDATE`, id).
		Scan(&ownerID, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("bookings: lock %d: %w", id, err)
	}
	if ownerID != userID {
		return ErrNotFound
	}
	if status != string(model.BookingPending) && status != string(model.BookingApproved) {
		return ErrNotCancellable
	}

	if _, err := tx.Exec(ctx, `
		UPDATE bookings SET status = 'cancelled', updated_at = NOW() WHERE id = $1
	`, id); err != nil {
		return fmt.Errorf("bookings: cancel %d: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("bookings: commit: %w", err)
	}
	return nil
}

// ─── Admin transitions ──────────────────────────────────────

// Approve binds a pending booking to an agent and marks it approved.
//
// If agentID is non-nil the named agent must be online. Otherwise the best
// online agent with enough free capacity is auto-selected: greatest
// available_cpu wins, smallest id breaks ties. Approval does NOT debit
// capacity — that happens on successful container start.
func (r *BookingRepository) Approve(ctx context.Context, bookingID int64, agentID *int64) (int64, error) {
	txCtx, cancel := context.WithTimeout(ctx, DefaultTxTimeout)
	defer cancel()

	tx, err := r.pool.BeginTx(txCtx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return 0, fmt.Errorf("bookings: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the booking row so concurrent approvals serialize.
	var status, memory string
	var cpu int
	err = tx.QueryRow(ctx,
		`SELECT status, cpu, memory FROM bookings WHERE id = $1 FOR UPDATE`, bookingID).
		Scan(&status, &cpu, &memory)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("bookings: lock %d: %w", bookingID, err)
	}
	if status != string(model.BookingPending) {
		return 0, ErrNotPending
	}

	memGB, err := model.ParseMemoryGB(memory)
	if err != nil {
		return 0, fmt.Errorf("bookings: %d: %w", bookingID, err)
	}

	var chosen int64
	if agentID != nil {
		var agentStatus string
		err = tx.QueryRow(ctx, `SELECT status FROM agents WHERE id = $1`, *agentID).Scan(&agentStatus)
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && agentStatus != string(model.AgentOnline)) {
			return 0, ErrAgentUnavailable
		}
		if err != nil {
			return 0, fmt.Errorf("bookings: check agent %d: %w", *agentID, err)
		}
		chosen = *agentID
	} else {
		err = tx.QueryRow(ctx, `
			SELECT id FROM agents
			WHERE status = 'online'
			  AND available_cpu >= $1
			  AND available_mem >= $2
			ORDER BY available_cpu DESC, id ASC
			LIMIT 1
		`, cpu, memGB).Scan(&chosen)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNoAgents
		}
		if err != nil {
			return 0, fmt.Errorf("bookings: auto-select agent: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE bookings SET status = 'approved', agent_id = $2, updated_at = NOW()
		WHERE id = $1
	`, bookingID, chosen); err != nil {
		return 0, fmt.Errorf("bookings: approve %d: %w", bookingID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("bookings: commit: %w", err)
	}
	return chosen, nil
}

// Reject marks a pending booking rejected with the given reason.
func (r *BookingRepository) Reject(ctx context.Context, id int64, reason string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE bookings SET status = 'rejected', rejection_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, reason)
	if err != nil {
		return fmt.Errorf("bookings: reject %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing row from a wrong-state one.
		if _, err := r.GetByID(ctx, id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrNotPending
	}
	return nil
}

// Extend adds hours to an active booking's end time and returns the new end.
func (r *BookingRepository) Extend(ctx context.Context, id int64, hours int) (time.Time, error) {
	var newEnd time.Time
	err := r.pool.QueryRow(ctx, `
		UPDATE bookings
		SET end_time = end_time + ($2 * INTERVAL '1 hour'), updated_at = NOW()
		WHERE id = $1 AND status = 'active'
		RETURNING end_time
	`, id, hours).Scan(&newEnd)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, err := r.GetByID(ctx, id); errors.Is(err, ErrNotFound) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, ErrNotActive
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("bookings: extend %d: %w", id, err)
	}
	return newEnd, nil
}

// ─── Reconciler selections ──────────────────────────────────

// WakeTarget is an approved booking whose agent should be woken ahead of start.
type WakeTarget struct {
	BookingID int64
	Agent     model.Agent
}

// DueForWake returns approved bookings starting within (now, now+lead] whose
// agent has WoL enabled and a MAC on file.
func (r *BookingRepository) DueForWake(ctx context.Context, now time.Time, lead time.Duration) ([]WakeTarget, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT b.id, a.id, a.name, a.ip, COALESCE(a.mac, ''), a.port
		FROM bookings b
		JOIN agents a ON a.id = b.agent_id
		WHERE b.status = 'approved'
		  AND b.start_time > $1
		  AND b.start_time <= $2
		  AND a.wol_enabled
		  AND COALESCE(a.mac, '') <> ''
	`, now, now.Add(lead))
	if err != nil {
		return nil, fmt.Errorf("bookings: due for wake: %w", err)
	}
	defer rows.Close()

	var out []WakeTarget
	for rows.Next() {
		var t WakeTarget
		if err := rows.Scan(&t.BookingID, &t.Agent.ID, &t.Agent.Name, &t.Agent.IP,
			&t.Agent.MAC, &t.Agent.Port); err != nil {
			return nil, fmt.Errorf("bookings: due for wake: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DueToStart returns approved bookings whose start time has arrived.
func (r *BookingRepository) DueToStart(ctx context.Context, now time.Time) ([]*model.Booking, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE status = 'approved' AND start_time <= $1 ORDER BY start_time`,
		now)
	if err != nil {
		return nil, fmt.Errorf("bookings: due to start: %w", err)
	}
	defer rows.Close()
	return collectBookings(rows)
}

// DueToStop returns active bookings whose end time has passed.
func (r *BookingRepository) DueToStop(ctx context.Context, now time.Time) ([]*model.Booking, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE status = 'active' AND end_time <= $1 ORDER BY end_time`,
		now)
	if err != nil {
		return nil, fmt.Errorf("bookings: due to stop: %w", err)
	}
	defer rows.Close()
	return collectBookings(rows)
}

// ActiveOnAgent returns the active bookings bound to an agent. Used by drift
// repair to compare controller state against the agent's container list.
func (r *BookingRepository) ActiveOnAgent(ctx context.Context, agentID int64) ([]*model.Booking, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE status = 'active' AND agent_id = $1`,
		agentID)
	if err != nil {
		return nil, fmt.Errorf("bookings: active on agent %d: %w", agentID, err)
	}
	defer rows.Close()
	return collectBookings(rows)
}

// ─── The coupled status + capacity transactions ─────────────

// MarkActive commits a successful container start: the booking becomes active
// with its container name and access URL, and the agent's available capacity
// is debited, all in one transaction.
//
// The booking update is guarded with `WHERE status = 'approved'`, so a cancel
// that landed between the Phase-B read and this commit wins: zero rows
// affected, ErrNotApproved, no debit. The agent row is locked FOR UPDATE and
// the debit re-checked against the latest counters; a stale auto-selection
// read surfaces here as ErrInsufficientCapacity and rolls the whole
// transaction back.
func (r *BookingRepository) MarkActive(ctx context.Context, bookingID, agentID int64, cpu, memGB int, containerName, accessURL string) error {
	txCtx, cancel := context.WithTimeout(ctx, DefaultTxTimeout)
	defer cancel()

	tx, err := r.pool.BeginTx(txCtx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("bookings: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the agent row first: every capacity mutation serializes here.
	var availCPU, availMem int
	err = tx.QueryRow(ctx,
		`SELECT available_cpu, available_mem FROM agents WHERE id = $1 FOR UPDATE`, agentID).
		Scan(&availCPU, &availMem)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("bookings: lock agent %d: %w", agentID, err)
	}

	if availCPU < cpu || availMem < memGB {
		return ErrInsufficientCapacity
	}

	tag, err := tx.Exec(ctx, `
		UPDATE bookings
		SET status = 'active', container_name = $2, access_url = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'approved'
	`, bookingID, containerName, accessURL)
	if err != nil {
		return fmt.Errorf("bookings: activate %d: %w", bookingID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotApproved
	}

	if _, err := tx.Exec(ctx, `
		UPDATE agents
		SET available_cpu = available_cpu - $2, available_mem = available_mem - $3
		WHERE id = $1
	`, agentID, cpu, memGB); err != nil {
		return fmt.Errorf("bookings: debit agent %d: %w", agentID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("bookings: commit: %w", err)
	}
	return nil
}

// MarkCompleted commits a container stop: the booking becomes completed and
// the agent's capacity is credited, in one transaction. The credit clamps at
// total_* so an admin shrink of the totals converges instead of overshooting.
// Guarded `WHERE status = 'active'` so a repeated Phase-C attempt after a
// crash credits exactly once.
func (r *BookingRepository) MarkCompleted(ctx context.Context, bookingID, agentID int64, cpu, memGB int) error {
	txCtx, cancel := context.WithTimeout(ctx, DefaultTxTimeout)
	defer cancel()

	tx, err := r.pool.BeginTx(txCtx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("bookings: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM agents WHERE id = $1 FOR UPDATE)`, agentID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("bookings: lock agent %d: %w", agentID, err)
	}
	if !exists {
		return ErrNotFound
	}

	tag, err := tx.Exec(ctx, `
		UPDATE bookings SET status = 'completed', updated_at = NOW()
		WHERE id = $1 AND status = 'active'
	`, bookingID)
	if err != nil {
		return fmt.Errorf("bookings: complete %d: %w", bookingID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotActive
	}

	if _, err := tx.Exec(ctx, `
		UPDATE agents
		SET available_cpu = LEAST(total_cpu, available_cpu + $2),
		    available_mem = LEAST(total_mem, available_mem + $3)
		WHERE id = $1
	`, agentID, cpu, memGB); err != nil {
		return fmt.Errorf("bookings: credit agent %d: %w", agentID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("bookings: commit: %w", err)
	}
	return nil
}
