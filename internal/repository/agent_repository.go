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

// AgentRepository handles the agents table (the worker fleet).
//
// Capacity columns (available_cpu, available_mem) are mutated only inside the
// booking transactions in BookingRepository; this repository covers status,
// health, and reads.
type AgentRepository struct {
	pool *pgxpool.Pool
}

// NewAgentRepository creates a new agent repository.
func NewAgentRepository(pool *pgxpool.Pool) *AgentRepository {
	return &AgentRepository{pool: pool}
}

const agentColumns = `
	id, name, ip, COALESCE(mac, ''), port, wol_enabled, status, last_seen,
	total_cpu, total_mem, available_cpu, available_mem, COALESCE(tags, ''), created_at`

func scanAgent(row pgx.Row) (*model.Agent, error) {
	a := &model.Agent{}
	var status string
	err := row.Scan(
		&a.ID, &a.Name, &a.IP, &a.MAC, &a.Port, &a.WolEnabled, &status, &a.LastSeen,
		&a.TotalCPU, &a.TotalMemGB, &a.AvailableCPU, &a.AvailMemGB, &a.Tags, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Status, err = model.ParseAgentStatus(status)
	if err != nil {
		return nil, fmt.Errorf("agents: row %d: %w", a.ID, err)
	}
	return a, nil
}

// Get returns the agent with the given id, or ErrNotFound.
func (r *AgentRepository) Get(ctx context.Context, id int64) (*model.Agent, error) {
	a, err := scanAgent(r.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("agents: select %d: %w", id, err)
	}
	return a, nil
}

// List returns every agent, ordered by id.
func (r *AgentRepository) List(ctx context.Context) ([]*model.Agent, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("agents: list: %w", err)
	}
	defer rows.Close()

	var agents []*model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("agents: list: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// UpdateStatus applies an admin status override. Returns ErrNotFound for an
// unknown agent.
func (r *AgentRepository) UpdateStatus(ctx context.Context, id int64, status model.AgentStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE agents SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("agents: update status %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetHealth records a health probe result. A successful probe sets the agent
// online and advances last_seen; a failed probe sets it offline and leaves
// last_seen untouched. Admin-set maintenance is overwritten either way.
func (r *AgentRepository) SetHealth(ctx context.Context, id int64, online bool, now time.Time) error {
	var err error
	if online {
		_, err = r.pool.Exec(ctx,
			`UPDATE agents SET status = 'online', last_seen = $2 WHERE id = $1`, id, now)
	} else {
		_, err = r.pool.Exec(ctx,
			`UPDATE agents SET status = 'offline' WHERE id = $1`, id)
	}
	if err != nil {
		return fmt.Errorf("agents: set health %d: %w", id, err)
	}
	return nil
}
