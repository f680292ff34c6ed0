package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// StatsRepository aggregates dashboard counters over bookings and agents.
type StatsRepository struct {
	pool  *pgxpool.Pool
	redis *redis.Client
}

// NewStatsRepository creates a new stats repository.
func NewStatsRepository(pool *pgxpool.Pool, redis *redis.Client) *StatsRepository {
	return &StatsRepository{pool: pool, redis: redis}
}

// Stats is the admin dashboard payload.
type Stats struct {
	TotalBookings int `json:"total_bookings"`
	Pending       int `json:"pending"`
	Active        int `json:"active"`
	Completed     int `json:"completed"`
	OnlineAgents  int `json:"online_agents"`
}

const (
	statsCacheKey = "stats:dashboard"
	statsCacheTTL = 15 * time.Second // Dashboards poll; keep the DB off the hot path.
)

// Get returns the dashboard counters.
//
// Strategy:
//  1. Try the Redis cache first (fast path, <1ms).
//  2. On cache miss, run the aggregate query, then cache the JSON blob.
//
// Staleness up to the TTL is acceptable for a dashboard.
func (r *StatsRepository) Get(ctx context.Context) (*Stats, error) {
	// ── Fast path: Redis cache ──────────────────────────
	if raw, err := r.redis.Get(ctx, statsCacheKey).Bytes(); err == nil {
		s := &Stats{}
		if err := json.Unmarshal(raw, s); err == nil {
			return s, nil
		}
		// Corrupt cache entry: fall through to the DB and overwrite it.
	}

	// ── Slow path: aggregate query ──────────────────────
	s, err := r.queryStatsFromDB(ctx)
	if err != nil {
		return nil, err
	}

	// Cache the result (fire-and-forget, don't block on errors).
	if raw, err := json.Marshal(s); err == nil {
		_ = r.redis.Set(ctx, statsCacheKey, raw, statsCacheTTL).Err()
	}

	return s, nil
}

// queryStatsFromDB counts bookings by status and online agents in one round trip.
func (r *StatsRepository) queryStatsFromDB(ctx context.Context) (*Stats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM bookings)::int,
			(SELECT COUNT(*) FROM bookings WHERE status = 'pending')::int,
			(SELECT COUNT(*) FROM bookings WHERE status = 'active')::int,
			(SELECT COUNT(*) FROM bookings WHERE status = 'completed')::int,
			(SELECT COUNT(*) FROM agents WHERE status = 'online')::int
	`

	s := &Stats{}
	err := r.pool.QueryRow(ctx, query).
		Scan(&s.TotalBookings, &s.Pending, &s.Active, &s.Completed, &s.OnlineAgents)
	if err != nil {
		return nil, fmt.Errorf("stats: query: %w", err)
	}
	return s, nil
}

// Invalidate clears the cached counters. Called after admin transitions so the
// dashboard reflects approvals and rejections immediately.
func (r *StatsRepository) Invalidate(ctx context.Context) {
	_ = r.redis.Del(ctx, statsCacheKey).Err()
}
