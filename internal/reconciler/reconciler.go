// Package reconciler drives the booking lifecycle: waking workers ahead of
// sessions, starting containers at start time, and tearing them down at end
// time. One logical loop owns all of it; ticks never overlap.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shiva/labdock/config"
	"github.com/shiva/labdock/internal/agentclient"
	"github.com/shiva/labdock/internal/model"
	"github.com/shiva/labdock/internal/observability"
	"github.com/shiva/labdock/internal/repository"
)

// Store is the persistence seam for the reconciler.
type Store interface {
	ListAgents(ctx context.Context) ([]*model.Agent, error)
	GetAgent(ctx context.Context, id int64) (*model.Agent, error)
	SetAgentHealth(ctx context.Context, id int64, online bool, now time.Time) error

	DueForWake(ctx context.Context, now time.Time, lead time.Duration) ([]repository.WakeTarget, error)
	DueToStart(ctx context.Context, now time.Time) ([]*model.Booking, error)
	DueToStop(ctx context.Context, now time.Time) ([]*model.Booking, error)
	ActiveOnAgent(ctx context.Context, agentID int64) ([]*model.Booking, error)

	MarkActive(ctx context.Context, bookingID, agentID int64, cpu, memGB int, containerName, accessURL string) error
	MarkCompleted(ctx context.Context, bookingID, agentID int64, cpu, memGB int) error
}

// AgentAPI is the outbound HTTP seam to the worker daemons.
type AgentAPI interface {
	CheckHealth(ctx context.Context, addr string) (*agentclient.Health, error)
	StartContainer(ctx context.Context, addr string, req agentclient.StartRequest) (*agentclient.StartResponse, error)
	StopContainer(ctx context.Context, addr, name string) error
	ListContainers(ctx context.Context, addr string) ([]agentclient.Container, error)
}

// WakeFunc sends a Wake-on-LAN magic packet for the given MAC.
type WakeFunc func(mac string) error

// Reconciler runs the periodic tick.
type Reconciler struct {
	cfg     config.ReconcilerConfig
	store   Store
	agents  AgentAPI
	wake    WakeFunc
	clock   Clock
	metrics *observability.Metrics

	ticks uint64
}

// New creates a reconciler.
func New(cfg config.ReconcilerConfig, store Store, agents AgentAPI, wake WakeFunc, clock Clock, metrics *observability.Metrics) *Reconciler {
	return &Reconciler{
		cfg:     cfg,
		store:   store,
		agents:  agents,
		wake:    wake,
		clock:   clock,
		metrics: metrics,
	}
}

// Run ticks until the context is cancelled. The loop blocks on each tick, so
// a slow tick delays the next instead of overlapping it: at most one attempt
// per booking per phase is in flight at any time.
func (r *Reconciler) Run(ctx context.Context) {
	log.Printf("[reconciler] Starting (tick every %s)", r.cfg.TickInterval)

	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	// First tick immediately, not after a full interval.
	r.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("[reconciler] Stopped")
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick runs one full reconcile pass: health sweep, then phases A, B, C in
// order, then (periodically) drift repair. A failure on one booking never
// aborts the others.
func (r *Reconciler) Tick(ctx context.Context) {
	start := time.Now()
	r.ticks++
	failed := false

	agents := r.healthSweep(ctx)

	if err := r.preWake(ctx); err != nil {
		log.Printf("[reconciler] pre-wake phase: %v", err)
		failed = true
	}
	if err := r.startDue(ctx); err != nil {
		log.Printf("[reconciler] start phase: %v", err)
		failed = true
	}
	if err := r.stopDue(ctx); err != nil {
		log.Printf("[reconciler] stop phase: %v", err)
		failed = true
	}

	if r.cfg.DriftEveryTick > 0 && r.ticks%uint64(r.cfg.DriftEveryTick) == 0 {
		r.repairDrift(ctx, agents)
	}

	r.metrics.TickDuration.Observe(time.Since(start).Seconds())
	if failed {
		r.metrics.TickErrors.Inc()
	}
}

// ─── Phase A: pre-wake ──────────────────────────────────────

// preWake sends WoL packets for approved bookings starting within the wake
// lead whose agent is WoL-capable. Failures are logged and non-fatal; no
// state changes here.
func (r *Reconciler) preWake(ctx context.Context) error {
	now := r.clock.Now()
	targets, err := r.store.DueForWake(ctx, now, r.cfg.WakeLead)
	if err != nil {
		return fmt.Errorf("select wake targets: %w", err)
	}

	for _, t := range targets {
		if err := r.wake(t.Agent.MAC); err != nil {
			log.Printf("[reconciler] WoL for booking #%d (agent #%d, %s): %v",
				t.BookingID, t.Agent.ID, t.Agent.MAC, err)
			r.metrics.PhaseRuns.WithLabelValues("wake", "error").Inc()
			continue
		}
		r.metrics.WolPacketsSent.Inc()
		r.metrics.PhaseRuns.WithLabelValues("wake", "ok").Inc()
		log.Printf("[reconciler] Sent WoL for booking #%d to agent #%d", t.BookingID, t.Agent.ID)
	}
	return nil
}

// ─── Phase B: start ─────────────────────────────────────────

// startDue starts containers for approved bookings whose start time has
// arrived. The booking update and the capacity debit commit as one
// transaction; on any agent failure the booking stays approved and is
// retried next tick.
func (r *Reconciler) startDue(ctx context.Context) error {
	now := r.clock.Now()
	due, err := r.store.DueToStart(ctx, now)
	if err != nil {
		return fmt.Errorf("select due starts: %w", err)
	}

	for _, b := range due {
		if err := r.startOne(ctx, b); err != nil {
			log.Printf("[reconciler] start booking #%d (agent #%d): %v",
				b.ID, derefAgent(b.AgentID), err)
			r.metrics.PhaseRuns.WithLabelValues("start", "error").Inc()
			continue
		}
		r.metrics.PhaseRuns.WithLabelValues("start", "ok").Inc()
	}
	return nil
}

func (r *Reconciler) startOne(ctx context.Context, b *model.Booking) error {
	if b.AgentID == nil {
		return errors.New("approved booking has no agent")
	}

	// Re-read the agent: it must still be online (maintenance and offline
	// agents do not receive starts).
	agent, err := r.store.GetAgent(ctx, *b.AgentID)
	if err != nil {
		return fmt.Errorf("read agent: %w", err)
	}
	if agent.Status != model.AgentOnline {
		return fmt.Errorf("agent is %s", agent.Status)
	}

	memGB, err := model.ParseMemoryGB(b.Memory)
	if err != nil {
		return fmt.Errorf("stored memory %q: %w", b.Memory, err)
	}

	port := r.cfg.PortBase + int(b.ID%1000)

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.StartTimeout)
	resp, err := r.agents.StartContainer(callCtx, agent.Addr(), agentclient.StartRequest{
		Image:  b.Image,
		CPU:    b.CPU,
		Memory: b.Memory,
		Port:   port,
		UserID: b.UserID,
	})
	cancel()
	if err != nil {
		return fmt.Errorf("start container: %w", err)
	}

	err = r.store.MarkActive(ctx, b.ID, agent.ID, b.CPU, memGB, resp.ContainerName, resp.URL)
	if err != nil {
		// The container is up but the booking no longer qualifies (a
		// cancel won the race, or capacity was over-committed by a stale
		// selection). Stop it best-effort; drift repair is the backstop.
		if errors.Is(err, repository.ErrNotApproved) || errors.Is(err, repository.ErrInsufficientCapacity) {
			stopCtx, cancel := context.WithTimeout(ctx, r.cfg.StopTimeout)
			if stopErr := r.agents.StopContainer(stopCtx, agent.Addr(), resp.ContainerName); stopErr != nil && !errors.Is(stopErr, agentclient.ErrContainerNotFound) {
				log.Printf("[reconciler] rollback stop of %s on agent #%d: %v",
					resp.ContainerName, agent.ID, stopErr)
			}
			cancel()
		}
		return fmt.Errorf("commit activation: %w", err)
	}

	r.metrics.ContainersStarted.Inc()
	log.Printf("[reconciler] ✓ Booking #%d active: %s on agent #%d (%s)",
		b.ID, resp.ContainerName, agent.ID, resp.URL)
	return nil
}

// ─── Phase C: stop ──────────────────────────────────────────

// stopDue stops containers for active bookings whose end time has passed.
// A "not found" from the agent counts as success: the container is gone
// either way, and the credit must happen exactly once.
func (r *Reconciler) stopDue(ctx context.Context) error {
	now := r.clock.Now()
	due, err := r.store.DueToStop(ctx, now)
	if err != nil {
		return fmt.Errorf("select due stops: %w", err)
	}

	for _, b := range due {
		if err := r.stopOne(ctx, b); err != nil {
			log.Printf("[reconciler] stop booking #%d (agent #%d): %v",
				b.ID, derefAgent(b.AgentID), err)
			r.metrics.PhaseRuns.WithLabelValues("stop", "error").Inc()
			continue
		}
		r.metrics.PhaseRuns.WithLabelValues("stop", "ok").Inc()
	}
	return nil
}

func (r *Reconciler) stopOne(ctx context.Context, b *model.Booking) error {
	if b.AgentID == nil || b.ContainerName == nil {
		return errors.New("active booking missing agent or container name")
	}

	agent, err := r.store.GetAgent(ctx, *b.AgentID)
	if err != nil {
		return fmt.Errorf("read agent: %w", err)
	}

	memGB, err := model.ParseMemoryGB(b.Memory)
	if err != nil {
		return fmt.Errorf("stored memory %q: %w", b.Memory, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.StopTimeout)
	err = r.agents.StopContainer(callCtx, agent.Addr(), *b.ContainerName)
	cancel()
	if err != nil && !errors.Is(err, agentclient.ErrContainerNotFound) {
		return fmt.Errorf("stop container: %w", err)
	}

	if err := r.store.MarkCompleted(ctx, b.ID, agent.ID, b.CPU, memGB); err != nil {
		return fmt.Errorf("commit completion: %w", err)
	}

	r.metrics.ContainersStopped.Inc()
	log.Printf("[reconciler] ✓ Booking #%d completed: stopped %s on agent #%d",
		b.ID, *b.ContainerName, agent.ID)
	return nil
}

func derefAgent(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}
