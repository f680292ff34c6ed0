package reconciler

import (
	"context"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/shiva/labdock/internal/model"
)

// healthSweep probes every agent in parallel and records the results. A 200
// marks the agent online and advances last_seen; anything else (non-200,
// timeout, refused connection) marks it offline without touching last_seen.
// An admin-forced maintenance status is overwritten by the probe result.
//
// Returns the agent list so the tick can reuse it for drift repair without a
// second read.
func (r *Reconciler) healthSweep(ctx context.Context) []*model.Agent {
	agents, err := r.store.ListAgents(ctx)
	if err != nil {
		log.Printf("[health] list agents: %v", err)
		return nil
	}

	results := make([]bool, len(agents))

	// One in-flight probe per agent, all bounded by the same timeout.
	g, gctx := errgroup.WithContext(ctx)
	for i, a := range agents {
		i, a := i, a
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(gctx, r.cfg.HealthTimeout)
			defer cancel()
			_, err := r.agents.CheckHealth(probeCtx, a.Addr())
			results[i] = err == nil
			return nil
		})
	}
	_ = g.Wait() // probes never return errors; failures land in results

	now := r.clock.Now()
	online := 0
	for i, a := range agents {
		if results[i] {
			online++
			r.metrics.HealthProbes.WithLabelValues("ok").Inc()
		} else {
			r.metrics.HealthProbes.WithLabelValues("fail").Inc()
			if a.Status == model.AgentOnline {
				log.Printf("[health] Agent #%d (%s) went offline", a.ID, a.Name)
			}
		}
		if err := r.store.SetAgentHealth(ctx, a.ID, results[i], now); err != nil {
			log.Printf("[health] record agent #%d: %v", a.ID, err)
		}
		// Keep the in-memory copy in sync for drift repair this tick.
		if results[i] {
			a.Status = model.AgentOnline
			a.LastSeen = now
		} else {
			a.Status = model.AgentOffline
		}
	}
	r.metrics.OnlineAgents.Set(float64(online))

	return agents
}
