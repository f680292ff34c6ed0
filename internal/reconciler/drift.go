package reconciler

import (
	"context"
	"errors"
	"log"

	"github.com/shiva/labdock/internal/agentclient"
	"github.com/shiva/labdock/internal/model"
	"github.com/shiva/labdock/internal/repository"
)

// repairDrift compares each online agent's container list against the active
// bookings bound to it. After a controller crash mid-start or mid-stop the
// two can disagree in either direction:
//
//   - booking active, container gone → the session is over; force-complete
//     and credit the capacity back.
//   - container present, no booking references it → orphan (e.g. a start
//     whose activation lost to a cancel); stop it.
//
// Runs every cfg.DriftEveryTick ticks. All failures are logged and retried
// on the next drift pass.
func (r *Reconciler) repairDrift(ctx context.Context, agents []*model.Agent) {
	for _, a := range agents {
		if a.Status != model.AgentOnline {
			continue
		}
		r.repairAgent(ctx, a)
	}
}

func (r *Reconciler) repairAgent(ctx context.Context, agent *model.Agent) {
	listCtx, cancel := context.WithTimeout(ctx, r.cfg.StopTimeout)
	containers, err := r.agents.ListContainers(listCtx, agent.Addr())
	cancel()
	if err != nil {
		log.Printf("[drift] list containers on agent #%d: %v", agent.ID, err)
		return
	}

	active, err := r.store.ActiveOnAgent(ctx, agent.ID)
	if err != nil {
		log.Printf("[drift] list active bookings on agent #%d: %v", agent.ID, err)
		return
	}

	present := make(map[string]bool, len(containers))
	for _, c := range containers {
		present[c.Name] = true
	}
	referenced := make(map[string]bool, len(active))

	// Active in the store but gone on the agent: force-complete.
	for _, b := range active {
		if b.ContainerName == nil {
			continue
		}
		referenced[*b.ContainerName] = true
		if present[*b.ContainerName] {
			continue
		}

		memGB, err := model.ParseMemoryGB(b.Memory)
		if err != nil {
			log.Printf("[drift] booking #%d stored memory %q: %v", b.ID, b.Memory, err)
			continue
		}
		if err := r.store.MarkCompleted(ctx, b.ID, agent.ID, b.CPU, memGB); err != nil {
			if !errors.Is(err, repository.ErrNotActive) {
				log.Printf("[drift] force-complete booking #%d: %v", b.ID, err)
			}
			continue
		}
		log.Printf("[drift] Booking #%d force-completed: container %s vanished from agent #%d",
			b.ID, *b.ContainerName, agent.ID)
	}

	// Present on the agent but unreferenced: orphan, stop it.
	for _, c := range containers {
		if referenced[c.Name] {
			continue
		}
		stopCtx, cancel := context.WithTimeout(ctx, r.cfg.StopTimeout)
		err := r.agents.StopContainer(stopCtx, agent.Addr(), c.Name)
		cancel()
		if err != nil && !errors.Is(err, agentclient.ErrContainerNotFound) {
			log.Printf("[drift] stop orphan %s on agent #%d: %v", c.Name, agent.ID, err)
			continue
		}
		r.metrics.DriftOrphans.Inc()
		log.Printf("[drift] Stopped orphan container %s on agent #%d", c.Name, agent.ID)
	}
}
