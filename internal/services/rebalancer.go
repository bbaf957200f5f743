package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/hivecrack/hivecrack/internal/repository"
	"github.com/hivecrack/hivecrack/pkg/debug"
	"github.com/robfig/cron/v3"
)

// Rebalancer opportunistically frees capacity for starved high-priority
// attacks. It piggybacks on status-update traffic rather than holding its own
// view of the fleet: every invocation recomputes starvation from the store,
// so concurrent preemption can never leave it acting on a stale snapshot. An
// optional timer covers deployments where agents poll too rarely for
// piggybacking alone.
type Rebalancer struct {
	attacks    *repository.AttackRepository
	preemption *PreemptionService
	timer      *cron.Cron
}

// NewRebalancer creates a new instance of Rebalancer.
func NewRebalancer(attacks *repository.AttackRepository, preemption *PreemptionService) *Rebalancer {
	return &Rebalancer{attacks: attacks, preemption: preemption}
}

// Rebalance scans for incomplete high-priority attacks with zero running
// tasks and speculatively preempts one victim per starved attack. The freed
// capacity is picked up by the next agent poll; no specific agent is being
// served here. Per-attack failures are logged and skipped.
func (r *Rebalancer) Rebalance(ctx context.Context) {
	starved, err := r.attacks.StarvedHighPriority(ctx)
	if err != nil {
		debug.Error("Rebalance scan failed: %v", err)
		return
	}
	for i := range starved {
		attack := &starved[i]
		_, err := r.preemption.PreemptFor(ctx, attack.ProjectID, attack.CampaignPriority)
		switch {
		case err == nil:
			debug.Info("Rebalanced capacity toward starved attack %d", attack.ID)
		case errors.Is(err, ErrNotPreemptable):
			// nothing reclaimable in this project right now
		default:
			debug.Warning("Rebalance for attack %d failed: %v", attack.ID, err)
		}
	}
}

// StartTimer runs Rebalance on a fixed schedule in addition to the
// traffic-driven invocations.
func (r *Rebalancer) StartTimer(spec string) error {
	if r.timer != nil {
		return errors.New("rebalance timer already started")
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		r.Rebalance(context.Background())
	}); err != nil {
		return fmt.Errorf("failed to schedule rebalance timer: %w", err)
	}
	c.Start()
	r.timer = c
	debug.Info("Rebalance timer started (%s)", spec)
	return nil
}

// StopTimer stops the timer if one was started.
func (r *Rebalancer) StopTimer() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
