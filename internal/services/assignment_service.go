package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hivecrack/hivecrack/internal/db"
	"github.com/hivecrack/hivecrack/internal/models"
	"github.com/hivecrack/hivecrack/internal/repository"
	"github.com/hivecrack/hivecrack/pkg/debug"
)

// AssignmentService matches idle agents to task slices. Ranking is campaign
// priority first, then complexity (simpler attacks clear faster), then the
// attack's declared position. When every candidate is fully occupied it asks
// the preemption engine to free capacity and retries the claim pass once.
type AssignmentService struct {
	db         *db.DB
	agents     *repository.AgentRepository
	attacks    *repository.AttackRepository
	tasks      *repository.TaskRepository
	preemption *PreemptionService
	policy     SlicePolicy
	staleAfter time.Duration
}

// NewAssignmentService creates a new instance of AssignmentService.
func NewAssignmentService(
	database *db.DB,
	agents *repository.AgentRepository,
	attacks *repository.AttackRepository,
	tasks *repository.TaskRepository,
	preemption *PreemptionService,
	policy SlicePolicy,
	staleAfter time.Duration,
) *AssignmentService {
	return &AssignmentService{
		db:         database,
		agents:     agents,
		attacks:    attacks,
		tasks:      tasks,
		preemption: preemption,
		policy:     policy,
		staleAfter: staleAfter,
	}
}

// NextTask produces the next task for the agent. Absence of work is ErrNoWork,
// never an infrastructure error. An agent that already holds a running task
// gets that task back, so retried polls are idempotent.
func (s *AssignmentService) NextTask(ctx context.Context, agent *models.Agent) (*models.Task, error) {
	if !agent.EligibleForWork(s.staleAfter, time.Now()) {
		return nil, ErrAgentNotEligible
	}

	if task, err := s.tasks.RunningForAgent(ctx, agent.ID); err == nil {
		return task, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to check running task for agent %s: %w", agent.ID, err)
	}

	candidates, err := s.attacks.CandidatesForAgent(ctx, agent.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to rank candidate attacks: %w", err)
	}
	if len(candidates) == 0 {
		return nil, ErrNoWork
	}

	if task := s.claimPass(ctx, agent, candidates); task != nil {
		return task, nil
	}

	// Everything is occupied. Deferred demand never justifies reclaiming
	// someone else's running work; normal and high demand does.
	top := candidates[0]
	if top.CampaignPriority <= models.PriorityDeferred {
		return nil, ErrNoWork
	}
	if _, err := s.preemption.PreemptFor(ctx, top.ProjectID, top.CampaignPriority); err != nil {
		if !errors.Is(err, ErrNotPreemptable) {
			debug.Warning("Preemption for attack %d failed: %v", top.ID, err)
		}
		return nil, ErrNoWork
	}

	// Exactly one retry: if another agent wins the race for the freed slot,
	// this agent returns to no-work and re-polls.
	if task := s.claimPass(ctx, agent, candidates); task != nil {
		return task, nil
	}
	return nil, ErrNoWork
}

// claimPass walks the ranked candidates and returns the first claimable task.
// A failure on one attack is logged and skipped so a single bad row cannot
// take down scheduling for the whole fleet.
func (s *AssignmentService) claimPass(ctx context.Context, agent *models.Agent, candidates []models.AttackWithCampaign) *models.Task {
	for i := range candidates {
		attack := &candidates[i]
		task, err := s.claimFromAttack(ctx, agent, attack)
		if err != nil {
			if !errors.Is(err, ErrNoWork) {
				debug.Warning("Failed to claim from attack %d for agent %s: %v", attack.ID, agent.ID, err)
			}
			continue
		}
		debug.Info("Assigned task %d (attack %d, slice [%d,%d)) to agent %s",
			task.ID, task.AttackID, task.KeyspaceOffset, task.KeyspaceOffset+task.KeyspaceLimit, agent.ID)
		return task
	}
	return nil
}

// claimFromAttack claims an existing unassigned pending task of the attack,
// or slices new keyspace when none exists. Both paths run in one transaction:
// the dispatched high-water mark is read under the same snapshot the new
// slice is inserted in, which is what keeps slices non-overlapping under
// concurrent claims.
func (s *AssignmentService) claimFromAttack(ctx context.Context, agent *models.Agent, attack *models.AttackWithCampaign) (*models.Task, error) {
	speed := int64(0)
	if bench, err := s.agents.GetBenchmark(ctx, agent.ID, attack.HashMode); err == nil {
		speed = bench.Speed
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to load benchmark: %w", err)
	}

	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer txn.Rollback()

	task, err := s.tasks.ClaimPending(ctx, txn, attack.ID, agent.ID)
	if errors.Is(err, repository.ErrNotFound) {
		dispatched, derr := s.attacks.DispatchedKeyspaceTx(ctx, txn, attack.ID)
		if derr != nil {
			return nil, derr
		}
		offset, limit := s.policy.NextSlice(attack, speed, dispatched)
		if limit <= 0 {
			return nil, ErrNoWork
		}
		task, err = s.tasks.CreateClaimed(ctx, txn, attack.ID, agent.ID, offset, limit)
	}
	if err != nil {
		return nil, err
	}

	if attack.State == models.AttackStatePending {
		if err := s.attacks.UpdateStateTx(ctx, txn, attack.ID, models.AttackStateRunning); err != nil {
			return nil, fmt.Errorf("failed to start attack %d: %w", attack.ID, err)
		}
	}
	if err := txn.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return task, nil
}
