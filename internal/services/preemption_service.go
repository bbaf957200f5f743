package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/hivecrack/hivecrack/internal/db"
	"github.com/hivecrack/hivecrack/internal/models"
	"github.com/hivecrack/hivecrack/internal/repository"
	"github.com/hivecrack/hivecrack/pkg/debug"
)

// PreemptionService reclaims running low-priority tasks so higher-priority
// campaigns can run when the fleet is saturated. All scope rules live here:
// victims come only from the same project and only from campaigns of strictly
// lower priority than the starved one.
type PreemptionService struct {
	db    *db.DB
	tasks *repository.TaskRepository
}

// NewPreemptionService creates a new instance of PreemptionService.
func NewPreemptionService(database *db.DB, tasks *repository.TaskRepository) *PreemptionService {
	return &PreemptionService{db: database, tasks: tasks}
}

// FindVictim selects the running task to reclaim for a starved campaign of
// the given priority: lowest campaign priority first, then least progress,
// skipping tasks that are near completion or already at the preemption limit.
// A candidate that cannot be evaluated is skipped, not preempted; when in
// doubt the engine leaves work running. Returns ErrNotPreemptable when no
// victim qualifies.
func (s *PreemptionService) FindVictim(ctx context.Context, projectID int64, below models.CampaignPriority) (*repository.PreemptionCandidate, error) {
	candidates, err := s.tasks.FindPreemptionCandidates(ctx, projectID, below)
	if err != nil {
		return nil, fmt.Errorf("failed to scan for preemption victims: %w", err)
	}
	for i := range candidates {
		candidate := &candidates[i]
		if !candidate.Preemptable() {
			debug.Debug("Task %d not preemptable (progress=%.1f, preemptions=%d)",
				candidate.ID, candidate.Progress, candidate.PreemptionCount)
			continue
		}
		return candidate, nil
	}
	return nil, ErrNotPreemptable
}

// Preempt reclaims one running task in a single transaction: the row is
// locked, re-verified against the preemption guards, then returned to the
// pending pool with its preemption count bumped, its results flagged stale
// and its agent cleared. The owning attack is not touched. Returns
// ErrNotPreemptable when the task changed under the candidate scan.
func (s *PreemptionService) Preempt(ctx context.Context, taskID int64) (*models.Task, error) {
	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin preemption transaction: %w", err)
	}
	defer txn.Rollback()

	task, err := s.tasks.GetForUpdate(ctx, txn, taskID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotPreemptable
		}
		return nil, fmt.Errorf("failed to lock task %d for preemption: %w", taskID, err)
	}
	if task.Status != models.TaskStatusRunning || !task.Preemptable() {
		return nil, ErrNotPreemptable
	}

	if err := s.tasks.Reclaim(ctx, txn, taskID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotPreemptable
		}
		return nil, fmt.Errorf("failed to reclaim task %d: %w", taskID, err)
	}
	if err := txn.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit preemption of task %d: %w", taskID, err)
	}

	debug.Info("Preempted task %d (attack %d, preemption %d of %d)",
		task.ID, task.AttackID, task.PreemptionCount+1, models.MaxPreemptions)

	task.Status = models.TaskStatusPending
	task.PreemptionCount++
	task.Stale = true
	task.AgentID = nil
	return task, nil
}

// PreemptFor finds and reclaims a victim for a starved campaign in the given
// project. The find and the reclaim are separate steps, so a victim that
// completes in between is simply not reclaimed and the next call picks
// another.
func (s *PreemptionService) PreemptFor(ctx context.Context, projectID int64, priority models.CampaignPriority) (*models.Task, error) {
	victim, err := s.FindVictim(ctx, projectID, priority)
	if err != nil {
		return nil, err
	}
	return s.Preempt(ctx, victim.ID)
}
