package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hivecrack/hivecrack/internal/db"
	"github.com/hivecrack/hivecrack/internal/models"
	"github.com/hivecrack/hivecrack/internal/repository"
	"github.com/hivecrack/hivecrack/pkg/debug"
)

// Notifier pushes fire-and-forget events to whoever is listening. Delivery is
// best-effort; task protocol correctness never depends on it.
type Notifier interface {
	Notify(event string, payload interface{})
}

// TaskService implements the agent-facing task protocol: accept, status,
// crack submission, exhaust, abandon and the cracked-hash export. Every
// mutation locks the task row first so concurrent calls on the same task
// serialize.
type TaskService struct {
	db           *db.DB
	tasks        *repository.TaskRepository
	attacks      *repository.AttackRepository
	campaigns    *repository.CampaignRepository
	crackResults *repository.CrackResultRepository
	rebalancer   *Rebalancer
	notifier     Notifier
}

// NewTaskService creates a new instance of TaskService. rebalancer and
// notifier may be nil.
func NewTaskService(
	database *db.DB,
	tasks *repository.TaskRepository,
	attacks *repository.AttackRepository,
	campaigns *repository.CampaignRepository,
	crackResults *repository.CrackResultRepository,
	rebalancer *Rebalancer,
	notifier Notifier,
) *TaskService {
	return &TaskService{
		db:           database,
		tasks:        tasks,
		attacks:      attacks,
		campaigns:    campaigns,
		crackResults: crackResults,
		rebalancer:   rebalancer,
		notifier:     notifier,
	}
}

func (s *TaskService) notify(event string, payload interface{}) {
	if s.notifier != nil {
		s.notifier.Notify(event, payload)
	}
}

// lockOwnedTask locks the task row and verifies the caller holds it. The
// not-found reasons distinguish a vanished task from one reassigned away.
func (s *TaskService) lockOwnedTask(ctx context.Context, txn *sql.Tx, agent *models.Agent, taskID int64) (*models.Task, error) {
	task, err := s.tasks.GetForUpdate(ctx, txn, taskID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &NotFoundError{Reason: ReasonTaskDeleted}
		}
		return nil, fmt.Errorf("failed to lock task %d: %w", taskID, err)
	}
	if task.AgentID == nil || *task.AgentID != agent.ID {
		return nil, &NotFoundError{Reason: ReasonTaskNotAssigned}
	}
	return task, nil
}

// GetTask returns the agent's view of a task it holds.
func (s *TaskService) GetTask(ctx context.Context, agent *models.Agent, taskID int64) (*models.Task, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &NotFoundError{Reason: ReasonTaskDeleted}
		}
		return nil, fmt.Errorf("failed to get task %d: %w", taskID, err)
	}
	if task.AgentID == nil || *task.AgentID != agent.ID {
		return nil, &NotFoundError{Reason: ReasonTaskNotAssigned}
	}
	return task, nil
}

// Accept claims a pending task for the agent. An already-assigned or
// non-pending task is rejected without state change, as is an agent that
// still holds a running task.
func (s *TaskService) Accept(ctx context.Context, agent *models.Agent, taskID int64) error {
	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin accept transaction: %w", err)
	}
	defer txn.Rollback()

	task, err := s.tasks.GetForUpdate(ctx, txn, taskID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &NotFoundError{Reason: ReasonTaskDeleted}
		}
		return fmt.Errorf("failed to lock task %d: %w", taskID, err)
	}
	if task.IsTerminal() {
		return ErrTaskAlreadyDone
	}
	if task.Status != models.TaskStatusPending {
		return &NotFoundError{Reason: ReasonTaskInvalid}
	}
	if task.AgentID != nil && *task.AgentID != agent.ID {
		return &NotFoundError{Reason: ReasonTaskNotAssigned}
	}

	// An agent runs one task at a time; accepting a second while the first is
	// still running is a conflict, not a reassignment.
	if _, err := s.tasks.RunningForAgentTx(ctx, txn, agent.ID); err == nil {
		return ErrTaskConflict
	} else if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("failed to check running task for agent %s: %w", agent.ID, err)
	}

	if err := s.tasks.AcceptPending(ctx, txn, taskID, agent.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &NotFoundError{Reason: ReasonTaskInvalid}
		}
		return fmt.Errorf("failed to accept task %d: %w", taskID, err)
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("failed to commit accept: %w", err)
	}
	debug.Info("Agent %s accepted task %d", agent.ID, taskID)
	return nil
}

// SubmitStatus records a progress report. stale=true tells the caller the
// report was applied but reassignment is imminent and shared state must be
// re-synced. The rebalancer piggybacks on every successful report.
func (s *TaskService) SubmitStatus(ctx context.Context, agent *models.Agent, taskID int64, progress float64) (stale bool, err error) {
	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin status transaction: %w", err)
	}
	defer txn.Rollback()

	task, err := s.lockOwnedTask(ctx, txn, agent, taskID)
	if err != nil {
		return false, err
	}
	switch task.Status {
	case models.TaskStatusRunning:
		// fall through to the update
	case models.TaskStatusPaused:
		return false, ErrTaskGone
	default:
		return false, ErrTaskConflict
	}

	if err := s.tasks.UpdateProgress(ctx, txn, taskID, progress); err != nil {
		return false, err
	}
	if err := txn.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit progress: %w", err)
	}

	if s.rebalancer != nil {
		s.rebalancer.Rebalance(ctx)
	}
	return task.Stale, nil
}

// SubmitCrack records one solved hash. Resubmission of an already-recorded
// hash is a no-op success; the export endpoint is how agents learn about
// cracks from their peers.
func (s *TaskService) SubmitCrack(ctx context.Context, agent *models.Agent, taskID int64, hashValue, plainText string) error {
	task, err := s.GetTask(ctx, agent, taskID)
	if err != nil {
		return err
	}
	attack, err := s.attacks.GetByID(ctx, task.AttackID)
	if err != nil {
		return fmt.Errorf("failed to load attack %d: %w", task.AttackID, err)
	}
	campaign, err := s.campaigns.GetByID(ctx, attack.CampaignID)
	if err != nil {
		return fmt.Errorf("failed to load campaign %d: %w", attack.CampaignID, err)
	}

	item, err := s.crackResults.GetHashItem(ctx, campaign.HashListID, hashValue)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrHashNotFound
		}
		return fmt.Errorf("failed to look up hash: %w", err)
	}

	agentID := agent.ID
	created, err := s.crackResults.Insert(ctx, &models.CrackResult{
		HashItemID: item.ID,
		AttackID:   task.AttackID,
		AgentID:    &agentID,
		PlainText:  plainText,
	})
	if err != nil {
		return fmt.Errorf("failed to record crack result: %w", err)
	}
	// MarkCracked runs on resubmissions too: if an earlier report landed the
	// result row but failed before the flip, the agent's retry repairs it.
	if err := s.crackResults.MarkCracked(ctx, item.ID, plainText); err != nil {
		return fmt.Errorf("failed to mark hash cracked: %w", err)
	}
	if !created {
		return nil
	}

	debug.Info("Agent %s cracked hash item %d on task %d", agent.ID, item.ID, taskID)
	s.notify("crack_found", map[string]interface{}{
		"hash_item_id": item.ID,
		"attack_id":    task.AttackID,
		"agent_id":     agent.ID,
	})
	if remaining, err := s.crackResults.UncrackedCountForList(ctx, campaign.HashListID); err != nil {
		debug.Warning("Failed to count remaining hashes for list %d: %v", campaign.HashListID, err)
	} else if remaining == 0 {
		debug.Info("Hash list %d fully cracked", campaign.HashListID)
		s.notify("hash_list_cracked", map[string]interface{}{
			"hash_list_id": campaign.HashListID,
			"campaign_id":  campaign.ID,
		})
	}
	return nil
}

// Exhaust marks the agent's slice as searched with no remaining candidates.
// When every sibling task is terminal and the slices cover the attack's full
// keyspace, the attack itself moves to exhausted.
func (s *TaskService) Exhaust(ctx context.Context, agent *models.Agent, taskID int64) error {
	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin exhaust transaction: %w", err)
	}
	defer txn.Rollback()

	task, err := s.lockOwnedTask(ctx, txn, agent, taskID)
	if err != nil {
		return err
	}
	if task.IsTerminal() {
		return ErrTaskAlreadyDone
	}
	if !models.ValidTaskTransition(task.Status, models.TaskStatusExhausted) {
		return ErrTaskConflict
	}

	if err := s.tasks.Finish(ctx, txn, taskID, models.TaskStatusExhausted); err != nil {
		return err
	}

	attack, err := s.attacks.GetByID(ctx, task.AttackID)
	if err != nil {
		return fmt.Errorf("failed to load attack %d: %w", task.AttackID, err)
	}
	allTerminal, covered, err := s.attacks.CoverageTx(ctx, txn, task.AttackID)
	if err != nil {
		return err
	}
	if allTerminal && covered >= attack.KeyspaceTotal {
		if err := s.attacks.UpdateStateTx(ctx, txn, task.AttackID, models.AttackStateExhausted); err != nil {
			return fmt.Errorf("failed to exhaust attack %d: %w", task.AttackID, err)
		}
		debug.Info("Attack %d exhausted (keyspace fully covered)", task.AttackID)
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("failed to commit exhaust: %w", err)
	}
	s.notify("task_exhausted", map[string]interface{}{"task_id": taskID, "attack_id": task.AttackID})
	return nil
}

// Abandon is the agent-initiated give-up: the task returns to the pending
// pool flagged stale and the owning attack is marked failed for operator
// re-evaluation. The preemption count is untouched; only the scheduler's own
// reclaiming increments it.
func (s *TaskService) Abandon(ctx context.Context, agent *models.Agent, taskID int64) error {
	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin abandon transaction: %w", err)
	}
	defer txn.Rollback()

	task, err := s.lockOwnedTask(ctx, txn, agent, taskID)
	if err != nil {
		return err
	}
	if task.IsTerminal() {
		return ErrTaskAlreadyDone
	}
	if !models.ValidTaskTransition(task.Status, models.TaskStatusPending) {
		return ErrTaskConflict
	}

	if err := s.tasks.Release(ctx, txn, taskID); err != nil {
		return err
	}
	if err := s.attacks.UpdateStateTx(ctx, txn, task.AttackID, models.AttackStateFailed); err != nil {
		return fmt.Errorf("failed to fail attack %d: %w", task.AttackID, err)
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("failed to commit abandon: %w", err)
	}
	debug.Warning("Agent %s abandoned task %d, attack %d marked failed", agent.ID, taskID, task.AttackID)
	s.notify("task_abandoned", map[string]interface{}{"task_id": taskID, "attack_id": task.AttackID})
	return nil
}

// CrackedPlaintexts exports the plaintexts already recovered for the task's
// hash list so agents can suppress rework locally. Safe to call repeatedly;
// pulling the export is also what acknowledges a reclaimed slice, so the
// stale marker set at preemption or release time is cleared here.
func (s *TaskService) CrackedPlaintexts(ctx context.Context, agent *models.Agent, taskID int64) ([]string, error) {
	task, err := s.GetTask(ctx, agent, taskID)
	if err != nil {
		return nil, err
	}
	if task.IsTerminal() {
		return nil, ErrTaskAlreadyDone
	}
	plaintexts, err := s.crackResults.CrackedPlaintextsForAttack(ctx, task.AttackID)
	if err != nil {
		return nil, fmt.Errorf("failed to export cracked plaintexts: %w", err)
	}
	if task.Stale {
		if err := s.tasks.ClearStale(ctx, task.ID); err != nil {
			return nil, fmt.Errorf("failed to clear re-sync marker: %w", err)
		}
		debug.Debug("Task %d re-sync acknowledged by agent %s", task.ID, agent.ID)
	}
	return plaintexts, nil
}
