package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hivecrack/hivecrack/internal/db"
	"github.com/hivecrack/hivecrack/internal/models"
)

// TaskRepository handles database operations for tasks. Every mutation of a
// task row happens inside a caller-owned transaction that first takes the
// row lock via GetForUpdate, so concurrent requests touching the same task
// serialize instead of racing.
type TaskRepository struct {
	db *db.DB
}

// NewTaskRepository creates a new instance of TaskRepository.
func NewTaskRepository(database *db.DB) *TaskRepository {
	return &TaskRepository{db: database}
}

const taskColumns = `id, attack_id, agent_id, status, keyspace_offset, keyspace_limit,
	progress, preemption_count, stale, started_at, completed_at, created_at, updated_at`

func scanTask(row interface{ Scan(...interface{}) error }) (*models.Task, error) {
	var task models.Task
	if err := row.Scan(
		&task.ID,
		&task.AttackID,
		&task.AgentID,
		&task.Status,
		&task.KeyspaceOffset,
		&task.KeyspaceLimit,
		&task.Progress,
		&task.PreemptionCount,
		&task.Stale,
		&task.StartedAt,
		&task.CompletedAt,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &task, nil
}

// GetByID retrieves a task without locking it.
func (r *TaskRepository) GetByID(ctx context.Context, id int64) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	task, err := scanTask(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %d: %w", id, err)
	}
	return task, nil
}

// GetForUpdate retrieves a task under an exclusive row lock. All task
// mutations must pass through this so same-task operations serialize.
func (r *TaskRepository) GetForUpdate(ctx context.Context, txn *sql.Tx, id int64) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1 FOR UPDATE`
	task, err := scanTask(txn.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock task %d: %w", id, err)
	}
	return task, nil
}

// ClaimPending locks and claims the oldest unassigned pending task of an
// attack for the given agent, transitioning it to running. SKIP LOCKED makes
// two agents racing for the same attack claim different rows; exactly one
// wins any single task. The stale flag survives the claim: a reclaimed slice
// stays marked until the new agent pulls the cracked-hash export. Returns
// ErrNotFound when nothing is claimable.
func (r *TaskRepository) ClaimPending(ctx context.Context, txn *sql.Tx, attackID int64, agentID uuid.UUID) (*models.Task, error) {
	query := `
		UPDATE tasks
		SET agent_id = $2, status = $3, started_at = now(), updated_at = now()
		WHERE id = (
			SELECT id FROM tasks
			WHERE attack_id = $1 AND status = $4 AND agent_id IS NULL
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + taskColumns + `
	`
	task, err := scanTask(txn.QueryRowContext(ctx, query,
		attackID, agentID, models.TaskStatusRunning, models.TaskStatusPending))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending task for attack %d: %w", attackID, err)
	}
	return task, nil
}

// CreateClaimed inserts a brand-new slice already assigned to the agent and
// running. Slice bounds must come from DispatchedKeyspaceTx under the same
// transaction to preserve the non-overlap invariant.
func (r *TaskRepository) CreateClaimed(ctx context.Context, txn *sql.Tx, attackID int64, agentID uuid.UUID, offset, limit int64) (*models.Task, error) {
	query := `
		INSERT INTO tasks (attack_id, agent_id, status, keyspace_offset, keyspace_limit, started_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING ` + taskColumns + `
	`
	task, err := scanTask(txn.QueryRowContext(ctx, query,
		attackID, agentID, models.TaskStatusRunning, offset, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to create task slice for attack %d: %w", attackID, err)
	}
	return task, nil
}

// AcceptPending transitions a locked pending task to running for the agent.
// Like ClaimPending it leaves the stale flag alone.
func (r *TaskRepository) AcceptPending(ctx context.Context, txn *sql.Tx, id int64, agentID uuid.UUID) error {
	query := `
		UPDATE tasks
		SET agent_id = $2, status = $3, started_at = now(), updated_at = now()
		WHERE id = $1 AND status = $4
	`
	result, err := txn.ExecContext(ctx, query, id, agentID, models.TaskStatusRunning, models.TaskStatusPending)
	if err != nil {
		return fmt.Errorf("failed to accept task %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateProgress stores the agent's latest reported progress percentage.
func (r *TaskRepository) UpdateProgress(ctx context.Context, txn *sql.Tx, id int64, progress float64) error {
	query := `UPDATE tasks SET progress = $2, updated_at = now() WHERE id = $1`
	if _, err := txn.ExecContext(ctx, query, id, progress); err != nil {
		return fmt.Errorf("failed to update task progress: %w", err)
	}
	return nil
}

// Finish transitions a locked task to a terminal status and stamps
// completed_at. Used for completed, exhausted and failed.
func (r *TaskRepository) Finish(ctx context.Context, txn *sql.Tx, id int64, status string) error {
	query := `UPDATE tasks SET status = $2, completed_at = now(), updated_at = now() WHERE id = $1`
	if _, err := txn.ExecContext(ctx, query, id, status); err != nil {
		return fmt.Errorf("failed to finish task %d: %w", id, err)
	}
	return nil
}

// Release returns a locked task to the pending pool with its work product
// flagged for re-sync. The agent-initiated abandon path: preemption_count is
// untouched.
func (r *TaskRepository) Release(ctx context.Context, txn *sql.Tx, id int64) error {
	query := `
		UPDATE tasks
		SET status = $2, agent_id = NULL, stale = TRUE, started_at = NULL, updated_at = now()
		WHERE id = $1
	`
	if _, err := txn.ExecContext(ctx, query, id, models.TaskStatusPending); err != nil {
		return fmt.Errorf("failed to release task %d: %w", id, err)
	}
	return nil
}

// Reclaim is the scheduler-side counterpart of Release: same row mutation
// plus a preemption_count bump, in one statement so a failed transaction
// leaves neither half applied. The status guard means a task that slipped
// out of running since the candidate scan is simply not reclaimed.
func (r *TaskRepository) Reclaim(ctx context.Context, txn *sql.Tx, id int64) error {
	query := `
		UPDATE tasks
		SET status = $2, agent_id = NULL, stale = TRUE, started_at = NULL,
		    preemption_count = preemption_count + 1, updated_at = now()
		WHERE id = $1 AND status = $3
	`
	result, err := txn.ExecContext(ctx, query, id, models.TaskStatusPending, models.TaskStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to reclaim task %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearStale drops the re-sync marker once the holding agent has pulled the
// cracked-hash export for the slice.
func (r *TaskRepository) ClearStale(ctx context.Context, id int64) error {
	query := `UPDATE tasks SET stale = FALSE, updated_at = now() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to clear stale flag on task %d: %w", id, err)
	}
	return nil
}

// RunningForAgent returns the agent's currently running task, or ErrNotFound.
// At most one can exist per agent.
func (r *TaskRepository) RunningForAgent(ctx context.Context, agentID uuid.UUID) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE agent_id = $1 AND status = $2`
	task, err := scanTask(r.db.QueryRowContext(ctx, query, agentID, models.TaskStatusRunning))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get running task for agent %s: %w", agentID, err)
	}
	return task, nil
}

// RunningForAgentTx is the transactional form of RunningForAgent, used on the
// accept path to hold the one-running-task-per-agent rule.
func (r *TaskRepository) RunningForAgentTx(ctx context.Context, txn *sql.Tx, agentID uuid.UUID) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE agent_id = $1 AND status = $2`
	task, err := scanTask(txn.QueryRowContext(ctx, query, agentID, models.TaskStatusRunning))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get running task for agent %s: %w", agentID, err)
	}
	return task, nil
}

// PreemptionCandidate is a running task joined with the campaign columns the
// preemption engine ranks by.
type PreemptionCandidate struct {
	models.Task
	CampaignPriority models.CampaignPriority
	ProjectID        int64
}

// FindPreemptionCandidates returns running tasks in the given project whose
// campaign priority is strictly below the ceiling, ordered lowest priority
// first and least progress first. Project scope is enforced here in SQL so
// cross-tenant reclaiming is impossible regardless of caller bugs.
func (r *TaskRepository) FindPreemptionCandidates(ctx context.Context, projectID int64, below models.CampaignPriority) ([]PreemptionCandidate, error) {
	query := `
		SELECT t.id, t.attack_id, t.agent_id, t.status, t.keyspace_offset, t.keyspace_limit,
		       t.progress, t.preemption_count, t.stale, t.started_at, t.completed_at,
		       t.created_at, t.updated_at,
		       c.priority, c.project_id
		FROM tasks t
		JOIN attacks a ON a.id = t.attack_id
		JOIN campaigns c ON c.id = a.campaign_id
		WHERE t.status = $1
		  AND c.project_id = $2
		  AND c.priority < $3
		ORDER BY c.priority ASC, t.progress ASC
	`
	rows, err := r.db.QueryContext(ctx, query, models.TaskStatusRunning, projectID, below)
	if err != nil {
		return nil, fmt.Errorf("failed to query preemption candidates: %w", err)
	}
	defer rows.Close()

	var candidates []PreemptionCandidate
	for rows.Next() {
		var c PreemptionCandidate
		if err := rows.Scan(
			&c.ID, &c.AttackID, &c.AgentID, &c.Status, &c.KeyspaceOffset, &c.KeyspaceLimit,
			&c.Progress, &c.PreemptionCount, &c.Stale, &c.StartedAt, &c.CompletedAt,
			&c.CreatedAt, &c.UpdatedAt,
			&c.CampaignPriority, &c.ProjectID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan preemption candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating preemption candidates: %w", err)
	}
	return candidates, nil
}

// PruneForFailedAttacks deletes tasks whose owning attack has failed. Agents
// still polling those tasks observe not-found with reason task_deleted.
func (r *TaskRepository) PruneForFailedAttacks(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM tasks
		WHERE attack_id IN (SELECT id FROM attacks WHERE state = $1)
	`
	result, err := r.db.ExecContext(ctx, query, models.AttackStateFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to prune tasks of failed attacks: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
