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

// AttackRepository handles database operations for attacks. Attack rows are
// created by the external campaign-management surface; the engine reads them
// for scheduling and advances their lifecycle state.
type AttackRepository struct {
	db *db.DB
}

// NewAttackRepository creates a new instance of AttackRepository.
func NewAttackRepository(database *db.DB) *AttackRepository {
	return &AttackRepository{db: database}
}

const attackWithCampaignColumns = `
	a.id, a.campaign_id, a.name, a.mode, a.hash_mode, a.position,
	a.complexity_score, a.keyspace_total, a.state, a.created_at, a.updated_at,
	c.priority, c.state, c.project_id`

func scanAttackWithCampaign(row interface{ Scan(...interface{}) error }) (*models.AttackWithCampaign, error) {
	var a models.AttackWithCampaign
	if err := row.Scan(
		&a.ID, &a.CampaignID, &a.Name, &a.Mode, &a.HashMode, &a.Position,
		&a.ComplexityScore, &a.KeyspaceTotal, &a.State, &a.CreatedAt, &a.UpdatedAt,
		&a.CampaignPriority, &a.CampaignState, &a.ProjectID,
	); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetByID retrieves an attack with its campaign scheduling columns.
func (r *AttackRepository) GetByID(ctx context.Context, id int64) (*models.AttackWithCampaign, error) {
	query := `
		SELECT ` + attackWithCampaignColumns + `
		FROM attacks a
		JOIN campaigns c ON c.id = a.campaign_id
		WHERE a.id = $1
	`
	attack, err := scanAttackWithCampaign(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attack %d: %w", id, err)
	}
	return attack, nil
}

// CandidatesForAgent returns schedulable attacks visible to the agent,
// ordered by campaign priority (high first), then complexity (simple first),
// then declared position. Only active campaigns in the agent's projects
// qualify; draft and archived campaigns never schedule.
func (r *AttackRepository) CandidatesForAgent(ctx context.Context, agentID uuid.UUID) ([]models.AttackWithCampaign, error) {
	query := `
		SELECT ` + attackWithCampaignColumns + `
		FROM attacks a
		JOIN campaigns c ON c.id = a.campaign_id
		JOIN agent_projects ap ON ap.project_id = c.project_id AND ap.agent_id = $1
		WHERE a.state IN ($2, $3)
		  AND c.state = $4
		ORDER BY c.priority DESC, a.complexity_score ASC, a.position ASC
	`
	rows, err := r.db.QueryContext(ctx, query, agentID,
		models.AttackStatePending, models.AttackStateRunning, models.CampaignStateActive)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate attacks: %w", err)
	}
	defer rows.Close()

	var attacks []models.AttackWithCampaign
	for rows.Next() {
		attack, err := scanAttackWithCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate attack: %w", err)
		}
		attacks = append(attacks, *attack)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candidate attacks: %w", err)
	}
	return attacks, nil
}

// StarvedHighPriority returns incomplete attacks of active high-priority
// campaigns that currently have zero running tasks. Campaign columns are
// joined in one pass so the rebalancer never refetches them per attack.
func (r *AttackRepository) StarvedHighPriority(ctx context.Context) ([]models.AttackWithCampaign, error) {
	query := `
		SELECT ` + attackWithCampaignColumns + `
		FROM attacks a
		JOIN campaigns c ON c.id = a.campaign_id
		WHERE c.priority = $1
		  AND c.state = $2
		  AND a.state IN ($3, $4)
		  AND NOT EXISTS (
			SELECT 1 FROM tasks t WHERE t.attack_id = a.id AND t.status = $5
		  )
		ORDER BY a.position ASC
	`
	rows, err := r.db.QueryContext(ctx, query,
		models.PriorityHigh, models.CampaignStateActive,
		models.AttackStatePending, models.AttackStateRunning,
		models.TaskStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to query starved attacks: %w", err)
	}
	defer rows.Close()

	var attacks []models.AttackWithCampaign
	for rows.Next() {
		attack, err := scanAttackWithCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan starved attack: %w", err)
		}
		attacks = append(attacks, *attack)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating starved attacks: %w", err)
	}
	return attacks, nil
}

// UpdateState moves an attack to a new lifecycle state.
func (r *AttackRepository) UpdateState(ctx context.Context, id int64, state string) error {
	query := `UPDATE attacks SET state = $2, updated_at = now() WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, state)
	if err != nil {
		return fmt.Errorf("failed to update attack state: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStateTx is UpdateState inside an existing transaction.
func (r *AttackRepository) UpdateStateTx(ctx context.Context, txn *sql.Tx, id int64, state string) error {
	query := `UPDATE attacks SET state = $2, updated_at = now() WHERE id = $1`
	result, err := txn.ExecContext(ctx, query, id, state)
	if err != nil {
		return fmt.Errorf("failed to update attack state: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DispatchedKeyspaceTx returns the high-water mark of sliced keyspace for an
// attack, read under the caller's transaction so concurrent slice creation
// serializes on the attack's task rows.
func (r *AttackRepository) DispatchedKeyspaceTx(ctx context.Context, txn *sql.Tx, attackID int64) (int64, error) {
	query := `
		SELECT COALESCE(MAX(keyspace_offset + keyspace_limit), 0)
		FROM tasks
		WHERE attack_id = $1
	`
	var dispatched int64
	if err := txn.QueryRowContext(ctx, query, attackID).Scan(&dispatched); err != nil {
		return 0, fmt.Errorf("failed to get dispatched keyspace for attack %d: %w", attackID, err)
	}
	return dispatched, nil
}

// CoverageTx reports, under the caller's transaction, whether every task of
// the attack is terminal and how much keyspace the slices cover in total.
func (r *AttackRepository) CoverageTx(ctx context.Context, txn *sql.Tx, attackID int64) (allTerminal bool, covered int64, err error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status NOT IN ($2, $3, $4)) = 0,
			COALESCE(MAX(keyspace_offset + keyspace_limit), 0)
		FROM tasks
		WHERE attack_id = $1
	`
	err = txn.QueryRowContext(ctx, query, attackID,
		models.TaskStatusCompleted, models.TaskStatusExhausted, models.TaskStatusFailed).
		Scan(&allTerminal, &covered)
	if err != nil {
		return false, 0, fmt.Errorf("failed to get attack coverage: %w", err)
	}
	return allTerminal, covered, nil
}
