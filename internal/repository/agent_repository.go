package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hivecrack/hivecrack/internal/db"
	"github.com/hivecrack/hivecrack/internal/models"
	"github.com/lib/pq"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// AgentRepository handles database operations for agents, their benchmarks
// and their reported errors.
type AgentRepository struct {
	db *db.DB
}

// NewAgentRepository creates a new instance of AgentRepository.
func NewAgentRepository(database *db.DB) *AgentRepository {
	return &AgentRepository{db: database}
}

const agentColumns = `id, name, token_hash, state, devices, last_seen, last_error, created_at, updated_at`

func scanAgent(row interface{ Scan(...interface{}) error }) (*models.Agent, error) {
	var agent models.Agent
	if err := row.Scan(
		&agent.ID,
		&agent.Name,
		&agent.TokenHash,
		&agent.State,
		&agent.Devices,
		&agent.LastSeen,
		&agent.LastError,
		&agent.CreatedAt,
		&agent.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &agent, nil
}

// Create inserts a new agent row.
func (r *AgentRepository) Create(ctx context.Context, agent *models.Agent) error {
	query := `
		INSERT INTO agents (id, name, token_hash, state, devices, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if agent.ID == uuid.Nil {
		agent.ID = uuid.New()
	}
	if agent.State == "" {
		agent.State = models.AgentStatePending
	}
	if agent.LastSeen.IsZero() {
		agent.LastSeen = time.Now()
	}
	_, err := r.db.ExecContext(ctx, query,
		agent.ID, agent.Name, agent.TokenHash, agent.State, agent.Devices, agent.LastSeen)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}
	return nil
}

// GetByID retrieves an agent by its ID.
func (r *AgentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE id = $1`
	agent, err := scanAgent(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent %s: %w", id, err)
	}
	return agent, nil
}

// GetByTokenHash retrieves an agent by the SHA-256 of its bearer token.
func (r *AgentRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE token_hash = $1`
	agent, err := scanAgent(r.db.QueryRowContext(ctx, query, tokenHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent by token: %w", err)
	}
	return agent, nil
}

// UpdateState moves an agent to a new lifecycle state.
func (r *AgentRepository) UpdateState(ctx context.Context, id uuid.UUID, state string) error {
	query := `UPDATE agents SET state = $2, updated_at = now() WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, state)
	if err != nil {
		return fmt.Errorf("failed to update agent state: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Touch records a heartbeat, updating last_seen.
func (r *AgentRepository) Touch(ctx context.Context, id uuid.UUID, seen time.Time) error {
	query := `UPDATE agents SET last_seen = $2, updated_at = now() WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, seen)
	if err != nil {
		return fmt.Errorf("failed to touch agent: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetLastError records the most recent error message on the agent row itself.
func (r *AgentRepository) SetLastError(ctx context.Context, id uuid.UUID, message string) error {
	query := `UPDATE agents SET last_error = $2, updated_at = now() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, message); err != nil {
		return fmt.Errorf("failed to set agent last error: %w", err)
	}
	return nil
}

// RecordError appends a row to the agent error log.
func (r *AgentRepository) RecordError(ctx context.Context, agentErr *models.AgentError) error {
	query := `
		INSERT INTO agent_errors (agent_id, message, severity, task_id)
		VALUES ($1, $2, $3, $4)
	`
	if agentErr.Severity == "" {
		agentErr.Severity = "warning"
	}
	_, err := r.db.ExecContext(ctx, query,
		agentErr.AgentID, agentErr.Message, agentErr.Severity, agentErr.TaskID)
	if err != nil {
		return fmt.Errorf("failed to record agent error: %w", err)
	}
	return nil
}

// UpsertBenchmark stores or refreshes the agent's speed for one hash mode.
func (r *AgentRepository) UpsertBenchmark(ctx context.Context, b *models.AgentBenchmark) error {
	query := `
		INSERT INTO agent_benchmarks (agent_id, hash_mode, speed, device)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (agent_id, hash_mode)
		DO UPDATE SET speed = EXCLUDED.speed, device = EXCLUDED.device, created_at = now()
	`
	_, err := r.db.ExecContext(ctx, query, b.AgentID, b.HashMode, b.Speed, b.Device)
	if err != nil {
		return fmt.Errorf("failed to upsert benchmark: %w", err)
	}
	return nil
}

// GetBenchmark returns the agent's recorded speed for a hash mode, or
// ErrNotFound when the agent has never benchmarked that mode.
func (r *AgentRepository) GetBenchmark(ctx context.Context, agentID uuid.UUID, hashMode int) (*models.AgentBenchmark, error) {
	query := `
		SELECT id, agent_id, hash_mode, speed, COALESCE(device, ''), created_at
		FROM agent_benchmarks
		WHERE agent_id = $1 AND hash_mode = $2
	`
	var b models.AgentBenchmark
	err := r.db.QueryRowContext(ctx, query, agentID, hashMode).Scan(
		&b.ID, &b.AgentID, &b.HashMode, &b.Speed, &b.Device, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get benchmark: %w", err)
	}
	return &b, nil
}

// HasBenchmarks reports whether the agent has submitted any benchmark at all.
func (r *AgentRepository) HasBenchmarks(ctx context.Context, agentID uuid.UUID) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM agent_benchmarks WHERE agent_id = $1)`
	if err := r.db.QueryRowContext(ctx, query, agentID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check benchmarks: %w", err)
	}
	return exists, nil
}

// GetProjectIDs returns the projects this agent belongs to.
func (r *AgentRepository) GetProjectIDs(ctx context.Context, agentID uuid.UUID) ([]int64, error) {
	query := `SELECT project_id FROM agent_projects WHERE agent_id = $1 ORDER BY project_id`
	rows, err := r.db.QueryContext(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get agent projects: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan project id: %w", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating project rows: %w", err)
	}
	return ids, nil
}

// SetProjects replaces the agent's project memberships.
func (r *AgentRepository) SetProjects(ctx context.Context, agentID uuid.UUID, projectIDs []int64) error {
	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for project memberships: %w", err)
	}
	defer txn.Rollback()

	if _, err := txn.ExecContext(ctx, `DELETE FROM agent_projects WHERE agent_id = $1`, agentID); err != nil {
		return fmt.Errorf("failed to clear agent projects: %w", err)
	}
	if len(projectIDs) > 0 {
		query := `
			INSERT INTO agent_projects (agent_id, project_id)
			SELECT $1, unnest($2::bigint[])
		`
		if _, err := txn.ExecContext(ctx, query, agentID, pq.Array(projectIDs)); err != nil {
			return fmt.Errorf("failed to insert agent projects: %w", err)
		}
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("failed to commit project memberships: %w", err)
	}
	return nil
}
