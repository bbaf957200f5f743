package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hivecrack/hivecrack/internal/models"
	"github.com/hivecrack/hivecrack/internal/repository"
	"github.com/hivecrack/hivecrack/pkg/debug"
)

// agentTokenPrefix marks bearer tokens issued to agents.
const agentTokenPrefix = "csa"

// AgentService owns agent identity and the agent state machine. The plaintext
// bearer token is returned exactly once, at registration; only its SHA-256 is
// stored, and authentication is a hash lookup.
type AgentService struct {
	agents *repository.AgentRepository
}

// NewAgentService creates a new instance of AgentService.
func NewAgentService(agents *repository.AgentRepository) *AgentService {
	return &AgentService{agents: agents}
}

// HashToken returns the hex SHA-256 of a bearer token as stored in the
// agents table.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func generateToken(agentID uuid.UUID) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return fmt.Sprintf("%s_%s_%s", agentTokenPrefix, agentID, hex.EncodeToString(buf)), nil
}

// Register creates a new agent in pending state and returns it with its
// one-time plaintext token.
func (s *AgentService) Register(ctx context.Context, name string, devices models.DeviceList, projectIDs []int64) (*models.Agent, string, error) {
	agent := &models.Agent{
		ID:      uuid.New(),
		Name:    name,
		State:   models.AgentStatePending,
		Devices: devices,
	}
	token, err := generateToken(agent.ID)
	if err != nil {
		return nil, "", err
	}
	agent.TokenHash = HashToken(token)

	if err := s.agents.Create(ctx, agent); err != nil {
		return nil, "", fmt.Errorf("failed to register agent: %w", err)
	}
	if len(projectIDs) > 0 {
		if err := s.agents.SetProjects(ctx, agent.ID, projectIDs); err != nil {
			return nil, "", fmt.Errorf("failed to set agent projects: %w", err)
		}
		agent.ProjectIDs = projectIDs
	}
	debug.Info("Registered agent %s (%s) with token %s", agent.ID, agent.Name, debug.RedactToken(token))
	return agent, token, nil
}

// Authenticate resolves a presented bearer token to its agent. Unknown
// tokens fail with ErrInvalidToken; no detail leaks about whether the token
// ever existed.
func (s *AgentService) Authenticate(ctx context.Context, token string) (*models.Agent, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	agent, err := s.agents.GetByTokenHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to authenticate token: %w", err)
	}
	projectIDs, err := s.agents.GetProjectIDs(ctx, agent.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load agent projects: %w", err)
	}
	agent.ProjectIDs = projectIDs
	return agent, nil
}

// Heartbeat refreshes last_seen and promotes a pending agent to active, or
// straight to benchmarked when benchmarks are already on file. A heartbeat
// from a stopped or errored agent is a restart: the agent passes back
// through pending before activating.
func (s *AgentService) Heartbeat(ctx context.Context, agent *models.Agent) error {
	now := time.Now()
	if err := s.agents.Touch(ctx, agent.ID, now); err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}
	agent.LastSeen = now
	if agent.State == models.AgentStateStopped || agent.State == models.AgentStateError {
		if err := s.Reset(ctx, agent); err != nil {
			return err
		}
	}
	if agent.State == models.AgentStatePending {
		// A restarting agent with benchmarks on file skips straight back to
		// benchmarked instead of re-measuring.
		next := models.AgentStateActive
		has, err := s.agents.HasBenchmarks(ctx, agent.ID)
		if err != nil {
			return fmt.Errorf("failed to check benchmarks: %w", err)
		}
		if has {
			next = models.AgentStateBenchmarked
		}
		if err := s.agents.UpdateState(ctx, agent.ID, next); err != nil {
			return fmt.Errorf("failed to activate agent: %w", err)
		}
		agent.State = next
		debug.Info("Agent %s activated on heartbeat (state %s)", agent.ID, next)
	}
	return nil
}

// SubmitBenchmarks stores measured speeds and moves the agent to
// benchmarked. The scheduler uses these to size keyspace slices.
func (s *AgentService) SubmitBenchmarks(ctx context.Context, agent *models.Agent, benchmarks []models.AgentBenchmark) error {
	for i := range benchmarks {
		benchmarks[i].AgentID = agent.ID
		if err := s.agents.UpsertBenchmark(ctx, &benchmarks[i]); err != nil {
			return fmt.Errorf("failed to store benchmark (mode %d): %w", benchmarks[i].HashMode, err)
		}
	}
	if models.ValidAgentTransition(agent.State, models.AgentStateBenchmarked) {
		if err := s.agents.UpdateState(ctx, agent.ID, models.AgentStateBenchmarked); err != nil {
			return fmt.Errorf("failed to mark agent benchmarked: %w", err)
		}
		agent.State = models.AgentStateBenchmarked
	}
	debug.Info("Agent %s submitted %d benchmarks", agent.ID, len(benchmarks))
	return nil
}

// ReportError logs a worker-side failure and moves the agent to error state.
// Agents in error state receive no new work until reset.
func (s *AgentService) ReportError(ctx context.Context, agent *models.Agent, message, severity string, taskID *int64) error {
	agentErr := &models.AgentError{
		AgentID:  agent.ID,
		Message:  message,
		Severity: severity,
	}
	if taskID != nil {
		agentErr.TaskID = sql.NullInt64{Int64: *taskID, Valid: true}
	}
	if err := s.agents.RecordError(ctx, agentErr); err != nil {
		return err
	}
	if err := s.agents.SetLastError(ctx, agent.ID, message); err != nil {
		return err
	}
	if severity == "fatal" && models.ValidAgentTransition(agent.State, models.AgentStateError) {
		if err := s.agents.UpdateState(ctx, agent.ID, models.AgentStateError); err != nil {
			return fmt.Errorf("failed to mark agent errored: %w", err)
		}
		agent.State = models.AgentStateError
	}
	debug.Warning("Agent %s reported %s error: %s", agent.ID, severity, message)
	return nil
}

// Shutdown records a clean agent exit.
func (s *AgentService) Shutdown(ctx context.Context, agent *models.Agent) error {
	if !models.ValidAgentTransition(agent.State, models.AgentStateStopped) {
		return nil
	}
	if err := s.agents.UpdateState(ctx, agent.ID, models.AgentStateStopped); err != nil {
		return fmt.Errorf("failed to stop agent: %w", err)
	}
	agent.State = models.AgentStateStopped
	debug.Info("Agent %s shut down", agent.ID)
	return nil
}

// Reset returns a stopped or errored agent to pending so it can re-enter the
// fleet on its next heartbeat.
func (s *AgentService) Reset(ctx context.Context, agent *models.Agent) error {
	if !models.ValidAgentTransition(agent.State, models.AgentStatePending) {
		return fmt.Errorf("agent %s cannot reset from state %s", agent.ID, agent.State)
	}
	if err := s.agents.UpdateState(ctx, agent.ID, models.AgentStatePending); err != nil {
		return fmt.Errorf("failed to reset agent: %w", err)
	}
	agent.State = models.AgentStatePending
	return nil
}
