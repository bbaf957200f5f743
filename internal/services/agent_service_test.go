package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/hivecrack/hivecrack/internal/models"
	"github.com/hivecrack/hivecrack/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var agentCols = []string{
	"id", "name", "token_hash", "state", "devices", "last_seen", "last_error", "created_at", "updated_at",
}

func agentRows(id uuid.UUID, state string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(agentCols).
		AddRow(id.String(), "rig-01", "deadbeef", state, nil, now, nil, now, now)
}

func TestRegisterIssuesOneTimeToken(t *testing.T) {
	database, mock := newTestDB(t)
	svc := NewAgentService(repository.NewAgentRepository(database))

	mock.ExpectExec("INSERT INTO agents").
		WillReturnResult(sqlmock.NewResult(0, 1))

	agent, token, err := svc.Register(context.Background(), "rig-01", nil, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, "csa_"), "token %q should carry the agent prefix", token)
	assert.Contains(t, token, agent.ID.String())
	assert.Equal(t, models.AgentStatePending, agent.State)
	// Only the hash is persisted; it must round-trip through the same lookup
	// the auth middleware performs.
	assert.Equal(t, HashToken(token), agent.TokenHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthenticateUnknownToken(t *testing.T) {
	database, mock := newTestDB(t)
	svc := NewAgentService(repository.NewAgentRepository(database))

	mock.ExpectQuery("FROM agents WHERE token_hash").
		WillReturnRows(sqlmock.NewRows(agentCols))

	_, err := svc.Authenticate(context.Background(), "csa_bogus")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticateLoadsProjectMemberships(t *testing.T) {
	database, mock := newTestDB(t)
	svc := NewAgentService(repository.NewAgentRepository(database))
	agentID := uuid.New()

	// Project scope rides on the authenticated agent; the assignment queries
	// trust it to be populated.
	mock.ExpectQuery("FROM agents WHERE token_hash").
		WillReturnRows(agentRows(agentID, models.AgentStateBenchmarked))
	mock.ExpectQuery("FROM agent_projects").
		WithArgs(agentID).
		WillReturnRows(sqlmock.NewRows([]string{"project_id"}).AddRow(int64(7)).AddRow(int64(9)))

	agent, err := svc.Authenticate(context.Background(), "csa_sometoken")
	require.NoError(t, err)
	assert.Equal(t, agentID, agent.ID)
	assert.Equal(t, []int64{7, 9}, agent.ProjectIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHeartbeatRestoresBenchmarkedAgent(t *testing.T) {
	database, mock := newTestDB(t)
	svc := NewAgentService(repository.NewAgentRepository(database))
	agent := &models.Agent{ID: uuid.New(), State: models.AgentStatePending}

	// A restarting agent with benchmarks on file goes straight back to
	// benchmarked instead of re-measuring.
	mock.ExpectExec("SET last_seen").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("EXISTS").
		WithArgs(agent.ID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec("SET state").
		WithArgs(agent.ID, models.AgentStateBenchmarked).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := svc.Heartbeat(context.Background(), agent)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStateBenchmarked, agent.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHeartbeatActivatesUnbenchmarkedAgent(t *testing.T) {
	database, mock := newTestDB(t)
	svc := NewAgentService(repository.NewAgentRepository(database))
	agent := &models.Agent{ID: uuid.New(), State: models.AgentStatePending}

	mock.ExpectExec("SET last_seen").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("EXISTS").
		WithArgs(agent.ID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("SET state").
		WithArgs(agent.ID, models.AgentStateActive).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := svc.Heartbeat(context.Background(), agent)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStateActive, agent.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthenticateEmptyToken(t *testing.T) {
	database, _ := newTestDB(t)
	svc := NewAgentService(repository.NewAgentRepository(database))

	_, err := svc.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestHashTokenIsDeterministic(t *testing.T) {
	a := HashToken("csa_example")
	b := HashToken("csa_example")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, HashToken("csa_other"))
}
