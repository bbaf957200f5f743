package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/hivecrack/hivecrack/internal/db"
	"github.com/hivecrack/hivecrack/internal/models"
	"github.com/hivecrack/hivecrack/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) (*db.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return &db.DB{DB: sqlDB}, mock
}

var taskCols = []string{
	"id", "attack_id", "agent_id", "status", "keyspace_offset", "keyspace_limit",
	"progress", "preemption_count", "stale", "started_at", "completed_at",
	"created_at", "updated_at",
}

var candidateCols = append(append([]string{}, taskCols...), "priority", "project_id")

func candidateRow(rows *sqlmock.Rows, id int64, progress float64, count int, priority models.CampaignPriority, projectID int64) *sqlmock.Rows {
	agentID := uuid.New()
	now := time.Now()
	return rows.AddRow(
		id, int64(1), agentID.String(), models.TaskStatusRunning, int64(0), int64(1000),
		progress, count, false, now, nil, now, now, int(priority), projectID)
}

func TestFindVictimSkipsGuardedTasks(t *testing.T) {
	database, mock := newTestDB(t)
	svc := NewPreemptionService(database, repository.NewTaskRepository(database))

	// The store returns candidates already ordered by priority then progress;
	// the first two are protected, so the third must win.
	rows := sqlmock.NewRows(candidateCols)
	candidateRow(rows, 11, 95.0, 0, models.PriorityDeferred, 7) // past progress ceiling
	candidateRow(rows, 12, 5.0, 2, models.PriorityDeferred, 7)  // at preemption limit
	candidateRow(rows, 13, 25.0, 1, models.PriorityNormal, 7)

	mock.ExpectQuery("FROM tasks t").
		WithArgs(models.TaskStatusRunning, int64(7), models.PriorityHigh).
		WillReturnRows(rows)

	victim, err := svc.FindVictim(context.Background(), 7, models.PriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, int64(13), victim.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindVictimNoneQualify(t *testing.T) {
	database, mock := newTestDB(t)
	svc := NewPreemptionService(database, repository.NewTaskRepository(database))

	rows := sqlmock.NewRows(candidateCols)
	candidateRow(rows, 11, 99.0, 0, models.PriorityNormal, 7)
	candidateRow(rows, 12, 10.0, 2, models.PriorityNormal, 7)

	mock.ExpectQuery("FROM tasks t").
		WithArgs(models.TaskStatusRunning, int64(7), models.PriorityHigh).
		WillReturnRows(rows)

	_, err := svc.FindVictim(context.Background(), 7, models.PriorityHigh)
	assert.ErrorIs(t, err, ErrNotPreemptable)
}

func TestFindVictimScopedToProject(t *testing.T) {
	database, mock := newTestDB(t)
	svc := NewPreemptionService(database, repository.NewTaskRepository(database))

	// Only the requested project id is ever queried for; a task in another
	// project is invisible to the scan regardless of its priority.
	mock.ExpectQuery("FROM tasks t").
		WithArgs(models.TaskStatusRunning, int64(42), models.PriorityNormal).
		WillReturnRows(sqlmock.NewRows(candidateCols))

	_, err := svc.FindVictim(context.Background(), 42, models.PriorityNormal)
	assert.ErrorIs(t, err, ErrNotPreemptable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func lockedTaskRows(id int64, status string, progress float64, count int) *sqlmock.Rows {
	agentID := uuid.New()
	now := time.Now()
	return sqlmock.NewRows(taskCols).AddRow(
		id, int64(1), agentID.String(), status, int64(0), int64(1000),
		progress, count, false, now, nil, now, now)
}

func TestPreemptSuccess(t *testing.T) {
	database, mock := newTestDB(t)
	svc := NewPreemptionService(database, repository.NewTaskRepository(database))

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs(int64(13)).
		WillReturnRows(lockedTaskRows(13, models.TaskStatusRunning, 25.0, 1))
	mock.ExpectExec("preemption_count = preemption_count \\+ 1").
		WithArgs(int64(13), models.TaskStatusPending, models.TaskStatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	task, err := svc.Preempt(context.Background(), 13)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, task.Status)
	assert.Equal(t, 2, task.PreemptionCount)
	assert.True(t, task.Stale)
	assert.Nil(t, task.AgentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPreemptRollsBackOnFailure(t *testing.T) {
	database, mock := newTestDB(t)
	svc := NewPreemptionService(database, repository.NewTaskRepository(database))

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs(int64(13)).
		WillReturnRows(lockedTaskRows(13, models.TaskStatusRunning, 25.0, 0))
	mock.ExpectExec("preemption_count = preemption_count \\+ 1").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := svc.Preempt(context.Background(), 13)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotPreemptable)
	// No commit was ever expected: the transaction either applies both the
	// status change and the count bump or neither.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPreemptSkipsTaskThatChangedUnderneath(t *testing.T) {
	database, mock := newTestDB(t)
	svc := NewPreemptionService(database, repository.NewTaskRepository(database))

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs(int64(13)).
		WillReturnRows(lockedTaskRows(13, models.TaskStatusCompleted, 100.0, 0))
	mock.ExpectRollback()

	_, err := svc.Preempt(context.Background(), 13)
	assert.ErrorIs(t, err, ErrNotPreemptable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPreemptRespectsGuardsAtLockTime(t *testing.T) {
	database, mock := newTestDB(t)
	svc := NewPreemptionService(database, repository.NewTaskRepository(database))

	// Progress advanced past the ceiling between the scan and the lock.
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs(int64(13)).
		WillReturnRows(lockedTaskRows(13, models.TaskStatusRunning, 92.0, 0))
	mock.ExpectRollback()

	_, err := svc.Preempt(context.Background(), 13)
	assert.ErrorIs(t, err, ErrNotPreemptable)
	assert.NoError(t, mock.ExpectationsWereMet())
}
