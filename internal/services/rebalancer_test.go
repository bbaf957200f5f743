package services

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hivecrack/hivecrack/internal/db"
	"github.com/hivecrack/hivecrack/internal/models"
	"github.com/hivecrack/hivecrack/internal/repository"
	"github.com/stretchr/testify/assert"
)

func newRebalancer(database *db.DB) *Rebalancer {
	taskRepo := repository.NewTaskRepository(database)
	attackRepo := repository.NewAttackRepository(database)
	return NewRebalancer(attackRepo, NewPreemptionService(database, taskRepo))
}

func expectStarvedScan(mock sqlmock.Sqlmock, rows *sqlmock.Rows) {
	mock.ExpectQuery("NOT EXISTS").
		WithArgs(models.PriorityHigh, models.CampaignStateActive,
			models.AttackStatePending, models.AttackStateRunning,
			models.TaskStatusRunning).
		WillReturnRows(rows)
}

func TestRebalanceFreesCapacityForStarvedAttack(t *testing.T) {
	database, mock := newTestDB(t)
	rebalancer := newRebalancer(database)

	starved := sqlmock.NewRows(attackCols)
	candidateAttackRow(starved, 1, models.AttackStateRunning, 1_000, models.PriorityHigh)
	expectStarvedScan(mock, starved)

	victims := sqlmock.NewRows(candidateCols)
	candidateRow(victims, 21, 30.0, 0, models.PriorityNormal, 7)
	mock.ExpectQuery("FROM tasks t").
		WithArgs(models.TaskStatusRunning, int64(7), models.PriorityHigh).
		WillReturnRows(victims)
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs(int64(21)).
		WillReturnRows(lockedTaskRows(21, models.TaskStatusRunning, 30.0, 0))
	mock.ExpectExec("preemption_count = preemption_count \\+ 1").
		WithArgs(int64(21), models.TaskStatusPending, models.TaskStatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rebalancer.Rebalance(context.Background())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRebalanceIsolatesPerAttackFailures(t *testing.T) {
	database, mock := newTestDB(t)
	rebalancer := newRebalancer(database)

	// Two starved attacks; the first one's victim scan blows up, the second
	// must still be processed.
	starved := sqlmock.NewRows(attackCols)
	candidateAttackRow(starved, 1, models.AttackStateRunning, 1_000, models.PriorityHigh)
	candidateAttackRow(starved, 2, models.AttackStateRunning, 1_000, models.PriorityHigh)
	expectStarvedScan(mock, starved)

	mock.ExpectQuery("FROM tasks t").
		WithArgs(models.TaskStatusRunning, int64(7), models.PriorityHigh).
		WillReturnError(errors.New("deadlock detected"))

	victims := sqlmock.NewRows(candidateCols)
	candidateRow(victims, 22, 10.0, 0, models.PriorityDeferred, 7)
	mock.ExpectQuery("FROM tasks t").
		WithArgs(models.TaskStatusRunning, int64(7), models.PriorityHigh).
		WillReturnRows(victims)
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs(int64(22)).
		WillReturnRows(lockedTaskRows(22, models.TaskStatusRunning, 10.0, 0))
	mock.ExpectExec("preemption_count = preemption_count \\+ 1").
		WithArgs(int64(22), models.TaskStatusPending, models.TaskStatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rebalancer.Rebalance(context.Background())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRebalanceNothingStarved(t *testing.T) {
	database, mock := newTestDB(t)
	rebalancer := newRebalancer(database)

	expectStarvedScan(mock, sqlmock.NewRows(attackCols))
	rebalancer.Rebalance(context.Background())
	assert.NoError(t, mock.ExpectationsWereMet())
}
