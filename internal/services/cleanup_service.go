package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/hivecrack/hivecrack/internal/repository"
	"github.com/hivecrack/hivecrack/pkg/debug"
	"github.com/robfig/cron/v3"
)

// CleanupService destroys tasks whose owning attack has failed. Agents still
// holding a reference observe not-found with reason task_deleted, which the
// protocol treats as expected and non-fatal.
type CleanupService struct {
	tasks *repository.TaskRepository
	timer *cron.Cron
}

// NewCleanupService creates a new instance of CleanupService.
func NewCleanupService(tasks *repository.TaskRepository) *CleanupService {
	return &CleanupService{tasks: tasks}
}

// PruneOnce removes tasks of failed attacks and returns how many went.
func (s *CleanupService) PruneOnce(ctx context.Context) (int64, error) {
	pruned, err := s.tasks.PruneForFailedAttacks(ctx)
	if err != nil {
		return 0, err
	}
	if pruned > 0 {
		debug.Info("Pruned %d tasks of failed attacks", pruned)
	}
	return pruned, nil
}

// Start schedules periodic pruning.
func (s *CleanupService) Start(spec string) error {
	if s.timer != nil {
		return errors.New("cleanup timer already started")
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.PruneOnce(context.Background()); err != nil {
			debug.Error("Task pruning failed: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule task pruning: %w", err)
	}
	c.Start()
	s.timer = c
	debug.Info("Task pruning scheduled (%s)", spec)
	return nil
}

// Stop halts the pruning schedule.
func (s *CleanupService) Stop() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
