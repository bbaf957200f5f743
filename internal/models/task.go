package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Task status constants
const (
	TaskStatusPending   = "pending"
	TaskStatusRunning   = "running"
	TaskStatusPaused    = "paused"
	TaskStatusCompleted = "completed"
	TaskStatusExhausted = "exhausted"
	TaskStatusFailed    = "failed"
)

// TaskCompletionPercent is the progress value at which a task's slice is done.
const TaskCompletionPercent = 100.0

// PreemptionProgressCeiling is the reported progress above which a running
// task may no longer be preempted. The boundary itself is still preemptable.
const PreemptionProgressCeiling = 90.0

// MaxPreemptions is the number of times a task may be reclaimed before it is
// pinned to whatever agent currently holds it.
const MaxPreemptions = 2

// Task is a contiguous keyspace slice [offset, offset+limit) of one attack,
// the unit an agent actually executes.
type Task struct {
	ID              int64        `json:"id"`
	AttackID        int64        `json:"attack_id"`
	AgentID         *uuid.UUID   `json:"agent_id,omitempty"`
	Status          string       `json:"status"`
	KeyspaceOffset  int64        `json:"keyspace_offset"`
	KeyspaceLimit   int64        `json:"keyspace_limit"`
	Progress        float64      `json:"progress"`
	PreemptionCount int          `json:"preemption_count"`
	Stale           bool         `json:"stale"`
	StartedAt       sql.NullTime `json:"started_at"`
	CompletedAt     sql.NullTime `json:"completed_at"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// taskTransitions enumerates the legal status moves. Preemption uses the same
// running->pending edge as abandon but with its own side-effect list.
var taskTransitions = map[string][]string{
	TaskStatusPending: {TaskStatusRunning, TaskStatusFailed},
	TaskStatusRunning: {TaskStatusPaused, TaskStatusCompleted, TaskStatusExhausted, TaskStatusPending, TaskStatusFailed},
	TaskStatusPaused:  {TaskStatusRunning, TaskStatusCompleted, TaskStatusExhausted, TaskStatusPending},
}

// ValidTaskTransition reports whether moving a task from one status to
// another is legal. Terminal statuses admit no transitions.
func ValidTaskTransition(from, to string) bool {
	for _, allowed := range taskTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TaskIsTerminal reports whether a status admits no further transitions.
func TaskIsTerminal(status string) bool {
	switch status {
	case TaskStatusCompleted, TaskStatusExhausted, TaskStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the task has reached a terminal status.
func (t *Task) IsTerminal() bool {
	return TaskIsTerminal(t.Status)
}

// Preemptable reports whether this task may be reclaimed for higher-priority
// work: near-complete tasks and tasks already reclaimed MaxPreemptions times
// are exempt. A task with no progress report yet is preemptable.
func (t *Task) Preemptable() bool {
	if t.Progress > PreemptionProgressCeiling {
		return false
	}
	if t.PreemptionCount >= MaxPreemptions {
		return false
	}
	return true
}
