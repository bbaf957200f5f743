package services

import "errors"

// Sentinel errors surfaced to the transport layer. Handlers translate these
// to the wire contract's status codes; services never import net/http.
var (
	// ErrTaskNotFound maps to 404 with an attached reason.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskNotAssigned means the caller is not the agent holding the task.
	ErrTaskNotAssigned = errors.New("task not assigned to this agent")

	// ErrTaskGone means the task was paused out from under the agent.
	ErrTaskGone = errors.New("task no longer available")

	// ErrTaskConflict means the reported operation does not apply to the
	// task's current status.
	ErrTaskConflict = errors.New("task is not running")

	// ErrTaskAlreadyDone means the task reached a terminal status and admits
	// no further protocol operations.
	ErrTaskAlreadyDone = errors.New("task already completed")

	// ErrNoWork means no attack currently has a slice for the agent.
	ErrNoWork = errors.New("no work available")

	// ErrNotPreemptable means no running task may be reclaimed right now.
	ErrNotPreemptable = errors.New("no preemptable task")

	// ErrInvalidToken means the bearer token matched no registered agent.
	ErrInvalidToken = errors.New("invalid agent token")

	// ErrAgentNotEligible means the agent's state or heartbeat age bars it
	// from receiving work.
	ErrAgentNotEligible = errors.New("agent not eligible for work")

	// ErrHashNotFound means a submitted crack named a hash outside the
	// attack's hash list.
	ErrHashNotFound = errors.New("hash value not in target list")
)

// NotFoundReason qualifies ErrTaskNotFound so agents can distinguish a task
// that vanished from one that was reassigned.
type NotFoundReason string

const (
	ReasonTaskDeleted     NotFoundReason = "task_deleted"
	ReasonTaskNotAssigned NotFoundReason = "task_not_assigned"
	ReasonTaskInvalid     NotFoundReason = "task_invalid"
)

// NotFoundError pairs ErrTaskNotFound with its reason.
type NotFoundError struct {
	Reason NotFoundReason
}

func (e *NotFoundError) Error() string {
	return "task not found: " + string(e.Reason)
}

// Unwrap lets errors.Is(err, ErrTaskNotFound) match.
func (e *NotFoundError) Unwrap() error {
	return ErrTaskNotFound
}
