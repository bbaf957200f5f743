package models

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Agent state constants
const (
	AgentStatePending     = "pending"
	AgentStateActive      = "active"
	AgentStateBenchmarked = "benchmarked"
	AgentStateError       = "error"
	AgentStateStopped     = "stopped"
)

// Agent represents a registered worker in the system. Only the SHA-256 of the
// issued bearer token is stored; the plaintext token leaves the server once,
// at registration.
type Agent struct {
	ID        uuid.UUID      `json:"id"`
	Name      string         `json:"name"`
	TokenHash string         `json:"-"`
	State     string         `json:"state"`
	Devices   DeviceList     `json:"devices"`
	LastSeen  time.Time      `json:"last_seen"`
	LastError sql.NullString `json:"last_error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`

	// ProjectIDs are the projects this agent may receive work from
	ProjectIDs []int64 `json:"project_ids,omitempty"`
}

// Device is one compute device declared by an agent at registration.
type Device struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Memory int64  `json:"memory,omitempty"`
}

// DeviceList stores the declared devices as a JSONB column.
type DeviceList []Device

// Value returns the JSON encoding of the device list for database storage
func (d DeviceList) Value() (driver.Value, error) {
	if d == nil {
		return "[]", nil
	}
	return json.Marshal(d)
}

// Scan decodes a JSONB devices column into the device list
func (d *DeviceList) Scan(value interface{}) error {
	if value == nil {
		*d = DeviceList{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, d)
	case string:
		return json.Unmarshal([]byte(v), d)
	default:
		return fmt.Errorf("unsupported type for devices: %T", value)
	}
}

// agentTransitions enumerates the legal agent state moves.
var agentTransitions = map[string][]string{
	AgentStatePending:     {AgentStateActive, AgentStateBenchmarked, AgentStateError, AgentStateStopped},
	AgentStateActive:      {AgentStateBenchmarked, AgentStateError, AgentStateStopped},
	AgentStateBenchmarked: {AgentStateError, AgentStateStopped},
	AgentStateError:       {AgentStatePending},
	AgentStateStopped:     {AgentStatePending},
}

// ValidAgentTransition reports whether moving an agent between states is legal.
func ValidAgentTransition(from, to string) bool {
	for _, allowed := range agentTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// EligibleForWork reports whether the agent may receive new task assignment:
// its state must allow work and its last heartbeat must be recent enough.
func (a *Agent) EligibleForWork(staleAfter time.Duration, now time.Time) bool {
	if a.State != AgentStateActive && a.State != AgentStateBenchmarked {
		return false
	}
	return now.Sub(a.LastSeen) <= staleAfter
}

// AgentBenchmark records a measured cracking speed for one hash mode.
type AgentBenchmark struct {
	ID        int64     `json:"id"`
	AgentID   uuid.UUID `json:"agent_id"`
	HashMode  int       `json:"hash_mode"`
	Speed     int64     `json:"speed"`
	Device    string    `json:"device,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AgentError is a worker-reported failure, kept for operator diagnostics.
type AgentError struct {
	ID        int64         `json:"id"`
	AgentID   uuid.UUID     `json:"agent_id"`
	Message   string        `json:"message"`
	Severity  string        `json:"severity"`
	TaskID    sql.NullInt64 `json:"task_id,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}
