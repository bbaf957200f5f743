package models

import (
	"testing"
	"time"
)

func TestAgentEligibleForWork(t *testing.T) {
	now := time.Now()
	staleAfter := 5 * time.Minute

	tests := []struct {
		name     string
		state    string
		lastSeen time.Time
		want     bool
	}{
		{"active and fresh", AgentStateActive, now.Add(-time.Minute), true},
		{"benchmarked and fresh", AgentStateBenchmarked, now.Add(-time.Minute), true},
		{"active but stale heartbeat", AgentStateActive, now.Add(-10 * time.Minute), false},
		{"pending never gets work", AgentStatePending, now, false},
		{"errored never gets work", AgentStateError, now, false},
		{"stopped never gets work", AgentStateStopped, now, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := &Agent{State: tt.state, LastSeen: tt.lastSeen}
			if got := agent.EligibleForWork(staleAfter, now); got != tt.want {
				t.Errorf("EligibleForWork() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidAgentTransition(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
		want bool
	}{
		{"pending activates", AgentStatePending, AgentStateActive, true},
		{"active benchmarks", AgentStateActive, AgentStateBenchmarked, true},
		{"benchmarked errors", AgentStateBenchmarked, AgentStateError, true},
		{"error resets", AgentStateError, AgentStatePending, true},
		{"stopped resets", AgentStateStopped, AgentStatePending, true},
		{"benchmarked cannot regress to active", AgentStateBenchmarked, AgentStateActive, false},
		{"error cannot jump to active", AgentStateError, AgentStateActive, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidAgentTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("ValidAgentTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}
