package models

import (
	"testing"
)

func TestTaskPreemptable(t *testing.T) {
	tests := []struct {
		name            string
		progress        float64
		preemptionCount int
		want            bool
	}{
		{
			name:            "fresh task with no progress",
			progress:        0,
			preemptionCount: 0,
			want:            true,
		},
		{
			name:            "mid-flight task",
			progress:        50.0,
			preemptionCount: 0,
			want:            true,
		},
		{
			name:            "exactly at the progress ceiling",
			progress:        90.0,
			preemptionCount: 0,
			want:            true,
		},
		{
			name:            "just past the progress ceiling",
			progress:        90.1,
			preemptionCount: 0,
			want:            false,
		},
		{
			name:            "near complete",
			progress:        99.9,
			preemptionCount: 0,
			want:            false,
		},
		{
			name:            "one preemption so far",
			progress:        10.0,
			preemptionCount: 1,
			want:            true,
		},
		{
			name:            "at the preemption limit",
			progress:        10.0,
			preemptionCount: 2,
			want:            false,
		},
		{
			name:            "beyond the preemption limit",
			progress:        0,
			preemptionCount: 3,
			want:            false,
		},
		{
			name:            "both guards trip",
			progress:        95.0,
			preemptionCount: 2,
			want:            false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &Task{
				Status:          TaskStatusRunning,
				Progress:        tt.progress,
				PreemptionCount: tt.preemptionCount,
			}
			if got := task.Preemptable(); got != tt.want {
				t.Errorf("Preemptable() = %v, want %v (progress=%.1f, count=%d)",
					got, tt.want, tt.progress, tt.preemptionCount)
			}
		})
	}
}

func TestValidTaskTransition(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
		want bool
	}{
		{"pending accepts", TaskStatusPending, TaskStatusRunning, true},
		{"pending fails", TaskStatusPending, TaskStatusFailed, true},
		{"pending cannot complete directly", TaskStatusPending, TaskStatusCompleted, false},
		{"running pauses", TaskStatusRunning, TaskStatusPaused, true},
		{"running completes", TaskStatusRunning, TaskStatusCompleted, true},
		{"running exhausts", TaskStatusRunning, TaskStatusExhausted, true},
		{"running returns to pending", TaskStatusRunning, TaskStatusPending, true},
		{"running fails", TaskStatusRunning, TaskStatusFailed, true},
		{"paused resumes", TaskStatusPaused, TaskStatusRunning, true},
		{"paused completes", TaskStatusPaused, TaskStatusCompleted, true},
		{"paused returns to pending", TaskStatusPaused, TaskStatusPending, true},
		{"completed is terminal", TaskStatusCompleted, TaskStatusRunning, false},
		{"exhausted is terminal", TaskStatusExhausted, TaskStatusPending, false},
		{"failed is terminal", TaskStatusFailed, TaskStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidTaskTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("ValidTaskTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTaskIsTerminal(t *testing.T) {
	terminal := []string{TaskStatusCompleted, TaskStatusExhausted, TaskStatusFailed}
	for _, status := range terminal {
		if !TaskIsTerminal(status) {
			t.Errorf("expected %s to be terminal", status)
		}
	}
	live := []string{TaskStatusPending, TaskStatusRunning, TaskStatusPaused}
	for _, status := range live {
		if TaskIsTerminal(status) {
			t.Errorf("expected %s not to be terminal", status)
		}
	}
}
