package models

import "time"

// Attack state constants
const (
	AttackStatePending   = "pending"
	AttackStateRunning   = "running"
	AttackStatePaused    = "paused"
	AttackStateCompleted = "completed"
	AttackStateExhausted = "exhausted"
	AttackStateFailed    = "failed"
)

// Attack mode constants
const (
	AttackModeDictionary = "dictionary"
	AttackModeMask       = "mask"
	AttackModeBruteForce = "brute_force"
	AttackModeHybrid     = "hybrid"
)

// Attack is one cracking configuration belonging to a campaign. Position
// defines work order within the campaign; ComplexityScore (1-5, lower is
// simpler) breaks priority ties in scheduling.
type Attack struct {
	ID              int64     `json:"id"`
	CampaignID      int64     `json:"campaign_id"`
	Name            string    `json:"name"`
	Mode            string    `json:"mode"`
	HashMode        int       `json:"hash_mode"`
	Position        int       `json:"position"`
	ComplexityScore int       `json:"complexity_score"`
	KeyspaceTotal   int64     `json:"keyspace_total"`
	State           string    `json:"state"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// AttackIsTerminal reports whether an attack state admits no further work.
func AttackIsTerminal(state string) bool {
	switch state {
	case AttackStateCompleted, AttackStateExhausted, AttackStateFailed:
		return true
	}
	return false
}

// AttackWithCampaign carries the campaign columns the scheduler needs
// alongside the attack, so candidate scans avoid per-attack campaign lookups.
type AttackWithCampaign struct {
	Attack
	CampaignPriority CampaignPriority `json:"campaign_priority"`
	CampaignState    string           `json:"campaign_state"`
	ProjectID        int64            `json:"project_id"`
}
