package models

import (
	"fmt"
	"time"
)

// CampaignPriority orders campaigns for scheduling. Higher values win.
type CampaignPriority int

const (
	PriorityDeferred CampaignPriority = 0
	PriorityNormal   CampaignPriority = 1
	PriorityHigh     CampaignPriority = 2
)

var priorityNames = map[CampaignPriority]string{
	PriorityDeferred: "deferred",
	PriorityNormal:   "normal",
	PriorityHigh:     "high",
}

func (p CampaignPriority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParseCampaignPriority converts a priority name to its ordered value.
func ParseCampaignPriority(s string) (CampaignPriority, error) {
	for p, name := range priorityNames {
		if name == s {
			return p, nil
		}
	}
	return PriorityNormal, fmt.Errorf("unknown campaign priority %q", s)
}

// Campaign state constants
const (
	CampaignStateDraft    = "draft"
	CampaignStateActive   = "active"
	CampaignStateArchived = "archived"
)

// Campaign is a prioritized container of attacks targeting one hash list.
// Campaigns are created and mutated by the external management surface; the
// engine only reads priority, project scope and state.
type Campaign struct {
	ID         int64            `json:"id"`
	Name       string           `json:"name"`
	ProjectID  int64            `json:"project_id"`
	HashListID int64            `json:"hash_list_id"`
	Priority   CampaignPriority `json:"priority"`
	State      string           `json:"state"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}
