package models

import (
	"time"

	"github.com/google/uuid"
)

// CrackResult is an immutable record of one solved hash. Rows are write-once;
// resubmission of the same hash under the same attack is a no-op.
type CrackResult struct {
	ID         uuid.UUID  `json:"id"`
	HashItemID int64      `json:"hash_item_id"`
	AttackID   int64      `json:"attack_id"`
	AgentID    *uuid.UUID `json:"agent_id,omitempty"`
	PlainText  string     `json:"plain_text"`
	CreatedAt  time.Time  `json:"created_at"`
}

// HashItem is the minimal view of the hash-list collaborator's rows that the
// engine touches: it flips is_cracked/plain_text and reads cracked exports.
type HashItem struct {
	ID         int64   `json:"id"`
	HashListID int64   `json:"hash_list_id"`
	HashValue  string  `json:"hash_value"`
	PlainText  *string `json:"plain_text,omitempty"`
	IsCracked  bool    `json:"is_cracked"`
}
