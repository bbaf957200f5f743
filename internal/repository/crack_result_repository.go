package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hivecrack/hivecrack/internal/db"
	"github.com/hivecrack/hivecrack/internal/models"
)

// CrackResultRepository handles crack results and the hash-item columns the
// engine flips when a submission lands.
type CrackResultRepository struct {
	db *db.DB
}

// NewCrackResultRepository creates a new instance of CrackResultRepository.
func NewCrackResultRepository(database *db.DB) *CrackResultRepository {
	return &CrackResultRepository{db: database}
}

// GetHashItem looks up a hash item by value within a hash list.
func (r *CrackResultRepository) GetHashItem(ctx context.Context, hashListID int64, hashValue string) (*models.HashItem, error) {
	query := `
		SELECT id, hash_list_id, hash_value, plain_text, is_cracked
		FROM hash_items
		WHERE hash_list_id = $1 AND hash_value = $2
	`
	var item models.HashItem
	err := r.db.QueryRowContext(ctx, query, hashListID, hashValue).Scan(
		&item.ID, &item.HashListID, &item.HashValue, &item.PlainText, &item.IsCracked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get hash item: %w", err)
	}
	return &item, nil
}

// Insert records a crack result. The unique constraint on
// (hash_item_id, attack_id) makes resubmission a no-op; created reports
// whether this call was the first.
func (r *CrackResultRepository) Insert(ctx context.Context, result *models.CrackResult) (created bool, err error) {
	query := `
		INSERT INTO crack_results (id, hash_item_id, attack_id, agent_id, plain_text)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (hash_item_id, attack_id) DO NOTHING
	`
	if result.ID == uuid.Nil {
		result.ID = uuid.New()
	}
	res, err := r.db.ExecContext(ctx, query,
		result.ID, result.HashItemID, result.AttackID, result.AgentID, result.PlainText)
	if err != nil {
		return false, fmt.Errorf("failed to insert crack result: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkCracked flips the hash item to cracked with its recovered plaintext.
func (r *CrackResultRepository) MarkCracked(ctx context.Context, hashItemID int64, plainText string) error {
	query := `UPDATE hash_items SET is_cracked = TRUE, plain_text = $2 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, hashItemID, plainText)
	if err != nil {
		return fmt.Errorf("failed to mark hash item cracked: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CrackedPlaintextsForAttack returns the plaintexts already recovered for the
// hash list the attack targets, newest last. Agents feed these back into
// their running session as additional candidates.
func (r *CrackResultRepository) CrackedPlaintextsForAttack(ctx context.Context, attackID int64) ([]string, error) {
	query := `
		SELECT h.plain_text
		FROM hash_items h
		JOIN campaigns c ON c.hash_list_id = h.hash_list_id
		JOIN attacks a ON a.campaign_id = c.id
		WHERE a.id = $1 AND h.is_cracked AND h.plain_text IS NOT NULL
		ORDER BY h.id
	`
	rows, err := r.db.QueryContext(ctx, query, attackID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cracked plaintexts: %w", err)
	}
	defer rows.Close()

	var plaintexts []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan plaintext: %w", err)
		}
		plaintexts = append(plaintexts, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plaintexts: %w", err)
	}
	return plaintexts, nil
}

// UncrackedCountForList reports how many hashes remain unsolved in a list.
// The campaign collaborator uses this to decide completed versus exhausted.
func (r *CrackResultRepository) UncrackedCountForList(ctx context.Context, hashListID int64) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM hash_items WHERE hash_list_id = $1 AND NOT is_cracked`
	if err := r.db.QueryRowContext(ctx, query, hashListID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count uncracked hashes: %w", err)
	}
	return count, nil
}
