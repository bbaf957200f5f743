package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hivecrack/hivecrack/internal/db"
	"github.com/hivecrack/hivecrack/internal/models"
)

// CampaignRepository handles read access to campaigns. The engine never
// creates campaigns; the management surface owns their lifecycle.
type CampaignRepository struct {
	db *db.DB
}

// NewCampaignRepository creates a new instance of CampaignRepository.
func NewCampaignRepository(database *db.DB) *CampaignRepository {
	return &CampaignRepository{db: database}
}

const campaignColumns = `id, name, project_id, hash_list_id, priority, state, created_at, updated_at`

func scanCampaign(row interface{ Scan(...interface{}) error }) (*models.Campaign, error) {
	var c models.Campaign
	if err := row.Scan(
		&c.ID,
		&c.Name,
		&c.ProjectID,
		&c.HashListID,
		&c.Priority,
		&c.State,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetByID retrieves a campaign by its ID.
func (r *CampaignRepository) GetByID(ctx context.Context, id int64) (*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`
	campaign, err := scanCampaign(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign %d: %w", id, err)
	}
	return campaign, nil
}

