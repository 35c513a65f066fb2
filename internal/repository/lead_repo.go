package repository

import (
	"context"
	"time"

	"github.com/dialware/dialer-engine/internal/domain"
	"gorm.io/gorm"
)

// LeadRepository is the lead reservation primitive. The exactly-once
// guarantee lives in the database: a row-claiming update with SKIP LOCKED
// means no two concurrent callers ever receive the same lead.
type LeadRepository interface {
	Reserve(ctx context.Context, campaignID string, accountID string, limit int) ([]domain.Lead, error)
	// Release returns reserved leads to the pool without marking them
	// attempted. Used when admission was denied after reservation.
	Release(ctx context.Context, leadIDs []string) error
	MarkAttempted(ctx context.Context, leadID string) error
}

type GormLeadRepo struct {
	db *gorm.DB
}

func NewGormLeadRepo(db *gorm.DB) *GormLeadRepo {
	return &GormLeadRepo{db: db}
}

func (r *GormLeadRepo) Reserve(ctx context.Context, campaignID string, accountID string, limit int) ([]domain.Lead, error) {
	if limit <= 0 {
		return nil, nil
	}

	var models []LeadModel
	err := r.db.WithContext(ctx).Raw(`
		UPDATE campaign_leads
		SET status = ?, reserved_at = ?, updated_at = ?
		WHERE id IN (
			SELECT id FROM campaign_leads
			WHERE campaign_id = ? AND account_id = ? AND status = ?
			ORDER BY created_at ASC
			LIMIT ?
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *`,
		domain.LeadReserved, time.Now().UTC(), time.Now().UTC(),
		campaignID, accountID, domain.LeadNew, limit,
	).Scan(&models).Error
	if err != nil {
		return nil, err
	}

	leads := make([]domain.Lead, 0, len(models))
	for i := range models {
		leads = append(leads, *leadModelToDomain(&models[i]))
	}
	return leads, nil
}

func (r *GormLeadRepo) Release(ctx context.Context, leadIDs []string) error {
	if len(leadIDs) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).
		Model(&LeadModel{}).
		Where("id IN ? AND status = ?", leadIDs, domain.LeadReserved).
		Updates(map[string]any{
			"status":      domain.LeadNew,
			"reserved_at": nil,
		}).Error
}

func (r *GormLeadRepo) MarkAttempted(ctx context.Context, leadID string) error {
	result := r.db.WithContext(ctx).
		Model(&LeadModel{}).
		Where("id = ? AND status = ?", leadID, domain.LeadReserved).
		Update("status", domain.LeadAttempted)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}
