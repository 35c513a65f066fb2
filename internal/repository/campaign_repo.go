package repository

import (
	"context"
	"errors"

	"github.com/dialware/dialer-engine/internal/domain"
	"gorm.io/gorm"
)

type CampaignRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Campaign, error)
	// ListDialable returns active campaigns the orchestrator paces
	// automatically. PREVIEW campaigns dial on agent action, not on ticks.
	ListDialable(ctx context.Context) ([]domain.Campaign, error)
	Cancel(ctx context.Context, id string) error
}

type GormCampaignRepo struct {
	db *gorm.DB
}

func NewGormCampaignRepo(db *gorm.DB) *GormCampaignRepo {
	return &GormCampaignRepo{db: db}
}

func (r *GormCampaignRepo) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	var model CampaignModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return campaignModelToDomain(&model), nil
}

func (r *GormCampaignRepo) ListDialable(ctx context.Context) ([]domain.Campaign, error) {
	var models []CampaignModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND dial_mode IN ?", domain.CampaignActive,
			[]domain.DialMode{domain.DialModePower, domain.DialModePredictive}).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	campaigns := make([]domain.Campaign, 0, len(models))
	for i := range models {
		campaigns = append(campaigns, *campaignModelToDomain(&models[i]))
	}
	return campaigns, nil
}

func (r *GormCampaignRepo) Cancel(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Where("id = ? AND status IN ?", id,
			[]domain.CampaignStatus{domain.CampaignActive, domain.CampaignPaused}).
		Update("status", domain.CampaignCancelled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}
