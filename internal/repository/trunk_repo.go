package repository

import (
	"context"
	"errors"

	"github.com/dialware/dialer-engine/internal/domain"
	"gorm.io/gorm"
)

type TrunkRepository interface {
	GetByID(ctx context.Context, id string) (*domain.TrunkConfig, error)
	ListEnabled(ctx context.Context) ([]domain.TrunkConfig, error)
}

type GormTrunkRepo struct {
	db *gorm.DB
}

func NewGormTrunkRepo(db *gorm.DB) *GormTrunkRepo {
	return &GormTrunkRepo{db: db}
}

func (r *GormTrunkRepo) GetByID(ctx context.Context, id string) (*domain.TrunkConfig, error) {
	var model TrunkConfigModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return trunkModelToDomain(&model), nil
}

func (r *GormTrunkRepo) ListEnabled(ctx context.Context) ([]domain.TrunkConfig, error) {
	var models []TrunkConfigModel
	err := r.db.WithContext(ctx).
		Where("enabled = TRUE").
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	trunks := make([]domain.TrunkConfig, 0, len(models))
	for i := range models {
		trunks = append(trunks, *trunkModelToDomain(&models[i]))
	}
	return trunks, nil
}
