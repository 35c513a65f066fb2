package repository

import (
	"context"

	"github.com/dialware/dialer-engine/internal/domain"
	"gorm.io/gorm"
)

// EventRepository is append-only: events are never updated or deleted.
type EventRepository interface {
	Append(ctx context.Context, e *domain.AttemptEvent) error
	ListByAttempt(ctx context.Context, attemptID string) ([]domain.AttemptEvent, error)
}

type GormEventRepo struct {
	db *gorm.DB
}

func NewGormEventRepo(db *gorm.DB) *GormEventRepo {
	return &GormEventRepo{db: db}
}

func (r *GormEventRepo) Append(ctx context.Context, e *domain.AttemptEvent) error {
	model := eventModelFromDomain(e)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if e != nil {
		*e = *eventModelToDomain(model)
	}
	return nil
}

func (r *GormEventRepo) ListByAttempt(ctx context.Context, attemptID string) ([]domain.AttemptEvent, error) {
	var models []AttemptEventModel
	err := r.db.WithContext(ctx).
		Where("attempt_id = ?", attemptID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	events := make([]domain.AttemptEvent, 0, len(models))
	for i := range models {
		events = append(events, *eventModelToDomain(&models[i]))
	}
	return events, nil
}
