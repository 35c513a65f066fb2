package repository

import (
	"context"
	"time"

	"github.com/dialware/dialer-engine/internal/domain"
	"gorm.io/gorm"
)

type TimerRepository interface {
	Arm(ctx context.Context, t *domain.AttemptTimer) error
	// Cancel marks live timers cancelled for an attempt, optionally scoped
	// to one type. Already fired or cancelled timers are untouched; the
	// count of newly cancelled timers is returned.
	Cancel(ctx context.Context, attemptID string, timerType *domain.TimerType) (int64, error)
	// ClaimDue atomically marks due, unfired, uncancelled timers as fired
	// and returns them. Two concurrent sweepers never claim the same timer.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.AttemptTimer, error)
	ListByAttempt(ctx context.Context, attemptID string) ([]domain.AttemptTimer, error)
}

type GormTimerRepo struct {
	db *gorm.DB
}

func NewGormTimerRepo(db *gorm.DB) *GormTimerRepo {
	return &GormTimerRepo{db: db}
}

func (r *GormTimerRepo) Arm(ctx context.Context, t *domain.AttemptTimer) error {
	model := timerModelFromDomain(t)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if t != nil {
		*t = *timerModelToDomain(model)
	}
	return nil
}

func (r *GormTimerRepo) Cancel(ctx context.Context, attemptID string, timerType *domain.TimerType) (int64, error) {
	query := r.db.WithContext(ctx).
		Model(&AttemptTimerModel{}).
		Where("attempt_id = ? AND fired = FALSE AND cancelled = FALSE", attemptID)
	if timerType != nil {
		query = query.Where("type = ?", *timerType)
	}

	result := query.Update("cancelled", true)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *GormTimerRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.AttemptTimer, error) {
	if limit <= 0 {
		limit = 100
	}

	// SKIP LOCKED keeps concurrent sweep workers from blocking on, or
	// double-firing, the same rows.
	var models []AttemptTimerModel
	err := r.db.WithContext(ctx).Raw(`
		UPDATE attempt_timers
		SET fired = TRUE, updated_at = ?
		WHERE id IN (
			SELECT id FROM attempt_timers
			WHERE fired = FALSE AND cancelled = FALSE AND fire_at <= ?
			ORDER BY fire_at ASC
			LIMIT ?
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *`,
		now, now, limit,
	).Scan(&models).Error
	if err != nil {
		return nil, err
	}

	timers := make([]domain.AttemptTimer, 0, len(models))
	for i := range models {
		timers = append(timers, *timerModelToDomain(&models[i]))
	}
	return timers, nil
}

func (r *GormTimerRepo) ListByAttempt(ctx context.Context, attemptID string) ([]domain.AttemptTimer, error) {
	var models []AttemptTimerModel
	err := r.db.WithContext(ctx).
		Where("attempt_id = ?", attemptID).
		Order("fire_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	timers := make([]domain.AttemptTimer, 0, len(models))
	for i := range models {
		timers = append(timers, *timerModelToDomain(&models[i]))
	}
	return timers, nil
}
