package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/dialware/dialer-engine/internal/domain"
	"gorm.io/gorm"
)

type AttemptRepository interface {
	// Create inserts the attempt and its ATTEMPT_CREATED event atomically.
	Create(ctx context.Context, a *domain.CallAttempt, event *domain.AttemptEvent) error
	GetByID(ctx context.Context, id string) (*domain.CallAttempt, error)
	GetByCorrelationID(ctx context.Context, correlationID string) (*domain.CallAttempt, error)
	ListActive(ctx context.Context, campaignID string) ([]domain.CallAttempt, error)
	SetCorrelationID(ctx context.Context, id string, correlationID string) error
	// Transition appends the event and applies the conditional state update
	// in one transaction. The update only matches rows whose current state
	// permits the target state, so a lost race rolls the event back too.
	Transition(ctx context.Context, id string, to domain.AttemptState, event *domain.AttemptEvent) error
	// AppendSIPCode pushes a code onto the ordered diagnostic list and logs
	// the companion event.
	AppendSIPCode(ctx context.Context, id string, code int, event *domain.AttemptEvent) error
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) Create(ctx context.Context, a *domain.CallAttempt, event *domain.AttemptEvent) error {
	model := attemptModelFromDomain(a)
	eventModel := eventModelFromDomain(event)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if eventModel != nil {
			if err := tx.Create(eventModel).Error; err != nil {
				return err
			}
		}
		return tx.Create(model).Error
	})
	if err != nil {
		return err
	}

	if a != nil {
		*a = *attemptModelToDomain(model)
	}
	return nil
}

func (r *GormAttemptRepo) GetByID(ctx context.Context, id string) (*domain.CallAttempt, error) {
	var model CallAttemptModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return attemptModelToDomain(&model), nil
}

func (r *GormAttemptRepo) GetByCorrelationID(ctx context.Context, correlationID string) (*domain.CallAttempt, error) {
	var model CallAttemptModel
	err := r.db.WithContext(ctx).
		Where("correlation_id = ?", correlationID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return attemptModelToDomain(&model), nil
}

func (r *GormAttemptRepo) ListActive(ctx context.Context, campaignID string) ([]domain.CallAttempt, error) {
	var models []CallAttemptModel
	query := r.db.WithContext(ctx).
		Where("state IN ?", []domain.AttemptState{
			domain.StateQueued, domain.StateDialing, domain.StateRinging,
			domain.StateConnected, domain.StateOnHold,
		})
	if campaignID != "" {
		query = query.Where("campaign_id = ?", campaignID)
	}

	if err := query.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	attempts := make([]domain.CallAttempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *attemptModelToDomain(&models[i]))
	}
	return attempts, nil
}

func (r *GormAttemptRepo) SetCorrelationID(ctx context.Context, id string, correlationID string) error {
	result := r.db.WithContext(ctx).
		Model(&CallAttemptModel{}).
		Where("id = ?", id).
		Update("correlation_id", correlationID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormAttemptRepo) Transition(ctx context.Context, id string, to domain.AttemptState, event *domain.AttemptEvent) error {
	sources := domain.TransitionSources(to)
	if len(sources) == 0 {
		return fmt.Errorf("%w: no state may transition to %s", domain.ErrInvalidTransition, to)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if eventModel := eventModelFromDomain(event); eventModel != nil {
			if err := tx.Create(eventModel).Error; err != nil {
				return err
			}
		}

		result := tx.Model(&CallAttemptModel{}).
			Where("id = ? AND state IN ?", id, sources).
			Update("state", to)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return r.classifyRejectedTransition(tx, id, to)
		}
		return nil
	})
}

// classifyRejectedTransition distinguishes a missing attempt from one whose
// current state forbids the transition. Called inside the transaction so the
// appended event rolls back with it.
func (r *GormAttemptRepo) classifyRejectedTransition(tx *gorm.DB, id string, to domain.AttemptState) error {
	var model CallAttemptModel
	err := tx.First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	if model.State.IsTerminal() {
		return fmt.Errorf("%w: %s cannot move to %s", domain.ErrTerminalState, model.State, to)
	}
	return fmt.Errorf("%w: %s cannot move to %s", domain.ErrInvalidTransition, model.State, to)
}

func (r *GormAttemptRepo) AppendSIPCode(ctx context.Context, id string, code int, event *domain.AttemptEvent) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if eventModel := eventModelFromDomain(event); eventModel != nil {
			if err := tx.Create(eventModel).Error; err != nil {
				return err
			}
		}

		result := tx.Model(&CallAttemptModel{}).
			Where("id = ?", id).
			Update("sip_codes", gorm.Expr("sip_codes || to_jsonb(?::int)", code))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}
