package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dialware/dialer-engine/internal/domain"
	"github.com/dialware/dialer-engine/internal/observability"
	"github.com/dialware/dialer-engine/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultSweepInterval = 1 * time.Second
	defaultSweepLimit    = 100
)

// TimerService arms, cancels, and fires safety-net timers. Firing is
// exactly-once: ClaimDue marks timers fired inside the claiming statement, so
// two concurrent sweeps never process the same timer.
type TimerService struct {
	timers   repository.TimerRepository
	events   repository.EventRepository
	attempts *AttemptService
	metrics  *observability.Metrics
	logger   *zap.Logger
}

func NewTimerService(
	timers repository.TimerRepository,
	events repository.EventRepository,
	attempts *AttemptService,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*TimerService, error) {
	if timers == nil {
		return nil, fmt.Errorf("timer repository is required")
	}
	if events == nil {
		return nil, fmt.Errorf("event repository is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempt service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TimerService{
		timers:   timers,
		events:   events,
		attempts: attempts,
		metrics:  metrics,
		logger:   logger,
	}, nil
}

// Arm creates a live timer for the attempt.
func (s *TimerService) Arm(ctx context.Context, attemptID string, timerType domain.TimerType, fireAt time.Time) (*domain.AttemptTimer, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	timer := &domain.AttemptTimer{
		ID:        uuid.NewString(),
		AttemptID: strings.TrimSpace(attemptID),
		Type:      timerType,
		FireAt:    fireAt.UTC(),
	}
	if err := timer.Validate(); err != nil {
		return nil, err
	}

	if err := s.timers.Arm(ctx, timer); err != nil {
		return nil, err
	}
	return timer, nil
}

// Cancel marks the attempt's live timers cancelled. Fired timers stay fired;
// cancelling is a no-op for them and the returned count excludes them.
func (s *TimerService) Cancel(ctx context.Context, attemptID string, timerType *domain.TimerType) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(attemptID) == "" {
		return 0, fmt.Errorf("%w: attempt id is required", domain.ErrValidation)
	}
	return s.timers.Cancel(ctx, strings.TrimSpace(attemptID), timerType)
}

func (s *TimerService) ListByAttempt(ctx context.Context, attemptID string) ([]domain.AttemptTimer, error) {
	if strings.TrimSpace(attemptID) == "" {
		return nil, fmt.Errorf("%w: attempt id is required", domain.ErrValidation)
	}
	return s.timers.ListByAttempt(ctx, strings.TrimSpace(attemptID))
}

type timerFiredPayload struct {
	TimerID     string `json:"timerId"`
	TimerType   string `json:"timerType"`
	ForcedState string `json:"forcedState"`
}

// ProcessExpired claims every due timer and forces the attempt into the
// timer's fallback state. An attempt that already reached a terminal state
// through real signaling wins the race; its timer is consumed without a
// transition. Returns the ids of the timers claimed.
func (s *TimerService) ProcessExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	claimed, err := s.timers.ClaimDue(ctx, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due timers: %w", err)
	}

	fired := make([]string, 0, len(claimed))
	for i := range claimed {
		timer := claimed[i]
		s.metrics.IncTimerFired(timer.Type.String())
		s.fireTimer(ctx, timer)
		fired = append(fired, timer.ID)
	}

	return fired, nil
}

func (s *TimerService) fireTimer(ctx context.Context, timer domain.AttemptTimer) {
	forced := timer.Type.ForcedState()
	logger := observability.WithContextLogger(s.logger, ctx).With(
		zap.String("attemptId", timer.AttemptID),
		zap.String("timerId", timer.ID),
		zap.String("timerType", timer.Type.String()),
	)

	event, err := s.newFiredEvent(timer, forced)
	if err == nil {
		err = s.events.Append(ctx, event)
	}
	if err != nil {
		logger.Error("failed to record timer fired event", zap.Error(err))
	}

	_, err = s.attempts.Transition(ctx, timer.AttemptID, forced, fmt.Sprintf("timer %s fired", timer.Type))
	switch {
	case err == nil:
		logger.Info("timer forced attempt state", zap.String("state", forced.String()))
	case errors.Is(err, domain.ErrTerminalState) || errors.Is(err, domain.ErrInvalidTransition):
		// Real signaling settled the attempt first; the timer is spent.
		logger.Debug("timer fired on settled attempt", zap.Error(err))
	default:
		logger.Error("timer transition failed", zap.Error(err))
	}
}

func (s *TimerService) newFiredEvent(timer domain.AttemptTimer, forced domain.AttemptState) (*domain.AttemptEvent, error) {
	body, err := json.Marshal(timerFiredPayload{
		TimerID:     timer.ID,
		TimerType:   timer.Type.String(),
		ForcedState: forced.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal timer payload: %w", err)
	}

	return &domain.AttemptEvent{
		ID:        uuid.NewString(),
		AttemptID: timer.AttemptID,
		Type:      domain.EventTimerFired,
		Payload:   string(body),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// TimerSweeper periodically drives TimerService.ProcessExpired.
type TimerSweeper struct {
	timers   *TimerService
	logger   *zap.Logger
	interval time.Duration
	limit    int
}

func NewTimerSweeper(timers *TimerService, interval time.Duration, limit int, logger *zap.Logger) (*TimerSweeper, error) {
	if timers == nil {
		return nil, fmt.Errorf("timer service is required")
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TimerSweeper{
		timers:   timers,
		logger:   logger,
		interval: interval,
		limit:    limit,
	}, nil
}

func (s *TimerSweeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial sweep so already-due timers do not wait for the first ticker edge.
	if _, err := s.timers.ProcessExpired(ctx, time.Now(), s.limit); err != nil && ctx.Err() == nil {
		s.logger.Error("timer sweeper initial sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.timers.ProcessExpired(ctx, time.Now(), s.limit); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("timer sweep failed", zap.Error(err))
			}
		}
	}
}
