package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/dialware/dialer-engine/internal/domain"
	"github.com/dialware/dialer-engine/internal/observability"
	"github.com/dialware/dialer-engine/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	attemptLockStripes = 64

	defaultMaxCallDuration = 2 * time.Hour
)

// AttemptService owns the call attempt state machine. Every mutation appends
// an event before the projection changes; rejected transitions on terminal
// attempts are recorded as anomalous events instead of being silently
// dropped.
type AttemptService struct {
	attempts        repository.AttemptRepository
	events          repository.EventRepository
	timers          repository.TimerRepository
	maxCallDuration time.Duration
	metrics         *observability.Metrics
	logger          *zap.Logger

	// locks serializes transitions per attempt so the anomalous-event path
	// observes a settled state. The database conditional update remains the
	// real guard.
	locks [attemptLockStripes]sync.Mutex
}

func NewAttemptService(
	attempts repository.AttemptRepository,
	events repository.EventRepository,
	timers repository.TimerRepository,
	maxCallDuration time.Duration,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*AttemptService, error) {
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if events == nil {
		return nil, fmt.Errorf("event repository is required")
	}
	if timers == nil {
		return nil, fmt.Errorf("timer repository is required")
	}
	if maxCallDuration <= 0 {
		maxCallDuration = defaultMaxCallDuration
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AttemptService{
		attempts:        attempts,
		events:          events,
		timers:          timers,
		maxCallDuration: maxCallDuration,
		metrics:         metrics,
		logger:          logger,
	}, nil
}

func (s *AttemptService) lockFor(attemptID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(attemptID))
	return &s.locks[h.Sum32()%attemptLockStripes]
}

type createdPayload struct {
	CampaignID string `json:"campaignId"`
	LeadID     string `json:"leadId"`
	TrunkID    string `json:"trunkId"`
	Phone      string `json:"phone"`
}

// Create inserts a new QUEUED attempt together with its ATTEMPT_CREATED event.
func (s *AttemptService) Create(ctx context.Context, attempt *domain.CallAttempt) (*domain.CallAttempt, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if attempt == nil {
		return nil, fmt.Errorf("%w: attempt is required", domain.ErrValidation)
	}

	attempt.ID = strings.TrimSpace(attempt.ID)
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	attempt.State = domain.StateQueued
	if attempt.SIPCodes == nil {
		attempt.SIPCodes = []int{}
	}

	if err := attempt.Validate(); err != nil {
		return nil, err
	}

	event, err := s.newEvent(attempt.ID, domain.EventAttemptCreated, createdPayload{
		CampaignID: attempt.CampaignID,
		LeadID:     attempt.LeadID,
		TrunkID:    attempt.TrunkID,
		Phone:      attempt.Phone,
	})
	if err != nil {
		return nil, err
	}

	if err := s.attempts.Create(ctx, attempt, event); err != nil {
		return nil, err
	}

	observability.WithContextLogger(s.logger, ctx).Info("call attempt created",
		zap.String("attemptId", attempt.ID),
		zap.String("campaignId", attempt.CampaignID),
		zap.String("trunkId", attempt.TrunkID),
	)
	return attempt, nil
}

type transitionPayload struct {
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

type anomalousPayload struct {
	AttemptedState string `json:"attemptedState"`
	CurrentState   string `json:"currentState"`
	Reason         string `json:"reason,omitempty"`
}

// Transition moves the attempt to a new state. On success, arriving at a
// terminal state cancels any live timers; arriving at CONNECTED retires the
// dialing-phase timers and arms the max-duration safety net. A transition
// attempted against an already terminal attempt appends an
// ANOMALOUS_TRANSITION event and still returns the error to the caller.
func (s *AttemptService) Transition(ctx context.Context, id string, to domain.AttemptState, reason string) (*domain.CallAttempt, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: attempt id is required", domain.ErrValidation)
	}
	if !to.IsValid() {
		return nil, fmt.Errorf("%w: invalid attempt state %q", domain.ErrValidation, to)
	}

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	event, err := s.newEvent(id, domain.EventStateChanged, transitionPayload{To: to.String(), Reason: reason})
	if err != nil {
		return nil, err
	}

	if err := s.attempts.Transition(ctx, id, to, event); err != nil {
		if errors.Is(err, domain.ErrTerminalState) {
			s.recordAnomalousTransition(ctx, id, to, reason)
		}
		return nil, err
	}

	s.metrics.IncStateTransition(to.String())

	switch {
	case to.IsTerminal():
		if _, cancelErr := s.timers.Cancel(ctx, id, nil); cancelErr != nil {
			observability.WithContextLogger(s.logger, ctx).Error("failed to cancel timers on terminal transition",
				zap.String("attemptId", id),
				zap.Error(cancelErr),
			)
		}
	case to == domain.StateConnected:
		s.onConnected(ctx, id)
	}

	return s.attempts.GetByID(ctx, id)
}

// onConnected retires the dialing-phase timers and arms MAX_DURATION so a
// lost hangup event cannot strand the attempt in CONNECTED. Resuming from
// ON_HOLD keeps the original deadline: an already live MAX_DURATION timer is
// left alone.
func (s *AttemptService) onConnected(ctx context.Context, id string) {
	logger := observability.WithContextLogger(s.logger, ctx).With(zap.String("attemptId", id))

	for _, timerType := range []domain.TimerType{domain.TimerRingTimeout, domain.TimerNoAnswer} {
		if _, err := s.timers.Cancel(ctx, id, &timerType); err != nil {
			logger.Error("failed to cancel dialing-phase timer on connect",
				zap.String("timerType", timerType.String()),
				zap.Error(err),
			)
		}
	}

	existing, err := s.timers.ListByAttempt(ctx, id)
	if err != nil {
		logger.Error("failed to list timers on connect", zap.Error(err))
	}
	for i := range existing {
		if existing[i].Type == domain.TimerMaxDuration && !existing[i].IsTerminal() {
			return
		}
	}

	timer := &domain.AttemptTimer{
		ID:        uuid.NewString(),
		AttemptID: id,
		Type:      domain.TimerMaxDuration,
		FireAt:    time.Now().UTC().Add(s.maxCallDuration),
	}
	if err := s.timers.Arm(ctx, timer); err != nil {
		logger.Error("failed to arm max-duration timer on connect", zap.Error(err))
	}
}

// recordAnomalousTransition logs a rejected transition against a terminal
// attempt. Best effort: the caller already gets the rejection error.
func (s *AttemptService) recordAnomalousTransition(ctx context.Context, id string, to domain.AttemptState, reason string) {
	current := "unknown"
	if attempt, getErr := s.attempts.GetByID(ctx, id); getErr == nil {
		current = attempt.State.String()
	}

	event, err := s.newEvent(id, domain.EventAnomalousTransition, anomalousPayload{
		AttemptedState: to.String(),
		CurrentState:   current,
		Reason:         reason,
	})
	if err == nil {
		err = s.events.Append(ctx, event)
	}
	if err != nil {
		observability.WithContextLogger(s.logger, ctx).Error("failed to record anomalous transition",
			zap.String("attemptId", id),
			zap.Error(err),
		)
		return
	}

	s.metrics.IncAnomalousTransition(to.String())
	observability.WithContextLogger(s.logger, ctx).Warn("anomalous transition on terminal attempt",
		zap.String("attemptId", id),
		zap.String("attemptedState", to.String()),
		zap.String("currentState", current),
	)
}

type sipCodePayload struct {
	Code int `json:"code"`
}

// RecordSIPCode appends a SIP status code to the attempt's diagnostic list.
// Codes never drive transitions here; hangup classification reads them later.
func (s *AttemptService) RecordSIPCode(ctx context.Context, id string, code int) (*domain.CallAttempt, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: attempt id is required", domain.ErrValidation)
	}
	if code < 100 || code > 699 {
		return nil, fmt.Errorf("%w: sip code must be within 100-699, got %d", domain.ErrValidation, code)
	}

	event, err := s.newEvent(id, domain.EventSIPCodeReceived, sipCodePayload{Code: code})
	if err != nil {
		return nil, err
	}

	if err := s.attempts.AppendSIPCode(ctx, id, code, event); err != nil {
		return nil, err
	}

	return s.attempts.GetByID(ctx, id)
}

// Hangup classifies a hangup-before-answer by the last observed SIP code and
// applies the resulting terminal transition. Hangups on connected calls should
// use a plain ENDED transition instead.
func (s *AttemptService) Hangup(ctx context.Context, id string) (*domain.CallAttempt, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	attempt, err := s.attempts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	target := domain.StateEnded
	if attempt.State != domain.StateConnected && attempt.State != domain.StateOnHold {
		target = attempt.HangupState()
	}

	return s.Transition(ctx, id, target, "hangup")
}

// SetCorrelationID binds the signaling-layer call id once the gateway reports
// it, and logs a SIGNAL_RECEIVED event.
func (s *AttemptService) SetCorrelationID(ctx context.Context, id string, correlationID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		return fmt.Errorf("%w: correlation id is required", domain.ErrValidation)
	}

	if err := s.attempts.SetCorrelationID(ctx, id, correlationID); err != nil {
		return err
	}

	event, err := s.newEvent(id, domain.EventSignalReceived, map[string]string{"correlationId": correlationID})
	if err == nil {
		err = s.events.Append(ctx, event)
	}
	if err != nil {
		observability.WithContextLogger(s.logger, ctx).Error("failed to record signal event",
			zap.String("attemptId", id),
			zap.Error(err),
		)
	}
	return nil
}

// AppendEvent writes a caller-supplied entry to the attempt log. The payload
// must be a JSON document; empty defaults to {}.
func (s *AttemptService) AppendEvent(ctx context.Context, attemptID string, eventType domain.EventType, payload string) (*domain.AttemptEvent, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	attemptID = strings.TrimSpace(attemptID)
	if attemptID == "" {
		return nil, fmt.Errorf("%w: attempt id is required", domain.ErrValidation)
	}
	if !eventType.IsValid() {
		return nil, fmt.Errorf("%w: invalid event type %q", domain.ErrValidation, eventType)
	}
	payload = strings.TrimSpace(payload)
	if payload == "" {
		payload = "{}"
	}
	if !json.Valid([]byte(payload)) {
		return nil, fmt.Errorf("%w: payload must be valid JSON", domain.ErrValidation)
	}

	event := &domain.AttemptEvent{
		ID:        uuid.NewString(),
		AttemptID: attemptID,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.events.Append(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *AttemptService) GetByID(ctx context.Context, id string) (*domain.CallAttempt, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: attempt id is required", domain.ErrValidation)
	}
	return s.attempts.GetByID(ctx, strings.TrimSpace(id))
}

func (s *AttemptService) GetByCorrelationID(ctx context.Context, correlationID string) (*domain.CallAttempt, error) {
	if strings.TrimSpace(correlationID) == "" {
		return nil, fmt.Errorf("%w: correlation id is required", domain.ErrValidation)
	}
	return s.attempts.GetByCorrelationID(ctx, strings.TrimSpace(correlationID))
}

func (s *AttemptService) ListActive(ctx context.Context, campaignID string) ([]domain.CallAttempt, error) {
	return s.attempts.ListActive(ctx, strings.TrimSpace(campaignID))
}

func (s *AttemptService) ListEvents(ctx context.Context, attemptID string) ([]domain.AttemptEvent, error) {
	if strings.TrimSpace(attemptID) == "" {
		return nil, fmt.Errorf("%w: attempt id is required", domain.ErrValidation)
	}
	return s.events.ListByAttempt(ctx, strings.TrimSpace(attemptID))
}

func (s *AttemptService) newEvent(attemptID string, eventType domain.EventType, payload any) (*domain.AttemptEvent, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	return &domain.AttemptEvent{
		ID:        uuid.NewString(),
		AttemptID: attemptID,
		Type:      eventType,
		Payload:   string(body),
		CreatedAt: time.Now().UTC(),
	}, nil
}
