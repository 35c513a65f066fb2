package service

import (
	"context"
	"time"

	"github.com/dialware/dialer-engine/internal/domain"
	"github.com/dialware/dialer-engine/internal/queue"
	"github.com/dialware/dialer-engine/internal/ratelimit"
	"github.com/dialware/dialer-engine/internal/repository"
	"github.com/dialware/dialer-engine/internal/signaling"
)

type fakeAttemptRepo struct {
	createFn             func(ctx context.Context, a *domain.CallAttempt, event *domain.AttemptEvent) error
	getByIDFn            func(ctx context.Context, id string) (*domain.CallAttempt, error)
	getByCorrelationIDFn func(ctx context.Context, correlationID string) (*domain.CallAttempt, error)
	listActiveFn         func(ctx context.Context, campaignID string) ([]domain.CallAttempt, error)
	setCorrelationIDFn   func(ctx context.Context, id string, correlationID string) error
	transitionFn         func(ctx context.Context, id string, to domain.AttemptState, event *domain.AttemptEvent) error
	appendSIPCodeFn      func(ctx context.Context, id string, code int, event *domain.AttemptEvent) error
}

func (f *fakeAttemptRepo) Create(ctx context.Context, a *domain.CallAttempt, event *domain.AttemptEvent) error {
	if f.createFn != nil {
		return f.createFn(ctx, a, event)
	}
	return nil
}

func (f *fakeAttemptRepo) GetByID(ctx context.Context, id string) (*domain.CallAttempt, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return &domain.CallAttempt{ID: id, State: domain.StateQueued}, nil
}

func (f *fakeAttemptRepo) GetByCorrelationID(ctx context.Context, correlationID string) (*domain.CallAttempt, error) {
	if f.getByCorrelationIDFn != nil {
		return f.getByCorrelationIDFn(ctx, correlationID)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeAttemptRepo) ListActive(ctx context.Context, campaignID string) ([]domain.CallAttempt, error) {
	if f.listActiveFn != nil {
		return f.listActiveFn(ctx, campaignID)
	}
	return nil, nil
}

func (f *fakeAttemptRepo) SetCorrelationID(ctx context.Context, id string, correlationID string) error {
	if f.setCorrelationIDFn != nil {
		return f.setCorrelationIDFn(ctx, id, correlationID)
	}
	return nil
}

func (f *fakeAttemptRepo) Transition(ctx context.Context, id string, to domain.AttemptState, event *domain.AttemptEvent) error {
	if f.transitionFn != nil {
		return f.transitionFn(ctx, id, to, event)
	}
	return nil
}

func (f *fakeAttemptRepo) AppendSIPCode(ctx context.Context, id string, code int, event *domain.AttemptEvent) error {
	if f.appendSIPCodeFn != nil {
		return f.appendSIPCodeFn(ctx, id, code, event)
	}
	return nil
}

type fakeEventRepo struct {
	appendFn        func(ctx context.Context, e *domain.AttemptEvent) error
	listByAttemptFn func(ctx context.Context, attemptID string) ([]domain.AttemptEvent, error)
}

func (f *fakeEventRepo) Append(ctx context.Context, e *domain.AttemptEvent) error {
	if f.appendFn != nil {
		return f.appendFn(ctx, e)
	}
	return nil
}

func (f *fakeEventRepo) ListByAttempt(ctx context.Context, attemptID string) ([]domain.AttemptEvent, error) {
	if f.listByAttemptFn != nil {
		return f.listByAttemptFn(ctx, attemptID)
	}
	return nil, nil
}

type fakeTimerRepo struct {
	armFn           func(ctx context.Context, t *domain.AttemptTimer) error
	cancelFn        func(ctx context.Context, attemptID string, timerType *domain.TimerType) (int64, error)
	claimDueFn      func(ctx context.Context, now time.Time, limit int) ([]domain.AttemptTimer, error)
	listByAttemptFn func(ctx context.Context, attemptID string) ([]domain.AttemptTimer, error)
}

func (f *fakeTimerRepo) Arm(ctx context.Context, t *domain.AttemptTimer) error {
	if f.armFn != nil {
		return f.armFn(ctx, t)
	}
	return nil
}

func (f *fakeTimerRepo) Cancel(ctx context.Context, attemptID string, timerType *domain.TimerType) (int64, error) {
	if f.cancelFn != nil {
		return f.cancelFn(ctx, attemptID, timerType)
	}
	return 0, nil
}

func (f *fakeTimerRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.AttemptTimer, error) {
	if f.claimDueFn != nil {
		return f.claimDueFn(ctx, now, limit)
	}
	return nil, nil
}

func (f *fakeTimerRepo) ListByAttempt(ctx context.Context, attemptID string) ([]domain.AttemptTimer, error) {
	if f.listByAttemptFn != nil {
		return f.listByAttemptFn(ctx, attemptID)
	}
	return nil, nil
}

type fakeLeadRepo struct {
	reserveFn       func(ctx context.Context, campaignID string, accountID string, limit int) ([]domain.Lead, error)
	releaseFn       func(ctx context.Context, leadIDs []string) error
	markAttemptedFn func(ctx context.Context, leadID string) error
}

func (f *fakeLeadRepo) Reserve(ctx context.Context, campaignID string, accountID string, limit int) ([]domain.Lead, error) {
	if f.reserveFn != nil {
		return f.reserveFn(ctx, campaignID, accountID, limit)
	}
	return nil, nil
}

func (f *fakeLeadRepo) Release(ctx context.Context, leadIDs []string) error {
	if f.releaseFn != nil {
		return f.releaseFn(ctx, leadIDs)
	}
	return nil
}

func (f *fakeLeadRepo) MarkAttempted(ctx context.Context, leadID string) error {
	if f.markAttemptedFn != nil {
		return f.markAttemptedFn(ctx, leadID)
	}
	return nil
}

type fakeCampaignRepo struct {
	getByIDFn      func(ctx context.Context, id string) (*domain.Campaign, error)
	listDialableFn func(ctx context.Context) ([]domain.Campaign, error)
	cancelFn       func(ctx context.Context, id string) error
}

func (f *fakeCampaignRepo) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeCampaignRepo) ListDialable(ctx context.Context) ([]domain.Campaign, error) {
	if f.listDialableFn != nil {
		return f.listDialableFn(ctx)
	}
	return nil, nil
}

func (f *fakeCampaignRepo) Cancel(ctx context.Context, id string) error {
	if f.cancelFn != nil {
		return f.cancelFn(ctx, id)
	}
	return nil
}

type fakeTrunkRepo struct {
	getByIDFn     func(ctx context.Context, id string) (*domain.TrunkConfig, error)
	listEnabledFn func(ctx context.Context) ([]domain.TrunkConfig, error)
}

func (f *fakeTrunkRepo) GetByID(ctx context.Context, id string) (*domain.TrunkConfig, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeTrunkRepo) ListEnabled(ctx context.Context) ([]domain.TrunkConfig, error) {
	if f.listEnabledFn != nil {
		return f.listEnabledFn(ctx)
	}
	return nil, nil
}

type fakeQualityRepo struct {
	insertSampleFn     func(ctx context.Context, s *domain.QualitySample) error
	upsertAggregateFn  func(ctx context.Context, s *domain.QualitySample) (*domain.QualityAggregate, error)
	getAggregateFn     func(ctx context.Context, callID string) (*domain.QualityAggregate, error)
	listSamplesFn      func(ctx context.Context, callID string, limit int) ([]domain.QualitySample, error)
	createAlertFn      func(ctx context.Context, a *domain.QualityAlert) error
	acknowledgeAlertFn func(ctx context.Context, id string, by string, at time.Time) (bool, error)
	listAlertsFn       func(ctx context.Context, params repository.AlertListParams) ([]domain.QualityAlert, error)
	carrierQualityFn   func(ctx context.Context, carrierID string, since time.Time) (*repository.CarrierQuality, error)
	dashboardFn        func(ctx context.Context, accountID string, since time.Time) (*repository.DashboardData, error)
}

func (f *fakeQualityRepo) InsertSample(ctx context.Context, s *domain.QualitySample) error {
	if f.insertSampleFn != nil {
		return f.insertSampleFn(ctx, s)
	}
	return nil
}

func (f *fakeQualityRepo) UpsertAggregate(ctx context.Context, s *domain.QualitySample) (*domain.QualityAggregate, error) {
	if f.upsertAggregateFn != nil {
		return f.upsertAggregateFn(ctx, s)
	}
	return &domain.QualityAggregate{CallID: s.CallID, SampleCount: 1}, nil
}

func (f *fakeQualityRepo) GetAggregate(ctx context.Context, callID string) (*domain.QualityAggregate, error) {
	if f.getAggregateFn != nil {
		return f.getAggregateFn(ctx, callID)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeQualityRepo) ListSamples(ctx context.Context, callID string, limit int) ([]domain.QualitySample, error) {
	if f.listSamplesFn != nil {
		return f.listSamplesFn(ctx, callID, limit)
	}
	return nil, nil
}

func (f *fakeQualityRepo) CreateAlert(ctx context.Context, a *domain.QualityAlert) error {
	if f.createAlertFn != nil {
		return f.createAlertFn(ctx, a)
	}
	return nil
}

func (f *fakeQualityRepo) AcknowledgeAlert(ctx context.Context, id string, by string, at time.Time) (bool, error) {
	if f.acknowledgeAlertFn != nil {
		return f.acknowledgeAlertFn(ctx, id, by, at)
	}
	return true, nil
}

func (f *fakeQualityRepo) ListAlerts(ctx context.Context, params repository.AlertListParams) ([]domain.QualityAlert, error) {
	if f.listAlertsFn != nil {
		return f.listAlertsFn(ctx, params)
	}
	return nil, nil
}

func (f *fakeQualityRepo) GetCarrierQuality(ctx context.Context, carrierID string, since time.Time) (*repository.CarrierQuality, error) {
	if f.carrierQualityFn != nil {
		return f.carrierQualityFn(ctx, carrierID, since)
	}
	return &repository.CarrierQuality{CarrierID: carrierID}, nil
}

func (f *fakeQualityRepo) GetDashboardData(ctx context.Context, accountID string, since time.Time) (*repository.DashboardData, error) {
	if f.dashboardFn != nil {
		return f.dashboardFn(ctx, accountID, since)
	}
	return &repository.DashboardData{}, nil
}

type fakePublisher struct {
	publishFn func(ctx context.Context, queueName string, msg queue.DialJobMessage) error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.DialJobMessage) error {
	if f.publishFn != nil {
		return f.publishFn(ctx, queueName, msg)
	}
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

type fakeLimiter struct {
	tryConsumeFn func(ctx context.Context, trunkID string, tokens float64) (ratelimit.Decision, error)
}

func (f *fakeLimiter) TryConsume(ctx context.Context, trunkID string, tokens float64) (ratelimit.Decision, error) {
	if f.tryConsumeFn != nil {
		return f.tryConsumeFn(ctx, trunkID, tokens)
	}
	return ratelimit.Decision{Allowed: true, Remaining: 1}, nil
}

type fakeGateway struct {
	placeCallFn func(ctx context.Context, req signaling.DialRequest) (*signaling.DialResponse, error)
}

func (f *fakeGateway) PlaceCall(ctx context.Context, req signaling.DialRequest) (*signaling.DialResponse, error) {
	if f.placeCallFn != nil {
		return f.placeCallFn(ctx, req)
	}
	return &signaling.DialResponse{StatusCode: 202, CallID: "call-1"}, nil
}

func newTestAttemptService(t interface{ Fatalf(string, ...any) }, attempts *fakeAttemptRepo, events *fakeEventRepo, timers *fakeTimerRepo) *AttemptService {
	svc, err := NewAttemptService(attempts, events, timers, 0, nil, nil)
	if err != nil {
		t.Fatalf("NewAttemptService() error = %v", err)
	}
	return svc
}
