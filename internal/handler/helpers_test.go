package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dialware/dialer-engine/internal/domain"
	"github.com/dialware/dialer-engine/internal/ratelimit"
	"github.com/dialware/dialer-engine/internal/repository"
	"github.com/dialware/dialer-engine/internal/service"
	"github.com/dialware/dialer-engine/internal/transport"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()

	return fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

type stubAttemptService struct {
	createFn             func(ctx context.Context, attempt *domain.CallAttempt) (*domain.CallAttempt, error)
	transitionFn         func(ctx context.Context, id string, to domain.AttemptState, reason string) (*domain.CallAttempt, error)
	recordSIPCodeFn      func(ctx context.Context, id string, code int) (*domain.CallAttempt, error)
	hangupFn             func(ctx context.Context, id string) (*domain.CallAttempt, error)
	appendEventFn        func(ctx context.Context, attemptID string, eventType domain.EventType, payload string) (*domain.AttemptEvent, error)
	getByIDFn            func(ctx context.Context, id string) (*domain.CallAttempt, error)
	getByCorrelationIDFn func(ctx context.Context, correlationID string) (*domain.CallAttempt, error)
	listActiveFn         func(ctx context.Context, campaignID string) ([]domain.CallAttempt, error)
	listEventsFn         func(ctx context.Context, attemptID string) ([]domain.AttemptEvent, error)
}

func (s *stubAttemptService) Create(ctx context.Context, attempt *domain.CallAttempt) (*domain.CallAttempt, error) {
	if s.createFn != nil {
		return s.createFn(ctx, attempt)
	}
	return nil, errors.New("not implemented")
}

func (s *stubAttemptService) Transition(ctx context.Context, id string, to domain.AttemptState, reason string) (*domain.CallAttempt, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, id, to, reason)
	}
	return nil, errors.New("not implemented")
}

func (s *stubAttemptService) RecordSIPCode(ctx context.Context, id string, code int) (*domain.CallAttempt, error) {
	if s.recordSIPCodeFn != nil {
		return s.recordSIPCodeFn(ctx, id, code)
	}
	return nil, errors.New("not implemented")
}

func (s *stubAttemptService) Hangup(ctx context.Context, id string) (*domain.CallAttempt, error) {
	if s.hangupFn != nil {
		return s.hangupFn(ctx, id)
	}
	return nil, errors.New("not implemented")
}

func (s *stubAttemptService) AppendEvent(ctx context.Context, attemptID string, eventType domain.EventType, payload string) (*domain.AttemptEvent, error) {
	if s.appendEventFn != nil {
		return s.appendEventFn(ctx, attemptID, eventType, payload)
	}
	return nil, errors.New("not implemented")
}

func (s *stubAttemptService) GetByID(ctx context.Context, id string) (*domain.CallAttempt, error) {
	if s.getByIDFn != nil {
		return s.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubAttemptService) GetByCorrelationID(ctx context.Context, correlationID string) (*domain.CallAttempt, error) {
	if s.getByCorrelationIDFn != nil {
		return s.getByCorrelationIDFn(ctx, correlationID)
	}
	return nil, domain.ErrNotFound
}

func (s *stubAttemptService) ListActive(ctx context.Context, campaignID string) ([]domain.CallAttempt, error) {
	if s.listActiveFn != nil {
		return s.listActiveFn(ctx, campaignID)
	}
	return nil, nil
}

func (s *stubAttemptService) ListEvents(ctx context.Context, attemptID string) ([]domain.AttemptEvent, error) {
	if s.listEventsFn != nil {
		return s.listEventsFn(ctx, attemptID)
	}
	return nil, nil
}

type stubDialerService struct {
	reserveLeadsFn   func(ctx context.Context, campaignID string, limit int) ([]domain.Lead, error)
	cancelCampaignFn func(ctx context.Context, campaignID string) error
}

func (s *stubDialerService) ReserveLeads(ctx context.Context, campaignID string, limit int) ([]domain.Lead, error) {
	if s.reserveLeadsFn != nil {
		return s.reserveLeadsFn(ctx, campaignID, limit)
	}
	return nil, errors.New("not implemented")
}

func (s *stubDialerService) CancelCampaign(ctx context.Context, campaignID string) error {
	if s.cancelCampaignFn != nil {
		return s.cancelCampaignFn(ctx, campaignID)
	}
	return errors.New("not implemented")
}

type stubTimerControl struct {
	armFn            func(ctx context.Context, attemptID string, timerType domain.TimerType, fireAt time.Time) (*domain.AttemptTimer, error)
	cancelFn         func(ctx context.Context, attemptID string, timerType *domain.TimerType) (int64, error)
	processExpiredFn func(ctx context.Context, now time.Time, limit int) ([]string, error)
}

func (s *stubTimerControl) Arm(ctx context.Context, attemptID string, timerType domain.TimerType, fireAt time.Time) (*domain.AttemptTimer, error) {
	if s.armFn != nil {
		return s.armFn(ctx, attemptID, timerType, fireAt)
	}
	return nil, errors.New("not implemented")
}

func (s *stubTimerControl) Cancel(ctx context.Context, attemptID string, timerType *domain.TimerType) (int64, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, attemptID, timerType)
	}
	return 0, nil
}

func (s *stubTimerControl) ProcessExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if s.processExpiredFn != nil {
		return s.processExpiredFn(ctx, now, limit)
	}
	return nil, nil
}

type stubTrunkDirectory struct {
	listEnabledFn func(ctx context.Context) ([]domain.TrunkConfig, error)
}

func (s *stubTrunkDirectory) ListEnabled(ctx context.Context) ([]domain.TrunkConfig, error) {
	if s.listEnabledFn != nil {
		return s.listEnabledFn(ctx)
	}
	return nil, nil
}

type stubLimiter struct {
	tryConsumeFn func(ctx context.Context, trunkID string, tokens float64) (ratelimit.Decision, error)
}

func (s *stubLimiter) TryConsume(ctx context.Context, trunkID string, tokens float64) (ratelimit.Decision, error) {
	if s.tryConsumeFn != nil {
		return s.tryConsumeFn(ctx, trunkID, tokens)
	}
	return ratelimit.Decision{Allowed: true, Remaining: 1}, nil
}

type stubQualityService struct {
	reportSampleFn      func(ctx context.Context, input service.SampleInput) (*service.SampleReport, error)
	getAggregateFn      func(ctx context.Context, callID string) (*domain.QualityAggregate, error)
	listSamplesFn       func(ctx context.Context, callID string, limit int) ([]domain.QualitySample, error)
	listAlertsFn        func(ctx context.Context, params repository.AlertListParams) ([]domain.QualityAlert, error)
	acknowledgeAlertFn  func(ctx context.Context, id string, by string) (bool, error)
	getCarrierQualityFn func(ctx context.Context, carrierID string, window time.Duration) (*repository.CarrierQuality, error)
	getDashboardDataFn  func(ctx context.Context, accountID string, window time.Duration) (*repository.DashboardData, error)
}

func (s *stubQualityService) ReportSample(ctx context.Context, input service.SampleInput) (*service.SampleReport, error) {
	if s.reportSampleFn != nil {
		return s.reportSampleFn(ctx, input)
	}
	return nil, errors.New("not implemented")
}

func (s *stubQualityService) GetAggregate(ctx context.Context, callID string) (*domain.QualityAggregate, error) {
	if s.getAggregateFn != nil {
		return s.getAggregateFn(ctx, callID)
	}
	return nil, domain.ErrNotFound
}

func (s *stubQualityService) ListSamples(ctx context.Context, callID string, limit int) ([]domain.QualitySample, error) {
	if s.listSamplesFn != nil {
		return s.listSamplesFn(ctx, callID, limit)
	}
	return nil, nil
}

func (s *stubQualityService) ListAlerts(ctx context.Context, params repository.AlertListParams) ([]domain.QualityAlert, error) {
	if s.listAlertsFn != nil {
		return s.listAlertsFn(ctx, params)
	}
	return nil, nil
}

func (s *stubQualityService) AcknowledgeAlert(ctx context.Context, id string, by string) (bool, error) {
	if s.acknowledgeAlertFn != nil {
		return s.acknowledgeAlertFn(ctx, id, by)
	}
	return false, errors.New("not implemented")
}

func (s *stubQualityService) GetCarrierQuality(ctx context.Context, carrierID string, window time.Duration) (*repository.CarrierQuality, error) {
	if s.getCarrierQualityFn != nil {
		return s.getCarrierQualityFn(ctx, carrierID, window)
	}
	return nil, domain.ErrNotFound
}

func (s *stubQualityService) GetDashboardData(ctx context.Context, accountID string, window time.Duration) (*repository.DashboardData, error) {
	if s.getDashboardDataFn != nil {
		return s.getDashboardDataFn(ctx, accountID, window)
	}
	return nil, domain.ErrNotFound
}
