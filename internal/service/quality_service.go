package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dialware/dialer-engine/internal/domain"
	"github.com/dialware/dialer-engine/internal/observability"
	"github.com/dialware/dialer-engine/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SampleInput is one raw RTP/WebRTC statistics report.
type SampleInput struct {
	CallID        string
	CarrierID     string
	TrunkID       string
	AccountID     string
	JitterMs      float64
	PacketLossPct float64
	RTTMs         float64
	PacketsSent   int64
	PacketsLost   int64
}

// SampleReport is what a sample submission returns: the scored sample, the
// updated per-call rollup, and how many alerts were raised.
type SampleReport struct {
	Sample        domain.QualitySample
	Aggregate     *domain.QualityAggregate
	MOS           float64
	Status        domain.QualityStatus
	AlertsCreated int
}

// QualityService scores samples, maintains per-call aggregates, and raises
// threshold alerts. Sample persistence is the primary write; alert and
// aggregate failures degrade to logs and never fail the report.
type QualityService struct {
	quality    repository.QualityRepository
	thresholds domain.Thresholds
	metrics    *observability.Metrics
	logger     *zap.Logger
}

func NewQualityService(
	quality repository.QualityRepository,
	thresholds domain.Thresholds,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*QualityService, error) {
	if quality == nil {
		return nil, fmt.Errorf("quality repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &QualityService{
		quality:    quality,
		thresholds: thresholds,
		metrics:    metrics,
		logger:     logger,
	}, nil
}

// ReportSample scores and persists one sample. Thresholds compare against the
// unrounded MOS; the stored score is rounded to one decimal.
func (s *QualityService) ReportSample(ctx context.Context, input SampleInput) (*SampleReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	rawMOS := domain.ComputeMOS(input.JitterMs, input.PacketLossPct, input.RTTMs)

	sample := domain.QualitySample{
		ID:            uuid.NewString(),
		CallID:        strings.TrimSpace(input.CallID),
		CarrierID:     strings.TrimSpace(input.CarrierID),
		TrunkID:       strings.TrimSpace(input.TrunkID),
		AccountID:     strings.TrimSpace(input.AccountID),
		JitterMs:      input.JitterMs,
		PacketLossPct: input.PacketLossPct,
		RTTMs:         input.RTTMs,
		PacketsSent:   input.PacketsSent,
		PacketsLost:   input.PacketsLost,
		MOS:           domain.RoundMOS(rawMOS),
		Status:        domain.QualityStatusForMOS(rawMOS),
		CreatedAt:     time.Now().UTC(),
	}
	if err := sample.Validate(); err != nil {
		return nil, err
	}

	if err := s.quality.InsertSample(ctx, &sample); err != nil {
		return nil, fmt.Errorf("failed to persist quality sample: %w", err)
	}

	s.metrics.ObserveMOS(sample.CarrierID, rawMOS)

	logger := observability.WithContextLogger(s.logger, ctx)

	aggregate, err := s.quality.UpsertAggregate(ctx, &sample)
	if err != nil {
		logger.Error("failed to update quality aggregate",
			zap.String("callId", sample.CallID),
			zap.Error(err),
		)
		aggregate = nil
	}

	alertsCreated := s.raiseAlerts(ctx, sample, rawMOS)

	return &SampleReport{
		Sample:        sample,
		Aggregate:     aggregate,
		MOS:           sample.MOS,
		Status:        sample.Status,
		AlertsCreated: alertsCreated,
	}, nil
}

func (s *QualityService) raiseAlerts(ctx context.Context, sample domain.QualitySample, rawMOS float64) int {
	breaches := s.thresholds.Evaluate(sample.JitterMs, sample.PacketLossPct, sample.RTTMs, rawMOS)
	if len(breaches) == 0 {
		return 0
	}

	logger := observability.WithContextLogger(s.logger, ctx)
	created := 0
	for _, breach := range breaches {
		alert := domain.QualityAlert{
			ID:        uuid.NewString(),
			AccountID: sample.AccountID,
			CarrierID: sample.CarrierID,
			TrunkID:   sample.TrunkID,
			CallID:    sample.CallID,
			Metric:    breach.Metric,
			Severity:  breach.Severity,
			Threshold: breach.Threshold,
			Observed:  breach.Observed,
			Message:   breach.Message(),
			CreatedAt: time.Now().UTC(),
		}

		if err := s.quality.CreateAlert(ctx, &alert); err != nil {
			logger.Error("failed to create quality alert",
				zap.String("callId", sample.CallID),
				zap.String("metric", string(breach.Metric)),
				zap.Error(err),
			)
			continue
		}

		created++
		s.metrics.IncQualityAlert(string(breach.Metric), string(breach.Severity))
		logger.Warn("quality alert raised",
			zap.String("callId", sample.CallID),
			zap.String("metric", string(breach.Metric)),
			zap.String("severity", string(breach.Severity)),
			zap.Float64("observed", breach.Observed),
			zap.Float64("threshold", breach.Threshold),
		)
	}

	return created
}

// AcknowledgeAlert marks an alert acknowledged. Acknowledging twice reports
// acknowledged=false the second time without an error.
func (s *QualityService) AcknowledgeAlert(ctx context.Context, id string, by string) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return false, fmt.Errorf("%w: alert id is required", domain.ErrValidation)
	}
	by = strings.TrimSpace(by)
	if by == "" {
		by = "system"
	}

	return s.quality.AcknowledgeAlert(ctx, id, by, time.Now().UTC())
}

func (s *QualityService) GetAggregate(ctx context.Context, callID string) (*domain.QualityAggregate, error) {
	if strings.TrimSpace(callID) == "" {
		return nil, fmt.Errorf("%w: call id is required", domain.ErrValidation)
	}
	return s.quality.GetAggregate(ctx, strings.TrimSpace(callID))
}

func (s *QualityService) ListSamples(ctx context.Context, callID string, limit int) ([]domain.QualitySample, error) {
	if strings.TrimSpace(callID) == "" {
		return nil, fmt.Errorf("%w: call id is required", domain.ErrValidation)
	}
	return s.quality.ListSamples(ctx, strings.TrimSpace(callID), limit)
}

func (s *QualityService) ListAlerts(ctx context.Context, params repository.AlertListParams) ([]domain.QualityAlert, error) {
	return s.quality.ListAlerts(ctx, params)
}

func (s *QualityService) GetCarrierQuality(ctx context.Context, carrierID string, window time.Duration) (*repository.CarrierQuality, error) {
	if strings.TrimSpace(carrierID) == "" {
		return nil, fmt.Errorf("%w: carrier id is required", domain.ErrValidation)
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	return s.quality.GetCarrierQuality(ctx, strings.TrimSpace(carrierID), time.Now().UTC().Add(-window))
}

func (s *QualityService) GetDashboardData(ctx context.Context, accountID string, window time.Duration) (*repository.DashboardData, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, fmt.Errorf("%w: account id is required", domain.ErrValidation)
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	return s.quality.GetDashboardData(ctx, strings.TrimSpace(accountID), time.Now().UTC().Add(-window))
}
