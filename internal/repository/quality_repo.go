package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dialware/dialer-engine/internal/domain"
	"gorm.io/gorm"
)

// AlertListParams filters alert listings.
type AlertListParams struct {
	AccountID    string
	CarrierID    string
	TrunkID      string
	Severity     *domain.AlertSeverity
	Acknowledged *bool
	Limit        int
}

// CarrierQuality is the per-carrier rollup served to operators.
type CarrierQuality struct {
	CarrierID   string  `gorm:"column:carrier_id"`
	SampleCount int64   `gorm:"column:sample_count"`
	AvgMOS      float64 `gorm:"column:avg_mos"`
	AvgJitterMs float64 `gorm:"column:avg_jitter_ms"`
	AvgRTTMs    float64 `gorm:"column:avg_rtt_ms"`
	AvgLossPct  float64 `gorm:"column:avg_loss_pct"`
	OpenAlerts  int64   `gorm:"column:open_alerts"`
}

// DashboardData is the account-wide quality summary.
type DashboardData struct {
	SampleCount    int64   `gorm:"column:sample_count"`
	AvgMOS         float64 `gorm:"column:avg_mos"`
	OpenWarnings   int64   `gorm:"column:open_warnings"`
	OpenCriticals  int64   `gorm:"column:open_criticals"`
	MonitoredCalls int64   `gorm:"column:monitored_calls"`
}

type QualityRepository interface {
	// InsertSample persists the sample, the primary record. Alert and
	// aggregate writes are derived side effects.
	InsertSample(ctx context.Context, s *domain.QualitySample) error
	// UpsertAggregate folds the sample into the per-call rollup as a single
	// atomic statement; min/max/avg arithmetic runs inside the database so
	// concurrent writers for the same call never lose updates.
	UpsertAggregate(ctx context.Context, s *domain.QualitySample) (*domain.QualityAggregate, error)
	GetAggregate(ctx context.Context, callID string) (*domain.QualityAggregate, error)
	ListSamples(ctx context.Context, callID string, limit int) ([]domain.QualitySample, error)
	CreateAlert(ctx context.Context, a *domain.QualityAlert) error
	// AcknowledgeAlert is idempotent: an already acknowledged alert is left
	// untouched and reported as already done.
	AcknowledgeAlert(ctx context.Context, id string, by string, at time.Time) (bool, error)
	ListAlerts(ctx context.Context, params AlertListParams) ([]domain.QualityAlert, error)
	GetCarrierQuality(ctx context.Context, carrierID string, since time.Time) (*CarrierQuality, error)
	GetDashboardData(ctx context.Context, accountID string, since time.Time) (*DashboardData, error)
}

type GormQualityRepo struct {
	db *gorm.DB
}

func NewGormQualityRepo(db *gorm.DB) *GormQualityRepo {
	return &GormQualityRepo{db: db}
}

func (r *GormQualityRepo) InsertSample(ctx context.Context, s *domain.QualitySample) error {
	model := sampleModelFromDomain(s)
	return r.db.WithContext(ctx).Create(model).Error
}

func (r *GormQualityRepo) UpsertAggregate(ctx context.Context, s *domain.QualitySample) (*domain.QualityAggregate, error) {
	var model QualityAggregateModel
	err := r.db.WithContext(ctx).Raw(`
		INSERT INTO call_quality_aggregates (
			call_id, carrier_id, trunk_id, sample_count,
			min_jitter_ms, max_jitter_ms, avg_jitter_ms,
			min_rtt_ms, max_rtt_ms, avg_rtt_ms,
			avg_mos, packets_sent, packets_lost, updated_at
		) VALUES (?, ?, ?, 1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (call_id) DO UPDATE SET
			sample_count  = call_quality_aggregates.sample_count + 1,
			min_jitter_ms = LEAST(call_quality_aggregates.min_jitter_ms, EXCLUDED.min_jitter_ms),
			max_jitter_ms = GREATEST(call_quality_aggregates.max_jitter_ms, EXCLUDED.max_jitter_ms),
			avg_jitter_ms = (call_quality_aggregates.avg_jitter_ms * call_quality_aggregates.sample_count + EXCLUDED.avg_jitter_ms)
			                / (call_quality_aggregates.sample_count + 1),
			min_rtt_ms    = LEAST(call_quality_aggregates.min_rtt_ms, EXCLUDED.min_rtt_ms),
			max_rtt_ms    = GREATEST(call_quality_aggregates.max_rtt_ms, EXCLUDED.max_rtt_ms),
			avg_rtt_ms    = (call_quality_aggregates.avg_rtt_ms * call_quality_aggregates.sample_count + EXCLUDED.avg_rtt_ms)
			                / (call_quality_aggregates.sample_count + 1),
			avg_mos       = (call_quality_aggregates.avg_mos * call_quality_aggregates.sample_count + EXCLUDED.avg_mos)
			                / (call_quality_aggregates.sample_count + 1),
			packets_sent  = call_quality_aggregates.packets_sent + EXCLUDED.packets_sent,
			packets_lost  = call_quality_aggregates.packets_lost + EXCLUDED.packets_lost,
			updated_at    = EXCLUDED.updated_at
		RETURNING *`,
		s.CallID, s.CarrierID, s.TrunkID,
		s.JitterMs, s.JitterMs, s.JitterMs,
		s.RTTMs, s.RTTMs, s.RTTMs,
		s.MOS, s.PacketsSent, s.PacketsLost, time.Now().UTC(),
	).Scan(&model).Error
	if err != nil {
		return nil, err
	}
	return aggregateModelToDomain(&model), nil
}

func (r *GormQualityRepo) GetAggregate(ctx context.Context, callID string) (*domain.QualityAggregate, error) {
	var model QualityAggregateModel
	err := r.db.WithContext(ctx).First(&model, "call_id = ?", callID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return aggregateModelToDomain(&model), nil
}

func (r *GormQualityRepo) ListSamples(ctx context.Context, callID string, limit int) ([]domain.QualitySample, error) {
	if limit <= 0 {
		limit = 100
	}

	var models []QualitySampleModel
	err := r.db.WithContext(ctx).
		Where("call_id = ?", callID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	samples := make([]domain.QualitySample, 0, len(models))
	for i := range models {
		m := models[i]
		samples = append(samples, domain.QualitySample{
			ID:            m.ID,
			CallID:        m.CallID,
			CarrierID:     m.CarrierID,
			TrunkID:       m.TrunkID,
			AccountID:     m.AccountID,
			JitterMs:      m.JitterMs,
			PacketLossPct: m.PacketLossPct,
			RTTMs:         m.RTTMs,
			PacketsSent:   m.PacketsSent,
			PacketsLost:   m.PacketsLost,
			MOS:           m.MOS,
			Status:        m.Status,
			CreatedAt:     m.CreatedAt,
		})
	}
	return samples, nil
}

func (r *GormQualityRepo) CreateAlert(ctx context.Context, a *domain.QualityAlert) error {
	model := alertModelFromDomain(a)
	return r.db.WithContext(ctx).Create(model).Error
}

func (r *GormQualityRepo) AcknowledgeAlert(ctx context.Context, id string, by string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&QualityAlertModel{}).
		Where("id = ? AND acknowledged_at IS NULL", id).
		Updates(map[string]any{
			"acknowledged_at": at,
			"acknowledged_by": by,
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	// Zero rows means either already acknowledged (fine) or missing.
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&QualityAlertModel{}).
		Where("id = ?", id).
		Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, domain.ErrNotFound
	}
	return false, nil
}

func (r *GormQualityRepo) ListAlerts(ctx context.Context, params AlertListParams) ([]domain.QualityAlert, error) {
	query := r.db.WithContext(ctx).Model(&QualityAlertModel{})

	if params.AccountID != "" {
		query = query.Where("account_id = ?", params.AccountID)
	}
	if params.CarrierID != "" {
		query = query.Where("carrier_id = ?", params.CarrierID)
	}
	if params.TrunkID != "" {
		query = query.Where("trunk_id = ?", params.TrunkID)
	}
	if params.Severity != nil {
		query = query.Where("severity = ?", *params.Severity)
	}
	if params.Acknowledged != nil {
		if *params.Acknowledged {
			query = query.Where("acknowledged_at IS NOT NULL")
		} else {
			query = query.Where("acknowledged_at IS NULL")
		}
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}

	var models []QualityAlertModel
	err := query.Order("created_at DESC").Limit(limit).Find(&models).Error
	if err != nil {
		return nil, err
	}

	alerts := make([]domain.QualityAlert, 0, len(models))
	for i := range models {
		alerts = append(alerts, *alertModelToDomain(&models[i]))
	}
	return alerts, nil
}

func (r *GormQualityRepo) GetCarrierQuality(ctx context.Context, carrierID string, since time.Time) (*CarrierQuality, error) {
	var summary CarrierQuality
	err := r.db.WithContext(ctx).Raw(`
		SELECT
			? AS carrier_id,
			COUNT(*) AS sample_count,
			COALESCE(AVG(mos), 0) AS avg_mos,
			COALESCE(AVG(jitter_ms), 0) AS avg_jitter_ms,
			COALESCE(AVG(rtt_ms), 0) AS avg_rtt_ms,
			COALESCE(AVG(packet_loss_pct), 0) AS avg_loss_pct,
			(SELECT COUNT(*) FROM quality_alerts
			 WHERE carrier_id = ? AND acknowledged_at IS NULL) AS open_alerts
		FROM call_quality_samples
		WHERE carrier_id = ? AND created_at >= ?`,
		carrierID, carrierID, carrierID, since,
	).Scan(&summary).Error
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

func (r *GormQualityRepo) GetDashboardData(ctx context.Context, accountID string, since time.Time) (*DashboardData, error) {
	var data DashboardData
	err := r.db.WithContext(ctx).Raw(`
		SELECT
			COUNT(*) AS sample_count,
			COALESCE(AVG(mos), 0) AS avg_mos,
			COUNT(DISTINCT call_id) AS monitored_calls,
			(SELECT COUNT(*) FROM quality_alerts
			 WHERE account_id = ? AND severity = 'warning' AND acknowledged_at IS NULL) AS open_warnings,
			(SELECT COUNT(*) FROM quality_alerts
			 WHERE account_id = ? AND severity = 'critical' AND acknowledged_at IS NULL) AS open_criticals
		FROM call_quality_samples
		WHERE account_id = ? AND created_at >= ?`,
		accountID, accountID, accountID, since,
	).Scan(&data).Error
	if err != nil {
		return nil, err
	}
	return &data, nil
}
