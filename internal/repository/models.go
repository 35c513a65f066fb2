package repository

import (
	"encoding/json"
	"time"

	"github.com/dialware/dialer-engine/internal/domain"
)

// CallAttemptModel is the persistence model for the call_attempts table.
type CallAttemptModel struct {
	ID            string              `gorm:"type:uuid;primaryKey"`
	CampaignID    string              `gorm:"type:uuid;not null"`
	AccountID     string              `gorm:"type:uuid;not null"`
	LeadID        string              `gorm:"type:uuid;not null"`
	TrunkID       string              `gorm:"type:varchar(64);not null"`
	Phone         string              `gorm:"type:varchar(20);not null"`
	CorrelationID string              `gorm:"type:varchar(128);not null"`
	State         domain.AttemptState `gorm:"type:varchar(20);not null"`
	// SIPCodes is a JSONB array; order of arrival preserved.
	SIPCodes  string `gorm:"type:jsonb;not null;default:'[]'"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (CallAttemptModel) TableName() string {
	return "call_attempts"
}

// AttemptEventModel is the persistence model for attempt_events.
type AttemptEventModel struct {
	ID        string           `gorm:"type:uuid;primaryKey"`
	AttemptID string           `gorm:"type:uuid;not null"`
	Type      domain.EventType `gorm:"type:varchar(32);not null"`
	Payload   string           `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt time.Time
}

func (AttemptEventModel) TableName() string {
	return "attempt_events"
}

// AttemptTimerModel is the persistence model for attempt_timers.
type AttemptTimerModel struct {
	ID        string           `gorm:"type:uuid;primaryKey"`
	AttemptID string           `gorm:"type:uuid;not null"`
	Type      domain.TimerType `gorm:"type:varchar(20);not null"`
	FireAt    time.Time        `gorm:"not null"`
	Fired     bool             `gorm:"not null;default:false"`
	Cancelled bool             `gorm:"not null;default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (AttemptTimerModel) TableName() string {
	return "attempt_timers"
}

// CampaignModel is the persistence model for campaigns.
type CampaignModel struct {
	ID              string                `gorm:"type:uuid;primaryKey"`
	AccountID       string                `gorm:"type:uuid;not null"`
	Name            string                `gorm:"type:varchar(255);not null"`
	DialMode        domain.DialMode       `gorm:"type:varchar(16);not null"`
	TrunkID         string                `gorm:"type:varchar(64);not null"`
	TargetDialRatio float64               `gorm:"not null;default:1"`
	WindowStartMin  int                   `gorm:"not null;default:0"`
	WindowEndMin    int                   `gorm:"not null;default:0"`
	Status          domain.CampaignStatus `gorm:"type:varchar(16);not null"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (CampaignModel) TableName() string {
	return "campaigns"
}

// LeadModel is the persistence model for campaign_leads.
type LeadModel struct {
	ID         string            `gorm:"type:uuid;primaryKey"`
	CampaignID string            `gorm:"type:uuid;not null"`
	AccountID  string            `gorm:"type:uuid;not null"`
	Phone      string            `gorm:"type:varchar(20);not null"`
	Status     domain.LeadStatus `gorm:"type:varchar(16);not null"`
	ReservedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (LeadModel) TableName() string {
	return "campaign_leads"
}

// TrunkConfigModel is the persistence model for trunk_configs.
type TrunkConfigModel struct {
	ID        string  `gorm:"type:varchar(64);primaryKey"`
	CarrierID string  `gorm:"type:varchar(64);not null"`
	Name      string  `gorm:"type:varchar(255);not null"`
	MaxCPS    float64 `gorm:"not null"`
	Enabled   bool    `gorm:"not null;default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (TrunkConfigModel) TableName() string {
	return "trunk_configs"
}

// QualitySampleModel is the persistence model for call_quality_samples.
type QualitySampleModel struct {
	ID            string               `gorm:"type:uuid;primaryKey"`
	CallID        string               `gorm:"type:varchar(128);not null"`
	CarrierID     string               `gorm:"type:varchar(64);not null"`
	TrunkID       string               `gorm:"type:varchar(64);not null"`
	AccountID     string               `gorm:"type:uuid;not null"`
	JitterMs      float64              `gorm:"not null"`
	PacketLossPct float64              `gorm:"not null"`
	RTTMs         float64              `gorm:"not null"`
	PacketsSent   int64                `gorm:"not null;default:0"`
	PacketsLost   int64                `gorm:"not null;default:0"`
	MOS           float64              `gorm:"not null"`
	Status        domain.QualityStatus `gorm:"type:varchar(16);not null"`
	CreatedAt     time.Time
}

func (QualitySampleModel) TableName() string {
	return "call_quality_samples"
}

// QualityAggregateModel is the persistence model for call_quality_aggregates.
type QualityAggregateModel struct {
	CallID      string  `gorm:"type:varchar(128);primaryKey"`
	CarrierID   string  `gorm:"type:varchar(64);not null"`
	TrunkID     string  `gorm:"type:varchar(64);not null"`
	SampleCount int64   `gorm:"not null;default:0"`
	MinJitterMs float64 `gorm:"not null;default:0"`
	MaxJitterMs float64 `gorm:"not null;default:0"`
	AvgJitterMs float64 `gorm:"not null;default:0"`
	MinRTTMs    float64 `gorm:"not null;default:0"`
	MaxRTTMs    float64 `gorm:"not null;default:0"`
	AvgRTTMs    float64 `gorm:"not null;default:0"`
	AvgMOS      float64 `gorm:"not null;default:0"`
	PacketsSent int64   `gorm:"not null;default:0"`
	PacketsLost int64   `gorm:"not null;default:0"`
	UpdatedAt   time.Time
}

func (QualityAggregateModel) TableName() string {
	return "call_quality_aggregates"
}

// QualityAlertModel is the persistence model for quality_alerts.
type QualityAlertModel struct {
	ID             string               `gorm:"type:uuid;primaryKey"`
	AccountID      string               `gorm:"type:uuid;not null"`
	CarrierID      string               `gorm:"type:varchar(64);not null"`
	TrunkID        string               `gorm:"type:varchar(64);not null"`
	CallID         string               `gorm:"type:varchar(128);not null"`
	Metric         domain.AlertMetric   `gorm:"type:varchar(16);not null"`
	Severity       domain.AlertSeverity `gorm:"type:varchar(10);not null"`
	Threshold      float64              `gorm:"not null"`
	Observed       float64              `gorm:"not null"`
	Message        string               `gorm:"type:text;not null"`
	AcknowledgedAt *time.Time
	AcknowledgedBy string `gorm:"type:varchar(128)"`
	CreatedAt      time.Time
}

func (QualityAlertModel) TableName() string {
	return "quality_alerts"
}

func attemptModelFromDomain(a *domain.CallAttempt) *CallAttemptModel {
	if a == nil {
		return nil
	}

	codes := a.SIPCodes
	if codes == nil {
		codes = []int{}
	}
	encoded, err := json.Marshal(codes)
	if err != nil {
		encoded = []byte("[]")
	}

	return &CallAttemptModel{
		ID:            a.ID,
		CampaignID:    a.CampaignID,
		AccountID:     a.AccountID,
		LeadID:        a.LeadID,
		TrunkID:       a.TrunkID,
		Phone:         a.Phone,
		CorrelationID: a.CorrelationID,
		State:         a.State,
		SIPCodes:      string(encoded),
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

func attemptModelToDomain(m *CallAttemptModel) *domain.CallAttempt {
	if m == nil {
		return nil
	}

	var codes []int
	if err := json.Unmarshal([]byte(m.SIPCodes), &codes); err != nil {
		codes = nil
	}

	return &domain.CallAttempt{
		ID:            m.ID,
		CampaignID:    m.CampaignID,
		AccountID:     m.AccountID,
		LeadID:        m.LeadID,
		TrunkID:       m.TrunkID,
		Phone:         m.Phone,
		CorrelationID: m.CorrelationID,
		State:         m.State,
		SIPCodes:      codes,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func eventModelFromDomain(e *domain.AttemptEvent) *AttemptEventModel {
	if e == nil {
		return nil
	}

	payload := e.Payload
	if payload == "" {
		payload = "{}"
	}

	return &AttemptEventModel{
		ID:        e.ID,
		AttemptID: e.AttemptID,
		Type:      e.Type,
		Payload:   payload,
		CreatedAt: e.CreatedAt,
	}
}

func eventModelToDomain(m *AttemptEventModel) *domain.AttemptEvent {
	if m == nil {
		return nil
	}

	return &domain.AttemptEvent{
		ID:        m.ID,
		AttemptID: m.AttemptID,
		Type:      m.Type,
		Payload:   m.Payload,
		CreatedAt: m.CreatedAt,
	}
}

func timerModelFromDomain(t *domain.AttemptTimer) *AttemptTimerModel {
	if t == nil {
		return nil
	}

	return &AttemptTimerModel{
		ID:        t.ID,
		AttemptID: t.AttemptID,
		Type:      t.Type,
		FireAt:    t.FireAt,
		Fired:     t.Fired,
		Cancelled: t.Cancelled,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func timerModelToDomain(m *AttemptTimerModel) *domain.AttemptTimer {
	if m == nil {
		return nil
	}

	return &domain.AttemptTimer{
		ID:        m.ID,
		AttemptID: m.AttemptID,
		Type:      m.Type,
		FireAt:    m.FireAt,
		Fired:     m.Fired,
		Cancelled: m.Cancelled,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func campaignModelToDomain(m *CampaignModel) *domain.Campaign {
	if m == nil {
		return nil
	}

	return &domain.Campaign{
		ID:              m.ID,
		AccountID:       m.AccountID,
		Name:            m.Name,
		DialMode:        m.DialMode,
		TrunkID:         m.TrunkID,
		TargetDialRatio: m.TargetDialRatio,
		WindowStartMin:  m.WindowStartMin,
		WindowEndMin:    m.WindowEndMin,
		Status:          m.Status,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func leadModelToDomain(m *LeadModel) *domain.Lead {
	if m == nil {
		return nil
	}

	return &domain.Lead{
		ID:         m.ID,
		CampaignID: m.CampaignID,
		AccountID:  m.AccountID,
		Phone:      m.Phone,
		Status:     m.Status,
		ReservedAt: m.ReservedAt,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func trunkModelToDomain(m *TrunkConfigModel) *domain.TrunkConfig {
	if m == nil {
		return nil
	}

	return &domain.TrunkConfig{
		ID:        m.ID,
		CarrierID: m.CarrierID,
		Name:      m.Name,
		MaxCPS:    m.MaxCPS,
		Enabled:   m.Enabled,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func sampleModelFromDomain(s *domain.QualitySample) *QualitySampleModel {
	if s == nil {
		return nil
	}

	return &QualitySampleModel{
		ID:            s.ID,
		CallID:        s.CallID,
		CarrierID:     s.CarrierID,
		TrunkID:       s.TrunkID,
		AccountID:     s.AccountID,
		JitterMs:      s.JitterMs,
		PacketLossPct: s.PacketLossPct,
		RTTMs:         s.RTTMs,
		PacketsSent:   s.PacketsSent,
		PacketsLost:   s.PacketsLost,
		MOS:           s.MOS,
		Status:        s.Status,
		CreatedAt:     s.CreatedAt,
	}
}

func aggregateModelToDomain(m *QualityAggregateModel) *domain.QualityAggregate {
	if m == nil {
		return nil
	}

	return &domain.QualityAggregate{
		CallID:      m.CallID,
		CarrierID:   m.CarrierID,
		TrunkID:     m.TrunkID,
		SampleCount: m.SampleCount,
		MinJitterMs: m.MinJitterMs,
		MaxJitterMs: m.MaxJitterMs,
		AvgJitterMs: m.AvgJitterMs,
		MinRTTMs:    m.MinRTTMs,
		MaxRTTMs:    m.MaxRTTMs,
		AvgRTTMs:    m.AvgRTTMs,
		AvgMOS:      m.AvgMOS,
		PacketsSent: m.PacketsSent,
		PacketsLost: m.PacketsLost,
		UpdatedAt:   m.UpdatedAt,
	}
}

func alertModelFromDomain(a *domain.QualityAlert) *QualityAlertModel {
	if a == nil {
		return nil
	}

	return &QualityAlertModel{
		ID:             a.ID,
		AccountID:      a.AccountID,
		CarrierID:      a.CarrierID,
		TrunkID:        a.TrunkID,
		CallID:         a.CallID,
		Metric:         a.Metric,
		Severity:       a.Severity,
		Threshold:      a.Threshold,
		Observed:       a.Observed,
		Message:        a.Message,
		AcknowledgedAt: a.AcknowledgedAt,
		AcknowledgedBy: a.AcknowledgedBy,
		CreatedAt:      a.CreatedAt,
	}
}

func alertModelToDomain(m *QualityAlertModel) *domain.QualityAlert {
	if m == nil {
		return nil
	}

	return &domain.QualityAlert{
		ID:             m.ID,
		AccountID:      m.AccountID,
		CarrierID:      m.CarrierID,
		TrunkID:        m.TrunkID,
		CallID:         m.CallID,
		Metric:         m.Metric,
		Severity:       m.Severity,
		Threshold:      m.Threshold,
		Observed:       m.Observed,
		Message:        m.Message,
		AcknowledgedAt: m.AcknowledgedAt,
		AcknowledgedBy: m.AcknowledgedBy,
		CreatedAt:      m.CreatedAt,
	}
}
