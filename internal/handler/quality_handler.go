package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dialware/dialer-engine/internal/domain"
	"github.com/dialware/dialer-engine/internal/repository"
	"github.com/dialware/dialer-engine/internal/service"
	"github.com/gofiber/fiber/v2"
)

const defaultQualityWindow = 24 * time.Hour

type QualityService interface {
	ReportSample(ctx context.Context, input service.SampleInput) (*service.SampleReport, error)
	GetAggregate(ctx context.Context, callID string) (*domain.QualityAggregate, error)
	ListSamples(ctx context.Context, callID string, limit int) ([]domain.QualitySample, error)
	ListAlerts(ctx context.Context, params repository.AlertListParams) ([]domain.QualityAlert, error)
	AcknowledgeAlert(ctx context.Context, id string, by string) (bool, error)
	GetCarrierQuality(ctx context.Context, carrierID string, window time.Duration) (*repository.CarrierQuality, error)
	GetDashboardData(ctx context.Context, accountID string, window time.Duration) (*repository.DashboardData, error)
}

// QualityHandler serves the single multiplexed quality endpoint. The wire
// format keys every request by an "action" field; each action decodes into
// its own typed request before any business logic runs.
type QualityHandler struct {
	service QualityService
}

func NewQualityHandler(service QualityService) (*QualityHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("quality service is required")
	}
	return &QualityHandler{service: service}, nil
}

func RegisterQualityRoutes(router fiber.Router, service QualityService) error {
	h, err := NewQualityHandler(service)
	if err != nil {
		return err
	}

	router.Post("/call-quality", h.HandleAction)
	return nil
}

type qualityActionEnvelope struct {
	Action string `json:"action"`
}

type reportMetricsRequest struct {
	CallID        string  `json:"call_id"`
	CarrierID     string  `json:"carrier_id"`
	TrunkID       string  `json:"trunk_id"`
	AccountID     string  `json:"account_id"`
	JitterMs      float64 `json:"jitter_ms"`
	PacketLossPct float64 `json:"packet_loss_pct"`
	RTTMs         float64 `json:"rtt_ms"`
	PacketsSent   int64   `json:"packets_sent"`
	PacketsLost   int64   `json:"packets_lost"`
}

type getCallQualityRequest struct {
	CallID string `json:"call_id"`
	Limit  int    `json:"limit"`
}

type getCarrierQualityRequest struct {
	CarrierID   string `json:"carrier_id"`
	WindowHours int    `json:"window_hours"`
}

type getAlertsRequest struct {
	AccountID    string `json:"account_id"`
	CarrierID    string `json:"carrier_id"`
	TrunkID      string `json:"trunk_id"`
	Severity     string `json:"severity"`
	Acknowledged *bool  `json:"acknowledged"`
	Limit        int    `json:"limit"`
}

type acknowledgeAlertRequest struct {
	AlertID        string `json:"alert_id"`
	AcknowledgedBy string `json:"acknowledged_by"`
}

type getDashboardDataRequest struct {
	AccountID   string `json:"account_id"`
	WindowHours int    `json:"window_hours"`
}

type qualitySampleResponse struct {
	ID            string    `json:"id"`
	CallID        string    `json:"call_id"`
	CarrierID     string    `json:"carrier_id,omitempty"`
	TrunkID       string    `json:"trunk_id"`
	AccountID     string    `json:"account_id,omitempty"`
	JitterMs      float64   `json:"jitter_ms"`
	PacketLossPct float64   `json:"packet_loss_pct"`
	RTTMs         float64   `json:"rtt_ms"`
	MOS           float64   `json:"mos"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

type qualityAlertResponse struct {
	ID             string     `json:"id"`
	AccountID      string     `json:"account_id,omitempty"`
	CarrierID      string     `json:"carrier_id,omitempty"`
	TrunkID        string     `json:"trunk_id"`
	CallID         string     `json:"call_id"`
	Metric         string     `json:"metric"`
	Severity       string     `json:"severity"`
	Threshold      float64    `json:"threshold"`
	Observed       float64    `json:"observed"`
	Message        string     `json:"message"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type qualityAggregateResponse struct {
	CallID      string    `json:"call_id"`
	CarrierID   string    `json:"carrier_id,omitempty"`
	TrunkID     string    `json:"trunk_id"`
	SampleCount int64     `json:"sample_count"`
	MinJitterMs float64   `json:"min_jitter_ms"`
	MaxJitterMs float64   `json:"max_jitter_ms"`
	AvgJitterMs float64   `json:"avg_jitter_ms"`
	MinRTTMs    float64   `json:"min_rtt_ms"`
	MaxRTTMs    float64   `json:"max_rtt_ms"`
	AvgRTTMs    float64   `json:"avg_rtt_ms"`
	AvgMOS      float64   `json:"avg_mos"`
	PacketsSent int64     `json:"packets_sent"`
	PacketsLost int64     `json:"packets_lost"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HandleAction decodes the envelope and dispatches to the typed action
// handlers. Unknown actions are a validation failure, not a 404, so the wire
// behavior matches a single-endpoint contract.
func (h *QualityHandler) HandleAction(c *fiber.Ctx) error {
	body := c.Body()

	var envelope qualityActionEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	switch strings.TrimSpace(envelope.Action) {
	case "report_metrics":
		return h.reportMetrics(c, body)
	case "get_call_quality":
		return h.getCallQuality(c, body)
	case "get_carrier_quality":
		return h.getCarrierQuality(c, body)
	case "get_alerts":
		return h.getAlerts(c, body)
	case "acknowledge_alert":
		return h.acknowledgeAlert(c, body)
	case "get_dashboard_data":
		return h.getDashboardData(c, body)
	case "":
		return toHTTPError(fmt.Errorf("%w: action is required", domain.ErrValidation))
	default:
		return toHTTPError(fmt.Errorf("%w: unknown action %q", domain.ErrValidation, envelope.Action))
	}
}

func (h *QualityHandler) reportMetrics(c *fiber.Ctx, body []byte) error {
	var req reportMetricsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	report, err := h.service.ReportSample(c.Context(), service.SampleInput{
		CallID:        req.CallID,
		CarrierID:     req.CarrierID,
		TrunkID:       req.TrunkID,
		AccountID:     req.AccountID,
		JitterMs:      req.JitterMs,
		PacketLossPct: req.PacketLossPct,
		RTTMs:         req.RTTMs,
		PacketsSent:   req.PacketsSent,
		PacketsLost:   req.PacketsLost,
	})
	if err != nil {
		return toHTTPError(err)
	}

	resp := fiber.Map{
		"sample":         toSampleResponse(&report.Sample),
		"mos":            report.MOS,
		"status":         string(report.Status),
		"alerts_created": report.AlertsCreated,
	}
	if report.Aggregate != nil {
		resp["aggregate"] = toAggregateResponse(report.Aggregate)
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (h *QualityHandler) getCallQuality(c *fiber.Ctx, body []byte) error {
	var req getCallQualityRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	aggregate, err := h.service.GetAggregate(c.Context(), req.CallID)
	if err != nil {
		return toHTTPError(err)
	}

	samples, err := h.service.ListSamples(c.Context(), req.CallID, req.Limit)
	if err != nil {
		return toHTTPError(err)
	}

	sampleResponses := make([]qualitySampleResponse, 0, len(samples))
	for i := range samples {
		sampleResponses = append(sampleResponses, toSampleResponse(&samples[i]))
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"aggregate": toAggregateResponse(aggregate),
		"samples":   sampleResponses,
	})
}

func (h *QualityHandler) getCarrierQuality(c *fiber.Ctx, body []byte) error {
	var req getCarrierQualityRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	quality, err := h.service.GetCarrierQuality(c.Context(), req.CarrierID, windowFromHours(req.WindowHours))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"carrier_id":    quality.CarrierID,
		"sample_count":  quality.SampleCount,
		"avg_mos":       quality.AvgMOS,
		"avg_jitter_ms": quality.AvgJitterMs,
		"avg_rtt_ms":    quality.AvgRTTMs,
		"avg_loss_pct":  quality.AvgLossPct,
		"open_alerts":   quality.OpenAlerts,
	})
}

func (h *QualityHandler) getAlerts(c *fiber.Ctx, body []byte) error {
	var req getAlertsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	params := repository.AlertListParams{
		AccountID:    strings.TrimSpace(req.AccountID),
		CarrierID:    strings.TrimSpace(req.CarrierID),
		TrunkID:      strings.TrimSpace(req.TrunkID),
		Acknowledged: req.Acknowledged,
		Limit:        req.Limit,
	}
	if raw := strings.TrimSpace(req.Severity); raw != "" {
		severity := domain.AlertSeverity(strings.ToLower(raw))
		if !severity.IsValid() {
			return toHTTPError(fmt.Errorf("%w: invalid severity %q", domain.ErrValidation, raw))
		}
		params.Severity = &severity
	}

	alerts, err := h.service.ListAlerts(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]qualityAlertResponse, 0, len(alerts))
	for i := range alerts {
		responses = append(responses, toAlertResponse(&alerts[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": responses})
}

func (h *QualityHandler) acknowledgeAlert(c *fiber.Ctx, body []byte) error {
	var req acknowledgeAlertRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	acknowledged, err := h.service.AcknowledgeAlert(c.Context(), req.AlertID, req.AcknowledgedBy)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"alert_id":     strings.TrimSpace(req.AlertID),
		"acknowledged": acknowledged,
	})
}

func (h *QualityHandler) getDashboardData(c *fiber.Ctx, body []byte) error {
	var req getDashboardDataRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	data, err := h.service.GetDashboardData(c.Context(), req.AccountID, windowFromHours(req.WindowHours))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"sample_count":    data.SampleCount,
		"avg_mos":         data.AvgMOS,
		"open_warnings":   data.OpenWarnings,
		"open_criticals":  data.OpenCriticals,
		"monitored_calls": data.MonitoredCalls,
	})
}

func windowFromHours(hours int) time.Duration {
	if hours <= 0 {
		return defaultQualityWindow
	}
	return time.Duration(hours) * time.Hour
}

func toSampleResponse(s *domain.QualitySample) qualitySampleResponse {
	if s == nil {
		return qualitySampleResponse{}
	}
	return qualitySampleResponse{
		ID:            s.ID,
		CallID:        s.CallID,
		CarrierID:     s.CarrierID,
		TrunkID:       s.TrunkID,
		AccountID:     s.AccountID,
		JitterMs:      s.JitterMs,
		PacketLossPct: s.PacketLossPct,
		RTTMs:         s.RTTMs,
		MOS:           s.MOS,
		Status:        string(s.Status),
		CreatedAt:     s.CreatedAt,
	}
}

func toAlertResponse(a *domain.QualityAlert) qualityAlertResponse {
	if a == nil {
		return qualityAlertResponse{}
	}
	return qualityAlertResponse{
		ID:             a.ID,
		AccountID:      a.AccountID,
		CarrierID:      a.CarrierID,
		TrunkID:        a.TrunkID,
		CallID:         a.CallID,
		Metric:         string(a.Metric),
		Severity:       string(a.Severity),
		Threshold:      a.Threshold,
		Observed:       a.Observed,
		Message:        a.Message,
		AcknowledgedAt: a.AcknowledgedAt,
		AcknowledgedBy: a.AcknowledgedBy,
		CreatedAt:      a.CreatedAt,
	}
}

func toAggregateResponse(a *domain.QualityAggregate) qualityAggregateResponse {
	if a == nil {
		return qualityAggregateResponse{}
	}
	return qualityAggregateResponse{
		CallID:      a.CallID,
		CarrierID:   a.CarrierID,
		TrunkID:     a.TrunkID,
		SampleCount: a.SampleCount,
		MinJitterMs: a.MinJitterMs,
		MaxJitterMs: a.MaxJitterMs,
		AvgJitterMs: a.AvgJitterMs,
		MinRTTMs:    a.MinRTTMs,
		MaxRTTMs:    a.MaxRTTMs,
		AvgRTTMs:    a.AvgRTTMs,
		AvgMOS:      a.AvgMOS,
		PacketsSent: a.PacketsSent,
		PacketsLost: a.PacketsLost,
		UpdatedAt:   a.UpdatedAt,
	}
}
