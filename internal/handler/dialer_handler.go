package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dialware/dialer-engine/internal/domain"
	"github.com/dialware/dialer-engine/internal/ratelimit"
	"github.com/gofiber/fiber/v2"
)

const defaultProcessTimersLimit = 100

type DialerService interface {
	ReserveLeads(ctx context.Context, campaignID string, limit int) ([]domain.Lead, error)
	CancelCampaign(ctx context.Context, campaignID string) error
}

type TimerControl interface {
	Arm(ctx context.Context, attemptID string, timerType domain.TimerType, fireAt time.Time) (*domain.AttemptTimer, error)
	Cancel(ctx context.Context, attemptID string, timerType *domain.TimerType) (int64, error)
	ProcessExpired(ctx context.Context, now time.Time, limit int) ([]string, error)
}

type TrunkDirectory interface {
	ListEnabled(ctx context.Context) ([]domain.TrunkConfig, error)
}

// DialerHandler exposes the admission, reservation, and timer controls used
// by sibling services and operational tooling.
type DialerHandler struct {
	dialer  DialerService
	timers  TimerControl
	trunks  TrunkDirectory
	limiter ratelimit.TrunkLimiter
}

func NewDialerHandler(
	dialer DialerService,
	timers TimerControl,
	trunks TrunkDirectory,
	limiter ratelimit.TrunkLimiter,
) (*DialerHandler, error) {
	if dialer == nil {
		return nil, fmt.Errorf("dialer service is required")
	}
	if timers == nil {
		return nil, fmt.Errorf("timer control is required")
	}
	if trunks == nil {
		return nil, fmt.Errorf("trunk directory is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("trunk limiter is required")
	}
	return &DialerHandler{dialer: dialer, timers: timers, trunks: trunks, limiter: limiter}, nil
}

func RegisterDialerRoutes(
	router fiber.Router,
	dialer DialerService,
	timers TimerControl,
	trunks TrunkDirectory,
	limiter ratelimit.TrunkLimiter,
) error {
	h, err := NewDialerHandler(dialer, timers, trunks, limiter)
	if err != nil {
		return err
	}

	router.Get("/trunk-configs", h.ListTrunkConfigs)
	router.Post("/reserve-leads", h.ReserveLeads)
	router.Post("/consume-token", h.ConsumeToken)
	router.Get("/process-timers", h.ProcessTimers)
	router.Post("/timers", h.ArmTimer)
	router.Delete("/timers/:attemptId", h.CancelTimers)
	router.Post("/campaigns/:id/cancel", h.CancelCampaign)

	return nil
}

type reserveLeadsRequest struct {
	CampaignID string `json:"campaign_id"`
	AccountID  string `json:"account_id"`
	Limit      int    `json:"limit"`
}

type consumeTokenRequest struct {
	TrunkID string  `json:"trunk_id"`
	Tokens  float64 `json:"tokens"`
}

type armTimerRequest struct {
	AttemptID string    `json:"attempt_id"`
	TimerType string    `json:"timer_type"`
	FireAt    time.Time `json:"fire_at"`
}

type trunkConfigResponse struct {
	ID        string  `json:"id"`
	CarrierID string  `json:"carrier_id"`
	Name      string  `json:"name"`
	MaxCPS    float64 `json:"max_cps"`
	Enabled   bool    `json:"enabled"`
}

type timerResponse struct {
	ID        string    `json:"id"`
	AttemptID string    `json:"attempt_id"`
	TimerType string    `json:"timer_type"`
	FireAt    time.Time `json:"fire_at"`
	Fired     bool      `json:"fired"`
	Cancelled bool      `json:"cancelled"`
}

func (h *DialerHandler) ListTrunkConfigs(c *fiber.Ctx) error {
	trunks, err := h.trunks.ListEnabled(c.Context())
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]trunkConfigResponse, 0, len(trunks))
	for i := range trunks {
		t := trunks[i]
		responses = append(responses, trunkConfigResponse{
			ID:        t.ID,
			CarrierID: t.CarrierID,
			Name:      t.Name,
			MaxCPS:    t.MaxCPS,
			Enabled:   t.Enabled,
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": responses})
}

func (h *DialerHandler) ReserveLeads(c *fiber.Ctx) error {
	var req reserveLeadsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.CampaignID) == "" {
		return toHTTPError(fmt.Errorf("%w: campaign_id is required", domain.ErrValidation))
	}

	leads, err := h.dialer.ReserveLeads(c.Context(), req.CampaignID, req.Limit)
	if err != nil {
		return toHTTPError(err)
	}

	ids := make([]string, 0, len(leads))
	for i := range leads {
		ids = append(ids, leads[i].ID)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"lead_ids": ids,
		"count":    len(ids),
	})
}

func (h *DialerHandler) ConsumeToken(c *fiber.Ctx) error {
	var req consumeTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.TrunkID) == "" {
		return toHTTPError(fmt.Errorf("%w: trunk_id is required", domain.ErrValidation))
	}
	tokens := req.Tokens
	if tokens <= 0 {
		tokens = 1
	}

	decision, err := h.limiter.TryConsume(c.Context(), strings.TrimSpace(req.TrunkID), tokens)
	if err != nil {
		return toHTTPError(err)
	}

	// A denied admission is a normal decision, not an error: always 200.
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"allowed":   decision.Allowed,
		"remaining": decision.Remaining,
	})
}

func (h *DialerHandler) ProcessTimers(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultProcessTimersLimit)

	fired, err := h.timers.ProcessExpired(c.Context(), time.Now(), limit)
	if err != nil {
		return toHTTPError(err)
	}
	if fired == nil {
		fired = []string{}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"fired_timer_ids": fired,
		"count":           len(fired),
	})
}

func (h *DialerHandler) ArmTimer(c *fiber.Ctx) error {
	var req armTimerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	timerType, err := domain.ParseTimerTypeFromString(req.TimerType)
	if err != nil {
		return toHTTPError(err)
	}

	timer, err := h.timers.Arm(c.Context(), strings.TrimSpace(req.AttemptID), timerType, req.FireAt)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toTimerResponse(timer))
}

func (h *DialerHandler) CancelTimers(c *fiber.Ctx) error {
	attemptID := strings.TrimSpace(c.Params("attemptId"))

	var timerType *domain.TimerType
	if raw := strings.TrimSpace(c.Query("timer_type")); raw != "" {
		parsed, err := domain.ParseTimerTypeFromString(raw)
		if err != nil {
			return toHTTPError(err)
		}
		timerType = &parsed
	}

	cancelled, err := h.timers.Cancel(c.Context(), attemptID, timerType)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"cancelled": cancelled,
	})
}

func (h *DialerHandler) CancelCampaign(c *fiber.Ctx) error {
	campaignID := strings.TrimSpace(c.Params("id"))
	if err := h.dialer.CancelCampaign(c.Context(), campaignID); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"campaign_id": campaignID,
		"status":      domain.CampaignCancelled.String(),
	})
}

func toTimerResponse(t *domain.AttemptTimer) timerResponse {
	if t == nil {
		return timerResponse{}
	}
	return timerResponse{
		ID:        t.ID,
		AttemptID: t.AttemptID,
		TimerType: t.Type.String(),
		FireAt:    t.FireAt,
		Fired:     t.Fired,
		Cancelled: t.Cancelled,
	}
}
