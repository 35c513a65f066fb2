package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dialware/dialer-engine/internal/domain"
	"github.com/gofiber/fiber/v2"
)

type AttemptService interface {
	Create(ctx context.Context, attempt *domain.CallAttempt) (*domain.CallAttempt, error)
	Transition(ctx context.Context, id string, to domain.AttemptState, reason string) (*domain.CallAttempt, error)
	RecordSIPCode(ctx context.Context, id string, code int) (*domain.CallAttempt, error)
	Hangup(ctx context.Context, id string) (*domain.CallAttempt, error)
	AppendEvent(ctx context.Context, attemptID string, eventType domain.EventType, payload string) (*domain.AttemptEvent, error)
	GetByID(ctx context.Context, id string) (*domain.CallAttempt, error)
	GetByCorrelationID(ctx context.Context, correlationID string) (*domain.CallAttempt, error)
	ListActive(ctx context.Context, campaignID string) ([]domain.CallAttempt, error)
	ListEvents(ctx context.Context, attemptID string) ([]domain.AttemptEvent, error)
}

type AttemptHandler struct {
	service AttemptService
}

func NewAttemptHandler(service AttemptService) (*AttemptHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("attempt service is required")
	}
	return &AttemptHandler{service: service}, nil
}

func RegisterAttemptRoutes(router fiber.Router, service AttemptService) error {
	h, err := NewAttemptHandler(service)
	if err != nil {
		return err
	}

	router.Post("/call-attempts", h.CreateAttempt)
	router.Get("/call-attempts/active", h.ListActiveAttempts)
	router.Get("/call-attempts/by-correlation/:id", h.GetAttemptByCorrelation)
	router.Get("/call-attempts/:id", h.GetAttempt)
	router.Patch("/call-attempts/:id", h.TransitionAttempt)
	router.Post("/call-attempts/:id/sip-code", h.RecordSIPCode)
	router.Post("/call-attempts/:id/hangup", h.HangupAttempt)
	router.Get("/call-attempts/:id/events", h.ListAttemptEvents)
	router.Post("/events", h.AppendEvent)

	return nil
}

type createAttemptRequest struct {
	CampaignID string `json:"campaign_id"`
	AccountID  string `json:"account_id"`
	LeadID     string `json:"lead_id"`
	TrunkID    string `json:"trunk_id"`
	Phone      string `json:"phone"`
}

type transitionAttemptRequest struct {
	State  string `json:"state"`
	Reason string `json:"reason"`
}

type sipCodeRequest struct {
	SIPCode int `json:"sip_code"`
}

type appendEventRequest struct {
	AttemptID string `json:"attempt_id"`
	EventType string `json:"event_type"`
	Payload   string `json:"payload"`
}

type attemptResponse struct {
	ID            string    `json:"id"`
	CampaignID    string    `json:"campaign_id"`
	AccountID     string    `json:"account_id,omitempty"`
	LeadID        string    `json:"lead_id"`
	TrunkID       string    `json:"trunk_id"`
	Phone         string    `json:"phone"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	State         string    `json:"state"`
	SIPCodes      []int     `json:"sip_codes"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type attemptEventResponse struct {
	ID        string    `json:"id"`
	AttemptID string    `json:"attempt_id"`
	EventType string    `json:"event_type"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *AttemptHandler) CreateAttempt(c *fiber.Ctx) error {
	var req createAttemptRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	attempt, err := h.service.Create(c.Context(), &domain.CallAttempt{
		CampaignID: strings.TrimSpace(req.CampaignID),
		AccountID:  strings.TrimSpace(req.AccountID),
		LeadID:     strings.TrimSpace(req.LeadID),
		TrunkID:    strings.TrimSpace(req.TrunkID),
		Phone:      strings.TrimSpace(req.Phone),
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toAttemptResponse(attempt))
}

func (h *AttemptHandler) GetAttempt(c *fiber.Ctx) error {
	attempt, err := h.service.GetByID(c.Context(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toAttemptResponse(attempt))
}

func (h *AttemptHandler) GetAttemptByCorrelation(c *fiber.Ctx) error {
	attempt, err := h.service.GetByCorrelationID(c.Context(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toAttemptResponse(attempt))
}

func (h *AttemptHandler) ListActiveAttempts(c *fiber.Ctx) error {
	campaignID := strings.TrimSpace(c.Query("campaign_id"))
	if campaignID == "" {
		return toHTTPError(fmt.Errorf("%w: campaign_id is required", domain.ErrValidation))
	}

	attempts, err := h.service.ListActive(c.Context(), campaignID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": toAttemptResponses(attempts),
	})
}

func (h *AttemptHandler) TransitionAttempt(c *fiber.Ctx) error {
	var req transitionAttemptRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	state, err := domain.ParseAttemptStateFromString(req.State)
	if err != nil {
		return toHTTPError(err)
	}

	attempt, err := h.service.Transition(c.Context(), strings.TrimSpace(c.Params("id")), state, strings.TrimSpace(req.Reason))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toAttemptResponse(attempt))
}

func (h *AttemptHandler) RecordSIPCode(c *fiber.Ctx) error {
	var req sipCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	attempt, err := h.service.RecordSIPCode(c.Context(), strings.TrimSpace(c.Params("id")), req.SIPCode)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toAttemptResponse(attempt))
}

func (h *AttemptHandler) HangupAttempt(c *fiber.Ctx) error {
	attempt, err := h.service.Hangup(c.Context(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toAttemptResponse(attempt))
}

func (h *AttemptHandler) ListAttemptEvents(c *fiber.Ctx) error {
	events, err := h.service.ListEvents(c.Context(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]attemptEventResponse, 0, len(events))
	for i := range events {
		responses = append(responses, toEventResponse(&events[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": responses})
}

func (h *AttemptHandler) AppendEvent(c *fiber.Ctx) error {
	var req appendEventRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	eventType, err := domain.ParseEventTypeFromString(req.EventType)
	if err != nil {
		return toHTTPError(err)
	}

	event, err := h.service.AppendEvent(c.Context(), strings.TrimSpace(req.AttemptID), eventType, req.Payload)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toEventResponse(event))
}

func toAttemptResponses(attempts []domain.CallAttempt) []attemptResponse {
	responses := make([]attemptResponse, 0, len(attempts))
	for i := range attempts {
		responses = append(responses, toAttemptResponse(&attempts[i]))
	}
	return responses
}

func toAttemptResponse(a *domain.CallAttempt) attemptResponse {
	if a == nil {
		return attemptResponse{}
	}

	codes := a.SIPCodes
	if codes == nil {
		codes = []int{}
	}

	return attemptResponse{
		ID:            a.ID,
		CampaignID:    a.CampaignID,
		AccountID:     a.AccountID,
		LeadID:        a.LeadID,
		TrunkID:       a.TrunkID,
		Phone:         a.Phone,
		CorrelationID: a.CorrelationID,
		State:         a.State.String(),
		SIPCodes:      codes,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

func toEventResponse(e *domain.AttemptEvent) attemptEventResponse {
	if e == nil {
		return attemptEventResponse{}
	}
	return attemptEventResponse{
		ID:        e.ID,
		AttemptID: e.AttemptID,
		EventType: e.Type.String(),
		Payload:   e.Payload,
		CreatedAt: e.CreatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrTerminalState),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		return fiber.NewError(fiber.StatusTooManyRequests, err.Error())
	default:
		return err
	}
}
