package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultGatewayTimeout = 10 * time.Second

type originateRequest struct {
	AttemptID     string `json:"attemptId"`
	TrunkID       string `json:"trunkId"`
	To            string `json:"to"`
	CallerID      string `json:"callerId,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// HTTPGateway originates calls through a media-gateway HTTP API. The gateway
// answers asynchronously via the signaling endpoints; this call only starts
// the INVITE.
type HTTPGateway struct {
	client   *resty.Client
	endpoint string
}

func NewHTTPGateway(endpoint string) (*HTTPGateway, error) {
	client := resty.New()
	client.SetTimeout(defaultGatewayTimeout)
	client.SetRetryCount(0)

	return NewHTTPGatewayWithClient(endpoint, client)
}

func NewHTTPGatewayWithClient(endpoint string, client *resty.Client) (*HTTPGateway, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("gateway endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid gateway endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultGatewayTimeout)
	}
	client.SetRetryCount(0)

	return &HTTPGateway{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (g *HTTPGateway) PlaceCall(ctx context.Context, req DialRequest) (*DialResponse, error) {
	if g == nil || g.client == nil {
		return nil, fmt.Errorf("gateway is not initialized")
	}
	if strings.TrimSpace(req.AttemptID) == "" {
		return nil, fmt.Errorf("attempt id is required")
	}
	if strings.TrimSpace(req.TrunkID) == "" {
		return nil, fmt.Errorf("trunk id is required")
	}
	if strings.TrimSpace(req.Phone) == "" {
		return nil, fmt.Errorf("phone is required")
	}

	reqBody := originateRequest{
		AttemptID:     req.AttemptID,
		TrunkID:       req.TrunkID,
		To:            req.Phone,
		CallerID:      req.CallerID,
		CorrelationID: req.CorrelationID,
	}

	response, err := g.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		Post(g.endpoint)
	if err != nil {
		return nil, &ProviderError{
			Message:   "gateway request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Message:   "gateway returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &DialResponse{
			StatusCode: statusCode,
			Body:       responseBody,
			CallID:     gatewayCallID(response),
		}, nil
	}

	return nil, &ProviderError{
		StatusCode: statusCode,
		Message:    gatewayErrorMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func gatewayErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("gateway returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func gatewayCallID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Call-ID", "X-Call-Id", "X-Request-ID", "X-Request-Id"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
