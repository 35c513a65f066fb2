package signaling

import "context"

// DialRequest asks the signaling gateway to originate one outbound call.
type DialRequest struct {
	AttemptID     string
	TrunkID       string
	Phone         string
	CallerID      string
	CorrelationID string
}

// DialResponse stores gateway call metadata for audit and persistence.
type DialResponse struct {
	StatusCode int
	Body       string
	CallID     string
}

// Provider is the outbound call origination port.
type Provider interface {
	PlaceCall(ctx context.Context, req DialRequest) (*DialResponse, error)
}
