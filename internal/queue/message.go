package queue

import (
	"fmt"
	"strings"

	"github.com/dialware/dialer-engine/internal/domain"
)

// DialJobMessage is the broker payload asking a dial worker to place one call.
type DialJobMessage struct {
	AttemptID     string          `json:"attemptId"`
	CampaignID    string          `json:"campaignId"`
	TrunkID       string          `json:"trunkId"`
	Phone         string          `json:"phone"`
	CorrelationID string          `json:"correlationId,omitempty"`
	DialMode      domain.DialMode `json:"dialMode"`
}

func (m DialJobMessage) Validate() error {
	if strings.TrimSpace(m.AttemptID) == "" {
		return fmt.Errorf("attemptId is required")
	}
	if strings.TrimSpace(m.TrunkID) == "" {
		return fmt.Errorf("trunkId is required")
	}
	if strings.TrimSpace(m.Phone) == "" {
		return fmt.Errorf("phone is required")
	}
	if !m.DialMode.IsValid() {
		return fmt.Errorf("invalid dial mode %q", m.DialMode)
	}
	return nil
}
