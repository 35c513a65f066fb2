package domain

import (
	"fmt"
	"time"
)

// TrunkConfig describes a carrier-facing trunk and its admission limits.
type TrunkConfig struct {
	ID        string
	CarrierID string
	Name      string
	// MaxCPS is the token-bucket capacity in calls per second.
	MaxCPS    float64
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (t *TrunkConfig) Validate() error {
	if t.CarrierID == "" {
		return fmt.Errorf("%w: carrier id is required", ErrValidation)
	}
	if t.MaxCPS <= 0 {
		return fmt.Errorf("%w: max cps must be > 0", ErrValidation)
	}
	return nil
}
