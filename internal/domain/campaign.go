package domain

import (
	"fmt"
	"strings"
	"time"
)

// DialMode selects how aggressively a campaign places calls.
type DialMode string

const (
	DialModePreview    DialMode = "PREVIEW"
	DialModePower      DialMode = "POWER"
	DialModePredictive DialMode = "PREDICTIVE"
)

func (m DialMode) String() string { return string(m) }

func (m DialMode) IsValid() bool {
	switch m {
	case DialModePreview, DialModePower, DialModePredictive:
		return true
	}
	return false
}

func ParseDialModeFromString(s string) (DialMode, error) {
	m := DialMode(strings.ToUpper(strings.TrimSpace(s)))
	if !m.IsValid() {
		return "", fmt.Errorf("%w: invalid dial mode %q", ErrValidation, s)
	}
	return m, nil
}

// CampaignStatus represents the run state of a campaign.
type CampaignStatus string

const (
	CampaignActive    CampaignStatus = "ACTIVE"
	CampaignPaused    CampaignStatus = "PAUSED"
	CampaignCancelled CampaignStatus = "CANCELLED"
	CampaignCompleted CampaignStatus = "COMPLETED"
)

func (s CampaignStatus) String() string { return string(s) }

func (s CampaignStatus) IsValid() bool {
	switch s {
	case CampaignActive, CampaignPaused, CampaignCancelled, CampaignCompleted:
		return true
	}
	return false
}

// Campaign is an outbound dialing campaign owned by an account.
type Campaign struct {
	ID        string
	AccountID string
	Name      string
	DialMode  DialMode
	TrunkID   string
	// TargetDialRatio is the predictive over-dial ratio (calls placed per
	// available agent). The pacing advisor interprets it; the orchestrator
	// only bounds its recommendation.
	TargetDialRatio float64
	// Active window, minutes from midnight UTC. End of 0 means no window.
	WindowStartMin int
	WindowEndMin   int
	Status         CampaignStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (c *Campaign) Validate() error {
	if c.AccountID == "" {
		return fmt.Errorf("%w: account id is required", ErrValidation)
	}
	if !c.DialMode.IsValid() {
		return fmt.Errorf("%w: invalid dial mode %q", ErrValidation, c.DialMode)
	}
	if c.TrunkID == "" {
		return fmt.Errorf("%w: trunk id is required", ErrValidation)
	}
	if c.TargetDialRatio < 0 {
		return fmt.Errorf("%w: target dial ratio must be >= 0", ErrValidation)
	}
	return nil
}

// InWindow reports whether now falls inside the campaign's active window.
func (c *Campaign) InWindow(now time.Time) bool {
	if c.WindowEndMin == 0 {
		return true
	}
	minute := now.UTC().Hour()*60 + now.UTC().Minute()
	if c.WindowStartMin <= c.WindowEndMin {
		return minute >= c.WindowStartMin && minute < c.WindowEndMin
	}
	// Window wraps midnight.
	return minute >= c.WindowStartMin || minute < c.WindowEndMin
}
