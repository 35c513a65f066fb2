package domain

import (
	"fmt"
	"strings"
	"time"
)

// LeadStatus represents the contact state of a campaign lead.
type LeadStatus string

const (
	LeadNew       LeadStatus = "NEW"
	LeadReserved  LeadStatus = "RESERVED"
	LeadAttempted LeadStatus = "ATTEMPTED"
	LeadDNC       LeadStatus = "DNC"
)

func (s LeadStatus) String() string { return string(s) }

func (s LeadStatus) IsValid() bool {
	switch s {
	case LeadNew, LeadReserved, LeadAttempted, LeadDNC:
		return true
	}
	return false
}

func ParseLeadStatusFromString(s string) (LeadStatus, error) {
	st := LeadStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid lead status %q", ErrValidation, s)
	}
	return st, nil
}

// Lead is a dialable contact inside a campaign. Reservation moves it
// NEW -> RESERVED exactly once across concurrent callers; a denied admission
// releases it back to NEW without marking it attempted.
type Lead struct {
	ID         string
	CampaignID string
	AccountID  string
	Phone      string
	Status     LeadStatus
	ReservedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (l *Lead) Validate() error {
	if l.CampaignID == "" {
		return fmt.Errorf("%w: campaign id is required", ErrValidation)
	}
	if l.AccountID == "" {
		return fmt.Errorf("%w: account id is required", ErrValidation)
	}
	if !e164Pattern.MatchString(l.Phone) {
		return fmt.Errorf("%w: phone must be E.164, got %q", ErrValidation, l.Phone)
	}
	return nil
}
