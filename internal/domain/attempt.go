package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// AttemptState represents the lifecycle state of an outbound call attempt.
type AttemptState string

const (
	StateQueued    AttemptState = "QUEUED"
	StateDialing   AttemptState = "DIALING"
	StateRinging   AttemptState = "RINGING"
	StateConnected AttemptState = "CONNECTED"
	StateOnHold    AttemptState = "ON_HOLD"
	StateEnded     AttemptState = "ENDED"
	StateNoAnswer  AttemptState = "NO_ANSWER"
	StateBusy      AttemptState = "BUSY"
	StateFailed    AttemptState = "FAILED"
	StateVoicemail AttemptState = "VOICEMAIL"
	StateCancelled AttemptState = "CANCELLED"
)

func (s AttemptState) String() string { return string(s) }

func (s AttemptState) IsValid() bool {
	switch s {
	case StateQueued, StateDialing, StateRinging, StateConnected, StateOnHold,
		StateEnded, StateNoAnswer, StateBusy, StateFailed, StateVoicemail, StateCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the state accepts no further transitions.
func (s AttemptState) IsTerminal() bool {
	switch s {
	case StateEnded, StateNoAnswer, StateBusy, StateFailed, StateVoicemail, StateCancelled:
		return true
	}
	return false
}

// transitions is the lifecycle graph:
// QUEUED -> DIALING -> RINGING -> {CONNECTED, NO_ANSWER, BUSY, FAILED, VOICEMAIL}
// CONNECTED <-> ON_HOLD, CONNECTED/ON_HOLD -> ENDED.
// CANCELLED is reachable from every non-terminal state.
var transitions = map[AttemptState][]AttemptState{
	StateQueued:    {StateDialing, StateFailed, StateCancelled},
	StateDialing:   {StateRinging, StateConnected, StateNoAnswer, StateBusy, StateFailed, StateVoicemail, StateCancelled},
	StateRinging:   {StateConnected, StateNoAnswer, StateBusy, StateFailed, StateVoicemail, StateCancelled},
	StateConnected: {StateOnHold, StateEnded, StateFailed, StateCancelled},
	StateOnHold:    {StateConnected, StateEnded, StateFailed, StateCancelled},
}

// CanTransitionTo reports whether moving from s to target is permitted.
func (s AttemptState) CanTransitionTo(target AttemptState) bool {
	if s.IsTerminal() {
		return false
	}
	for _, next := range transitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// TransitionSources returns every state from which target is reachable.
// The repository layer uses this to build conditional state updates.
func TransitionSources(target AttemptState) []AttemptState {
	sources := make([]AttemptState, 0, 4)
	for from, targets := range transitions {
		for _, next := range targets {
			if next == target {
				sources = append(sources, from)
				break
			}
		}
	}
	return sources
}

func ParseAttemptStateFromString(s string) (AttemptState, error) {
	st := AttemptState(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid attempt state %q", ErrValidation, s)
	}
	return st, nil
}

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// CallAttempt is one outbound dial try against a single lead. Created exactly
// once per admitted dial, mutated only through state-machine transitions,
// never deleted.
type CallAttempt struct {
	ID            string
	CampaignID    string
	AccountID     string
	LeadID        string
	TrunkID       string
	Phone         string
	CorrelationID string
	State         AttemptState
	// SIPCodes is the ordered list of SIP status codes observed for this
	// attempt. Diagnostics only; it never drives transitions except the
	// final code.
	SIPCodes  []int
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a *CallAttempt) Validate() error {
	if a.CampaignID == "" {
		return fmt.Errorf("%w: campaign id is required", ErrValidation)
	}
	if a.LeadID == "" {
		return fmt.Errorf("%w: lead id is required", ErrValidation)
	}
	if a.TrunkID == "" {
		return fmt.Errorf("%w: trunk id is required", ErrValidation)
	}
	if !e164Pattern.MatchString(a.Phone) {
		return fmt.Errorf("%w: phone must be E.164, got %q", ErrValidation, a.Phone)
	}
	if !a.State.IsValid() {
		return fmt.Errorf("%w: invalid attempt state %q", ErrValidation, a.State)
	}
	return nil
}

// LastSIPCode returns the most recent SIP status code, or 0 when none was observed.
func (a *CallAttempt) LastSIPCode() int {
	if len(a.SIPCodes) == 0 {
		return 0
	}
	return a.SIPCodes[len(a.SIPCodes)-1]
}

// HangupState maps a hangup-before-answer to its terminal state using the
// last observed SIP code: 486/600 is busy, another final 4xx-6xx is a
// failure, and no final code means the far end never answered.
func (a *CallAttempt) HangupState() AttemptState {
	switch code := a.LastSIPCode(); {
	case code == 486 || code == 600:
		return StateBusy
	case code >= 400:
		return StateFailed
	default:
		return StateNoAnswer
	}
}
