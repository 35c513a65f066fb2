package domain

import (
	"fmt"
	"strings"
	"time"
)

// TimerType identifies the safety-net timers armed for an attempt.
type TimerType string

const (
	TimerNoAnswer    TimerType = "NO_ANSWER"
	TimerRingTimeout TimerType = "RING_TIMEOUT"
	TimerMaxDuration TimerType = "MAX_DURATION"
)

func (t TimerType) String() string { return string(t) }

func (t TimerType) IsValid() bool {
	switch t {
	case TimerNoAnswer, TimerRingTimeout, TimerMaxDuration:
		return true
	}
	return false
}

func ParseTimerTypeFromString(s string) (TimerType, error) {
	t := TimerType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: invalid timer type %q", ErrValidation, s)
	}
	return t, nil
}

// ForcedState is the state a firing timer pushes the attempt into when no
// terminal signaling event arrived in time.
func (t TimerType) ForcedState() AttemptState {
	switch t {
	case TimerMaxDuration:
		return StateEnded
	default:
		return StateNoAnswer
	}
}

// AttemptTimer is a time-bound safety net for silent signaling. A timer is
// terminal once fired or cancelled; exactly one of the two may become true,
// never both.
type AttemptTimer struct {
	ID        string
	AttemptID string
	Type      TimerType
	FireAt    time.Time
	Fired     bool
	Cancelled bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (t *AttemptTimer) Validate() error {
	if t.AttemptID == "" {
		return fmt.Errorf("%w: attempt id is required", ErrValidation)
	}
	if !t.Type.IsValid() {
		return fmt.Errorf("%w: invalid timer type %q", ErrValidation, t.Type)
	}
	if t.FireAt.IsZero() {
		return fmt.Errorf("%w: fire-at is required", ErrValidation)
	}
	return nil
}

// IsTerminal reports whether the timer can still fire or be cancelled.
func (t *AttemptTimer) IsTerminal() bool {
	return t.Fired || t.Cancelled
}
