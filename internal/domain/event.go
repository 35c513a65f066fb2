package domain

import (
	"fmt"
	"strings"
	"time"
)

// EventType classifies entries in the attempt event log.
type EventType string

const (
	EventAttemptCreated      EventType = "ATTEMPT_CREATED"
	EventStateChanged        EventType = "STATE_CHANGED"
	EventSIPCodeReceived     EventType = "SIP_CODE_RECEIVED"
	EventTimerFired          EventType = "TIMER_FIRED"
	EventSignalReceived      EventType = "SIGNAL_RECEIVED"
	EventAnomalousTransition EventType = "ANOMALOUS_TRANSITION"
)

func (t EventType) String() string { return string(t) }

func (t EventType) IsValid() bool {
	switch t {
	case EventAttemptCreated, EventStateChanged, EventSIPCodeReceived,
		EventTimerFired, EventSignalReceived, EventAnomalousTransition:
		return true
	}
	return false
}

func ParseEventTypeFromString(s string) (EventType, error) {
	t := EventType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: invalid event type %q", ErrValidation, s)
	}
	return t, nil
}

// AttemptEvent is one immutable entry in the append-only attempt log. The
// log is the source of truth: every transition appends exactly one event
// before the attempt projection is mutated, so current state can always be
// reconstructed even if the projection is lost.
type AttemptEvent struct {
	ID        string
	AttemptID string
	Type      EventType
	// Payload is a JSON document; free-form per event type.
	Payload   string
	CreatedAt time.Time
}

func (e *AttemptEvent) Validate() error {
	if e.AttemptID == "" {
		return fmt.Errorf("%w: attempt id is required", ErrValidation)
	}
	if !e.Type.IsValid() {
		return fmt.Errorf("%w: invalid event type %q", ErrValidation, e.Type)
	}
	return nil
}
