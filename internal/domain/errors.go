package domain

import "errors"

var (
	// ErrValidation marks malformed or out-of-contract input.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a missing entity.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks an operation rejected by current entity state.
	ErrConflict = errors.New("conflict")
	// ErrTerminalState marks a transition attempted on an attempt that
	// already reached a terminal state. Rejected, logged, never applied.
	ErrTerminalState = errors.New("attempt is in a terminal state")
	// ErrInvalidTransition marks a transition not permitted by the
	// attempt lifecycle graph.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrRateLimited marks a dial denied by trunk admission control. The
	// reserved lead must be returned to the pool.
	ErrRateLimited = errors.New("trunk rate limit exceeded")
)
