package ratelimit

import "context"

// Decision is the outcome of a token-bucket admission check.
type Decision struct {
	Allowed   bool
	Remaining float64
}

// TrunkLimiter controls call admission per trunk. Implementations must make
// the read-refill-compare-subtract sequence atomic per trunk: two concurrent
// callers may never both consume the same token.
type TrunkLimiter interface {
	// TryConsume attempts to take tokens from the trunk bucket. A denied
	// decision is a normal negative result, not an error; bucket state is
	// only mutated by the refill on denial.
	TryConsume(ctx context.Context, trunkID string, tokens float64) (Decision, error)
}
