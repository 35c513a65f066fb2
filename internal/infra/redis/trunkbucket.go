package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dialware/dialer-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultWindowSeconds = 1.0
	// Idle buckets expire and refill from scratch, which is equivalent to a
	// full refill under the elapsed-time formula.
	bucketIdleTTLSeconds = 3600
)

// consumeScript performs refill and conditional consume as one atomic unit.
// Tokens are rational to avoid systematic under-utilization at low
// capacities, and last_refill is rewritten on denied calls too so the refill
// calculation stays drift-free.
var consumeScript = goredis.NewScript(`
local capacity = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local requested = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local state = redis.call("HMGET", KEYS[1], "tokens", "last_refill")
local tokens = tonumber(state[1])
local last = tonumber(state[2])
if tokens == nil or last == nil then
  tokens = capacity
  last = now
end

local elapsed = now - last
if elapsed < 0 then
  elapsed = 0
end
tokens = tokens + elapsed * (capacity / window)
if tokens > capacity then
  tokens = capacity
end

local allowed = 0
if tokens >= requested then
  tokens = tokens - requested
  allowed = 1
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "last_refill", tostring(now))
redis.call("EXPIRE", KEYS[1], ttl)
return {allowed, tostring(tokens)}
`)

// CapacityFunc resolves the bucket capacity (max CPS) for a trunk.
type CapacityFunc func(ctx context.Context, trunkID string) (float64, error)

var _ ratelimit.TrunkLimiter = (*TrunkBucketLimiter)(nil)

// TrunkBucketLimiter is a distributed per-trunk token bucket backed by Redis.
// Each trunk has its own key; there is no cross-trunk coordination.
type TrunkBucketLimiter struct {
	client        *goredis.Client
	capacityFor   CapacityFunc
	windowSeconds float64
	now           func() time.Time
	script        *goredis.Script
}

func NewTrunkBucketLimiter(client *goredis.Client, capacityFor CapacityFunc) (*TrunkBucketLimiter, error) {
	return newTrunkBucketLimiter(client, capacityFor, defaultWindowSeconds, time.Now)
}

func newTrunkBucketLimiter(
	client *goredis.Client,
	capacityFor CapacityFunc,
	windowSeconds float64,
	nowFn func() time.Time,
) (*TrunkBucketLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if capacityFor == nil {
		return nil, fmt.Errorf("capacity resolver is required")
	}
	if windowSeconds <= 0 {
		windowSeconds = defaultWindowSeconds
	}
	if nowFn == nil {
		nowFn = time.Now
	}

	return &TrunkBucketLimiter{
		client:        client,
		capacityFor:   capacityFor,
		windowSeconds: windowSeconds,
		now:           nowFn,
		script:        consumeScript,
	}, nil
}

func (l *TrunkBucketLimiter) TryConsume(ctx context.Context, trunkID string, tokens float64) (ratelimit.Decision, error) {
	if l == nil || l.client == nil || l.script == nil {
		return ratelimit.Decision{}, fmt.Errorf("trunk limiter is not initialized")
	}

	normalizedTrunk := strings.TrimSpace(trunkID)
	if normalizedTrunk == "" {
		return ratelimit.Decision{}, fmt.Errorf("trunk id is required")
	}
	if tokens <= 0 {
		tokens = 1
	}

	if ctx == nil {
		ctx = context.Background()
	}

	capacity, err := l.capacityFor(ctx, normalizedTrunk)
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("failed to resolve trunk capacity: %w", err)
	}
	if capacity <= 0 {
		return ratelimit.Decision{}, fmt.Errorf("trunk %q has no dialable capacity", normalizedTrunk)
	}

	key := fmt.Sprintf("trunkbucket:%s", normalizedTrunk)
	nowSeconds := float64(l.now().UnixMicro()) / 1e6

	raw, err := l.script.Run(ctx, l.client, []string{key},
		formatFloat(capacity),
		formatFloat(l.windowSeconds),
		formatFloat(tokens),
		formatFloat(nowSeconds),
		bucketIdleTTLSeconds,
	).Result()
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("failed to evaluate trunk bucket: %w", err)
	}

	return parseDecision(raw)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseDecision(raw any) (ratelimit.Decision, error) {
	values, ok := raw.([]any)
	if !ok || len(values) != 2 {
		return ratelimit.Decision{}, fmt.Errorf("unexpected bucket script reply: %v", raw)
	}

	allowed, ok := values[0].(int64)
	if !ok {
		return ratelimit.Decision{}, fmt.Errorf("unexpected allowed flag in bucket reply: %v", values[0])
	}

	remainingStr, ok := values[1].(string)
	if !ok {
		return ratelimit.Decision{}, fmt.Errorf("unexpected token count in bucket reply: %v", values[1])
	}
	remaining, err := strconv.ParseFloat(remainingStr, 64)
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("failed to parse remaining tokens: %w", err)
	}

	return ratelimit.Decision{
		Allowed:   allowed == 1,
		Remaining: remaining,
	}, nil
}
