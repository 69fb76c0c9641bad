package redis

import (
	"context"
	"fmt"
	"time"

	"crypto-payment-gate/internal/domain/model"
	"crypto-payment-gate/internal/domain/ports/adapter"
	"crypto-payment-gate/internal/infra/metrics"

	"github.com/go-redis/redis/v8"
)

// fixedWindow increments the counter and opens the window on the first hit.
// Returns {count, pttl}.
var fixedWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {n, ttl}`)

// RateLimiter is the multi-process fixed window limiter. Every instance sharing the
// Redis database sees the same counters.
type RateLimiter struct {
	client *Client
	free   int
	paid   int
	window time.Duration
	now    func() time.Time
}

var _ adapter.RateLimiter = (*RateLimiter)(nil)

// NewRateLimiter builds a limiter with separate free and paid quotas per window.
// A paid quota <= 0 means paid callers are never limited.
func NewRateLimiter(client *Client, free, paid int, window time.Duration) *RateLimiter {
	return &RateLimiter{client: client, free: free, paid: paid, window: window, now: time.Now}
}

func (r *RateLimiter) Check(ctx context.Context, key, endpoint string, isPaid bool) (model.RateLimitResult, error) {
	limit := r.free
	if isPaid {
		if r.paid <= 0 {
			metrics.IncRateLimit(true, true)
			return model.RateLimitResult{Allowed: true, Remaining: -1}, nil
		}
		limit = r.paid
	}

	res, err := fixedWindow.Run(ctx, r.client.cli, []string{RateLimitKey(key, endpoint, isPaid)}, r.window.Milliseconds()).Int64Slice()
	if err != nil {
		return model.RateLimitResult{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 2 {
		return model.RateLimitResult{}, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}
	count, ttl := res[0], res[1]
	out := model.RateLimitResult{ResetAt: r.now().Add(time.Duration(ttl) * time.Millisecond)}
	if count > int64(limit) {
		metrics.IncRateLimit(isPaid, false)
		return out, nil
	}
	out.Allowed = true
	out.Remaining = limit - int(count)
	metrics.IncRateLimit(isPaid, true)
	return out, nil
}

func RateLimitKey(key, endpoint string, isPaid bool) string {
	tier := "free"
	if isPaid {
		tier = "paid"
	}
	return fmt.Sprintf("rate_limit:%s:%s:%s", tier, endpoint, key)
}
