package ratelimit

import (
	"context"
	"sync"
	"time"

	"crypto-payment-gate/internal/domain/model"
	"crypto-payment-gate/internal/domain/ports/adapter"
	"crypto-payment-gate/internal/infra/metrics"
)

type window struct {
	count   int
	resetAt time.Time
}

// Memory is a single-process fixed window limiter. Counters live only in memory and
// reset on restart. Use the redis limiter when several gate instances share traffic.
type Memory struct {
	mu      sync.Mutex
	windows map[string]*window
	free    int
	paid    int
	period  time.Duration
	now     func() time.Time
}

var _ adapter.RateLimiter = (*Memory)(nil)

// NewMemory returns a limiter allowing free requests per period for unpaid callers and
// paid requests for callers holding a payment. paid <= 0 disables the paid quota.
func NewMemory(free, paid int, period time.Duration) *Memory {
	return &Memory{
		windows: make(map[string]*window),
		free:    free,
		paid:    paid,
		period:  period,
		now:     time.Now,
	}
}

func windowKey(key, endpoint string, isPaid bool) string {
	if isPaid {
		return "paid|" + endpoint + "|" + key
	}
	return "free|" + endpoint + "|" + key
}

func (m *Memory) Check(_ context.Context, key, endpoint string, isPaid bool) (model.RateLimitResult, error) {
	limit := m.free
	if isPaid {
		if m.paid <= 0 {
			metrics.IncRateLimit(true, true)
			return model.RateLimitResult{Allowed: true, Remaining: -1}, nil
		}
		limit = m.paid
	}

	m.mu.Lock()
	now := m.now()
	k := windowKey(key, endpoint, isPaid)
	w, ok := m.windows[k]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(m.period)}
		m.windows[k] = w
	}
	w.count++
	count, resetAt := w.count, w.resetAt
	m.mu.Unlock()

	if count > limit {
		metrics.IncRateLimit(isPaid, false)
		return model.RateLimitResult{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}
	metrics.IncRateLimit(isPaid, true)
	return model.RateLimitResult{Allowed: true, Remaining: limit - count, ResetAt: resetAt}, nil
}

// Sweep drops every window that closed before now and reports how many went.
func (m *Memory) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, k)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (m *Memory) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = m.period
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			m.Sweep(now)
		}
	}
}
