package stream

import (
	"sync"
	"time"
)

// AuthLimiter throttles remote hosts that keep failing the handshake.
// A nil limiter allows everything.
type AuthLimiter struct {
	mu       sync.Mutex
	history  map[string][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewAuthLimiter(limit int, interval time.Duration) *AuthLimiter {
	if limit <= 0 || interval <= 0 {
		return nil
	}
	return &AuthLimiter{
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

// Allow reports whether host is still under its failure budget.
func (rl *AuthLimiter) Allow(host string) bool {
	if rl == nil {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.fresh(host)) < rl.limit
}

// Fail records one failed handshake for host.
func (rl *AuthLimiter) Fail(host string) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.history[host] = append(rl.fresh(host), rl.now())
}

// fresh drops attempts outside the window. Caller holds mu.
func (rl *AuthLimiter) fresh(host string) []time.Time {
	windowStart := rl.now().Add(-rl.interval)
	attempts := rl.history[host]
	out := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		delete(rl.history, host)
		return nil
	}
	rl.history[host] = out
	return out
}
