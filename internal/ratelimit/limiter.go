// Package ratelimit implements a sliding-window per-client limiter for the
// HTTP surface.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter tracks request timestamps per client address over a rolling
// window.
type Limiter struct {
	limit  int
	window time.Duration

	mu       sync.Mutex
	requests map[string][]time.Time
}

// NewLimiter allows limit requests per window for each client.
func NewLimiter(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:    limit,
		window:   window,
		requests: make(map[string][]time.Time),
	}
}

// Allow records a request for ip if within budget and reports whether it was
// admitted along with the remaining allowance.
func (l *Limiter) Allow(ip string) (bool, int) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(ip, now)

	used := len(l.requests[ip])
	if used >= l.limit {
		return false, 0
	}

	l.requests[ip] = append(l.requests[ip], now)
	return true, l.limit - used - 1
}

// RetryAfter returns how long ip must wait before the oldest request in its
// window expires.
func (l *Limiter) RetryAfter(ip string) time.Duration {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(ip, now)

	ts := l.requests[ip]
	if len(ts) == 0 {
		return 0
	}

	wait := ts[0].Add(l.window).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// UsageStats summarizes a client's current window.
type UsageStats struct {
	Limit         int     `json:"limit"`
	Remaining     int     `json:"remaining"`
	Used          int     `json:"used"`
	WindowSeconds float64 `json:"window_seconds"`
}

// Stats returns the current window usage for ip without recording a request.
func (l *Limiter) Stats(ip string) UsageStats {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(ip, now)

	used := len(l.requests[ip])
	remaining := l.limit - used
	if remaining < 0 {
		remaining = 0
	}
	return UsageStats{
		Limit:         l.limit,
		Remaining:     remaining,
		Used:          used,
		WindowSeconds: l.window.Seconds(),
	}
}

// Reset clears the window for ip.
func (l *Limiter) Reset(ip string) {
	l.mu.Lock()
	delete(l.requests, ip)
	l.mu.Unlock()
}

// Limit returns the configured per-window budget.
func (l *Limiter) Limit() int {
	return l.limit
}

func (l *Limiter) pruneLocked(ip string, now time.Time) {
	cutoff := now.Add(-l.window)
	ts := l.requests[ip]

	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(l.requests, ip)
		return
	}
	l.requests[ip] = kept
}
