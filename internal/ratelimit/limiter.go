// Package ratelimit provides the per-crawl request gate.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter spaces requests at least 1/rps apart. A burst of one means no two
// requests ever go out closer than the interval.
type Limiter struct {
	mu      sync.RWMutex
	limiter *rate.Limiter
	rps     float64
	waited  time.Duration
	calls   int64
}

// NewLimiter creates a limiter allowing requestsPerSecond requests. A
// non-positive rate disables limiting.
func NewLimiter(requestsPerSecond float64) *Limiter {
	return &Limiter{
		limiter: rate.NewLimiter(limitFor(requestsPerSecond), 1),
		rps:     requestsPerSecond,
	}
}

func limitFor(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

// Wait blocks until a request is allowed or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	err := l.limiter.Wait(ctx)

	l.mu.Lock()
	l.calls++
	l.waited += time.Since(start)
	l.mu.Unlock()

	return err
}

// Allow reports whether a request may go out now, consuming the token if so.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// Interval returns the minimum spacing between requests.
func (l *Limiter) Interval() time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.rps <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / l.rps)
}

// SetRate updates the rate.
func (l *Limiter) SetRate(requestsPerSecond float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rps = requestsPerSecond
	l.limiter.SetLimit(limitFor(requestsPerSecond))
}

// Stats returns rate limiter statistics.
func (l *Limiter) Stats() LimiterStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return LimiterStats{
		Rate:      l.rps,
		Calls:     l.calls,
		TotalWait: l.waited,
	}
}

// LimiterStats contains rate limiter statistics.
type LimiterStats struct {
	Rate      float64       `json:"rate"`
	Calls     int64         `json:"calls"`
	TotalWait time.Duration `json:"total_wait"`
}
