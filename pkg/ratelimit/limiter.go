package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var limiterWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "acct_ratelimit_wait_seconds",
	Help:    "Time spent waiting for a local rate limit token",
	Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
})

// DefaultRate is the documented per-client request rate of the API
// (600 requests per minute).
const DefaultRate = 10.0

// DefaultBurst allows short bursts above the steady rate.
const DefaultBurst = 10

// Limiter is a token bucket shared by every caller that holds it. Wait is
// safe for concurrent use: a caller either gets a token immediately (within
// the burst allowance) or sleeps until the next token is available.
type Limiter struct {
	limiter *rate.Limiter
}

// NewLimiter creates a limiter allowing perSecond requests on average with
// the given burst.
func NewLimiter(perSecond float64, burst int) (*Limiter, error) {
	if perSecond <= 0 {
		return nil, fmt.Errorf("rate must be positive (got %v)", perSecond)
	}
	if burst < 1 {
		return nil, fmt.Errorf("burst must be >= 1 (got %d)", burst)
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}, nil
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}
	limiterWaitSeconds.Observe(time.Since(start).Seconds())
	return nil
}

// Allow reports whether a token is available now, consuming it if so.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// Rate returns the configured steady rate per second.
func (l *Limiter) Rate() float64 {
	return float64(l.limiter.Limit())
}

// Burst returns the configured burst size.
func (l *Limiter) Burst() int {
	return l.limiter.Burst()
}
