// Package ratelimit gates outbound calls to the accounting API.
//
// Two mechanisms live here. Limiter is a local token bucket that paces
// requests from this process and may be shared by any number of concurrent
// streams. Tracker follows the server-side request quota reported in
// X-RateLimit-* and Retry-After headers and keeps it in Redis, so every
// process working against the same company sees the same budget.
package ratelimit

import (
	"time"
)

// Redis keys for quota state storage.
const (
	RedisKeyRemaining      = "acct:quota:remaining"
	RedisKeyResetTimestamp = "acct:quota:reset_timestamp"
	RedisKeyLastUpdate     = "acct:quota:last_update"
)

// Thresholds for quota decisions, in requests remaining in the window.
const (
	// QuotaThresholdCritical blocks requests when remaining falls below this value.
	QuotaThresholdCritical = 5

	// QuotaThresholdWarning slows requests down when remaining falls below this value.
	QuotaThresholdWarning = 20

	// QuotaThresholdHealthy indicates normal operation at or above this value.
	QuotaThresholdHealthy = 50
)

// QuotaState is the server-side request budget as last reported by the API.
type QuotaState struct {
	// Remaining requests in the current window (X-RateLimit-Remaining).
	Remaining int `json:"remaining"`

	// ResetAt is when the window resets (X-RateLimit-Reset or Retry-After).
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was recorded.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= QuotaThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state is older than maxAge.
func (s *QuotaState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsBlock returns true if requests should be held back until the window resets.
// A window that already reset never blocks.
func (s *QuotaState) NeedsBlock() bool {
	return s.Remaining < QuotaThresholdCritical && s.TimeUntilReset() > 0
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *QuotaState) NeedsThrottling() bool {
	return s.Remaining < QuotaThresholdWarning && s.Remaining >= QuotaThresholdCritical
}

// TimeUntilReset returns the duration until the window resets, or 0 if it already has.
func (s *QuotaState) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates IsHealthy from Remaining.
func (s *QuotaState) UpdateHealth() {
	s.IsHealthy = s.Remaining >= QuotaThresholdHealthy
}
