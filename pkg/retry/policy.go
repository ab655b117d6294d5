package retry

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPolicy is returned when a Policy fails validation.
var ErrInvalidPolicy = errors.New("invalid retry policy")

// Policy holds the configuration for retry logic. It is a plain value and
// may be shared freely between operations.
type Policy struct {
	// MaxAttempts is the maximum number of attempts (including the initial call).
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps every individual delay.
	MaxDelay time.Duration

	// Multiplier is applied to the delay after each retry. Must be >= 1.
	Multiplier float64

	// MaxElapsed bounds the wall-clock time since the first attempt after
	// which no further retry is started. Zero disables the bound.
	MaxElapsed time.Duration
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		MaxElapsed:   120 * time.Second,
	}
}

// NoRetry returns a policy that performs exactly one attempt.
func NoRetry() Policy {
	p := DefaultPolicy()
	p.MaxAttempts = 1
	return p
}

// Validate checks that the policy can drive the executor.
func (p Policy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return fmt.Errorf("%w: max attempts must be >= 1 (got %d)", ErrInvalidPolicy, p.MaxAttempts)
	case p.InitialDelay < 0:
		return fmt.Errorf("%w: initial delay must not be negative (got %v)", ErrInvalidPolicy, p.InitialDelay)
	case p.MaxDelay < p.InitialDelay:
		return fmt.Errorf("%w: max delay %v is below initial delay %v", ErrInvalidPolicy, p.MaxDelay, p.InitialDelay)
	case p.Multiplier < 1.0:
		return fmt.Errorf("%w: multiplier must be >= 1.0 (got %v)", ErrInvalidPolicy, p.Multiplier)
	case p.MaxElapsed < 0:
		return fmt.Errorf("%w: max elapsed must not be negative (got %v)", ErrInvalidPolicy, p.MaxElapsed)
	}
	return nil
}

// next returns the delay that follows d.
func (p Policy) next(d time.Duration) time.Duration {
	n := time.Duration(float64(d) * p.Multiplier)
	// float overflow of very large delays wraps negative
	if n > p.MaxDelay || n < d {
		return p.MaxDelay
	}
	return n
}

// Delays returns the delays slept between attempts when every attempt fails
// with a retryable error, ignoring MaxElapsed. It has MaxAttempts-1 entries.
func (p Policy) Delays() []time.Duration {
	if p.MaxAttempts <= 1 {
		return nil
	}
	delays := make([]time.Duration, 0, p.MaxAttempts-1)
	d := min(p.InitialDelay, p.MaxDelay)
	for i := 0; i < p.MaxAttempts-1; i++ {
		delays = append(delays, d)
		d = p.next(d)
	}
	return delays
}
