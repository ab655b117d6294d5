package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acct_retries_total",
		Help: "Total number of retry attempts by error kind",
	}, []string{"kind"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "acct_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error kind",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"kind"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acct_retry_exhausted_total",
		Help: "Total number of operations that gave up on a retryable error by kind",
	}, []string{"kind"})
)

// Operation produces a fresh attempt on every call. Retrying is only safe
// when the operation is idempotent.
type Operation[T any] func(ctx context.Context) (T, error)

// OnRetryFunc is called before each backoff sleep.
type OnRetryFunc func(attempt int, kind ErrorKind, err error, delay time.Duration)

type config struct {
	clock    Clock
	classify func(error) ErrorKind
	onRetry  OnRetryFunc
	logger   zerolog.Logger
}

// Option customises a single Do call.
type Option func(*config)

// WithClock replaces the wall clock used for sleeping and elapsed time.
func WithClock(c Clock) Option {
	return func(cfg *config) { cfg.clock = c }
}

// WithClassifier replaces Classify.
func WithClassifier(fn func(error) ErrorKind) Option {
	return func(cfg *config) { cfg.classify = fn }
}

// WithOnRetry registers a hook that observes every scheduled retry.
func WithOnRetry(fn OnRetryFunc) Option {
	return func(cfg *config) { cfg.onRetry = fn }
}

// WithLogger sets the logger used for retry events.
func WithLogger(l zerolog.Logger) Option {
	return func(cfg *config) { cfg.logger = l }
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// policy gives up. The error returned is always the one produced by the
// latest attempt; earlier errors are discarded. If ctx is cancelled during a
// backoff sleep the latest error is returned joined with ctx.Err().
func Do[T any](ctx context.Context, policy Policy, op Operation[T], opts ...Option) (T, error) {
	var zero T

	if err := policy.Validate(); err != nil {
		return zero, err
	}

	cfg := config{
		clock:    realClock{},
		classify: Classify,
		logger:   log.Logger,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	start := cfg.clock.Now()
	delay := policy.InitialDelay

	for attempt := 0; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			if attempt > 0 {
				cfg.logger.Info().
					Int("attempt", attempt+1).
					Msg("Operation succeeded after retry")
			}
			return result, nil
		}

		kind := cfg.classify(err)
		if !kind.Retryable() {
			return zero, err
		}

		if attempt >= policy.MaxAttempts-1 {
			retryExhaustedTotal.WithLabelValues(string(kind)).Inc()
			cfg.logger.Warn().
				Err(err).
				Str("kind", string(kind)).
				Int("max_attempts", policy.MaxAttempts).
				Msg("Retry attempts exhausted")
			return zero, err
		}

		if policy.MaxElapsed > 0 && cfg.clock.Now().Sub(start) > policy.MaxElapsed {
			retryExhaustedTotal.WithLabelValues(string(kind)).Inc()
			cfg.logger.Warn().
				Err(err).
				Str("kind", string(kind)).
				Dur("max_elapsed", policy.MaxElapsed).
				Msg("Retry time budget exhausted")
			return zero, err
		}

		retriesTotal.WithLabelValues(string(kind)).Inc()
		retryBackoffSeconds.WithLabelValues(string(kind)).Observe(delay.Seconds())

		if cfg.onRetry != nil {
			cfg.onRetry(attempt+1, kind, err, delay)
		}

		cfg.logger.Debug().
			Err(err).
			Str("kind", string(kind)).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Msg("Retrying operation after backoff")

		if sleepErr := cfg.clock.Sleep(ctx, delay); sleepErr != nil {
			cfg.logger.Warn().
				Str("kind", string(kind)).
				Int("attempt", attempt+1).
				Msg("Context cancelled during retry backoff")
			return zero, errors.Join(err, fmt.Errorf("retry aborted: %w", sleepErr))
		}

		delay = policy.next(delay)
	}
}

// DoErr is Do for operations that only return an error.
func DoErr(ctx context.Context, policy Policy, op func(ctx context.Context) error, opts ...Option) error {
	_, err := Do(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts...)
	return err
}
