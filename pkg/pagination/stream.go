package pagination

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/Sternrassler/eaccounting-client/pkg/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for paged streams.
var (
	pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acct_pages_fetched_total",
		Help: "Total pages fetched by stream name",
	}, []string{"stream"})

	streamItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acct_stream_items_total",
		Help: "Total items yielded by stream name",
	}, []string{"stream"})

	streamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acct_stream_errors_total",
		Help: "Streams terminated by an error, by stream name and error kind",
	}, []string{"stream", "kind"})
)

// ErrPageSize is returned when a stream is configured with a non-positive page size.
var ErrPageSize = errors.New("page size must be positive")

// Waiter gates outbound calls. *ratelimit.Limiter satisfies it.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Config holds stream configuration.
type Config struct {
	// Name labels logs and metrics (e.g. "customers").
	Name string

	// PageSize is requested from the fetcher on every call.
	PageSize int

	// Policy is applied to every page fetch.
	Policy retry.Policy

	// Limiter, when set, is waited on before every fetch attempt.
	Limiter Waiter

	// MaxEmptyPages is the number of consecutive empty pages flagged with
	// HasNextPage that are followed before the stream gives up. Zero means
	// DefaultMaxEmptyPages; NoEmptyPageLimit turns the guard off.
	MaxEmptyPages int

	// MaxPages stops the stream after this many pages. Zero means no limit.
	MaxPages int

	// RetryOptions are passed to retry.Do for every fetch.
	RetryOptions []retry.Option

	Logger *zerolog.Logger
}

const (
	// DefaultMaxEmptyPages is used when Config.MaxEmptyPages is zero.
	DefaultMaxEmptyPages = 1

	// NoEmptyPageLimit follows empty pages for as long as the upstream
	// flags more. Pair it with MaxPages.
	NoEmptyPageLimit = -1
)

// DefaultConfig returns the default stream configuration.
func DefaultConfig(name string) Config {
	return Config{
		Name:          name,
		PageSize:      50,
		Policy:        retry.DefaultPolicy(),
		MaxEmptyPages: DefaultMaxEmptyPages,
	}
}

type cursor struct {
	nextPageIndex int
	exhausted     bool
}

// Stream lazily walks a paged result set. It is not safe for concurrent use
// and cannot be restarted.
type Stream[T any] struct {
	fetcher PageFetcher[T]
	config  Config
	logger  zerolog.Logger

	cursor    cursor
	items     []T
	pos       int
	current   T
	err       error
	emptyRun  int
	pages     int
	reported  bool
	retryOpts []retry.Option
}

// NewStream creates a stream over fetcher. No request is made until the
// first call to Next.
func NewStream[T any](fetcher PageFetcher[T], config Config) *Stream[T] {
	switch {
	case config.MaxEmptyPages == 0:
		config.MaxEmptyPages = DefaultMaxEmptyPages
	case config.MaxEmptyPages < 0:
		config.MaxEmptyPages = NoEmptyPageLimit
	}
	if config.Name == "" {
		config.Name = "stream"
	}
	if config.Policy == (retry.Policy{}) {
		config.Policy = retry.DefaultPolicy()
	}

	logger := log.With().Str("component", "pagination").Logger()
	if config.Logger != nil {
		logger = *config.Logger
	}
	logger = logger.With().Str("stream", config.Name).Logger()

	opts := append([]retry.Option{retry.WithLogger(logger)}, config.RetryOptions...)

	s := &Stream[T]{
		fetcher:   fetcher,
		config:    config,
		logger:    logger,
		retryOpts: opts,
	}

	if config.PageSize <= 0 {
		s.err = fmt.Errorf("%w (got %d)", ErrPageSize, config.PageSize)
		s.cursor.exhausted = true
	}

	return s
}

// Next advances to the next item, fetching a page when the current one is
// used up. It returns false at the end of the sequence or after an error;
// call Err to tell the two apart.
func (s *Stream[T]) Next(ctx context.Context) bool {
	for {
		if s.pos < len(s.items) {
			s.current = s.items[s.pos]
			s.pos++
			streamItemsTotal.WithLabelValues(s.config.Name).Inc()
			return true
		}

		// Drop the consumed page before deciding whether to fetch
		s.items, s.pos = nil, 0

		if s.cursor.exhausted {
			var zero T
			s.current = zero
			return false
		}

		if s.config.MaxPages > 0 && s.pages >= s.config.MaxPages {
			s.logger.Warn().
				Int("max_pages", s.config.MaxPages).
				Msg("Page ceiling reached, ending stream")
			s.cursor.exhausted = true
			continue
		}

		s.fetchNext(ctx)
	}
}

// fetchNext loads the page under the cursor and advances the cursor.
func (s *Stream[T]) fetchNext(ctx context.Context) {
	index := s.cursor.nextPageIndex

	page, err := retry.Do(ctx, s.config.Policy, func(ctx context.Context) (*Page[T], error) {
		if s.config.Limiter != nil {
			if err := s.config.Limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		return s.fetcher.FetchPage(ctx, index, s.config.PageSize)
	}, s.retryOpts...)
	if err == nil && page == nil {
		err = fmt.Errorf("page %d: fetcher returned no page", index)
	}
	if err != nil {
		kind := retry.Classify(err)
		streamErrorsTotal.WithLabelValues(s.config.Name, string(kind)).Inc()
		s.logger.Error().
			Err(err).
			Int("page", index).
			Str("kind", string(kind)).
			Msg("Page fetch failed, ending stream")
		s.err = err
		s.cursor.exhausted = true
		return
	}

	s.pages++
	pagesFetchedTotal.WithLabelValues(s.config.Name).Inc()

	if len(page.Items) > s.config.PageSize {
		s.logger.Warn().
			Int("page", index).
			Int("items", len(page.Items)).
			Int("page_size", s.config.PageSize).
			Msg("Page holds more items than requested")
	}

	s.logger.Debug().
		Int("page", index).
		Int("items", len(page.Items)).
		Bool("has_next", page.HasNextPage).
		Msg("Fetched page")

	s.items, s.pos = page.Items, 0

	if !page.HasNextPage {
		s.cursor.exhausted = true
		return
	}
	s.cursor.nextPageIndex++

	if len(page.Items) > 0 {
		s.emptyRun = 0
		return
	}

	s.emptyRun++
	if s.config.MaxEmptyPages != NoEmptyPageLimit && s.emptyRun > s.config.MaxEmptyPages {
		s.logger.Warn().
			Int("page", index).
			Int("empty_pages", s.emptyRun).
			Msg("Too many consecutive empty pages, ending stream")
		s.cursor.exhausted = true
	}
}

// Item returns the item produced by the latest successful call to Next.
func (s *Stream[T]) Item() T {
	return s.current
}

// Err returns the error that ended the stream, if any.
func (s *Stream[T]) Err() error {
	return s.err
}

// Pages reports how many pages have been fetched so far.
func (s *Stream[T]) Pages() int {
	return s.pages
}

// All returns the stream as a range-over-func sequence. The terminal error, if
// any, is yielded once as the final pair. All consumes the stream.
func (s *Stream[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for s.Next(ctx) {
			if !yield(s.current, nil) {
				return
			}
		}
		if s.err != nil && !s.reported {
			s.reported = true
			var zero T
			yield(zero, s.err)
		}
	}
}

// Collect drains the stream into a slice. On error the items gathered so far
// are returned along with it.
func Collect[T any](ctx context.Context, s *Stream[T]) ([]T, error) {
	var out []T
	for s.Next(ctx) {
		out = append(out, s.Item())
	}
	return out, s.Err()
}
