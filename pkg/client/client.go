// Package client is the HTTP core of the accounting API client: request
// pacing, quota tracking, bearer authentication, response caching and error
// decoding, plus typed endpoints built on the generic Resource.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/eaccounting-client/pkg/auth"
	"github.com/Sternrassler/eaccounting-client/pkg/cache"
	"github.com/Sternrassler/eaccounting-client/pkg/pagination"
	"github.com/Sternrassler/eaccounting-client/pkg/ratelimit"
	"github.com/Sternrassler/eaccounting-client/pkg/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acct_requests_total",
		Help: "Total API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "acct_request_duration_seconds",
		Help:    "API request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acct_errors_total",
		Help: "Total API errors by error kind",
	}, []string{"kind"})
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://eaccountingapi.vismaonline.com/v2"

// Client talks to the accounting API.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	tokens     auth.TokenProvider
	limiter    *ratelimit.Limiter
	tracker    *ratelimit.Tracker
	cache      *cache.Manager
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the API, including the version path
	BaseURL string

	// Tokens supplies bearer tokens (required)
	Tokens auth.TokenProvider

	// Redis enables the response cache and the shared quota tracker (optional)
	Redis *redis.Client

	// Tenant separates cache entries of different companies
	Tenant string

	// UserAgent header sent with every request
	UserAgent string

	// Local pacing. Limiter, when set, is shared instead of building one
	// from RateLimit and Burst.
	RateLimit float64
	Burst     int
	Limiter   *ratelimit.Limiter

	// Timeout per HTTP request
	Timeout time.Duration

	// Paging defaults for List. MaxEmptyPages follows pagination.Config:
	// zero means the default, pagination.NoEmptyPageLimit disables the guard.
	PageSize      int
	MaxEmptyPages int
	MaxPages      int

	// RetryPolicy for reads and opted-in writes
	RetryPolicy retry.Policy

	// HTTPClient replaces the default transport (tests, proxies)
	HTTPClient *http.Client

	// Logger replaces the component logger
	Logger *zerolog.Logger
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(tokens auth.TokenProvider) Config {
	return Config{
		BaseURL:       DefaultBaseURL,
		Tokens:        tokens,
		UserAgent:     "eaccounting-client/1.0",
		RateLimit:     ratelimit.DefaultRate,
		Burst:         ratelimit.DefaultBurst,
		Timeout:       30 * time.Second,
		PageSize:      50,
		MaxEmptyPages: pagination.DefaultMaxEmptyPages,
		RetryPolicy:   retry.DefaultPolicy(),
	}
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token provider is required")
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https (got %q)", cfg.BaseURL)
	}
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("page_size must be > 0 (got %d)", cfg.PageSize)
	}
	if cfg.MaxEmptyPages == 0 {
		cfg.MaxEmptyPages = pagination.DefaultMaxEmptyPages
	}
	if cfg.RetryPolicy == (retry.Policy{}) {
		cfg.RetryPolicy = retry.DefaultPolicy()
	}
	if err := cfg.RetryPolicy.Validate(); err != nil {
		return nil, err
	}

	limiter := cfg.Limiter
	if limiter == nil {
		limiter, err = ratelimit.NewLimiter(cfg.RateLimit, cfg.Burst)
		if err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	logger := log.With().Str("component", "client").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Client{
		httpClient: httpClient,
		baseURL:    base,
		tokens:     cfg.Tokens,
		limiter:    limiter,
		config:     cfg,
		logger:     logger,
	}

	if cfg.Redis != nil {
		c.tracker = ratelimit.NewTracker(cfg.Redis, logger.With().Str("component", "ratelimit").Logger())
		c.cache = cache.NewManager(cfg.Redis)
	}

	return c, nil
}

// sendOptions steer a single request through the pipeline.
type sendOptions struct {
	// paced means the caller already waited on the limiter
	paced bool
	// noCache bypasses the response cache
	noCache bool
}

// Do sends req once: it waits for the rate limiter and the shared quota,
// authenticates, serves fresh cache entries for GETs and revalidates stale
// ones. Non-2xx responses are returned as *APIError with the body closed.
// Do never retries.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.send(req, sendOptions{})
}

func (c *Client) send(req *http.Request, opts sendOptions) (*http.Response, error) {
	ctx := req.Context()
	endpoint := endpointLabel(strings.TrimPrefix(req.URL.Path, c.baseURL.Path))

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	if !opts.paced {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	if c.tracker != nil {
		if err := c.tracker.Acquire(ctx); err != nil {
			var quotaErr *ratelimit.QuotaError
			if errors.As(err, &quotaErr) {
				requestsTotal.WithLabelValues(endpoint, "quota_blocked").Inc()
				return nil, err
			}
			if ctx.Err() != nil {
				return nil, err
			}
			// Redis trouble must not stop requests
			c.logger.Warn().Err(err).Msg("Quota check failed, continuing without it")
		}
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		errorsTotal.WithLabelValues(string(retry.Classify(err))).Inc()
		return nil, fmt.Errorf("obtain access token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	var cacheKey cache.Key
	var cached *cache.Entry
	useCache := c.cache != nil && !opts.noCache && req.Method == http.MethodGet
	if useCache {
		cacheKey = c.cacheKey(req.URL)
		cached, err = c.cache.Get(ctx, cacheKey)
		switch {
		case err == nil && !cached.IsExpired():
			c.logger.Debug().Str("endpoint", endpoint).Str("etag", cached.ETag).Msg("Cache hit")
			requestsTotal.WithLabelValues(endpoint, "cache_hit").Inc()
			return entryToResponse(req, cached), nil
		case err == nil:
			cache.AddConditionalHeaders(req, cached)
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Cache get error")
		}
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", req.Method).
		Msg("Executing API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		kind := retry.Classify(err)
		errorsTotal.WithLabelValues(string(kind)).Inc()
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Str("kind", string(kind)).Msg("HTTP request failed")
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}

	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if c.tracker != nil {
		if err := c.tracker.UpdateFromHeaders(ctx, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update quota from headers")
		}
	}

	if resp.StatusCode == http.StatusNotModified && cached != nil {
		resp.Body.Close()
		c.logger.Debug().Str("endpoint", endpoint).Msg("304 Not Modified - using cache")
		if err := c.cache.Refresh(ctx, cacheKey, cached, cache.ExpiresFrom(resp.Header, time.Now())); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to refresh cache entry")
		}
		return entryToResponse(req, cached), nil
	}

	if resp.StatusCode >= 400 {
		apiErr := newAPIError(req, resp)
		kind := retry.Classify(apiErr)
		errorsTotal.WithLabelValues(string(kind)).Inc()
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("kind", string(kind)).
			Msg("API request error")
		return nil, apiErr
	}

	if useCache && resp.StatusCode == http.StatusOK {
		entry, err := cache.ResponseToEntry(resp)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if err := c.cache.Set(ctx, cacheKey, entry); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to cache response")
		}
	}

	return resp, nil
}

// invalidate drops the cached copy of a resource after a write.
func (c *Client) invalidate(ctx context.Context, u *url.URL) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Delete(ctx, c.cacheKey(u)); err != nil {
		c.logger.Warn().Err(err).Str("path", u.Path).Msg("Failed to invalidate cache entry")
	}
}

func (c *Client) cacheKey(u *url.URL) cache.Key {
	return cache.Key{
		Path:   strings.TrimPrefix(u.Path, c.baseURL.Path),
		Query:  u.Query(),
		Tenant: c.config.Tenant,
	}
}

// URL resolves a path relative to the API base.
func (c *Client) URL(path string, query url.Values) *url.URL {
	u := *c.baseURL
	u.Path = c.baseURL.Path + "/" + strings.TrimLeft(path, "/")
	u.RawQuery = query.Encode()
	return &u
}

// Get performs a GET request for path and returns the response.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(path, query).String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.Do(req)
}

// Limiter returns the limiter pacing this client.
func (c *Client) Limiter() *ratelimit.Limiter {
	return c.limiter
}

// Cache returns the response cache, or nil when Redis is not configured.
func (c *Client) Cache() *cache.Manager {
	return c.cache
}

// Tracker returns the quota tracker, or nil when Redis is not configured.
func (c *Client) Tracker() *ratelimit.Tracker {
	return c.tracker
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.config
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// endpointLabel keeps metric cardinality bounded: only the first path
// segment is used.
func endpointLabel(path string) string {
	path = strings.Trim(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "root"
	}
	return path
}

func entryToResponse(req *http.Request, entry *cache.Entry) *http.Response {
	header := http.Header{}
	if entry.ContentType != "" {
		header.Set("Content-Type", entry.ContentType)
	}
	if entry.ETag != "" {
		header.Set("ETag", entry.ETag)
	}
	header.Set("X-Cache", "HIT")
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", entry.StatusCode, http.StatusText(entry.StatusCode)),
		StatusCode:    entry.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(entry.Data)),
		ContentLength: int64(len(entry.Data)),
		Request:       req,
	}
}
