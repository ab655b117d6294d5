package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Sternrassler/eaccounting-client/pkg/pagination"
	"github.com/Sternrassler/eaccounting-client/pkg/retry"
)

// Meta is the paging block of a list response.
type Meta struct {
	CurrentPage          int    `json:"CurrentPage"`
	PageSize             int    `json:"PageSize"`
	TotalNumberOfPages   int    `json:"TotalNumberOfPages"`
	TotalNumberOfResults int    `json:"TotalNumberOfResults"`
	ServerTimeUtc        string `json:"ServerTimeUtc"`
}

// envelope is the body of every list response.
type envelope[T any] struct {
	Meta Meta `json:"Meta"`
	Data []T  `json:"Data"`
}

// ListOptions narrow and order a list request. Filter and OrderBy are passed
// through verbatim as $filter and $orderby.
type ListOptions struct {
	Filter   string
	OrderBy  string
	PageSize int
	MaxPages int
	// Extra query parameters
	Query url.Values
}

// Resource is a typed API collection such as /customers.
type Resource[T any] struct {
	client *Client
	path   string
	name   string
}

// NewResource binds a collection path to the client. name labels logs and
// metrics of its streams.
func NewResource[T any](c *Client, name, path string) *Resource[T] {
	return &Resource[T]{
		client: c,
		path:   "/" + strings.Trim(path, "/"),
		name:   name,
	}
}

// Name returns the resource name.
func (r *Resource[T]) Name() string { return r.name }

// Path returns the collection path.
func (r *Resource[T]) Path() string { return r.path }

func (r *Resource[T]) itemPath(id string) string {
	return r.path + "/" + url.PathEscape(id)
}

func (r *Resource[T]) query(opts ListOptions, index, size int) url.Values {
	q := url.Values{}
	for k, v := range opts.Query {
		q[k] = append([]string(nil), v...)
	}
	// the API counts pages from 1
	q.Set("$page", strconv.Itoa(index+1))
	q.Set("$pagesize", strconv.Itoa(size))
	if opts.Filter != "" {
		q.Set("$filter", opts.Filter)
	}
	if opts.OrderBy != "" {
		q.Set("$orderby", opts.OrderBy)
	}
	return q
}

// Fetcher returns a single-attempt page fetcher for the collection.
func (r *Resource[T]) Fetcher(opts ListOptions) pagination.PageFetcher[T] {
	return pagination.FetcherFunc[T](func(ctx context.Context, index, size int) (*pagination.Page[T], error) {
		return r.fetchPage(ctx, index, size, opts, sendOptions{paced: true, noCache: true})
	})
}

func (r *Resource[T]) fetchPage(ctx context.Context, index, size int, opts ListOptions, so sendOptions) (*pagination.Page[T], error) {
	u := r.client.URL(r.path, r.query(opts, index, size))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := r.client.send(req, so)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env envelope[T]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode %s page %d: %w", r.name, index, err)
	}

	current := env.Meta.CurrentPage
	if current == 0 {
		current = index + 1
	}
	return &pagination.Page[T]{
		Items:           env.Data,
		Index:           current - 1,
		Size:            size,
		TotalItems:      env.Meta.TotalNumberOfResults,
		HasNextPage:     current < env.Meta.TotalNumberOfPages,
		HasPreviousPage: current > 1,
	}, nil
}

// List returns a lazy stream over the whole collection. Each page fetch
// waits on the client's limiter and is retried under the client's policy.
func (r *Resource[T]) List(opts ListOptions) *pagination.Stream[T] {
	cfg := r.client.config
	pc := pagination.DefaultConfig(r.name)
	pc.PageSize = cfg.PageSize
	if opts.PageSize != 0 {
		pc.PageSize = opts.PageSize
	}
	pc.Policy = cfg.RetryPolicy
	pc.Limiter = r.client.limiter
	pc.MaxEmptyPages = cfg.MaxEmptyPages
	pc.MaxPages = cfg.MaxPages
	if opts.MaxPages != 0 {
		pc.MaxPages = opts.MaxPages
	}
	logger := r.client.logger
	pc.Logger = &logger

	return pagination.NewStream(r.Fetcher(opts), pc)
}

// Page fetches one page (0-based index) with retries.
func (r *Resource[T]) Page(ctx context.Context, index, size int, opts ListOptions) (*pagination.Page[T], error) {
	if index < 0 {
		return nil, fmt.Errorf("page index must be >= 0 (got %d)", index)
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w (got %d)", pagination.ErrPageSize, size)
	}
	return retry.Do(ctx, r.client.config.RetryPolicy, func(ctx context.Context) (*pagination.Page[T], error) {
		return r.fetchPage(ctx, index, size, opts, sendOptions{noCache: true})
	}, retry.WithLogger(r.client.logger))
}

// Get fetches a single item by id with retries. Responses are cached when
// the client has Redis.
func (r *Resource[T]) Get(ctx context.Context, id string) (*T, error) {
	if id == "" {
		return nil, fmt.Errorf("%s: id is required", r.name)
	}
	return retry.Do(ctx, r.client.config.RetryPolicy, func(ctx context.Context) (*T, error) {
		var out T
		if err := r.client.doJSON(ctx, http.MethodGet, r.itemPath(id), nil, &out, sendOptions{}, nil); err != nil {
			return nil, err
		}
		return &out, nil
	}, retry.WithLogger(r.client.logger))
}

// WriteOption changes how a write is sent.
type WriteOption func(*writeConfig)

type writeConfig struct {
	retry          bool
	idempotencyKey string
}

// WithRetry retries the write under the client's policy. Only use it when a
// duplicate write is harmless.
func WithRetry() WriteOption {
	return func(c *writeConfig) { c.retry = true }
}

// WithIdempotencyKey sends an Idempotency-Key header and enables retries.
func WithIdempotencyKey(key string) WriteOption {
	return func(c *writeConfig) {
		c.idempotencyKey = key
		c.retry = true
	}
}

func (r *Resource[T]) write(ctx context.Context, method, path string, in, out any, opts []WriteOption) error {
	var wc writeConfig
	for _, opt := range opts {
		opt(&wc)
	}

	var header http.Header
	if wc.idempotencyKey != "" {
		header = http.Header{"Idempotency-Key": []string{wc.idempotencyKey}}
	}

	op := func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.client.doJSON(ctx, method, path, in, out, sendOptions{noCache: true}, header)
	}

	policy := retry.NoRetry()
	if wc.retry {
		policy = r.client.config.RetryPolicy
	}
	_, err := retry.Do(ctx, policy, op, retry.WithLogger(r.client.logger))
	return err
}

// Create posts v to the collection and returns the stored item.
func (r *Resource[T]) Create(ctx context.Context, v *T, opts ...WriteOption) (*T, error) {
	var out T
	if err := r.write(ctx, http.MethodPost, r.path, v, &out, opts); err != nil {
		return nil, err
	}
	return &out, nil
}

// Update replaces the item with id and returns the stored item.
func (r *Resource[T]) Update(ctx context.Context, id string, v *T, opts ...WriteOption) (*T, error) {
	if id == "" {
		return nil, fmt.Errorf("%s: id is required", r.name)
	}
	var out T
	path := r.itemPath(id)
	err := r.write(ctx, http.MethodPut, path, v, &out, opts)
	r.client.invalidate(ctx, r.client.URL(path, nil))
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes the item with id.
func (r *Resource[T]) Delete(ctx context.Context, id string, opts ...WriteOption) error {
	if id == "" {
		return fmt.Errorf("%s: id is required", r.name)
	}
	path := r.itemPath(id)
	err := r.write(ctx, http.MethodDelete, path, nil, nil, opts)
	r.client.invalidate(ctx, r.client.URL(path, nil))
	return err
}

// doJSON sends in as the JSON body (if non-nil) and decodes the response
// into out (if non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any, so sendOptions, header http.Header) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL(path, nil).String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := c.send(req, so)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}
