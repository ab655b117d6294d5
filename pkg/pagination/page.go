package pagination

import (
	"context"
)

// Page is one bounded slice of a larger result set.
type Page[T any] struct {
	// Items in the order returned by the API.
	Items []T

	// Index is the zero-based page index.
	Index int

	// Size is the requested page size; len(Items) never exceeds it.
	Size int

	// TotalItems is informational only and never drives iteration.
	TotalItems int

	// HasNextPage is the sole authority for whether another page exists.
	HasNextPage bool

	HasPreviousPage bool
}

// PageFetcher fetches a single page. Implementations must be idempotent since
// a fetch may be repeated after a transient failure.
type PageFetcher[T any] interface {
	FetchPage(ctx context.Context, index, size int) (*Page[T], error)
}

// FetcherFunc adapts a function to the PageFetcher interface.
type FetcherFunc[T any] func(ctx context.Context, index, size int) (*Page[T], error)

// FetchPage implements PageFetcher.
func (f FetcherFunc[T]) FetchPage(ctx context.Context, index, size int) (*Page[T], error) {
	return f(ctx, index, size)
}

// SlicePages serves pre-built pages by index. Useful for tests and for
// replaying captured responses.
func SlicePages[T any](pages ...*Page[T]) PageFetcher[T] {
	return FetcherFunc[T](func(ctx context.Context, index, size int) (*Page[T], error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if index < 0 || index >= len(pages) {
			return &Page[T]{Index: index, Size: size}, nil
		}
		return pages[index], nil
	})
}
