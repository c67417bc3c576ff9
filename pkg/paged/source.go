package paged

import "context"

// Source supplies the pages of a collection. Page 0 is known up front and is
// returned by FirstPage; every other page is fetched through GetPage.
//
// GetPage must honour ctx: if ctx is already done it returns an error wrapping
// ctx's error without doing any work, and if ctx is cancelled while the page is
// in flight it eventually returns such an error. Repeated calls for the same
// page must return equivalent data.
type Source[T any] interface {
	// Total is the number of elements in the collection.
	Total() int

	// PageSize is the number of elements per page. Only the last page may be shorter.
	PageSize() int

	// FirstPage returns the elements of page 0.
	FirstPage() []T

	// GetPage fetches the elements of page (page >= 1).
	GetPage(ctx context.Context, page int) ([]T, error)
}

// FetchFunc fetches a single page.
type FetchFunc[T any] func(ctx context.Context, page int) ([]T, error)

// funcSource adapts a FetchFunc into a Source.
type funcSource[T any] struct {
	total    int
	pageSize int
	first    []T
	fetch    FetchFunc[T]
}

// NewFuncSource returns a Source with fixed dimensions whose pages beyond the
// first are produced by fetch.
func NewFuncSource[T any](total, pageSize int, first []T, fetch FetchFunc[T]) Source[T] {
	return &funcSource[T]{
		total:    total,
		pageSize: pageSize,
		first:    first,
		fetch:    fetch,
	}
}

func (s *funcSource[T]) Total() int { return s.total }
func (s *funcSource[T]) PageSize() int { return s.pageSize }
func (s *funcSource[T]) FirstPage() []T { return s.first }

func (s *funcSource[T]) GetPage(ctx context.Context, page int) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.fetch(ctx, page)
}
