// Package esi adapts paginated ESI endpoints into paged.Source implementations.
//
// ESI pages are one-based and the total number of elements is not reported,
// only the number of pages (X-Pages). NewListSource fetches the first page
// eagerly and, for multi-page listings, the last page as well, so the element
// total is exact before the first lookup.
package esi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Sternrassler/esi-pager/pkg/paged"
)

// ErrShortPage is returned when a page other than the last holds fewer
// elements than the configured page size.
var ErrShortPage = errors.New("esi page shorter than page size")

// ErrListingChanged is returned when ESI reports a different page count than
// it did when the source was created.
var ErrListingChanged = errors.New("esi listing changed")

// PageFetcher fetches one page of a paginated endpoint. page is one-based. It
// returns the raw JSON body and the total number of pages.
type PageFetcher interface {
	FetchPage(ctx context.Context, endpoint string, page int) ([]byte, int, error)
}

// ListSource serves an ESI listing as a paged.Source. Model page p is ESI page p+1.
type ListSource[T any] struct {
	fetcher  PageFetcher
	endpoint string
	pageSize int
	pages    int
	total    int
	first    []T
	last     []T
}

var _ paged.Source[json.RawMessage] = (*ListSource[json.RawMessage])(nil)

// NewListSource fetches the first page (and the last one, if different) of
// endpoint and returns a source over the whole listing. pageSize must equal the
// number of elements ESI returns on a full page of endpoint.
func NewListSource[T any](ctx context.Context, fetcher PageFetcher, endpoint string, pageSize int) (*ListSource[T], error) {
	if fetcher == nil {
		return nil, fmt.Errorf("%w: nil fetcher", paged.ErrInvalidSource)
	}
	if pageSize <= 0 {
		return nil, fmt.Errorf("%w: page size must be > 0 (got %d)", paged.ErrInvalidSource, pageSize)
	}

	s := &ListSource[T]{
		fetcher:  fetcher,
		endpoint: endpoint,
		pageSize: pageSize,
	}

	first, pages, err := s.fetch(ctx, 1)
	if err != nil {
		return nil, err
	}
	if pages < 1 {
		pages = 1
	}
	s.pages = pages
	s.first = first

	if pages == 1 {
		if len(first) > pageSize {
			return nil, fmt.Errorf("%w: page 1 of %s holds %d elements, page size is %d",
				paged.ErrPageLength, endpoint, len(first), pageSize)
		}
		s.total = len(first)
		return s, nil
	}

	if len(first) != pageSize {
		return nil, fmt.Errorf("%w: page 1 of %s holds %d elements, page size is %d",
			ErrShortPage, endpoint, len(first), pageSize)
	}

	last, _, err := s.fetch(ctx, pages)
	if err != nil {
		return nil, err
	}
	if len(last) == 0 || len(last) > pageSize {
		return nil, fmt.Errorf("%w: last page %d of %s holds %d elements, page size is %d",
			paged.ErrPageLength, pages, endpoint, len(last), pageSize)
	}
	s.last = last
	s.total = (pages-1)*pageSize + len(last)

	return s, nil
}

// Total returns the number of elements in the listing.
func (s *ListSource[T]) Total() int { return s.total }

// PageSize returns the number of elements per page.
func (s *ListSource[T]) PageSize() int { return s.pageSize }

// FirstPage returns the elements of ESI page 1.
func (s *ListSource[T]) FirstPage() []T { return s.first }

// Pages returns the number of ESI pages reported when the source was created.
func (s *ListSource[T]) Pages() int { return s.pages }

// GetPage fetches model page p, which is ESI page p+1.
func (s *ListSource[T]) GetPage(ctx context.Context, p int) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p < 1 || p >= s.pages {
		return nil, fmt.Errorf("%w: page %d of %d", paged.ErrIndexOutOfRange, p, s.pages)
	}
	if p == s.pages-1 && s.last != nil {
		return s.last, nil
	}

	elems, pages, err := s.fetch(ctx, p+1)
	if err != nil {
		return nil, err
	}
	if pages != s.pages {
		return nil, fmt.Errorf("%w: %s went from %d to %d pages", ErrListingChanged, s.endpoint, s.pages, pages)
	}
	return elems, nil
}

func (s *ListSource[T]) fetch(ctx context.Context, page int) ([]T, int, error) {
	data, pages, err := s.fetcher.FetchPage(ctx, s.endpoint, page)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch page %d of %s: %w", page, s.endpoint, err)
	}

	var elems []T
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, 0, fmt.Errorf("decode page %d of %s: %w", page, s.endpoint, err)
	}
	return elems, pages, nil
}
