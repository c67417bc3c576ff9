package paged_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Sternrassler/esi-pager/pkg/paged"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingSource returns page contents immediately and counts calls per page.
type countingSource struct {
	total    int
	pageSize int
	failPage int

	mu    sync.Mutex
	calls map[int]int
}

func newCountingSource(total, pageSize int) *countingSource {
	return &countingSource{total: total, pageSize: pageSize, calls: make(map[int]int)}
}

func (s *countingSource) Total() int { return s.total }
func (s *countingSource) PageSize() int { return s.pageSize }
func (s *countingSource) FirstPage() []int { return pageOf(0, s.pageSize, s.total) }

func (s *countingSource) GetPage(ctx context.Context, page int) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.calls[page]++
	s.mu.Unlock()

	if page == s.failPage {
		return nil, errors.New("page unavailable")
	}
	return pageOf(page, s.pageSize, s.total), nil
}

func (s *countingSource) callsFor(page int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[page]
}

func TestDefaultBatchConfig(t *testing.T) {
	cfg := paged.DefaultBatchConfig()
	assert.Equal(t, 10, cfg.MaxConcurrency)
	assert.Positive(t, cfg.Timeout)
}

func TestModel_ResolveRange(t *testing.T) {
	src := newCountingSource(100, 5)
	m := newModel(t, src)

	require.NoError(t, m.ResolveRange(context.Background(), 12, 31, paged.DefaultBatchConfig()))

	// Pages 2..6 cover indices 10..34.
	for p := 2; p <= 6; p++ {
		assert.Equal(t, paged.Resolved, m.State(p), "page %d", p)
		assert.Equal(t, 1, src.callsFor(p), "page %d", p)
	}
	assert.Equal(t, paged.Unresolved, m.State(1))
	assert.Equal(t, paged.Unresolved, m.State(7))

	// A second pass does not fetch again.
	require.NoError(t, m.ResolveRange(context.Background(), 10, 35, paged.BatchConfig{MaxConcurrency: 2}))
	for p := 2; p <= 6; p++ {
		assert.Equal(t, 1, src.callsFor(p), "page %d", p)
	}
}

func TestModel_ResolveAll(t *testing.T) {
	src := newCountingSource(53, 5)
	m := newModel(t, src)

	require.NoError(t, m.ResolveAll(context.Background(), paged.BatchConfig{MaxConcurrency: 3}))

	for i := 0; i < m.Len(); i++ {
		v, ok := m.At(i)
		require.True(t, ok, "index %d", i)
		assert.Equal(t, i, v)
	}
	assert.Equal(t, 0, src.callsFor(0))
}

func TestModel_ResolveRange_Failure(t *testing.T) {
	src := newCountingSource(100, 5)
	src.failPage = 4
	m := newModel(t, src)

	err := m.ResolveRange(context.Background(), 0, 50, paged.BatchConfig{MaxConcurrency: 1})
	require.Error(t, err)

	var pageErr *paged.PageError
	require.ErrorAs(t, err, &pageErr)
	assert.Equal(t, 4, pageErr.Page)
	assert.Equal(t, paged.Unresolved, m.State(4))
}

func TestModel_ResolveRange_InvalidRange(t *testing.T) {
	m := newModel(t, newCountingSource(20, 5))
	cfg := paged.DefaultBatchConfig()

	assert.ErrorIs(t, m.ResolveRange(context.Background(), -1, 5, cfg), paged.ErrIndexOutOfRange)
	assert.ErrorIs(t, m.ResolveRange(context.Background(), 0, 21, cfg), paged.ErrIndexOutOfRange)
	assert.ErrorIs(t, m.ResolveRange(context.Background(), 6, 5, cfg), paged.ErrIndexOutOfRange)
	assert.NoError(t, m.ResolveRange(context.Background(), 5, 5, cfg))
}
