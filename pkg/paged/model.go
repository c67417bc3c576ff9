package paged

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Status is the resolution state of a single page.
type Status int

const (
	// Unresolved pages have no elements and no fetch in flight.
	Unresolved Status = iota

	// Resolving pages have a fetch in flight and at least one waiter.
	Resolving

	// Resolved pages hold their elements for the lifetime of the model.
	Resolved
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case Unresolved:
		return "unresolved"
	case Resolving:
		return "resolving"
	case Resolved:
		return "resolved"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// waiter is one pending ResolveAsync call.
type waiter struct {
	done chan error
	stop func() bool
}

// pageState tracks a page other than page 0.
type pageState[T any] struct {
	status   Status
	elements []T
	waiters  map[*waiter]struct{}

	// set only while status == Resolving
	cancel  context.CancelFunc
	fetchID string

	// incremented for every fetch attempt; a completing fetch whose attempt
	// no longer matches was abandoned and its result is dropped
	attempt uint64
}

// Model is a lazily resolved, page-backed collection. Page 0 comes from the
// source at construction; every other page is fetched on first request and kept
// for the lifetime of the model.
//
// Concurrent requests for the same page share one fetch. A caller that gives up
// only withdraws itself; the shared fetch is cancelled once no caller is left
// waiting on it.
type Model[T any] struct {
	total    int
	pageSize int
	first    []T
	source   Source[T]
	logger   zerolog.Logger

	mu    sync.Mutex
	pages map[int]*pageState[T]
}

// settled is returned for outcomes known to be successful at call time.
var settled = func() chan error {
	ch := make(chan error)
	close(ch)
	return ch
}()

// outcome returns a channel already holding err.
func outcome(err error) <-chan error {
	ch := make(chan error, 1)
	ch <- err
	return ch
}

// New creates a model over source.
func New[T any](source Source[T], logger zerolog.Logger) (*Model[T], error) {
	if source == nil {
		return nil, fmt.Errorf("%w: source is nil", ErrInvalidSource)
	}

	total, pageSize := source.Total(), source.PageSize()
	if pageSize <= 0 {
		return nil, fmt.Errorf("%w: page size must be > 0 (got %d)", ErrInvalidSource, pageSize)
	}
	if total < 0 {
		return nil, fmt.Errorf("%w: total must be >= 0 (got %d)", ErrInvalidSource, total)
	}

	first := source.FirstPage()
	if want := min(pageSize, total); len(first) != want {
		return nil, fmt.Errorf("%w: first page has %d elements, want %d", ErrInvalidSource, len(first), want)
	}

	return &Model[T]{
		total:    total,
		pageSize: pageSize,
		first:    first,
		source:   source,
		logger:   logger,
		pages:    make(map[int]*pageState[T]),
	}, nil
}

// Len returns the total number of elements.
func (m *Model[T]) Len() int { return m.total }

// PageSize returns the number of elements per page.
func (m *Model[T]) PageSize() int { return m.pageSize }

// PageCount returns the number of pages. An empty collection has no pages.
func (m *Model[T]) PageCount() int {
	return (m.total + m.pageSize - 1) / m.pageSize
}

// PageOf returns the page containing index i.
func (m *Model[T]) PageOf(i int) int { return i / m.pageSize }

// pageLen returns the expected number of elements on page p.
func (m *Model[T]) pageLen(p int) int {
	if rest := m.total - p*m.pageSize; rest < m.pageSize {
		return rest
	}
	return m.pageSize
}

func (m *Model[T]) inRange(i int) bool {
	return i >= 0 && i < m.total
}

// IsResolved reports whether the page containing i is resolved.
// Indices outside [0, Len()) are never resolved.
func (m *Model[T]) IsResolved(i int) bool {
	if !m.inRange(i) {
		return false
	}
	return m.State(m.PageOf(i)) == Resolved
}

// State returns the status of page p. Page 0 is always Resolved.
func (m *Model[T]) State(p int) Status {
	if p == 0 {
		return Resolved
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if st, ok := m.pages[p]; ok {
		return st.status
	}
	return Unresolved
}

// Waiters returns the number of callers currently waiting on page p.
func (m *Model[T]) Waiters(p int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st, ok := m.pages[p]; ok {
		return len(st.waiters)
	}
	return 0
}

// At returns element i if its page is resolved.
func (m *Model[T]) At(i int) (T, bool) {
	var zero T
	if !m.inRange(i) {
		return zero, false
	}

	p, off := m.PageOf(i), i%m.pageSize
	if p == 0 {
		return m.first[off], true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.pages[p]
	if !ok || st.status != Resolved {
		return zero, false
	}
	return st.elements[off], true
}

// Resolve blocks until the page containing i is resolved, ctx is done, or the
// fetch fails. See ResolveAsync.
func (m *Model[T]) Resolve(ctx context.Context, i int) error {
	return <-m.ResolveAsync(ctx, i)
}

// ResolveAsync requests the page containing i and returns a channel that
// yields exactly one outcome:
//
//   - nil once the page is resolved (immediately for page 0 or a resolved page)
//   - an error matching ErrCancelled if ctx is done first
//   - a *PageError if the fetch fails
//
// If the page is already being fetched the caller joins that fetch. When ctx is
// done the caller stops waiting; the fetch itself is cancelled only when its
// last waiter goes away.
func (m *Model[T]) ResolveAsync(ctx context.Context, i int) <-chan error {
	if !m.inRange(i) {
		return outcome(fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, i, m.total))
	}

	p := m.PageOf(i)
	if p == 0 {
		return settled
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.pages[p]
	if ok && st.status == Resolved {
		return settled
	}

	if ctx.Err() != nil {
		pagedCancellationsTotal.WithLabelValues("waiter").Inc()
		return outcome(cancelled(ctx))
	}

	if !ok {
		st = &pageState[T]{waiters: make(map[*waiter]struct{})}
		m.pages[p] = st
	}

	w := &waiter{done: make(chan error, 1)}
	st.waiters[w] = struct{}{}

	if st.status == Resolving {
		pagedJoinsTotal.Inc()
		m.logger.Debug().
			Int("page", p).
			Str("fetch_id", st.fetchID).
			Int("waiters", len(st.waiters)).
			Msg("Joined in-flight page fetch")
	} else {
		m.startFetch(ctx, p, st)
	}

	// The callback takes m.mu, so it cannot observe w before this call returns.
	w.stop = context.AfterFunc(ctx, func() {
		m.withdraw(ctx, p, st, w)
	})

	return w.done
}

// startFetch moves st to Resolving and launches the fetch. Caller holds m.mu.
func (m *Model[T]) startFetch(ctx context.Context, p int, st *pageState[T]) {
	// The fetch keeps the first caller's values but not its cancellation;
	// it is cancelled only through st.cancel.
	fetchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	st.status = Resolving
	st.cancel = cancel
	st.attempt++
	st.fetchID = uuid.NewString()

	pagedFetchesInFlight.Inc()

	m.logger.Debug().
		Int("page", p).
		Str("fetch_id", st.fetchID).
		Uint64("attempt", st.attempt).
		Msg("Starting page fetch")

	go m.fetch(fetchCtx, p, st, st.attempt, st.fetchID)
}

// fetch runs one attempt against the source and settles the page's waiters.
func (m *Model[T]) fetch(ctx context.Context, p int, st *pageState[T], attempt uint64, fetchID string) {
	start := time.Now()

	elements, err := m.source.GetPage(ctx, p)
	if err == nil {
		if want := m.pageLen(p); len(elements) != want {
			err = fmt.Errorf("%w: got %d elements, want %d", ErrPageLength, len(elements), want)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if st.attempt != attempt || st.status != Resolving {
		m.logger.Debug().
			Int("page", p).
			Str("fetch_id", fetchID).
			Err(err).
			Msg("Discarding result of abandoned page fetch")
		return
	}

	st.cancel()
	st.cancel = nil
	st.fetchID = ""
	waiters := st.waiters
	st.waiters = make(map[*waiter]struct{})

	pagedFetchesInFlight.Dec()
	pagedFetchDuration.Observe(time.Since(start).Seconds())

	var result error
	if err != nil {
		st.status = Unresolved
		st.elements = nil
		result = &PageError{Page: p, Err: err}

		pagedFetchesTotal.WithLabelValues("failure").Inc()
		m.logger.Warn().
			Err(err).
			Int("page", p).
			Str("fetch_id", fetchID).
			Int("waiters", len(waiters)).
			Dur("duration", time.Since(start)).
			Msg("Page fetch failed")
	} else {
		st.status = Resolved
		st.elements = elements

		pagedFetchesTotal.WithLabelValues("success").Inc()
		m.logger.Debug().
			Int("page", p).
			Str("fetch_id", fetchID).
			Int("waiters", len(waiters)).
			Dur("duration", time.Since(start)).
			Msg("Page resolved")
	}

	for w := range waiters {
		w.stop()
		w.done <- result
	}
}

// withdraw removes w after its context is done. If w was the last waiter the
// fetch is cancelled and the page goes back to Unresolved.
func (m *Model[T]) withdraw(ctx context.Context, p int, st *pageState[T], w *waiter) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := st.waiters[w]; !ok {
		// already settled
		return
	}

	delete(st.waiters, w)
	w.done <- cancelled(ctx)
	pagedCancellationsTotal.WithLabelValues("waiter").Inc()

	if len(st.waiters) > 0 {
		m.logger.Debug().
			Int("page", p).
			Str("fetch_id", st.fetchID).
			Int("waiters", len(st.waiters)).
			Msg("Waiter withdrew, fetch continues")
		return
	}

	m.logger.Debug().
		Int("page", p).
		Str("fetch_id", st.fetchID).
		Msg("Last waiter withdrew, cancelling page fetch")

	st.cancel()
	st.cancel = nil
	st.fetchID = ""
	st.status = Unresolved
	st.elements = nil

	pagedFetchesInFlight.Dec()
	pagedFetchesTotal.WithLabelValues("abandoned").Inc()
	pagedCancellationsTotal.WithLabelValues("fetch").Inc()
}
