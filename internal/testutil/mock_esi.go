// Package testutil provides a mock ESI server serving paginated listings.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockESI is a configurable mock ESI server for testing.
type MockESI struct {
	server *httptest.Server

	mu       sync.Mutex
	listings map[string][]json.RawMessage
	pageSize map[string]int
	failures map[string][]int
	delay    time.Duration
	requests map[string]int

	// ErrorsRemaining is reported in X-ESI-Error-Limit-Remain
	ErrorsRemaining int
}

// NewMockESI creates and starts a new mock ESI server.
func NewMockESI() *MockESI {
	mock := &MockESI{
		listings:        make(map[string][]json.RawMessage),
		pageSize:        make(map[string]int),
		failures:        make(map[string][]int),
		requests:        make(map[string]int),
		ErrorsRemaining: 100,
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server URL.
func (m *MockESI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockESI) Close() {
	m.server.Close()
}

// SetListing serves items on path, split into pages of pageSize.
func (m *MockESI) SetListing(path string, pageSize int, items []json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings[path] = items
	m.pageSize[path] = pageSize
}

// SetIntListing serves the integers [0, n) on path.
func (m *MockESI) SetIntListing(path string, pageSize, n int) {
	items := make([]json.RawMessage, n)
	for i := range items {
		items[i] = json.RawMessage(strconv.Itoa(i))
	}
	m.SetListing(path, pageSize, items)
}

// FailPage makes the next requests for page of path answer with the given
// statuses, one per request, before serving normally again.
func (m *MockESI) FailPage(path string, page int, statuses ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[pageKey(path, page)] = append(m.failures[pageKey(path, page)], statuses...)
}

// SetDelay delays every response.
func (m *MockESI) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Requests returns how many requests were made for page of path.
func (m *MockESI) Requests(path string, page int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[pageKey(path, page)]
}

// TotalRequests returns the number of requests across all pages.
func (m *MockESI) TotalRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.requests {
		total += n
	}
	return total
}

func pageKey(path string, page int) string {
	return fmt.Sprintf("%s?page=%d", path, page)
}

func (m *MockESI) handle(w http.ResponseWriter, r *http.Request) {
	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			http.Error(w, `{"error":"invalid page"}`, http.StatusBadRequest)
			return
		}
		page = n
	}
	key := pageKey(r.URL.Path, page)

	m.mu.Lock()
	m.requests[key]++
	items, ok := m.listings[r.URL.Path]
	size := m.pageSize[r.URL.Path]
	delay := m.delay
	remain := m.ErrorsRemaining
	var status int
	if queued := m.failures[key]; len(queued) > 0 {
		status, m.failures[key] = queued[0], queued[1:]
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("X-ESI-Error-Limit-Remain", strconv.Itoa(remain))
	w.Header().Set("X-ESI-Error-Limit-Reset", "60")
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	if status != 0 {
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"error":"mock status %d"}`, status)
		return
	}

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"Requested page does not exist!"}`))
		return
	}

	pages := (len(items) + size - 1) / size
	if pages == 0 {
		pages = 1
	}
	if page > pages {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"Requested page does not exist!"}`))
		return
	}

	etag := fmt.Sprintf(`"%s-%d"`, r.URL.Path, page)
	w.Header().Set("X-Pages", strconv.Itoa(pages))
	w.Header().Set("Expires", time.Now().Add(5*time.Minute).Format(http.TimeFormat))
	w.Header().Set("ETag", etag)

	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	from := (page - 1) * size
	to := min(from+size, len(items))
	body, _ := json.Marshal(items[from:to])

	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
