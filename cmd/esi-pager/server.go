package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/esi-pager/pkg/metrics"
	"github.com/Sternrassler/esi-pager/pkg/paged"
	"github.com/rs/zerolog"
)

// lookupTimeout bounds a single item lookup.
const lookupTimeout = 30 * time.Second

// maxRange is the largest number of items served by one range request.
const maxRange = 5000

type itemResponse struct {
	Index int             `json:"index"`
	Page  int             `json:"page"`
	Item  json.RawMessage `json:"item"`
}

type rangeResponse struct {
	From  int               `json:"from"`
	To    int               `json:"to"`
	Items []json.RawMessage `json:"items"`
}

type pageInfo struct {
	Page    int    `json:"page"`
	Status  string `json:"status"`
	Waiters int    `json:"waiters"`
}

type pagesResponse struct {
	Elements int        `json:"elements"`
	PageSize int        `json:"page_size"`
	Pages    []pageInfo `json:"pages"`
}

type server struct {
	model  *paged.Model[json.RawMessage]
	logger zerolog.Logger
}

// newServer returns the HTTP handler serving model.
func newServer(model *paged.Model[json.RawMessage], logger zerolog.Logger) http.Handler {
	s := &server{model: model, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.health)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /items/{index}", s.item)
	mux.HandleFunc("GET /items", s.itemRange)
	mux.HandleFunc("GET /pages", s.pages)
	return mux
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// item resolves one element. The lookup is tied to the request context, so a
// client that disconnects withdraws only its own interest in the page.
func (s *server) item(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		http.Error(w, "index must be an integer", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), lookupTimeout)
	defer cancel()

	if err := s.model.Resolve(ctx, index); err != nil {
		s.writeError(w, index, err)
		return
	}

	item, _ := s.model.At(index)
	writeJSON(w, itemResponse{Index: index, Page: s.model.PageOf(index), Item: item})
}

// itemRange resolves the half-open range [from, to).
func (s *server) itemRange(w http.ResponseWriter, r *http.Request) {
	from, err1 := strconv.Atoi(r.URL.Query().Get("from"))
	to, err2 := strconv.Atoi(r.URL.Query().Get("to"))
	if err1 != nil || err2 != nil {
		http.Error(w, "from and to must be integers", http.StatusBadRequest)
		return
	}
	if to-from > maxRange {
		http.Error(w, fmt.Sprintf("range exceeds %d items", maxRange), http.StatusBadRequest)
		return
	}

	if err := s.model.ResolveRange(r.Context(), from, to, paged.DefaultBatchConfig()); err != nil {
		s.writeError(w, from, err)
		return
	}

	items := make([]json.RawMessage, 0, to-from)
	for i := from; i < to; i++ {
		item, _ := s.model.At(i)
		items = append(items, item)
	}
	writeJSON(w, rangeResponse{From: from, To: to, Items: items})
}

func (s *server) pages(w http.ResponseWriter, r *http.Request) {
	resp := pagesResponse{
		Elements: s.model.Len(),
		PageSize: s.model.PageSize(),
		Pages:    make([]pageInfo, 0, s.model.PageCount()),
	}
	for p := 0; p < s.model.PageCount(); p++ {
		resp.Pages = append(resp.Pages, pageInfo{
			Page:    p,
			Status:  s.model.State(p).String(),
			Waiters: s.model.Waiters(p),
		})
	}
	writeJSON(w, resp)
}

func (s *server) writeError(w http.ResponseWriter, index int, err error) {
	var pageErr *paged.PageError
	switch {
	case errors.Is(err, paged.ErrIndexOutOfRange):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, paged.ErrCancelled):
		// The client is usually gone; the status only matters for timeouts.
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
	case errors.As(err, &pageErr):
		s.logger.Warn().Err(err).Int("index", index).Int("page", pageErr.Page).Msg("Page fetch failed")
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		s.logger.Error().Err(err).Int("index", index).Msg("Lookup failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
