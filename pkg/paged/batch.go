package paged

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// BatchConfig holds configuration for resolving many pages at once.
type BatchConfig struct {
	// MaxConcurrency is the maximum number of pages resolved in parallel.
	// Recommendation: 10 for ESI (300 req/min = 5 req/s)
	MaxConcurrency int

	// Timeout per page. Zero means no per-page timeout.
	Timeout time.Duration
}

// DefaultBatchConfig returns safe defaults for ESI-backed sources.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		MaxConcurrency: 10,
		Timeout:        15 * time.Second,
	}
}

// ResolveRange resolves every page covering the indices [from, to).
// Pages already resolved or in flight are not fetched again. The first failure
// cancels the remaining calls of this batch and is returned.
func (m *Model[T]) ResolveRange(ctx context.Context, from, to int, cfg BatchConfig) error {
	if from < 0 || to > m.total || from > to {
		return fmt.Errorf("%w: range [%d, %d) not within [0, %d)", ErrIndexOutOfRange, from, to, m.total)
	}
	if from == to {
		return nil
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 10
	}

	start := time.Now()
	first, last := m.PageOf(from), m.PageOf(to-1)
	total := last - first + 1

	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.MaxConcurrency)

	for p := first; p <= last; p++ {
		if m.State(p) == Resolved {
			done.Add(1)
			continue
		}

		g.Go(func() error {
			pageCtx := gctx
			if cfg.Timeout > 0 {
				var cancel context.CancelFunc
				pageCtx, cancel = context.WithTimeout(gctx, cfg.Timeout)
				defer cancel()
			}

			if err := m.Resolve(pageCtx, p*m.pageSize); err != nil {
				return err
			}

			// Progress logging every 50 pages
			if n := done.Add(1); n%50 == 0 {
				m.logger.Info().
					Int64("resolved", n).
					Int("total", total).
					Float64("progress_pct", float64(n)/float64(total)*100).
					Msg("Resolve progress")
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		m.logger.Warn().
			Err(err).
			Int64("resolved_pages", done.Load()).
			Int("total_pages", total).
			Msg("Range resolution failed")
		return fmt.Errorf("resolve range [%d, %d) (%d/%d pages): %w", from, to, done.Load(), total, err)
	}

	m.logger.Debug().
		Int("from", from).
		Int("to", to).
		Int("pages", total).
		Dur("duration", time.Since(start)).
		Msg("Range resolved")

	return nil
}

// ResolveAll resolves every page of the collection.
func (m *Model[T]) ResolveAll(ctx context.Context, cfg BatchConfig) error {
	return m.ResolveRange(ctx, 0, m.total, cfg)
}
