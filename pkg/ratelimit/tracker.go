package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrBlocked is returned by Allow while the error budget is critical.
var ErrBlocked = errors.New("request blocked: ESI error limit critical")

// Prometheus metrics for error limit tracking.
var (
	esiErrorsRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "esi_errors_remaining",
		Help: "Number of errors remaining in current ESI error limit window",
	})

	esiRateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "esi_rate_limit_blocks_total",
		Help: "Total number of requests blocked due to critical error limit",
	})

	esiRateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "esi_rate_limit_throttles_total",
		Help: "Total number of requests throttled due to warning error limit",
	})
)

// Config holds tracker thresholds.
type Config struct {
	// Critical blocks requests when errors remaining falls below it.
	Critical int

	// Warning delays requests by ThrottleDelay when errors remaining falls below it.
	Warning int

	// ThrottleDelay is how long a throttled request waits.
	ThrottleDelay time.Duration
}

// DefaultConfig returns default thresholds.
func DefaultConfig() Config {
	return Config{
		Critical:      DefaultCriticalThreshold,
		Warning:       DefaultWarningThreshold,
		ThrottleDelay: 1 * time.Second,
	}
}

// Tracker monitors the ESI error limit. State is shared through Redis when a
// client is given and kept in process memory otherwise.
type Tracker struct {
	redis  *redis.Client
	config Config
	logger zerolog.Logger

	mu    sync.Mutex
	local State
}

// NewTracker creates a tracker. redisClient may be nil.
func NewTracker(redisClient *redis.Client, cfg Config, logger zerolog.Logger) *Tracker {
	if cfg.Critical <= 0 {
		cfg.Critical = DefaultCriticalThreshold
	}
	if cfg.Warning < cfg.Critical {
		cfg.Warning = cfg.Critical
	}
	return &Tracker{
		redis:  redisClient,
		config: cfg,
		logger: logger,
		local:  State{ErrorsRemaining: fullBudget},
	}
}

// State returns the current error limit state. An elapsed window reads as a full budget.
func (t *Tracker) State(ctx context.Context) (State, error) {
	state, err := t.load(ctx)
	if err != nil {
		return State{}, err
	}
	if state.Reset() {
		return State{ErrorsRemaining: fullBudget}, nil
	}
	return state, nil
}

func (t *Tracker) load(ctx context.Context) (State, error) {
	if t.redis == nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.local, nil
	}

	remain, err := t.redis.Get(ctx, RedisKeyErrorsRemaining).Int()
	if errors.Is(err, redis.Nil) {
		return State{ErrorsRemaining: fullBudget}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("get errors remaining: %w", err)
	}

	resetAt, err := t.redis.Get(ctx, RedisKeyResetTimestamp).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return State{}, fmt.Errorf("get reset timestamp: %w", err)
	}

	return State{ErrorsRemaining: remain, ResetAt: time.Unix(resetAt, 0)}, nil
}

// UpdateFromHeaders records the error limit reported on a response.
// Responses without the headers are ignored.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	remainStr := headers.Get("X-ESI-Error-Limit-Remain")
	if remainStr == "" {
		return nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse X-ESI-Error-Limit-Remain header: %w", err)
	}

	resetSeconds, err := strconv.Atoi(headers.Get("X-ESI-Error-Limit-Reset"))
	if err != nil {
		return fmt.Errorf("parse X-ESI-Error-Limit-Reset header: %w", err)
	}

	state := State{
		ErrorsRemaining: remain,
		ResetAt:         time.Now().Add(time.Duration(resetSeconds) * time.Second),
	}

	if t.redis == nil {
		t.mu.Lock()
		t.local = state
		t.mu.Unlock()
	} else {
		ttl := state.TimeUntilReset() + time.Second
		pipe := t.redis.Pipeline()
		pipe.Set(ctx, RedisKeyErrorsRemaining, remain, ttl)
		pipe.Set(ctx, RedisKeyResetTimestamp, state.ResetAt.Unix(), ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("store error limit state in redis: %w", err)
		}
	}

	esiErrorsRemaining.Set(float64(remain))

	switch {
	case remain < t.config.Critical:
		t.logger.Error().Int("errors_remaining", remain).Time("reset_at", state.ResetAt).
			Msg("ESI error limit CRITICAL - requests will be blocked")
	case remain < t.config.Warning:
		t.logger.Warn().Int("errors_remaining", remain).Time("reset_at", state.ResetAt).
			Msg("ESI error limit WARNING - requests will be throttled")
	default:
		t.logger.Debug().Int("errors_remaining", remain).Msg("ESI error limit state updated")
	}

	return nil
}

// Allow gates a request. It returns ErrBlocked while the budget is critical and
// waits ThrottleDelay (or until ctx is done) while it is in the warning band.
func (t *Tracker) Allow(ctx context.Context) error {
	state, err := t.State(ctx)
	if err != nil {
		return fmt.Errorf("get error limit state: %w", err)
	}

	if state.ErrorsRemaining < t.config.Critical {
		t.logger.Error().
			Int("errors_remaining", state.ErrorsRemaining).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("ESI error limit critical - blocking request")
		esiRateLimitBlocksTotal.Inc()
		return fmt.Errorf("%w (resets in %s)", ErrBlocked, state.TimeUntilReset().Round(time.Second))
	}

	if state.ErrorsRemaining < t.config.Warning {
		t.logger.Warn().
			Int("errors_remaining", state.ErrorsRemaining).
			Msg("ESI error limit warning - throttling request")
		esiRateLimitThrottlesTotal.Inc()

		timer := time.NewTimer(t.config.ThrottleDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	return nil
}
