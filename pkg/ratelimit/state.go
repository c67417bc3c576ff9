// Package ratelimit tracks the ESI error limit and gates page requests so a
// burst of failing page fetches cannot get the client IP banned.
//
// ESI reports the remaining error budget in X-ESI-Error-Limit-Remain and the
// seconds until the window resets in X-ESI-Error-Limit-Reset.
package ratelimit

import "time"

// Redis keys for shared error limit state.
const (
	RedisKeyErrorsRemaining = "esi-pager:error_limit:remaining"
	RedisKeyResetTimestamp  = "esi-pager:error_limit:reset_at"
)

// Default thresholds.
const (
	// DefaultCriticalThreshold blocks requests below this many remaining errors.
	DefaultCriticalThreshold = 10

	// DefaultWarningThreshold throttles requests below this many remaining errors.
	DefaultWarningThreshold = 20

	// fullBudget is assumed until ESI reports otherwise.
	fullBudget = 100
)

// State is the ESI error limit as last reported.
type State struct {
	// ErrorsRemaining is the number of errors allowed before ESI blocks requests.
	ErrorsRemaining int `json:"errors_remaining"`

	// ResetAt is when the error window resets.
	ResetAt time.Time `json:"reset_at"`
}

// TimeUntilReset returns the duration until the error limit resets, or 0 if
// the reset time has passed.
func (s State) TimeUntilReset() time.Duration {
	if d := time.Until(s.ResetAt); d > 0 {
		return d
	}
	return 0
}

// Reset reports whether the window has rolled over since the state was recorded.
func (s State) Reset() bool {
	return !s.ResetAt.IsZero() && !time.Now().Before(s.ResetAt)
}
