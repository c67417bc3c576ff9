package paged

import (
	"context"
	"errors"
	"fmt"
)

// Common errors returned by the model.
var (
	// ErrCancelled is delivered to a caller whose context was done before its page settled.
	ErrCancelled = errors.New("page resolution cancelled")

	// ErrIndexOutOfRange is returned for indices outside [0, Len()).
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrPageLength is returned when a source yields a page of the wrong size.
	ErrPageLength = errors.New("unexpected page length")

	// ErrInvalidSource is returned by New when the source reports inconsistent dimensions.
	ErrInvalidSource = errors.New("invalid page source")
)

// PageError is a source failure for a single page. Every waiter registered on the
// page when the fetch failed receives the same PageError.
type PageError struct {
	Page int
	Err  error
}

// Error implements the error interface.
func (e *PageError) Error() string {
	return fmt.Sprintf("fetch page %d: %v", e.Page, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *PageError) Unwrap() error {
	return e.Err
}

// cancelled builds the outcome for a caller whose context is done.
// Both ErrCancelled and the context cause match with errors.Is.
func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
}
