// Package source retrieves raw menu markup from the cafeteria website.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nhle/mensabot/internal/model"
)

// FetchErrorKind classifies a failed fetch.
type FetchErrorKind int

const (
	// Transient failures (network errors, timeouts, 5xx, 429) may succeed
	// on a later attempt.
	Transient FetchErrorKind = iota

	// Permanent failures (other 4xx, unexpected content) will not go away
	// by retrying and need an operator.
	Permanent
)

func (k FetchErrorKind) String() string {
	if k == Permanent {
		return "permanent"
	}
	return "transient"
}

// FetchError is returned by a Fetcher when a date range could not be
// retrieved. No partial content accompanies it.
type FetchError struct {
	Kind       FetchErrorKind
	Date       model.Date
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%s fetch error for %s", e.Kind, e.Date)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// transient FetchError.
func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == Transient
}

// IsPermanent reports whether err (or any error in its chain) is a
// permanent FetchError.
func IsPermanent(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == Permanent
}

// DateRange is the ordered set of dates to fetch.
type DateRange struct {
	Dates []model.Date
}

// NewDateRange returns the window of n weekdays starting at today.
func NewDateRange(today model.Date, n int) DateRange {
	return DateRange{Dates: model.WeekdayWindow(today, n)}
}

// RawDay is the unparsed markup the source returned for one date.
type RawDay struct {
	Date model.Date
	Body []byte
}

// RawContent is the result of a successful fetch.
type RawContent struct {
	Days      []RawDay
	FetchedAt time.Time
}

// Fetcher retrieves raw menu content for a date range. Implementations
// either return content for every requested date or a *FetchError.
// Context cancellation is returned as the context's own error.
type Fetcher interface {
	Fetch(ctx context.Context, r DateRange) (*RawContent, error)
}

// FetcherFunc adapts a plain function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, r DateRange) (*RawContent, error)

func (f FetcherFunc) Fetch(ctx context.Context, r DateRange) (*RawContent, error) {
	return f(ctx, r)
}
