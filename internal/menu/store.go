// Package menu owns the in-memory index of normalized menu days and the
// read views built from it.
package menu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nhle/mensabot/internal/model"
)

// ErrNotFound is returned by Get for a date without a MenuDay.
var ErrNotFound = errors.New("menu day not found")

// Persister is the durable backing of the store.
type Persister interface {
	ReplaceMenuDays(ctx context.Context, days []model.MenuDay) error
	LoadMenuDays(ctx context.Context) ([]model.MenuDay, error)
	DeleteMenuDaysBefore(ctx context.Context, date model.Date) (int64, error)
}

// Options configures staleness and the calendar.
type Options struct {
	// Freshness is how long after FetchedAt a day stays fresh.
	Freshness time.Duration

	// RetentionDays is how many days in the past a day may lie before it
	// counts as stale.
	RetentionDays int

	// Location is the cafeteria's time zone; "today" is computed in it.
	Location *time.Location

	// Now defaults to time.Now.
	Now func() time.Time
}

// Store maps dates to MenuDays. Reads may run concurrently. Writers that
// must not interleave (refresh replace, alert evaluate and record) take
// the commit lock first.
type Store struct {
	mu   sync.RWMutex
	days map[model.Date]model.MenuDay

	persist   Persister
	freshness time.Duration
	retention int
	loc       *time.Location
	now       func() time.Time

	commit *semaphore.Weighted
	logger *slog.Logger
}

// NewStore creates an empty store. A nil persister keeps days in memory only.
func NewStore(p Persister, opts Options, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Freshness <= 0 {
		opts.Freshness = 24 * time.Hour
	}
	return &Store{
		days:      make(map[model.Date]model.MenuDay),
		persist:   p,
		freshness: opts.Freshness,
		retention: opts.RetentionDays,
		loc:       opts.Location,
		now:       opts.Now,
		commit:    semaphore.NewWeighted(1),
		logger:    logger.With("component", "menu"),
	}
}

// Load fills the store from the persister.
func (s *Store) Load(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}
	days, err := s.persist.LoadMenuDays(ctx)
	if err != nil {
		return fmt.Errorf("loading menu days: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.days = make(map[model.Date]model.MenuDay, len(days))
	for _, d := range days {
		d.IsStale = false
		s.days[d.Date] = d
	}
	s.logger.Info("menu store loaded", "days", len(days))
	return nil
}

// Replace swaps in one day wholesale.
func (s *Store) Replace(ctx context.Context, day model.MenuDay) error {
	return s.ReplaceAll(ctx, []model.MenuDay{day})
}

// ReplaceAll persists the given days and then swaps each of them in. Dates
// not in days are left untouched. Readers see either the old or the new
// day for a date, never a mix.
func (s *Store) ReplaceAll(ctx context.Context, days []model.MenuDay) error {
	if len(days) == 0 {
		return nil
	}
	if s.persist != nil {
		if err := s.persist.ReplaceMenuDays(ctx, days); err != nil {
			return fmt.Errorf("persisting menu days: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range days {
		d.IsStale = false
		s.days[d.Date] = d
	}
	return nil
}

// Get returns the day for date with its staleness computed now.
func (s *Store) Get(date model.Date) (model.MenuDay, error) {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.days[date]
	if !ok {
		return model.MenuDay{}, fmt.Errorf("%s: %w", date, ErrNotFound)
	}
	d.IsStale = d.IsStale || s.expired(d, now)
	return d, nil
}

// Today returns the current date in the store's location.
func (s *Store) Today() model.Date {
	return model.DateOf(s.now().In(s.loc))
}

// Window returns the days present among the next n weekdays starting
// today, in date order. Missing dates are skipped.
func (s *Store) Window(n int) []model.MenuDay {
	now := s.now()
	dates := model.WeekdayWindow(model.DateOf(now.In(s.loc)), n)

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.MenuDay, 0, len(dates))
	for _, date := range dates {
		if d, ok := s.days[date]; ok {
			d.IsStale = d.IsStale || s.expired(d, now)
			out = append(out, d)
		}
	}
	return out
}

// MarkStaleIfExpired flags every expired day and returns how many days are
// stale. Running it repeatedly has no further effect.
func (s *Store) MarkStaleIfExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	stale := 0
	for date, d := range s.days {
		if !d.IsStale && s.expired(d, now) {
			d.IsStale = true
			s.days[date] = d
		}
		if d.IsStale {
			stale++
		}
	}
	return stale
}

// expired reports whether d is past retention or older than freshness.
func (s *Store) expired(d model.MenuDay, now time.Time) bool {
	today := model.DateOf(now.In(s.loc))
	if d.Date.Before(today.AddDays(-s.retention)) {
		return true
	}
	return now.Sub(d.FetchedAt) > s.freshness
}

// Snapshot returns the display view of the next n weekdays.
func (s *Store) Snapshot(n int) model.MenuSnapshot {
	days := s.Window(n)
	snap := model.MenuSnapshot{Days: days, GeneratedAt: s.now()}
	for _, d := range days {
		if d.IsStale {
			snap.Stale = true
			break
		}
	}
	return snap
}

// Stats summarizes every stored day.
func (s *Store) Stats() model.MenuStats {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := model.MenuStats{DayCount: len(s.days), TagCounts: make(map[model.Tag]int)}
	for date, d := range s.days {
		stats.MealCount += len(d.Meals)
		if d.IsStale || s.expired(d, now) {
			stats.StaleCount++
		}
		if stats.From == "" || date.Before(stats.From) {
			stats.From = date
		}
		if stats.To == "" || stats.To.Before(date) {
			stats.To = date
		}
		for _, m := range d.Meals {
			for _, t := range m.Tags {
				stats.TagCounts[t]++
			}
		}
	}
	return stats
}

// Dates returns every stored date in order.
func (s *Store) Dates() []model.Date {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dates := make([]model.Date, 0, len(s.days))
	for d := range s.days {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i] < dates[j] })
	return dates
}

// NeedsRefresh reports whether the store is empty or holds nothing after
// today, meaning the published menu has run out.
func (s *Store) NeedsRefresh() bool {
	today := s.Today()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for date := range s.days {
		if today.Before(date) {
			return false
		}
	}
	return true
}

// PruneBefore drops days strictly earlier than date from memory and the
// persister.
func (s *Store) PruneBefore(ctx context.Context, date model.Date) (int, error) {
	if s.persist != nil {
		if _, err := s.persist.DeleteMenuDaysBefore(ctx, date); err != nil {
			return 0, fmt.Errorf("pruning menu days: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for d := range s.days {
		if d.Before(date) {
			delete(s.days, d)
			n++
		}
	}
	return n, nil
}

// AcquireCommit blocks until the caller holds the commit lock.
func (s *Store) AcquireCommit(ctx context.Context) (release func(), err error) {
	if err := s.commit.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { s.commit.Release(1) }, nil
}

// TryCommitWithin waits at most guard for the commit lock. ok is false
// when the guard elapsed first; the caller may then go ahead against the
// state committed so far.
func (s *Store) TryCommitWithin(ctx context.Context, guard time.Duration) (release func(), ok bool, err error) {
	if s.commit.TryAcquire(1) {
		return func() { s.commit.Release(1) }, true, nil
	}
	if guard <= 0 {
		return func() {}, false, nil
	}

	wctx, cancel := context.WithTimeout(ctx, guard)
	defer cancel()
	if err := s.commit.Acquire(wctx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return func() {}, false, nil
	}
	return func() { s.commit.Release(1) }, true, nil
}
