// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nhle/mensabot/internal/model"
	"github.com/nhle/mensabot/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// SeedUser stores u and one alert per keyword, returning the alerts in
// keyword order.
func SeedUser(t *testing.T, s store.Store, u model.User, keywords ...string) []model.Alert {
	t.Helper()
	ctx := context.Background()

	if err := s.UpsertUser(ctx, u); err != nil {
		t.Fatalf("seeding user %d: %v", u.ID, err)
	}
	alerts := make([]model.Alert, 0, len(keywords))
	for _, kw := range keywords {
		a, err := s.CreateAlert(ctx, u.ID, kw)
		if err != nil {
			t.Fatalf("seeding alert %q for user %d: %v", kw, u.ID, err)
		}
		alerts = append(alerts, *a)
	}
	return alerts
}

// MenuDay builds a day with one meal per name, every meal priced 1.00 /
// 2.00 / 3.00.
func MenuDay(date model.Date, fetchedAt time.Time, names ...string) model.MenuDay {
	day := model.MenuDay{Date: date, FetchedAt: fetchedAt, Meals: []model.Meal{}}
	for i, name := range names {
		day.Meals = append(day.Meals, model.Meal{
			ID:        fmt.Sprintf("%s-%02d", date, i+1),
			Name:      name,
			Category:  "Essen",
			RawCodes:  []string{},
			Allergens: []model.Allergen{},
			Prices: map[model.Status]model.Price{
				model.StatusStudent:  model.NewPrice(decimal.NewFromInt(1)),
				model.StatusEmployee: model.NewPrice(decimal.NewFromInt(2)),
				model.StatusGuest:    model.NewPrice(decimal.NewFromInt(3)),
			},
			Tags: []model.Tag{},
		})
	}
	return day
}

// Clock is a settable time source for code that takes a now func.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(now time.Time) *Clock { return &Clock{now: now} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Set(now time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
