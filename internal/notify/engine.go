// Package notify matches users' keyword alerts against menu days and
// decides which deliveries are due.
package notify

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/nhle/mensabot/internal/model"
)

// RecordStore holds the durable delivery facts.
type RecordStore interface {
	HasDelivery(ctx context.Context, alertID string, date model.Date) (bool, error)
	RecordDelivery(ctx context.Context, rec model.DeliveryRecord) error
}

// Engine evaluates alerts. Every request it returns has already been
// recorded, so a request is emitted at most once per (alert, date).
type Engine struct {
	records RecordStore
	now     func() time.Time
	logger  *slog.Logger
}

// NewEngine creates an Engine backed by records.
func NewEngine(records RecordStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		records: records,
		now:     time.Now,
		logger:  logger.With("component", "notify"),
	}
}

// Evaluate checks every unmuted alert of every unmuted user against days.
// For each (alert, date) the first matching meal is recorded and returned,
// unless a record already exists. A request whose record cannot be
// written is dropped. Only context cancellation is returned as an error.
func (e *Engine) Evaluate(ctx context.Context, days []model.MenuDay, users []model.User) ([]model.DeliveryRequest, error) {
	days = append([]model.MenuDay(nil), days...)
	sort.SliceStable(days, func(i, j int) bool { return days[i].Date < days[j].Date })

	users = append([]model.User(nil), users...)
	sort.SliceStable(users, func(i, j int) bool { return users[i].ID < users[j].ID })

	fold := cases.Fold()
	folded := foldDays(fold, days)

	var out []model.DeliveryRequest
	for _, u := range users {
		if u.Muted {
			continue
		}
		for _, a := range sortedAlerts(u.Alerts) {
			if a.Muted {
				continue
			}
			kw := fold.String(strings.TrimSpace(a.Keyword))
			if kw == "" {
				continue
			}

			for di, day := range days {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				mi := firstMatch(folded[di], kw)
				if mi < 0 {
					continue
				}
				if req, ok := e.claim(ctx, u, a, day, day.Meals[mi]); ok {
					out = append(out, req)
				}
			}
		}
	}
	return out, nil
}

// claim records the delivery and reports whether the request may be sent.
func (e *Engine) claim(ctx context.Context, u model.User, a model.Alert, day model.MenuDay, meal model.Meal) (model.DeliveryRequest, bool) {
	log := e.logger.With("user", u.ID, "alert", a.ID, "date", day.Date)

	done, err := e.records.HasDelivery(ctx, a.ID, day.Date)
	if err != nil {
		log.Error("dropping delivery, record lookup failed", "error", err)
		return model.DeliveryRequest{}, false
	}
	if done {
		return model.DeliveryRequest{}, false
	}

	rec := model.DeliveryRecord{AlertID: a.ID, Date: day.Date, DeliveredAt: e.now()}
	if err := e.records.RecordDelivery(ctx, rec); err != nil {
		log.Error("dropping delivery, record write failed", "error", err)
		return model.DeliveryRequest{}, false
	}

	log.Info("alert matched", "keyword", a.Keyword, "meal", meal.Name)
	return model.DeliveryRequest{
		UserID:  u.ID,
		AlertID: a.ID,
		Keyword: a.Keyword,
		Date:    day.Date,
		Meal:    meal,
	}, true
}

// foldedMeal holds the case-folded searchable text of one meal.
type foldedMeal struct {
	name string
	tags []string
}

func foldDays(fold cases.Caser, days []model.MenuDay) [][]foldedMeal {
	out := make([][]foldedMeal, len(days))
	for i, d := range days {
		meals := make([]foldedMeal, len(d.Meals))
		for j, m := range d.Meals {
			meals[j].name = fold.String(m.Name)
			for _, t := range m.Tags {
				meals[j].tags = append(meals[j].tags, fold.String(string(t)))
			}
		}
		out[i] = meals
	}
	return out
}

// firstMatch returns the index of the first meal whose name contains kw or
// whose tag equals kw, or -1.
func firstMatch(meals []foldedMeal, kw string) int {
	for i, m := range meals {
		if strings.Contains(m.name, kw) {
			return i
		}
		for _, t := range m.tags {
			if t == kw {
				return i
			}
		}
	}
	return -1
}

func sortedAlerts(alerts []model.Alert) []model.Alert {
	out := append([]model.Alert(nil), alerts...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
