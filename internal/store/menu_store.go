package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nhle/mensabot/internal/model"
)

// ReplaceMenuDays writes each day wholesale, replacing any earlier row for
// the same date. All days commit together or not at all.
func (s *SQLiteStore) ReplaceMenuDays(ctx context.Context, days []model.MenuDay) error {
	if len(days) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return unavailable("beginning transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx,
		"INSERT OR REPLACE INTO menu_days (date, fetched_at, meals) VALUES (?, ?, ?)")
	if err != nil {
		return unavailable("preparing menu day statement", err)
	}
	defer stmt.Close()

	for _, d := range days {
		meals := d.Meals
		if meals == nil {
			meals = []model.Meal{}
		}
		mealsJSON, err := json.Marshal(meals)
		if err != nil {
			return fmt.Errorf("marshaling meals for %s: %w", d.Date, err)
		}
		if _, err := stmt.ExecContext(ctx, d.Date.String(), d.FetchedAt.UTC(), string(mealsJSON)); err != nil {
			return unavailable(fmt.Sprintf("replacing menu day %s", d.Date), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable("committing menu days", err)
	}
	return nil
}

// LoadMenuDays returns every persisted day ordered by date. IsStale is
// not stored; the menu store derives it on read.
func (s *SQLiteStore) LoadMenuDays(ctx context.Context) ([]model.MenuDay, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT date, fetched_at, meals FROM menu_days ORDER BY date")
	if err != nil {
		return nil, unavailable("querying menu days", err)
	}
	defer rows.Close()

	var days []model.MenuDay
	for rows.Next() {
		var (
			d         model.MenuDay
			date      string
			mealsJSON string
		)
		if err := rows.Scan(&date, &d.FetchedAt, &mealsJSON); err != nil {
			return nil, unavailable("scanning menu day row", err)
		}
		d.Date = model.Date(date)
		if err := json.Unmarshal([]byte(mealsJSON), &d.Meals); err != nil {
			return nil, fmt.Errorf("unmarshaling meals for %s: %w", date, err)
		}
		days = append(days, d)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("listing menu days", err)
	}
	return days, nil
}

// DeleteMenuDaysBefore removes days strictly earlier than date.
func (s *SQLiteStore) DeleteMenuDaysBefore(ctx context.Context, date model.Date) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM menu_days WHERE date < ?", date.String())
	if err != nil {
		return 0, unavailable(fmt.Sprintf("pruning menu days before %s", date), err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
