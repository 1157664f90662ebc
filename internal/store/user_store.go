package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nhle/mensabot/internal/model"
)

const userColumns = `id, name, status, diet_prefs, allergy_codes, muted, created_at, updated_at`

// UpsertUser inserts a user or updates its profile. Alerts are managed
// separately and never touched here.
func (s *SQLiteStore) UpsertUser(ctx context.Context, u model.User) error {
	if u.Status == "" {
		u.Status = model.StatusStudent
	}
	prefs := u.DietaryPreferences
	if prefs == nil {
		prefs = []model.Tag{}
	}
	codes := make([]string, 0, len(u.AllergyCodes))
	for _, c := range u.AllergyCodes {
		codes = append(codes, model.NormalizeCode(c))
	}

	prefsJSON, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("marshaling dietary preferences for user %d: %w", u.ID, err)
	}
	codesJSON, err := json.Marshal(codes)
	if err != nil {
		return fmt.Errorf("marshaling allergy codes for user %d: %w", u.ID, err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			diet_prefs = excluded.diet_prefs,
			allergy_codes = excluded.allergy_codes,
			muted = excluded.muted,
			updated_at = excluded.updated_at`,
		u.ID, u.Name, string(u.Status), string(prefsJSON), string(codesJSON),
		boolToInt(u.Muted), now, now,
	)
	if err != nil {
		return unavailable(fmt.Sprintf("upserting user %d", u.ID), err)
	}
	return nil
}

// GetUser retrieves a single user with its alerts.
func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (*model.User, error) {
	row := s.db.QueryRowxContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, unavailable(fmt.Sprintf("getting user %d", id), err)
	}

	alerts, err := s.ListAlerts(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Alerts = alerts
	return &u, nil
}

// ListUsers retrieves every user ordered by id, each with its alerts.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY id")
	if err != nil {
		return nil, unavailable("querying users", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, unavailable("listing users", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("listing users", err)
	}
	rows.Close()

	var alerts []model.Alert
	err = s.db.SelectContext(ctx, &alerts,
		"SELECT id, owner_id, keyword, muted, created_at FROM alerts ORDER BY owner_id, created_at, id")
	if err != nil {
		return nil, unavailable("querying alerts", err)
	}
	byOwner := make(map[int64][]model.Alert)
	for _, a := range alerts {
		byOwner[a.OwnerID] = append(byOwner[a.OwnerID], a)
	}
	for i := range users {
		users[i].Alerts = byOwner[users[i].ID]
	}

	return users, nil
}

// DeleteUser removes a user. CASCADE removes its alerts and their
// delivery records.
func (s *SQLiteStore) DeleteUser(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return unavailable(fmt.Sprintf("deleting user %d", id), err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return nil
}

// SetUserMuted sets the user-level mute flag.
func (s *SQLiteStore) SetUserMuted(ctx context.Context, id int64, muted bool) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE users SET muted = ?, updated_at = ? WHERE id = ?",
		boolToInt(muted), time.Now().UTC(), id,
	)
	if err != nil {
		return unavailable(fmt.Sprintf("muting user %d", id), err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return nil
}

// rowScanner is satisfied by both *sqlx.Row and *sqlx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

var (
	_ rowScanner = (*sqlx.Row)(nil)
	_ rowScanner = (*sqlx.Rows)(nil)
)

// scanUser scans a users row selected with userColumns.
func scanUser(row rowScanner) (model.User, error) {
	var (
		u         model.User
		status    string
		prefsJSON string
		codesJSON string
		mutedInt  int
	)

	err := row.Scan(
		&u.ID, &u.Name, &status, &prefsJSON, &codesJSON,
		&mutedInt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return model.User{}, err
	}

	u.Status = model.Status(status)
	u.Muted = mutedInt != 0

	if err := json.Unmarshal([]byte(prefsJSON), &u.DietaryPreferences); err != nil {
		return model.User{}, fmt.Errorf("unmarshaling dietary preferences: %w", err)
	}
	if err := json.Unmarshal([]byte(codesJSON), &u.AllergyCodes); err != nil {
		return model.User{}, fmt.Errorf("unmarshaling allergy codes: %w", err)
	}

	return u, nil
}
