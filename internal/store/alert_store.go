package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mensabot/internal/model"
)

// CreateAlert adds a keyword alert for an existing user.
func (s *SQLiteStore) CreateAlert(ctx context.Context, ownerID int64, keyword string) (*model.Alert, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, ErrEmptyKeyword
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, unavailable("beginning transaction", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.GetContext(ctx, &exists, "SELECT COUNT(*) FROM users WHERE id = ?", ownerID); err != nil {
		return nil, unavailable(fmt.Sprintf("checking user %d", ownerID), err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("user %d: %w", ownerID, ErrNotFound)
	}

	a := model.Alert{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Keyword:   keyword,
		CreatedAt: time.Now().UTC(),
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO alerts (id, owner_id, keyword, muted, created_at) VALUES (?, ?, ?, ?, ?)",
		a.ID, a.OwnerID, a.Keyword, boolToInt(a.Muted), a.CreatedAt,
	)
	if err != nil {
		return nil, unavailable("creating alert", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable("committing alert", err)
	}
	return &a, nil
}

// ListAlerts retrieves a user's alerts, oldest first.
func (s *SQLiteStore) ListAlerts(ctx context.Context, ownerID int64) ([]model.Alert, error) {
	var alerts []model.Alert
	err := s.db.SelectContext(ctx, &alerts,
		"SELECT id, owner_id, keyword, muted, created_at FROM alerts WHERE owner_id = ? ORDER BY created_at, id",
		ownerID,
	)
	if err != nil {
		return nil, unavailable(fmt.Sprintf("listing alerts of user %d", ownerID), err)
	}
	return alerts, nil
}

// DeleteAlert removes one of the owner's alerts. CASCADE removes its
// delivery records.
func (s *SQLiteStore) DeleteAlert(ctx context.Context, ownerID int64, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM alerts WHERE id = ? AND owner_id = ?", id, ownerID)
	if err != nil {
		return unavailable(fmt.Sprintf("deleting alert %s", id), err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetAlertMuted sets the per-alert mute flag.
func (s *SQLiteStore) SetAlertMuted(ctx context.Context, ownerID int64, id string, muted bool) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE alerts SET muted = ? WHERE id = ? AND owner_id = ?",
		boolToInt(muted), id, ownerID,
	)
	if err != nil {
		return unavailable(fmt.Sprintf("muting alert %s", id), err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	return nil
}
