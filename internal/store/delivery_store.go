package store

import (
	"context"
	"fmt"
	"time"

	"github.com/nhle/mensabot/internal/model"
)

// HasDelivery reports whether the alert already fired for date.
func (s *SQLiteStore) HasDelivery(ctx context.Context, alertID string, date model.Date) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM delivery_records WHERE alert_id = ? AND date = ?",
		alertID, date.String(),
	)
	if err != nil {
		return false, unavailable(fmt.Sprintf("checking delivery %s/%s", alertID, date), err)
	}
	return n > 0, nil
}

// RecordDelivery durably stores the delivery fact. A second record for the
// same (alert, date) is a Conflict and leaves the first untouched.
func (s *SQLiteStore) RecordDelivery(ctx context.Context, rec model.DeliveryRecord) error {
	if rec.DeliveredAt.IsZero() {
		rec.DeliveredAt = time.Now()
	}
	op := fmt.Sprintf("recording delivery %s/%s", rec.AlertID, rec.Date)

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO delivery_records (alert_id, date, delivered_at)
		VALUES (?, ?, ?)
		ON CONFLICT(alert_id, date) DO NOTHING`,
		rec.AlertID, rec.Date.String(), rec.DeliveredAt.UTC(),
	)
	if err != nil {
		return unavailable(op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return unavailable(op, err)
	}
	if rows == 0 {
		return &PersistenceError{Kind: Conflict, Op: op}
	}
	return nil
}

// ListDeliveries returns every record for the given alert, by date.
func (s *SQLiteStore) ListDeliveries(ctx context.Context, alertID string) ([]model.DeliveryRecord, error) {
	var recs []model.DeliveryRecord
	err := s.db.SelectContext(ctx, &recs,
		"SELECT alert_id, date, delivered_at FROM delivery_records WHERE alert_id = ? ORDER BY date",
		alertID,
	)
	if err != nil {
		return nil, unavailable(fmt.Sprintf("listing deliveries of alert %s", alertID), err)
	}
	return recs, nil
}
