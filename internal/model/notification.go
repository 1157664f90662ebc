package model

import "time"

// DeliveryRecord is the durable fact that an alert already fired for a
// date. At most one exists per (AlertID, Date).
type DeliveryRecord struct {
	// AlertID links the record to the alert that fired.
	AlertID string `json:"alert_id" db:"alert_id"`

	// Date is the menu date the alert matched.
	Date Date `json:"date" db:"date"`

	// DeliveredAt is when the record was committed.
	DeliveredAt time.Time `json:"delivered_at" db:"delivered_at"`
}

// DeliveryRequest asks the transport to tell a user that one of their
// alerts matched a meal.
type DeliveryRequest struct {
	UserID  int64  `json:"user_id"`
	AlertID string `json:"alert_id"`
	Keyword string `json:"keyword"`
	Date    Date   `json:"date"`
	Meal    Meal   `json:"meal"`
}
