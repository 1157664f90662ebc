package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/mensabot/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrEmptyKeyword is returned by CreateAlert for a blank keyword.
var ErrEmptyKeyword = errors.New("alert keyword must not be empty")

// PersistenceErrorKind classifies storage failures.
type PersistenceErrorKind int

const (
	// Unavailable means the database could not serve the request.
	Unavailable PersistenceErrorKind = iota

	// Conflict means the write collided with an existing row.
	Conflict
)

func (k PersistenceErrorKind) String() string {
	if k == Conflict {
		return "conflict"
	}
	return "unavailable"
}

// PersistenceError wraps a failed storage operation.
type PersistenceError struct {
	Kind PersistenceErrorKind
	Op   string
	Err  error
}

func (e *PersistenceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsConflict reports whether err (or any error in its chain) is a
// Conflict PersistenceError.
func IsConflict(err error) bool {
	var pErr *PersistenceError
	return errors.As(err, &pErr) && pErr.Kind == Conflict
}

// IsUnavailable reports whether err (or any error in its chain) is an
// Unavailable PersistenceError.
func IsUnavailable(err error) bool {
	var pErr *PersistenceError
	return errors.As(err, &pErr) && pErr.Kind == Unavailable
}

func unavailable(op string, err error) error {
	return &PersistenceError{Kind: Unavailable, Op: op, Err: err}
}

// UserDirectory is the registration/preference view of users.
type UserDirectory interface {
	GetUser(ctx context.Context, id int64) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	DeleteUser(ctx context.Context, id int64) error
	UpsertUser(ctx context.Context, u model.User) error
}

// AlertStore manages user-owned keyword alerts.
type AlertStore interface {
	CreateAlert(ctx context.Context, ownerID int64, keyword string) (*model.Alert, error)
	ListAlerts(ctx context.Context, ownerID int64) ([]model.Alert, error)
	DeleteAlert(ctx context.Context, ownerID int64, id string) error
	SetAlertMuted(ctx context.Context, ownerID int64, id string, muted bool) error
	SetUserMuted(ctx context.Context, id int64, muted bool) error
}

// DeliveryStore holds the durable at-most-once delivery facts.
type DeliveryStore interface {
	HasDelivery(ctx context.Context, alertID string, date model.Date) (bool, error)
	RecordDelivery(ctx context.Context, rec model.DeliveryRecord) error
}

// MenuDayStore persists normalized menu days.
type MenuDayStore interface {
	ReplaceMenuDays(ctx context.Context, days []model.MenuDay) error
	LoadMenuDays(ctx context.Context) ([]model.MenuDay, error)
	DeleteMenuDaysBefore(ctx context.Context, date model.Date) (int64, error)
}

// Store is everything the bot persists.
type Store interface {
	UserDirectory
	AlertStore
	DeliveryStore
	MenuDayStore
	Close() error
}
