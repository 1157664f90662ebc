package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nhle/mensabot/internal/model"
	"github.com/nhle/mensabot/internal/store"
)

// Users is the part of the user directory the dispatcher needs.
type Users interface {
	GetUser(ctx context.Context, id int64) (*model.User, error)
	DeleteUser(ctx context.Context, id int64) error
}

// Dispatcher sends delivery requests and admin notices through a Transport.
type Dispatcher struct {
	transport Transport
	users     Users
	adminID   int64
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher. An adminID of 0 disables notices.
func NewDispatcher(t Transport, users Users, adminID int64, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		transport: t,
		users:     users,
		adminID:   adminID,
		logger:    logger.With("component", "delivery"),
	}
}

// Dispatch sends every request and returns how many were delivered.
// Requests are already recorded, so a failed send is logged and not
// retried. A recipient that is gone is deleted along with its alerts.
func (d *Dispatcher) Dispatch(ctx context.Context, reqs []model.DeliveryRequest) (int, error) {
	sent := 0
	gone := make(map[int64]bool)
	cache := make(map[int64]*model.User)

	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if gone[req.UserID] {
			continue
		}

		u, ok := cache[req.UserID]
		if !ok {
			var err error
			u, err = d.users.GetUser(ctx, req.UserID)
			if errors.Is(err, store.ErrNotFound) {
				d.logger.Warn("skipping delivery for unknown user", "user", req.UserID, "alert", req.AlertID)
				gone[req.UserID] = true
				continue
			}
			if err != nil {
				d.logger.Error("delivery lost, user lookup failed", "user", req.UserID, "alert", req.AlertID, "error", err)
				continue
			}
			cache[req.UserID] = u
		}

		err := d.transport.Deliver(ctx, FormatAlert(req, *u))
		switch {
		case err == nil:
			sent++
		case errors.Is(err, ErrRecipientGone):
			gone[req.UserID] = true
			d.logger.Warn("removing unreachable user", "user", req.UserID, "error", err)
			if delErr := d.users.DeleteUser(ctx, req.UserID); delErr != nil && !errors.Is(delErr, store.ErrNotFound) {
				d.logger.Error("removing unreachable user failed", "user", req.UserID, "error", delErr)
			}
		case ctx.Err() != nil:
			return sent, ctx.Err()
		default:
			d.logger.Error("delivery lost", "user", req.UserID, "alert", req.AlertID, "date", req.Date, "error", err)
		}
	}
	return sent, nil
}

// NotifyAdmin sends a notice to the administrator.
func (d *Dispatcher) NotifyAdmin(ctx context.Context, subject, body string) error {
	if d.adminID == 0 {
		return nil
	}
	err := d.transport.Deliver(ctx, Message{UserID: d.adminID, Subject: subject, Body: body})
	if err != nil {
		return fmt.Errorf("notifying admin: %w", err)
	}
	return nil
}
