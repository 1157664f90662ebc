// Package delivery hands alert and admin messages to a transport.
package delivery

import (
	"context"
	"errors"
	"log/slog"
)

// ErrRecipientGone is returned by a Transport when the recipient can no
// longer be reached, for example because the chat was blocked or deleted.
var ErrRecipientGone = errors.New("recipient gone")

// Message is one outgoing message to a user.
type Message struct {
	UserID  int64
	Subject string
	Body    string
}

// Transport delivers messages.
type Transport interface {
	Deliver(ctx context.Context, msg Message) error
}

// LogTransport writes messages to the log instead of sending them.
type LogTransport struct {
	logger *slog.Logger
}

// NewLogTransport creates a LogTransport.
func NewLogTransport(logger *slog.Logger) *LogTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTransport{logger: logger.With("component", "delivery.log")}
}

func (t *LogTransport) Deliver(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.logger.Info("message delivered", "user", msg.UserID, "subject", msg.Subject, "body", msg.Body)
	return nil
}
