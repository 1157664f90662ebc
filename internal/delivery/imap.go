package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/mensabot/internal/credential"
	"github.com/nhle/mensabot/internal/model"
)

// dialTimeout bounds the TCP connect to the IMAP server.
const dialTimeout = 30 * time.Second

// IMAPTransport appends each message to a mailbox on an IMAP server, where
// a mail client or bridge picks it up. The recipient address is
// <user id>@<to domain>.
type IMAPTransport struct {
	cfg     model.IMAPConfig
	from    string
	secrets credential.Getter
	now     func() time.Time
	logger  *slog.Logger
}

// NewIMAPTransport creates an IMAP transport. The login password is read
// from secrets under cfg.PasswordKey on every connection.
func NewIMAPTransport(cfg model.DeliveryConfig, secrets credential.Getter, logger *slog.Logger) *IMAPTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &IMAPTransport{
		cfg:     cfg.IMAP,
		from:    cfg.From,
		secrets: secrets,
		now:     time.Now,
		logger:  logger.With("component", "delivery.imap"),
	}
}

// Deliver implements Transport.
func (t *IMAPTransport) Deliver(ctx context.Context, msg Message) error {
	raw, err := t.compose(msg)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	client, stop, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer stop()
	defer func() {
		_ = client.Logout().Wait()
		_ = client.Close()
	}()

	cmd := client.Append(t.cfg.Mailbox, int64(len(raw)), &imap.AppendOptions{
		Time: t.now(),
	})
	if _, err := cmd.Write(raw); err != nil {
		_ = cmd.Close()
		return fmt.Errorf("writing message to %s: %w", t.cfg.Mailbox, err)
	}
	if err := cmd.Close(); err != nil {
		return fmt.Errorf("closing append to %s: %w", t.cfg.Mailbox, err)
	}
	if _, err := cmd.Wait(); err != nil {
		return fmt.Errorf("appending message to %s: %w", t.cfg.Mailbox, err)
	}

	t.logger.Debug("message appended", "user", msg.UserID, "mailbox", t.cfg.Mailbox)
	return nil
}

// connect dials the server and logs in. The connection is closed as soon
// as ctx is done; the returned stop func detaches that hook.
func (t *IMAPTransport) connect(ctx context.Context) (*imapclient.Client, func() bool, error) {
	password, err := t.secrets.Get(t.cfg.PasswordKey)
	if err != nil {
		return nil, nil, fmt.Errorf("reading IMAP password: %w", err)
	}

	addr := net.JoinHostPort(t.cfg.Host, t.cfg.Port)
	dialer := &net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	tlsConfig := &tls.Config{ServerName: t.cfg.Host}
	var client *imapclient.Client
	if t.cfg.TLS {
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			stop()
			_ = conn.Close()
			return nil, nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
		}
		client = imapclient.New(tlsConn, nil)
	} else {
		client, err = imapclient.NewStartTLS(conn, &imapclient.Options{TLSConfig: tlsConfig})
		if err != nil {
			stop()
			_ = conn.Close()
			return nil, nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
		}
	}

	if err := client.Login(t.cfg.Username, password).Wait(); err != nil {
		stop()
		_ = client.Close()
		return nil, nil, fmt.Errorf("logging in to IMAP as %s: %w", t.cfg.Username, err)
	}
	return client, stop, nil
}

// compose renders msg as a plain-text RFC 5322 message.
func (t *IMAPTransport) compose(msg Message) ([]byte, error) {
	var h mail.Header
	h.SetDate(t.now())
	h.SetSubject(msg.Subject)
	h.SetAddressList("From", []*mail.Address{{Name: "Mensabot", Address: t.from}})
	h.SetAddressList("To", []*mail.Address{{Address: fmt.Sprintf("%d@%s", msg.UserID, t.cfg.ToDomain)}})
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generating message id: %w", err)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating message writer: %w", err)
	}
	if _, err := io.WriteString(w, msg.Body); err != nil {
		return nil, fmt.Errorf("writing message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finishing message: %w", err)
	}
	return buf.Bytes(), nil
}
