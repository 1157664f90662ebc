package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nhle/mensabot/internal/model"
)

// maxBodySize caps a single day's response.
const maxBodySize = 4 << 20

// Client fetches day fragments from the Studierendenwerk XHR endpoint.
// Each date is one form POST. Transient failures are retried with
// exponential backoff; any date that still fails fails the whole fetch.
type Client struct {
	endpoint     string
	mensaID      string
	userAgent    string
	httpClient   *http.Client
	maxRetries   int
	backoff      time.Duration
	requestDelay time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// NewClient creates a client from the source configuration.
func NewClient(cfg model.SourceConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	if retries > 2 {
		retries = 2
	}
	return &Client{
		endpoint:  cfg.Endpoint,
		mensaID:   cfg.MensaID,
		userAgent: cfg.UserAgent,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		maxRetries:   retries,
		backoff:      cfg.Backoff,
		requestDelay: cfg.RequestDelay,
		now:          time.Now,
		logger:       logger.With("component", "source"),
	}
}

// Fetch implements Fetcher.
func (c *Client) Fetch(ctx context.Context, r DateRange) (*RawContent, error) {
	content := &RawContent{Days: make([]RawDay, 0, len(r.Dates))}

	for i, date := range r.Dates {
		if i > 0 && c.requestDelay > 0 {
			if err := sleep(ctx, c.requestDelay); err != nil {
				return nil, err
			}
		}

		body, err := c.fetchDay(ctx, date)
		if err != nil {
			return nil, err
		}
		content.Days = append(content.Days, RawDay{Date: date, Body: body})
	}

	content.FetchedAt = c.now()
	c.logger.Info("menu fetched", "days", len(content.Days))
	return content, nil
}

func (c *Client) fetchDay(ctx context.Context, date model.Date) ([]byte, error) {
	var lastErr *FetchError
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoff << uint(attempt-1)
			c.logger.Warn("retrying menu fetch",
				"date", date, "attempt", attempt, "wait", wait, "error", lastErr)
			if err := sleep(ctx, wait); err != nil {
				return nil, err
			}
		}

		body, err := c.post(ctx, date)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		fe, ok := err.(*FetchError)
		if !ok {
			fe = &FetchError{Kind: Transient, Date: date, Err: err}
		}
		if fe.Kind == Permanent {
			return nil, fe
		}
		lastErr = fe
	}
	return nil, lastErr
}

func (c *Client) post(ctx context.Context, date model.Date) ([]byte, error) {
	form := url.Values{}
	form.Set("resources_id", c.mensaID)
	form.Set("date", date.String())
	form.Set("week", "")

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()),
	)
	if err != nil {
		return nil, &FetchError{Kind: Permanent, Date: date, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Accept", "text/html, */*")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: Transient, Date: date, Err: fmt.Errorf("executing request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, &FetchError{Kind: Transient, Date: date, Err: fmt.Errorf("reading response body: %w", err)}
	}

	if err := classifyStatus(resp); err != nil {
		err.Date = date
		return nil, err
	}

	if len(body) > maxBodySize {
		return nil, &FetchError{
			Kind:       Permanent,
			Date:       date,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("response exceeds %d bytes", maxBodySize),
		}
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || !strings.Contains(mediaType, "html") {
			return nil, &FetchError{
				Kind:       Permanent,
				Date:       date,
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("unexpected content type %q", ct),
			}
		}
	}

	return body, nil
}

// classifyStatus maps a non-2xx response to a FetchError.
func classifyStatus(resp *http.Response) *FetchError {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		err := fmt.Errorf("rate limited")
		if after := resp.Header.Get("Retry-After"); after != "" {
			if secs, convErr := strconv.Atoi(after); convErr == nil {
				err = fmt.Errorf("rate limited, retry after %ds", secs)
			}
		}
		return &FetchError{Kind: Transient, StatusCode: code, Err: err}
	case code >= 500:
		return &FetchError{Kind: Transient, StatusCode: code, Err: fmt.Errorf("server error")}
	default:
		return &FetchError{Kind: Permanent, StatusCode: code, Err: fmt.Errorf("unexpected status")}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
