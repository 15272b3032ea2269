// Package client is the Go SDK for applications that schedule webhooks
// with a courier instance and receive them.
//
// Usage:
//
//	c, err := client.New(
//	    client.WithBaseURL("https://courier.internal"),
//	    client.WithToken("tok_..."),
//	    client.WithApplicationBaseURL("https://app.example.com"),
//	)
//
//	// Deliver POST https://app.example.com/hooks/reminder in an hour.
//	j, err := c.Enqueue(ctx, "/hooks/reminder", payload, client.EnqueueOptions{
//	    Delay: time.Hour,
//	})
//
//	// In the receiving handler.
//	body, err := c.Verify(r)
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xraph/courier"
	"github.com/xraph/courier/api"
	"github.com/xraph/courier/backoff"
	"github.com/xraph/courier/secret"
)

// Client talks to the courier API on behalf of one tenant.
type Client struct {
	baseURL       string
	token         string
	appBaseURL    string
	box           *secret.Box
	signingSecret string
	http          *http.Client
	maxAttempts   int
	backoff       backoff.Strategy
	clock         clockwork.Clock
	logger        *slog.Logger
}

// New creates a Client. A base URL and a token are required.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		http:        &http.Client{Timeout: 30 * time.Second},
		maxAttempts: 3,
		backoff:     backoff.NewExponential(200*time.Millisecond, 2, 5*time.Second),
		clock:       clockwork.NewRealClock(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.baseURL == "" {
		return nil, errors.New("courier/client: base URL is required")
	}
	if c.token == "" {
		return nil, errors.New("courier/client: token is required")
	}
	if c.maxAttempts < 1 {
		c.maxAttempts = 1
	}
	c.baseURL = NormalizeBaseURL(c.baseURL)
	c.appBaseURL = NormalizeBaseURL(c.appBaseURL)

	// API calls carry the caller's trace context.
	base := c.http.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	hc := *c.http
	hc.Transport = otelhttp.NewTransport(base)
	c.http = &hc
	return c, nil
}

// NormalizeBaseURL strips trailing slashes and adds a scheme when u has
// none: http for loopback hosts, https otherwise.
func NormalizeBaseURL(u string) string {
	u = strings.TrimRight(strings.TrimSpace(u), "/")
	if u == "" || strings.Contains(u, "://") {
		return u
	}

	host := u
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")

	if isLoopback(host) {
		return "http://" + u
	}
	return "https://" + u
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// APIError is a non-2xx response from the courier API. It unwraps to the
// matching courier sentinel error where one exists.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("courier/client: %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Code {
	case api.CodeMalformedDescriptor:
		return courier.ErrMalformedDescriptor
	case api.CodeMalformedSchedule:
		return courier.ErrMalformedSchedule
	case api.CodeMalformedRetry:
		return courier.ErrMalformedRetry
	case api.CodeMalformedJobID:
		return courier.ErrMalformedJobID
	case api.CodeAlreadyExists:
		return courier.ErrJobAlreadyExists
	case api.CodeNotFound:
		return courier.ErrJobNotFound
	}
	return nil
}

func retryableStatus(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}

// do sends a request to the API, retrying network errors, 5xx and 429.
// On success the response body is decoded into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("courier/client: marshal request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.backoff.Delay(attempt - 1)
			c.logger.Debug("retrying courier request",
				slog.String("method", method),
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.clock.After(delay):
			}
		}

		retry, err := c.attempt(ctx, method, path, payload, out)
		if err == nil {
			return nil
		}
		if !retry || ctx.Err() != nil {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, out any) (bool, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return false, fmt.Errorf("courier/client: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return true, fmt.Errorf("courier/client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return true, fmt.Errorf("courier/client: read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var er api.ErrorResponse
		if json.Unmarshal(raw, &er) == nil && er.Error != "" {
			apiErr.Code, apiErr.Message = er.Error, er.Message
		}
		return retryableStatus(resp.StatusCode), apiErr
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return false, fmt.Errorf("courier/client: decode response: %w", err)
		}
	}
	return false, nil
}
