// Package delivery performs the outbound webhook call for a job and
// classifies its result.
//
// The package has three parts: [ResolveAddress] turns a tenant endpoint
// into the address this process can dial, [Classify] and [OutcomeOf]
// reduce results to a closed [Outcome], and [Client] sends the signed
// request.
package delivery

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
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xraph/courier"
	"github.com/xraph/courier/descriptor"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/secret"
)

// Headers set on every delivery.
const (
	HeaderJobID        = "Courier-Job-Id"
	HeaderAttempt      = "Courier-Attempt"
	HeaderScheduledFor = "Courier-Scheduled-For"
	HeaderSignature    = secret.SignatureHeader
)

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 512

// KeyFunc returns the signing key for a tenant token.
type KeyFunc func(tenantToken string) []byte

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its transport is
// still wrapped for tracing.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithIsolatedNetwork rewrites loopback endpoints to alias before dialing.
func WithIsolatedNetwork(isolated bool, alias string) Option {
	return func(cl *Client) {
		cl.isolated = isolated
		cl.hostAlias = alias
	}
}

// WithSigningSecret derives tenant signing keys from a global secret.
func WithSigningSecret(global string) Option {
	return func(cl *Client) {
		cl.keyFn = func(token string) []byte { return secret.SigningKey(global, token) }
	}
}

// WithKeyFunc sets a custom signing key resolver.
func WithKeyFunc(fn KeyFunc) Option {
	return func(cl *Client) { cl.keyFn = fn }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(cl *Client) { cl.userAgent = ua }
}

// WithClock sets the clock used to timestamp signatures.
func WithClock(c clockwork.Clock) Option {
	return func(cl *Client) { cl.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// Client delivers jobs to tenant endpoints. It is safe for concurrent use.
type Client struct {
	http      *http.Client
	isolated  bool
	hostAlias string
	keyFn     KeyFunc
	userAgent string
	clock     clockwork.Clock
	logger    *slog.Logger
}

// NewClient creates a delivery Client. Redirects are not followed: a 3xx
// is reported as a retryable failure like any other non-2xx, non-4xx
// status.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:      &http.Client{},
		hostAlias: DefaultHostAlias,
		keyFn:     func(token string) []byte { return secret.SigningKey("", token) },
		userAgent: "courier/1",
		clock:     clockwork.NewRealClock(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	base := c.http.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	hc := *c.http
	hc.Transport = otelhttp.NewTransport(base)
	hc.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	c.http = &hc

	return c
}

// Deliver POSTs the job's payload to its queue's endpoint. It returns nil
// on a 2xx response and an *Error otherwise. The context deadline bounds
// the whole call.
func (c *Client) Deliver(ctx context.Context, j *job.Job) error {
	desc, err := descriptor.Decode(j.Queue)
	if err != nil {
		return Rejected(err)
	}
	addr, err := ResolveAddress(desc.Endpoint, c.isolated, c.hostAlias)
	if err != nil {
		return Rejected(fmt.Errorf("%w: %w", courier.ErrMalformedDescriptor, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, addr, bytes.NewReader(j.Payload))
	if err != nil {
		return Rejected(err)
	}
	req.Header.Set("Content-Type", contentType(j.Payload))
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(HeaderJobID, j.ID)
	req.Header.Set(HeaderAttempt, strconv.Itoa(j.Attempt))
	req.Header.Set(HeaderScheduledFor, j.ScheduledFor.UTC().Format(time.RFC3339))
	req.Header.Set(HeaderSignature, secret.Sign(c.keyFn(desc.TenantToken), j.Payload, c.clock.Now()))

	resp, err := c.http.Do(req)
	if err != nil {
		return Retryable(transportError(ctx, err))
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Debug("webhook response",
		slog.String("job_id", j.ID),
		slog.Int("status", resp.StatusCode),
	)

	switch Classify(resp.StatusCode) {
	case Success:
		return nil
	case NonRetryableFailure:
		return &Error{
			Outcome:    NonRetryableFailure,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w: %s", courier.ErrDeliveryRejected, bodyText(snippet)),
		}
	default:
		return &Error{
			Outcome:    RetryableFailure,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("endpoint returned %s: %s", resp.Status, bodyText(snippet)),
		}
	}
}

func transportError(ctx context.Context, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", courier.ErrDeliveryTimeout, err)
	}
	return fmt.Errorf("%w: %w", courier.ErrDeliveryNetwork, err)
}

func contentType(payload []byte) string {
	if len(payload) > 0 && json.Valid(payload) {
		return "application/json"
	}
	return "application/octet-stream"
}

func bodyText(b []byte) string {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return "(empty body)"
	}
	return s
}
