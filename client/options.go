package client

import (
	"log/slog"
	"net/http"

	"github.com/jonboulle/clockwork"

	"github.com/xraph/courier/backoff"
	"github.com/xraph/courier/secret"
)

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the address of the courier API.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithToken sets the tenant token that owns every queue of this client.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithApplicationBaseURL sets the address courier calls back. Enqueue
// routes are resolved against it.
func WithApplicationBaseURL(u string) Option {
	return func(c *Client) { c.appBaseURL = u }
}

// WithEncryptionSecret seals payloads before they leave the process and
// opens them in Verify. Courier only ever sees ciphertext.
func WithEncryptionSecret(s string) Option {
	return func(c *Client) {
		if s == "" {
			c.box = nil
			return
		}
		c.box = secret.NewBox(s)
	}
}

// WithSigningSecret sets the global signing secret configured on the
// courier instance, needed by Verify when one is in use.
func WithSigningSecret(s string) Option {
	return func(c *Client) { c.signingSecret = s }
}

// WithHTTPClient sets the HTTP client used to reach the courier API.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetry sets how often a request to the courier API is attempted and
// how long to wait between attempts. It is unrelated to the retry policy
// of the jobs themselves.
func WithRetry(maxAttempts int, strategy backoff.Strategy) Option {
	return func(c *Client) {
		c.maxAttempts = maxAttempts
		c.backoff = strategy
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithClock sets the clock used for backoff sleeps and signature checks.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}
