package client

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/secret"
)

// SignatureTolerance is the clock skew Verify accepts between the signing
// time and now.
const SignatureTolerance = 5 * time.Minute

// maxDeliveryBody bounds the body Verify reads.
const maxDeliveryBody = 8 << 20

// ErrMissingSignature means the request carries no signature header.
var ErrMissingSignature = errors.New("courier/client: missing signature")

// Verify authenticates a delivery received from courier and returns its
// payload, opened when an encryption secret is configured. The request
// body is consumed.
func (c *Client) Verify(r *http.Request) ([]byte, error) {
	header := r.Header.Get(delivery.HeaderSignature)
	if header == "" {
		return nil, ErrMissingSignature
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxDeliveryBody))
	if err != nil {
		return nil, fmt.Errorf("courier/client: read delivery: %w", err)
	}

	key := secret.SigningKey(c.signingSecret, c.token)
	if err := secret.Verify(key, body, header, c.clock.Now(), SignatureTolerance); err != nil {
		return nil, err
	}

	if c.box == nil {
		return body, nil
	}
	return c.box.Open(body)
}
