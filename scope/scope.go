// Package scope carries the tenant identity of the job being delivered
// through context.Context.
//
// A job's queue is an encoded descriptor holding the tenant token. The token
// doubles as the signing key, so it must never reach logs or traces;
// [Tenant] returns a short fingerprint to use in its place.
package scope

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/xraph/courier/descriptor"
)

type ctxKey struct{}

// With attaches a decoded descriptor to the context.
func With(ctx context.Context, d descriptor.Descriptor) context.Context {
	return context.WithValue(ctx, ctxKey{}, d)
}

// From returns the descriptor attached to the context, if any.
func From(ctx context.Context) (descriptor.Descriptor, bool) {
	d, ok := ctx.Value(ctxKey{}).(descriptor.Descriptor)
	return d, ok
}

// Restore decodes queue and attaches it to the context. A queue that does
// not decode leaves the context unchanged.
func Restore(ctx context.Context, queue string) context.Context {
	d, err := descriptor.Decode(queue)
	if err != nil {
		return ctx
	}
	return With(ctx, d)
}

// Tenant returns a stable, non-reversible fingerprint of the tenant token
// attached to the context, or "" when there is none.
func Tenant(ctx context.Context) string {
	d, ok := From(ctx)
	if !ok {
		return ""
	}
	return Fingerprint(d.TenantToken)
}

// Endpoint returns the endpoint attached to the context, or "".
func Endpoint(ctx context.Context) string {
	d, _ := From(ctx)
	return d.Endpoint
}

// Fingerprint returns the first 12 hex digits of the SHA-256 of token.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:6])
}
