// Package descriptor encodes a queue's identity, the pair of tenant token
// and delivery endpoint, into one opaque string and back.
//
// Each component is path-escaped independently before the two are joined
// with ';'. Path escaping always escapes ';', so the separator never
// appears inside an encoded component and decoding is unambiguous.
package descriptor

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/xraph/courier"
)

// Separator joins the two escaped components of an encoded descriptor.
const Separator = ";"

// Descriptor identifies a delivery target: the tenant that owns the queue
// and the endpoint its jobs are delivered to.
type Descriptor struct {
	TenantToken string
	Endpoint    string
}

// New returns a Descriptor for the given tenant token and endpoint.
func New(tenantToken, endpoint string) Descriptor {
	return Descriptor{TenantToken: tenantToken, Endpoint: endpoint}
}

// String returns the encoded identity of d.
func (d Descriptor) String() string {
	return Encode(d.TenantToken, d.Endpoint)
}

// Encode returns the queue identity for a tenant token and endpoint.
func Encode(tenantToken, endpoint string) string {
	return url.PathEscape(tenantToken) + Separator + url.PathEscape(endpoint)
}

// Decode reverses Encode. It returns courier.ErrMalformedDescriptor when
// the input does not split into exactly two parts or a part is not
// validly escaped.
func Decode(s string) (Descriptor, error) {
	parts := strings.Split(s, Separator)
	if len(parts) != 2 {
		return Descriptor{}, fmt.Errorf("%w: expected 2 parts, got %d", courier.ErrMalformedDescriptor, len(parts))
	}

	token, err := url.PathUnescape(parts[0])
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: tenant token: %w", courier.ErrMalformedDescriptor, err)
	}

	endpoint, err := url.PathUnescape(parts[1])
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: endpoint: %w", courier.ErrMalformedDescriptor, err)
	}

	return Descriptor{TenantToken: token, Endpoint: endpoint}, nil
}

// MustDecode is like Decode but panics on error. Use for hardcoded values.
func MustDecode(s string) Descriptor {
	d, err := Decode(s)
	if err != nil {
		panic(err)
	}
	return d
}
