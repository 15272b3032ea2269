// Package secret derives per-tenant keys, seals payloads and signs webhook
// requests.
//
// Two primitives share one key schedule:
//
//   - Box seals payloads with XChaCha20-Poly1305 under a key derived from a
//     secret with HKDF-SHA256. The enqueue client seals; the receiver opens.
//   - Sign and Verify produce and check the Courier-Signature header,
//     an HMAC-SHA256 over "<unix seconds>.<body>".
package secret

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// SignatureHeader carries the request signature.
const SignatureHeader = "Courier-Signature"

const (
	boxInfo  = "courier payload box v1"
	signInfo = "courier request signature v1"
)

var (
	// ErrInvalidSignature means the header is malformed or does not match.
	ErrInvalidSignature = errors.New("secret: invalid signature")
	// ErrSignatureExpired means the signed timestamp is outside tolerance.
	ErrSignatureExpired = errors.New("secret: signature timestamp outside tolerance")
	// ErrOpen means a sealed payload failed authentication.
	ErrOpen = errors.New("secret: cannot open sealed payload")
)

// DeriveKey expands secret into a 32-byte key bound to info and salt.
func DeriveKey(secret, salt []byte, info string) []byte {
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, secret, salt, []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		// HKDF-SHA256 yields up to 8160 bytes; 32 cannot fail.
		panic(fmt.Sprintf("secret: hkdf: %v", err))
	}
	return key
}

// SigningKey returns the HMAC key for a tenant. Without a global secret the
// tenant token signs directly; with one, the key is derived from both so
// that a leaked token alone cannot forge signatures.
func SigningKey(global, tenantToken string) []byte {
	if global == "" {
		return []byte(tenantToken)
	}
	return DeriveKey([]byte(global), []byte(tenantToken), signInfo)
}

// ──────────────────────────────────────────────────
// Box
// ──────────────────────────────────────────────────

// Box seals and opens payloads. It is safe for concurrent use.
type Box struct {
	key []byte
}

// NewBox returns a Box keyed from secret.
func NewBox(secret string) *Box {
	return &Box{key: DeriveKey([]byte(secret), nil, boxInfo)}
}

// Seal encrypts plaintext. The output is nonce || ciphertext.
func (b *Box) Seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return nil, fmt.Errorf("secret: seal: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("secret: seal: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal.
func (b *Box) Open(sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return nil, fmt.Errorf("secret: open: %w", err)
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrOpen
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrOpen
	}
	return plaintext, nil
}

// ──────────────────────────────────────────────────
// Signatures
// ──────────────────────────────────────────────────

// Sign returns the signature header value for body at time at.
func Sign(key, body []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac(key, ts, body))
}

// Verify checks header against body. A tolerance of zero disables the
// timestamp check.
func Verify(key, body []byte, header string, now time.Time, tolerance time.Duration) error {
	var (
		ts   string
		sigs [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			if sig, err := hex.DecodeString(v); err == nil {
				sigs = append(sigs, sig)
			}
		}
	}
	if ts == "" || len(sigs) == 0 {
		return ErrInvalidSignature
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if tolerance > 0 {
		skew := now.Sub(time.Unix(unix, 0))
		if skew > tolerance || skew < -tolerance {
			return ErrSignatureExpired
		}
	}

	want := mac(key, ts, body)
	for _, sig := range sigs {
		if hmac.Equal(sig, want) {
			return nil
		}
	}
	return ErrInvalidSignature
}

func mac(key []byte, ts string, body []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(ts))
	h.Write([]byte{'.'})
	h.Write(body)
	return h.Sum(nil)
}
