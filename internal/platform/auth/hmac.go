package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"net/http"
	"strings"
)

const (
	defaultSignatureHeader = "X-Paystack-Signature"
	defaultMaxSignedBody   = 1 << 20
)

// ErrSignatureMismatch is returned when a signed payload fails verification.
var ErrSignatureMismatch = errors.New("auth: signature mismatch")

// HMACValidator verifies hex-encoded HMAC signatures computed over the raw request body.
type HMACValidator struct {
	secret  []byte
	header  string
	newHash func() hash.Hash
	maxBody int64
}

// HMACOption customises the validator.
type HMACOption func(*HMACValidator)

// WithSignatureHeader sets the header carrying the signature.
func WithSignatureHeader(name string) HMACOption {
	return func(v *HMACValidator) {
		if name = strings.TrimSpace(name); name != "" {
			v.header = name
		}
	}
}

// WithSHA256 switches the digest from SHA-512 to SHA-256.
func WithSHA256() HMACOption {
	return func(v *HMACValidator) {
		v.newHash = sha256.New
	}
}

// WithMaxSignedBody caps how many body bytes the middleware buffers.
func WithMaxSignedBody(n int64) HMACOption {
	return func(v *HMACValidator) {
		if n > 0 {
			v.maxBody = n
		}
	}
}

// NewHMACValidator builds an HMAC-SHA512 validator for secret.
func NewHMACValidator(secret string, opts ...HMACOption) *HMACValidator {
	v := &HMACValidator{
		secret:  []byte(secret),
		header:  defaultSignatureHeader,
		newHash: sha512.New,
		maxBody: defaultMaxSignedBody,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Sign returns the hex signature for body.
func (v *HMACValidator) Sign(body []byte) string {
	mac := hmac.New(v.newHash, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares signature against the expected digest in constant time.
func (v *HMACValidator) Verify(body []byte, signature string) error {
	if v == nil || len(v.secret) == 0 {
		return errors.New("auth: signing secret not configured")
	}
	provided, err := hex.DecodeString(strings.TrimSpace(strings.ToLower(signature)))
	if err != nil || len(provided) == 0 {
		return ErrSignatureMismatch
	}
	mac := hmac.New(v.newHash, v.secret)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), provided) {
		return ErrSignatureMismatch
	}
	return nil
}

// RequireSignature rejects requests whose body signature does not verify. The body is
// restored for downstream handlers.
func (v *HMACValidator) RequireSignature() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, v.maxBody+1))
			if err != nil {
				respondAuthError(w, http.StatusBadRequest, "invalid_body", "unable to read request body")
				return
			}
			if int64(len(body)) > v.maxBody {
				respondAuthError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "signed payload too large")
				return
			}
			if err := v.Verify(body, r.Header.Get(v.header)); err != nil {
				respondAuthError(w, http.StatusUnauthorized, "invalid_signature", "signature verification failed")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}
