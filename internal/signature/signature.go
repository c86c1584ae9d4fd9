// Package signature verifies webhook authenticity via the
// X-Hub-Signature-256 header.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const prefix = "sha256="

// Verifier checks an HMAC-SHA256 digest of the raw request body against a
// shared secret. With no secret configured it runs in explicit unverified
// mode: every body passes and Enforced reports false so callers can log the
// state instead of silently trusting it.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Enforced reports whether a shared secret is configured.
func (v *Verifier) Enforced() bool { return len(v.secret) > 0 }

// Verify recomputes the digest over rawBody and compares it against the
// digest portion of the header. Comparison is constant-time and
// case-insensitive on the hex encoding.
func (v *Verifier) Verify(rawBody []byte, signatureHeader string) bool {
	if !v.Enforced() {
		return true
	}

	digest := strings.TrimSpace(signatureHeader)
	digest = strings.TrimPrefix(digest, prefix)
	if digest == "" {
		return false
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(strings.ToLower(digest)), []byte(expected))
}
