// ABOUTME: HMAC verification of inbound webhook bodies against the X-Hub-Signature headers
// ABOUTME: Computes the digest over the raw bytes and compares hex strings in constant time

package auth

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // legacy X-Hub-Signature header still uses SHA-1
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"hash"
	"strings"
)

// Signature header names sent by the Graph API.
const (
	SignatureHeader       = "X-Hub-Signature-256"
	LegacySignatureHeader = "X-Hub-Signature"
)

// signatureAlgorithms maps a header prefix to the hash it declares.
var signatureAlgorithms = map[string]func() hash.Hash{
	"sha256=": sha256.New,
	"sha1=":   sha1.New,
}

// VerifySignature reports whether header carries a valid HMAC of body keyed by secret.
// The header must look like "sha256=<hex>" (or "sha1=<hex>"). Any malformed input
// returns false. body must be the exact bytes received on the wire.
func VerifySignature(body []byte, header, secret string) bool {
	if header == "" || secret == "" {
		return false
	}

	newHash, provided, ok := splitSignature(header)
	if !ok || provided == "" {
		return false
	}

	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))

	// ConstantTimeCompare checks length first, then ORs the XOR of every byte pair.
	return subtle.ConstantTimeCompare([]byte(provided), []byte(computed)) == 1
}

// Sign returns the "sha256=<hex>" header value for body. Used by tests and the sign command.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// splitSignature separates the algorithm prefix from the hex digest.
func splitSignature(header string) (func() hash.Hash, string, bool) {
	for prefix, newHash := range signatureAlgorithms {
		if strings.HasPrefix(header, prefix) {
			return newHash, strings.TrimPrefix(header, prefix), true
		}
	}
	return nil, "", false
}

// SignatureVerifier checks webhook bodies against a configured app secret.
// A verifier without a secret is disabled; callers decide whether to let
// requests through in that case.
type SignatureVerifier struct {
	secret string
}

// NewSignatureVerifier creates a verifier for the given app secret.
func NewSignatureVerifier(secret string) *SignatureVerifier {
	return &SignatureVerifier{secret: secret}
}

// Enabled reports whether an app secret is configured.
func (v *SignatureVerifier) Enabled() bool {
	return v != nil && v.secret != ""
}

// Verify checks body against the signature header value.
func (v *SignatureVerifier) Verify(body []byte, header string) bool {
	if !v.Enabled() {
		return false
	}
	return VerifySignature(body, header, v.secret)
}
