// Package auth provides the cryptographic checks used by whatsapp-bridge.
//
// # Webhook Signatures
//
// The Graph API signs every webhook POST with the app secret:
//
//	X-Hub-Signature-256: sha256=<hex hmac of the raw body>
//
// VerifySignature recomputes the HMAC over the exact bytes read from the
// request, before any JSON decoding, and compares the hex digests in
// constant time. Malformed headers, unknown algorithm prefixes and empty
// digests are rejections, never errors.
//
// When no app secret is configured the gateway skips verification and
// logs that it is running with reduced security. That mode exists for
// local development only.
//
// # Backend Tokens
//
// Backend sessions may carry a token query parameter. A TokenSource
// supplies it: StaticToken passes a shared token through, SessionTokens
// signs a short-lived HS256 JWT whose subject is the session key.
//
// # Operator API
//
// HTTPAuthMiddleware guards the stats API with bearer JWTs signed by
// auth.jwt_secret.
package auth
