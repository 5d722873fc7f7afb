// Package gateway hosts the bridge's HTTP surface and owns its lifecycle.
//
// # Overview
//
// A Gateway wires the configured collaborators together: the Graph API
// client, the backend client, the redelivery checker (memory or Redis), the
// optional outcome store and the relay that drives each message. It serves a
// single HTTP listener, either plain TCP or a tsnet node exposed through
// Tailscale Funnel so Meta can reach the webhook.
//
// # Routes
//
//   - GET  <webhook_path> - Subscription handshake (hub.mode, hub.verify_token, hub.challenge)
//   - POST <webhook_path> - Signed event delivery, acknowledged with 200 "OK"
//   - GET  /health - Liveness check
//   - GET  /health/ready - Backend reachability
//   - GET  /api/stats/sessions - Outcome counts and recent outcomes (bearer JWT when auth.jwt_secret is set)
//
// # Delivery
//
// The POST handler reads at most 1 MiB, checks X-Hub-Signature-256 when an
// app secret is configured, normalizes the payload and answers before any
// backend work starts. Messages of one delivery are processed sequentially
// on a background goroutine tracked by a WaitGroup.
//
// # Shutdown
//
// Shutdown stops the HTTP server, waits for in-flight batches until its
// context expires, then cancels them and closes the tailscale node, the
// redelivery checker and the store.
package gateway
