// Package api implements the HTTP REST API and WebSocket server for smartlockd.
//
// This package provides:
//   - Signup and login backed by the auth service (Argon2id + HS256 JWT)
//   - Lock registration, listing, ownership reassignment and status reads
//   - Guarded LOCK/UNLOCK commands that refuse offline devices
//   - Per-lock and per-user log history
//   - A WebSocket hub streaming live lock log entries to lock owners
//   - Prometheus exposition and a dependency health endpoint
//
// # Architecture
//
// The server sits between user interfaces and the liveness core. Commands
// flow from the API through liveness.Guard to the MQTT command topic.
// Log entries flow back through the journal's observers to the Hub, which
// relays each entry to the connected owners of that lock.
//
// # Security
//
// Protected routes require a bearer token issued by POST /auth/login.
// WebSocket connections authenticate with a single-use ticket obtained from
// POST /auth/ws-ticket so the token never appears in a URL.
package api
