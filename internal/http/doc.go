// Package http provides HTTP handlers and middleware for the marketplace API.
//
// The router exposes the following endpoints:
//   - POST /api/accounts: registers an account. GET /api/accounts/{id} returns
//     one; the email field is visible only to the owner and service tokens.
//   - POST /api/sessions: issues a session token. Body: {"email","password"}.
//     The token is surfaced in the body, the `X-Session-Token` header and a
//     `session_token` cookie. POST /api/sessions/rotate exchanges a valid token
//     for a fresh one; DELETE /api/sessions/current revokes it.
//   - POST /api/bookings: creates a booking of any type, honoring the
//     Idempotency-Key header. GET /api/bookings lists bookings visible to the
//     caller with overlap warnings; GET /api/bookings/{id} returns one with its
//     type-specific detail.
//   - POST /api/bookings/{id}/respond, /pay, /join, /cancel, /complete,
//     /dispute: lifecycle transitions. Illegal transitions return 409 with a
//     stable error code; capacity and deadline guard rejections carry the guard
//     reason as the code.
//   - GET /api/bookings/{id}/participants and /transitions: the group roster
//     and the append-only audit trail.
//   - POST /internal/sweep: runs one deadline sweep pass. Requires a service
//     token; session principals are rejected.
//   - GET /healthz: liveness probe, no authentication.
//
// Request/response DTOs live alongside their respective handlers so tests and
// documentation share the same ground truth.
package http
