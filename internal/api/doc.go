// Package api exposes the assistant over REST: synchronous and queued task
// execution, the approval ledger, grounded questions, session notes and
// guarded channel posts. Errors carry their registry code and map to HTTP
// status (NOT_FOUND to 404, INVALID_ARGUMENT to 400, everything else 500).
package api
