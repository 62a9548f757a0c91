// Package session owns per-connection reliability primitives.
//
// Ownership boundary:
// - transport/session timeouts and defaults
// - retry/backoff for dial attempts
// - pending-request bookkeeping keyed by message_id
// - client transport security validation
package session
