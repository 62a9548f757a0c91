// Package protocol owns the marionette wire contract.
//
// Ownership boundary:
// - command/response tuple encoding and decoding
// - greeting decoding
// - the shared error taxonomy every layer wraps into
//
// Byte framing lives in protocol/frame; pending-request bookkeeping and
// transport defaults live in protocol/session.
package protocol
