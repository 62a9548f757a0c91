// Package tools runs host processes: one-shot commands through
// CommandRunner and the long-lived browser a session connects to.
package tools
