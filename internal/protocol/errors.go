package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrConnection       = errors.New("protocol: connection failed")
	ErrFraming          = errors.New("protocol: malformed frame")
	ErrProtocol         = errors.New("protocol: invalid message")
	ErrInvalidState     = errors.New("protocol: invalid session state")
	ErrTimeout          = errors.New("protocol: command timed out")
	ErrRemoteCommand    = errors.New("protocol: remote command failed")
	ErrConnectionLost   = errors.New("protocol: connection lost")
	ErrConnectionClosed = errors.New("protocol: connection closed")
)

// RemoteError is the error object carried by a response. It is returned to
// callers as-is.
type RemoteError struct {
	Kind       string `json:"error"`
	Message    string `json:"message"`
	Stacktrace string `json:"stacktrace,omitempty"`
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote: %s", e.Kind)
	}
	return fmt.Sprintf("remote: %s: %s", e.Kind, e.Message)
}

func (e *RemoteError) Is(target error) bool {
	return target == ErrRemoteCommand
}
