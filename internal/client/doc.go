// Package client tracks the connection and session lifecycle on top of the
// dispatcher: Disconnected, Connected, SessionActive and finally Closed.
package client
