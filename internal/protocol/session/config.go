package session

import (
	"strings"
	"time"

	"github.com/danmuck/marionette/internal/protocol"
	"github.com/danmuck/marionette/internal/protocol/frame"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// TLSConfig enables TLS on the client connection (for tunnelled endpoints).
type TLSConfig struct {
	Enabled            bool
	InsecureSkipVerify bool
	ServerName         string
	CAFile             string
	CertFile           string
	KeyFile            string
}

// SSHConfig routes the connection through an SSH local forward, for a
// browser listening on a remote host's loopback.
type SSHConfig struct {
	Enabled                     bool
	Host                        string
	Port                        string
	User                        string
	KeyPath                     string
	Passphrase                  []byte
	KnownHostsPath              string
	InsecureSkipHostKeyChecking bool
	Timeout                     time.Duration
}

// Config defines transport/session reliability defaults.
type Config struct {
	ConnectTimeout   time.Duration
	DialRetryWindow  time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	CommandTimeout   time.Duration
	// MaxAnomalies is how many dropped frames one command tolerates before
	// the connection is torn down.
	MaxAnomalies      int
	ExpectGreeting    bool
	NewSessionCommand string
	Limits            frame.Limits
	Backoff           BackoffConfig
	TLS               TLSConfig
	SSH               SSHConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    5 * time.Second,
		DialRetryWindow:   30 * time.Second,
		HandshakeTimeout:  5 * time.Second,
		WriteTimeout:      15 * time.Second,
		CommandTimeout:    30 * time.Second,
		MaxAnomalies:      3,
		NewSessionCommand: protocol.CommandNewSession,
		Limits:            frame.DefaultLimits(),
		Backoff: BackoffConfig{
			InitialDelay: 10 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills every zero-valued field from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.DialRetryWindow < 0 {
		c.DialRetryWindow = 0
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = d.CommandTimeout
	}
	if c.MaxAnomalies <= 0 {
		c.MaxAnomalies = d.MaxAnomalies
	}
	if strings.TrimSpace(c.NewSessionCommand) == "" {
		c.NewSessionCommand = d.NewSessionCommand
	}
	if c.Limits.MaxPayloadBytes == 0 {
		c.Limits = d.Limits
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff.InitialDelay = d.Backoff.InitialDelay
	}
	if c.Backoff.Multiplier <= 0 {
		c.Backoff.Multiplier = d.Backoff.Multiplier
	}
	if c.Backoff.MaxDelay <= 0 {
		c.Backoff.MaxDelay = d.Backoff.MaxDelay
	}
	if c.SSH.Timeout <= 0 {
		c.SSH.Timeout = c.ConnectTimeout
	}
	return c
}
