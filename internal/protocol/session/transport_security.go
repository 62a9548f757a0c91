package session

import (
	"errors"
	"strings"
)

var (
	ErrTLSRequired         = errors.New("session: tls required")
	ErrTLSCertFileRequired = errors.New("session: tls cert file required")
	ErrTLSKeyFileRequired  = errors.New("session: tls key file required")
	ErrSSHHostRequired     = errors.New("session: ssh host required")
	ErrSSHUserRequired     = errors.New("session: ssh user required")
	ErrSSHKeyPathRequired  = errors.New("session: ssh key path required")
)

// ValidateClientTransport checks that the TLS and SSH settings are
// self-consistent. Plain TCP is always valid.
func (c Config) ValidateClientTransport() error {
	if err := c.validateSSH(); err != nil {
		return err
	}
	cert := strings.TrimSpace(c.TLS.CertFile)
	key := strings.TrimSpace(c.TLS.KeyFile)
	if !c.TLS.Enabled {
		if cert != "" || key != "" || strings.TrimSpace(c.TLS.CAFile) != "" {
			return ErrTLSRequired
		}
		return nil
	}
	if cert != "" && key == "" {
		return ErrTLSKeyFileRequired
	}
	if key != "" && cert == "" {
		return ErrTLSCertFileRequired
	}
	return nil
}

// ClientCertificate reports whether a client key pair is configured.
func (c Config) ClientCertificate() bool {
	return c.TLS.Enabled && strings.TrimSpace(c.TLS.CertFile) != "" && strings.TrimSpace(c.TLS.KeyFile) != ""
}

func (c Config) validateSSH() error {
	if !c.SSH.Enabled {
		return nil
	}
	switch {
	case strings.TrimSpace(c.SSH.Host) == "":
		return ErrSSHHostRequired
	case strings.TrimSpace(c.SSH.User) == "":
		return ErrSSHUserRequired
	case strings.TrimSpace(c.SSH.KeyPath) == "":
		return ErrSSHKeyPathRequired
	}
	return nil
}
