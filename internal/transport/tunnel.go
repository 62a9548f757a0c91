package transport

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/danmuck/marionette/internal/protocol/session"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Tunnel is an SSH local forward: connections to LocalAddr are carried to
// remote over one SSH client. Channels opened through ssh do not support
// deadlines, so Conn always talks to the local end.
type Tunnel struct {
	client *ssh.Client
	ln     net.Listener
	remote string

	wg   sync.WaitGroup
	once sync.Once
}

func OpenTunnel(cfg session.SSHConfig, remote string) (*Tunnel, error) {
	client, err := dialSSH(cfg)
	if err != nil {
		return nil, fmt.Errorf("transport: ssh dial %s: %w", cfg.Host, err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	t := &Tunnel{client: client, ln: ln, remote: remote}
	t.wg.Add(1)
	go t.serve()
	log.Debug().Str("ssh_host", cfg.Host).Str("remote", remote).Str("local", ln.Addr().String()).Msg("transport.OpenTunnel forwarding")
	return t, nil
}

func (t *Tunnel) LocalAddr() string {
	return t.ln.Addr().String()
}

func (t *Tunnel) serve() {
	defer t.wg.Done()
	for {
		local, err := t.ln.Accept()
		if err != nil {
			return
		}
		t.wg.Add(1)
		go t.forward(local)
	}
}

func (t *Tunnel) forward(local net.Conn) {
	defer t.wg.Done()
	remote, err := t.client.Dial("tcp", t.remote)
	if err != nil {
		log.Warn().Err(err).Str("remote", t.remote).Msg("transport.Tunnel remote dial failed")
		_ = local.Close()
		return
	}
	go func() {
		_, _ = io.Copy(remote, local)
		_ = remote.Close()
	}()
	_, _ = io.Copy(local, remote)
	_ = local.Close()
}

// Close stops accepting and drops the SSH client, which ends every forward.
func (t *Tunnel) Close() error {
	var err error
	t.once.Do(func() {
		_ = t.ln.Close()
		err = t.client.Close()
		t.wg.Wait()
	})
	return err
}

func dialSSH(cfg session.SSHConfig) (*ssh.Client, error) {
	address, err := sshAddress(cfg)
	if err != nil {
		return nil, err
	}
	config, err := sshClientConfig(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		return ssh.Dial("tcp", address, config)
	}

	conn, err := net.DialTimeout("tcp", address, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(clientConn, chans, reqs), nil
}

func sshAddress(cfg session.SSHConfig) (string, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return "", session.ErrSSHHostRequired
	}
	if cfg.Port != "" {
		return net.JoinHostPort(host, cfg.Port), nil
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}
	return net.JoinHostPort(host, "22"), nil
}

func sshClientConfig(cfg session.SSHConfig) (*ssh.ClientConfig, error) {
	if cfg.User == "" {
		return nil, session.ErrSSHUserRequired
	}
	signer, err := sshSigner(cfg)
	if err != nil {
		return nil, err
	}

	var hostKeyCallback ssh.HostKeyCallback
	if cfg.InsecureSkipHostKeyChecking {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		callback, err := knownHostsCallback(cfg.KnownHostsPath)
		if err != nil {
			return nil, err
		}
		hostKeyCallback = callback
	}

	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         cfg.Timeout,
	}, nil
}

func sshSigner(cfg session.SSHConfig) (ssh.Signer, error) {
	if cfg.KeyPath == "" {
		return nil, session.ErrSSHKeyPathRequired
	}
	privateKey, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, err
	}
	if len(cfg.Passphrase) > 0 {
		return ssh.ParsePrivateKeyWithPassphrase(privateKey, cfg.Passphrase)
	}
	return ssh.ParsePrivateKey(privateKey)
}

func knownHostsCallback(path string) (ssh.HostKeyCallback, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("known hosts path not set and home dir unavailable")
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	return knownhosts.New(path)
}
