package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/marionette/internal/observability"
	"github.com/danmuck/marionette/internal/protocol"
	"github.com/danmuck/marionette/internal/protocol/frame"
	"github.com/danmuck/marionette/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

var (
	ErrAddressRequired = fmt.Errorf("%w: transport: address required", protocol.ErrConnection)
	ErrInterrupted     = fmt.Errorf("%w: transport: read interrupted", protocol.ErrConnectionLost)
	ErrPeerClosed      = fmt.Errorf("%w: transport: closed by peer", protocol.ErrConnectionLost)
)

// Conn owns one socket and moves whole frames across it. It expects a single
// reader and a single writer; Close and Interrupt are safe from anywhere.
type Conn struct {
	addr   string
	cfg    session.Config
	conn   net.Conn
	reader *bufio.Reader
	tunnel *Tunnel

	mu          sync.Mutex
	closed      bool
	interrupted bool
}

// Open dials addr. A refused connection is retried with backoff until
// cfg.DialRetryWindow elapses, since the browser may still be starting.
func Open(ctx context.Context, addr string, cfg session.Config) (*Conn, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, ErrAddressRequired
	}
	cfg = cfg.WithDefaults()
	if err := cfg.ValidateClientTransport(); err != nil {
		return nil, fmt.Errorf("%w: %w", protocol.ErrConnection, err)
	}

	var tunnel *Tunnel
	dialAddr := addr
	if cfg.SSH.Enabled {
		t, err := OpenTunnel(cfg.SSH, addr)
		if err != nil {
			observability.RecordConnection("dial_failed")
			return nil, fmt.Errorf("%w: %w", protocol.ErrConnection, err)
		}
		tunnel = t
		dialAddr = t.LocalAddr()
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	until := time.Now().Add(cfg.DialRetryWindow)
	var attempt int
	for {
		attempt++
		conn, err := dial(ctx, dialAddr, addr, cfg)
		if err == nil {
			log.Debug().Str("addr", addr).Int("attempt", attempt).Bool("ssh", tunnel != nil).Msg("transport.Open connected")
			observability.RecordConnection("opened")
			return &Conn{
				addr:   addr,
				cfg:    cfg,
				conn:   conn,
				reader: bufio.NewReader(conn),
				tunnel: tunnel,
			}, nil
		}
		if !errors.Is(err, syscall.ECONNREFUSED) || !time.Now().Before(until) {
			observability.RecordConnection("dial_failed")
			closeTunnel(tunnel)
			return nil, fmt.Errorf("%w: transport: dial %s: %w", protocol.ErrConnection, addr, err)
		}
		log.Debug().Str("addr", addr).Int("attempt", attempt).Err(err).Msg("transport.Open refused, retrying")
		if err := session.SleepBackoff(ctx, cfg.Backoff, attempt, rng, until); err != nil {
			closeTunnel(tunnel)
			return nil, fmt.Errorf("%w: transport: dial %s: %w", protocol.ErrConnection, addr, err)
		}
	}
}

func closeTunnel(t *Tunnel) {
	if t != nil {
		_ = t.Close()
	}
}

// dial connects to dialAddr; addr is the logical endpoint used for TLS
// server name checks when the two differ behind a tunnel.
func dial(ctx context.Context, dialAddr, addr string, cfg session.Config) (net.Conn, error) {
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", dialAddr)
	if err != nil {
		return nil, err
	}
	if !cfg.TLS.Enabled {
		return rawConn, nil
	}

	tlsCfg, err := clientTLSConfig(addr, cfg.TLS)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}

func clientTLSConfig(addr string, opts session.TLSConfig) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: opts.InsecureSkipVerify,
	}

	serverName := strings.TrimSpace(opts.ServerName)
	if serverName == "" {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		serverName = host
	}
	cfg.ServerName = serverName

	if caPath := strings.TrimSpace(opts.CAFile); caPath != "" {
		caPEM, err := os.ReadFile(caPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(caPEM); !ok {
			return nil, fmt.Errorf("transport: parse tls ca bundle: %s", caPath)
		}
		cfg.RootCAs = pool
	}

	if strings.TrimSpace(opts.CertFile) != "" {
		cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func (c *Conn) Addr() string {
	return c.addr
}

// SendFrame writes one frame as a single write bounded by WriteTimeout.
func (c *Conn) SendFrame(payload []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return protocol.ErrConnectionClosed
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	c.mu.Unlock()

	if err := frame.WriteFrame(c.conn, payload, c.cfg.Limits); err != nil {
		if errors.Is(err, protocol.ErrFraming) {
			return err
		}
		return fmt.Errorf("%w: transport: write: %w", protocol.ErrConnectionLost, err)
	}
	return nil
}

// ReceiveFrame blocks for the next frame until deadline (zero means none).
// Framing errors are returned unwrapped; every I/O failure, including the
// deadline, is ConnectionLost. Deadline expiry still matches
// os.ErrDeadlineExceeded.
func (c *Conn) ReceiveFrame(deadline time.Time) ([]byte, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, protocol.ErrConnectionClosed
	}
	if c.interrupted {
		c.mu.Unlock()
		return nil, ErrInterrupted
	}
	_ = c.conn.SetReadDeadline(deadline)
	c.mu.Unlock()

	payload, err := frame.ReadFrame(c.reader, c.cfg.Limits)
	if err == nil {
		return payload, nil
	}
	switch {
	case errors.Is(err, protocol.ErrFraming):
		return nil, err
	case errors.Is(err, io.EOF):
		return nil, ErrPeerClosed
	case c.wasInterrupted():
		return nil, ErrInterrupted
	default:
		return nil, fmt.Errorf("%w: transport: read: %w", protocol.ErrConnectionLost, err)
	}
}

// Interrupt makes an in-flight or future ReceiveFrame return ErrInterrupted.
func (c *Conn) Interrupt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.interrupted {
		return
	}
	c.interrupted = true
	_ = c.conn.SetReadDeadline(time.Unix(1, 0))
}

// Resume clears a previous Interrupt. Only call it between frames.
func (c *Conn) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.interrupted {
		return
	}
	c.interrupted = false
	_ = c.conn.SetReadDeadline(time.Time{})
}

func (c *Conn) wasInterrupted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interrupted
}

// Close releases the socket. Calling it again is a no-op.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	observability.RecordConnection("closed")
	err := c.conn.Close()
	closeTunnel(c.tunnel)
	return err
}
