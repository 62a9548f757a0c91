// Package fakeserver is a scripted marionette endpoint for tests.
package fakeserver

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/danmuck/marionette/internal/protocol"
	"github.com/danmuck/marionette/internal/protocol/frame"
)

const acceptTimeout = 2 * time.Second

type Server struct {
	ln    net.Listener
	conns chan net.Conn
}

func Listen(t testing.TB) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return start(t, ln)
}

func ListenTLS(t testing.TB, cfg *tls.Config) *Server {
	t.Helper()
	ln, err := tls.Listen("tcp", "127.0.0.1:0", cfg)
	if err != nil {
		t.Fatalf("listen tls: %v", err)
	}
	return start(t, ln)
}

func start(t testing.TB, ln net.Listener) *Server {
	s := &Server{ln: ln, conns: make(chan net.Conn, 4)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				close(s.conns)
				return
			}
			s.conns <- conn
		}
	}()
	t.Cleanup(func() { _ = ln.Close() })
	return s
}

func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Accept returns the next connected peer.
func (s *Server) Accept() (*Peer, error) {
	select {
	case conn, ok := <-s.conns:
		if !ok {
			return nil, errors.New("fakeserver: listener closed")
		}
		return &Peer{conn: conn, r: bufio.NewReader(conn)}, nil
	case <-time.After(acceptTimeout):
		return nil, errors.New("fakeserver: accept timeout")
	}
}

// Handler answers one command. Returning a nil result and nil error replies
// with a null result; returning skip=true sends nothing.
type Handler func(cmd protocol.Command) (result any, remote *protocol.RemoteError, skip bool)

// Serve accepts one peer and answers commands with h until the peer goes away.
// The returned channel yields the first serve error (or nil) and then closes.
func (s *Server) Serve(greeting bool, h Handler) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		p, err := s.Accept()
		if err != nil {
			done <- err
			return
		}
		defer p.Close()
		if greeting {
			if err := p.WriteGreeting(); err != nil {
				done <- err
				return
			}
		}
		for {
			cmd, err := p.ReadCommand()
			if err != nil {
				done <- nil
				return
			}
			result, remote, skip := h(cmd)
			if skip {
				continue
			}
			if err := p.Reply(cmd.MessageID, remote, result); err != nil {
				done <- err
				return
			}
		}
	}()
	return done
}

// Peer is the server side of one accepted connection.
type Peer struct {
	conn net.Conn
	r    *bufio.Reader
}

func (p *Peer) ReadCommand() (protocol.Command, error) {
	_ = p.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	payload, err := frame.ReadFrame(p.r, frame.DefaultLimits())
	if err != nil {
		return protocol.Command{}, err
	}
	return protocol.DecodeCommand(payload)
}

func (p *Peer) Reply(id uint64, remote *protocol.RemoteError, result any) error {
	payload, err := protocol.EncodeResponse(id, remote, result)
	if err != nil {
		return err
	}
	return p.WriteFrame(payload)
}

func (p *Peer) WriteGreeting() error {
	return p.WriteFrame([]byte(`{"applicationType":"gecko","marionetteProtocol":3}`))
}

func (p *Peer) WriteFrame(payload []byte) error {
	return frame.WriteFrame(p.conn, payload, frame.DefaultLimits())
}

// WriteRaw writes bytes verbatim, for malformed-frame cases.
func (p *Peer) WriteRaw(raw string) error {
	_, err := fmt.Fprint(p.conn, raw)
	return err
}

func (p *Peer) Close() error {
	return p.conn.Close()
}
