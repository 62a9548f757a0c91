package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/marionette/internal/dispatch"
	"github.com/danmuck/marionette/internal/protocol"
	"github.com/danmuck/marionette/internal/protocol/session"
	"github.com/danmuck/marionette/internal/transport"
	"github.com/rs/zerolog/log"
)

type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnected     State = "connected"
	StateSessionActive State = "session_active"
	StateClosed        State = "closed"
)

// Session is the negotiated browser session.
type Session struct {
	ID           string          `json:"sessionId"`
	Capabilities json.RawMessage `json:"capabilities"`
}

// Manager owns one connection and the session negotiated on it. Closed is
// terminal; reconnecting means building a new Manager.
type Manager struct {
	addr string
	cfg  session.Config

	mu          sync.Mutex
	state       State
	negotiating bool
	conn        *transport.Conn
	disp        *dispatch.Dispatcher
	session     *Session
	greeting    *protocol.Greeting
	subscribers []func(dispatch.Result)
	held        *dispatch.Result
}

func NewManager(addr string, cfg session.Config) *Manager {
	return &Manager{
		addr:  addr,
		cfg:   cfg.WithDefaults(),
		state: StateDisconnected,
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns the active session, or nil before negotiation.
func (m *Manager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	s := *m.session
	return &s
}

// Greeting returns the server greeting when one was read.
func (m *Manager) Greeting() *protocol.Greeting {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.greeting
}

// OnResult subscribes fn to every successful command result.
func (m *Manager) OnResult(fn func(dispatch.Result)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// publish forwards dispatcher results. Session negotiation results are held
// back until they validate, see newSession.
func (m *Manager) publish(r dispatch.Result) {
	if r.Command == m.cfg.NewSessionCommand {
		m.mu.Lock()
		m.held = &r
		m.mu.Unlock()
		return
	}
	m.deliver(r)
}

func (m *Manager) deliver(r dispatch.Result) {
	m.mu.Lock()
	subs := append([]func(dispatch.Result){}, m.subscribers...)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(r)
	}
}

func (m *Manager) invalidState(op string, state State) error {
	return fmt.Errorf("%w: %s not allowed in state %s", protocol.ErrInvalidState, op, state)
}

// Connect opens the transport. It is only valid from Disconnected.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateDisconnected || m.conn != nil {
		state := m.state
		m.mu.Unlock()
		return m.invalidState("connect", state)
	}
	m.mu.Unlock()

	conn, err := transport.Open(ctx, m.addr, m.cfg)
	if err != nil {
		return err
	}

	var greeting *protocol.Greeting
	if m.cfg.ExpectGreeting {
		g, err := readGreeting(conn, m.cfg.HandshakeTimeout)
		if err != nil {
			_ = conn.Close()
			return err
		}
		greeting = &g
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateDisconnected || m.conn != nil {
		_ = conn.Close()
		return m.invalidState("connect", m.state)
	}
	m.conn = conn
	m.greeting = greeting
	m.disp = dispatch.New(conn, m.cfg, dispatch.WithResultHook(m.publish))
	m.state = StateConnected
	log.Info().Str("addr", m.addr).Msg("client.Connect connected")
	return nil
}

func readGreeting(conn *transport.Conn, timeout time.Duration) (protocol.Greeting, error) {
	raw, err := conn.ReceiveFrame(time.Now().Add(timeout))
	if err != nil {
		return protocol.Greeting{}, fmt.Errorf("%w: greeting: %w", protocol.ErrConnection, err)
	}
	g, err := protocol.DecodeGreeting(raw)
	if err != nil {
		return protocol.Greeting{}, err
	}
	log.Debug().Str("application", g.ApplicationType).Int("protocol", g.Protocol).Msg("client.Connect greeting")
	return g, nil
}

// NewSession negotiates a session with the given options object (nil sends
// {}). It is only valid from Connected and only one negotiation may run at a
// time.
func (m *Manager) NewSession(ctx context.Context, options any) (*Session, error) {
	s, _, err := m.newSession(ctx, options, 0)
	return s, err
}

// newSession returns the validated session together with the raw result.
func (m *Manager) newSession(ctx context.Context, params any, timeout time.Duration) (*Session, json.RawMessage, error) {
	m.mu.Lock()
	if m.state != StateConnected || m.negotiating {
		state := m.state
		m.mu.Unlock()
		return nil, nil, m.invalidState("newSession", state)
	}
	m.negotiating = true
	disp := m.disp
	m.mu.Unlock()

	result, err := disp.Dispatch(ctx, m.cfg.NewSessionCommand, params, timeout)

	m.mu.Lock()
	m.negotiating = false
	held := m.held
	m.held = nil
	if err != nil {
		m.observeFailure(err)
		m.mu.Unlock()
		return nil, nil, err
	}
	s, err := decodeSession(result)
	if err != nil {
		m.mu.Unlock()
		return nil, nil, err
	}
	if m.state != StateConnected {
		state := m.state
		m.mu.Unlock()
		return nil, nil, m.invalidState("newSession", state)
	}
	m.session = &s
	m.state = StateSessionActive
	m.mu.Unlock()

	log.Info().Str("session_id", s.ID).Msg("client.NewSession active")
	if held != nil {
		m.deliver(*held)
	}
	return &s, result, nil
}

func decodeSession(result json.RawMessage) (Session, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(result, &fields); err != nil || fields == nil {
		return Session{}, fmt.Errorf("%w: newSession result must be an object", protocol.ErrProtocol)
	}
	var id string
	if err := json.Unmarshal(fields["sessionId"], &id); err != nil || strings.TrimSpace(id) == "" {
		return Session{}, fmt.Errorf("%w: newSession result missing string sessionId", protocol.ErrProtocol)
	}
	caps := fields["capabilities"]
	var probe map[string]json.RawMessage
	if len(caps) == 0 || json.Unmarshal(caps, &probe) != nil || probe == nil {
		return Session{}, fmt.Errorf("%w: newSession result missing capabilities object", protocol.ErrProtocol)
	}
	return Session{ID: id, Capabilities: caps}, nil
}

// Dispatch runs one command on the active session. The configured session
// command is routed through NewSession and returns the server's result as
// sent. A lost or closed connection moves the manager to Closed.
func (m *Manager) Dispatch(ctx context.Context, name string, params any, timeout time.Duration) (json.RawMessage, error) {
	if name == m.cfg.NewSessionCommand {
		_, result, err := m.newSession(ctx, params, timeout)
		return result, err
	}

	m.mu.Lock()
	if m.state != StateSessionActive {
		state := m.state
		m.mu.Unlock()
		return nil, m.invalidState(name, state)
	}
	disp := m.disp
	m.mu.Unlock()

	result, err := disp.Dispatch(ctx, name, params, timeout)
	if err != nil {
		m.mu.Lock()
		m.observeFailure(err)
		m.mu.Unlock()
		return nil, err
	}
	return result, nil
}

// observeFailure must be called with m.mu held.
func (m *Manager) observeFailure(err error) {
	if !errors.Is(err, protocol.ErrConnectionLost) && !errors.Is(err, protocol.ErrConnectionClosed) {
		return
	}
	if m.state == StateClosed {
		return
	}
	log.Warn().Err(err).Str("from", string(m.state)).Msg("client.Manager closed after connection failure")
	m.state = StateClosed
	m.session = nil
}

// Close releases the connection. Any state may close; closing twice is a
// no-op.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.state == StateClosed && m.disp == nil {
		m.mu.Unlock()
		return nil
	}
	disp, conn := m.disp, m.conn
	m.state = StateClosed
	m.session = nil
	m.disp = nil
	m.conn = nil
	m.mu.Unlock()

	if disp != nil {
		return disp.Close()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}
