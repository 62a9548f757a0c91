package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/marionette/internal/dispatch"
	"github.com/danmuck/marionette/internal/protocol"
	"github.com/danmuck/marionette/internal/protocol/session"
	"github.com/danmuck/marionette/internal/testutil/fakeserver"
	"github.com/danmuck/marionette/internal/testutil/testlog"
)

func testConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.ConnectTimeout = 500 * time.Millisecond
	cfg.DialRetryWindow = 0
	cfg.CommandTimeout = 2 * time.Second
	return cfg
}

// browser answers like a minimal marionette server: newSession yields
// session "abc", getUrl is never answered, anything else echoes its name.
func browser(cmd protocol.Command) (any, *protocol.RemoteError, bool) {
	switch cmd.Name {
	case protocol.CommandNewSession:
		return map[string]any{"sessionId": "abc", "capabilities": map[string]any{"browserName": "firefox"}}, nil, false
	case "getUrl":
		return nil, nil, true
	case "fail":
		return nil, &protocol.RemoteError{Kind: "unknown error", Message: "boom"}, false
	default:
		return map[string]string{"value": cmd.Name}, nil, false
	}
}

func connected(t *testing.T, cfg session.Config, greeting bool, h fakeserver.Handler) *Manager {
	t.Helper()
	srv := fakeserver.Listen(t)
	srv.Serve(greeting, h)
	m := NewManager(srv.Addr(), cfg)
	t.Cleanup(func() { _ = m.Close() })
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if m.State() != StateConnected {
		t.Fatalf("state=%s want connected", m.State())
	}
	return m
}

func TestNewSessionActivates(t *testing.T) {
	testlog.Start(t)
	m := connected(t, testConfig(), false, browser)

	s, err := m.NewSession(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if s.ID != "abc" || m.State() != StateSessionActive {
		t.Fatalf("unexpected session=%+v state=%s", s, m.State())
	}
	if got := m.Session(); got == nil || got.ID != "abc" || string(got.Capabilities) != `{"browserName":"firefox"}` {
		t.Fatalf("session not retained: %+v", got)
	}

	res, err := m.Dispatch(context.Background(), "WebDriver:GetTitle", nil, 0)
	if err != nil || string(res) != `{"value":"WebDriver:GetTitle"}` {
		t.Fatalf("dispatch: %s %v", res, err)
	}
}

func TestDispatchBeforeSessionIsInvalidState(t *testing.T) {
	testlog.Start(t)
	m := connected(t, testConfig(), false, browser)

	_, err := m.Dispatch(context.Background(), "WebDriver:Navigate", map[string]string{"url": "about:blank"}, 0)
	if !errors.Is(err, protocol.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if m.State() != StateConnected {
		t.Fatalf("state changed to %s", m.State())
	}

	if _, err := m.Dispatch(context.Background(), protocol.CommandNewSession, nil, 0); err != nil {
		t.Fatalf("newSession via Dispatch: %v", err)
	}
	if m.State() != StateSessionActive {
		t.Fatalf("state=%s want session_active", m.State())
	}
}

func TestDispatchWhileDisconnected(t *testing.T) {
	testlog.Start(t)
	m := NewManager("127.0.0.1:1", testConfig())
	if _, err := m.Dispatch(context.Background(), "getUrl", nil, 0); !errors.Is(err, protocol.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if _, err := m.NewSession(context.Background(), nil); !errors.Is(err, protocol.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if m.State() != StateDisconnected {
		t.Fatalf("state=%s", m.State())
	}
}

func TestTimeoutClosesManager(t *testing.T) {
	testlog.Start(t)
	m := connected(t, testConfig(), false, browser)
	if _, err := m.NewSession(context.Background(), nil); err != nil {
		t.Fatalf("new session: %v", err)
	}

	_, err := m.Dispatch(context.Background(), "getUrl", nil, 200*time.Millisecond)
	if !errors.Is(err, protocol.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if m.State() != StateClosed || m.Session() != nil {
		t.Fatalf("state=%s session=%+v", m.State(), m.Session())
	}
	if _, err := m.Dispatch(context.Background(), "WebDriver:GetTitle", nil, 0); !errors.Is(err, protocol.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState after close, got %v", err)
	}
	if err := m.Connect(context.Background()); !errors.Is(err, protocol.ErrInvalidState) {
		t.Fatalf("closed is terminal, got %v", err)
	}
}

func TestRemoteErrorKeepsSession(t *testing.T) {
	testlog.Start(t)
	m := connected(t, testConfig(), false, browser)
	if _, err := m.NewSession(context.Background(), nil); err != nil {
		t.Fatalf("new session: %v", err)
	}
	_, err := m.Dispatch(context.Background(), "fail", nil, 0)
	var remote *protocol.RemoteError
	if !errors.As(err, &remote) || remote.Kind != "unknown error" || remote.Message != "boom" {
		t.Fatalf("expected remote error, got %v", err)
	}
	if m.State() != StateSessionActive {
		t.Fatalf("remote errors must not change state: %s", m.State())
	}
}

func TestNewSessionRejectsMalformedResult(t *testing.T) {
	testlog.Start(t)
	cases := map[string]any{
		"not object":      "abc",
		"missing id":      map[string]any{"capabilities": map[string]any{}},
		"numeric id":      map[string]any{"sessionId": 7, "capabilities": map[string]any{}},
		"missing caps":    map[string]any{"sessionId": "abc"},
		"caps not object": map[string]any{"sessionId": "abc", "capabilities": []int{1}},
		"null caps":       map[string]any{"sessionId": "abc", "capabilities": nil},
	}
	for name, result := range cases {
		t.Run(name, func(t *testing.T) {
			testlog.Start(t)
			m := connected(t, testConfig(), false, func(cmd protocol.Command) (any, *protocol.RemoteError, bool) {
				return result, nil, false
			})
			if _, err := m.NewSession(context.Background(), nil); !errors.Is(err, protocol.ErrProtocol) {
				t.Fatalf("expected ErrProtocol, got %v", err)
			}
			if m.State() != StateConnected {
				t.Fatalf("state=%s want connected", m.State())
			}
		})
	}
}

func TestNewSessionTwiceIsInvalidState(t *testing.T) {
	testlog.Start(t)
	m := connected(t, testConfig(), false, browser)
	if _, err := m.NewSession(context.Background(), nil); err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, err := m.NewSession(context.Background(), nil); !errors.Is(err, protocol.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestConnectReadsGreeting(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.ExpectGreeting = true
	m := connected(t, cfg, true, browser)
	g := m.Greeting()
	if g == nil || g.ApplicationType != "gecko" || g.Protocol != 3 {
		t.Fatalf("unexpected greeting: %+v", g)
	}
	if _, err := m.NewSession(context.Background(), nil); err != nil {
		t.Fatalf("new session after greeting: %v", err)
	}
}

func TestConnectMissingGreetingFails(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.ExpectGreeting = true
	cfg.HandshakeTimeout = 100 * time.Millisecond
	srv := fakeserver.Listen(t)
	srv.Serve(false, browser)

	m := NewManager(srv.Addr(), cfg)
	defer m.Close()
	if err := m.Connect(context.Background()); !errors.Is(err, protocol.ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	if m.State() != StateDisconnected {
		t.Fatalf("state=%s want disconnected", m.State())
	}
}

func TestCustomSessionCommand(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.NewSessionCommand = "WebDriver:NewSession"
	var mu sync.Mutex
	var names []string
	m := connected(t, cfg, false, func(cmd protocol.Command) (any, *protocol.RemoteError, bool) {
		mu.Lock()
		names = append(names, cmd.Name)
		mu.Unlock()
		return map[string]any{"sessionId": "xyz", "capabilities": map[string]any{}}, nil, false
	})
	if _, err := m.Dispatch(context.Background(), "WebDriver:NewSession", map[string]any{"capabilities": map[string]any{}}, 0); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if s := m.Session(); s == nil || s.ID != "xyz" {
		t.Fatalf("unexpected session: %+v", s)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(names) != 1 || names[0] != "WebDriver:NewSession" {
		t.Fatalf("unexpected wire commands: %v", names)
	}
}

func TestOnResultSubscribers(t *testing.T) {
	testlog.Start(t)
	m := connected(t, testConfig(), false, browser)
	var got []dispatch.Result
	m.OnResult(func(r dispatch.Result) { got = append(got, r) })

	if _, err := m.NewSession(context.Background(), nil); err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, err := m.Dispatch(context.Background(), "WebDriver:GetTitle", nil, 0); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(got) != 2 || got[0].Command != protocol.CommandNewSession || got[1].MessageID != 2 {
		t.Fatalf("unexpected published results: %+v", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	testlog.Start(t)
	m := connected(t, testConfig(), false, browser)
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if m.State() != StateClosed {
		t.Fatalf("state=%s", m.State())
	}
	if _, err := m.NewSession(context.Background(), nil); !errors.Is(err, protocol.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestDispatchNewSessionReturnsRawResult(t *testing.T) {
	testlog.Start(t)
	m := connected(t, testConfig(), false, func(cmd protocol.Command) (any, *protocol.RemoteError, bool) {
		return map[string]any{"sessionId": "abc", "capabilities": map[string]any{}, "extra": 1}, nil, false
	})
	res, err := m.Dispatch(context.Background(), protocol.CommandNewSession, nil, 0)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if string(res) != `{"capabilities":{},"extra":1,"sessionId":"abc"}` {
		t.Fatalf("server result not returned as sent: %s", res)
	}
	if s := m.Session(); s == nil || s.ID != "abc" {
		t.Fatalf("unexpected session: %+v", s)
	}
}

func TestRejectedSessionIsNotPublished(t *testing.T) {
	testlog.Start(t)
	m := connected(t, testConfig(), false, func(cmd protocol.Command) (any, *protocol.RemoteError, bool) {
		if cmd.MessageID == 1 {
			return map[string]any{"sessionId": 7}, nil, false
		}
		return map[string]any{"sessionId": "abc", "capabilities": map[string]any{}}, nil, false
	})
	var got []dispatch.Result
	m.OnResult(func(r dispatch.Result) { got = append(got, r) })

	if _, err := m.NewSession(context.Background(), nil); !errors.Is(err, protocol.ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("rejected session result was published: %+v", got)
	}
	if _, err := m.NewSession(context.Background(), nil); err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if len(got) != 1 || got[0].MessageID != 2 || got[0].Command != protocol.CommandNewSession {
		t.Fatalf("unexpected published results: %+v", got)
	}
}
