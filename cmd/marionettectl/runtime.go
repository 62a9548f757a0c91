package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/danmuck/marionette/internal/client"
	"github.com/danmuck/marionette/internal/config"
	"github.com/danmuck/marionette/internal/logging"
	"github.com/danmuck/marionette/internal/tools"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// loadRuntime resolves config file, flag overrides and log level.
func loadRuntime(opts *rootOptions) (config.Runtime, error) {
	rt := config.Default()
	path := strings.TrimSpace(opts.configPath)
	if path == "" {
		if _, err := os.Stat(config.DefaultPath()); err == nil {
			path = config.DefaultPath()
		}
	}
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Runtime{}, err
		}
		rt = loaded
	}
	if addr := strings.TrimSpace(opts.addr); addr != "" {
		rt.Addr = addr
	}
	if level := strings.TrimSpace(opts.logLevel); level != "" {
		rt.LogLevel = level
	}
	if opts.launch {
		rt.Browser.Launch = true
	}
	if err := config.Validate(rt); err != nil {
		return config.Runtime{}, err
	}
	level, _ := logging.ParseLevel(rt.LogLevel)
	zerolog.SetGlobalLevel(level)
	log.Debug().Str("addr", rt.Addr).Str("config", path).Msg("marionettectl runtime resolved")
	return rt, nil
}

// sessionHandle is an active session plus the browser process it started,
// if any.
type sessionHandle struct {
	*client.Manager
	browser *tools.Browser
}

func (h *sessionHandle) Close() error {
	err := h.Manager.Close()
	if h.browser != nil {
		_ = h.browser.Stop()
	}
	return err
}

// openSession optionally launches the browser, then connects and negotiates
// a session with options (nil sends {}). The dial retry window covers the
// browser's startup.
func openSession(ctx context.Context, rt config.Runtime, options any) (*sessionHandle, error) {
	h := &sessionHandle{Manager: client.NewManager(rt.Addr, rt.Session)}
	if rt.Browser.Launch {
		opts := rt.Browser.Options
		if v, err := tools.BrowserVersion(ctx, tools.ExecRunner{}, opts.Binary); err == nil {
			log.Info().Str("binary", opts.Binary).Str("version", v).Msg("marionettectl browser")
		}
		b, err := tools.LaunchBrowser(ctx, opts)
		if err != nil {
			return nil, err
		}
		h.browser = b
	}
	if err := h.Connect(ctx); err != nil {
		_ = h.Close()
		return nil, err
	}
	if _, err := h.NewSession(ctx, options); err != nil {
		_ = h.Close()
		return nil, err
	}
	return h, nil
}

// parseParams accepts an empty string or a JSON object. Empty yields a nil
// interface so the codec sends {}.
func parseParams(raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &probe); err != nil || probe == nil {
		return nil, errors.New("params must be a JSON object")
	}
	return json.RawMessage(raw), nil
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
