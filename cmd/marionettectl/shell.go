package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/danmuck/marionette/internal/relay"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const maxShellLine = 1 << 20

type shellDispatcher interface {
	Dispatch(ctx context.Context, name string, params any, timeout time.Duration) (json.RawMessage, error)
}

func shellCmd(opts *rootOptions) *cobra.Command {
	var relayAddr string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Run commands read from stdin, one per line",
		Long: `Open a session and run one command per input line:

  <command> [params-json]

Results are printed as JSON, one per line. "quit" or end of input stops the
shell. With --relay-addr every result is also pushed to websocket clients on
/results, next to /healthz and /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(opts)
			if err != nil {
				return err
			}
			if relayAddr != "" {
				rt.RelayAddr = relayAddr
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			m, err := openSession(ctx, rt, nil)
			if err != nil {
				return err
			}
			defer m.Close()

			relayErr := make(chan error, 1)
			if rt.RelayAddr != "" {
				hub := relay.NewHub(0)
				defer hub.Close()
				m.OnResult(hub.Publish)
				router := relay.NewRouter(hub, func() string { return string(m.State()) }, rt.CorsOrigins)
				go func() { relayErr <- relay.Run(ctx, rt.RelayAddr, router) }()
			}

			shellErr := make(chan error, 1)
			go func() { shellErr <- runShell(ctx, m, timeout, cmd.InOrStdin(), cmd.OutOrStdout()) }()

			select {
			case err := <-shellErr:
				return err
			case err := <-relayErr:
				if err != nil {
					return fmt.Errorf("relay: %w", err)
				}
				return <-shellErr
			}
		},
	}
	cmd.Flags().StringVar(&relayAddr, "relay-addr", "", "serve results, health and metrics on host:port (overrides config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-command timeout (default from config)")
	return cmd
}

// runShell executes one command per line until quit, EOF, ctx end or a
// connection failure.
func runShell(ctx context.Context, d shellDispatcher, timeout time.Duration, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxShellLine)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			select {
			case err := <-scanErr:
				return err
			default:
				return nil
			}
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "quit" || line == "exit" {
			return nil
		}
		name, rawParams, _ := strings.Cut(line, " ")
		params, err := parseParams(rawParams)
		if err != nil {
			fmt.Fprintf(out, "error: %s: %v\n", name, err)
			continue
		}

		result, err := d.Dispatch(ctx, name, params, timeout)
		if err != nil {
			fmt.Fprintf(out, "error: %s: %v\n", name, err)
			if isDisconnect(err) {
				return err
			}
			continue
		}
		log.Debug().Str("command", name).Int("bytes", len(result)).Msg("marionettectl shell result")
		fmt.Fprintf(out, "%s\n", result)
	}
}
