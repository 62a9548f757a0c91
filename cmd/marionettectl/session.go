package main

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/danmuck/marionette/internal/protocol"
	"github.com/spf13/cobra"
)

const quitCommand = "Marionette:Quit"

func sessionCmd(opts *rootOptions) *cobra.Command {
	var capabilities string
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Negotiate a session and print its id and capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(opts)
			if err != nil {
				return err
			}
			options, err := parseParams(capabilities)
			if err != nil {
				return err
			}
			m, err := openSession(cmd.Context(), rt, options)
			if err != nil {
				return err
			}
			defer m.Close()
			return printJSON(cmd.OutOrStdout(), m.Session())
		},
	}
	cmd.Flags().StringVar(&capabilities, "options", "", "newSession options as a JSON object")
	return cmd
}

func execCmd(opts *rootOptions) *cobra.Command {
	var timeout time.Duration
	var quit bool
	cmd := &cobra.Command{
		Use:   "exec <command> [params-json]",
		Short: "Open a session, run one command and print its result",
		Example: `  marionettectl exec WebDriver:Navigate '{"url":"https://example.org"}'
  marionettectl exec WebDriver:GetTitle`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(opts)
			if err != nil {
				return err
			}
			var raw string
			if len(args) == 2 {
				raw = args[1]
			}
			params, err := parseParams(raw)
			if err != nil {
				return err
			}
			m, err := openSession(cmd.Context(), rt, nil)
			if err != nil {
				return err
			}
			defer m.Close()

			result, err := m.Dispatch(cmd.Context(), args[0], params, timeout)
			if err != nil {
				return err
			}
			if quit {
				if _, err := m.Dispatch(cmd.Context(), quitCommand, nil, timeout); err != nil && !isDisconnect(err) {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), json.RawMessage(result))
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "command timeout (default from config)")
	cmd.Flags().BoolVar(&quit, "quit", false, "send Marionette:Quit after the command")
	return cmd
}

// isDisconnect reports errors expected when the browser exits on quit.
func isDisconnect(err error) bool {
	return errors.Is(err, protocol.ErrConnectionLost) || errors.Is(err, protocol.ErrConnectionClosed)
}
