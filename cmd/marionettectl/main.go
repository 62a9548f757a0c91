package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/marionette/internal/logging"
	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

type rootOptions struct {
	configPath string
	addr       string
	logLevel   string
	launch     bool
}

func main() {
	logging.ConfigureRuntime()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "marionettectl: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "marionettectl",
		Short: "Drive a browser over the marionette protocol",
		Long: `marionettectl talks to a browser's marionette endpoint: it opens a
session, runs commands one at a time, manages extensions, and can relay
results to websocket subscribers.`,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to marionette.toml (default ./marionette.toml when present)")
	flags.StringVar(&opts.addr, "addr", "", "marionette endpoint host:port (overrides config)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: trace|debug|info|warn|error|off (overrides config)")
	flags.BoolVar(&opts.launch, "launch", false, "start the browser with marionette enabled before connecting")

	rootCmd.AddCommand(
		configCmd(opts),
		sessionCmd(opts),
		execCmd(opts),
		addonCmd(opts),
		shellCmd(opts),
	)
	return rootCmd
}
