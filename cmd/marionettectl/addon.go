package main

import (
	"fmt"
	"os"
	"time"

	"github.com/danmuck/marionette/internal/addon"
	"github.com/spf13/cobra"
)

func addonCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "addon",
		Short: "Install or remove browser extensions",
	}

	var temporary, upload bool
	var timeout time.Duration
	installCmd := &cobra.Command{
		Use:   "install <path>",
		Short: "Install an extension archive and print its id",
		Long: `Install an extension. By default the path is handed to the browser,
which must be able to read it. With --upload the archive is read locally and
sent inline, for browsers on another host.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(opts)
			if err != nil {
				return err
			}
			payload := addon.Payload{Path: args[0]}
			if upload {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				payload = addon.Payload{Data: data}
			}
			m, err := openSession(cmd.Context(), rt, nil)
			if err != nil {
				return err
			}
			defer m.Close()

			id, err := addon.NewController(m, timeout).Install(cmd.Context(), payload, temporary)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	installCmd.Flags().BoolVar(&temporary, "temporary", true, "remove the extension when the browser exits")
	installCmd.Flags().BoolVar(&upload, "upload", false, "send the archive bytes instead of its path")
	installCmd.Flags().DurationVar(&timeout, "timeout", 0, "command timeout (default from config)")

	uninstallCmd := &cobra.Command{
		Use:   "uninstall <id>",
		Short: "Remove an installed extension",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(opts)
			if err != nil {
				return err
			}
			m, err := openSession(cmd.Context(), rt, nil)
			if err != nil {
				return err
			}
			defer m.Close()
			if err := addon.NewController(m, timeout).Uninstall(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
	uninstallCmd.Flags().DurationVar(&timeout, "timeout", 0, "command timeout (default from config)")

	cmd.AddCommand(installCmd, uninstallCmd)
	return cmd
}
