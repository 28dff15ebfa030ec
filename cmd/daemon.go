package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"go.akon.dev/akon/internal/core"
	"go.akon.dev/akon/internal/daemon"
	"go.akon.dev/akon/internal/keyring"
)

func NewDaemonCommand() *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:     "internal-daemon-start",
		Aliases: []string{"daemon"},
		Hidden:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireEndpoint(); err != nil {
				return err
			}
			if err := core.EnsureBaseDir(); err != nil {
				slog.Error("Failed to create config directory", "error", err)
				os.Exit(1)
			}

			store, err := keyring.Open()
			if err != nil {
				slog.Error("Failed to open system keyring", "error", err)
				os.Exit(1)
			}

			d := daemon.New(cfg, store)
			d.Run()
			return nil
		},
	}

	return daemonCmd
}
