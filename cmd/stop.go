package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"go.akon.dev/akon/internal/daemon"
)

func NewStopCommand() *cobra.Command {
	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon",
		Long:  `Stop the daemon, disconnecting any active VPN session`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			response, err := daemon.SendCommand("STOP")
			if err != nil {
				slog.Warn("Daemon is not running.")
				return
			}
			response.LogMessages()
		},
	}

	return stopCmd
}
