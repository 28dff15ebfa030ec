package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"go.akon.dev/akon/internal/daemon"
)

func NewDisconnectCommand() *cobra.Command {
	disconnectCmd := &cobra.Command{
		Use:     "disconnect",
		Aliases: []string{"d"},
		Short:   "Disconnect from the VPN",
		Long:    `Disconnect the active VPN session and disable automatic reconnection`,
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			response, err := daemon.SendCommand("DISCONNECT")
			if err != nil {
				slog.Warn("Not connected (daemon is not running).")
				return
			}
			response.LogMessages()
			for _, msg := range response.Messages {
				if msg.Status == "ERROR" {
					os.Exit(1)
				}
			}
		},
	}

	return disconnectCmd
}
