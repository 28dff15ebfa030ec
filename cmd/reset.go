package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"go.akon.dev/akon/internal/daemon"
)

func NewResetCommand() *cobra.Command {
	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset reconnection retry counters",
		Long:  `Reset the reconnection manager's retry counters. From the error state this re-arms automatic recovery.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			response, err := daemon.SendCommand("RESET")
			if err != nil {
				slog.Error("Daemon is not running.")
				os.Exit(1)
			}
			response.LogMessages()
		},
	}

	return resetCmd
}
