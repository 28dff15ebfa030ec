package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"go.akon.dev/akon/internal/daemon"
)

func NewCheckCommand() *cobra.Command {
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Run a health check against the configured endpoint",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			response, err := daemon.SendCommand("CHECK")
			if err != nil {
				slog.Error("Daemon is not running.")
				os.Exit(1)
			}
			response.LogMessages()
			for _, msg := range response.Messages {
				if msg.Status == "ERROR" {
					os.Exit(1)
				}
			}
		},
	}

	return checkCmd
}
