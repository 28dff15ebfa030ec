package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"go.akon.dev/akon/internal/daemon"
)

func NewCleanupCommand() *cobra.Command {
	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Terminate orphaned tunnel client processes",
		Long:  `Find and terminate tunnel client processes left behind by a previous daemon instance`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			response, err := daemon.SendCommand("CLEANUP")
			if err != nil {
				slog.Error("Daemon is not running.")
				os.Exit(1)
			}
			response.LogMessages()
		},
	}

	return cleanupCmd
}
