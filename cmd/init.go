package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"go.akon.dev/akon/internal/core"
)

const sampleConfig = `# akon configuration

vpn {
  server   = "vpn.example.com"
  username = "your-username"

  # port     = 443
  # protocol = "f5"

  # "daemon" detaches the tunnel client via sudo; "foreground" keeps it
  # as a direct child of the akon daemon
  # mode = "daemon"
}

reconnect {
  # enabled = true

  # max_attempts                   = 10
  # base_interval_secs             = 2
  # backoff_multiplier             = 2
  # max_interval_secs              = 300
  # consecutive_failures_threshold = 3
  # health_check_interval_secs     = 30
  # health_check_endpoint          = "https://intranet.example.com/health"
  # health_check_timeout_secs      = 5
}
`

func NewInitCommand() *cobra.Command {
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a sample configuration file",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			configFile := core.ConfigFilePath()
			if core.ConfigExists(configFile) {
				slog.Warn(fmt.Sprintf("Config file already exists at %s", configFile))
				return
			}

			if err := core.EnsureBaseDir(); err != nil {
				slog.Error(fmt.Sprintf("Failed to create config directory: %v", err))
				os.Exit(1)
			}
			if err := os.WriteFile(configFile, []byte(sampleConfig), 0o600); err != nil {
				slog.Error(fmt.Sprintf("Failed to write config file: %v", err))
				os.Exit(1)
			}

			slog.Info(fmt.Sprintf("Wrote sample config to %s", configFile))
			fmt.Println("Edit the server and username, then store your credentials with 'akon credentials set'.")
		},
	}

	return initCmd
}
