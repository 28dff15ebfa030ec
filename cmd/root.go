package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"go.akon.dev/akon/internal/core"
)

// cfg is the loaded configuration, shared by all commands. Populated in
// PersistentPreRunE; commands that require an endpoint must call
// requireEndpoint before using it.
var cfg *core.Config

func NewRootCommand() *cobra.Command {
	var verbose int

	rootCmd := &cobra.Command{
		Use:   "akon",
		Short: "Akon - VPN Connection Manager",
		Long:  `Akon - VPN Connection Manager`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			configFile := core.ConfigFilePath()
			if core.ConfigExists(configFile) {
				loaded, err := core.LoadConfig(configFile)
				if err != nil {
					return err
				}
				cfg = loaded
			} else {
				cfg = core.DefaultConfig()
			}
			cfg.ConfigPath = core.BaseDir()
			if verbose > cfg.Verbose {
				cfg.Verbose = verbose
			}

			setupCLILogging(cfg)
			return nil
		},
	}
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "more output, repeat for even more")

	rootCmd.AddCommand(
		NewConnectCommand(),
		NewDisconnectCommand(),
		NewStatusCommand(),
		NewCheckCommand(),
		NewResetCommand(),
		NewCleanupCommand(),
		NewHistoryCommand(),
		NewCredentialsCommand(),
		NewInitCommand(),
		NewSetupCommand(),
		NewLogsCommand(),
		NewStopCommand(),
		NewVersionCommand(),
		NewDaemonCommand(),
	)

	return rootCmd
}

// setupCLILogging configures slog for the CLI process. The daemon replaces
// this with its broadcasting handler.
func setupCLILogging(cfg *core.Config) {
	level := slog.LevelInfo
	if cfg.Verbose > 0 {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.DateTime,
		})
	}
	slog.SetDefault(slog.New(handler))
}

// requireEndpoint fails fast when no VPN endpoint is configured.
func requireEndpoint() error {
	if cfg == nil || cfg.VPN.Server == "" {
		return fmt.Errorf("no VPN endpoint configured; create %s (see 'akon init')", core.ConfigFilePath())
	}
	return nil
}
