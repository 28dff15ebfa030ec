package cmd

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"go.akon.dev/akon/internal/auth"
	"go.akon.dev/akon/internal/core"
	"go.akon.dev/akon/internal/keyring"
)

func NewSetupCommand() *cobra.Command {
	setupCmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactive first-time setup",
		Long:  `Prompt for the VPN endpoint and credentials, write the configuration file, and store the PIN and OTP secret in the system keyring.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile := core.ConfigFilePath()
			if core.ConfigExists(configFile) {
				slog.Warn(fmt.Sprintf("Config file already exists at %s", configFile))
				fmt.Println("Use 'akon credentials set' to update credentials, or edit the config file directly.")
				return nil
			}

			reader := bufio.NewReader(os.Stdin)
			server, err := promptLine(reader, "VPN server: ")
			if err != nil {
				return err
			}
			if server == "" {
				return fmt.Errorf("a server is required")
			}
			username, err := promptLine(reader, "Username: ")
			if err != nil {
				return err
			}
			if username == "" {
				return fmt.Errorf("a username is required")
			}

			pin, err := promptSecret(fmt.Sprintf("PIN for %s: ", username))
			if err != nil {
				return fmt.Errorf("failed to read PIN: %w", err)
			}
			if err := auth.ValidatePIN(pin); err != nil {
				return err
			}
			secret, err := promptSecret("OTP secret (base32): ")
			if err != nil {
				return fmt.Errorf("failed to read OTP secret: %w", err)
			}
			secret = strings.ToUpper(strings.TrimSpace(secret))
			if err := auth.ValidateBase32Secret(secret); err != nil {
				return err
			}

			store, err := keyring.Open()
			if err != nil {
				return fmt.Errorf("failed to open system keyring: %w", err)
			}
			if err := store.SetPIN(username, pin); err != nil {
				return fmt.Errorf("failed to store PIN: %w", err)
			}
			if err := store.SetOTPSecret(username, secret); err != nil {
				return fmt.Errorf("failed to store OTP secret: %w", err)
			}

			if err := core.EnsureBaseDir(); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			if err := os.WriteFile(configFile, []byte(renderSetupConfig(server, username)), 0o600); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}

			slog.Info(fmt.Sprintf("Wrote config to %s", configFile))
			slog.Info(fmt.Sprintf("Credentials stored securely for '%s'", username))
			fmt.Println("Setup complete. Run 'akon connect' to establish the tunnel.")
			return nil
		},
	}

	return setupCmd
}

// promptLine reads one echoed line from the terminal.
func promptLine(reader *bufio.Reader, prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func renderSetupConfig(server, username string) string {
	return fmt.Sprintf(`vpn {
  server   = %q
  username = %q
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
`, server, username)
}
