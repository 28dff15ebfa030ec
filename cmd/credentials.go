package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"go.akon.dev/akon/internal/auth"
	"go.akon.dev/akon/internal/keyring"
)

func NewCredentialsCommand() *cobra.Command {
	credentialsCmd := &cobra.Command{
		Use:     "credentials",
		Aliases: []string{"creds"},
		Short:   "Manage stored VPN credentials",
		Long:    `Store, inspect, and delete the PIN and OTP secret used to authenticate. Credentials are stored securely in the system keyring.`,
	}

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Store the PIN and OTP secret",
		Long:  `Store the PIN and OTP secret for the configured username. The password sent to the VPN is the PIN followed by the current OTP code.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireEndpoint(); err != nil {
				return err
			}
			username := cfg.VPN.Username

			pin, err := promptSecret(fmt.Sprintf("PIN for %s: ", username))
			if err != nil {
				slog.Error(fmt.Sprintf("Failed to read PIN: %v", err))
				os.Exit(1)
			}
			if err := auth.ValidatePIN(pin); err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}

			secret, err := promptSecret("OTP secret (base32): ")
			if err != nil {
				slog.Error(fmt.Sprintf("Failed to read OTP secret: %v", err))
				os.Exit(1)
			}
			secret = strings.ToUpper(strings.TrimSpace(secret))
			if err := auth.ValidateBase32Secret(secret); err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}

			store, err := keyring.Open()
			if err != nil {
				slog.Error(fmt.Sprintf("Failed to open system keyring: %v", err))
				os.Exit(1)
			}
			if err := store.SetPIN(username, pin); err != nil {
				slog.Error(fmt.Sprintf("Failed to store PIN: %v", err))
				os.Exit(1)
			}
			if err := store.SetOTPSecret(username, secret); err != nil {
				slog.Error(fmt.Sprintf("Failed to store OTP secret: %v", err))
				os.Exit(1)
			}

			slog.Info(fmt.Sprintf("Credentials stored securely for '%s'", username))
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:     "delete",
		Aliases: []string{"del", "remove", "rm"},
		Short:   "Delete the stored credentials",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireEndpoint(); err != nil {
				return err
			}
			username := cfg.VPN.Username

			store, err := keyring.Open()
			if err != nil {
				slog.Error(fmt.Sprintf("Failed to open system keyring: %v", err))
				os.Exit(1)
			}
			if err := store.Delete(username); err != nil {
				slog.Error(fmt.Sprintf("Failed to delete credentials: %v", err))
				os.Exit(1)
			}

			slog.Info(fmt.Sprintf("Credentials deleted for '%s'", username))
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show whether credentials are stored and the current OTP code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireEndpoint(); err != nil {
				return err
			}
			username := cfg.VPN.Username

			store, err := keyring.Open()
			if err != nil {
				slog.Error(fmt.Sprintf("Failed to open system keyring: %v", err))
				os.Exit(1)
			}
			if !store.HasCredentials(username) {
				slog.Warn(fmt.Sprintf("No credentials stored for '%s'. Use 'akon credentials set'.", username))
				return nil
			}

			secret, err := store.OTPSecret(username)
			if err != nil {
				slog.Error(fmt.Sprintf("Failed to read OTP secret: %v", err))
				os.Exit(1)
			}
			code, err := auth.GenerateCode(secret)
			if err != nil {
				slog.Error(fmt.Sprintf("Failed to generate OTP code: %v", err))
				os.Exit(1)
			}

			fmt.Printf("Credentials stored for '%s'\n", username)
			fmt.Printf("Current OTP code: %s\n", code)
			return nil
		},
	}

	credentialsCmd.AddCommand(setCmd, deleteCmd, showCmd)
	return credentialsCmd
}

// promptSecret reads a line from the terminal without echoing it.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}
