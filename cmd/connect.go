package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"go.akon.dev/akon/internal/daemon"
	"go.akon.dev/akon/internal/vpn"
)

func NewConnectCommand() *cobra.Command {
	connectCmd := &cobra.Command{
		Use:     "connect",
		Aliases: []string{"c"},
		Short:   "Connect to the VPN",
		Long:    `Connect to the configured VPN endpoint`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireEndpoint(); err != nil {
				return err
			}

			daemon.EnsureDaemonIsRunning()
			response, err := daemon.SendCommandWithProgress("CONNECT", func(msg daemon.ResponseMessage) {
				fmt.Println(msg.Message)
			})
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			response.LogMessages()

			if kind := errorKindFrom(response); kind != "" {
				if suggestion := suggestionFor(kind); suggestion != "" {
					fmt.Fprintln(os.Stderr, suggestion)
				}
				os.Exit(1)
			}
			return nil
		},
	}

	return connectCmd
}

// errorKindFrom digs the classified error kind out of a failed response.
func errorKindFrom(response daemon.Response) vpn.ErrorKind {
	data, ok := response.Data.(map[string]interface{})
	if !ok {
		return ""
	}
	kind, _ := data["error_kind"].(string)
	return vpn.ErrorKind(kind)
}

// suggestionFor maps a classified connection failure to a next step the
// user can actually take.
func suggestionFor(kind vpn.ErrorKind) string {
	switch kind {
	case vpn.ErrorAuthFailed:
		return "Authentication failed. Verify your PIN and OTP secret with 'akon credentials set'."
	case vpn.ErrorTLS:
		return "TLS handshake failed. Check your network connection and any proxy settings."
	case vpn.ErrorCertificate:
		return "The server certificate could not be verified. Contact your VPN administrator."
	case vpn.ErrorTunDevice:
		return "Could not open the tun device. Check that the tun kernel module is loaded and you have sufficient privileges."
	case vpn.ErrorDNS:
		return "Could not resolve the VPN server. Check the server name in your config and your DNS settings."
	case vpn.ErrorSpawn:
		return "Could not launch the tunnel client. Is openconnect installed and on your PATH?"
	case vpn.ErrorTimeout:
		return "Timed out waiting for the session. The server may be unreachable from this network."
	}
	return ""
}
