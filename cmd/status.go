package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"go.akon.dev/akon/internal/core"
	"go.akon.dev/akon/internal/daemon"
	"go.akon.dev/akon/internal/vpn"
)

func NewStatusCommand() *cobra.Command {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current VPN connection state",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			format, _ := cmd.Flags().GetString("format")

			response, err := daemon.SendCommand("STATUS")
			if err != nil {
				// Daemon not running: fall back to the status snapshot so
				// the command still works without IPC
				printSnapshotStatus(format)
				return
			}

			jsonBytes, _ := json.Marshal(response.Data)
			var status daemon.DaemonStatus
			if err := json.Unmarshal(jsonBytes, &status); err != nil {
				slog.Error(fmt.Sprintf("Unexpected status payload: %v", err))
				os.Exit(1)
			}

			switch format {
			case "text":
				printState(status.State, status.Pid, status.Uptime)
			case "json":
				fmt.Println(string(jsonBytes))
			default:
				slog.Error("unknown format")
				os.Exit(1)
			}
		},
	}
	statusCmd.Flags().StringP("format", "F", "text", "Format to use (text/json)")

	return statusCmd
}

func printSnapshotStatus(format string) {
	snapshot, err := vpn.LoadSnapshot(core.StatusPath())
	if err != nil || snapshot == nil {
		if format == "json" {
			fmt.Println(`{"state":{"phase":"disconnected"}}`)
			return
		}
		fmt.Println("Disconnected (daemon is not running)")
		return
	}

	if format == "json" {
		jsonBytes, _ := json.Marshal(snapshot)
		fmt.Println(string(jsonBytes))
		return
	}

	fmt.Printf("Last known state (daemon not running, as of %s):\n",
		snapshot.Timestamp.Format(time.RFC3339))
	printState(snapshot.State, snapshot.PID, snapshot.Uptime)
}

func printState(state vpn.ConnectionState, pid int, uptime string) {
	fmt.Printf("State: %s\n", state)
	if state.Server != "" {
		fmt.Printf("Server: %s\n", state.Server)
	}
	if pid > 0 {
		fmt.Printf("PID: %d\n", pid)
	}
	if uptime != "" {
		fmt.Printf("Uptime: %s\n", uptime)
	}
	if state.Phase == vpn.PhaseReconnecting && !state.NextRetryAt.IsZero() {
		fmt.Printf("Next retry: %s (attempt %d/%d)\n",
			state.NextRetryAt.Format(time.Kitchen), state.Attempt, state.MaxAttempts)
	}
	if state.Message != "" {
		fmt.Printf("Detail: %s\n", state.Message)
	}
}
