package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"go.akon.dev/akon/internal/daemon"
	"go.akon.dev/akon/internal/db"
)

func NewHistoryCommand() *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded connection events and health checks",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			format, _ := cmd.Flags().GetString("format")
			limit, _ := cmd.Flags().GetInt("limit")

			response, err := daemon.SendCommand("HISTORY " + strconv.Itoa(limit))
			if err != nil {
				slog.Error("Daemon is not running.")
				os.Exit(1)
			}

			if response.Data == nil {
				response.LogMessages()
				return
			}

			jsonBytes, _ := json.Marshal(response.Data)
			var history daemon.DaemonHistory
			if err := json.Unmarshal(jsonBytes, &history); err != nil {
				slog.Error(fmt.Sprintf("Unexpected history payload: %v", err))
				os.Exit(1)
			}

			switch format {
			case "text":
				printHistory(history)
			case "json":
				fmt.Println(string(jsonBytes))
			default:
				slog.Error("unknown format")
				os.Exit(1)
			}
		},
	}
	historyCmd.Flags().StringP("format", "F", "text", "Format to use (text/json)")
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum entries per section")

	return historyCmd
}

func printHistory(history daemon.DaemonHistory) {
	if len(history.Events) == 0 && len(history.HealthChecks) == 0 && len(history.DaemonEvents) == 0 {
		fmt.Println("No recorded history.")
		return
	}

	if len(history.Events) > 0 {
		fmt.Println("Connection events:")
		for _, ev := range history.Events {
			printEvent(ev)
		}
	}
	if len(history.SessionEvents) > 0 {
		fmt.Println("Current session:")
		for _, ev := range history.SessionEvents {
			printEvent(ev)
		}
	}
	if len(history.HealthChecks) > 0 {
		fmt.Println("Health checks:")
		for _, check := range history.HealthChecks {
			outcome := "ok"
			if !check.Success {
				outcome = "failed"
				if check.Error != "" {
					outcome = "failed: " + check.Error
				}
			}
			fmt.Printf("  %s  %s (%s)\n",
				check.Timestamp.Format(time.RFC3339), outcome, check.Duration.Round(time.Millisecond))
		}
	}
	if len(history.DaemonEvents) > 0 {
		fmt.Println("Daemon events:")
		for _, ev := range history.DaemonEvents {
			detail := ev.EventType
			if ev.Details != "" {
				detail += " (" + ev.Details + ")"
			}
			fmt.Printf("  %s  %s\n", ev.Timestamp.Format(time.RFC3339), detail)
		}
	}
}

func printEvent(ev db.ConnectionEvent) {
	detail := ev.EventType
	if ev.Details != "" {
		detail += " (" + ev.Details + ")"
	}
	fmt.Printf("  %s  %s\n", ev.Timestamp.Format(time.RFC3339), detail)
}
