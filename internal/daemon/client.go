package daemon

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"time"

	"go.akon.dev/akon/internal/core"
)

// SendCommand connects to the daemon, sends a command, and returns the
// final response. Progress messages streamed before it are discarded; use
// SendCommandWithProgress to observe them.
func SendCommand(command string) (Response, error) {
	return SendCommandWithProgress(command, nil)
}

// SendCommandWithProgress sends a command and invokes onProgress for each
// interim message the daemon streams before the final response.
func SendCommandWithProgress(command string, onProgress func(ResponseMessage)) (Response, error) {
	response := Response{}

	conn, err := net.Dial("unix", core.SocketPath())
	if err != nil {
		return response, err
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(command + "\n")); err != nil {
		return response, fmt.Errorf("failed to send command to daemon: %w", err)
	}

	// The daemon writes zero or more ResponseMessage lines followed by the
	// final Response. Only the final line carries a "messages" array.
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var probe struct {
			Messages []ResponseMessage `json:"messages"`
			Message  *string           `json:"message"`
		}
		if err := json.Unmarshal(line, &probe); err != nil {
			return response, fmt.Errorf("failed to parse response from daemon: %w", err)
		}

		if probe.Message != nil && probe.Messages == nil {
			if onProgress != nil {
				var msg ResponseMessage
				json.Unmarshal(line, &msg)
				onProgress(msg)
			}
			continue
		}

		if err := json.Unmarshal(line, &response); err != nil {
			return response, fmt.Errorf("failed to parse response from daemon: %w", err)
		}
		return response, nil
	}
	if err := scanner.Err(); err != nil {
		return response, fmt.Errorf("failed to read response from daemon: %w", err)
	}

	return response, fmt.Errorf("connection closed before daemon responded")
}

// EnsureDaemonIsRunning handles the auto-start logic.
func EnsureDaemonIsRunning() {
	if _, err := SendCommand("STATUS"); err == nil {
		return // Daemon is running
	}

	slog.Info("Daemon not running. Starting it now...")
	cmd := exec.Command(os.Args[0], "internal-daemon-start")
	if err := cmd.Start(); err != nil {
		slog.Error(fmt.Sprintf("Fatal: Could not fork daemon process: %v", err))
		os.Exit(1)
	}
	slog.Info(fmt.Sprintf("Daemon process launched with PID: %d", cmd.Process.Pid))

	// Wait for the daemon to create the socket
	for i := 0; i < 20; i++ {
		time.Sleep(100 * time.Millisecond)
		if _, err := os.Stat(core.SocketPath()); err == nil {
			slog.Info("Daemon is ready.")
			return
		}
	}
	slog.Error("Fatal: Daemon process was launched but socket was not created in time.")
	os.Exit(1)
}
