package daemon

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"go.akon.dev/akon/internal/core"
	"go.akon.dev/akon/internal/db"
	"go.akon.dev/akon/internal/vpn"
)

// testCreds satisfies auth.CredentialStore with fixed test credentials.
type testCreds struct{}

func (testCreds) PIN(username string) (string, error) { return "1234", nil }

func (testCreds) OTPSecret(username string) (string, error) {
	// "1234567890" in base32
	return "GEZDGNBVGY3TQOJQ", nil
}

// writeStubClient writes an executable shell script that stands in for the
// tunnel client binary.
func writeStubClient(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stub-client")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("failed to write stub client: %v", err)
	}
	return path
}

var connectedStub = `read password
echo "POST https://vpn.example.com/my.policy"
echo "Connected tun0 as 10.0.1.100"
echo "Configured as 10.10.62.228, with SSL connected and DTLS disabled"
exec sleep 30`

func newTestDaemon(t *testing.T, mutate func(*core.Config)) *Daemon {
	t.Helper()
	t.Setenv("AKON_CONFIG_DIR", t.TempDir())

	cfg := core.DefaultConfig()
	cfg.ConfigPath = core.BaseDir()
	cfg.VPN.Server = "vpn.example.com"
	cfg.VPN.Username = "user"
	cfg.VPN.Mode = vpn.ModeForeground
	cfg.ReconnectEnabled = false
	if mutate != nil {
		mutate(cfg)
	}

	d := New(cfg, testCreds{})
	go d.manager.Run(d.ctx)

	t.Cleanup(func() {
		if d.supervisor.IsRunning() {
			d.supervisor.Disconnect()
		}
		d.cancelFunc()
		select {
		case <-d.manager.Done():
		case <-time.After(5 * time.Second):
			t.Error("manager did not shut down")
		}
	})
	return d
}

// startSocket serves the daemon's command protocol on the real socket path
// so tests exercise the same client code the CLI uses.
func startSocket(t *testing.T, d *Daemon) {
	t.Helper()
	listener, err := net.Listen("unix", core.SocketPath())
	if err != nil {
		t.Fatalf("failed to listen on socket: %v", err)
	}
	d.listener = listener

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go d.handleConnection(conn)
		}
	}()

	t.Cleanup(func() { listener.Close() })
}

func waitForManagerPhase(t *testing.T, d *Daemon, phase vpn.Phase) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if d.manager.State().Phase == phase {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("manager phase never became %q (currently %q)", phase, d.manager.State().Phase)
}

func firstMessage(t *testing.T, r Response) ResponseMessage {
	t.Helper()
	if len(r.Messages) == 0 {
		t.Fatal("response has no messages")
	}
	return r.Messages[0]
}

func TestStatusReportsDisconnected(t *testing.T) {
	d := newTestDaemon(t, nil)
	startSocket(t, d)

	response, err := SendCommand("STATUS")
	if err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	if msg := firstMessage(t, response); msg.Status != "INFO" {
		t.Errorf("status = %q, want INFO", msg.Status)
	}

	raw, _ := json.Marshal(response.Data)
	var status DaemonStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		t.Fatalf("failed to parse status payload: %v", err)
	}
	if status.State.Phase != vpn.PhaseDisconnected {
		t.Errorf("phase = %q, want disconnected", status.State.Phase)
	}
	if status.Server != "vpn.example.com" {
		t.Errorf("server = %q, want vpn.example.com", status.Server)
	}
}

func TestUnknownCommand(t *testing.T) {
	d := newTestDaemon(t, nil)
	startSocket(t, d)

	response, err := SendCommand("FROBNICATE")
	if err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	msg := firstMessage(t, response)
	if msg.Status != "ERROR" {
		t.Errorf("status = %q, want ERROR", msg.Status)
	}
	if !strings.Contains(msg.Message, "Unknown command") {
		t.Errorf("message = %q, want unknown-command error", msg.Message)
	}
}

func TestDisconnectWithoutSession(t *testing.T) {
	d := newTestDaemon(t, nil)
	startSocket(t, d)

	response, err := SendCommand("DISCONNECT")
	if err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	msg := firstMessage(t, response)
	if msg.Status != "WARN" || msg.Message != "Not connected" {
		t.Errorf("got %q/%q, want WARN/Not connected", msg.Status, msg.Message)
	}
}

func TestResetCommand(t *testing.T) {
	d := newTestDaemon(t, nil)
	startSocket(t, d)

	response, err := SendCommand("RESET")
	if err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	if msg := firstMessage(t, response); !strings.Contains(msg.Message, "Retry counters reset") {
		t.Errorf("message = %q, want retry reset confirmation", msg.Message)
	}
}

func TestVersionCommand(t *testing.T) {
	d := newTestDaemon(t, nil)
	startSocket(t, d)

	response, err := SendCommand("VERSION")
	if err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	data, ok := response.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("version data has unexpected shape: %T", response.Data)
	}
	if _, ok := data["version"]; !ok {
		t.Error("version payload missing version field")
	}
	if _, ok := data["pid"]; !ok {
		t.Error("version payload missing pid field")
	}
}

func TestConnectStreamsProgressAndConnects(t *testing.T) {
	binary := writeStubClient(t, connectedStub)
	d := newTestDaemon(t, func(cfg *core.Config) {
		cfg.VPN.Binary = binary
	})
	startSocket(t, d)

	var progress []ResponseMessage
	response, err := SendCommandWithProgress("CONNECT", func(msg ResponseMessage) {
		progress = append(progress, msg)
	})
	if err != nil {
		t.Fatalf("SendCommandWithProgress failed: %v", err)
	}

	msg := firstMessage(t, response)
	if msg.Status != "INFO" || !strings.Contains(msg.Message, "Connected to vpn.example.com") {
		t.Fatalf("got %q/%q, want connected confirmation", msg.Status, msg.Message)
	}

	if len(progress) == 0 {
		t.Fatal("expected streamed progress messages")
	}
	if !strings.Contains(progress[0].Message, "Connecting to vpn.example.com") {
		t.Errorf("first progress message = %q", progress[0].Message)
	}
	var sawDevice bool
	for _, p := range progress {
		if strings.Contains(p.Message, "configured with address") {
			sawDevice = true
		}
	}
	if !sawDevice {
		t.Errorf("no device-configured progress in %v", progress)
	}

	waitForManagerPhase(t, d, vpn.PhaseConnected)
	if !d.supervisor.IsRunning() {
		t.Error("expected tunnel process to be running")
	}
}

func TestConnectWhileConnectedWarns(t *testing.T) {
	binary := writeStubClient(t, connectedStub)
	d := newTestDaemon(t, func(cfg *core.Config) {
		cfg.VPN.Binary = binary
	})
	startSocket(t, d)

	if _, err := SendCommand("CONNECT"); err != nil {
		t.Fatalf("first CONNECT failed: %v", err)
	}
	waitForManagerPhase(t, d, vpn.PhaseConnected)

	response, err := SendCommand("CONNECT")
	if err != nil {
		t.Fatalf("second CONNECT failed: %v", err)
	}
	msg := firstMessage(t, response)
	if msg.Status != "WARN" || !strings.Contains(msg.Message, "Already connected") {
		t.Errorf("got %q/%q, want WARN/Already connected", msg.Status, msg.Message)
	}
}

func TestConnectFailureCarriesErrorKind(t *testing.T) {
	binary := writeStubClient(t, `read password
echo "Failed to authenticate to server" >&2
exit 1`)
	d := newTestDaemon(t, func(cfg *core.Config) {
		cfg.VPN.Binary = binary
	})
	startSocket(t, d)

	response, err := SendCommand("CONNECT")
	if err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	msg := firstMessage(t, response)
	if msg.Status != "ERROR" {
		t.Fatalf("status = %q, want ERROR", msg.Status)
	}

	data, ok := response.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("error data has unexpected shape: %T", response.Data)
	}
	if kind := data["error_kind"]; kind != "auth_failed" {
		t.Errorf("error_kind = %v, want auth_failed", kind)
	}
}

func TestConnectThenDisconnect(t *testing.T) {
	binary := writeStubClient(t, connectedStub)
	d := newTestDaemon(t, func(cfg *core.Config) {
		cfg.VPN.Binary = binary
	})
	startSocket(t, d)

	if _, err := SendCommand("CONNECT"); err != nil {
		t.Fatalf("CONNECT failed: %v", err)
	}
	waitForManagerPhase(t, d, vpn.PhaseConnected)

	response, err := SendCommand("DISCONNECT")
	if err != nil {
		t.Fatalf("DISCONNECT failed: %v", err)
	}
	msg := firstMessage(t, response)
	if msg.Status != "INFO" || !strings.Contains(msg.Message, "Disconnected from vpn.example.com") {
		t.Errorf("got %q/%q, want disconnect confirmation", msg.Status, msg.Message)
	}

	waitForManagerPhase(t, d, vpn.PhaseDisconnected)
	if d.supervisor.IsRunning() {
		t.Error("tunnel process still running after disconnect")
	}
}

func TestHealthCheckCommandPasses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := newTestDaemon(t, func(cfg *core.Config) {
		cfg.Policy.HealthCheckEndpoint = srv.URL
	})
	startSocket(t, d)

	response, err := SendCommand("CHECK")
	if err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	msg := firstMessage(t, response)
	if msg.Status != "INFO" || !strings.Contains(msg.Message, "Health check passed") {
		t.Errorf("got %q/%q, want pass confirmation", msg.Status, msg.Message)
	}
}

func TestHealthCheckCommandFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := newTestDaemon(t, func(cfg *core.Config) {
		cfg.Policy.HealthCheckEndpoint = srv.URL
	})
	startSocket(t, d)

	response, err := SendCommand("CHECK")
	if err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	msg := firstMessage(t, response)
	if msg.Status != "ERROR" || !strings.Contains(msg.Message, "Health check failed") {
		t.Errorf("got %q/%q, want failure report", msg.Status, msg.Message)
	}
}

func TestCleanupCommandNoOrphans(t *testing.T) {
	// The stub binary name is unique to this test's temp dir, so the
	// process table cannot contain a match.
	binary := writeStubClient(t, "exit 0")
	d := newTestDaemon(t, func(cfg *core.Config) {
		cfg.VPN.Binary = binary
	})
	startSocket(t, d)

	response, err := SendCommand("CLEANUP")
	if err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	msg := firstMessage(t, response)
	if msg.Status != "INFO" || !strings.Contains(msg.Message, "No orphaned tunnel processes") {
		t.Errorf("got %q/%q, want no-orphans report", msg.Status, msg.Message)
	}
}

func TestStopDaemonResponse(t *testing.T) {
	d := newTestDaemon(t, nil)

	response := d.stopDaemon()
	if msg := firstMessage(t, response); !strings.Contains(msg.Message, "Stopping daemon") {
		t.Errorf("message = %q, want stopping confirmation", msg.Message)
	}
}

func TestLogsCommandStreams(t *testing.T) {
	d := newTestDaemon(t, nil)
	startSocket(t, d)

	conn, err := net.Dial("unix", core.SocketPath())
	if err != nil {
		t.Fatalf("failed to dial socket: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("LOGS 5\n")); err != nil {
		t.Fatalf("failed to send LOGS: %v", err)
	}

	// Give the handler a moment to subscribe before broadcasting
	time.Sleep(100 * time.Millisecond)
	d.logBroadcast.Broadcast("tunnel event for logs test\n")

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 4096)
	var got string
	for !strings.Contains(got, "tunnel event for logs test") {
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("read failed before broadcast arrived: %v (got %q)", err, got)
		}
		got += string(buf[:n])
	}

	if !strings.Contains(got, "Connected to akon daemon logs") {
		t.Errorf("missing greeting in %q", got)
	}
}

func TestHealthCheckFailureReportsReachability(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := newTestDaemon(t, func(cfg *core.Config) {
		cfg.Policy.HealthCheckEndpoint = srv.URL
	})
	startSocket(t, d)

	response, err := SendCommand("CHECK")
	if err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	if len(response.Messages) < 2 {
		t.Fatalf("expected a diagnosis after the failure, got %v", response.Messages)
	}
	if diag := response.Messages[1]; !strings.Contains(diag.Message, "reachable but unhealthy") {
		t.Errorf("diagnosis = %q, want reachable-but-unhealthy", diag.Message)
	}
}

func TestConcurrentConnectSpawnsSingleClient(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "pids")
	binary := writeStubClient(t, fmt.Sprintf(`read password
echo "POST https://vpn.example.com/my.policy"
echo "Connected tun0 as 10.0.1.100"
echo "Configured as 10.10.62.228, with SSL connected and DTLS disabled"
echo "$$" >> %q
exec sleep 30`, pidFile))
	d := newTestDaemon(t, func(cfg *core.Config) {
		cfg.VPN.Binary = binary
	})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.establishTunnel(d.ctx)
		}()
	}
	wg.Wait()

	raw, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("no client was spawned: %v", err)
	}
	alive := 0
	for _, line := range strings.Fields(string(raw)) {
		var pid int
		if _, err := fmt.Sscanf(line, "%d", &pid); err != nil {
			continue
		}
		if unix.Kill(pid, 0) == nil {
			alive++
		}
	}
	if alive != 1 {
		t.Errorf("alive clients = %d, want exactly 1", alive)
	}
	if !d.supervisor.IsRunning() {
		t.Error("supervisor lost track of the surviving client")
	}
}

func TestReloadConfigWhileStatusQueried(t *testing.T) {
	d := newTestDaemon(t, nil)

	configPath := filepath.Join(d.cfg.ConfigPath, core.ConfigFileName)
	hcl := `
vpn {
  server   = "vpn.example.com"
  username = "user"
}
`
	if err := os.WriteFile(configPath, []byte(hcl), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				d.getStatus()
			}
		}
	}()

	for i := 0; i < 20; i++ {
		if err := d.reloadConfig(); err != nil {
			t.Errorf("reloadConfig failed: %v", err)
			break
		}
	}
	close(stop)
	wg.Wait()

	if d.config().VPN.Server != "vpn.example.com" {
		t.Errorf("server = %q after reloads", d.config().VPN.Server)
	}
}

func TestHistoryCommand(t *testing.T) {
	d := newTestDaemon(t, nil)
	startSocket(t, d)

	database, err := db.Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	d.database = database

	if err := database.LogConnectionEvent("session-1", "connected", "tun0"); err != nil {
		t.Fatalf("failed to log event: %v", err)
	}
	if err := database.LogHealthCheck(true, 42*time.Millisecond, ""); err != nil {
		t.Fatalf("failed to log health check: %v", err)
	}
	if err := database.LogDaemonEvent("start", ""); err != nil {
		t.Fatalf("failed to log daemon event: %v", err)
	}

	response, err := SendCommand("HISTORY 10")
	if err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}

	raw, _ := json.Marshal(response.Data)
	var history DaemonHistory
	if err := json.Unmarshal(raw, &history); err != nil {
		t.Fatalf("failed to parse history payload: %v", err)
	}
	if len(history.Events) != 1 || history.Events[0].EventType != "connected" {
		t.Errorf("events = %v, want one connected event", history.Events)
	}
	if len(history.HealthChecks) != 1 || !history.HealthChecks[0].Success {
		t.Errorf("health checks = %v, want one successful check", history.HealthChecks)
	}
	if len(history.DaemonEvents) != 1 || history.DaemonEvents[0].EventType != "start" {
		t.Errorf("daemon events = %v, want one start event", history.DaemonEvents)
	}
}

func TestHistoryWithoutDatabase(t *testing.T) {
	d := newTestDaemon(t, nil)
	startSocket(t, d)

	response, err := SendCommand("HISTORY")
	if err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	msg := firstMessage(t, response)
	if msg.Status != "WARN" || !strings.Contains(msg.Message, "History unavailable") {
		t.Errorf("got %q/%q, want WARN/History unavailable", msg.Status, msg.Message)
	}
}

func TestReloadConfigAppliesPolicy(t *testing.T) {
	d := newTestDaemon(t, nil)

	configPath := filepath.Join(d.cfg.ConfigPath, core.ConfigFileName)
	hcl := `
vpn {
  server   = "vpn2.example.com"
  username = "user2"
}

reconnect {
  max_attempts = 3
}
`
	if err := os.WriteFile(configPath, []byte(hcl), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if err := d.reloadConfig(); err != nil {
		t.Fatalf("reloadConfig failed: %v", err)
	}
	if d.cfg.VPN.Server != "vpn2.example.com" {
		t.Errorf("server = %q, want vpn2.example.com", d.cfg.VPN.Server)
	}
	if d.cfg.Policy.MaxAttempts != 3 {
		t.Errorf("max_attempts = %d, want 3", d.cfg.Policy.MaxAttempts)
	}
}

func TestReloadConfigRejectsInvalid(t *testing.T) {
	d := newTestDaemon(t, nil)
	oldServer := d.cfg.VPN.Server

	configPath := filepath.Join(d.cfg.ConfigPath, core.ConfigFileName)
	if err := os.WriteFile(configPath, []byte("vpn {"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if err := d.reloadConfig(); err == nil {
		t.Fatal("expected reload of broken config to fail")
	}
	if d.cfg.VPN.Server != oldServer {
		t.Errorf("config was replaced despite parse failure")
	}
}
