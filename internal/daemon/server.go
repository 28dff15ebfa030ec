package daemon

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"go.akon.dev/akon/internal/auth"
	"go.akon.dev/akon/internal/core"
	"go.akon.dev/akon/internal/db"
	"go.akon.dev/akon/internal/netmon"
	"go.akon.dev/akon/internal/vpn"
)

// Daemon owns the VPN tunnel lifecycle: it supervises the tunnel client,
// runs the reconnection manager, and serves CLI commands over a unix socket.
type Daemon struct {
	cfg   *core.Config
	creds auth.CredentialStore

	supervisor *vpn.Supervisor
	manager    *vpn.Manager
	checker    *vpn.HealthChecker
	database   *db.DB

	logBroadcast *LogBroadcaster
	listener     net.Listener
	shutdownOnce sync.Once
	ctx          context.Context
	cancelFunc   context.CancelFunc

	// tunnelMu serializes establishTunnel so a user connect and an
	// automatic reconnection attempt can never spawn two clients.
	tunnelMu sync.Mutex

	mu        sync.Mutex
	sessionID string             // uuid of the current connect session
	stream    *StreamingResponse // progress sink during an interactive connect
}

// config returns the live configuration. Reloads swap the pointer under
// d.mu, so callers take one snapshot instead of re-reading d.cfg.
func (d *Daemon) config() *core.Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// healthChecker returns the live checker, which reloads also replace.
func (d *Daemon) healthChecker() *vpn.HealthChecker {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.checker
}

func New(cfg *core.Config, creds auth.CredentialStore) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		cfg:          cfg,
		creds:        creds,
		logBroadcast: NewLogBroadcaster(1000),
		ctx:          ctx,
		cancelFunc:   cancel,
	}

	d.supervisor = vpn.NewSupervisor(vpn.SupervisorConfig{
		Binary:   cfg.VPN.Binary,
		Protocol: cfg.VPN.Protocol,
		Server:   cfg.VPN.Server,
		Port:     cfg.VPN.Port,
		Username: cfg.VPN.Username,
		Mode:     cfg.VPN.Mode,
	})
	d.supervisor.Subscribe(d.onConnectionEvent)

	d.checker = vpn.NewHealthChecker(cfg.Policy.HealthCheckEndpoint, cfg.Policy.HealthTimeout())

	d.manager = vpn.NewManager(vpn.ManagerConfig{
		Policy:       cfg.Policy,
		SnapshotPath: core.StatusPath(),
		PIDSource:    d.supervisor.PID,
	}, &tunnelConnector{d: d}, &loggingProber{d: d})

	return d
}

// tunnelConnector adapts the daemon's supervisor and credential store to the
// reconnection manager. Each attempt generates a fresh one-time password so
// the OTP is never stale.
type tunnelConnector struct {
	d *Daemon
}

func (c *tunnelConnector) Reconnect(ctx context.Context) (*vpn.ConnectResult, error) {
	return c.d.establishTunnel(ctx)
}

func (c *tunnelConnector) Cleanup(ctx context.Context) error {
	if !c.d.supervisor.IsRunning() {
		return nil
	}
	return c.d.supervisor.Disconnect()
}

// loggingProber wraps the health checker so every probe lands in the
// database with its latency.
type loggingProber struct {
	d *Daemon
}

func (p *loggingProber) Check(ctx context.Context) error {
	start := time.Now()
	err := p.d.healthChecker().Check(ctx)
	duration := time.Since(start)

	if p.d.database != nil {
		probeErr := ""
		if err != nil {
			probeErr = err.Error()
		}
		if logErr := p.d.database.LogHealthCheck(err == nil, duration, probeErr); logErr != nil {
			slog.Debug("Failed to log health check", "error", logErr)
		}
	}
	return err
}

// Run starts the daemon's main loop.
func (d *Daemon) Run() {
	// Setup custom logger that broadcasts to connected clients
	d.setupLogging()

	// Initialize database
	dbPath := core.DatabasePath()
	database, err := db.Open(dbPath)
	if err != nil {
		slog.Error("Failed to open database", "error", err, "path", dbPath)
	} else {
		d.database = database
		// Closed explicitly in shutdown(), after the final events are logged
		slog.Info("Database opened", "path", dbPath)

		version := core.FormatVersion(core.Version)
		if err := d.database.LogDaemonEvent("start", fmt.Sprintf("daemon started - version: %s, PID: %d", version, os.Getpid())); err != nil {
			slog.Error("Failed to log daemon start", "error", err)
		}
	}

	// Setup PID and socket files and ensure they are cleaned up on exit.
	socketPath := core.SocketPath()
	pidFilePath := core.PIDFilePath()

	// Try to create the socket listener
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		// Socket creation failed - this could be due to a stale socket file
		if _, statErr := os.Stat(socketPath); statErr == nil {
			// Socket file exists, try to connect to it to see if daemon is actually running
			conn, dialErr := net.Dial("unix", socketPath)
			if dialErr == nil {
				// Successfully connected, daemon is running
				conn.Close()
				slog.Error("Fatal: Daemon is already running")
				os.Exit(1)
			}
			// Connection failed, socket file is stale - remove it
			slog.Info(fmt.Sprintf("Removing stale socket file: %s", socketPath))
			if removeErr := os.Remove(socketPath); removeErr != nil {
				slog.Error(fmt.Sprintf("Fatal: Could not remove stale socket: %v", removeErr))
				os.Exit(1)
			}
			// Try to create listener again
			listener, err = net.Listen("unix", socketPath)
		}
		if err != nil {
			slog.Error(fmt.Sprintf("Fatal: Could not create socket listener: %v", err))
			os.Exit(1)
		}
	}

	os.WriteFile(pidFilePath, []byte(strconv.Itoa(os.Getpid())), 0o644)
	defer os.Remove(pidFilePath)
	defer os.Remove(socketPath)

	d.listener = listener
	slog.Info(fmt.Sprintf("Daemon listening on %s", socketPath))

	// Clean up tunnel clients left behind by a previous daemon instance.
	// Must happen before anything can start a new connection, so orphans
	// never race a fresh session for the tun device.
	if killed, err := d.supervisor.CleanupOrphans(); err != nil {
		slog.Warn("Orphan cleanup failed", "error", err)
	} else if killed > 0 {
		slog.Info("Cleaned up orphaned tunnel processes from previous daemon", "count", killed)
	}

	// Start the reconnection manager's event loop
	go d.manager.Run(d.ctx)

	// Feed network and power transitions into the manager
	monitor := netmon.New(d.manager.NotifyNetwork, slog.Default())
	monitor.Start(d.ctx)

	// Watch config file for changes
	d.watchConfig()

	// Handle signals
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGTERM, syscall.SIGINT)

	// Graceful shutdown on SIGTERM/SIGINT
	go func() {
		<-shutdownChan
		slog.Info("Shutdown signal received. Disconnecting tunnel.")
		d.shutdown()
		if d.listener != nil {
			d.listener.Close()
		}
		os.Exit(0)
	}()

	// Accept connections in a loop
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			if !strings.Contains(err.Error(), "use of closed network connection") {
				slog.Info(fmt.Sprintf("Error accepting connection: %v", err))
			}
			break
		}
		go d.handleConnection(conn)
	}
}

func (d *Daemon) handleConnection(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return
	}

	parts := strings.Fields(scanner.Text())
	if len(parts) == 0 {
		return
	}
	command, args := parts[0], parts[1:]

	// Log the command execution (skip VERSION as it's automatic)
	if command != "VERSION" {
		if len(args) > 0 {
			slog.Info(fmt.Sprintf("Executing command: %s %v", command, args))
		} else {
			slog.Info(fmt.Sprintf("Executing command: %s", command))
		}
	}

	var response Response
	switch command {
	case "CONNECT":
		// Stream progress messages as the tunnel client reports them
		stream := NewStreamingResponse(conn)
		response = d.handleConnect(stream)
	case "DISCONNECT":
		response = d.handleDisconnect()
	case "STATUS":
		response = d.getStatus()
	case "VERSION":
		response = d.getVersion()
	case "RESET":
		response = d.resetRetries()
	case "CHECK":
		response = d.runHealthCheck()
	case "CLEANUP":
		response = d.cleanupOrphans()
	case "HISTORY":
		limit := 20
		if len(args) >= 1 {
			if n, err := strconv.Atoi(args[0]); err == nil && n > 0 {
				limit = n
			}
		}
		response = d.getHistory(limit)
	case "LOGS":
		// Handle log streaming - don't send JSON response, just stream logs
		if len(args) == 0 {
			d.handleLogs(conn)
			return
		}
		// Parse optional lines count and no_history flag
		historyLines := 20 // default
		showHistory := true
		if n, err := strconv.Atoi(args[0]); err == nil {
			historyLines = n
		}
		// Check for no_history flag (in 1st or 2nd position)
		if args[0] == "no_history" || (len(args) >= 2 && args[1] == "no_history") {
			showHistory = false
		}
		d.handleLogsWithHistory(conn, showHistory, historyLines)
		return // Don't send JSON response
	case "STOP":
		response = d.stopDaemon()
		// Send response before shutting down
		conn.Write([]byte(response.ToJSON()))
		slog.Info("Stop command received. Shutting down daemon.")
		d.shutdown()
		// Close listener to unblock Accept() loop and allow clean exit
		if d.listener != nil {
			d.listener.Close()
		}
		os.Exit(0)
	default:
		response.AddMessage(fmt.Sprintf("Unknown command: %s", command), "ERROR")
	}

	conn.Write([]byte(response.ToJSON()))
}

// handleConnect establishes a new tunnel session on user request. Progress
// is streamed to the client while the tunnel client authenticates.
func (d *Daemon) handleConnect(stream *StreamingResponse) Response {
	response := Response{}
	cfg := d.config()

	if d.supervisor.IsRunning() {
		response.AddMessage(fmt.Sprintf("Already connected to %s", cfg.VPN.Server), "WARN")
		return response
	}

	d.mu.Lock()
	d.stream = stream
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.stream = nil
		d.mu.Unlock()
	}()

	stream.WriteMessage(fmt.Sprintf("Connecting to %s as %s...", cfg.VPN.Server, cfg.VPN.Username), "INFO")

	// Entering Connecting also supersedes any in-flight automatic attempt,
	// so the user's connect owns the tunnel from here on.
	d.manager.SetConnecting(cfg.VPN.Server, cfg.VPN.Username)

	result, err := d.establishTunnel(d.ctx)
	if err != nil {
		slog.Error("Connect failed", "error", err)
		d.manager.SetDisconnected()
		if kind := vpn.ErrorKindOf(err); kind != "" {
			response.AddData(map[string]interface{}{"error_kind": string(kind)})
		}
		response.AddMessage(fmt.Sprintf("Connection failed: %v", err), "ERROR")
		return response
	}

	d.manager.SetConnected(vpn.SessionInfo{
		Server:   cfg.VPN.Server,
		Username: cfg.VPN.Username,
		Address:  result.Address,
		Device:   result.Device,
	})
	if cfg.ReconnectEnabled {
		d.manager.Start()
	}

	response.AddMessage(fmt.Sprintf("Connected to %s", cfg.VPN.Server), "INFO")
	return response
}

// establishTunnel performs one full connect: tear down anything still
// tracked, generate a fresh PIN+OTP password, and wait for the tunnel
// client to report an established session. Shared by user-initiated
// connects and reconnection attempts.
func (d *Daemon) establishTunnel(ctx context.Context) (*vpn.ConnectResult, error) {
	d.tunnelMu.Lock()
	defer d.tunnelMu.Unlock()

	if d.supervisor.IsRunning() {
		if err := d.supervisor.Disconnect(); err != nil {
			slog.Warn("Failed to stop previous tunnel before reconnect", "error", err)
		}
	}

	d.mu.Lock()
	d.sessionID = uuid.New().String()
	sessionID := d.sessionID
	d.mu.Unlock()

	password, err := auth.GeneratePassword(d.creds, d.config().VPN.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to generate password: %w", err)
	}

	result, err := d.supervisor.Connect(ctx, password)
	if err != nil {
		return nil, err
	}

	slog.Info("Tunnel established",
		"session", sessionID,
		"pid", result.PID,
		"address", result.Address,
		"device", result.Device)
	return result, nil
}

// onConnectionEvent receives every lifecycle event from the supervisor's
// output readers. It must not block.
func (d *Daemon) onConnectionEvent(ev vpn.ConnectionEvent) {
	d.mu.Lock()
	sessionID := d.sessionID
	stream := d.stream
	d.mu.Unlock()

	detail := eventDetails(ev)
	slog.Debug("Connection event", "kind", ev.Kind, "detail", detail)

	if d.database != nil {
		if err := d.database.LogConnectionEvent(sessionID, string(ev.Kind), detail); err != nil {
			slog.Debug("Failed to log connection event", "error", err)
		}
	}

	if stream != nil {
		switch ev.Kind {
		case vpn.EventAuthenticating:
			stream.WriteMessage("Authenticating...", "INFO")
		case vpn.EventSessionEstablished:
			stream.WriteMessage("Session established", "INFO")
		case vpn.EventDeviceConfigured:
			stream.WriteMessage(fmt.Sprintf("Device %s configured with address %s", ev.Device, ev.Address), "INFO")
		}
	}

	switch {
	case ev.Kind == vpn.EventAuthenticating:
		// The manager ignores this outside a user-initiated connect.
		d.manager.SetAuthenticating()
	case ev.Kind == vpn.EventDisconnected && ev.Reason == vpn.DisconnectProcessTerminated:
		d.manager.ConnectionLost()
	}
}

// eventDetails renders an event for the database log.
func eventDetails(ev vpn.ConnectionEvent) string {
	switch ev.Kind {
	case vpn.EventProcessStarted:
		return fmt.Sprintf("pid=%d", ev.PID)
	case vpn.EventDeviceConfigured, vpn.EventConnected:
		return fmt.Sprintf("device=%s address=%s", ev.Device, ev.Address)
	case vpn.EventDisconnected:
		return string(ev.Reason)
	case vpn.EventError:
		return fmt.Sprintf("%s: %s", ev.ErrorKind, ev.RawLine)
	case vpn.EventUnknownOutput:
		return ev.RawLine
	default:
		return ev.Message
	}
}

func (d *Daemon) handleDisconnect() Response {
	response := Response{}

	// Disable recovery first so the manager never races the user's intent
	d.manager.Stop()

	if !d.supervisor.IsRunning() {
		response.AddMessage("Not connected", "WARN")
		return response
	}

	d.manager.SetDisconnecting()
	if err := d.supervisor.Disconnect(); err != nil {
		d.manager.SetDisconnected()
		response.AddMessage(fmt.Sprintf("Failed to disconnect: %v", err), "ERROR")
		return response
	}
	d.manager.SetDisconnected()

	response.AddMessage(fmt.Sprintf("Disconnected from %s", d.config().VPN.Server), "INFO")
	return response
}

// DaemonStatus is the STATUS payload consumed by the CLI.
type DaemonStatus struct {
	State          vpn.ConnectionState `json:"state"`
	Server         string              `json:"server"`
	Pid            int                 `json:"pid,omitempty"`
	Uptime         string              `json:"uptime,omitempty"`
	HealthEndpoint string              `json:"health_endpoint,omitempty"`
}

func (d *Daemon) getStatus() Response {
	response := Response{}

	state := d.manager.State()
	status := DaemonStatus{
		State:          state,
		Server:         d.config().VPN.Server,
		HealthEndpoint: d.healthChecker().Endpoint(),
	}
	if pid := d.supervisor.PID(); pid > 0 {
		status.Pid = pid
	}
	if state.IsConnected() {
		if since := d.supervisor.ConnectedSince(); !since.IsZero() {
			status.Uptime = time.Since(since).Round(time.Second).String()
		}
	}

	response.AddMessage("OK", "INFO")
	response.AddData(status)
	return response
}

// DaemonHistory is the HISTORY payload consumed by the CLI. Session
// events are only present while a connect session is active.
type DaemonHistory struct {
	Events        []db.ConnectionEvent `json:"events,omitempty"`
	SessionEvents []db.ConnectionEvent `json:"session_events,omitempty"`
	HealthChecks  []db.HealthCheck     `json:"health_checks,omitempty"`
	DaemonEvents  []db.DaemonEvent     `json:"daemon_events,omitempty"`
}

func (d *Daemon) getHistory(limit int) Response {
	response := Response{}

	if d.database == nil {
		response.AddMessage("History unavailable: event database is not open.", "WARN")
		return response
	}

	history := DaemonHistory{}
	if events, err := d.database.RecentConnectionEvents(limit); err == nil {
		history.Events = events
	} else {
		response.AddMessage(fmt.Sprintf("Failed to read connection events: %v", err), "WARN")
	}
	if checks, err := d.database.RecentHealthChecks(limit); err == nil {
		history.HealthChecks = checks
	} else {
		response.AddMessage(fmt.Sprintf("Failed to read health checks: %v", err), "WARN")
	}
	if events, err := d.database.RecentDaemonEvents(limit); err == nil {
		history.DaemonEvents = events
	} else {
		response.AddMessage(fmt.Sprintf("Failed to read daemon events: %v", err), "WARN")
	}

	d.mu.Lock()
	sessionID := d.sessionID
	d.mu.Unlock()
	if sessionID != "" {
		if events, err := d.database.SessionEvents(sessionID); err == nil {
			history.SessionEvents = events
		} else {
			response.AddMessage(fmt.Sprintf("Failed to read session events: %v", err), "WARN")
		}
	}

	response.AddMessage("OK", "INFO")
	response.AddData(history)
	return response
}

func (d *Daemon) getVersion() Response {
	response := Response{}

	response.AddMessage("OK", "INFO")
	response.AddData(map[string]interface{}{
		"version": core.Version,
		"pid":     os.Getpid(),
	})
	return response
}

// resetRetries zeroes the reconnection manager's counters. From the error
// state this is the only way back to disconnected.
func (d *Daemon) resetRetries() Response {
	response := Response{}

	d.manager.ResetRetries()
	response.AddMessage("Retry counters reset.", "INFO")
	return response
}

// runHealthCheck probes the health endpoint once, synchronously, and
// reports the result. Independent of the manager's periodic probes.
func (d *Daemon) runHealthCheck() Response {
	response := Response{}
	checker := d.healthChecker()
	timeout := d.config().Policy.HealthTimeout()

	ctx, cancel := context.WithTimeout(d.ctx, timeout)
	defer cancel()

	start := time.Now()
	err := checker.Check(ctx)
	duration := time.Since(start).Round(time.Millisecond)

	if d.database != nil {
		probeErr := ""
		if err != nil {
			probeErr = err.Error()
		}
		d.database.LogHealthCheck(err == nil, duration, probeErr)
	}

	if err != nil {
		response.AddMessage(fmt.Sprintf("Health check failed after %s: %v", duration, err), "ERROR")

		// Distinguish "endpoint unhappy" from "tunnel down": any HTTP
		// response at all proves the path through the tunnel works.
		reachCtx, reachCancel := context.WithTimeout(d.ctx, timeout)
		defer reachCancel()
		if checker.IsReachable(reachCtx) {
			response.AddMessage("Endpoint is reachable but unhealthy; the tunnel itself looks up.", "WARN")
		} else {
			response.AddMessage("Endpoint is unreachable; the tunnel may be down.", "WARN")
		}
		return response
	}

	response.AddMessage(fmt.Sprintf("Health check passed (%s)", duration), "INFO")

	// Also feed the manager so a healthy probe clears its failure streak
	d.manager.CheckNow()
	return response
}

func (d *Daemon) cleanupOrphans() Response {
	response := Response{}

	killed, err := d.supervisor.CleanupOrphans()
	if err != nil {
		response.AddMessage(fmt.Sprintf("Orphan cleanup failed: %v", err), "ERROR")
		return response
	}

	switch killed {
	case 0:
		response.AddMessage("No orphaned tunnel processes found.", "INFO")
	case 1:
		response.AddMessage("Cleaned up 1 orphaned tunnel process.", "INFO")
	default:
		response.AddMessage(fmt.Sprintf("Cleaned up %d orphaned tunnel processes.", killed), "INFO")
	}
	return response
}

func (d *Daemon) stopDaemon() Response {
	response := Response{}

	if d.supervisor.IsRunning() {
		response.AddMessage("Stopping daemon and disconnecting active tunnel...", "INFO")
	} else {
		response.AddMessage("Stopping daemon...", "INFO")
	}
	return response
}

// This makes it safe to call multiple times from multiple goroutines.
func (d *Daemon) shutdown() {
	d.shutdownOnce.Do(func() {
		slog.Info("Executing shutdown sequence...")

		// Stop the manager first so a dying tunnel doesn't trigger a
		// reconnection attempt mid-shutdown
		d.manager.Shutdown()

		// Cancel context to stop all background tasks
		if d.cancelFunc != nil {
			d.cancelFunc()
		}

		if d.supervisor.IsRunning() {
			if d.database != nil {
				d.mu.Lock()
				sessionID := d.sessionID
				d.mu.Unlock()
				if err := d.database.LogConnectionEvent(sessionID, "disconnect", "daemon shutdown"); err != nil {
					slog.Error("Failed to log disconnect during shutdown", "error", err)
				}
			}
			if err := d.supervisor.Disconnect(); err != nil {
				slog.Error("Failed to terminate tunnel process", "error", err)
			}
		}

		// A stale snapshot would make `akon status` report a phantom session
		if err := vpn.RemoveSnapshot(core.StatusPath()); err != nil {
			slog.Warn("Failed to remove status snapshot", "error", err)
		}

		if d.database != nil {
			version := core.FormatVersion(core.Version)
			details := fmt.Sprintf("daemon stopped - version: %s, PID: %d", version, os.Getpid())
			if err := d.database.LogDaemonEvent("stop", details); err != nil {
				slog.Error("Failed to log daemon stop event", "error", err)
			}

			if err := d.database.Close(); err != nil {
				slog.Error("Failed to close database during shutdown", "error", err)
			} else {
				slog.Info("Database closed successfully")
			}
		}
	})
}

// reloadConfig reloads the configuration file and applies what can change
// at runtime. Endpoint and spawn-mode changes apply to the next connect;
// the reconnection policy applies immediately.
func (d *Daemon) reloadConfig() error {
	configPath := filepath.Join(d.config().ConfigPath, core.ConfigFileName)

	newConfig, err := core.LoadConfig(configPath)
	if err != nil {
		slog.Error("Configuration file has errors, keeping previous configuration",
			"file", configPath,
			"error", err)
		return fmt.Errorf("config parse error")
	}
	newConfig.ConfigPath = d.config().ConfigPath

	d.mu.Lock()
	d.cfg = newConfig
	d.checker = vpn.NewHealthChecker(newConfig.Policy.HealthCheckEndpoint, newConfig.Policy.HealthTimeout())
	d.mu.Unlock()

	d.manager.SetPolicy(newConfig.Policy)

	slog.Info("Configuration reloaded successfully")
	return nil
}

// watchConfig sets up automatic config file watching
func (d *Daemon) watchConfig() {
	configPath := filepath.Join(d.config().ConfigPath, core.ConfigFileName)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("Failed to create config file watcher", "error", err)
		return
	}

	if err := watcher.Add(configPath); err != nil {
		slog.Error("Failed to watch config file", "error", err, "path", configPath)
		watcher.Close()
		return
	}

	// Set up a debounced reload handler
	var reloadTimer *time.Timer
	var reloadMutex sync.Mutex

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-d.ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}

				slog.Debug("Filesystem event on config file", "event", event.Op.String(), "file", event.Name)

				// Re-add watch after RENAME, REMOVE, or CREATE events.
				// Editors using atomic writes remove the original from the
				// watch list, and the file may not exist yet mid-operation.
				if event.Op&(fsnotify.Rename|fsnotify.Remove|fsnotify.Create) != 0 {
					go func() {
						for attempt := 0; attempt < 5; attempt++ {
							if attempt > 0 {
								delay := time.Duration(10<<uint(attempt-1)) * time.Millisecond
								time.Sleep(delay)
							}

							watcher.Remove(configPath)
							if err := watcher.Add(configPath); err == nil {
								slog.Debug("Successfully re-added watch", "path", configPath, "attempt", attempt+1)
								return
							} else if attempt == 4 {
								slog.Error("Failed to re-add watch after multiple attempts", "error", err, "path", configPath)
							}
						}
					}()
				}

				// Reload on write, create, or rename events. Many editors
				// use atomic rename operations instead of direct writes.
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}

				slog.Debug("Config file change detected, will reload", "event", event.Op.String(), "file", event.Name)

				// Debounce: editors often fire several events per save
				reloadMutex.Lock()
				if reloadTimer != nil {
					reloadTimer.Stop()
				}
				reloadTimer = time.AfterFunc(500*time.Millisecond, func() {
					if err := d.reloadConfig(); err != nil {
						slog.Warn("Config reload skipped", "error", err)
					}
				})
				reloadMutex.Unlock()

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Config watcher error", "error", err)
			}
		}
	}()
}
