package vpn

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// SpawnMode selects how the tunnel client is launched and therefore how its
// real process id is obtained. The two must never be mixed within a session:
// a privilege-elevated client daemonizes itself, so the pid we spawned is a
// short-lived wrapper and the real pid has to be found in the process table.
type SpawnMode string

const (
	// ModeDaemon launches the client under sudo with its background flag;
	// the tunnel pid is discovered by scanning the process table.
	ModeDaemon SpawnMode = "daemon"

	// ModeForeground launches the client directly as our child and tracks
	// it through the process handle.
	ModeForeground SpawnMode = "foreground"
)

// ParseSpawnMode validates a mode string from configuration.
func ParseSpawnMode(s string) (SpawnMode, error) {
	switch SpawnMode(s) {
	case ModeDaemon, ModeForeground:
		return SpawnMode(s), nil
	case "":
		return ModeDaemon, nil
	default:
		return "", fmt.Errorf("invalid spawn mode %q (expected %q or %q)", s, ModeDaemon, ModeForeground)
	}
}

const (
	// defaultConnectTimeout bounds how long Connect waits for the client to
	// report an established session.
	defaultConnectTimeout = 60 * time.Second

	// gracefulTimeout is the grace window between SIGTERM and SIGKILL.
	gracefulTimeout = 5 * time.Second

	// pidDiscoveryAttempts * pidDiscoveryDelay bounds how long we scan the
	// process table for a daemonized client after session establishment.
	pidDiscoveryAttempts = 15
	pidDiscoveryDelay    = 100 * time.Millisecond
)

// ErrConnectTimeout is returned when the client produced neither a connected
// nor an error event within the connect ceiling.
var ErrConnectTimeout = errors.New("timed out waiting for session establishment")

// ErrAlreadyRunning is returned by Connect while a tunnel process is tracked.
var ErrAlreadyRunning = errors.New("tunnel process already running")

// SpawnError wraps a failure to launch the tunnel client at all. It is fatal
// and never retried here.
type SpawnError struct {
	Binary string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to launch %s: %v", e.Binary, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ConnectError carries the classified failure observed on the client's
// output streams during an attempt.
type ConnectError struct {
	Kind ErrorKind
	Line string
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connection failed (%s): %s", e.Kind, e.Line)
}

// ErrorKindOf extracts the classified kind from a connect error chain, or
// "" when the error carries no classification.
func ErrorKindOf(err error) ErrorKind {
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	var se *SpawnError
	if errors.As(err, &se) {
		return ErrorSpawn
	}
	if errors.Is(err, ErrConnectTimeout) {
		return ErrorTimeout
	}
	return ""
}

// ConnectResult reports a successfully established session.
type ConnectResult struct {
	PID     int
	Address string
	Device  string
}

// SupervisorConfig configures how the tunnel client is invoked.
type SupervisorConfig struct {
	Binary         string
	Protocol       string
	Server         string
	Port           int
	Username       string
	Mode           SpawnMode
	ConnectTimeout time.Duration
}

// Supervisor owns the tunnel client process: it spawns the client, feeds it
// the credential, turns its output into ConnectionEvents, and owns its
// termination. It never decides when to reconnect; that is the Manager's job.
type Supervisor struct {
	cfg        SupervisorConfig
	classifier *Classifier
	table      ProcessTable

	mu          sync.Mutex
	observers   []func(ConnectionEvent)
	pid         int
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	connectedAt time.Time
}

// NewSupervisor builds a supervisor. Zero-value config fields get defaults:
// binary "openconnect", daemon mode, 60s connect ceiling.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.Binary == "" {
		cfg.Binary = "openconnect"
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeDaemon
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	return &Supervisor{
		cfg:        cfg,
		classifier: NewClassifier(),
		table:      SystemProcessTable{},
	}
}

// Subscribe registers an observer for the live event stream. Observers are
// invoked from the output-reader goroutines and must not block.
func (s *Supervisor) Subscribe(fn func(ConnectionEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Supervisor) emit(ev ConnectionEvent) {
	s.mu.Lock()
	observers := make([]func(ConnectionEvent), len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(ev)
	}
}

// PID returns the tracked tunnel process id, 0 when none.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

// ConnectedSince returns when the current session was established.
func (s *Supervisor) ConnectedSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectedAt
}

// IsRunning reports whether the tracked tunnel process is still alive.
func (s *Supervisor) IsRunning() bool {
	pid := s.PID()
	if pid == 0 {
		return false
	}
	return processAlive(pid)
}

func (s *Supervisor) address() string {
	if s.cfg.Port > 0 && s.cfg.Port != 443 {
		return fmt.Sprintf("%s:%d", s.cfg.Server, s.cfg.Port)
	}
	return s.cfg.Server
}

// buildCommand assembles the client invocation. The flags select protocol,
// user, and password-on-stdin; daemon mode adds privilege elevation and the
// client's own backgrounding flag.
func (s *Supervisor) buildCommand() *exec.Cmd {
	args := []string{
		"--protocol=" + s.cfg.Protocol,
		"--user=" + s.cfg.Username,
		"--passwd-on-stdin",
	}
	if s.cfg.Mode == ModeDaemon {
		args = append(args, "--background")
		full := append([]string{"-n", s.cfg.Binary}, append(args, s.address())...)
		return exec.Command("sudo", full...)
	}
	return exec.Command(s.cfg.Binary, append(args, s.address())...)
}

// Connect spawns the tunnel client, writes the password plus a trailing
// newline to its stdin, and blocks until the client reports an established
// session or a classified error, or the connect ceiling elapses
// (ErrConnectTimeout). On success the real tunnel pid is recorded: the
// child's own pid in foreground mode, or the daemonized process found by
// scanning the process table in daemon mode.
func (s *Supervisor) Connect(ctx context.Context, password string) (*ConnectResult, error) {
	s.mu.Lock()
	if s.pid != 0 {
		s.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	s.mu.Unlock()

	cmd := s.buildCommand()
	cmd.Env = os.Environ()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Binary: s.cfg.Binary, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Binary: s.cfg.Binary, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Binary: s.cfg.Binary, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Binary: s.cfg.Binary, Err: err}
	}
	wrapperPID := cmd.Process.Pid
	slog.Info("Launched tunnel client", "binary", s.cfg.Binary, "pid", wrapperPID, "mode", s.cfg.Mode)
	s.emit(ConnectionEvent{Kind: EventProcessStarted, PID: wrapperPID})

	if _, err := io.WriteString(stdin, password+"\n"); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return nil, &SpawnError{Binary: s.cfg.Binary, Err: fmt.Errorf("failed to write credential: %w", err)}
	}
	if s.cfg.Mode == ModeForeground {
		// Foreground clients read the password and expect EOF.
		stdin.Close()
	}

	// First terminal event wins; the readers keep draining afterwards so
	// the client never blocks on a full pipe buffer.
	terminal := make(chan ConnectionEvent, 1)
	report := func(ev ConnectionEvent) {
		s.emit(ev)
		if ev.IsTerminal() {
			select {
			case terminal <- ev:
			default:
			}
		}
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		s.monitorStream(stdout, false, report)
	}()
	go func() {
		defer readers.Done()
		s.monitorStream(stderr, true, report)
	}()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		cmd.Process.Kill()
		go func() { readers.Wait(); cmd.Wait() }()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrConnectTimeout
		}
		return nil, ctx.Err()

	case ev := <-terminal:
		if ev.Kind == EventError {
			cmd.Process.Kill()
			go func() { readers.Wait(); cmd.Wait() }()
			return nil, &ConnectError{Kind: ev.ErrorKind, Line: ev.RawLine}
		}

		result := &ConnectResult{Device: ev.Device}
		if ev.Address != nil {
			result.Address = ev.Address.String()
		}

		switch s.cfg.Mode {
		case ModeForeground:
			result.PID = wrapperPID
			s.mu.Lock()
			s.pid = wrapperPID
			s.cmd = cmd
			s.stdin = stdin
			s.connectedAt = time.Now()
			s.mu.Unlock()
			go s.watchForeground(cmd, &readers)

		case ModeDaemon:
			// The elevated wrapper exits once the client daemonizes.
			go func() { readers.Wait(); stdin.Close(); cmd.Wait() }()

			pid, err := s.discoverPID(ctx, wrapperPID)
			if err != nil {
				return nil, err
			}
			result.PID = pid
			s.mu.Lock()
			s.pid = pid
			s.connectedAt = time.Now()
			s.mu.Unlock()
		}

		slog.Info("Tunnel session established", "pid", result.PID, "address", result.Address, "device", result.Device)
		return result, nil
	}
}

// monitorStream classifies lines until the stream closes. Error-stream lines
// that match no lifecycle pattern get a second pass through the error
// classifier. Read errors end monitoring silently.
func (s *Supervisor) monitorStream(r io.Reader, errStream bool, report func(ConnectionEvent)) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		slog.Debug("Tunnel client output", "line", line, "stderr", errStream)

		ev := s.classifier.ClassifyLine(line)
		if errStream && ev.Kind == EventUnknownOutput {
			ev = s.classifier.ClassifyErrorLine(line)
		}
		report(ev)
	}
}

// watchForeground reaps the child and reports its death.
func (s *Supervisor) watchForeground(cmd *exec.Cmd, readers *sync.WaitGroup) {
	readers.Wait()
	err := cmd.Wait()

	s.mu.Lock()
	tracked := s.cmd == cmd
	if tracked {
		s.pid = 0
		s.cmd = nil
		s.stdin = nil
		s.connectedAt = time.Time{}
	}
	s.mu.Unlock()

	// Disconnect replaces the tracked command before killing, so reaching
	// here with tracked set means the process died on its own.
	if tracked {
		slog.Warn("Tunnel process exited unexpectedly", "pid", cmd.Process.Pid, "error", err)
		s.emit(ConnectionEvent{Kind: EventDisconnected, Reason: DisconnectProcessTerminated})
	}
}

// discoverPID scans the process table for the daemonized client: a process
// with the client's name whose command line carries our server, so an
// unrelated instance never gets adopted. The client needs a moment to fork
// after reporting establishment, so the scan retries briefly before giving
// up.
func (s *Supervisor) discoverPID(ctx context.Context, wrapperPID int) (int, error) {
	name := filepath.Base(s.cfg.Binary)

	for attempt := 0; attempt < pidDiscoveryAttempts; attempt++ {
		infos, err := s.table.Processes()
		if err != nil {
			slog.Warn("Process table scan failed during pid discovery", "error", err)
		}
		for _, info := range infos {
			if info.Name != name || int(info.PID) == wrapperPID {
				continue
			}
			if s.cfg.Server != "" && !strings.Contains(info.Cmdline, s.cfg.Server) {
				continue
			}
			return int(info.PID), nil
		}

		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("failed to locate daemonized %s process: %w", name, ctx.Err())
		case <-time.After(pidDiscoveryDelay):
		}
	}
	return 0, fmt.Errorf("failed to locate daemonized %s process after %v", name, pidDiscoveryAttempts*pidDiscoveryDelay)
}

// Disconnect gracefully terminates the tracked tunnel process: SIGTERM,
// polling at a 0.5s cadence for up to 5 seconds, then SIGKILL. Tracked state
// is always cleared, even when signalling fails, so the supervisor never
// gets stuck believing a dead process is alive.
func (s *Supervisor) Disconnect() error {
	s.mu.Lock()
	pid := s.pid
	stdin := s.stdin
	s.pid = 0
	s.cmd = nil
	s.stdin = nil
	s.connectedAt = time.Time{}
	s.mu.Unlock()

	if pid == 0 {
		return nil
	}
	if stdin != nil {
		stdin.Close()
	}

	// No Wait here: watchForeground is the sole reaper of the child, and
	// it sees the cleared tracking above so the kill is not reported as an
	// unexpected death.
	err := terminate(pid, gracefulTimeout)
	if err != nil {
		return fmt.Errorf("failed to terminate tunnel process %d: %w", pid, err)
	}

	s.emit(ConnectionEvent{Kind: EventDisconnected, Reason: DisconnectUserRequested})
	slog.Info("Tunnel process terminated", "pid", pid)
	return nil
}

// CleanupOrphans sweeps the process table for any instance of the tunnel
// client binary, by exact name match, regardless of who started it. Each
// match gets graceful termination with SIGKILL escalation. Permission
// failures are logged per-process and the sweep continues; a process that is
// already gone counts as terminated. Zero matches is not an error.
func (s *Supervisor) CleanupOrphans() (int, error) {
	name := filepath.Base(s.cfg.Binary)

	infos, err := s.table.Processes()
	if err != nil {
		return 0, fmt.Errorf("failed to scan process table: %w", err)
	}

	terminated := 0
	for _, info := range infos {
		if info.Name != name {
			continue
		}
		slog.Info("Terminating orphan tunnel process", "pid", info.PID, "cmdline", info.Cmdline)

		if err := terminate(int(info.PID), gracefulTimeout); err != nil {
			slog.Warn("Failed to terminate orphan process, continuing sweep", "pid", info.PID, "error", err)
			continue
		}
		terminated++
	}

	if terminated > 0 {
		slog.Info("Orphan cleanup complete", "terminated", terminated)
	}
	return terminated, nil
}

// isGoneError reports whether a signal error means the process no longer
// exists.
func isGoneError(err error) bool {
	return errors.Is(err, os.ErrProcessDone) || errors.Is(err, unix.ESRCH)
}

// processAlive reports whether pid exists. EPERM means it exists but belongs
// to another user.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(unix.Signal(0))
	return err == nil || errors.Is(err, unix.EPERM)
}

// terminate sends SIGTERM, polls for exit at a 0.5s cadence up to the grace
// window, then escalates to SIGKILL. A process we lack permission to signal
// is retried through a non-interactive elevated kill. A process that is
// already gone is success.
func terminate(pid int, grace time.Duration) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}

	if err := proc.Signal(unix.SIGTERM); err != nil {
		if isGoneError(err) {
			return nil
		}
		if errors.Is(err, unix.EPERM) {
			slog.Warn("Permission denied sending SIGTERM, trying elevated kill", "pid", pid)
			return elevatedTerminate(pid, grace)
		}
		return err
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}

	slog.Warn("Process did not exit within grace window, forcing kill", "pid", pid, "grace", grace)
	if err := proc.Kill(); err != nil {
		if isGoneError(err) {
			return nil
		}
		if errors.Is(err, unix.EPERM) {
			return elevatedTerminate(pid, 0)
		}
		return err
	}

	time.Sleep(100 * time.Millisecond)
	if processAlive(pid) {
		return fmt.Errorf("process %d survived SIGKILL", pid)
	}
	return nil
}

// elevatedTerminate retries termination through `sudo -n kill` for processes
// owned by another user (the daemonized client runs as root).
func elevatedTerminate(pid int, grace time.Duration) error {
	pidArg := strconv.Itoa(pid)

	if grace > 0 {
		if err := exec.Command("sudo", "-n", "kill", "-TERM", pidArg).Run(); err != nil {
			if !processAlive(pid) {
				return nil
			}
			return fmt.Errorf("elevated SIGTERM failed: %w", err)
		}
		deadline := time.Now().Add(grace)
		for time.Now().Before(deadline) {
			if !processAlive(pid) {
				return nil
			}
			time.Sleep(500 * time.Millisecond)
		}
	}

	if err := exec.Command("sudo", "-n", "kill", "-KILL", pidArg).Run(); err != nil {
		if !processAlive(pid) {
			return nil
		}
		return fmt.Errorf("elevated SIGKILL failed: %w", err)
	}

	time.Sleep(100 * time.Millisecond)
	if processAlive(pid) {
		return fmt.Errorf("process %d survived elevated SIGKILL", pid)
	}
	return nil
}
