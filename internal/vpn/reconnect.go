package vpn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Connector performs one full reconnection attempt: clean up stale tunnel
// processes, obtain a fresh credential, and re-establish the session. The
// daemon wires this to the Supervisor plus the credential chain; tests
// substitute a scripted implementation.
type Connector interface {
	// Reconnect returns the established session on success so the manager
	// can publish the new address and device.
	Reconnect(ctx context.Context) (*ConnectResult, error)

	// Cleanup kills stale tunnel processes without reconnecting. Used for
	// preemptive cleanup ahead of a system suspend.
	Cleanup(ctx context.Context) error
}

// Prober performs one health probe. Satisfied by *HealthChecker.
type Prober interface {
	Check(ctx context.Context) error
}

// NetworkNoticeKind discriminates notices from the network/power notifier.
type NetworkNoticeKind string

const (
	NoticeNetworkUp        NetworkNoticeKind = "network_up"
	NoticeNetworkDown      NetworkNoticeKind = "network_down"
	NoticeInterfaceChanged NetworkNoticeKind = "interface_changed"
	NoticeSystemSuspending NetworkNoticeKind = "system_suspending"
	NoticeSystemResumed    NetworkNoticeKind = "system_resumed"
)

// NetworkNotice is an asynchronous notice from the network/power notifier.
// The manager degrades gracefully when no notifier feeds it: detection then
// falls back to health checks alone.
type NetworkNotice struct {
	Kind     NetworkNoticeKind
	Iface    string
	OldIface string
	NewIface string
}

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
	cmdResetRetries
	cmdSetConnecting
	cmdSetAuthenticating
	cmdSetConnected
	cmdSetDisconnecting
	cmdSetDisconnected
	cmdConnectionLost
	cmdCheckNow
	cmdSetPolicy
	cmdShutdown
)

// SessionInfo identifies a tunnel session: the endpoint it was established
// against and, once known, the tunnel-side address and device.
type SessionInfo struct {
	Server   string
	Username string
	Address  string
	Device   string
}

type command struct {
	kind    commandKind
	session SessionInfo
	policy  ReconnectionPolicy
}

// attemptResult reports the outcome of one reconnection attempt. The seq
// field guards against stale results: a result whose seq doesn't match the
// manager's current sequence belongs to a superseded attempt and is dropped.
type attemptResult struct {
	seq     uint64
	attempt int
	result  *ConnectResult
	err     error
}

// ManagerConfig configures the reconnection manager.
type ManagerConfig struct {
	Policy ReconnectionPolicy

	// SnapshotPath, when set, is where the manager persists its state on
	// every transition so `akon status` works without IPC.
	SnapshotPath string

	// PIDSource reports the current tunnel pid for the snapshot. Optional.
	PIDSource func() int
}

// Manager owns the authoritative connection state. It consumes health-check
// results and network notices, runs the exponential-backoff retry loop, and
// orders the Connector to clean up and reconnect. All mutation happens on
// the Run goroutine; everything else communicates with it through channels.
type Manager struct {
	policy       ReconnectionPolicy
	connector    Connector
	prober       Prober
	snapshotPath string
	pidSource    func() int

	commands chan command
	notices  chan NetworkNotice
	results  chan attemptResult
	probes   chan error
	done     chan struct{}

	// Loop-local, never touched outside Run.
	monitoring    time.Time // zero when Stop'd; set by Start
	session       SessionInfo
	consecFails   int
	seq           uint64
	cancelAttempt context.CancelFunc
	lastErr       error
	connectedAt   time.Time

	stateMu   sync.RWMutex
	state     ConnectionState
	observers []func(ConnectionState)
}

// NewManager builds a manager. The policy must already be validated.
func NewManager(cfg ManagerConfig, connector Connector, prober Prober) *Manager {
	return &Manager{
		policy:       cfg.Policy,
		connector:    connector,
		prober:       prober,
		snapshotPath: cfg.SnapshotPath,
		pidSource:    cfg.PIDSource,
		commands:     make(chan command, 16),
		notices:      make(chan NetworkNotice, 16),
		results:      make(chan attemptResult, 1),
		probes:       make(chan error, 1),
		done:         make(chan struct{}),
		state:        ConnectionState{Phase: PhaseDisconnected},
	}
}

// Subscribe registers an observer called on every state transition with an
// immutable snapshot. Observers must not block.
func (m *Manager) Subscribe(fn func(ConnectionState)) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.observers = append(m.observers, fn)
}

// State returns the current connection state.
func (m *Manager) State() ConnectionState {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// Done is closed when the Run loop has exited.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Start enables automatic recovery.
func (m *Manager) Start() { m.send(command{kind: cmdStart}) }

// Stop disables automatic recovery, cancels any in-flight attempt, and
// moves to Disconnected.
func (m *Manager) Stop() { m.send(command{kind: cmdStop}) }

// ResetRetries zeroes the attempt and consecutive-failure counters. From
// Error it is the only way back to Disconnected.
func (m *Manager) ResetRetries() { m.send(command{kind: cmdResetRetries}) }

// SetConnecting reports that a user-initiated connect is underway. Any
// in-flight automatic attempt is superseded.
func (m *Manager) SetConnecting(server, user string) {
	m.send(command{kind: cmdSetConnecting, session: SessionInfo{Server: server, Username: user}})
}

// SetAuthenticating advances a connect in progress to the authentication
// phase. Ignored outside Connecting, so a reconnection attempt's output
// never disturbs the Reconnecting state.
func (m *Manager) SetAuthenticating() { m.send(command{kind: cmdSetAuthenticating}) }

// SetConnected records a confirmed session, stops any in-flight retry loop,
// and zeroes all counters.
func (m *Manager) SetConnected(info SessionInfo) {
	m.send(command{kind: cmdSetConnected, session: info})
}

// SetDisconnecting reports that a user-requested teardown has begun.
func (m *Manager) SetDisconnecting() { m.send(command{kind: cmdSetDisconnecting}) }

// SetDisconnected reports that teardown finished and the session is gone.
func (m *Manager) SetDisconnected() { m.send(command{kind: cmdSetDisconnected}) }

// ConnectionLost reports that the tunnel process died out from under us.
// Unlike a failed probe it bypasses the failure threshold: a dead process
// is not a transient network blip.
func (m *Manager) ConnectionLost() { m.send(command{kind: cmdConnectionLost}) }

// CheckNow forces an immediate health probe. Skipped unless Connected.
func (m *Manager) CheckNow() { m.send(command{kind: cmdCheckNow}) }

// SetPolicy swaps the reconnection policy, typically after a config reload.
// The new policy must already be validated. It applies to the next attempt
// and probe cycle; an in-flight backoff wait keeps its original delay.
func (m *Manager) SetPolicy(p ReconnectionPolicy) {
	m.send(command{kind: cmdSetPolicy, policy: p})
}

// Shutdown stops the Run loop, interrupting any in-progress backoff wait.
func (m *Manager) Shutdown() { m.send(command{kind: cmdShutdown}) }

// NotifyNetwork feeds one notice from the network/power notifier.
func (m *Manager) NotifyNetwork(n NetworkNotice) {
	select {
	case m.notices <- n:
	case <-m.done:
	}
}

func (m *Manager) send(c command) {
	select {
	case m.commands <- c:
	case <-m.done:
	}
}

// Run is the manager's event loop. It owns all state transitions and blocks
// until Shutdown or context cancellation.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.done)
	defer m.stopAttempt()

	ticker := time.NewTicker(m.policy.HealthInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-m.commands:
			if c.kind == cmdShutdown {
				slog.Info("Reconnection manager shutting down")
				return
			}
			if c.kind == cmdSetPolicy {
				m.policy = c.policy
				ticker.Reset(m.policy.HealthInterval())
				slog.Info("Reconnection policy updated",
					"max_attempts", m.policy.MaxAttempts,
					"health_interval", m.policy.HealthInterval())
				continue
			}
			m.handleCommand(ctx, c)

		case n := <-m.notices:
			m.handleNotice(ctx, n)

		case <-ticker.C:
			if m.State().Phase == PhaseConnected {
				m.startProbe(ctx)
			}

		case err := <-m.probes:
			m.handleProbe(ctx, err)

		case res := <-m.results:
			m.handleAttemptResult(ctx, res)
		}
	}
}

func (m *Manager) handleCommand(ctx context.Context, c command) {
	switch c.kind {
	case cmdStart:
		m.monitoring = time.Now()
		slog.Info("Automatic reconnection enabled")

	case cmdStop:
		m.monitoring = time.Time{}
		m.stopAttempt()
		m.consecFails = 0
		m.session = SessionInfo{}
		m.setState(ConnectionState{Phase: PhaseDisconnected})
		slog.Info("Automatic reconnection disabled")

	case cmdResetRetries:
		m.consecFails = 0
		m.stopAttempt()
		if m.State().Phase == PhaseError {
			m.setState(ConnectionState{Phase: PhaseDisconnected})
		}
		slog.Info("Retry counters reset")

	case cmdSetConnecting:
		m.stopAttempt()
		m.consecFails = 0
		m.session = c.session
		m.setState(ConnectionState{
			Phase:    PhaseConnecting,
			Server:   c.session.Server,
			Username: c.session.Username,
		})

	case cmdSetAuthenticating:
		if m.State().Phase != PhaseConnecting {
			return
		}
		m.setState(ConnectionState{
			Phase:    PhaseAuthenticating,
			Server:   m.session.Server,
			Username: m.session.Username,
		})

	case cmdSetConnected:
		m.stopAttempt()
		m.consecFails = 0
		m.connectedAt = time.Now()
		m.session = c.session
		m.setState(ConnectionState{
			Phase:    PhaseConnected,
			Server:   c.session.Server,
			Username: c.session.Username,
			Address:  c.session.Address,
			Device:   c.session.Device,
		})
		slog.Info("Session confirmed", "server", c.session.Server, "user", c.session.Username)

	case cmdSetDisconnecting:
		m.stopAttempt()
		m.setState(ConnectionState{
			Phase:    PhaseDisconnecting,
			Server:   m.session.Server,
			Username: m.session.Username,
		})

	case cmdSetDisconnected:
		m.session = SessionInfo{}
		m.setState(ConnectionState{Phase: PhaseDisconnected})

	case cmdConnectionLost:
		if m.State().Phase != PhaseConnected {
			return
		}
		m.consecFails = 0
		if m.monitoring.IsZero() {
			slog.Info("Tunnel process exited; automatic reconnection is disabled")
			m.setState(ConnectionState{Phase: PhaseDisconnected})
			return
		}
		slog.Warn("Tunnel process exited unexpectedly, reconnecting")
		m.beginReconnect(ctx, 1)

	case cmdCheckNow:
		if m.State().Phase == PhaseConnected {
			m.startProbe(ctx)
		}
	}
}

func (m *Manager) handleNotice(ctx context.Context, n NetworkNotice) {
	phase := m.State().Phase
	slog.Info("Network notice", "kind", n.Kind, "phase", phase)

	switch n.Kind {
	case NoticeSystemSuspending:
		// Kill the tunnel before sleep so we never resume with a process
		// holding a dead session.
		m.stopAttempt()
		m.consecFails = 0
		if err := m.connector.Cleanup(ctx); err != nil {
			slog.Warn("Pre-suspend cleanup failed", "error", err)
		}
		if phase != PhaseError {
			m.setState(ConnectionState{Phase: PhaseDisconnected})
		}

	case NoticeSystemResumed, NoticeNetworkDown, NoticeInterfaceChanged:
		if m.monitoring.IsZero() {
			return
		}
		if phase == PhaseConnected || phase == PhaseDisconnected {
			m.consecFails = 0
			m.beginReconnect(ctx, 1)
		}

	case NoticeNetworkUp:
		if m.monitoring.IsZero() {
			return
		}
		if phase == PhaseDisconnected {
			m.beginReconnect(ctx, 1)
		}
	}
}

// handleProbe is the only place the consecutive-failure counter moves.
func (m *Manager) handleProbe(ctx context.Context, err error) {
	if m.State().Phase != PhaseConnected {
		// Stale result from before a transition.
		return
	}

	if err == nil {
		if m.consecFails > 0 {
			slog.Debug("Health restored", "previous_failures", m.consecFails)
		}
		m.consecFails = 0
		return
	}

	m.consecFails++
	slog.Warn("Health check failed", "consecutive", m.consecFails, "threshold", m.policy.FailureThreshold, "error", err)

	if m.consecFails >= m.policy.FailureThreshold {
		m.consecFails = 0
		if m.monitoring.IsZero() {
			slog.Warn("Connection unhealthy but automatic reconnection is disabled")
			m.setState(ConnectionState{Phase: PhaseDisconnected})
			return
		}
		m.beginReconnect(ctx, 1)
	}
}

func (m *Manager) startProbe(ctx context.Context) {
	timeout := m.policy.HealthTimeout()
	go func() {
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		err := m.prober.Check(probeCtx)
		select {
		case m.probes <- err:
		case <-m.done:
		}
	}()
}

// beginReconnect schedules attempt k. The sequence is bumped first so any
// result still in flight from a previous attempt is recognized as stale.
func (m *Manager) beginReconnect(ctx context.Context, attempt int) {
	m.stopAttempt()
	m.seq++
	seq := m.seq

	delay := m.policy.Backoff(attempt)
	m.setState(ConnectionState{
		Phase:       PhaseReconnecting,
		Server:      m.session.Server,
		Username:    m.session.Username,
		Attempt:     attempt,
		MaxAttempts: m.policy.MaxAttempts,
		NextRetryAt: time.Now().Add(delay),
	})
	slog.Info("Scheduling reconnection attempt", "attempt", attempt, "max", m.policy.MaxAttempts, "delay", delay)

	attemptCtx, cancel := context.WithCancel(ctx)
	m.cancelAttempt = cancel

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-attemptCtx.Done():
			return
		case <-timer.C:
		}

		result, err := m.connector.Reconnect(attemptCtx)
		select {
		case m.results <- attemptResult{seq: seq, attempt: attempt, result: result, err: err}:
		case <-attemptCtx.Done():
		case <-m.done:
		}
	}()
}

func (m *Manager) handleAttemptResult(ctx context.Context, res attemptResult) {
	if res.seq != m.seq {
		slog.Debug("Discarding stale attempt result", "seq", res.seq, "current", m.seq, "attempt", res.attempt)
		return
	}

	if res.err == nil {
		m.consecFails = 0
		m.lastErr = nil
		m.connectedAt = time.Now()
		if res.result != nil {
			m.session.Address = res.result.Address
			m.session.Device = res.result.Device
		}
		m.setState(ConnectionState{
			Phase:    PhaseConnected,
			Server:   m.session.Server,
			Username: m.session.Username,
			Address:  m.session.Address,
			Device:   m.session.Device,
		})
		slog.Info("Reconnected", "attempt", res.attempt, "server", m.session.Server)
		return
	}

	m.lastErr = res.err
	slog.Warn("Reconnection attempt failed", "attempt", res.attempt, "max", m.policy.MaxAttempts, "error", res.err)

	if res.attempt < m.policy.MaxAttempts {
		m.beginReconnect(ctx, res.attempt+1)
		return
	}

	msg := fmt.Sprintf("reconnection failed after %d attempts: %v", m.policy.MaxAttempts, res.err)
	m.setState(ConnectionState{Phase: PhaseError, Message: msg})
	slog.Error("Reconnection ceiling reached, manual reset required", "attempts", m.policy.MaxAttempts, "error", res.err)
}

func (m *Manager) stopAttempt() {
	if m.cancelAttempt != nil {
		m.cancelAttempt()
		m.cancelAttempt = nil
	}
}

// setState publishes a new state: observers first, then the on-disk
// snapshot for external status queries.
func (m *Manager) setState(s ConnectionState) {
	m.stateMu.Lock()
	prev := m.state
	m.state = s
	observers := make([]func(ConnectionState), len(m.observers))
	copy(observers, m.observers)
	m.stateMu.Unlock()

	if prev.Phase != s.Phase {
		slog.Debug("State transition", "from", prev.Phase, "to", s.Phase)
	}
	for _, fn := range observers {
		fn(s)
	}

	if m.snapshotPath != "" {
		pid := 0
		if m.pidSource != nil {
			pid = m.pidSource()
		}
		if err := SaveSnapshot(m.snapshotPath, s, pid, m.connectedAt); err != nil {
			slog.Warn("Failed to persist status snapshot", "error", err)
		}
	}
}
