package vpn

import "net"

// EventKind discriminates ConnectionEvent variants.
type EventKind string

const (
	EventProcessStarted     EventKind = "process_started"
	EventAuthenticating     EventKind = "authenticating"
	EventSessionEstablished EventKind = "session_established"
	EventDeviceConfigured   EventKind = "device_configured"
	EventConnected          EventKind = "connected"
	EventDisconnected       EventKind = "disconnected"
	EventError              EventKind = "error"
	EventUnknownOutput      EventKind = "unknown_output"
)

// ErrorKind is a coarse classification of error output from the tunnel
// client. Mapping kinds to user-facing suggestions is a presentation
// concern and lives in the cmd layer, not here.
type ErrorKind string

const (
	ErrorAuthFailed  ErrorKind = "auth_failed"
	ErrorTLS         ErrorKind = "tls_failure"
	ErrorCertificate ErrorKind = "certificate"
	ErrorTunDevice   ErrorKind = "tun_device"
	ErrorDNS         ErrorKind = "dns"
	ErrorSpawn       ErrorKind = "spawn"
	ErrorTimeout     ErrorKind = "timeout"
)

// DisconnectReason explains why a session ended.
type DisconnectReason string

const (
	DisconnectUserRequested     DisconnectReason = "user_requested"
	DisconnectServerInitiated   DisconnectReason = "server_initiated"
	DisconnectProcessTerminated DisconnectReason = "process_terminated"
	DisconnectTimeout           DisconnectReason = "timeout"
)

// ConnectionEvent is a single typed lifecycle event derived from one line of
// tunnel-client output (or from the supervisor itself, for ProcessStarted and
// Disconnected). Events from one monitored process are delivered in the order
// produced.
type ConnectionEvent struct {
	Kind EventKind

	// ProcessStarted
	PID int

	// Authenticating / SessionEstablished
	Message     string
	SessionHint string

	// DeviceConfigured / Connected
	Device  string
	Address net.IP

	// Disconnected
	Reason DisconnectReason

	// Error
	ErrorKind ErrorKind

	// Error / UnknownOutput: original line, preserved verbatim so no
	// diagnostic information is lost.
	RawLine string
}

// IsTerminal reports whether the event ends the connect phase: once a
// Connected or Error event is seen, the supervisor stops waiting.
func (e ConnectionEvent) IsTerminal() bool {
	return e.Kind == EventConnected || e.Kind == EventError
}
