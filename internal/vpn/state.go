package vpn

import (
	"fmt"
	"time"
)

// Phase names the position in the connection state machine.
type Phase string

const (
	PhaseDisconnected   Phase = "disconnected"
	PhaseConnecting     Phase = "connecting"
	PhaseAuthenticating Phase = "authenticating"
	PhaseConnected      Phase = "connected"
	PhaseReconnecting   Phase = "reconnecting"
	PhaseDisconnecting  Phase = "disconnecting"
	PhaseError          Phase = "error"
)

// ConnectionState is the single authoritative connection value. It is owned
// and mutated only by the Manager's event loop and published to observers as
// an immutable snapshot.
type ConnectionState struct {
	Phase Phase `json:"phase"`

	// Connected
	Server   string `json:"server,omitempty"`
	Username string `json:"username,omitempty"`
	Address  string `json:"address,omitempty"`
	Device   string `json:"device,omitempty"`

	// Reconnecting
	Attempt     int       `json:"attempt,omitempty"`
	MaxAttempts int       `json:"max_attempts,omitempty"`
	NextRetryAt time.Time `json:"next_retry_at,omitzero"`

	// Error
	Message string `json:"message,omitempty"`
}

func (s ConnectionState) String() string {
	switch s.Phase {
	case PhaseConnected:
		if s.Address != "" {
			return fmt.Sprintf("connected (%s on %s)", s.Address, s.Device)
		}
		return "connected"
	case PhaseReconnecting:
		return fmt.Sprintf("reconnecting (attempt %d/%d)", s.Attempt, s.MaxAttempts)
	case PhaseError:
		return fmt.Sprintf("error: %s", s.Message)
	default:
		return string(s.Phase)
	}
}

// IsConnected reports whether the tunnel is up.
func (s ConnectionState) IsConnected() bool { return s.Phase == PhaseConnected }
