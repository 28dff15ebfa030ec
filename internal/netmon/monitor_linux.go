package netmon

import (
	"context"
	"os"

	"github.com/godbus/dbus/v5"
)

// NetworkManager global states we care about. Anything at or above
// "connected site" means the machine has usable connectivity.
const (
	nmStateDisconnected  uint32 = 20
	nmStateConnectedSite uint32 = 60
)

const (
	nmInterface      = "org.freedesktop.NetworkManager"
	nmPath           = "/org/freedesktop/NetworkManager"
	logindInterface  = "org.freedesktop.login1.Manager"
	logindPath       = "/org/freedesktop/login1"
	propsInterface   = "org.freedesktop.DBus.Properties"
	stateChangedName = nmInterface + ".StateChanged"
	sleepSignalName  = logindInterface + ".PrepareForSleep"
	propsChangedName = propsInterface + ".PropertiesChanged"
)

// Start begins listening for network and sleep events via the system D-Bus.
// Falls back to no-op if D-Bus is unavailable (e.g. headless servers or
// containers).
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		conn, err := dbus.SystemBus()
		if err != nil {
			if os.Getenv("DBUS_SYSTEM_BUS_ADDRESS") == "" {
				m.logger.Debug("D-Bus unavailable, network monitor disabled")
			} else {
				m.logger.Warn("Failed to connect to D-Bus for network monitoring", "error", err)
			}
			return
		}

		if err := conn.AddMatchSignal(
			dbus.WithMatchObjectPath(nmPath),
			dbus.WithMatchInterface(nmInterface),
			dbus.WithMatchMember("StateChanged"),
		); err != nil {
			m.logger.Warn("Failed to subscribe to NetworkManager StateChanged", "error", err)
		}
		if err := conn.AddMatchSignal(
			dbus.WithMatchObjectPath(nmPath),
			dbus.WithMatchInterface(propsInterface),
			dbus.WithMatchMember("PropertiesChanged"),
		); err != nil {
			m.logger.Warn("Failed to subscribe to NetworkManager properties", "error", err)
		}
		if err := conn.AddMatchSignal(
			dbus.WithMatchObjectPath(logindPath),
			dbus.WithMatchInterface(logindInterface),
			dbus.WithMatchMember("PrepareForSleep"),
		); err != nil {
			m.logger.Warn("Failed to subscribe to PrepareForSleep", "error", err)
		}

		signals := make(chan *dbus.Signal, 16)
		conn.Signal(signals)

		m.logger.Info("Network monitor started (D-Bus)")

		for {
			select {
			case <-ctx.Done():
				conn.RemoveSignal(signals)
				m.logger.Debug("Network monitor stopped")
				return
			case sig := <-signals:
				if sig == nil {
					return
				}
				m.handleSignal(sig)
			}
		}
	}()
}

// handleSignal translates one D-Bus signal into zero or more notices.
func (m *Monitor) handleSignal(sig *dbus.Signal) {
	switch sig.Name {
	case stateChangedName:
		if len(sig.Body) < 1 {
			return
		}
		state, ok := sig.Body[0].(uint32)
		if !ok {
			return
		}
		if state >= nmStateConnectedSite {
			m.markNetworkState(true, "")
		} else if state <= nmStateDisconnected {
			m.markNetworkState(false, "")
		}

	case propsChangedName:
		if len(sig.Body) < 2 {
			return
		}
		iface, ok := sig.Body[0].(string)
		if !ok || iface != nmInterface {
			return
		}
		props, ok := sig.Body[1].(map[string]dbus.Variant)
		if !ok {
			return
		}
		if v, ok := props["PrimaryConnection"]; ok {
			if path, ok := v.Value().(dbus.ObjectPath); ok && path != "/" {
				m.markPrimaryConnection(string(path))
			}
		}

	case sleepSignalName:
		if len(sig.Body) < 1 {
			return
		}
		entering, ok := sig.Body[0].(bool)
		if !ok {
			return
		}
		if entering {
			m.markSleep()
		} else {
			m.markWake()
		}
	}
}
