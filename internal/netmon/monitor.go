// Package netmon feeds network and power notices into the reconnection
// manager. It listens on the system D-Bus for NetworkManager state changes
// and logind sleep transitions. When D-Bus is unavailable the monitor is a
// no-op and disconnection detection falls back to health checks alone.
package netmon

import (
	"log/slog"
	"sync"

	"go.akon.dev/akon/internal/vpn"
)

// Monitor translates D-Bus signals into NetworkNotices.
type Monitor struct {
	sink   func(vpn.NetworkNotice)
	logger *slog.Logger

	mu      sync.Mutex
	online  bool
	primary string
}

// New creates a monitor delivering notices to sink. The sink is called from
// the monitor goroutine and must not block.
func New(sink func(vpn.NetworkNotice), logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{sink: sink, logger: logger, online: true}
}

func (m *Monitor) emit(n vpn.NetworkNotice) {
	m.sink(n)
}

// markNetworkState records an up/down transition and emits a notice only on
// an actual change, so repeated NetworkManager signals don't flap the
// manager.
func (m *Monitor) markNetworkState(online bool, iface string) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()

	if !changed {
		return
	}
	if online {
		m.logger.Info("Network is up", "iface", iface)
		m.emit(vpn.NetworkNotice{Kind: vpn.NoticeNetworkUp, Iface: iface})
	} else {
		m.logger.Info("Network is down", "iface", iface)
		m.emit(vpn.NetworkNotice{Kind: vpn.NoticeNetworkDown, Iface: iface})
	}
}

// markPrimaryConnection records which connection carries the default route.
func (m *Monitor) markPrimaryConnection(primary string) {
	m.mu.Lock()
	old := m.primary
	changed := old != "" && primary != "" && old != primary
	m.primary = primary
	m.mu.Unlock()

	if !changed {
		return
	}
	m.logger.Info("Primary connection changed", "old", old, "new", primary)
	m.emit(vpn.NetworkNotice{Kind: vpn.NoticeInterfaceChanged, OldIface: old, NewIface: primary})
}

func (m *Monitor) markSleep() {
	m.logger.Info("System entering sleep")
	m.emit(vpn.NetworkNotice{Kind: vpn.NoticeSystemSuspending})
}

func (m *Monitor) markWake() {
	m.logger.Info("System waking up")
	m.emit(vpn.NetworkNotice{Kind: vpn.NoticeSystemResumed})
}
