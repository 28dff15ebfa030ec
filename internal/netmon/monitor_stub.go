//go:build !linux

package netmon

import "context"

// Start is a no-op on platforms without a system D-Bus; disconnection
// detection falls back to health checks.
func (m *Monitor) Start(ctx context.Context) {
	m.logger.Debug("Network monitor not supported on this platform")
}
