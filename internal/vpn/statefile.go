package vpn

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// StatusSnapshot is the persisted status record. The daemon rewrites it on
// every state transition so `akon status` can answer without a round trip to
// a live process.
type StatusSnapshot struct {
	Version   string          `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
	State     ConnectionState `json:"state"`
	PID       int             `json:"pid,omitempty"`
	Uptime    string          `json:"uptime,omitempty"`
}

const snapshotVersion = "1"

// SaveSnapshot atomically writes the snapshot to path.
// Uses temp file + rename so readers never observe a partial write.
func SaveSnapshot(path string, state ConnectionState, pid int, connectedSince time.Time) error {
	snap := StatusSnapshot{
		Version:   snapshotVersion,
		Timestamp: time.Now(),
		State:     state,
		PID:       pid,
	}
	if state.IsConnected() && !connectedSince.IsZero() {
		snap.Uptime = time.Since(connectedSince).Round(time.Second).String()
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status snapshot: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write status snapshot temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename status snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads the snapshot from path.
// Returns nil if the file doesn't exist (daemon never ran).
func LoadSnapshot(path string) (*StatusSnapshot, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read status snapshot: %w", err)
	}

	var snap StatusSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse status snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported status snapshot version: %s (expected %s)", snap.Version, snapshotVersion)
	}
	return &snap, nil
}

// RemoveSnapshot deletes the snapshot file. Missing file is not an error.
func RemoveSnapshot(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove status snapshot: %w", err)
	}
	return nil
}
