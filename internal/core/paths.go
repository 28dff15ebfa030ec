package core

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	BaseDirName    = ".config/akon"
	ConfigFileName = "config.hcl"
	SocketName     = "daemon.sock"
	PidFileName    = "daemon.pid"
	StatusFileName = "status.json"
	DBFileName     = "events.db"
)

// BaseDir returns the akon configuration directory. AKON_CONFIG_DIR
// overrides the default for tests and non-standard setups.
func BaseDir() string {
	if dir := os.Getenv("AKON_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		// No home directory; fall back to the working directory so the
		// daemon can still run.
		return BaseDirName
	}
	return filepath.Join(home, BaseDirName)
}

// EnsureBaseDir creates the configuration directory if missing.
func EnsureBaseDir() error {
	if err := os.MkdirAll(BaseDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return nil
}

func ConfigFilePath() string { return filepath.Join(BaseDir(), ConfigFileName) }
func SocketPath() string     { return filepath.Join(BaseDir(), SocketName) }
func PIDFilePath() string    { return filepath.Join(BaseDir(), PidFileName) }
func StatusPath() string     { return filepath.Join(BaseDir(), StatusFileName) }
func DatabasePath() string   { return filepath.Join(BaseDir(), DBFileName) }
