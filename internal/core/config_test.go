package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.akon.dev/akon/internal/vpn"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.hcl")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadConfigFull(t *testing.T) {
	path := writeConfig(t, `
verbose = 1
log_format = "json"

vpn {
  server   = "vpn.example.com"
  port     = 8443
  username = "alex"
  protocol = "f5"
  mode     = "foreground"
  binary   = "/usr/local/sbin/openconnect"
}

reconnect {
  enabled                        = true
  max_attempts                   = 10
  base_interval_secs             = 2
  backoff_multiplier             = 3
  max_interval_secs              = 120
  consecutive_failures_threshold = 2
  health_check_interval_secs     = 30
  health_check_endpoint          = "https://intranet.example.com/ping"
  health_check_timeout_secs      = 3
}
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.VPN.Server != "vpn.example.com" || cfg.VPN.Port != 8443 {
		t.Errorf("endpoint = %s:%d, want vpn.example.com:8443", cfg.VPN.Server, cfg.VPN.Port)
	}
	if cfg.VPN.Mode != vpn.ModeForeground {
		t.Errorf("mode = %q, want foreground", cfg.VPN.Mode)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("log format = %q, want json", cfg.LogFormat)
	}
	if cfg.Policy.MaxAttempts != 10 || cfg.Policy.BackoffMultiplier != 3 {
		t.Errorf("policy not applied: %+v", cfg.Policy)
	}
	if cfg.Policy.HealthCheckEndpoint != "https://intranet.example.com/ping" {
		t.Errorf("endpoint = %q", cfg.Policy.HealthCheckEndpoint)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
vpn {
  server   = "vpn.example.com"
  username = "alex"
}
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.VPN.Port != 443 {
		t.Errorf("default port = %d, want 443", cfg.VPN.Port)
	}
	if cfg.VPN.Protocol != "f5" {
		t.Errorf("default protocol = %q, want f5", cfg.VPN.Protocol)
	}
	if cfg.VPN.Mode != vpn.ModeDaemon {
		t.Errorf("default mode = %q, want daemon", cfg.VPN.Mode)
	}
	if !cfg.ReconnectEnabled {
		t.Error("reconnect should default to enabled")
	}
	if cfg.Policy != vpn.DefaultPolicy() {
		t.Errorf("policy should default, got %+v", cfg.Policy)
	}
}

func TestLoadConfigRejectsMissingServer(t *testing.T) {
	path := writeConfig(t, `
vpn {
  server   = ""
  username = "alex"
}
`)
	if _, err := LoadConfig(path); err == nil || !strings.Contains(err.Error(), "vpn.server") {
		t.Fatalf("expected vpn.server error, got %v", err)
	}
}

func TestLoadConfigRejectsInvalidPolicy(t *testing.T) {
	path := writeConfig(t, `
vpn {
  server   = "vpn.example.com"
  username = "alex"
}

reconnect {
  max_attempts = 21
}
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected policy validation error")
	}
}

func TestLoadConfigRejectsInvalidMode(t *testing.T) {
	path := writeConfig(t, `
vpn {
  server   = "vpn.example.com"
  username = "alex"
  mode     = "hybrid"
}
`)
	if _, err := LoadConfig(path); err == nil || !strings.Contains(err.Error(), "spawn mode") {
		t.Fatalf("expected spawn mode error, got %v", err)
	}
}

func TestBaseDirHonorsOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("AKON_CONFIG_DIR", dir)

	if got := BaseDir(); got != dir {
		t.Errorf("BaseDir() = %q, want %q", got, dir)
	}
	if got := SocketPath(); got != filepath.Join(dir, SocketName) {
		t.Errorf("SocketPath() = %q", got)
	}
}
