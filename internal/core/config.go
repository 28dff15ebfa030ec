// Package core holds configuration, filesystem paths, and version info
// shared by the daemon and the CLI.
package core

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"go.akon.dev/akon/internal/vpn"
)

// VPNConfig describes the tunnel endpoint and how the client is launched.
type VPNConfig struct {
	Server   string
	Port     int
	Username string
	Protocol string
	Mode     vpn.SpawnMode
	Binary   string
}

// Config is the complete akon configuration. Loaded once at startup and on
// config-file changes; validation happens at load time so an invalid policy
// never reaches the reconnection manager.
type Config struct {
	ConfigPath string // directory containing the config file
	Verbose    int
	LogFormat  string // "text" or "json"

	VPN              VPNConfig
	ReconnectEnabled bool
	Policy           vpn.ReconnectionPolicy
}

// HCL parsing structs

type hclConfig struct {
	Verbose   int           `hcl:"verbose,optional"`
	LogFormat string        `hcl:"log_format,optional"`
	VPN       *hclVPN       `hcl:"vpn,block"`
	Reconnect *hclReconnect `hcl:"reconnect,block"`
}

type hclVPN struct {
	Server   string `hcl:"server"`
	Port     int    `hcl:"port,optional"`
	Username string `hcl:"username"`
	Protocol string `hcl:"protocol,optional"`
	Mode     string `hcl:"mode,optional"`
	Binary   string `hcl:"binary,optional"`
}

type hclReconnect struct {
	Enabled             *bool  `hcl:"enabled,optional"`
	MaxAttempts         int    `hcl:"max_attempts,optional"`
	BaseIntervalSecs    int    `hcl:"base_interval_secs,optional"`
	BackoffMultiplier   int    `hcl:"backoff_multiplier,optional"`
	MaxIntervalSecs     int    `hcl:"max_interval_secs,optional"`
	FailureThreshold    int    `hcl:"consecutive_failures_threshold,optional"`
	HealthIntervalSecs  int    `hcl:"health_check_interval_secs,optional"`
	HealthCheckEndpoint string `hcl:"health_check_endpoint,optional"`
	HealthTimeoutSecs   int    `hcl:"health_check_timeout_secs,optional"`
}

// DefaultConfig returns a Config with defaults applied and no endpoint set.
func DefaultConfig() *Config {
	return &Config{
		LogFormat: "text",
		VPN: VPNConfig{
			Port:     443,
			Protocol: "f5",
			Mode:     vpn.ModeDaemon,
			Binary:   "openconnect",
		},
		ReconnectEnabled: true,
		Policy:           vpn.DefaultPolicy(),
	}
}

// LoadConfig parses the HCL configuration file and validates it. It fails
// fast: a config this returns without error is safe to hand to every
// component.
func LoadConfig(filename string) (*Config, error) {
	var hclCfg hclConfig
	if err := hclsimple.DecodeFile(filename, nil, &hclCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := DefaultConfig()
	cfg.Verbose = hclCfg.Verbose
	if hclCfg.LogFormat != "" {
		cfg.LogFormat = hclCfg.LogFormat
	}

	if hclCfg.VPN != nil {
		cfg.VPN.Server = hclCfg.VPN.Server
		cfg.VPN.Username = hclCfg.VPN.Username
		if hclCfg.VPN.Port != 0 {
			cfg.VPN.Port = hclCfg.VPN.Port
		}
		if hclCfg.VPN.Protocol != "" {
			cfg.VPN.Protocol = hclCfg.VPN.Protocol
		}
		if hclCfg.VPN.Binary != "" {
			cfg.VPN.Binary = hclCfg.VPN.Binary
		}
		mode, err := vpn.ParseSpawnMode(hclCfg.VPN.Mode)
		if err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		cfg.VPN.Mode = mode
	}

	if r := hclCfg.Reconnect; r != nil {
		if r.Enabled != nil {
			cfg.ReconnectEnabled = *r.Enabled
		}
		if r.MaxAttempts != 0 {
			cfg.Policy.MaxAttempts = r.MaxAttempts
		}
		if r.BaseIntervalSecs != 0 {
			cfg.Policy.BaseIntervalSecs = r.BaseIntervalSecs
		}
		if r.BackoffMultiplier != 0 {
			cfg.Policy.BackoffMultiplier = r.BackoffMultiplier
		}
		if r.MaxIntervalSecs != 0 {
			cfg.Policy.MaxIntervalSecs = r.MaxIntervalSecs
		}
		if r.FailureThreshold != 0 {
			cfg.Policy.FailureThreshold = r.FailureThreshold
		}
		if r.HealthIntervalSecs != 0 {
			cfg.Policy.HealthIntervalSecs = r.HealthIntervalSecs
		}
		if r.HealthCheckEndpoint != "" {
			cfg.Policy.HealthCheckEndpoint = r.HealthCheckEndpoint
		}
		if r.HealthTimeoutSecs != 0 {
			cfg.Policy.HealthTimeoutSecs = r.HealthTimeoutSecs
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the endpoint settings and the reconnection policy.
func (c *Config) Validate() error {
	if c.VPN.Server == "" {
		return fmt.Errorf("invalid config: vpn.server is required")
	}
	if c.VPN.Username == "" {
		return fmt.Errorf("invalid config: vpn.username is required")
	}
	if c.VPN.Port < 1 || c.VPN.Port > 65535 {
		return fmt.Errorf("invalid config: vpn.port must be in [1,65535], got %d", c.VPN.Port)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid config: log_format must be \"text\" or \"json\", got %q", c.LogFormat)
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ConfigExists checks if a config file exists.
func ConfigExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
