package vpn

import (
	"fmt"
	"net/url"
	"time"
)

// ReconnectionPolicy is the immutable retry configuration. It is validated
// once at config-load time; an invalid policy never reaches the Manager.
type ReconnectionPolicy struct {
	MaxAttempts         int    `hcl:"max_attempts,optional"`
	BaseIntervalSecs    int    `hcl:"base_interval_secs,optional"`
	BackoffMultiplier   int    `hcl:"backoff_multiplier,optional"`
	MaxIntervalSecs     int    `hcl:"max_interval_secs,optional"`
	FailureThreshold    int    `hcl:"consecutive_failures_threshold,optional"`
	HealthIntervalSecs  int    `hcl:"health_check_interval_secs,optional"`
	HealthCheckEndpoint string `hcl:"health_check_endpoint,optional"`
	HealthTimeoutSecs   int    `hcl:"health_check_timeout_secs,optional"`
}

// DefaultPolicy returns the reconnection policy used when the config file has
// no reconnect block.
func DefaultPolicy() ReconnectionPolicy {
	return ReconnectionPolicy{
		MaxAttempts:         5,
		BaseIntervalSecs:    5,
		BackoffMultiplier:   2,
		MaxIntervalSecs:     60,
		FailureThreshold:    3,
		HealthIntervalSecs:  60,
		HealthCheckEndpoint: "https://connectivity.example.com/health",
		HealthTimeoutSecs:   5,
	}
}

// PolicyError names the offending field and the violated constraint.
type PolicyError struct {
	Field      string
	Constraint string
	Value      any
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("reconnect policy: %s must be %s, got %v", e.Field, e.Constraint, e.Value)
}

// Validate checks every field against its allowed range. The first violation
// is returned.
func (p ReconnectionPolicy) Validate() error {
	if p.MaxAttempts < 1 || p.MaxAttempts > 20 {
		return &PolicyError{Field: "max_attempts", Constraint: "between 1 and 20", Value: p.MaxAttempts}
	}
	if p.BaseIntervalSecs < 1 || p.BaseIntervalSecs > 300 {
		return &PolicyError{Field: "base_interval_secs", Constraint: "between 1 and 300", Value: p.BaseIntervalSecs}
	}
	if p.BackoffMultiplier < 1 || p.BackoffMultiplier > 10 {
		return &PolicyError{Field: "backoff_multiplier", Constraint: "between 1 and 10", Value: p.BackoffMultiplier}
	}
	if p.MaxIntervalSecs < p.BaseIntervalSecs {
		return &PolicyError{Field: "max_interval_secs", Constraint: fmt.Sprintf(">= base_interval_secs (%d)", p.BaseIntervalSecs), Value: p.MaxIntervalSecs}
	}
	if p.FailureThreshold < 1 || p.FailureThreshold > 10 {
		return &PolicyError{Field: "consecutive_failures_threshold", Constraint: "between 1 and 10", Value: p.FailureThreshold}
	}
	if p.HealthIntervalSecs < 10 || p.HealthIntervalSecs > 3600 {
		return &PolicyError{Field: "health_check_interval_secs", Constraint: "between 10 and 3600", Value: p.HealthIntervalSecs}
	}
	u, err := url.Parse(p.HealthCheckEndpoint)
	if err != nil {
		return &PolicyError{Field: "health_check_endpoint", Constraint: "a valid http/https URL", Value: p.HealthCheckEndpoint}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &PolicyError{Field: "health_check_endpoint", Constraint: "an http or https URL", Value: p.HealthCheckEndpoint}
	}
	return nil
}

// Backoff returns the wait before attempt k (1-indexed):
// min(base * multiplier^(k-1), max). Attempt 1 always waits exactly base.
func (p ReconnectionPolicy) Backoff(attempt int) time.Duration {
	secs := int64(p.BaseIntervalSecs)
	for i := 1; i < attempt && secs < int64(p.MaxIntervalSecs); i++ {
		secs *= int64(p.BackoffMultiplier)
	}
	if secs > int64(p.MaxIntervalSecs) {
		secs = int64(p.MaxIntervalSecs)
	}
	return time.Duration(secs) * time.Second
}

// HealthInterval returns the health probe cadence as a duration.
func (p ReconnectionPolicy) HealthInterval() time.Duration {
	return time.Duration(p.HealthIntervalSecs) * time.Second
}

// HealthTimeout returns the per-probe timeout, defaulting to 5s.
func (p ReconnectionPolicy) HealthTimeout() time.Duration {
	if p.HealthTimeoutSecs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(p.HealthTimeoutSecs) * time.Second
}
