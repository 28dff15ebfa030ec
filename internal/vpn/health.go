package vpn

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HealthChecker probes an HTTP endpoint that is only reachable through the
// tunnel. A string of failures is how we notice the VPN died underneath us
// even though the client process is still running.
type HealthChecker struct {
	endpoint string
	client   *http.Client
}

// NewHealthChecker builds a checker for the given endpoint. The timeout
// bounds each individual probe, not the checking loop.
func NewHealthChecker(endpoint string, timeout time.Duration) *HealthChecker {
	return &HealthChecker{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Redirects count as success, don't follow them.
				return http.ErrUseLastResponse
			},
		},
	}
}

// Endpoint returns the probed URL.
func (h *HealthChecker) Endpoint() string { return h.endpoint }

// Check performs a single probe. Success means the endpoint answered with a
// 2xx or 3xx status; anything else (including transport errors) is a failure.
func (h *HealthChecker) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build health check request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return nil
	}
	return fmt.Errorf("health check returned status %d", resp.StatusCode)
}

// IsReachable is the lenient variant used to distinguish "VPN down" from
// "endpoint unhappy": any HTTP response at all, even a 5xx, proves the
// network path through the tunnel works.
func (h *HealthChecker) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint, nil)
	if err != nil {
		return false
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}
