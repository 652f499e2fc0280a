// Package vpn integrates an external VPN helper: it polls the helper's
// status endpoint, derives readiness, and applies forwarded-port changes
// to the daemon's runtime configuration.
package vpn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Status is the VPN helper's report.
type Status struct {
	IsConnected   bool   `json:"is_connected"`
	PublicIP      string `json:"public_ip"`
	Location      string `json:"location"`
	ForwardedPort int    `json:"forwarded_port"`
}

// StatusClient fetches the current VPN status.
type StatusClient interface {
	Status(ctx context.Context) (Status, error)
}

// HTTPClient talks to the VPN helper's HTTP status endpoint, such as the
// gluetun control server.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a status client for the helper at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Status fetches and decodes the helper's status document.
func (c *HTTPClient) Status(ctx context.Context) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/status", nil)
	if err != nil {
		return Status{}, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Status{}, fmt.Errorf("failed to fetch VPN status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Status{}, fmt.Errorf("VPN status endpoint returned %s", resp.Status)
	}

	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return Status{}, fmt.Errorf("failed to decode VPN status: %w", err)
	}
	return status, nil
}
