package handlers

import (
	"net/http"

	"github.com/peerdaemon/peerd/pkg/vpn"
)

// VPNHandler exposes the VPN monitor's last observed status.
type VPNHandler struct {
	monitor *vpn.Monitor
}

// NewVPNHandler creates a VPN handler. The monitor may be nil when the
// integration is disabled.
func NewVPNHandler(monitor *vpn.Monitor) *VPNHandler {
	return &VPNHandler{monitor: monitor}
}

// vpnStatus is the GET /vpn payload.
type vpnStatus struct {
	Enabled bool        `json:"enabled"`
	Ready   bool        `json:"ready"`
	Status  *vpn.Status `json:"status,omitempty"`
}

// Get returns the latest VPN status. Before the first successful poll, only
// the enabled flag is populated.
func (h *VPNHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.monitor == nil {
		OK(w, vpnStatus{Enabled: false})
		return
	}

	payload := vpnStatus{Enabled: true, Ready: h.monitor.IsReady()}
	if status, ok := h.monitor.Status(); ok {
		payload.Status = &status
	}
	OK(w, payload)
}
