package vpn

import (
	"context"
	"sync"
	"time"

	"github.com/peerdaemon/peerd/internal/logger"
	"github.com/peerdaemon/peerd/pkg/peer"
)

// DefaultPollInterval is how often the monitor asks the helper for status.
const DefaultPollInterval = 2500 * time.Millisecond

// DisconnectReason is reported to the server when the VPN drops while
// marked required.
const DisconnectReason = "VPN client disconnected"

// Forwarded ports outside this range are treated as not usable.
const (
	minForwardedPort = 1024
	maxForwardedPort = 65535
)

// Config controls the monitor.
type Config struct {
	// Required disconnects the peer client whenever the VPN is not ready.
	Required bool

	// PortForwarding gates readiness on a usable forwarded port.
	PortForwarding bool

	// PollInterval between status fetches. Zero means DefaultPollInterval.
	PollInterval time.Duration
}

// Monitor polls the VPN helper and reacts to status changes.
type Monitor struct {
	client StatusClient
	peer   peer.Client
	cfg    Config

	// applyPort applies a new forwarded port to the runtime configuration.
	applyPort func(port int)

	// fetchMu serializes status fetches; Poll is also called directly by
	// the startup path while the ticker loop runs.
	fetchMu sync.Mutex

	statusMu sync.Mutex
	status   Status
	statusOK bool // a status has been fetched successfully

	portMu      sync.Mutex
	appliedPort int

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

// NewMonitor creates a VPN monitor. applyPort may be nil when the listen
// port should not follow the forwarded port.
func NewMonitor(client StatusClient, peerClient peer.Client, cfg Config, applyPort func(port int)) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Monitor{
		client:    client,
		peer:      peerClient,
		cfg:       cfg,
		applyPort: applyPort,
		done:      make(chan struct{}),
	}
}

// Start begins polling. Subsequent calls are no-ops.
func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		go m.loop()
	})
}

// Stop ends polling.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
	})
}

// IsReady reports whether the VPN is usable: connected, and when port
// forwarding is enabled, with a forwarded port in the usable range.
func (m *Monitor) IsReady() bool {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	if !m.statusOK || !m.status.IsConnected {
		return false
	}
	if !m.cfg.PortForwarding {
		return true
	}
	return m.status.ForwardedPort >= minForwardedPort && m.status.ForwardedPort <= maxForwardedPort
}

// Status returns the last fetched status and whether one was fetched.
func (m *Monitor) Status() (Status, bool) {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	return m.status, m.statusOK
}

// Poll fetches status once and applies the reactions. Exposed so the
// startup path can prime readiness before the first tick. At most one
// fetch is in flight at a time.
func (m *Monitor) Poll(ctx context.Context) {
	m.fetchMu.Lock()
	defer m.fetchMu.Unlock()

	status, err := m.client.Status(ctx)
	if err != nil {
		logger.Warn("failed to fetch VPN status", logger.Err(err))
		m.statusMu.Lock()
		m.statusOK = false
		m.statusMu.Unlock()
		m.enforceRequired()
		return
	}

	m.statusMu.Lock()
	m.status = status
	m.statusOK = true
	m.statusMu.Unlock()

	if m.IsReady() {
		m.maybeApplyPort(status.ForwardedPort)
	}
	m.enforceRequired()
}

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.PollInterval)
			m.Poll(ctx)
			cancel()
		case <-m.done:
			return
		}
	}
}

// maybeApplyPort applies a forwarded-port change, skipping identical values.
func (m *Monitor) maybeApplyPort(port int) {
	if m.applyPort == nil || port == 0 {
		return
	}
	m.portMu.Lock()
	if port == m.appliedPort {
		m.portMu.Unlock()
		return
	}
	m.appliedPort = port
	m.portMu.Unlock()

	logger.Info("applying forwarded port to listen configuration", "port", port)
	m.applyPort(port)
}

// enforceRequired disconnects the peer client when the VPN is required and
// not ready.
func (m *Monitor) enforceRequired() {
	if !m.cfg.Required || m.IsReady() {
		return
	}
	if m.peer != nil && m.peer.IsConnected() {
		logger.Warn("VPN is required and not ready, disconnecting")
		if err := m.peer.Disconnect(DisconnectReason); err != nil {
			logger.Error("failed to disconnect peer client", logger.Err(err))
		}
	}
}
