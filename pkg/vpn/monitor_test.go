package vpn

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerdaemon/peerd/pkg/peer/peertest"
	"github.com/peerdaemon/peerd/pkg/server"
)

// fakeStatusClient serves a mutable status.
type fakeStatusClient struct {
	mu     sync.Mutex
	status Status
	err    error
}

func (f *fakeStatusClient) Status(context.Context) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.err
}

func (f *fakeStatusClient) set(status Status, err error) {
	f.mu.Lock()
	f.status = status
	f.err = err
	f.mu.Unlock()
}

func TestMonitor_ReadinessRules(t *testing.T) {
	tests := []struct {
		name           string
		status         Status
		portForwarding bool
		want           bool
	}{
		{"disconnected", Status{IsConnected: false}, false, false},
		{"connected without port forwarding", Status{IsConnected: true}, false, true},
		{"connected, forwarding enabled, no port", Status{IsConnected: true}, true, false},
		{"forwarded port below range", Status{IsConnected: true, ForwardedPort: 80}, true, false},
		{"forwarded port in range", Status{IsConnected: true, ForwardedPort: 51820}, true, true},
		{"forwarded port at lower bound", Status{IsConnected: true, ForwardedPort: 1024}, true, true},
		{"forwarded port at upper bound", Status{IsConnected: true, ForwardedPort: 65535}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeStatusClient{status: tt.status}
			m := NewMonitor(client, nil, Config{PortForwarding: tt.portForwarding}, nil)
			m.Poll(context.Background())
			assert.Equal(t, tt.want, m.IsReady())
		})
	}
}

func TestMonitor_NotReadyBeforeFirstPoll(t *testing.T) {
	client := &fakeStatusClient{status: Status{IsConnected: true}}
	m := NewMonitor(client, nil, Config{}, nil)
	assert.False(t, m.IsReady())
}

func TestMonitor_FetchErrorMeansNotReady(t *testing.T) {
	client := &fakeStatusClient{status: Status{IsConnected: true}}
	m := NewMonitor(client, nil, Config{}, nil)
	m.Poll(context.Background())
	require.True(t, m.IsReady())

	client.set(Status{}, errors.New("helper unreachable"))
	m.Poll(context.Background())
	assert.False(t, m.IsReady())
}

func TestMonitor_AppliesForwardedPortOnce(t *testing.T) {
	client := &fakeStatusClient{status: Status{IsConnected: true, ForwardedPort: 51820}}
	var applied []int
	m := NewMonitor(client, nil, Config{PortForwarding: true}, func(port int) {
		applied = append(applied, port)
	})

	m.Poll(context.Background())
	m.Poll(context.Background())
	assert.Equal(t, []int{51820}, applied, "identical ports are not re-applied")

	client.set(Status{IsConnected: true, ForwardedPort: 51821}, nil)
	m.Poll(context.Background())
	assert.Equal(t, []int{51820, 51821}, applied)
}

// overlapStatusClient records whether two fetches ever ran concurrently.
type overlapStatusClient struct {
	mu       sync.Mutex
	inFlight int
	overlap  bool
}

func (c *overlapStatusClient) Status(context.Context) (Status, error) {
	c.mu.Lock()
	c.inFlight++
	if c.inFlight > 1 {
		c.overlap = true
	}
	c.mu.Unlock()

	time.Sleep(2 * time.Millisecond)

	c.mu.Lock()
	c.inFlight--
	c.mu.Unlock()
	return Status{IsConnected: true}, nil
}

func TestMonitor_PollsNeverOverlap(t *testing.T) {
	client := &overlapStatusClient{}
	m := NewMonitor(client, nil, Config{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Poll(context.Background())
		}()
	}
	wg.Wait()

	assert.False(t, client.overlap, "status fetches ran concurrently")
	assert.True(t, m.IsReady())
}

func TestMonitor_RequiredDisconnectsPeer(t *testing.T) {
	statusClient := &fakeStatusClient{status: Status{IsConnected: false}}
	peerClient := &peertest.FakeClient{}
	peerClient.SetConnected(true)

	m := NewMonitor(statusClient, peerClient, Config{Required: true}, nil)
	m.Poll(context.Background())

	assert.False(t, peerClient.IsConnected())
	assert.Equal(t, []string{DisconnectReason}, peerClient.Disconnects())
}

func TestMonitor_NotRequiredLeavesPeerAlone(t *testing.T) {
	statusClient := &fakeStatusClient{status: Status{IsConnected: false}}
	peerClient := &peertest.FakeClient{}
	peerClient.SetConnected(true)

	m := NewMonitor(statusClient, peerClient, Config{Required: false}, nil)
	m.Poll(context.Background())

	assert.True(t, peerClient.IsConnected())
	assert.Empty(t, peerClient.Disconnects())
}

// VPN-gated reconnect: the watchdog never connects while the VPN is down;
// once the helper reports ready with a forwarded port, the overlay applies
// the port and the next tick connects.
func TestMonitor_GatesWatchdogReconnect(t *testing.T) {
	statusClient := &fakeStatusClient{status: Status{IsConnected: false}}
	peerClient := &peertest.FakeClient{}

	var (
		portMu      sync.Mutex
		appliedPort int
	)
	m := NewMonitor(statusClient, peerClient, Config{Required: true, PortForwarding: true}, func(port int) {
		portMu.Lock()
		appliedPort = port
		portMu.Unlock()
	})
	m.Poll(context.Background())

	w := server.NewWatchdog(peerClient, func() server.Credentials {
		return server.Credentials{Address: "server.example.net", Port: 2271, Username: "u", Password: "p"}
	}, server.WithVPNGate(m.IsReady), server.WithBackstopInterval(20*time.Millisecond))

	w.Start()
	defer w.Stop(true)

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, peerClient.ConnectCalls(), "no connect attempts while the VPN is down")
	assert.True(t, w.State().AwaitingVPN)

	statusClient.set(Status{IsConnected: true, ForwardedPort: 51820}, nil)
	m.Poll(context.Background())
	require.True(t, m.IsReady())

	require.Eventually(t, peerClient.IsConnected, 2*time.Second, 10*time.Millisecond)
	portMu.Lock()
	assert.Equal(t, 51820, appliedPort)
	portMu.Unlock()
}

func TestHTTPClient_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/status", r.URL.Path)
		json.NewEncoder(w).Encode(Status{
			IsConnected:   true,
			PublicIP:      "198.51.100.7",
			Location:      "Amsterdam",
			ForwardedPort: 51820,
		})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, time.Second)
	status, err := client.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, status.IsConnected)
	assert.Equal(t, 51820, status.ForwardedPort)
	assert.Equal(t, "Amsterdam", status.Location)
}

func TestHTTPClient_StatusErrorOnNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, time.Second)
	_, err := client.Status(context.Background())
	assert.Error(t, err)
}
