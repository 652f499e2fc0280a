package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerdaemon/peerd/internal/bytesize"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

const sampleConfig = `
data_dir: /tmp/peerd-test
server:
  address: server.example.org
  port: 2271
  username: alice
  password: hunter2
  listen_port: 50300
uploads:
  max_slots: 4
  groups:
    - name: leechers
      slots: 1
      priority: 2
      strategy: roundrobin
      speed_limit: 512KiB
searches:
  response_limit: 100
  stale_inactivity_timeout: 45s
`

func TestLoad_ParsesFileWithCustomTypes(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	opts, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/peerd-test", opts.DataDir)
	assert.Equal(t, "server.example.org", opts.Server.Address)
	assert.Equal(t, "alice", opts.Server.Username)
	assert.Equal(t, 4, opts.Uploads.MaxSlots)
	require.Len(t, opts.Uploads.Groups, 1)
	assert.Equal(t, bytesize.ByteSize(512*1024), opts.Uploads.Groups[0].SpeedLimit)
	assert.Equal(t, 45*time.Second, opts.Searches.StaleInactivityTimeout)

	// Unset sections fall back to defaults.
	assert.Equal(t, "INFO", opts.Logging.Level)
	assert.Equal(t, 5030, opts.API.Port)
	assert.Equal(t, 2500*time.Millisecond, opts.VPN.PollInterval)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	t.Setenv("PEERD_SERVER_PASSWORD", "from-env")

	opts, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", opts.Server.Password)
}

func TestLoad_RejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config string
	}{
		{
			name: "missing credentials",
			config: `
data_dir: /tmp/peerd-test
server:
  address: server.example.org
  port: 2271
`,
		},
		{
			name: "listen port below range",
			config: `
data_dir: /tmp/peerd-test
server:
  address: server.example.org
  port: 2271
  username: alice
  password: hunter2
  listen_port: 80
`,
		},
		{
			name: "unknown group strategy",
			config: `
data_dir: /tmp/peerd-test
server:
  address: server.example.org
  port: 2271
  username: alice
  password: hunter2
uploads:
  groups:
    - name: custom
      strategy: lifo
`,
		},
		{
			name: "vpn enabled without url",
			config: `
data_dir: /tmp/peerd-test
server:
  address: server.example.org
  port: 2271
  username: alice
  password: hunter2
vpn:
  enabled: true
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.config))
			require.Error(t, err)
		})
	}
}

func TestValidate_RejectsDuplicateGroups(t *testing.T) {
	opts := GetDefaultOptions()
	opts.Server.Username = "alice"
	opts.Server.Password = "hunter2"
	opts.Uploads.Groups = []GroupOptions{
		{Name: "custom", Slots: 1},
		{Name: "custom", Slots: 2},
	}

	err := Validate(opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate upload group")
}

func TestSave_RoundTrips(t *testing.T) {
	opts := GetDefaultOptions()
	opts.Server.Username = "alice"
	opts.Server.Password = "hunter2"
	opts.Uploads.Groups = []GroupOptions{
		{Name: "leechers", Slots: 1, Priority: 2, Strategy: "roundrobin", SpeedLimit: bytesize.ByteSize(1024)},
	}

	path := filepath.Join(t.TempDir(), "saved", "config.yaml")
	require.NoError(t, Save(opts, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, opts.Server, loaded.Server)
	assert.Equal(t, opts.Uploads.Groups, loaded.Uploads.Groups)
}

func TestClone_IsIndependent(t *testing.T) {
	opts := GetDefaultOptions()
	opts.Uploads.Groups = []GroupOptions{{Name: "custom", Members: []string{"alice"}}}

	clone := opts.Clone()
	clone.Uploads.Groups[0].Name = "changed"
	clone.Uploads.Groups[0].Members[0] = "bob"

	assert.Equal(t, "custom", opts.Uploads.Groups[0].Name)
	assert.Equal(t, "alice", opts.Uploads.Groups[0].Members[0])
}

func TestMonitor_NotifiesOnConnectionChange(t *testing.T) {
	opts := GetDefaultOptions()
	opts.Server.Username = "alice"
	m := NewMonitor(opts)

	var notified []ServerOptions
	m.OnConnectionChange(func(s ServerOptions) {
		notified = append(notified, s)
	})

	// A change outside the server section publishes without notifying.
	next := m.Current().Clone()
	next.Searches.ResponseLimit = 99
	m.Set(next)
	assert.Empty(t, notified)
	assert.Equal(t, 99, m.Current().Searches.ResponseLimit)

	// A server-section change notifies.
	next = m.Current().Clone()
	next.Server.Address = "other.example.org"
	m.Set(next)
	require.Len(t, notified, 1)
	assert.Equal(t, "other.example.org", notified[0].Address)
}

func TestMonitor_NotifiesOnUploadsChange(t *testing.T) {
	opts := GetDefaultOptions()
	m := NewMonitor(opts)

	var uploads []UploadOptions
	connections := 0
	m.OnUploadsChange(func(u UploadOptions) { uploads = append(uploads, u) })
	m.OnConnectionChange(func(ServerOptions) { connections++ })

	// An uploads-only change rebuilds queue groups and buckets but leaves
	// the session alone.
	next := m.Current().Clone()
	next.Uploads.MaxSlots = 99
	next.Uploads.Groups = []GroupOptions{{Name: "custom", Slots: 3, Priority: 1}}
	m.Set(next)
	require.Len(t, uploads, 1)
	assert.Equal(t, 99, uploads[0].MaxSlots)
	assert.Zero(t, connections)
	assert.Equal(t, 99, m.Current().Uploads.MaxSlots)

	// Changing a group's slot count alone still notifies.
	next = m.Current().Clone()
	next.Uploads.Groups[0].Slots = 5
	m.Set(next)
	require.Len(t, uploads, 2)
	assert.Equal(t, 5, uploads[1].Groups[0].Slots)

	// A server-only change never fires the uploads callback.
	next = m.Current().Clone()
	next.Server.Address = "other.example.org"
	m.Set(next)
	assert.Len(t, uploads, 2)
	assert.Equal(t, 1, connections)
}

func TestMonitor_ApplyListenPortDoesNotNotify(t *testing.T) {
	opts := GetDefaultOptions()
	m := NewMonitor(opts)

	notified := 0
	m.OnConnectionChange(func(ServerOptions) { notified++ })

	m.ApplyListenPort(51820)
	assert.Equal(t, 51820, m.Current().Server.ListenPort)
	assert.Zero(t, notified)

	// Applying the same port again keeps the same snapshot.
	snapshot := m.Current()
	m.ApplyListenPort(51820)
	assert.Same(t, snapshot, m.Current())
}
