// Package config loads, validates, and watches the daemon configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (PEERD_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"time"

	"github.com/peerdaemon/peerd/internal/bytesize"
)

// Options is the complete daemon configuration. Snapshots are immutable:
// the monitor publishes a fresh value on every change and readers never
// mutate one in place.
type Options struct {
	// Logging controls log output behavior.
	Logging LoggingOptions `mapstructure:"logging" yaml:"logging"`

	// DataDir holds the databases, migration history, and backups.
	DataDir string `mapstructure:"data_dir" validate:"required" yaml:"data_dir"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Server configures the upstream server session.
	Server ServerOptions `mapstructure:"server" yaml:"server"`

	// Uploads configures upload slots, groups, and speed limits.
	Uploads UploadOptions `mapstructure:"uploads" yaml:"uploads"`

	// Searches configures search throttling and termination.
	Searches SearchOptions `mapstructure:"searches" yaml:"searches"`

	// VPN configures the optional VPN helper integration.
	VPN VPNOptions `mapstructure:"vpn" yaml:"vpn"`

	// API configures the HTTP/JSON control surface.
	API APIOptions `mapstructure:"api" yaml:"api"`

	// Metrics configures the Prometheus metrics endpoint.
	Metrics MetricsOptions `mapstructure:"metrics" yaml:"metrics"`

	// Flags toggles development behavior.
	Flags FlagOptions `mapstructure:"flags" yaml:"flags"`
}

// LoggingOptions controls logging behavior.
type LoggingOptions struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is the log output format: text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// ServerOptions identify and locate the upstream server session.
// Changing any of these restarts the connection watchdog.
type ServerOptions struct {
	// Driver selects the registered peer client implementation. Protocol
	// drivers register themselves by name; "simulated" is built in.
	Driver string `mapstructure:"driver" validate:"required" yaml:"driver"`

	// Address of the upstream server.
	Address string `mapstructure:"address" validate:"required" yaml:"address"`

	// Port of the upstream server.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535" yaml:"port"`

	// Username of the client identity.
	Username string `mapstructure:"username" validate:"required" yaml:"username"`

	// Password of the client identity.
	Password string `mapstructure:"password" validate:"required" yaml:"password"`

	// ListenPort accepts inbound peer connections. The VPN overlay updates
	// it at runtime when a forwarded port appears.
	ListenPort int `mapstructure:"listen_port" validate:"omitempty,min=1024,max=65535" yaml:"listen_port"`
}

// UploadOptions configure the upload queue and bandwidth governor.
type UploadOptions struct {
	// MaxSlots caps concurrent uploads across all groups.
	MaxSlots int `mapstructure:"max_slots" validate:"min=0" yaml:"max_slots"`

	// Groups configure per-group slots, priority, strategy, and speed.
	// The builtin groups default, leechers, and privileged always exist;
	// entries here override them or add custom groups.
	Groups []GroupOptions `mapstructure:"groups" yaml:"groups"`
}

// GroupOptions configure one upload group.
type GroupOptions struct {
	// Name of the group.
	Name string `mapstructure:"name" validate:"required" yaml:"name"`

	// Slots caps concurrent uploads in the group.
	Slots int `mapstructure:"slots" validate:"min=0" yaml:"slots"`

	// Priority orders groups during slot assignment; lower drains first.
	Priority int `mapstructure:"priority" validate:"min=0" yaml:"priority"`

	// Strategy picks the next entry within the group: fifo or roundrobin.
	Strategy string `mapstructure:"strategy" validate:"omitempty,oneof=fifo FirstInFirstOut roundrobin rr RoundRobin" yaml:"strategy"`

	// SpeedLimit caps the group's aggregate upload rate per second.
	// Zero means unlimited. Supports human-readable sizes: "512KiB", "1MB".
	SpeedLimit bytesize.ByteSize `mapstructure:"speed_limit" yaml:"speed_limit,omitempty"`

	// Members lists usernames resolved into this group.
	Members []string `mapstructure:"members" yaml:"members,omitempty"`
}

// SearchOptions configure search behavior.
type SearchOptions struct {
	// ResponseLimit ends a search after this many responses. Zero disables.
	ResponseLimit int `mapstructure:"response_limit" validate:"min=0" yaml:"response_limit"`

	// FileLimit ends a search after this many files. Zero disables.
	FileLimit int `mapstructure:"file_limit" validate:"min=0" yaml:"file_limit"`

	// FilterResponses drops responses failing the minimums below.
	FilterResponses bool `mapstructure:"filter_responses" yaml:"filter_responses"`

	// MinimumResponseFileCount drops responses carrying fewer files.
	MinimumResponseFileCount int `mapstructure:"minimum_response_file_count" validate:"min=0" yaml:"minimum_response_file_count"`

	// StaleInactivityTimeout force-cancels a search stuck in Requested.
	StaleInactivityTimeout time.Duration `mapstructure:"stale_inactivity_timeout" yaml:"stale_inactivity_timeout"`
}

// VPNOptions configure the VPN helper integration.
type VPNOptions struct {
	// Enabled turns the integration on.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Required disconnects the session whenever the VPN is not ready.
	Required bool `mapstructure:"required" yaml:"required"`

	// URL of the helper's status endpoint.
	URL string `mapstructure:"url" validate:"required_if=Enabled true,omitempty,url" yaml:"url"`

	// PortForwarding gates readiness on a usable forwarded port and
	// applies it to the listen port.
	PortForwarding bool `mapstructure:"port_forwarding" yaml:"port_forwarding"`

	// PollInterval between status fetches.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// APIOptions configure the HTTP/JSON API server.
type APIOptions struct {
	// Enabled turns the API server on.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Host to bind. Empty binds all interfaces.
	Host string `mapstructure:"host" yaml:"host"`

	// Port to bind.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// RequestTimeout bounds request handling.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// MetricsOptions configure the Prometheus metrics endpoint.
type MetricsOptions struct {
	// Enabled turns metrics collection and the endpoint on.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port for the metrics HTTP server.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// FlagOptions toggle development behavior.
type FlagOptions struct {
	// Development enables development-only migrations and verbose errors.
	Development bool `mapstructure:"development" yaml:"development"`
}

// GetDefaultOptions returns the baseline configuration.
func GetDefaultOptions() *Options {
	return &Options{
		Logging: LoggingOptions{
			Level:  "INFO",
			Format: "text",
			Output: "stdout",
		},
		DataDir:         defaultDataDir(),
		ShutdownTimeout: 30 * time.Second,
		Server: ServerOptions{
			Driver:     "simulated",
			Address:    "server.slsknet.org",
			Port:       2271,
			ListenPort: 50300,
		},
		Uploads: UploadOptions{
			MaxSlots: 10,
		},
		Searches: SearchOptions{
			ResponseLimit:          250,
			FileLimit:              10000,
			StaleInactivityTimeout: time.Minute,
		},
		VPN: VPNOptions{
			PollInterval: 2500 * time.Millisecond,
		},
		API: APIOptions{
			Enabled:        true,
			Port:           5030,
			RequestTimeout: 60 * time.Second,
		},
		Metrics: MetricsOptions{
			Port: 5031,
		},
	}
}

// ApplyDefaults fills zero values with the defaults.
func ApplyDefaults(opts *Options) {
	defaults := GetDefaultOptions()

	if opts.Logging.Level == "" {
		opts.Logging.Level = defaults.Logging.Level
	}
	if opts.Logging.Format == "" {
		opts.Logging.Format = defaults.Logging.Format
	}
	if opts.Logging.Output == "" {
		opts.Logging.Output = defaults.Logging.Output
	}
	if opts.DataDir == "" {
		opts.DataDir = defaults.DataDir
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if opts.Server.Driver == "" {
		opts.Server.Driver = defaults.Server.Driver
	}
	if opts.Server.Address == "" {
		opts.Server.Address = defaults.Server.Address
	}
	if opts.Server.Port == 0 {
		opts.Server.Port = defaults.Server.Port
	}
	if opts.Server.ListenPort == 0 {
		opts.Server.ListenPort = defaults.Server.ListenPort
	}
	if opts.Uploads.MaxSlots == 0 {
		opts.Uploads.MaxSlots = defaults.Uploads.MaxSlots
	}
	if opts.Searches.ResponseLimit == 0 {
		opts.Searches.ResponseLimit = defaults.Searches.ResponseLimit
	}
	if opts.Searches.FileLimit == 0 {
		opts.Searches.FileLimit = defaults.Searches.FileLimit
	}
	if opts.Searches.StaleInactivityTimeout == 0 {
		opts.Searches.StaleInactivityTimeout = defaults.Searches.StaleInactivityTimeout
	}
	if opts.VPN.PollInterval == 0 {
		opts.VPN.PollInterval = defaults.VPN.PollInterval
	}
	if opts.API.Port == 0 {
		opts.API.Port = defaults.API.Port
	}
	if opts.API.RequestTimeout == 0 {
		opts.API.RequestTimeout = defaults.API.RequestTimeout
	}
	if opts.Metrics.Port == 0 {
		opts.Metrics.Port = defaults.Metrics.Port
	}
}

// Clone returns a deep copy, so overlays never mutate a published snapshot.
func (o *Options) Clone() *Options {
	clone := *o
	clone.Uploads.Groups = make([]GroupOptions, len(o.Uploads.Groups))
	copy(clone.Uploads.Groups, o.Uploads.Groups)
	for i, g := range o.Uploads.Groups {
		members := make([]string, len(g.Members))
		copy(members, g.Members)
		clone.Uploads.Groups[i].Members = members
	}
	return &clone
}
