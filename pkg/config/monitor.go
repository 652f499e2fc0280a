package config

import (
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/peerdaemon/peerd/internal/logger"
)

// Monitor publishes immutable configuration snapshots and notifies
// subscribers when the server connection or upload settings change.
//
// Readers call Current and get a snapshot that is never mutated. Writers
// call Set (full reload) or ApplyListenPort (runtime overlay); each
// publishes a fresh snapshot.
type Monitor struct {
	current atomic.Pointer[Options]

	mu           sync.Mutex
	onConnection []func(ServerOptions)
	onUploads    []func(UploadOptions)
}

// NewMonitor creates a monitor seeded with the given options.
func NewMonitor(opts *Options) *Monitor {
	m := &Monitor{}
	m.current.Store(opts.Clone())
	return m
}

// Current returns the latest published snapshot. Callers must not mutate it.
func (m *Monitor) Current() *Options {
	return m.current.Load()
}

// OnConnectionChange registers a callback invoked whenever a published
// snapshot carries different server connection settings than its
// predecessor. Callbacks run synchronously on the publishing goroutine.
func (m *Monitor) OnConnectionChange(fn func(ServerOptions)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnection = append(m.onConnection, fn)
}

// OnUploadsChange registers a callback invoked whenever a published
// snapshot carries different upload settings than its predecessor.
// Callbacks run synchronously on the publishing goroutine.
func (m *Monitor) OnUploadsChange(fn func(UploadOptions)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUploads = append(m.onUploads, fn)
}

// Set publishes a new snapshot and fires change callbacks for each section
// that differs from the previous snapshot.
func (m *Monitor) Set(opts *Options) {
	next := opts.Clone()
	prev := m.current.Swap(next)

	serverChanged := prev == nil || prev.Server != next.Server
	uploadsChanged := prev == nil || !reflect.DeepEqual(prev.Uploads, next.Uploads)
	if !serverChanged && !uploadsChanged {
		return
	}

	m.mu.Lock()
	connection := append(([]func(ServerOptions))(nil), m.onConnection...)
	uploads := append(([]func(UploadOptions))(nil), m.onUploads...)
	m.mu.Unlock()

	if serverChanged {
		logger.Info("server connection settings changed",
			logger.KeyAddress, next.Server.Address,
			"port", next.Server.Port)
		for _, fn := range connection {
			fn(next.Server)
		}
	}
	if uploadsChanged {
		logger.Info("upload settings changed",
			"max_slots", next.Uploads.MaxSlots,
			"groups", len(next.Uploads.Groups))
		for _, fn := range uploads {
			fn(next.Uploads)
		}
	}
}

// Reload loads the configuration from disk and publishes it.
func (m *Monitor) Reload(configPath string) error {
	opts, err := Load(configPath)
	if err != nil {
		return err
	}
	m.Set(opts)
	return nil
}

// Watch reloads and republishes the configuration whenever the file
// changes on disk. Reload failures keep the previous snapshot.
func (m *Monitor) Watch(configPath string) {
	v := viper.New()
	setupViper(v, configPath)
	if _, err := readConfigFile(v); err != nil {
		logger.Warn("config watch disabled", logger.Err(err))
		return
	}
	if v.ConfigFileUsed() == "" {
		return
	}

	v.OnConfigChange(func(fsnotify.Event) {
		if err := m.Reload(configPath); err != nil {
			logger.Error("failed to reload config, keeping previous", logger.Err(err))
		}
	})
	v.WatchConfig()
	logger.Info("watching config file", "path", v.ConfigFileUsed())
}

// ApplyListenPort overlays a new listen port onto the current snapshot
// without firing connection-change callbacks. The session picks the new
// port up on its next connect rather than through a forced restart.
func (m *Monitor) ApplyListenPort(port int) {
	for {
		prev := m.current.Load()
		if prev.Server.ListenPort == port {
			return
		}
		next := prev.Clone()
		next.Server.ListenPort = port
		if m.current.CompareAndSwap(prev, next) {
			logger.Info("listen port updated", "listen_port", port)
			return
		}
	}
}
