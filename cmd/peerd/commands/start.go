package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/peerdaemon/peerd/internal/logger"
	"github.com/peerdaemon/peerd/pkg/api"
	"github.com/peerdaemon/peerd/pkg/config"
	"github.com/peerdaemon/peerd/pkg/database"
	"github.com/peerdaemon/peerd/pkg/hub"
	"github.com/peerdaemon/peerd/pkg/metrics"
	promMetrics "github.com/peerdaemon/peerd/pkg/metrics/prometheus"
	"github.com/peerdaemon/peerd/pkg/migrations"
	"github.com/peerdaemon/peerd/pkg/peer"
	"github.com/peerdaemon/peerd/pkg/ratelimit"
	"github.com/peerdaemon/peerd/pkg/search"
	"github.com/peerdaemon/peerd/pkg/server"
	"github.com/peerdaemon/peerd/pkg/transfers"
	"github.com/peerdaemon/peerd/pkg/uploads"
	"github.com/peerdaemon/peerd/pkg/vpn"

	// Built-in peer driver for development and testing.
	_ "github.com/peerdaemon/peerd/pkg/peer/peersim"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the peerd daemon",
	Long: `Start the peerd daemon with the specified configuration.

Pending database migrations run first; the daemon refuses to start if they
fail. Use --config to specify a custom configuration file, or it will use
the default location at $XDG_CONFIG_HOME/peerd/config.yaml.

Examples:
  # Start with default config location
  peerd start

  # Start with custom config file
  peerd start --config /etc/peerd/config.yaml

  # Use environment variables to override config
  PEERD_LOGGING_LEVEL=DEBUG peerd start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("configuration loaded", "source", configSource(GetConfigFile()))

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("metrics enabled", "port", cfg.Metrics.Port)
	}

	// Migrations run to completion before any store opens the databases.
	dbCfg := &database.Config{DataDir: cfg.DataDir}
	migrator := migrations.NewMigrator(dbCfg, migrations.Registry(dbCfg, cfg.Flags.Development)...)
	if err := migrator.Migrate(ctx, false); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	searchDB, err := database.Open(dbCfg.Path(database.SearchFile))
	if err != nil {
		return fmt.Errorf("failed to open search database: %w", err)
	}
	searchStore, err := search.NewStore(searchDB)
	if err != nil {
		return fmt.Errorf("failed to initialize search store: %w", err)
	}

	transfersDB, err := database.Open(dbCfg.Path(database.TransfersFile))
	if err != nil {
		return fmt.Errorf("failed to open transfers database: %w", err)
	}
	transferStore, err := transfers.NewStore(transfersDB)
	if err != nil {
		return fmt.Errorf("failed to initialize transfers store: %w", err)
	}

	client, err := peer.Open(cfg.Server.Driver)
	if err != nil {
		return err
	}
	logger.Info("peer client ready", "driver", cfg.Server.Driver)

	eventHub := hub.NewHub()
	defer eventHub.Close()

	monitor := config.NewMonitor(cfg)
	monitor.Watch(GetConfigFile())

	tracker := transfers.NewTracker()
	resolver := groupResolver(monitor)

	queue := uploads.NewQueue(cfg.Uploads.MaxSlots, groupConfigs(cfg), resolver)
	queue.SetMetrics(promMetrics.NewUploadMetrics())

	governor := ratelimit.NewGovernor(resolver, groupLimits(cfg))
	governor.SetMetrics(promMetrics.NewUploadMetrics())
	defer governor.Close()

	searchService := search.NewService(client, searchStore, eventHub, promMetrics.NewSearchMetrics())
	defer searchService.Close()

	var vpnMonitor *vpn.Monitor
	var watchdogOpts []server.Option
	if cfg.VPN.Enabled {
		var applyPort func(int)
		if cfg.VPN.PortForwarding {
			applyPort = monitor.ApplyListenPort
		}
		vpnMonitor = vpn.NewMonitor(
			vpn.NewHTTPClient(cfg.VPN.URL, 0),
			client,
			vpn.Config{
				Required:       cfg.VPN.Required,
				PortForwarding: cfg.VPN.PortForwarding,
				PollInterval:   cfg.VPN.PollInterval,
			},
			applyPort,
		)
		// Prime the status once so the first connect attempt sees it.
		vpnMonitor.Poll(ctx)
		vpnMonitor.Start()
		defer vpnMonitor.Stop()

		if cfg.VPN.Required {
			watchdogOpts = append(watchdogOpts, server.WithVPNGate(vpnMonitor.IsReady))
		}
		logger.Info("VPN integration enabled", "url", cfg.VPN.URL, "required", cfg.VPN.Required)
	}

	watchdogOpts = append(watchdogOpts, server.WithMetrics(promMetrics.NewServerMetrics()))
	watchdog := server.NewWatchdog(client, func() server.Credentials {
		srv := monitor.Current().Server
		return server.Credentials{
			Address:  srv.Address,
			Port:     srv.Port,
			Username: srv.Username,
			Password: srv.Password,
		}
	}, watchdogOpts...)

	// A connection-settings change tears the session down and reconnects
	// with the new credentials. Listen-port overlays bypass this on purpose.
	monitor.OnConnectionChange(func(config.ServerOptions) {
		watchdog.Restart()
	})
	// Upload-settings changes rebuild the queue groups and rate buckets
	// without touching the session.
	monitor.OnUploadsChange(func(config.UploadOptions) {
		next := monitor.Current()
		queue.Reconfigure(next.Uploads.MaxSlots, groupConfigs(next))
		governor.Reconfigure(groupLimits(next))
	})

	watchdog.Start()
	defer watchdog.Stop(true)

	go publishServerState(ctx, watchdog, eventHub)

	serverDone := make(chan error, 2)

	if cfg.API.Enabled {
		apiServer := api.NewServer(api.Config{
			Host:           cfg.API.Host,
			Port:           cfg.API.Port,
			RequestTimeout: cfg.API.RequestTimeout,
		}, api.Dependencies{
			Client:        client,
			Watchdog:      watchdog,
			Searches:      searchService,
			SearchOptions: searchOptions(cfg),
			SearchStale:   cfg.Searches.StaleInactivityTimeout,
			TransferStore: transferStore,
			Tracker:       tracker,
			Queue:         queue,
			VPN:           vpnMonitor,
			Broadcaster:   eventHub,
			Events:        eventHub,
		})
		go func() { serverDone <- apiServer.Start(ctx) }()
	} else {
		logger.Info("API server disabled")
	}

	if cfg.Metrics.Enabled {
		metricsServer := &http.Server{
			Addr:    ":" + strconv.Itoa(cfg.Metrics.Port),
			Handler: metrics.Handler(),
		}
		go func() {
			logger.Info("metrics server listening", "port", cfg.Metrics.Port)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serverDone <- fmt.Errorf("metrics server failed: %w", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("daemon is running, press Ctrl+C to stop")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, initiating graceful shutdown")
		cancel()

		shutdownDone := make(chan struct{})
		go func() {
			watchdog.Stop(true)
			if client.IsConnected() {
				_ = client.Disconnect("daemon shutting down")
			}
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
			logger.Info("daemon stopped gracefully")
		case <-time.After(cfg.ShutdownTimeout):
			logger.Warn("shutdown timeout exceeded, exiting")
		}

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("server error", logger.Err(err))
			return err
		}
	}

	return nil
}

// configSource returns a description of where the config was loaded from.
func configSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if _, err := os.Stat(config.GetDefaultConfigPath()); err == nil {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// groupConfigs converts configured upload groups to queue policies.
func groupConfigs(cfg *config.Options) []uploads.GroupConfig {
	out := make([]uploads.GroupConfig, 0, len(cfg.Uploads.Groups))
	for _, g := range cfg.Uploads.Groups {
		strategy := uploads.FirstInFirstOut
		if g.Strategy != "" {
			// Validation already rejected unknown strategies.
			strategy, _ = uploads.ParseStrategy(g.Strategy)
		}
		out = append(out, uploads.GroupConfig{
			Name:     g.Name,
			Slots:    g.Slots,
			Priority: g.Priority,
			Strategy: strategy,
		})
	}
	return out
}

// groupLimits converts configured speed limits to per-group KiB/s.
func groupLimits(cfg *config.Options) ratelimit.GroupLimits {
	limits := make(ratelimit.GroupLimits, len(cfg.Uploads.Groups))
	for _, g := range cfg.Uploads.Groups {
		limits[g.Name] = int(g.SpeedLimit.Bytes() / 1024)
	}
	return limits
}

// groupResolver maps usernames to their configured upload group, always
// reading the latest published snapshot.
func groupResolver(monitor *config.Monitor) func(username string) string {
	return func(username string) string {
		for _, g := range monitor.Current().Uploads.Groups {
			for _, member := range g.Members {
				if member == username {
					return g.Name
				}
			}
		}
		return ""
	}
}

// searchOptions derives the default per-search options from configuration.
func searchOptions(cfg *config.Options) peer.SearchOptions {
	return peer.SearchOptions{
		ResponseLimit:            cfg.Searches.ResponseLimit,
		FileLimit:                cfg.Searches.FileLimit,
		FilterResponses:          cfg.Searches.FilterResponses,
		MinimumResponseFileCount: cfg.Searches.MinimumResponseFileCount,
	}
}

// publishServerState broadcasts the watchdog state whenever it changes, so
// connected UIs track the session without polling.
func publishServerState(ctx context.Context, watchdog *server.Watchdog, broadcaster hub.Broadcaster) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	last := watchdog.State()
	broadcaster.Broadcast(hub.Event{Name: hub.EventServerState, Data: last})

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state := watchdog.State()
			if !sameServerState(state, last) {
				broadcaster.Broadcast(hub.Event{Name: hub.EventServerState, Data: state})
				last = state
			}
		}
	}
}

func sameServerState(a, b server.State) bool {
	if a.Enabled != b.Enabled || a.Connected != b.Connected ||
		a.Attempts != b.Attempts || a.AwaitingVPN != b.AwaitingVPN {
		return false
	}
	switch {
	case a.NextAttemptAt == nil && b.NextAttemptAt == nil:
		return true
	case a.NextAttemptAt == nil || b.NextAttemptAt == nil:
		return false
	default:
		return a.NextAttemptAt.Equal(*b.NextAttemptAt)
	}
}
