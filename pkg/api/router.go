package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/peerdaemon/peerd/internal/logger"
	"github.com/peerdaemon/peerd/pkg/api/handlers"
	"github.com/peerdaemon/peerd/pkg/hub"
	"github.com/peerdaemon/peerd/pkg/peer"
	"github.com/peerdaemon/peerd/pkg/search"
	"github.com/peerdaemon/peerd/pkg/server"
	"github.com/peerdaemon/peerd/pkg/transfers"
	"github.com/peerdaemon/peerd/pkg/uploads"
	"github.com/peerdaemon/peerd/pkg/vpn"
)

// Dependencies collects the services the router exposes. Events may be nil,
// in which case the websocket endpoint is not mounted.
type Dependencies struct {
	Client        peer.Client
	Watchdog      *server.Watchdog
	Searches      *search.Service
	SearchOptions peer.SearchOptions
	SearchStale   time.Duration
	TransferStore *transfers.Store
	Tracker       *transfers.Tracker
	Queue         *uploads.Queue
	VPN           *vpn.Monitor
	Broadcaster   hub.Broadcaster
	Events        http.Handler
}

// NewRouter creates the chi router with all middleware and routes.
//
// The request timeout applies to every route except the websocket event
// stream, which stays open for the life of the client.
func NewRouter(cfg Config, deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Middleware stack, order matters.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	healthHandler := handlers.NewHealthHandler(deps.Client)

	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	r.Route("/api/v0", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.RequestTimeout))

			if deps.Watchdog != nil {
				serverHandler := handlers.NewServerHandler(deps.Watchdog, deps.Client)
				r.Route("/server", func(r chi.Router) {
					r.Get("/", serverHandler.Get)
					r.Put("/connection", serverHandler.SetConnection)
				})
			}

			if deps.Searches != nil {
				searchHandler := handlers.NewSearchHandler(deps.Searches, deps.SearchOptions, deps.SearchStale)
				r.Route("/searches", func(r chi.Router) {
					r.Post("/", searchHandler.Create)
					r.Get("/", searchHandler.List)
					r.Get("/{id}", searchHandler.Get)
					r.Put("/{id}/cancel", searchHandler.Cancel)
					r.Delete("/{id}", searchHandler.Delete)
				})
			}

			if deps.TransferStore != nil {
				transferHandler := handlers.NewTransferHandler(deps.TransferStore, deps.Tracker, deps.Broadcaster)
				r.Route("/transfers/{direction}", func(r chi.Router) {
					r.Get("/", transferHandler.List)
					r.Get("/{id}", transferHandler.Get)
					r.Delete("/{id}", transferHandler.Delete)
				})
			}

			if deps.Queue != nil {
				uploadHandler := handlers.NewUploadHandler(deps.Queue)
				r.Get("/uploads/queue", uploadHandler.Queue)
			}

			vpnHandler := handlers.NewVPNHandler(deps.VPN)
			r.Get("/vpn", vpnHandler.Get)
		})

		if deps.Events != nil {
			r.Handle("/events", deps.Events)
		}
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

// requestLogger logs requests using the internal logger: start at DEBUG,
// completion at INFO with status and duration.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
