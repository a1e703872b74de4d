// Package server provides the HTTP server and routing for the operator API.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/vaultpilot/internal/config"
	"github.com/aristath/vaultpilot/internal/di"
	allocationhandlers "github.com/aristath/vaultpilot/internal/modules/allocation/handlers"
	priceshandlers "github.com/aristath/vaultpilot/internal/modules/prices/handlers"
	rebalancinghandlers "github.com/aristath/vaultpilot/internal/modules/rebalancing/handlers"
	takeprofithandlers "github.com/aristath/vaultpilot/internal/modules/takeprofit/handlers"
	"github.com/aristath/vaultpilot/internal/scheduler"
)

// Config holds server configuration
type Config struct {
	Log       zerolog.Logger
	Config    *config.Config
	Container *di.Container
	Jobs      *di.JobInstances
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            *config.Config
	container      *di.Container
	systemHandlers *SystemHandlers
	eventsStream   *EventsStreamHandler
	cancel         context.CancelFunc
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	var jobs map[string]scheduler.Job
	if cfg.Jobs != nil {
		jobs = cfg.Jobs.ByName()
	}
	var runner JobRunner
	if cfg.Container.Scheduler != nil {
		runner = cfg.Container.Scheduler
	}

	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		cfg:       cfg.Config,
		container: cfg.Container,
		systemHandlers: NewSystemHandlers(
			cfg.Log,
			cfg.Config.DataDir,
			cfg.Container.Databases(),
			cfg.Container.VaultRepo,
			runner,
			jobs,
		),
		eventsStream: NewEventsStreamHandler(cfg.Container.EventBus, cfg.Config.DevMode, cfg.Log),
		cancel:       cancel,
	}

	s.setupMiddleware()
	s.setupRoutes(cfg.Config.DevMode)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 75 * time.Second,
		IdleTimeout:  60 * time.Second,
		// Hijacked websocket connections are not closed by Shutdown; they
		// end when this context is cancelled
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	return s
}

func (s *Server) setupMiddleware() {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes(devMode bool) {
	s.router.Get("/health", s.handleHealth)

	c := s.container
	s.router.Route("/api", func(r chi.Router) {
		// Long-lived stream, outside the request timeout
		r.Get("/events/ws", s.eventsStream.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			if !devMode {
				r.Use(middleware.Compress(5))
			}

			allocationhandlers.NewHandler(c.VaultRepo, c.EventManager, s.log).RegisterRoutes(r)
			priceshandlers.NewHandler(c.PriceRepo, c.EventManager, s.log).RegisterRoutes(r)
			rebalancinghandlers.NewHandler(c.RebalancingService, c.HistoryRepo, s.log).RegisterRoutes(r)
			takeprofithandlers.NewHandler(c.TakeProfitService, s.log).RegisterRoutes(r)

			r.Route("/system", func(r chi.Router) {
				r.Get("/status", s.systemHandlers.HandleSystemStatus)
				r.Get("/jobs", s.systemHandlers.HandleListJobs)
				r.Post("/jobs/{name}/run", s.systemHandlers.HandleRunJob)
			})
		})
	})
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server and ends open event streams
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	s.cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
