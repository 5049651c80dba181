package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/glueco/keywarden/internal/counter"
	"github.com/glueco/keywarden/internal/gateway"
	"github.com/glueco/keywarden/internal/handler"
	"github.com/glueco/keywarden/internal/openapi"
	"github.com/glueco/keywarden/internal/plugin"
	"github.com/glueco/keywarden/internal/server/middleware"
	"github.com/glueco/keywarden/internal/service"
	"github.com/glueco/keywarden/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string

	// TLSCertFile/TLSKeyFile enable TLS termination when both are set.
	TLSCertFile string
	TLSKeyFile  string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
	}
}

// Deps bundles the wired components the server routes to.
type Deps struct {
	Store      *store.Store
	Counters   counter.Store
	Auth       *service.AuthService
	Gateway    *gateway.Gateway
	Plugins    *plugin.Registry
	System     *handler.SystemHandler
	Connect    *handler.ConnectHandler
	Discovery  *handler.DiscoveryHandler
	GatewayURL string
}

// Server is the top-level HTTP server for Keywarden. It owns the Chi router
// and fronts three surfaces: the proxy gateway under /r, the unauthenticated
// connect handshake, and the admin API under /api/v1/system.
type Server struct {
	cfg        Config
	router     chi.Router
	deps       Deps
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type",
			"x-pop-v", "x-app-id", "x-ts", "x-nonce", "x-sig",
		},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// --- Health checks (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	// --- Resource discovery (no auth required) ---
	r.Get("/discovery", s.deps.Discovery.Discover)
	r.Get("/openapi.json", s.handleOpenAPI)

	// --- Pairing handshake. Unauthenticated, so IP rate limited. ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(30))
		r.Post("/connect", s.deps.Connect.Redeem)
		r.Get("/connect/{requestID}", s.deps.Connect.Poll)
	})

	// --- Proxy gateway. Authentication happens inside the pipeline via
	// per-request PoP signatures. The header limiter is a coarse abuse
	// backstop keyed on the claimed app ID; the policy engine enforces the
	// real per-permission limits. ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByHeader("x-app-id", 600))
		r.Handle("/r/*", http.StripPrefix("/r", s.deps.Gateway))
	})

	// --- Admin API ---
	r.Route("/api/v1/system", func(r chi.Router) {
		sys := s.deps.System

		// Login is unauthenticated and brute-force limited; logout is a
		// client-side token discard.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(10))
			r.Post("/session", sys.Login)
		})
		r.Delete("/session", sys.Logout)

		// Everything else requires an admin session.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(s.deps.Auth))

			// Resource management
			r.Get("/resources", sys.ListResources)
			r.Post("/resources", sys.CreateResource)
			r.Get("/resources/{resourceID}", sys.GetResource)
			r.Patch("/resources/{resourceID}", sys.UpdateResource)
			r.Delete("/resources/{resourceID}", sys.DeleteResource)

			// App management
			r.Get("/apps", sys.ListApps)
			r.Get("/apps/{appID}", sys.GetApp)
			r.Patch("/apps/{appID}", sys.UpdateAppStatus)
			r.Get("/apps/{appID}/permissions", sys.ListPermissions)
			r.Post("/apps/{appID}/permissions", sys.CreatePermission)
			r.Get("/apps/{appID}/usage", sys.GetUsage)

			// Permission management
			r.Patch("/permissions/{permissionID}", sys.UpdatePermission)
			r.Delete("/permissions/{permissionID}", sys.RevokePermission)

			// Pairing and connect decisions
			r.Post("/pairing-codes", sys.CreatePairingCode)
			r.Get("/connect-requests", sys.ListConnectRequests)
			r.Get("/connect-requests/{requestID}", sys.GetConnectRequest)
			r.Post("/connect-requests/{requestID}/approve", sys.ApproveConnectRequest)
			r.Post("/connect-requests/{requestID}/deny", sys.DenyConnectRequest)

			// Observability
			r.Get("/logs", sys.ListRequestLogs)
		})
	})

	s.router = r
}

// handleOpenAPI serves the generated proxy-surface OpenAPI document.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	resources, err := s.deps.Store.ListResources(r.Context())
	if err != nil {
		http.Error(w, "failed to list resources", http.StatusInternalServerError)
		return
	}
	doc := openapi.GenerateSpec(resources, s.deps.Plugins, s.deps.GatewayURL)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the store is
// reachable, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := make(map[string]string)

	if err := s.deps.Store.Ping(r.Context()); err != nil {
		checks["store"] = "error: " + err.Error()
		status = "degraded"
	} else {
		checks["store"] = "ok"
	}

	if s.deps.Counters != nil {
		if _, err := s.deps.Counters.Get(r.Context(), "readyz:probe"); err != nil {
			checks["counters"] = "error: " + err.Error()
			status = "degraded"
		} else {
			checks["counters"] = "ok"
		}
	}

	if status != "ok" {
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before closing the store and counter backend.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// No write timeout: streaming relays stay open as long as the
		// upstream keeps sending.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start server in background goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr, "tls", s.cfg.TLSCertFile != "")
		var err error
		if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	if s.deps.Counters != nil {
		s.deps.Counters.Close()
	}
	s.deps.Store.Close()
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
