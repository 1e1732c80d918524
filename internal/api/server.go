// Package api implements the dashboard HTTP API: the chat endpoint, the
// Home Assistant proxy and the snapshot, usage and health endpoints.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/nugget/hearth/internal/config"
	"github.com/nugget/hearth/internal/connwatch"
	"github.com/nugget/hearth/internal/metrics"
	"github.com/nugget/hearth/internal/session"
	"github.com/nugget/hearth/internal/snapshot"
	"github.com/nugget/hearth/internal/usage"
)

// Chatter runs chat turns. *session.Engine satisfies it.
type Chatter interface {
	Run(ctx context.Context, req *session.Request) (*session.Response, error)
}

// SnapshotBuilder builds home snapshots. *snapshot.Builder satisfies it.
type SnapshotBuilder interface {
	Build(ctx context.Context) (*snapshot.Snapshot, error)
}

// HomeAssistant is the part of the HA client the server uses directly.
// *homeassistant.Client satisfies it.
type HomeAssistant interface {
	Ping(ctx context.Context) error
	Do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error)
}

// Reachability reports cached Home Assistant reachability.
// *connwatch.Watcher satisfies it.
type Reachability interface {
	Status() connwatch.Status
}

// maxBodyBytes bounds request bodies accepted by the API.
const maxBodyBytes = 4 << 20

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	cfg      *config.Config
	chat     Chatter
	ha       HomeAssistant
	builder  SnapshotBuilder
	watch    Reachability
	usage    *usage.Store
	metrics  *metrics.Collector
	renderer snapshot.Renderer
	logger   *slog.Logger
	server   *http.Server
}

// NewServer creates a server. Optional collaborators are attached with
// the Set methods before Start.
func NewServer(cfg *config.Config, chat Chatter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		chat:     chat,
		renderer: snapshot.Renderer{ActivityLimit: cfg.Assistant.ActivityLimit},
		logger:   logger.With("component", "api"),
	}
}

// SetHomeAssistant enables the proxy, health probe and server-side
// snapshots.
func (s *Server) SetHomeAssistant(ha HomeAssistant, builder SnapshotBuilder) {
	s.ha = ha
	s.builder = builder
}

// SetWatcher makes health and chat use cached reachability instead of
// probing Home Assistant per request.
func (s *Server) SetWatcher(w Reachability) {
	s.watch = w
}

// SetUsageStore enables GET /api/usage.
func (s *Server) SetUsageStore(store *usage.Store) {
	s.usage = store
}

// SetMetrics enables GET /metrics and request counting.
func (s *Server) SetMetrics(m *metrics.Collector) {
	s.metrics = m
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestID)
	r.Use(middleware.RealIP)
	r.Use(s.withLogging)
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}
	if len(s.cfg.Listen.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.Listen.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", requestIDHeader},
			ExposedHeaders: []string{requestIDHeader},
			MaxAge:         300,
		}))
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		s.errorResponse(w, http.StatusNotFound, errorBody{Error: "Not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		s.errorResponse(w, http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed"})
	})

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/context", s.handleContext)
		r.Get("/usage", s.handleUsage)
		r.HandleFunc("/ha", s.handleProxy)
		r.HandleFunc("/ha/*", s.handleProxy)
	})

	return r
}

// Start serves HTTP until the server is shut down.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Listen.Address, s.cfg.Listen.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.cfg.Assistant.TurnTimeout + 30*time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	addr := s.cfg.Listen.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.cfg.Listen.Port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// homeDown reports whether the watcher has seen Home Assistant fail
// its latest probe. Without a watcher, or before the first probe, the
// answer is false.
func (s *Server) homeDown() (bool, connwatch.Status) {
	if s.watch == nil {
		return false, connwatch.Status{}
	}
	st := s.watch.Status()
	return !st.Checked.IsZero() && !st.Reachable, st
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
