package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"assemblyline/internal/assembly"
	"assemblyline/internal/logging"
	"assemblyline/internal/pipeline"
	"assemblyline/internal/processor"
	"assemblyline/internal/queue"
	"assemblyline/internal/services"
	"assemblyline/internal/templates"
)

const (
	maxEventBytes     = 4 << 20
	defaultListLimit  = 20
	maxListLimit      = 500
	requestIDHeader   = "X-Request-ID"
	shutdownGraceTime = 5 * time.Second
)

// StatusReader is the status store surface the API reads.
type StatusReader interface {
	Get(ctx context.Context, id string) (*assembly.Assembly, error)
	List(ctx context.Context, limit int) ([]*assembly.Assembly, error)
	Stats(ctx context.Context) (map[assembly.State]int, error)
	Ping(ctx context.Context) error
}

// QueueInspector reports queue depth.
type QueueInspector interface {
	Stats(ctx context.Context) (queue.Stats, error)
	Ping(ctx context.Context) error
}

// TemplateCatalog lists templates and probes their steps.
type TemplateCatalog interface {
	List() []templates.Entry
	HealthCheck(ctx context.Context) []pipeline.Health
}

// EventHandler accepts decoded invocations.
type EventHandler interface {
	Handle(ctx context.Context, inv processor.Invocation) (processor.HandleReport, error)
}

// Dependencies wires the API to the rest of the daemon. Nil members disable
// the routes that need them.
type Dependencies struct {
	Status    StatusReader
	Queue     QueueInspector
	Templates TemplateCatalog
	Events    EventHandler
	Logger    *slog.Logger
}

// Server is the HTTP API.
type Server struct {
	bind   string
	deps   Dependencies
	logger *slog.Logger
	router *mux.Router

	listener net.Listener
	server   *http.Server
}

// New builds a server bound to bind. Routes are usable through Handler
// before Start is called.
func New(bind string, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		bind:   strings.TrimSpace(bind),
		deps:   deps,
		logger: logging.NewComponentLogger(logger, "api"),
		router: mux.NewRouter(),
	}
	s.routes()
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(s.requestContext)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/assemblies", s.handleListAssemblies).Methods(http.MethodGet)
	api.HandleFunc("/assemblies/{id}", s.handleAssembly).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodPost)
	api.HandleFunc("/templates", s.handleTemplates).Methods(http.MethodGet)
	api.HandleFunc("/queue", s.handleQueue).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, "not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on the bind address and serves until ctx is cancelled or Stop
// is called. An empty bind address disables the API.
func (s *Server) Start(ctx context.Context) error {
	if s.bind == "" {
		s.logger.Info("api disabled", logging.String(logging.FieldEventType, "api_disabled"))
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server error", "api_serve_failed", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening",
		logging.String(logging.FieldEventType, "api_listening"),
		logging.String("address", listener.Addr().String()),
	)
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, waiting briefly for in-flight requests.
func (s *Server) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGraceTime)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *Server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(services.WithRequestID(r.Context(), id)))
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("api response encode failed", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}

func (s *Server) requestLogger(r *http.Request) *slog.Logger {
	return logging.WithContext(r.Context(), s.logger)
}
