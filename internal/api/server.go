// Package api implements the Taskmate HTTP API: the chat endpoint, task
// and user REST resources, token issuance and the live event feed.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/net/netutil"

	"github.com/nugget/taskmate/internal/auth"
	"github.com/nugget/taskmate/internal/chat"
	"github.com/nugget/taskmate/internal/connwatch"
	"github.com/nugget/taskmate/internal/events"
	"github.com/nugget/taskmate/internal/observability"
	"github.com/nugget/taskmate/internal/tasks"
	"github.com/nugget/taskmate/internal/tools"
	"github.com/nugget/taskmate/internal/usage"
)

// Store is the persistence the API needs. *tasks.Store implements it.
type Store interface {
	tools.TaskStore
	GetTask(ctx context.Context, id int64) (*tasks.Task, error)
	ListTasks(ctx context.Context, f tasks.ListFilter) ([]*tasks.Task, error)
	ListUsers(ctx context.Context) ([]*tasks.User, error)
	GetOrCreateToken(ctx context.Context, userID int64) (*tasks.Token, error)
}

// ChatProcessor runs one chat message. *chat.Service implements it.
type ChatProcessor interface {
	ProcessChat(ctx context.Context, text string, actorID int64) ([]chat.ToolRecord, error)
}

// HealthReporter reports dependency readiness. *connwatch.Manager
// implements it.
type HealthReporter interface {
	Status() map[string]connwatch.Status
}

// UsageReader aggregates recorded model usage. *usage.Store implements it.
type UsageReader interface {
	Summary(ctx context.Context, actorID int64, start, end time.Time) (*usage.Summary, error)
	SummaryByModel(ctx context.Context, actorID int64, start, end time.Time) (map[string]*usage.Summary, error)
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address  string
	port     int
	maxConns int

	store     Store
	auth      *auth.Authenticator
	chat      ChatProcessor
	validator *tools.Validator
	validate  *validator.Validate
	limiter   *actorLimiter
	bus       *events.Bus
	metrics   *observability.Metrics
	health    HealthReporter
	usage     UsageReader

	logger *slog.Logger
	server *http.Server
}

// NewServer creates a new API server.
func NewServer(address string, port int, store Store, authn *auth.Authenticator, chatSvc ChatProcessor, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:   address,
		port:      port,
		store:     store,
		auth:      authn,
		chat:      chatSvc,
		validator: tools.NewValidator(store, tasks.DefaultEnums()),
		validate:  newValidate(),
		logger:    logger,
	}
}

// SetEnums replaces the status and priority sets used by the REST
// serializers.
func (s *Server) SetEnums(e tasks.Enums) {
	s.validator = tools.NewValidator(s.store, e)
}

// SetEvents configures the bus REST mutations publish to and the
// websocket feed reads from.
func (s *Server) SetEvents(bus *events.Bus) {
	s.bus = bus
}

// SetMetrics enables request metrics and the /metrics endpoint.
func (s *Server) SetMetrics(m *observability.Metrics) {
	s.metrics = m
}

// SetHealth adds per-dependency detail to /health.
func (s *Server) SetHealth(h HealthReporter) {
	s.health = h
}

// SetUsage enables /api/usage/.
func (s *Server) SetUsage(u UsageReader) {
	s.usage = u
}

// SetRateLimit bounds chat requests per actor per minute. Zero disables
// the limit.
func (s *Server) SetRateLimit(perMinute int) {
	s.limiter = newActorLimiter(perMinute)
}

// SetMaxConnections caps concurrent connections. Zero means no cap.
func (s *Server) SetMaxConnections(n int) {
	s.maxConns = n
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat/{$}", s.requireAuth(s.handleChat))

	mux.HandleFunc("GET /api/tasks/{$}", s.requireAuth(s.handleTaskList))
	mux.HandleFunc("POST /api/tasks/{$}", s.requireAuth(s.handleTaskCreate))
	mux.HandleFunc("GET /api/tasks/{id}/{$}", s.requireAuth(s.handleTaskGet))
	mux.HandleFunc("PUT /api/tasks/{id}/{$}", s.requireAuth(s.handleTaskReplace))
	mux.HandleFunc("PATCH /api/tasks/{id}/{$}", s.requireAuth(s.handleTaskPatch))
	mux.HandleFunc("DELETE /api/tasks/{id}/{$}", s.requireAuth(s.handleTaskDelete))
	mux.HandleFunc("POST /api/tasks/{id}/complete/{$}", s.requireAuth(s.handleTaskComplete))
	mux.HandleFunc("POST /api/tasks/{id}/assign/{$}", s.requireAuth(s.handleTaskAssign))

	mux.HandleFunc("GET /api/users/{$}", s.requireAuth(s.handleUserList))
	mux.HandleFunc("GET /api/users/{username}/{$}", s.requireAuth(s.handleUserGet))

	mux.HandleFunc("POST /api/auth/token/{$}", s.handleObtainToken)
	mux.HandleFunc("POST /api/auth/jwt/{$}", s.handleObtainJWT)

	mux.HandleFunc("GET /api/events/ws", s.handleEventsWS)

	mux.HandleFunc("GET /api/usage/{$}", s.requireAuth(s.handleUsage))

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/version", s.handleVersion)
	mux.Handle("GET /metrics", s.metrics.Handler())

	return s.withLogging(s.withMetrics(mux))
}

// Start begins serving HTTP requests and blocks until the server stops.
// It returns nil after a clean Shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", addr, s.port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if s.maxConns > 0 {
		ln = netutil.LimitListener(ln, s.maxConns)
	}

	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // chat turns wait on the model
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("starting API server", "address", addr, "port", s.port, "max_connections", s.maxConns)
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// statusRecorder captures the response code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack passes through to the underlying writer for websocket upgrades.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	r.code = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.code,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.ObserveHTTP(r.Method, route, rec.code)
	})
}

func newValidate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// respond writes v as JSON with the given status code.
func (s *Server) respond(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, v, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	s.respond(w, code, map[string]string{"error": message})
}

// decodeBody decodes the JSON request body into v and validates it. On
// failure it writes a 400 and returns false.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		s.errorResponse(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

// validationMessage renders the first failed rule as "field: rule".
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		switch fe.Tag() {
		case "required":
			return fmt.Sprintf("%s is required", fe.Field())
		case "max":
			return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
		}
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
	return "Invalid request body"
}
