package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	_ "github.com/lib/pq"

	"github.com/liamcoop/assetrules/audit"
	"github.com/liamcoop/assetrules/engine"
	"github.com/liamcoop/assetrules/graph"
	"github.com/liamcoop/assetrules/internal/config"
	"github.com/liamcoop/assetrules/internal/logger"
	"github.com/liamcoop/assetrules/internal/metrics"
	"github.com/liamcoop/assetrules/rules"
)

// graphStore is the graph collaborator plus project creation, which only the
// API needs.
type graphStore interface {
	graph.Store
	CreateProject(ctx context.Context, p *graph.Project) error
}

type Server struct {
	db       *sql.DB // nil in memory mode
	graph    graphStore
	engine   *engine.Engine
	metrics  *metrics.Registry
	validate *validator.Validate
	cfg      config.Config
	router   *chi.Mux
}

// NewServer creates a server backed by Postgres when DATABASE_URL is set and
// by in-memory stores otherwise.
func NewServer(cfg config.Config) (*Server, error) {
	if cfg.InMemory() {
		return newMemoryServer(cfg)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewServerWithDB(db, cfg)
}

// NewServerWithDB creates a Postgres-backed server over an open connection.
func NewServerWithDB(db *sql.DB, cfg config.Config) (*Server, error) {
	g := graph.NewPostgresStore(db)
	return newServer(cfg, db, g, rules.NewPostgresRuleStore(db), audit.NewPostgresStore(db))
}

func newMemoryServer(cfg config.Config) (*Server, error) {
	store := rules.NewInMemoryRuleStore()
	if cfg.RulesFile != "" {
		rs, err := rules.LoadFile(cfg.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load rules: %w", err)
		}
		added, _, err := rules.Seed(context.Background(), store, rs)
		if err != nil {
			return nil, err
		}
		logger.Info("seeded rules", "file", cfg.RulesFile, "rules", added)
	}
	return newServer(cfg, nil, graph.NewMemoryStore(), store, audit.NewMemoryStore())
}

func newServer(cfg config.Config, db *sql.DB, g graphStore, store rules.RuleStore, records audit.Store) (*Server, error) {
	reg := metrics.NewRegistry()
	cache := rules.NewInMemoryRulesCache(rules.CacheConfig{TTL: cfg.RuleCacheTTL})
	eng, err := engine.New(rules.NewLoader(store, g, cache), g, records,
		engine.WithWorkers(cfg.EngineWorkers),
		engine.WithMetrics(reg),
		engine.WithMaxVoltageDrop(cfg.MaxVoltageDropPercent))
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	s := &Server{
		db:       db,
		graph:    g,
		engine:   eng,
		metrics:  reg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		cfg:      cfg,
	}
	s.setupRoutes()
	return s, nil
}

// Close releases the database connection, if any.
func (s *Server) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.instrument)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Post("/api/v1/cable-sizing", s.handleCableSizing)
	r.Post("/api/v1/runs/{runId}/rollback", s.handleRollbackRun)

	r.Route("/api/v1/rules", func(r chi.Router) {
		r.Get("/", s.handleListRules)
		r.Post("/", s.handleCreateRule)
		r.Get("/{ruleId}", s.handleGetRule)
		r.Put("/{ruleId}", s.handleUpdateRule)
		r.Delete("/{ruleId}", s.handleDeleteRule)
		r.Post("/{ruleId}/execute", s.handleExecuteRule)
	})

	r.Route("/api/v1/projects", func(r chi.Router) {
		r.Post("/", s.handleCreateProject)

		r.Route("/{projectId}", func(r chi.Router) {
			r.Get("/", s.handleGetProject)
			r.Get("/entities", s.handleListEntities)
			r.Post("/entities", s.handleCreateEntity)
			r.Post("/entities/{entityId}/validate", s.handleValidateEntity)

			r.Get("/resolution", s.handleResolution)
			r.Post("/execute", s.handleExecute)
			r.Post("/run", s.handleRun)

			r.Get("/executions", s.handleListExecutions)
			r.Post("/executions/{recordId}/rollback", s.handleRollbackRecord)
			r.Get("/validation", s.handleValidation)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// instrument records request metrics by route pattern and logs each request.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		s.metrics.RecordHTTPRequest(r.Method, route, fmt.Sprint(status), time.Since(start))
		logger.Debug("http request",
			"method", r.Method,
			"route", route,
			"status", status,
			"request_id", middleware.GetReqID(r.Context()),
			"duration_ms", time.Since(start).Milliseconds())
	})
}

var errBadRequest = errors.New("invalid request body")

// decode reads a JSON body into v and validates its struct tags.
func (s *Server) decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return s.validate.Struct(v)
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	if status >= http.StatusInternalServerError {
		logger.Error(message, "status", status, "error", err)
	}
	respondJSON(w, status, response)
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	var verr validator.ValidationErrors
	switch {
	case errors.As(err, &verr), errors.Is(err, errBadRequest), errors.Is(err, rules.ErrInvalidRule):
		return http.StatusBadRequest
	case errors.Is(err, graph.ErrNotFound), errors.Is(err, rules.ErrRuleNotFound),
		errors.Is(err, rules.ErrScopeNotFound), errors.Is(err, engine.ErrRunNotFound),
		errors.Is(err, engine.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, graph.ErrAlreadyExists), errors.Is(err, rules.ErrRuleExists):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
