// Package http implements the Study Hub REST API: authentication, progress
// and dashboard, tasks, the pomodoro timer, flashcard decks and the study
// assistant chat.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/studyhub/study-hub/internal/application/command"
	"github.com/studyhub/study-hub/internal/application/query"
	"github.com/studyhub/study-hub/internal/domain/identity"
	"github.com/studyhub/study-hub/internal/domain/progress"
	"github.com/studyhub/study-hub/internal/domain/timer"
	"github.com/studyhub/study-hub/internal/infrastructure/metrics"
	"github.com/studyhub/study-hub/internal/interface/http/handlers"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Host - address to bind (default: "0.0.0.0").
	Host string

	// Port - port to listen on (default: 8080).
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxHeaderBytes - maximum size of request headers.
	MaxHeaderBytes int

	// MaxBodyBytes - maximum request body; documents for flashcard
	// generation are the largest payloads.
	MaxBodyBytes int64

	// EnableCORS - enable CORS headers.
	EnableCORS bool

	// AllowedOrigins - allowed origins for CORS ("*" allows any).
	AllowedOrigins []string

	// EnableMetrics - serve /metrics.
	EnableMetrics bool

	// RateLimitPerMinute - sustained requests per minute per IP (0 = disabled).
	RateLimitPerMinute int

	// RateLimitBurst - short bursts allowed above the sustained rate.
	RateLimitBurst int

	// StreamHeartbeat - interval of keep-alive comments on the progress stream.
	StreamHeartbeat time.Duration

	// Version is reported in response metadata and health checks.
	Version string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       30 * time.Second,
		IdleTimeout:        60 * time.Second,
		MaxHeaderBytes:     1 << 20,
		MaxBodyBytes:       16 << 20,
		EnableCORS:         true,
		AllowedOrigins:     []string{"*"},
		EnableMetrics:      true,
		RateLimitPerMinute: 120,
		RateLimitBurst:     30,
		StreamHeartbeat:    25 * time.Second,
		Version:            "v1",
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Dependencies contains everything the handlers call. A nil handler
// disables its routes.
type Dependencies struct {
	Auth identity.Provider

	// Commands (CQRS write side)
	CreateTask       *command.CreateTaskHandler
	ChangeTaskStatus *command.ChangeTaskStatusHandler
	DeleteTask       *command.DeleteTaskHandler
	AddSubject       *command.AddSubjectHandler
	SetWeeklyGoal    *command.SetWeeklyGoalHandler
	GenerateDeck     *command.GenerateDeckHandler
	DeleteDeck       *command.DeleteDeckHandler
	Chat             *command.ChatHandler

	// Queries (CQRS read side)
	ListTasks *query.ListTasksHandler
	ListDecks *query.ListDecksHandler
	Dashboard *query.GetDashboardHandler
	Feed      *query.GetFeedHandler

	// Progress streams committed progress changes.
	Progress progress.Store

	// Timers owns the running pomodoro timers.
	Timers *timer.Registry

	// Metrics records HTTP request metrics; Gatherer backs /metrics.
	Metrics  *metrics.HTTP
	Gatherer prometheus.Gatherer

	Health handlers.HealthChecker

	Logger *slog.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	httpServer *http.Server
	router     *http.ServeMux
	handler    http.Handler
	logger     *slog.Logger

	limiter *ipLimiter

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a server. Auth is required.
func NewServer(config Config, deps Dependencies) (*Server, error) {
	if deps.Auth == nil {
		return nil, errors.New("http: auth provider is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Health == nil {
		deps.Health = handlers.NewCompositeHealthChecker(config.Version)
	}
	if config.StreamHeartbeat <= 0 {
		config.StreamHeartbeat = DefaultConfig().StreamHeartbeat
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}

	s := &Server{
		config: config,
		deps:   deps,
		router: http.NewServeMux(),
		logger: deps.Logger.With("component", "http"),
	}

	if config.RateLimitPerMinute > 0 {
		s.limiter = newIPLimiter(config.RateLimitPerMinute, config.RateLimitBurst)
	}

	s.setupRoutes()
	s.handler = s.buildMiddlewareChain(s.router)

	s.httpServer = &http.Server{
		Addr:           config.Address(),
		Handler:        s.handler,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}
	return s, nil
}

// Handler returns the full handler chain, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	// ─────────────────────────────────────────────────────────────────────────
	// Health & Status
	// ─────────────────────────────────────────────────────────────────────────
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /health/live", s.handleLive)
	s.router.HandleFunc("GET /health/ready", s.handleReady)

	if s.config.EnableMetrics && s.deps.Gatherer != nil {
		s.router.Handle("GET /metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Authentication (public)
	// ─────────────────────────────────────────────────────────────────────────
	s.router.HandleFunc("POST /api/v1/auth/signup", s.handleSignUp)
	s.router.HandleFunc("POST /api/v1/auth/signin", s.handleSignIn)
	s.router.HandleFunc("POST /api/v1/auth/signout", s.handleSignOut)
	s.router.HandleFunc("POST /api/v1/auth/reset-password", s.handleResetPassword)
	s.router.HandleFunc("POST /api/v1/auth/reset-password/confirm", s.handleConfirmReset)

	// ─────────────────────────────────────────────────────────────────────────
	// Authenticated API
	// ─────────────────────────────────────────────────────────────────────────
	s.router.Handle("GET /api/v1/me", s.authed(s.handleMe))

	if s.deps.Dashboard != nil {
		s.router.Handle("GET /api/v1/progress", s.authed(s.handleDashboard))
	}
	if s.deps.Progress != nil {
		s.router.Handle("GET /api/v1/progress/stream", s.authedStream(s.handleProgressStream))
	}
	if s.deps.Feed != nil {
		s.router.Handle("GET /api/v1/feed", s.authed(s.handleFeed))
	}
	if s.deps.AddSubject != nil {
		s.router.Handle("POST /api/v1/subjects", s.authed(s.handleAddSubject))
	}
	if s.deps.SetWeeklyGoal != nil {
		s.router.Handle("PUT /api/v1/goals/weekly", s.authed(s.handleSetWeeklyGoal))
	}

	if s.deps.ListTasks != nil {
		s.router.Handle("GET /api/v1/tasks", s.authed(s.handleListTasks))
	}
	if s.deps.CreateTask != nil {
		s.router.Handle("POST /api/v1/tasks", s.authed(s.handleCreateTask))
	}
	if s.deps.ChangeTaskStatus != nil {
		s.router.Handle("PATCH /api/v1/tasks/{id}/status", s.authed(s.handleChangeTaskStatus))
	}
	if s.deps.DeleteTask != nil {
		s.router.Handle("DELETE /api/v1/tasks/{id}", s.authed(s.handleDeleteTask))
	}

	if s.deps.Timers != nil {
		s.router.Handle("GET /api/v1/timer", s.authed(s.handleGetTimer))
		s.router.Handle("POST /api/v1/timer/{action}", s.authed(s.handleTimerAction))
	}

	if s.deps.ListDecks != nil {
		s.router.Handle("GET /api/v1/decks", s.authed(s.handleListDecks))
	}
	if s.deps.GenerateDeck != nil {
		s.router.Handle("POST /api/v1/decks/generate", s.authed(s.handleGenerateDeck))
	}
	if s.deps.DeleteDeck != nil {
		s.router.Handle("DELETE /api/v1/decks/{id}", s.authed(s.handleDeleteDeck))
	}

	if s.deps.Chat != nil {
		s.router.Handle("POST /api/v1/chat", s.authed(s.handleChat))
	}
}

// buildMiddlewareChain wraps the router. The first middleware is the outermost.
func (s *Server) buildMiddlewareChain(router http.Handler) http.Handler {
	chain := []handlers.MiddlewareFunc{
		s.requestIDMiddleware,
		s.loggingMiddleware,
		s.recoveryMiddleware,
		handlers.SecurityHeadersMiddleware,
		handlers.NoCacheMiddleware,
	}
	if s.config.EnableCORS {
		chain = append(chain, s.corsMiddleware)
	}
	if s.limiter != nil {
		chain = append(chain, s.rateLimitMiddleware)
	}
	chain = append(chain, handlers.RequestSizeLimitMiddleware(s.config.MaxBodyBytes))
	if s.deps.Metrics != nil {
		// Innermost, so the matched route pattern is visible after serving.
		chain = append(chain, s.metricsMiddleware)
	}
	return handlers.Chain(chain...)(router)
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("http: server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", "address", s.config.Address())

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http: serve: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Address returns the server address.
func (s *Server) Address() string {
	return s.config.Address()
}
