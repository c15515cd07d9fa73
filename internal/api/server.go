// Package api serves the local HTTP API used by the device agent and
// operators: foreground events in, enforcement and usage state out.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/johnivansn/timelock/internal/enforcement"
	"github.com/johnivansn/timelock/internal/policy"
	"github.com/johnivansn/timelock/internal/storage"
	"github.com/rs/zerolog"
)

// Config holds the API server configuration.
type Config struct {
	ListenAddr      string
	RateLimit       int
	RateLimitWindow time.Duration
}

// ForegroundRecorder keeps the foreground journal used for usage accounting.
type ForegroundRecorder interface {
	Record(pkg string, t time.Time)
}

// Enforcer reacts to foreground changes.
type Enforcer interface {
	HandleForeground(pkg string, t time.Time)
	Snapshot() enforcement.Snapshot
}

// Evaluator answers block decisions and their summaries.
type Evaluator interface {
	Evaluate(ctx context.Context, pkg string) policy.Result
	DateInfo(ctx context.Context, pkg string) policy.DateInfo
	ScheduleSummary(ctx context.Context, pkg string) (string, bool)
	ExpirySummary(ctx context.Context, pkg string) (string, bool)
}

// UsageReporter exposes today's usage and the power-save switch.
type UsageReporter interface {
	TodayUsage(ctx context.Context) ([]storage.DailyUsage, error)
	SetPowerSave(enabled bool)
	PowerSave() bool
}

// OverlayReporter returns the last overlay shown.
type OverlayReporter interface {
	Last() (enforcement.Overlay, bool)
}

// ThresholdResetter clears notification threshold state.
type ThresholdResetter interface {
	Invalidate(pkg string)
	ResetDaily()
}

// Deps are the components the API talks to.
type Deps struct {
	Store      storage.Store
	Journal    ForegroundRecorder
	Enforcer   Enforcer
	Evaluator  Evaluator
	Usage      UsageReporter
	Overlay    OverlayReporter
	Thresholds ThresholdResetter
}

// Server is the API HTTP server.
type Server struct {
	config   Config
	deps     Deps
	router   *mux.Router
	server   *http.Server
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
	logger   zerolog.Logger
}

// NewServer creates a new API server
func NewServer(cfg Config, deps Deps, logger zerolog.Logger) *Server {
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 120
	}
	if cfg.RateLimitWindow == 0 {
		cfg.RateLimitWindow = time.Minute
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		router: mux.NewRouter(),
		logger: logger.With().Str("component", "api").Logger(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RateLimitMiddleware(s.config.RateLimit, s.config.RateLimitWindow))

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/foreground", s.handleForeground).Methods("POST")
	v1.HandleFunc("/evaluate/{package}", s.handleEvaluate).Methods("GET")
	v1.HandleFunc("/usage/today", s.handleTodayUsage).Methods("GET")
	v1.HandleFunc("/restrictions", s.handleListRestrictions).Methods("GET")
	v1.HandleFunc("/restrictions/{package}", s.handleDeleteRestriction).Methods("DELETE")
	v1.HandleFunc("/overlay", s.handleOverlay).Methods("GET")
	v1.HandleFunc("/power", s.handlePower).Methods("POST")
	v1.HandleFunc("/reset", s.handleReset).Methods("POST")
}

// Handler exposes the router for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting API server")

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated API listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Stopping API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return nil
}
