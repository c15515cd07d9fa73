package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Evaluation metrics
	EvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timelock_evaluations_total",
			Help: "Total restriction evaluations by resulting reason",
		},
		[]string{"reason"},
	)

	EvaluationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "timelock_evaluation_duration_seconds",
			Help:    "Restriction evaluation duration in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	PolicyFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "timelock_policy_fallbacks_total",
			Help: "Policy decisions rejected in favor of the built-in combination",
		},
	)

	// Usage metrics
	TicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "timelock_ticks_total",
			Help: "Total usage update cycles",
		},
	)

	TickErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timelock_tick_errors_total",
			Help: "Per-restriction errors during usage update cycles",
		},
		[]string{"stage"},
	)

	UsageMinutes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "timelock_usage_minutes",
			Help: "Minutes used today per package",
		},
		[]string{"package"},
	)

	QuotaBreaches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timelock_quota_breaches_total",
			Help: "Total quota breaches detected by the updater",
		},
		[]string{"limit_type"},
	)

	ResetsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "timelock_daily_resets_total",
			Help: "Total daily resets performed",
		},
	)

	CleanupDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timelock_cleanup_deleted_total",
			Help: "Records removed by retention cleanup",
		},
		[]string{"kind"},
	)

	// Notification metrics
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timelock_notifications_total",
			Help: "Total notifications raised",
		},
		[]string{"kind"},
	)

	// Enforcement metrics
	OverlayShownTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timelock_overlay_shown_total",
			Help: "Total blocking overlays shown",
		},
		[]string{"reason"},
	)

	RedirectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "timelock_redirects_total",
			Help: "Total redirects to the safe screen",
		},
	)

	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timelock_events_total",
			Help: "Foreground events by processing outcome",
		},
		[]string{"outcome"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timelock_api_requests_total",
			Help: "Total API requests",
		},
		[]string{"route", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		EvaluationsTotal,
		EvaluationDuration,
		PolicyFallbacks,
		TicksTotal,
		TickErrors,
		UsageMinutes,
		QuotaBreaches,
		ResetsTotal,
		CleanupDeleted,
		NotificationsTotal,
		OverlayShownTotal,
		RedirectsTotal,
		EventsTotal,
		APIRequestsTotal,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handler exposes the mux for tests
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
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
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Stopping metrics server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
