package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/johnivansn/timelock/internal/api"
	"github.com/johnivansn/timelock/internal/config"
	"github.com/johnivansn/timelock/internal/enforcement"
	"github.com/johnivansn/timelock/internal/metrics"
	"github.com/johnivansn/timelock/internal/notify"
	"github.com/johnivansn/timelock/internal/period"
	"github.com/johnivansn/timelock/internal/policy"
	"github.com/johnivansn/timelock/internal/policy/opa"
	"github.com/johnivansn/timelock/internal/storage"
	"github.com/johnivansn/timelock/internal/storage/redis"
	"github.com/johnivansn/timelock/internal/storage/sqlite"
	"github.com/johnivansn/timelock/internal/systemd"
	"github.com/johnivansn/timelock/internal/usage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the TimeLock daemon",
	Long:  `Start the usage updater, enforcement machine, daily reset scheduler, local API and metrics endpoints.`,
	RunE:  runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

// engine holds the components whose behavior follows config reloads.
type engine struct {
	sink    *notify.LogSink
	machine *enforcement.Machine
	updater *usage.Updater
	logger  zerolog.Logger
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting TimeLock")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().Str("type", cfg.Storage.Type).Msg("Storage initialized")

	clock := period.RealClock{}
	journal := usage.NewJournal(0)
	ledger := usage.NewLedger(journal, store.Usage(), logger)

	sink := notify.NewLogSink(logger)
	sink.SetEnabled(cfg.Notifications.Enabled)

	tracker, err := notify.NewTracker(sink, notify.Options{
		DedupSize: cfg.Notifications.DedupSize,
		Lead:      config.Duration(cfg.Notifications.ScheduleLead, 5*time.Minute),
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize notification tracker: %w", err)
	}

	decisions, err := opa.NewEngine(cfg.Policy.RegoDir, logger)
	if err != nil {
		return fmt.Errorf("failed to load decision policy: %w", err)
	}
	evaluator := policy.NewEvaluator(store, ledger, sink, logger)
	evaluator.SetCombiner(decisions)
	surface := enforcement.NewLogSurface(logger)
	machine := enforcement.NewMachine(evaluator, surface, sink, clock, enforcementOptions(cfg.Enforcement), logger)

	updater := usage.NewUpdater(store, ledger, tracker, sink, machine, clock, usage.Config{
		Interval:          config.Duration(cfg.Usage.TickInterval, usage.DefaultInterval),
		PowerSaveInterval: config.Duration(cfg.Usage.PowerSaveTickInterval, usage.DefaultPowerSaveInterval),
	}, logger)

	resetHour, resetMinute, err := config.ParseClock(cfg.Usage.DailyResetTime)
	if err != nil {
		return fmt.Errorf("invalid daily reset time: %w", err)
	}
	resets := usage.NewResetScheduler(store, tracker, clock, usage.ResetOptions{
		ResetHour:     resetHour,
		ResetMinute:   resetMinute,
		RetentionDays: cfg.Usage.RetentionDays,
		PurgeDays:     cfg.Usage.PurgeDays,
	}, logger)

	apiServer := api.NewServer(api.Config{
		ListenAddr:      fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort),
		RateLimit:       cfg.Server.RateLimit,
		RateLimitWindow: config.Duration(cfg.Server.RateLimitWindow, time.Minute),
	}, api.Deps{
		Store:      store,
		Journal:    journal,
		Enforcer:   machine,
		Evaluator:  evaluator,
		Usage:      updater,
		Overlay:    surface,
		Thresholds: tracker,
	}, logger)
	if sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}

	var metricsServer *metrics.Server
	if cfg.Server.MetricsPort > 0 || sdListeners.Metrics != nil {
		metricsServer = metrics.NewServer(fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort), logger)
		if sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}
	}

	watcher := config.NewWatcher(configPath, cfg, logger)
	reloads := make(chan *config.Config, 1)
	watcher.Subscribe(reloads)

	eng := &engine{sink: sink, machine: machine, updater: updater, logger: logger}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return machine.Run(ctx) })
	g.Go(func() error { return updater.Run(ctx) })
	g.Go(func() error { return resets.Run(ctx) })
	g.Go(func() error { return apiServer.Run(ctx) })
	if metricsServer != nil {
		g.Go(func() error { return metricsServer.Run(ctx) })
	}
	g.Go(func() error {
		if err := watcher.Run(ctx); err != nil {
			logger.Warn().Err(err).Msg("Config watcher stopped")
		}
		return nil
	})
	g.Go(func() error { return eng.follow(ctx, reloads) })
	g.Go(func() error { return handleReloadSignal(ctx, watcher, decisions, logger) })
	g.Go(func() error {
		if err := systemd.RunWatchdog(ctx, logger); err != nil {
			logger.Warn().Err(err).Msg("Systemd watchdog disabled")
		}
		return nil
	})

	logger.Info().
		Int("api_port", cfg.Server.APIPort).
		Int("metrics_port", cfg.Server.MetricsPort).
		Msg("TimeLock startup complete")

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received, gracefully stopping...")

	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	err = g.Wait()
	machine.Stop()
	if err != nil {
		return err
	}

	logger.Info().Msg("TimeLock stopped")
	return nil
}

// follow applies every reloaded config to the running components.
func (e *engine) follow(ctx context.Context, reloads <-chan *config.Config) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg := <-reloads:
			if cfg != nil {
				e.apply(cfg)
			}
		}
	}
}

func (e *engine) apply(cfg *config.Config) {
	zerolog.SetGlobalLevel(parseLevel(cfg.Logging.Level))
	e.sink.SetEnabled(cfg.Notifications.Enabled)
	e.machine.SetOverlayEnabled(cfg.Enforcement.OverlayEnabled)
	e.updater.SetIntervals(
		config.Duration(cfg.Usage.TickInterval, usage.DefaultInterval),
		config.Duration(cfg.Usage.PowerSaveTickInterval, usage.DefaultPowerSaveInterval),
	)

	e.logger.Info().
		Str("level", cfg.Logging.Level).
		Bool("overlay_enabled", cfg.Enforcement.OverlayEnabled).
		Bool("notifications", cfg.Notifications.Enabled).
		Msg("Applied reloaded configuration")
}

// handleReloadSignal reloads the config file and the decision policy on SIGHUP.
func handleReloadSignal(ctx context.Context, watcher *config.Watcher, decisions *opa.Engine, logger zerolog.Logger) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			logger.Info().Msg("SIGHUP received, reloading configuration...")
			if err := systemd.NotifyReloading(); err != nil {
				logger.Warn().Err(err).Msg("Failed to send systemd reloading notification")
			}
			if err := watcher.Reload(); err != nil {
				logger.Error().Err(err).Msg("Keeping previous configuration")
			}
			if err := decisions.Reload(); err != nil {
				logger.Error().Err(err).Msg("Keeping previous decision policy")
			}
			if err := systemd.NotifyReady(); err != nil {
				logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
			}
		}
	}
}

func enforcementOptions(cfg config.EnforcementConfig) enforcement.Options {
	return enforcement.Options{
		SelfPackage:    cfg.SelfPackage,
		OverlayEnabled: cfg.OverlayEnabled,
		Debounce:       config.Duration(cfg.Debounce, enforcement.DefaultDebounce),
		Cooldown:       config.Duration(cfg.Cooldown, enforcement.DefaultCooldown),
		Countdown:      config.Duration(cfg.Countdown, enforcement.DefaultCountdown),
		ReinforceDelay: config.Duration(cfg.ReinforceDelay, enforcement.DefaultReinforceDelay),
		MaxEvaluations: int64(cfg.MaxConcurrentEvals),
	}
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "", "sqlite":
		return sqlite.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLevel(s string) zerolog.Level {
	switch s {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// quietLogger is used by one-shot commands
func quietLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()
}
