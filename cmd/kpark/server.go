package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/kpark/internal/billing"
	"github.com/goodtune/kpark/internal/clock"
	"github.com/goodtune/kpark/internal/config"
	"github.com/goodtune/kpark/internal/dedup"
	"github.com/goodtune/kpark/internal/httpapi"
	"github.com/goodtune/kpark/internal/ingest"
	"github.com/goodtune/kpark/internal/metrics"
	"github.com/goodtune/kpark/internal/registry"
	"github.com/goodtune/kpark/internal/session"
	"github.com/goodtune/kpark/internal/storage"
	"github.com/goodtune/kpark/internal/storage/memory"
	"github.com/goodtune/kpark/internal/storage/postgres"
	"github.com/goodtune/kpark/internal/storage/redis"
	"github.com/goodtune/kpark/internal/systemd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start kpark server",
	Long:  `Start the kpark HTTP API, the metrics endpoint and, when ingest.watch_dir is set, the result file watcher.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting kpark")

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
	defer closeStorage(store, logger)

	logger.Info().Str("type", cfg.Storage.Type).Msg("Storage initialized")

	engine, err := newEngine(cfg, store, clock.RealClock{}, logger)
	if err != nil {
		return err
	}

	processor, err := newProcessor(cfg, engine, logger)
	if err != nil {
		return err
	}

	// Dedup filters, one per streaming source
	filters, err := newFilters(cfg, clock.RealClock{}, logger)
	if err != nil {
		return err
	}
	filters.Start()
	defer filters.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	// Result file watcher
	if cfg.Ingest.WatchDir != "" {
		filter, err := filters.For("watch:" + cfg.Ingest.WatchDir)
		if err != nil {
			return fmt.Errorf("failed to create dedup filter: %w", err)
		}
		watcher, err := ingest.NewWatcher(cfg.Ingest.WatchDir, processor, filter, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize watcher: %w", err)
		}
		g.Go(func() error {
			return watcher.Run(gctx)
		})
		logger.Info().Str("dir", cfg.Ingest.WatchDir).Msg("Result file watcher started")
	}

	// HTTP API
	apiCfg, err := newAPIConfig(cfg)
	if err != nil {
		return err
	}
	api := httpapi.NewServer(apiCfg, engine, processor, filters, store, logger)

	if sdListeners.Activated && sdListeners.HTTP != nil {
		api.SetListener(sdListeners.HTTP)
	}
	if err := api.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	// Metrics
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)

	if sdListeners.Activated && sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}
	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start Metrics Server: %w", err)
	}

	g.Go(func() error {
		return systemd.RunWatchdog(gctx)
	})

	logger.Info().Msg("kpark startup complete")
	logger.Info().Msgf("API: http://%s", apiCfg.ListenAddr)
	logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	<-gctx.Done()
	logger.Info().Msg("Shutdown signal received, gracefully stopping...")

	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := api.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error stopping API server")
	}
	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping Metrics Server")
	}

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info().Msg("kpark stopped")
	return nil
}

// loadConfig loads the configuration and installs the global logger.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger
	return cfg, logger, nil
}

// loadCommandConfig loads the configuration for one-shot commands, which
// keep the quiet logger.
func loadCommandConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "redis":
		return redis.Open(cfg.Redis)
	case "postgres":
		return postgres.Open(cfg.Postgres)
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

func closeStorage(store storage.Store, logger zerolog.Logger) {
	if err := store.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close storage")
	}
}

// newEngine wires the reconciliation engine to store.
func newEngine(cfg *config.Config, store storage.Store, clk clock.Clock, logger zerolog.Logger) (*session.Engine, error) {
	tariff, err := billing.NewTariff(cfg.Billing.GracePeriodMinutes, cfg.Billing.UnitRate, cfg.Billing.DailyCap)
	if err != nil {
		return nil, fmt.Errorf("invalid tariff: %w", err)
	}

	timeout, err := cfg.Reconcile.StoreTimeoutDuration()
	if err != nil {
		return nil, err
	}

	logger.Debug().Str("tariff", tariff.String()).Msg("Tariff loaded")

	oracle := registry.NewOracle(store.Accounts(), timeout, logger)
	return session.NewEngine(store, oracle, tariff, clk, timeout, logger), nil
}

func newProcessor(cfg *config.Config, engine *session.Engine, logger zerolog.Logger) (*ingest.Processor, error) {
	interval, err := cfg.Reconcile.RetryInitialIntervalDuration()
	if err != nil {
		return nil, err
	}
	retry := ingest.RetryConfig{
		MaxAttempts:     cfg.Reconcile.MaxAttempts,
		InitialInterval: interval,
	}
	return ingest.NewProcessor(engine, retry, clock.RealClock{}, logger), nil
}

func newFilters(cfg *config.Config, clk clock.Clock, logger zerolog.Logger) (*dedup.Registry, error) {
	window, err := cfg.Dedup.WindowDuration()
	if err != nil {
		return nil, err
	}
	sweep, err := cfg.Dedup.SweepIntervalDuration()
	if err != nil {
		return nil, err
	}
	return dedup.NewRegistry(dedup.Config{
		Window:        window,
		MaxEntries:    cfg.Dedup.MaxEntries,
		SweepInterval: sweep,
	}, clk, logger), nil
}

func newAPIConfig(cfg *config.Config) (httpapi.Config, error) {
	tokenTTL, err := cfg.Admin.TokenTTLDuration()
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		ListenAddr:        fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.HTTPPort),
		JWTSecret:         cfg.Admin.JWTSecret,
		CORSOrigins:       cfg.Admin.CORSOrigins,
		AdminUsername:     cfg.Admin.Username,
		AdminPasswordHash: cfg.Admin.PasswordHash,
		TokenTTL:          tokenTTL,
	}, nil
}

// quietLogger is used by one-shot commands so log lines stay off stdout.
func quietLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()
}

// setupLogger configures the zerolog logger
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	var level zerolog.Level
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	var logger zerolog.Logger
	if cfg.Format == "text" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	return logger
}
