package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"driftsync/internal/api"
	"driftsync/internal/backend"
	"driftsync/internal/config"
	"driftsync/internal/connectivity"
	"driftsync/internal/domain"
	"driftsync/internal/engine"
	"driftsync/internal/events"
	"driftsync/internal/logging"
	"driftsync/internal/metrics"
	"driftsync/internal/queue"
	"driftsync/internal/service"
	"driftsync/internal/store"

	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	if err := prepareDirectories(cfg); err != nil {
		logger.Error().Err(err).Msg("Failed to prepare data directories")
		return err
	}

	metrics.Register()

	pendingStore, err := openStore(cfg, &logger)
	if err != nil {
		return err
	}
	defer pendingStore.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eventBus := events.NewEventBus()
	subscribeEventLog(eventBus, &logger)

	pending := queue.New(pendingStore, &logger)
	if err := pending.Load(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to load pending operations; starting with an empty queue")
	}

	client := backend.NewClient(cfg.Backend, nil, &logger)

	if cfg.Connectivity.ProbeURL == "" {
		cfg.Connectivity.ProbeURL = client.ProbeURL()
	}
	monitor := connectivity.NewProbeMonitor(cfg.Connectivity, eventBus, &logger)
	go monitor.Start(ctx)

	syncEngine := engine.New(pending, client.Registry(), monitor, eventBus, cfg.Sync, &logger)
	go syncEngine.Start(ctx)

	mutations := service.NewMutationService(syncEngine, client.Registry(), &logger)

	if cfg.API.Enabled {
		apiServer := api.NewServer(cfg.API, syncEngine, mutations, cfg.Monitoring.PrometheusEnabled, &logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().Err(err).Msg("API server error")
			}
		}()
		defer func() {
			_ = apiServer.Shutdown(context.Background())
		}()
	}

	if cfg.Backup.Enabled && cfg.Store.Driver == "sqlite" {
		backupService := store.NewBackupService(cfg.Store.Path, cfg.Backup, &logger)
		go backupService.Start(ctx)
	}

	logger.Info().
		Str("store", cfg.Store.Driver).
		Str("backend", cfg.Backend.BaseURL).
		Int("pending", pending.Len()).
		Msg("Sync daemon started")

	<-ctx.Done()
	logger.Info().Msg("Shutdown complete.")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	logger := baseLogger.With().Str("component", "syncd").Logger()

	return cfg, logger, closer, nil
}

func prepareDirectories(cfg *config.Config) error {
	if cfg.Store.Driver == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
			return err
		}
	}
	if cfg.Backup.Enabled {
		if err := os.MkdirAll(cfg.Backup.StoragePath, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func openStore(cfg *config.Config, logger *zerolog.Logger) (domain.PendingStore, error) {
	var primary domain.PendingStore

	switch cfg.Store.Driver {
	case "sqlite":
		sqliteStore, err := store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			logger.Error().Err(err).Str("path", cfg.Store.Path).Msg("Failed to open sqlite store")
			return nil, err
		}
		primary = sqliteStore
	case "redis":
		redisClient := store.NewRedisClient(cfg.Redis)
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable at startup")
		}
		primary = store.NewRedisStore(redisClient)
	case "memory":
		primary = store.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown store driver: %q", cfg.Store.Driver)
	}

	if cfg.Store.Failover && cfg.Store.Driver != "memory" {
		return store.NewFailoverStore(primary, store.NewMemoryStore(), logger), nil
	}
	return primary, nil
}

// subscribeEventLog traces every bus event at debug level. Transitions and
// pass summaries are already logged at info level by their owners; this gives
// a raw audit trail when debugging replay behavior.
func subscribeEventLog(bus *events.EventBus, logger *zerolog.Logger) {
	handler := func(ev *events.Event) error {
		logger.Debug().Str("event", ev.Type).RawJSON("payload", ev.Payload).Msg("Event published")
		return nil
	}

	for _, eventType := range []string{
		events.EventConnectivityChanged,
		events.EventOperationEnqueued,
		events.EventOperationDropped,
		events.EventSyncPassCompleted,
		events.EventQueueCleared,
	} {
		bus.Subscribe(eventType, handler)
	}
}
