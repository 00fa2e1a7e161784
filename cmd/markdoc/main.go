package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajha-96/markdoc/internal/archive"
	"github.com/ajha-96/markdoc/internal/broadcast"
	"github.com/ajha-96/markdoc/internal/config"
	"github.com/ajha-96/markdoc/internal/document"
	"github.com/ajha-96/markdoc/internal/httpapi"
	"github.com/ajha-96/markdoc/internal/observability"
	"github.com/ajha-96/markdoc/internal/storage"
	"github.com/ajha-96/markdoc/internal/ws"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := log.With().Str("app", cfg.AppName).Logger()
	observability.RegisterRuntimeCollectors()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryShutdown, err := observability.Start(ctx, observability.Config{
		ServiceName:  cfg.AppName,
		MetricsAddr:  cfg.MetricsAddr,
		OTLPEndpoint: cfg.OTLPEndpoint,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer telemetryShutdown(context.Background())

	resources, err := config.NewResources(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize resources")
	}
	defer resources.Close()

	store, closeStore, err := buildStore(ctx, cfg, resources)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.StorageBackend).Msg("failed to open storage backend")
	}
	defer closeStore()
	logger.Info().Str("backend", cfg.StorageBackend).Msg("storage backend ready")

	connections := ws.NewConnectionRegistry()
	bus := buildBroadcaster(ctx, cfg, resources, connections, logger)

	docs := document.NewRegistry(store, bus, logger, document.Options{
		AutoSaveInterval:        cfg.AutoSaveInterval,
		InactivityWindow:        cfg.InactivityWindow,
		InactivityCheckInterval: cfg.InactivityCheckInterval,
		DefaultContent:          cfg.DefaultContent,
	})

	if cfg.ArchiveEnabled {
		worker, err := archive.NewWorker(docs, resources.Object, cfg.ObjectBucket, cfg.ArchiveCron, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize archive worker")
		}
		worker.Start(ctx)
		logger.Info().Str("cron", cfg.ArchiveCron).Msg("archive worker started")
	}

	gateway := ws.NewGateway(docs, connections, logger, ws.GatewayConfig{})
	api := httpapi.NewHandler(docs, gateway, resources.HealthCheck, logger)
	httpServer := &http.Server{Addr: cfg.HTTPListenAddr, Handler: api.Router()}

	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("http server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server failed")
		}
	}()

	logger.Info().Msg("server dependencies initialized")

	go func() {
		ticker := time.NewTicker(cfg.HealthcheckProbe)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := resources.HealthCheck(context.Background()); err != nil {
					logger.Error().Err(err).Msg("dependency healthcheck failed")
				} else {
					logger.Debug().Msg("dependency healthcheck ok")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = httpServer.Shutdown(shutdownCtx)
		if err := docs.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("document flush during shutdown failed")
		}
		resources.Close()
	}()

	select {
	case <-done:
		logger.Info().Msg("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Error().Err(shutdownCtx.Err()).Msg("forced shutdown")
	}
}

func buildStore(ctx context.Context, cfg config.Config, resources *config.Resources) (storage.Store, func(), error) {
	noop := func() {}
	switch cfg.StorageBackend {
	case config.StorageFile:
		store, err := storage.NewFileStore(cfg.DataDir)
		return store, noop, err
	case config.StorageMemory:
		return storage.NewMemoryStore(), noop, nil
	case config.StoragePostgres:
		store, err := storage.NewPostgresStore(ctx, resources.Postgres)
		return store, noop, err
	case config.StorageS3:
		return storage.NewObjectStore(resources.Object, cfg.ObjectBucket), noop, nil
	case config.StoragePebble:
		store, err := storage.OpenPebbleStore(cfg.PebblePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

func buildBroadcaster(ctx context.Context, cfg config.Config, resources *config.Resources, sink broadcast.Sink, logger zerolog.Logger) broadcast.Broadcaster {
	if cfg.BroadcastMode == config.BroadcastRedis {
		bus := broadcast.NewRedisBroadcaster(resources.Redis, sink, logger)
		bus.Start(ctx)
		logger.Info().Str("addr", cfg.RedisAddr).Msg("redis broadcast relay started")
		return bus
	}
	return broadcast.NewLocalBroadcaster(sink, logger)
}
