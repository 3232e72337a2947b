package main

import (
	"context"

	"github.com/sventek/iot-device-hub/internal/api"
	"github.com/sventek/iot-device-hub/internal/config"
	"github.com/sventek/iot-device-hub/internal/db"
	"github.com/sventek/iot-device-hub/internal/ingest"
	"github.com/sventek/iot-device-hub/internal/mqttconn"
	"github.com/sventek/iot-device-hub/internal/repository"
	"github.com/sventek/iot-device-hub/internal/ws"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// startIngestion wires the pipeline to the broker connection. The
// handler's error is already logged inside the pipeline; ingestion is a
// one-way feed with nothing to report back to the broker.
func startIngestion(
	lc fx.Lifecycle,
	cfg *config.Config,
	logger *zap.Logger,
	pipeline *ingest.Pipeline,
) (*mqttconn.Manager, error) {
	return mqttconn.NewManager(lc, logger, cfg, func(ctx context.Context, topic string, payload []byte) {
		_ = pipeline.HandleMessage(ctx, topic, payload)
	})
}

// startHTTPServer starts the query/dashboard server
func startHTTPServer(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config, router *api.Router) {
	api.NewServer(lc, logger, cfg.HTTP.Port, router)
}

// ProvideDBPool creates the database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL)
}

// ProvideRepository creates the repository instance
func ProvideRepository(pool *db.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideHub creates the fanout hub and runs its event loop for the
// lifetime of the application
func ProvideHub(lc fx.Lifecycle, logger *zap.Logger) *ws.Hub {
	hub := ws.NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			go hub.Run(ctx)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			return nil
		},
	})

	return hub
}

// ProvidePipeline creates the ingestion pipeline
func ProvidePipeline(repo *repository.Repository, hub *ws.Hub, logger *zap.Logger) *ingest.Pipeline {
	return ingest.NewPipeline(repo, hub, logger)
}

// ProvideRouter creates the HTTP router
func ProvideRouter(repo *repository.Repository, hub *ws.Hub, logger *zap.Logger, cfg *config.Config) *api.Router {
	return api.NewRouter(repo, hub, logger, cfg.HTTP.StaticDir)
}
