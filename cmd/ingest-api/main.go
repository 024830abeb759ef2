package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/vasaquant/securities-ingest/internal/api"
	"github.com/vasaquant/securities-ingest/internal/metrics"
	"github.com/vasaquant/securities-ingest/internal/store"
	"github.com/vasaquant/securities-ingest/pkg/config"
	"github.com/vasaquant/securities-ingest/pkg/logger"
	"github.com/vasaquant/securities-ingest/pkg/secrets"
	"github.com/vasaquant/securities-ingest/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load("ingest-api")

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	logg.Info("starting [ingest-api]...")

	// --- Resolve database DSN (AWS Secrets Manager when configured) ---
	dsn := cfg.DatabaseURL
	if cfg.DBSecretID != "" {
		awsProvider, err := secrets.NewAWSProvider(cfg.AWSRegion)
		if err != nil {
			logg.Fatalw("failed to create AWS Secrets Manager provider", "error", err)
		}
		dsn, err = secrets.ResolveDSN(ctx, awsProvider, cfg.DBSecretID, cfg.DatabaseURL)
		if err != nil {
			logg.Fatalw("failed to resolve DSN from secrets manager", "error", err)
		}
	}
	logg.Info("connection to DSN: ", utils.MaskDSN(dsn))

	// --- Store (Redis + Postgres hybrid) ---
	st, err := store.NewHybrid(cfg.RedisAddr, cfg.RedisDB, dsn, store.PGPoolConfig{
		MaxConns:          int32(cfg.PGMaxConns),
		MinConns:          int32(cfg.PGMinConns),
		MaxConnLifetime:   cfg.PGMaxConnLifetime,
		MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
		HealthCheckPeriod: cfg.PGHealthCheckPeriod,
	}, logg.Desugar())
	if err != nil {
		logg.Fatalw("failed to init store", "error", err)
	}

	// --- Metrics listener ---
	metrics.StartServer(fmt.Sprintf(":%d", cfg.MetricsPort))

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
		BodyLimit:    cfg.HTTPBodyLimit,
	})

	handler := api.NewHandler(logg.Desugar(), st)
	api.RegisterRoutes(app, st, handler)

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	logg.Infow("[ingest-api] running",
		"env", cfg.Env,
		"port", cfg.Port,
		"metrics_port", cfg.MetricsPort)

	<-ctx.Done()
	logg.Info("shutting down [ingest-api]...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	if err := st.Close(); err != nil {
		logg.Warnw("store.close_failed", "error", err)
	}
}
