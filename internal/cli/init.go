// Package cli provides common CLI initialization utilities.
// This package consolidates repeated initialization patterns across
// cmd/goals-api, cmd/goals-worker, and cmd/recurring-worker.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"budgetgoals/internal/amqp"
	"budgetgoals/internal/backend"
	"budgetgoals/internal/config"
	applog "budgetgoals/internal/log"
)

// Bootstrap loads .env and the configuration, then installs the process
// logger for component at the configured LOG_LEVEL. Exits on invalid config.
func Bootstrap(component string) (*config.Config, *applog.Logger) {
	config.LoadEnvFile()
	cfg := config.Load()

	level, levelErr := applog.ParseLevel(cfg.LogLevel)
	logger := applog.Setup(component, level)
	if levelErr != nil {
		logger.Warn("Falling back to info logging", "error", levelErr)
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed",
			applog.FieldErrorType, applog.ErrorTypeConfiguration,
			"error", err)
		os.Exit(1)
	}
	return cfg, logger
}

// OpenBackend creates the configured storage backend or exits the process.
func OpenBackend(ctx context.Context, logger *applog.Logger, cfg *config.Config) *backend.BackendResult {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	result, err := backend.NewFactory(logger.Logger).CreateBackend(ctx, bcfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", bcfg.Type.String())
		os.Exit(1)
	}
	logger.Info("Backend initialized", "backend", bcfg.Type.String())
	return result
}

// ConnectAMQP dials the broker and declares the given queues. A failed
// connection is logged and yields nil so callers can run without messaging.
func ConnectAMQP(logger *applog.Logger, cfg *config.Config, queues ...string) *amqp.Client {
	if cfg.AMQPURL == "" {
		logger.Info("AMQP disabled - no AMQP_URL provided")
		return nil
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, queues...)
	if err != nil {
		logger.Warn("Failed to initialize AMQP client, continuing without messaging", "error", err)
		return nil
	}
	logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "queues", queues)
	return client
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that signals when shutdown is complete.
func GracefulShutdown(logger *applog.Logger, timeout time.Duration, cleanup func(context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
		case <-ctx.Done():
			logger.Info("Context cancelled")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		cancel()
		if cleanup != nil {
			cleanup(shutdownCtx)
		}

		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached")
		} else {
			logger.Info("Shutdown complete")
		}
		close(done)
	}()

	return ctx, done
}
