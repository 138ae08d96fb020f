package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"budgetgoals/internal/amqp"
	"budgetgoals/internal/cache"
	"budgetgoals/internal/cli"
	apphttp "budgetgoals/internal/http"
	applog "budgetgoals/internal/log"
	"budgetgoals/internal/services"
)

func main() {
	cfg, logger := cli.Bootstrap("goals-api")

	store := cli.OpenBackend(context.Background(), logger, cfg)
	defer func() {
		if err := store.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", "error", err)
		}
	}()

	amqpClient := cli.ConnectAMQP(logger, cfg, cfg.AMQPGoalQueue, cfg.AMQPTransactionQueue)
	if amqpClient != nil {
		defer amqpClient.Close()
	}

	// The cache is created disabled and only serves entries while the
	// transaction-change consumer below is running.
	var (
		aggCache *cache.AggregateCache
		caches   = cache.NewManager()
	)
	switch {
	case !cfg.CacheEnabled():
	case amqpClient == nil:
		logger.Warn("Aggregate cache requested but no invalidation feed is available, caching disabled")
	default:
		aggCache = cache.NewAggregateCache(cfg.AggregateCacheSize, cfg.AggregateCacheTTL)
		caches.Register(aggCache)
		caches.StartCleanup(cfg.AggregateCacheTTL)
	}
	defer caches.Stop()

	opts := []services.GoalServiceOption{
		services.WithBudgetChecker(store.Store),
		services.WithFanout(cfg.AggregateFanout),
		services.WithLogger(logger),
	}
	var events services.EventPublisher
	if amqpClient != nil {
		events = amqpClient.GoalPublisher(cfg.AMQPGoalQueue)
		opts = append(opts, services.WithEvents(events))
	}

	aggregator := services.NewAggregator(store.Store, store.Store, aggCache)
	recurring := services.NewRecurringProcessor(store.Store, events)
	goals := services.NewGoalService(store.Store, aggregator, recurring, opts...)

	var ready apphttp.ReadinessChecker
	if pinger, ok := store.Store.(apphttp.ReadinessChecker); ok {
		ready = pinger
	}

	srv := apphttp.NewServer(":"+cfg.Port, goals, apphttp.Options{
		WriteRoles:     cfg.WriteRoles,
		RequestTimeout: cfg.RequestTimeout,
		Ready:          ready,
		Logger:         logger.WithComponent(applog.ComponentHTTP),
	})
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = cfg.RequestTimeout + 5*time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
	})

	// Ledger writers announce changes so cached aggregates are dropped.
	if aggCache != nil {
		go func() {
			err := amqpClient.ConsumeTransactionChanges(ctx, cfg.AMQPTransactionQueue, aggregator.HandleTransactionChanged,
				amqp.OnStarted(func() {
					aggCache.Enable()
					logger.Info("Aggregate cache enabled", "size", cfg.AggregateCacheSize, "ttl", cfg.AggregateCacheTTL)
				}))
			aggCache.Disable()
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Transaction change consumption stopped, aggregate cache disabled", "error", err)
			}
		}()
	}

	logger.Info("Starting goals API",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"write_roles", cfg.WriteRoles)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-done
	logger.Info("Server stopped gracefully")
}
