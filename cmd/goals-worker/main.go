package main

import (
	"context"
	"errors"
	"os"
	"time"

	"budgetgoals/internal/cli"
	applog "budgetgoals/internal/log"
	"budgetgoals/internal/services"
	"budgetgoals/internal/sheets"
	gsheet "budgetgoals/internal/sheets/google"
	mem "budgetgoals/internal/sheets/memory"
	"budgetgoals/internal/worker"
)

func main() {
	cfg, logger := cli.Bootstrap("goals-worker")
	logger.Info("Starting goals-worker")

	store := cli.OpenBackend(context.Background(), logger, cfg)
	defer func() {
		if err := store.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", "error", err)
		}
	}()

	var writer sheets.SnapshotWriter
	if cfg.SheetsEnabled() {
		client, err := gsheet.New(context.Background(), cfg.GoogleSpreadsheetID, cfg.GoogleSheetName)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", "error", err)
			os.Exit(1)
		}
		writer = client
		logger.Info("Google Sheets export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID, "sheet", cfg.GoogleSheetName)
	} else {
		writer = mem.New()
		logger.Info("Google Sheets disabled - snapshots kept in memory")
	}

	amqpClient := cli.ConnectAMQP(logger, cfg, cfg.AMQPGoalQueue)
	if amqpClient == nil {
		logger.Error("goals-worker requires a message broker")
		os.Exit(1)
	}
	defer amqpClient.Close()

	// Reads only: the worker never materializes or publishes.
	aggregator := services.NewAggregator(store.Store, store.Store, nil)
	goals := services.NewGoalService(store.Store, aggregator, nil)
	snapshots := worker.NewSnapshotWorker(goals, writer)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	go func() {
		err := amqpClient.ConsumeGoalEvents(ctx, cfg.AMQPGoalQueue, snapshots.HandleGoalEvent)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Goal event consumption failed",
				applog.FieldComponent, applog.ComponentWorker,
				"error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("Worker shutdown complete")
}
