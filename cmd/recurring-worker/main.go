package main

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"budgetgoals/internal/cli"
	applog "budgetgoals/internal/log"
	"budgetgoals/internal/services"
)

func main() {
	cfg, logger := cli.Bootstrap("recurring-worker")
	logger.Info("Starting recurring-worker")

	store := cli.OpenBackend(context.Background(), logger, cfg)
	defer func() {
		if err := store.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", "error", err)
		}
	}()

	var events services.EventPublisher
	if amqpClient := cli.ConnectAMQP(logger, cfg, cfg.AMQPGoalQueue); amqpClient != nil {
		defer amqpClient.Close()
		events = amqpClient.GoalPublisher(cfg.AMQPGoalQueue)
	}
	processor := services.NewRecurringProcessor(store.Store, events)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	run := func() {
		start := time.Now()
		count, err := processor.ProcessElapsed(ctx, start)
		if err != nil {
			logger.Error("Rollover sweep failed",
				applog.FieldOperation, applog.OpRollover,
				"created", count,
				"error", err)
			return
		}
		logger.Info("Rollover sweep complete",
			applog.FieldOperation, applog.OpRollover,
			"created", count,
			"duration_ms", time.Since(start).Milliseconds())
	}

	// Catch up on anything missed while the worker was down.
	run()

	scheduler := cron.New(cron.WithLocation(time.UTC))
	if _, err := scheduler.AddFunc(cfg.RecurrenceSchedule, run); err != nil {
		logger.Error("Invalid recurrence schedule", "schedule", cfg.RecurrenceSchedule, "error", err)
		return
	}
	scheduler.Start()
	logger.Info("Recurrence scheduled", "schedule", cfg.RecurrenceSchedule)

	<-done
	<-scheduler.Stop().Done()
	logger.Info("Recurring-worker shutdown complete")
}
