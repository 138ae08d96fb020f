package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"budgetgoals/internal/amqp"
	"budgetgoals/internal/core"
	"budgetgoals/internal/sheets"
)

// GoalReader returns a goal with its progress computed at read time.
type GoalReader interface {
	Get(ctx context.Context, id string) (core.GoalView, error)
}

// SnapshotWorker turns goal lifecycle events into exported progress rows.
type SnapshotWorker struct {
	goals  GoalReader
	writer sheets.SnapshotWriter
	now    func() time.Time
}

func NewSnapshotWorker(goals GoalReader, writer sheets.SnapshotWriter) *SnapshotWorker {
	return &SnapshotWorker{goals: goals, writer: writer, now: time.Now}
}

// HandleGoalEvent processes a single goal event from AMQP. Deleted goals are
// exported from the event payload with zero progress; for every other event
// the current view is read back so the row reflects live spend.
func (w *SnapshotWorker) HandleGoalEvent(ctx context.Context, ev *amqp.GoalEvent) error {
	if w.goals == nil || w.writer == nil {
		return fmt.Errorf("snapshot worker not properly initialized")
	}

	slog.InfoContext(ctx, "Processing goal event",
		"type", ev.Type,
		"goal_id", ev.GoalID,
		"month", ev.Month)

	var view core.GoalView
	if ev.Type == amqp.GoalDeleted {
		v, err := viewFromEvent(ev)
		if err != nil {
			slog.WarnContext(ctx, "Dropping malformed goal event", "goal_id", ev.GoalID, "error", err)
			return nil
		}
		view = v
	} else {
		v, err := w.goals.Get(ctx, ev.GoalID)
		if errors.Is(err, core.ErrNotFound) {
			// Deleted after the event was published; its delete event follows.
			slog.InfoContext(ctx, "Goal no longer exists, skipping snapshot", "goal_id", ev.GoalID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("read goal %s: %w", ev.GoalID, err)
		}
		view = v
	}

	ref, err := w.writer.AppendSnapshot(ctx, sheets.NewGoalSnapshot(ev.Type, view, w.now()))
	if err != nil {
		return fmt.Errorf("export snapshot of %s: %w", ev.GoalID, err)
	}

	slog.InfoContext(ctx, "Goal snapshot written",
		"goal_id", ev.GoalID,
		"type", ev.Type,
		"ref", ref)
	return nil
}

func viewFromEvent(ev *amqp.GoalEvent) (core.GoalView, error) {
	month, err := core.ParseMonth(ev.Month)
	if err != nil {
		return core.GoalView{}, err
	}
	amount, err := decimal.NewFromString(ev.GoalAmount)
	if err != nil {
		return core.GoalView{}, fmt.Errorf("goal amount %q: %w", ev.GoalAmount, err)
	}
	g := core.Goal{
		ID:              ev.GoalID,
		BudgetID:        ev.BudgetID,
		CategoryGroupID: ev.CategoryGroupID,
		GoalAmount:      amount,
		Month:           month,
		RepeatMonth:     ev.RepeatMonth,
	}
	return g.View(core.TransactionAggregate{Income: decimal.Zero, Expense: decimal.Zero}), nil
}
