package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"budgetgoals/internal/amqp"
	"budgetgoals/internal/core"
	"budgetgoals/internal/ledger"
	applog "budgetgoals/internal/log"
	"budgetgoals/internal/metrics"
)

// maxRolloverPasses bounds chain catch-up to a century of months.
const maxRolloverPasses = 1200

// EventPublisher emits goal lifecycle events.
type EventPublisher interface {
	PublishGoalEvent(ctx context.Context, ev *amqp.GoalEvent) error
}

// RecurringProcessor materializes next month's goal from every repeating
// goal whose month has elapsed.
type RecurringProcessor struct {
	store  ledger.GoalStore
	events EventPublisher
}

// NewRecurringProcessor builds a processor. events may be nil.
func NewRecurringProcessor(store ledger.GoalStore, events EventPublisher) *RecurringProcessor {
	return &RecurringProcessor{store: store, events: events}
}

// ProcessElapsed runs the sweep across every budget and returns how many
// successors were created.
func (p *RecurringProcessor) ProcessElapsed(ctx context.Context, now time.Time) (int, error) {
	return p.sweep(ctx, "", now)
}

// EnsureBudget runs the sweep for a single budget. Reads call it before
// listing goals so the current month is always materialized.
func (p *RecurringProcessor) EnsureBudget(ctx context.Context, budgetID string, now time.Time) (int, error) {
	return p.sweep(ctx, budgetID, now)
}

// sweep repeats until no template is pending, so a chain that fell several
// months behind is brought up to the current month in one call.
func (p *RecurringProcessor) sweep(ctx context.Context, budgetID string, now time.Time) (int, error) {
	if p.store == nil {
		return 0, fmt.Errorf("processor not properly initialized")
	}
	current := core.MonthOf(now)
	created := 0

	for pass := 0; pass < maxRolloverPasses; pass++ {
		pending, err := p.store.ListPendingRollovers(ctx, budgetID, current)
		if err != nil {
			return created, fmt.Errorf("list pending rollovers: %w", err)
		}
		if len(pending) == 0 {
			return created, nil
		}

		var (
			errs   []error
			rolled int
		)
		for _, g := range pending {
			if !g.Month.Elapsed(now) {
				continue
			}
			rolled++
			made, err := p.rollover(ctx, g)
			if err != nil {
				slog.ErrorContext(ctx, "Failed to roll over goal",
					applog.FieldGoalID, g.ID,
					applog.FieldBudgetID, g.BudgetID,
					applog.FieldCategoryGroupID, g.CategoryGroupID,
					applog.FieldMonth, g.Month.Key(),
					applog.FieldError, err)
				errs = append(errs, err)
				continue
			}
			if made {
				created++
			}
		}
		if len(errs) > 0 {
			return created, errors.Join(errs...)
		}
		if rolled == 0 {
			return created, nil
		}
	}
	return created, fmt.Errorf("rollover did not converge after %d passes: %w", maxRolloverPasses, core.ErrInternal)
}

// rollover creates g's successor unless it exists, then marks g so later
// sweeps skip it. A conflict means another sweep or the user got there first.
func (p *RecurringProcessor) rollover(ctx context.Context, g core.Goal) (bool, error) {
	made := false
	spec := g.Successor()
	succ, found, err := p.store.FindByNaturalKey(ctx, spec.BudgetID, spec.CategoryGroupID, spec.Month)
	switch {
	case err != nil:
		return false, fmt.Errorf("look up successor of %s: %w", g.ID, err)
	case found:
		err = core.ErrConflict
	default:
		succ, err = p.store.Create(ctx, spec)
	}
	switch {
	case err == nil:
		made = true
		metrics.RolloversTotal.WithLabelValues("created").Inc()
		slog.InfoContext(ctx, "Repeating goal rolled over",
			applog.FieldGoalID, succ.ID,
			applog.FieldTemplateID, g.ID,
			applog.FieldBudgetID, succ.BudgetID,
			applog.FieldCategoryGroupID, succ.CategoryGroupID,
			applog.FieldMonth, succ.Month.Key())
		p.publish(ctx, amqp.NewGoalEvent(amqp.GoalRolledOver, succ))
	case errors.Is(err, core.ErrConflict):
		metrics.RolloversTotal.WithLabelValues("existing").Inc()
	case errors.Is(err, core.ErrNotFound):
		// Budget or group vanished upstream; end the chain.
		metrics.RolloversTotal.WithLabelValues("orphaned").Inc()
		slog.WarnContext(ctx, "Ending repeating goal chain",
			applog.FieldGoalID, g.ID,
			applog.FieldBudgetID, g.BudgetID,
			applog.FieldCategoryGroupID, g.CategoryGroupID,
			"reason", err)
	default:
		return false, fmt.Errorf("create successor of %s: %w", g.ID, err)
	}

	if err := p.store.MarkRolledOver(ctx, g.ID); err != nil && !errors.Is(err, core.ErrNotFound) {
		return made, fmt.Errorf("mark %s rolled over: %w", g.ID, err)
	}
	return made, nil
}

func (p *RecurringProcessor) publish(ctx context.Context, ev *amqp.GoalEvent) {
	if p.events == nil {
		return
	}
	err := p.events.PublishGoalEvent(ctx, ev)
	metrics.EventsPublished.WithLabelValues(ev.Type, metrics.Outcome(err)).Inc()
	if err != nil {
		slog.ErrorContext(ctx, "Failed to publish goal event", "type", ev.Type, applog.FieldGoalID, ev.GoalID, applog.FieldError, err)
	}
}
