package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"budgetgoals/internal/amqp"
	"budgetgoals/internal/core"
	"budgetgoals/internal/ledger"
	applog "budgetgoals/internal/log"
	"budgetgoals/internal/metrics"
)

// DefaultFanout bounds concurrent aggregate queries per request.
const DefaultFanout = 8

// GoalService orchestrates goal records, progress views and the overview.
type GoalService struct {
	store      ledger.GoalStore
	aggregator *Aggregator
	recurring  *RecurringProcessor
	events     EventPublisher
	budgets    ledger.BudgetChecker
	log        *applog.StructuredLogger
	now        func() time.Time
	fanout     int
}

type GoalServiceOption func(*GoalService)

// WithClock overrides the time source used for the lazy rollover check.
func WithClock(now func() time.Time) GoalServiceOption {
	return func(s *GoalService) { s.now = now }
}

// WithFanout sets the per-request aggregation parallelism.
func WithFanout(n int) GoalServiceOption {
	return func(s *GoalService) {
		if n > 0 {
			s.fanout = n
		}
	}
}

// WithEvents enables goal lifecycle events.
func WithEvents(p EventPublisher) GoalServiceOption {
	return func(s *GoalService) { s.events = p }
}

// WithLogger sets the logger goal writes are recorded on.
func WithLogger(l *applog.Logger) GoalServiceOption {
	return func(s *GoalService) { s.log = applog.NewStructuredLogger(l) }
}

// WithBudgetChecker makes reads fail with core.ErrNotFound for unknown budgets
// instead of returning an empty result.
func WithBudgetChecker(b ledger.BudgetChecker) GoalServiceOption {
	return func(s *GoalService) { s.budgets = b }
}

func NewGoalService(store ledger.GoalStore, aggregator *Aggregator, recurring *RecurringProcessor, opts ...GoalServiceOption) *GoalService {
	s := &GoalService{
		store:      store,
		aggregator: aggregator,
		recurring:  recurring,
		log:        applog.NewStructuredLogger(applog.FromContext(context.Background())),
		now:        time.Now,
		fanout:     DefaultFanout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a new goal and returns it with its current progress.
func (s *GoalService) Create(ctx context.Context, spec core.GoalSpec) (core.GoalView, error) {
	g, err := s.store.Create(ctx, spec)
	metrics.GoalOperations.WithLabelValues("create", outcome(err)).Inc()
	if err != nil {
		return core.GoalView{}, fmt.Errorf("create goal: %w", err)
	}
	s.log.LogGoalChange(ctx, "Goal created", applog.OpCreate,
		g.ID, g.BudgetID, g.CategoryGroupID, g.Month.Key(),
		applog.FieldGoalAmount, g.GoalAmount.String(),
		applog.FieldRepeatMonth, g.RepeatMonth)
	s.publish(ctx, amqp.NewGoalEvent(amqp.GoalCreated, g))
	return s.committedView(ctx, g)
}

// Get returns one goal with progress.
func (s *GoalService) Get(ctx context.Context, id string) (core.GoalView, error) {
	g, err := s.store.Get(ctx, id)
	if err != nil {
		return core.GoalView{}, fmt.Errorf("get goal: %w", err)
	}
	return s.view(ctx, g)
}

// Update changes goalAmount and repeatMonth of the addressed record only.
// Successors that already exist keep their own amount.
func (s *GoalService) Update(ctx context.Context, id string, patch core.GoalPatch) (core.GoalView, error) {
	g, err := s.store.Update(ctx, id, patch)
	metrics.GoalOperations.WithLabelValues("update", outcome(err)).Inc()
	if err != nil {
		return core.GoalView{}, fmt.Errorf("update goal: %w", err)
	}
	s.log.LogGoalChange(ctx, "Goal updated", applog.OpUpdate,
		g.ID, g.BudgetID, g.CategoryGroupID, g.Month.Key(),
		applog.FieldGoalAmount, g.GoalAmount.String(),
		applog.FieldRepeatMonth, g.RepeatMonth)
	s.publish(ctx, amqp.NewGoalEvent(amqp.GoalUpdated, g))
	return s.committedView(ctx, g)
}

// Delete removes a goal. Other months' records are untouched.
func (s *GoalService) Delete(ctx context.Context, id string) error {
	g, err := s.store.Get(ctx, id)
	if err == nil {
		err = s.store.Delete(ctx, id)
	}
	metrics.GoalOperations.WithLabelValues("delete", outcome(err)).Inc()
	if err != nil {
		return fmt.Errorf("delete goal: %w", err)
	}
	s.log.LogGoalChange(ctx, "Goal deleted", applog.OpDelete,
		g.ID, g.BudgetID, g.CategoryGroupID, g.Month.Key())
	s.publish(ctx, amqp.NewGoalEvent(amqp.GoalDeleted, g))
	return nil
}

// List returns the goals of a budget month ordered by category group, with
// progress. categoryGroupID narrows the result when non-empty.
func (s *GoalService) List(ctx context.Context, budgetID string, month core.Month, categoryGroupID string) ([]core.GoalView, error) {
	if strings.TrimSpace(budgetID) == "" {
		return nil, fmt.Errorf("empty budget id: %w", core.ErrInvalidArgument)
	}
	if s.budgets != nil {
		ok, err := s.budgets.BudgetExists(ctx, budgetID)
		if err != nil {
			return nil, fmt.Errorf("check budget %s: %w", budgetID, err)
		}
		if !ok {
			return nil, fmt.Errorf("budget %q: %w", budgetID, core.ErrNotFound)
		}
	}
	if err := s.ensure(ctx, budgetID); err != nil {
		return nil, err
	}
	goals, err := s.store.ListByBudget(ctx, budgetID, month)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	if categoryGroupID != "" {
		filtered := goals[:0]
		for _, g := range goals {
			if g.CategoryGroupID == categoryGroupID {
				filtered = append(filtered, g)
			}
		}
		goals = filtered
	}
	return s.views(ctx, goals)
}

// Overview folds every goal of a budget month into totals. Any failed
// aggregation fails the whole overview.
func (s *GoalService) Overview(ctx context.Context, budgetID string, month core.Month) (core.Overview, error) {
	views, err := s.List(ctx, budgetID, month, "")
	if err != nil {
		return core.Overview{}, fmt.Errorf("overview %s %s: %w", budgetID, month.Key(), err)
	}
	return core.NewOverview(budgetID, month, views), nil
}

func (s *GoalService) ensure(ctx context.Context, budgetID string) error {
	if s.recurring == nil {
		return nil
	}
	if _, err := s.recurring.EnsureBudget(ctx, budgetID, s.now()); err != nil {
		return fmt.Errorf("materialize repeating goals: %w", err)
	}
	return nil
}

func (s *GoalService) view(ctx context.Context, g core.Goal) (core.GoalView, error) {
	agg, err := s.aggregator.Aggregate(ctx, g.CategoryGroupID, g.Month)
	if err != nil {
		return core.GoalView{}, err
	}
	return g.View(agg), nil
}

// committedView computes progress for a record that is already stored. A
// failure here keeps the record in the result and is reported as
// core.ErrProgressUnavailable so the write is not mistaken for a failed one.
func (s *GoalService) committedView(ctx context.Context, g core.Goal) (core.GoalView, error) {
	v, err := s.view(ctx, g)
	if err != nil {
		return core.GoalView{Goal: g}, fmt.Errorf("goal %s: %w: %w", g.ID, core.ErrProgressUnavailable, err)
	}
	return v, nil
}

func (s *GoalService) views(ctx context.Context, goals []core.Goal) ([]core.GoalView, error) {
	out := make([]core.GoalView, len(goals))
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.fanout)
	for i, g := range goals {
		eg.Go(func() error {
			agg, err := s.aggregator.Aggregate(egctx, g.CategoryGroupID, g.Month)
			if err != nil {
				return fmt.Errorf("goal %s: %w", g.ID, err)
			}
			out[i] = g.View(agg)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GoalService) publish(ctx context.Context, ev *amqp.GoalEvent) {
	if s.events == nil {
		slog.DebugContext(ctx, "AMQP publisher not configured, skipping goal event", "type", ev.Type, applog.FieldGoalID, ev.GoalID)
		return
	}
	err := s.events.PublishGoalEvent(ctx, ev)
	metrics.EventsPublished.WithLabelValues(ev.Type, metrics.Outcome(err)).Inc()
	if err != nil {
		// The record is already stored; the event is best effort.
		slog.ErrorContext(ctx, "Failed to publish goal event", "type", ev.Type, applog.FieldGoalID, ev.GoalID, applog.FieldError, err)
	}
}

// outcome labels store results, separating conflicts and validation errors.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, core.ErrConflict):
		return "conflict"
	case errors.Is(err, core.ErrInvalidArgument):
		return "invalid"
	case errors.Is(err, core.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
