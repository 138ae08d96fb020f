package services

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"budgetgoals/internal/amqp"
	"budgetgoals/internal/cache"
	"budgetgoals/internal/core"
	"budgetgoals/internal/ledger/memory"
	applog "budgetgoals/internal/log"
)

type serviceFixture struct {
	store *memory.Store
	pub   *recordingPublisher
	svc   *GoalService
}

func newServiceFixture(t *testing.T, now time.Time) serviceFixture {
	t.Helper()
	store := newTestStore()
	pub := &recordingPublisher{}
	agg := NewAggregator(store, store, cache.NewAggregateCache(100, time.Minute))
	svc := NewGoalService(store, agg, NewRecurringProcessor(store, pub),
		WithClock(func() time.Time { return now }),
		WithEvents(pub),
		WithFanout(2))
	return serviceFixture{store: store, pub: pub, svc: svc}
}

func spend(t *testing.T, s *memory.Store, cat, amount string, at time.Time) {
	t.Helper()
	if err := s.RecordTransaction(context.Background(), core.Transaction{
		CategoryID: cat,
		Amount:     decimal.RequireFromString(amount),
		OccurredAt: at,
	}); err != nil {
		t.Fatalf("record: %v", err)
	}
}

func TestGoalService_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, midMonth(may))
	spend(t, f.store, "supermarket", "-600000", midMonth(may))
	spend(t, f.store, "restaurants", "-250000", midMonth(may))
	spend(t, f.store, "restaurants", "1000", midMonth(may))

	v, err := f.svc.Create(ctx, core.GoalSpec{
		BudgetID:        "b1",
		CategoryGroupID: "food",
		GoalAmount:      decimal.NewFromInt(1000000),
		Month:           may,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !v.Spent.Equal(decimal.NewFromInt(850000)) ||
		!v.Remaining.Equal(decimal.NewFromInt(150000)) ||
		!v.Percentage.Equal(decimal.RequireFromString("0.85")) ||
		!v.Warning {
		t.Fatalf("unexpected progress %+v", v.Progress)
	}

	got, err := f.svc.Get(ctx, v.ID)
	if err != nil || got.ID != v.ID || !got.Spent.Equal(v.Spent) {
		t.Fatalf("get: %+v err=%v", got, err)
	}
	if types := f.pub.types(); len(types) != 1 || types[0] != amqp.GoalCreated {
		t.Fatalf("unexpected events %v", types)
	}

	_, err = f.svc.Create(ctx, core.GoalSpec{BudgetID: "b1", CategoryGroupID: "food", GoalAmount: decimal.NewFromInt(5), Month: may})
	if !errors.Is(err, core.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := f.svc.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGoalService_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, midMonth(may))
	g := mustCreate(t, f.store, "b1", "food", may, "100", false)

	v, err := f.svc.Update(ctx, g.ID, core.GoalPatch{GoalAmount: decimal.NewFromInt(200), RepeatMonth: true})
	if err != nil || !v.GoalAmount.Equal(decimal.NewFromInt(200)) || !v.RepeatMonth {
		t.Fatalf("update: %+v err=%v", v, err)
	}
	if _, err := f.svc.Update(ctx, g.ID, core.GoalPatch{GoalAmount: decimal.NewFromInt(1), CategoryGroupID: "house"}); !errors.Is(err, core.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}

	if err := f.svc.Delete(ctx, g.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := f.svc.Delete(ctx, g.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	want := []string{amqp.GoalUpdated, amqp.GoalDeleted}
	got := f.pub.types()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestGoalService_ListMaterializesRepeatingGoals(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, midMonth(may))
	mustCreate(t, f.store, "b1", "food", april, "100", true)
	mustCreate(t, f.store, "b1", "house", may, "900", false)

	views, err := f.svc.List(ctx, "b1", may, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 2 || views[0].CategoryGroupID != "food" || views[1].CategoryGroupID != "house" {
		t.Fatalf("unexpected list %+v", views)
	}

	filtered, err := f.svc.List(ctx, "b1", may, "house")
	if err != nil || len(filtered) != 1 || filtered[0].CategoryGroupID != "house" {
		t.Fatalf("filter: %+v err=%v", filtered, err)
	}
	if empty, err := f.svc.List(ctx, "b2", may, ""); err != nil || len(empty) != 0 {
		t.Fatalf("expected empty list, got %+v err=%v", empty, err)
	}
}

func TestGoalService_Overview(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, midMonth(may))
	mustCreate(t, f.store, "b1", "food", may, "1000", false)
	mustCreate(t, f.store, "b1", "house", may, "3000", false)
	mustCreate(t, f.store, "b1", "empty", may, "1000", false)
	spend(t, f.store, "supermarket", "-1200", midMonth(may))
	spend(t, f.store, "rent", "-1800", midMonth(may))
	spend(t, f.store, "rent", "-5000", midMonth(june))

	o, err := f.svc.Overview(ctx, "b1", may)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if len(o.Goals) != 3 {
		t.Fatalf("goals = %d, want 3", len(o.Goals))
	}
	if !o.TotalGoal.Equal(decimal.NewFromInt(5000)) ||
		!o.TotalSpent.Equal(decimal.NewFromInt(3000)) ||
		!o.TotalRemaining.Equal(decimal.NewFromInt(2000)) ||
		!o.SpentPercentage.Equal(decimal.RequireFromString("0.6")) ||
		o.Warning {
		t.Fatalf("unexpected totals %+v", o)
	}
	if food := o.Goals[1]; food.CategoryGroupID != "food" || !food.Remaining.Equal(decimal.NewFromInt(-200)) || !food.Warning {
		t.Fatalf("unexpected food view %+v", food)
	}
}

func TestGoalService_OverviewFailsAsAWhole(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	mustCreate(t, store, "b1", "food", may, "1000", false)
	mustCreate(t, store, "b1", "house", may, "1000", false)

	l := &flakyLedger{Store: store, failFor: "rent", err: core.ErrTransient}
	svc := NewGoalService(store, NewAggregator(store, l, nil), nil, WithClock(func() time.Time { return midMonth(may) }))

	o, err := svc.Overview(ctx, "b1", may)
	if !errors.Is(err, core.ErrTransient) {
		t.Fatalf("expected transient, got %v", err)
	}
	if len(o.Goals) != 0 || !o.TotalGoal.IsZero() {
		t.Fatalf("partial overview returned: %+v", o)
	}
}

func TestGoalService_ListChecksBudget(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	svc := NewGoalService(store, NewAggregator(store, store, nil), nil, WithBudgetChecker(store))

	if _, err := svc.List(ctx, "nope", may, ""); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.Overview(ctx, " ", may); !errors.Is(err, core.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if views, err := svc.List(ctx, "b1", may, ""); err != nil || len(views) != 0 {
		t.Fatalf("known budget: %+v err=%v", views, err)
	}
}

func TestGoalService_WriteCommittedBeforeProgressFailure(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	l := &flakyLedger{Store: store, failFor: "supermarket", err: core.ErrTransient}
	svc := NewGoalService(store, NewAggregator(store, l, nil), nil, WithClock(func() time.Time { return midMonth(may) }))
	spec := core.GoalSpec{BudgetID: "b1", CategoryGroupID: "food", GoalAmount: decimal.NewFromInt(500), Month: may}

	v, err := svc.Create(ctx, spec)
	if !errors.Is(err, core.ErrProgressUnavailable) || !errors.Is(err, core.ErrTransient) {
		t.Fatalf("create err = %v, want progress unavailable wrapping transient", err)
	}
	if v.ID == "" || v.CategoryGroupID != "food" {
		t.Fatalf("stored record missing from result: %+v", v)
	}
	stored, ok := mustFind(t, store, "b1", "food", may)
	if !ok || stored.ID != v.ID {
		t.Fatalf("goal not stored: %+v", stored)
	}
	if _, err := svc.Create(ctx, spec); !errors.Is(err, core.ErrConflict) {
		t.Fatalf("repeated create err = %v, want conflict", err)
	}

	u, err := svc.Update(ctx, v.ID, core.GoalPatch{GoalAmount: decimal.NewFromInt(700)})
	if !errors.Is(err, core.ErrProgressUnavailable) || u.ID != v.ID {
		t.Fatalf("update: %+v err=%v", u, err)
	}
	if stored, _ := mustFind(t, store, "b1", "food", may); !stored.GoalAmount.Equal(decimal.NewFromInt(700)) {
		t.Fatalf("update not stored: %+v", stored)
	}

	// Reads have nothing committed to report and fail plainly.
	if _, err := svc.Get(ctx, v.ID); errors.Is(err, core.ErrProgressUnavailable) || !errors.Is(err, core.ErrTransient) {
		t.Fatalf("get err = %v", err)
	}
}

func TestGoalService_LogsGoalWrites(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	store := newTestStore()
	svc := NewGoalService(store, NewAggregator(store, store, nil), nil,
		WithClock(func() time.Time { return midMonth(may) }),
		WithLogger(applog.New(applog.Config{Handler: slog.NewTextHandler(&buf, nil)})))

	v, err := svc.Create(ctx, core.GoalSpec{BudgetID: "b1", CategoryGroupID: "food", GoalAmount: decimal.NewFromInt(500), Month: may})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Update(ctx, v.ID, core.GoalPatch{GoalAmount: decimal.NewFromInt(600)}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := svc.Delete(ctx, v.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d log lines:\n%s", len(lines), buf.String())
	}
	for i, op := range []string{"create", "update", "delete"} {
		for _, want := range []string{"operation=" + op, "goal_id=" + v.ID, "budget_id=b1", "category_group_id=food", "month=2025-05", "component=goals"} {
			if !strings.Contains(lines[i], want) {
				t.Errorf("%s line missing %q: %s", op, want, lines[i])
			}
		}
	}
	if !strings.Contains(lines[1], "goal_amount=600") {
		t.Errorf("update line missing amount: %s", lines[1])
	}
}
