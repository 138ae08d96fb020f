package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"budgetgoals/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "goals.db"))
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	ctx := context.Background()
	if err := repo.UpsertBudget(ctx, "b1", "Household"); err != nil {
		t.Fatalf("budget: %v", err)
	}
	if err := repo.UpsertCategoryGroup(ctx, "food", []string{"supermarket", "restaurants"}); err != nil {
		t.Fatalf("group: %v", err)
	}
	if err := repo.UpsertCategoryGroup(ctx, "house", []string{"rent"}); err != nil {
		t.Fatalf("group: %v", err)
	}
	if err := repo.UpsertCategoryGroup(ctx, "empty", nil); err != nil {
		t.Fatalf("group: %v", err)
	}
	return repo
}

func goalSpec(group string, month core.Month, amount string, repeat bool) core.GoalSpec {
	return core.GoalSpec{
		BudgetID:        "b1",
		CategoryGroupID: group,
		GoalAmount:      decimal.RequireFromString(amount),
		Month:           month,
		RepeatMonth:     repeat,
	}
}

func TestRepositoryGoalLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	may := core.NewMonth(2025, time.May)

	g, err := repo.Create(ctx, goalSpec("food", may, "1000000.50", true))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.Get(ctx, g.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.GoalAmount.Equal(decimal.RequireFromString("1000000.50")) || !got.Month.Equal(may.Time) || !got.RepeatMonth || got.RolledOver {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	updated, err := repo.Update(ctx, g.ID, core.GoalPatch{GoalAmount: decimal.RequireFromString("12.34")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.RepeatMonth || !updated.GoalAmount.Equal(decimal.RequireFromString("12.34")) {
		t.Fatalf("unexpected update result: %+v", updated)
	}

	june := may.Next()
	if _, err := repo.Update(ctx, g.ID, core.GoalPatch{GoalAmount: decimal.NewFromInt(1), Month: &june}); !errors.Is(err, core.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}

	if err := repo.Delete(ctx, g.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.Delete(ctx, g.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := repo.Get(ctx, g.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRepositoryCreateErrors(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	may := core.NewMonth(2025, time.May)
	if _, err := repo.Create(ctx, goalSpec("food", may, "10", false)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	unknownBudget := goalSpec("food", may, "10", false)
	unknownBudget.BudgetID = "nope"

	tests := []struct {
		name string
		spec core.GoalSpec
		want error
	}{
		{"natural key conflict", goalSpec("food", may, "99", true), core.ErrConflict},
		{"unknown budget", unknownBudget, core.ErrNotFound},
		{"unknown group", goalSpec("nope", may, "10", false), core.ErrNotFound},
		{"zero amount", goalSpec("house", may, "0", false), core.ErrInvalidArgument},
		{"sub-cent amount", goalSpec("house", may, "1.001", false), core.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := repo.Create(ctx, tt.spec); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRepositoryConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	may := core.NewMonth(2025, time.May)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Create(ctx, goalSpec("food", may, "10", true))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	created := 0
	for err := range errs {
		if err == nil {
			created++
			continue
		}
		if !errors.Is(err, core.ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if created != 1 {
		t.Fatalf("created %d goals, want 1", created)
	}
}

func TestRepositoryListAndFind(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	may := core.NewMonth(2025, time.May)
	for _, g := range []string{"house", "food", "empty"} {
		if _, err := repo.Create(ctx, goalSpec(g, may, "5", false)); err != nil {
			t.Fatalf("create %s: %v", g, err)
		}
	}
	if _, err := repo.Create(ctx, goalSpec("food", may.Next(), "5", false)); err != nil {
		t.Fatalf("create next: %v", err)
	}

	goals, err := repo.ListByBudget(ctx, "b1", may)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var order []string
	for _, g := range goals {
		order = append(order, g.CategoryGroupID)
	}
	if len(order) != 3 || order[0] != "empty" || order[1] != "food" || order[2] != "house" {
		t.Fatalf("unexpected order %v", order)
	}

	g, ok, err := repo.FindByNaturalKey(ctx, "b1", "food", may.Next())
	if err != nil || !ok || !g.Month.Equal(may.Next().Time) {
		t.Fatalf("find: %+v ok=%v err=%v", g, ok, err)
	}
	if _, ok, err := repo.FindByNaturalKey(ctx, "b1", "house", may.Next()); ok || err != nil {
		t.Fatalf("expected miss, ok=%v err=%v", ok, err)
	}
}

func TestRepositoryPendingRollovers(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	april := core.NewMonth(2025, time.April)
	may := april.Next()

	tmpl, _ := repo.Create(ctx, goalSpec("food", april, "5", true))
	_, _ = repo.Create(ctx, goalSpec("house", april, "5", false))
	_, _ = repo.Create(ctx, goalSpec("empty", may, "5", true))

	pending, err := repo.ListPendingRollovers(ctx, "", may)
	if err != nil || len(pending) != 1 || pending[0].ID != tmpl.ID {
		t.Fatalf("unexpected pending %+v err=%v", pending, err)
	}
	if p, err := repo.ListPendingRollovers(ctx, "other", may); err != nil || len(p) != 0 {
		t.Fatalf("budget filter ignored: %+v err=%v", p, err)
	}

	if err := repo.MarkRolledOver(ctx, tmpl.ID); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if p, _ := repo.ListPendingRollovers(ctx, "", may); len(p) != 0 {
		t.Fatalf("expected none pending, got %+v", p)
	}
	if err := repo.MarkRolledOver(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRepositoryQuerySpend(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	may := core.NewMonth(2025, time.May)

	txs := []struct {
		cat    string
		amount string
		at     time.Time
	}{
		{"supermarket", "-600000", may.Start()},
		{"restaurants", "-250000", may.End().Add(-time.Second)},
		{"restaurants", "40.25", time.Date(2025, 5, 12, 8, 0, 0, 0, time.UTC)},
		{"supermarket", "-1", may.End()},
		{"rent", "-900", time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)},
	}
	for _, tx := range txs {
		if err := repo.RecordTransaction(ctx, core.Transaction{
			CategoryID: tx.cat,
			Amount:     decimal.RequireFromString(tx.amount),
			OccurredAt: tx.at,
		}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	cats, err := repo.CategoriesInGroup(ctx, "food")
	if err != nil {
		t.Fatalf("categories: %v", err)
	}
	agg, err := repo.QuerySpend(ctx, cats, may.Start(), may.End())
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !agg.Expense.Equal(decimal.NewFromInt(850000)) {
		t.Fatalf("expense = %s, want 850000", agg.Expense)
	}
	if !agg.Income.Equal(decimal.RequireFromString("40.25")) {
		t.Fatalf("income = %s, want 40.25", agg.Income)
	}

	if cats, err := repo.CategoriesInGroup(ctx, "empty"); err != nil || len(cats) != 0 {
		t.Fatalf("expected empty group, got %v %v", cats, err)
	}
	if _, err := repo.CategoriesInGroup(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	zero, err := repo.QuerySpend(ctx, nil, may.Start(), may.End())
	if err != nil || !zero.Expense.IsZero() {
		t.Fatalf("expected zero aggregate, got %+v err=%v", zero, err)
	}
}

func TestRepositoryCanceledContextIsTransient(t *testing.T) {
	repo := newTestRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	may := core.NewMonth(2025, time.May)
	if _, err := repo.QuerySpend(ctx, []string{"rent"}, may.Start(), may.End()); !errors.Is(err, core.ErrTransient) {
		t.Fatalf("expected transient, got %v", err)
	}
}
