package services

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"budgetgoals/internal/amqp"
	"budgetgoals/internal/cache"
	"budgetgoals/internal/core"
	"budgetgoals/internal/ledger/memory"
)

// flakyLedger counts queries and fails those touching failFor.
type flakyLedger struct {
	*memory.Store
	failFor string
	err     error
	calls   atomic.Int32
}

func (l *flakyLedger) QuerySpend(ctx context.Context, cats []string, from, to time.Time) (core.TransactionAggregate, error) {
	l.calls.Add(1)
	if l.failFor != "" && slices.Contains(cats, l.failFor) {
		return core.TransactionAggregate{}, l.err
	}
	return l.Store.QuerySpend(ctx, cats, from, to)
}

func TestAggregator_Aggregate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	spend(t, store, "supermarket", "-10.10", may.Start())
	spend(t, store, "restaurants", "-0.90", may.End().Add(-time.Second))
	spend(t, store, "supermarket", "25", midMonth(may))
	spend(t, store, "supermarket", "-99", may.End())

	agg, err := NewAggregator(store, store, nil).Aggregate(ctx, "food", may)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if !agg.Expense.Equal(decimal.NewFromInt(11)) || !agg.Income.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("unexpected aggregate %+v", agg)
	}
}

func TestAggregator_EmptyAndUnknownGroups(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	l := &flakyLedger{Store: store}
	a := NewAggregator(store, l, nil)

	agg, err := a.Aggregate(ctx, "empty", may)
	if err != nil || !agg.Expense.IsZero() || !agg.Income.IsZero() {
		t.Fatalf("empty group: %+v err=%v", agg, err)
	}
	if l.calls.Load() != 0 {
		t.Fatal("empty group should not query the ledger")
	}
	if _, err := a.Aggregate(ctx, "nope", may); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAggregator_CacheAndInvalidation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	l := &flakyLedger{Store: store}
	c := cache.NewAggregateCache(10, time.Hour)
	c.Enable()
	a := NewAggregator(store, l, c)

	spend(t, store, "rent", "-100", midMonth(may))
	if _, err := a.Aggregate(ctx, "house", may); err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	spend(t, store, "rent", "-50", midMonth(may))

	cached, _ := a.Aggregate(ctx, "house", may)
	if l.calls.Load() != 1 || !cached.Expense.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected cached value, calls=%d agg=%+v", l.calls.Load(), cached)
	}

	tests := []struct {
		name string
		msg  *amqp.TransactionChangedMessage
	}{
		{"group and month", amqp.NewTransactionChangedMessage("rent", "house", may)},
		{"month only", amqp.NewTransactionChangedMessage("rent", "", may)},
		{"no months purges", amqp.NewTransactionChangedMessage("rent", "")},
		{"bad month purges", &amqp.TransactionChangedMessage{CategoryID: "rent", Months: []string{"garbage"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := a.Aggregate(ctx, "house", may); err != nil {
				t.Fatalf("warm: %v", err)
			}
			if err := a.HandleTransactionChanged(ctx, tt.msg); err != nil {
				t.Fatalf("handle: %v", err)
			}
			if _, ok := c.Get("house", may); ok {
				t.Fatal("entry survived invalidation")
			}
			fresh, err := a.Aggregate(ctx, "house", may)
			if err != nil || !fresh.Expense.Equal(decimal.NewFromInt(150)) {
				t.Fatalf("fresh aggregate %+v err=%v", fresh, err)
			}
		})
	}
}

func TestAggregator_DisabledCacheReadsThrough(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	// no invalidation feed, so the cache is never enabled
	a := NewAggregator(store, store, cache.NewAggregateCache(1000, 5*time.Minute))

	before, err := a.Aggregate(ctx, "food", may)
	if err != nil || !before.Expense.IsZero() {
		t.Fatalf("before write %+v err=%v", before, err)
	}
	spend(t, store, "supermarket", "-500", midMonth(may))

	after, err := a.Aggregate(ctx, "food", may)
	if err != nil || !after.Expense.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("stale aggregate served across requests: %+v err=%v", after, err)
	}
}

// racingLedger records a write and announces it while the first query is in
// flight, so the query result predates the announced change.
type racingLedger struct {
	*memory.Store
	t     *testing.T
	onceQ sync.Once
	c     *cache.AggregateCache
}

func (l *racingLedger) QuerySpend(ctx context.Context, cats []string, from, to time.Time) (core.TransactionAggregate, error) {
	agg, err := l.Store.QuerySpend(ctx, cats, from, to)
	l.onceQ.Do(func() {
		spend(l.t, l.Store, "rent", "-70", midMonth(may))
		l.c.InvalidateGroup("house", may)
	})
	return agg, err
}

func TestAggregator_InvalidationDuringQueryWins(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	c := cache.NewAggregateCache(10, time.Hour)
	c.Enable()
	a := NewAggregator(store, &racingLedger{Store: store, t: t, c: c}, c)

	first, err := a.Aggregate(ctx, "house", may)
	if err != nil || !first.Expense.IsZero() {
		t.Fatalf("first %+v err=%v", first, err)
	}
	if _, ok := c.Get("house", may); ok {
		t.Fatal("pre-write total was cached after its invalidation")
	}
	second, err := a.Aggregate(ctx, "house", may)
	if err != nil || !second.Expense.Equal(decimal.NewFromInt(70)) {
		t.Fatalf("second %+v err=%v", second, err)
	}
}
