package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"budgetgoals/internal/amqp"
	"budgetgoals/internal/cache"
	"budgetgoals/internal/core"
	"budgetgoals/internal/ledger"
	applog "budgetgoals/internal/log"
	"budgetgoals/internal/metrics"
)

// Aggregator sums a category group's transactions for a calendar month.
type Aggregator struct {
	resolver ledger.CategoryGroupResolver
	ledger   ledger.TransactionLedger
	cache    *cache.AggregateCache
}

// NewAggregator builds an aggregator. cache may be nil.
func NewAggregator(resolver ledger.CategoryGroupResolver, l ledger.TransactionLedger, c *cache.AggregateCache) *Aggregator {
	return &Aggregator{resolver: resolver, ledger: l, cache: c}
}

// Aggregate returns income and expense magnitudes over [month start, next
// month start). An unknown group fails with core.ErrNotFound; a group with
// no categories or no transactions yields zero totals.
func (a *Aggregator) Aggregate(ctx context.Context, categoryGroupID string, month core.Month) (core.TransactionAggregate, error) {
	var (
		ticket  cache.Ticket
		caching bool
	)
	if a.cache != nil && a.cache.Enabled() {
		if agg, ok := a.cache.Get(categoryGroupID, month); ok {
			metrics.AggregateCache.WithLabelValues("hit").Inc()
			return agg, nil
		}
		metrics.AggregateCache.WithLabelValues("miss").Inc()
		ticket = a.cache.Begin(categoryGroupID, month)
		caching = true
	}

	cats, err := a.resolver.CategoriesInGroup(ctx, categoryGroupID)
	if err != nil {
		return core.TransactionAggregate{}, fmt.Errorf("resolve category group %s: %w", categoryGroupID, err)
	}

	agg := core.TransactionAggregate{Income: decimal.Zero, Expense: decimal.Zero}
	if len(cats) > 0 {
		start := time.Now()
		agg, err = a.ledger.QuerySpend(ctx, cats, month.Start(), month.End())
		metrics.AggregateDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			return core.TransactionAggregate{}, fmt.Errorf("aggregate %s %s: %w", categoryGroupID, month.Key(), err)
		}
	}

	if caching && !a.cache.Fill(ticket, categoryGroupID, month, agg) {
		metrics.AggregateCache.WithLabelValues("discarded").Inc()
	}
	return agg, nil
}

// HandleTransactionChanged drops cached aggregates touched by a ledger change.
func (a *Aggregator) HandleTransactionChanged(ctx context.Context, msg *amqp.TransactionChangedMessage) error {
	if a.cache == nil {
		return nil
	}
	months, err := msg.AffectedMonths()
	if err != nil {
		// Unparseable months cannot be targeted; drop everything.
		slog.WarnContext(ctx, "Purging aggregate cache", applog.FieldCategoryID, msg.CategoryID, applog.FieldError, err)
		a.cache.Purge()
		return nil
	}
	if len(months) == 0 {
		a.cache.Purge()
		return nil
	}

	removed := 0
	for _, m := range months {
		if msg.CategoryGroupID != "" {
			removed += a.cache.InvalidateGroup(msg.CategoryGroupID, m)
		} else {
			removed += a.cache.InvalidateMonth(m)
		}
	}
	slog.DebugContext(ctx, "Aggregate cache invalidated",
		applog.FieldCategoryID, msg.CategoryID,
		applog.FieldCategoryGroupID, msg.CategoryGroupID,
		applog.FieldCount, removed)
	return nil
}
