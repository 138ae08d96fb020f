// Package ledger declares the collaborators the goal engine reads from and
// writes to. Implementations live in internal/storage (SQLite) and
// internal/ledger/memory (in-process).
package ledger

import (
	"context"
	"time"

	"budgetgoals/internal/core"
)

type (
	// TransactionLedger sums signed transaction amounts per window.
	TransactionLedger interface {
		// QuerySpend aggregates transactions of the given categories with
		// from <= occurredAt < to. Income and Expense are magnitudes.
		QuerySpend(ctx context.Context, categoryIDs []string, from, to time.Time) (core.TransactionAggregate, error)
	}

	// CategoryGroupResolver maps a category group to its member categories.
	CategoryGroupResolver interface {
		// CategoriesInGroup returns core.ErrNotFound for an unknown group and
		// an empty slice for a group without categories.
		CategoriesInGroup(ctx context.Context, groupID string) ([]string, error)
	}

	// BudgetChecker validates budget identifiers.
	BudgetChecker interface {
		BudgetExists(ctx context.Context, budgetID string) (bool, error)
	}

	// GoalStore persists goal records.
	GoalStore interface {
		Create(ctx context.Context, spec core.GoalSpec) (core.Goal, error)
		Get(ctx context.Context, id string) (core.Goal, error)
		// Update changes goalAmount and repeatMonth only.
		Update(ctx context.Context, id string, patch core.GoalPatch) (core.Goal, error)
		Delete(ctx context.Context, id string) error
		// ListByBudget returns the goals of a budget month ordered by
		// category group id.
		ListByBudget(ctx context.Context, budgetID string, month core.Month) ([]core.Goal, error)
		// FindByNaturalKey reports found=false when no goal matches.
		FindByNaturalKey(ctx context.Context, budgetID, categoryGroupID string, month core.Month) (core.Goal, bool, error)
		// ListPendingRollovers returns repeating goals not yet rolled over
		// whose month is before the given one. An empty budgetID matches all
		// budgets.
		ListPendingRollovers(ctx context.Context, budgetID string, before core.Month) ([]core.Goal, error)
		MarkRolledOver(ctx context.Context, id string) error
	}

	// Store bundles every port a backend provides.
	Store interface {
		TransactionLedger
		CategoryGroupResolver
		BudgetChecker
		GoalStore
		Close() error
	}
)
