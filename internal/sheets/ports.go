package sheets

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"budgetgoals/internal/core"
)

// GoalSnapshot is one reporting row: a goal's progress at a point in time.
type GoalSnapshot struct {
	Event           string
	GoalID          string
	BudgetID        string
	CategoryGroupID string
	Month           core.Month
	GoalAmount      decimal.Decimal
	Spent           decimal.Decimal
	Remaining       decimal.Decimal
	Percentage      decimal.Decimal
	Warning         bool
	RepeatMonth     bool
	RecordedAt      time.Time
}

// NewGoalSnapshot captures a goal view for export.
func NewGoalSnapshot(event string, v core.GoalView, at time.Time) GoalSnapshot {
	return GoalSnapshot{
		Event:           event,
		GoalID:          v.ID,
		BudgetID:        v.BudgetID,
		CategoryGroupID: v.CategoryGroupID,
		Month:           v.Month,
		GoalAmount:      v.GoalAmount,
		Spent:           v.Spent,
		Remaining:       v.Remaining,
		Percentage:      v.Percentage,
		Warning:         v.Warning,
		RepeatMonth:     v.RepeatMonth,
		RecordedAt:      at.UTC(),
	}
}

// Ports for outbound adapters.
type (
	SnapshotWriter interface {
		AppendSnapshot(ctx context.Context, s GoalSnapshot) (rowRef string, err error)
	}
)
