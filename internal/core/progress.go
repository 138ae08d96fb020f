package core

import "github.com/shopspring/decimal"

// warningThreshold is the share of the goal at which spending is flagged.
// Comparing against goal*threshold keeps the check exact at the boundary.
var warningThreshold = decimal.RequireFromString("0.8")

// Progress is the derived view of a goal against its aggregated spend.
type Progress struct {
	Spent      decimal.Decimal
	Remaining  decimal.Decimal
	Percentage decimal.Decimal
	Warning    bool
}

// Overview folds every goal of a budget in a month.
type Overview struct {
	BudgetID        string
	Month           Month
	TotalGoal       decimal.Decimal
	TotalSpent      decimal.Decimal
	TotalRemaining  decimal.Decimal
	SpentPercentage decimal.Decimal
	Warning         bool
	Goals           []GoalView
}

// ComputeProgress derives remaining, percentage and warning. It never
// divides by zero and never clamps remaining, which is negative on overspend.
func ComputeProgress(goalAmount, expense decimal.Decimal) Progress {
	p := Progress{
		Spent:      expense,
		Remaining:  goalAmount.Sub(expense),
		Percentage: decimal.Zero,
	}
	if goalAmount.IsPositive() {
		p.Percentage = expense.Div(goalAmount)
		p.Warning = expense.GreaterThanOrEqual(goalAmount.Mul(warningThreshold))
	}
	return p
}

// NewOverview sums goal views and computes the percentage on the totals.
func NewOverview(budgetID string, month Month, views []GoalView) Overview {
	o := Overview{
		BudgetID:   budgetID,
		Month:      month,
		TotalGoal:  decimal.Zero,
		TotalSpent: decimal.Zero,
		Goals:      views,
	}
	for _, v := range views {
		o.TotalGoal = o.TotalGoal.Add(v.GoalAmount)
		o.TotalSpent = o.TotalSpent.Add(v.Spent)
	}
	total := ComputeProgress(o.TotalGoal, o.TotalSpent)
	o.TotalRemaining = total.Remaining
	o.SpentPercentage = total.Percentage
	o.Warning = total.Warning
	return o
}
