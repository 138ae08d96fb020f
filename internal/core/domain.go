package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const monthLayout = "2006-01"

type (
	// Month is a calendar month, always the first day at 00:00 UTC.
	Month struct {
		time.Time
	}

	// Goal is the authoritative part of a monthly spending goal.
	// Spend, remaining and warning are never stored; see GoalView.
	Goal struct {
		ID              string
		BudgetID        string
		CategoryGroupID string
		GoalAmount      decimal.Decimal
		Month           Month
		RepeatMonth     bool
		RolledOver      bool // successor for the next month has been materialized
		CreatedAt       time.Time
		UpdatedAt       time.Time
	}

	// GoalSpec carries the user-provided fields for a new goal.
	GoalSpec struct {
		BudgetID        string
		CategoryGroupID string
		GoalAmount      decimal.Decimal
		Month           Month
		RepeatMonth     bool
	}

	// GoalPatch is an update request. Scope fields are optional and, when
	// present, must match the stored goal.
	GoalPatch struct {
		GoalAmount      decimal.Decimal
		RepeatMonth     bool
		BudgetID        string
		CategoryGroupID string
		Month           *Month
	}

	// TransactionAggregate holds income and expense magnitudes for a window.
	TransactionAggregate struct {
		Income  decimal.Decimal
		Expense decimal.Decimal
	}

	// Transaction is a categorized ledger entry. Amount is signed:
	// positive for income, negative for expense.
	Transaction struct {
		ID         string
		CategoryID string
		Amount     decimal.Decimal
		OccurredAt time.Time
	}

	// GoalView is a goal with its progress computed at read time.
	GoalView struct {
		Goal
		Progress
	}
)

// NewMonth normalizes year and month into a Month.
func NewMonth(year int, month time.Month) Month {
	return Month{Time: time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)}
}

// MonthOf returns the month containing t.
func MonthOf(t time.Time) Month {
	t = t.UTC()
	return NewMonth(t.Year(), t.Month())
}

// ParseMonth accepts "2006-01" or "2006-01-02"; the day is discarded.
func ParseMonth(s string) (Month, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Month{}, fmt.Errorf("empty month: %w", ErrInvalidArgument)
	}
	if len(s) > len(monthLayout) {
		t, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return Month{}, fmt.Errorf("invalid month %q: %w", s, ErrInvalidArgument)
		}
		return MonthOf(t), nil
	}
	t, err := time.Parse(monthLayout, s)
	if err != nil {
		return Month{}, fmt.Errorf("invalid month %q: %w", s, ErrInvalidArgument)
	}
	return MonthOf(t), nil
}

// Next returns the following calendar month.
func (m Month) Next() Month {
	return Month{Time: m.AddDate(0, 1, 0)}
}

// Start is the first instant of the month.
func (m Month) Start() time.Time {
	return m.Time
}

// End is the first instant of the next month (exclusive bound).
func (m Month) End() time.Time {
	return m.Next().Time
}

// Before reports whether m is an earlier month than o.
func (m Month) Before(o Month) bool {
	return m.Time.Before(o.Time)
}

// String renders the month as YYYY-MM-01, the storage key format.
func (m Month) String() string {
	return m.Format(time.DateOnly)
}

// Key renders the month as YYYY-MM.
func (m Month) Key() string {
	return m.Format(monthLayout)
}

// MarshalText implements encoding.TextMarshaler.
func (m Month) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Month) UnmarshalText(b []byte) error {
	parsed, err := ParseMonth(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MarshalJSON overrides the promoted time.Time encoding.
func (m Month) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON accepts the same formats as ParseMonth.
func (m *Month) UnmarshalJSON(b []byte) error {
	return m.UnmarshalText([]byte(strings.Trim(string(b), `"`)))
}

// Elapsed reports whether the month is fully over at instant now.
func (m Month) Elapsed(now time.Time) bool {
	return !now.UTC().Before(m.End())
}

func (s GoalSpec) Validate() error {
	if strings.TrimSpace(s.BudgetID) == "" {
		return fmt.Errorf("empty budget id: %w", ErrInvalidArgument)
	}
	if strings.TrimSpace(s.CategoryGroupID) == "" {
		return fmt.Errorf("empty category group id: %w", ErrInvalidArgument)
	}
	if s.Month.IsZero() {
		return fmt.Errorf("missing month: %w", ErrInvalidArgument)
	}
	if err := ValidateGoalAmount(s.GoalAmount); err != nil {
		return err
	}
	return nil
}

// CheckScope rejects a patch that tries to move a goal to another natural key.
func (p GoalPatch) CheckScope(g Goal) error {
	if p.BudgetID != "" && p.BudgetID != g.BudgetID {
		return fmt.Errorf("budget id is immutable: %w", ErrInvalidArgument)
	}
	if p.CategoryGroupID != "" && p.CategoryGroupID != g.CategoryGroupID {
		return fmt.Errorf("category group id is immutable: %w", ErrInvalidArgument)
	}
	if p.Month != nil && !p.Month.Equal(g.Month.Time) {
		return fmt.Errorf("month is immutable: %w", ErrInvalidArgument)
	}
	return ValidateGoalAmount(p.GoalAmount)
}

// Successor builds next month's goal from a repeating template.
func (g Goal) Successor() GoalSpec {
	return GoalSpec{
		BudgetID:        g.BudgetID,
		CategoryGroupID: g.CategoryGroupID,
		GoalAmount:      g.GoalAmount,
		Month:           g.Month.Next(),
		RepeatMonth:     true,
	}
}

// View attaches progress computed from the aggregate.
func (g Goal) View(agg TransactionAggregate) GoalView {
	return GoalView{Goal: g, Progress: ComputeProgress(g.GoalAmount, agg.Expense)}
}
