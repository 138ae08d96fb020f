package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"budgetgoals/internal/core"
	"budgetgoals/internal/sheets"
)

func TestAppendSnapshot(t *testing.T) {
	s := New()
	g := core.Goal{ID: "g1", BudgetID: "b1", CategoryGroupID: "food", GoalAmount: decimal.NewFromInt(100), Month: core.NewMonth(2025, time.May)}
	snap := sheets.NewGoalSnapshot("goal.created", g.View(core.TransactionAggregate{Expense: decimal.NewFromInt(85)}), time.Now())

	ref, err := s.AppendSnapshot(context.Background(), snap)
	if err != nil || ref != "mem:1" {
		t.Fatalf("unexpected append: ref=%q err=%v", ref, err)
	}
	got := s.Snapshots()
	if len(got) != 1 || !got[0].Warning || !got[0].Remaining.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("unexpected snapshots %+v", got)
	}

	if _, err := s.AppendSnapshot(context.Background(), sheets.GoalSnapshot{}); err == nil {
		t.Fatal("expected error for snapshot without goal id")
	}
}
