package google

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"budgetgoals/internal/core"
	ports "budgetgoals/internal/sheets"
)

func TestNew_MissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), "  ", "Goals")
	if err == nil || err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNew_MissingCredentials(t *testing.T) {
	for _, k := range []string{"GOOGLE_SERVICE_ACCOUNT_JSON", "GOOGLE_SERVICE_ACCOUNT_FILE", "GOOGLE_APPLICATION_CREDENTIALS"} {
		t.Setenv(k, "")
	}
	_, err := New(context.Background(), "sheet-id", "")
	if err == nil || !strings.Contains(err.Error(), "missing service account credentials") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNew_UnreadableCredentialsFile(t *testing.T) {
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", "")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", "/nonexistent/creds.json")
	_, err := New(context.Background(), "sheet-id", "")
	if err == nil || !strings.Contains(err.Error(), "read service account file") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAppendSnapshot_Guards(t *testing.T) {
	c := &Client{spreadsheetID: "test", sheetBase: "Goals"}
	if _, err := c.AppendSnapshot(context.Background(), ports.GoalSnapshot{GoalID: "g1"}); err == nil {
		t.Fatal("expected error with nil service")
	}
}

func TestSnapshotRow(t *testing.T) {
	g := core.Goal{
		ID:              "g1",
		BudgetID:        "b1",
		CategoryGroupID: "food",
		GoalAmount:      decimal.NewFromInt(1000000),
		Month:           core.NewMonth(2025, time.May),
		RepeatMonth:     true,
	}
	at := time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC)
	snap := ports.NewGoalSnapshot("goal.updated", g.View(core.TransactionAggregate{Expense: decimal.NewFromInt(850000)}), at)

	row := snapshotRow(snap)
	want := []any{"2025-05-20T10:00:00Z", "goal.updated", "2025-05", "b1", "food", "1000000.00", "850000.00", "150000.00", "85.00", true, true, "g1"}
	if len(row) != len(want) || len(row) != len(snapshotHeader) {
		t.Fatalf("row has %d cells, want %d", len(row), len(want))
	}
	for i := range want {
		if row[i] != want[i] {
			t.Errorf("cell %d = %v, want %v", i, row[i], want[i])
		}
	}
}

func TestYearPrefixedName(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"Goals", "2025 Goals"},
		{" Goals ", "2025 Goals"},
		{"2024 Goals", "2024 Goals"},
		{"20x4 Goals", "2025 20x4 Goals"},
	}
	for _, tt := range tests {
		if got := yearPrefixedName(tt.base, 2025); got != tt.want {
			t.Errorf("yearPrefixedName(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}
