package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	ports "budgetgoals/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

var hundred = decimal.NewFromInt(100)

// snapshotHeader is written when the target sheet is empty.
var snapshotHeader = []any{
	"Recorded At", "Event", "Month", "Budget", "Category Group",
	"Goal", "Spent", "Remaining", "Spent %", "Warning", "Repeat", "Goal ID",
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetBase     string
	now           func() time.Time
}

var _ ports.SnapshotWriter = (*Client)(nil)

// New creates a Sheets exporter. Rows go to "<year> <sheetBase>", the year
// taken from the snapshot's goal month.
func New(ctx context.Context, spreadsheetID, sheetBase string) (*Client, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	sheetBase = strings.TrimSpace(sheetBase)
	if sheetBase == "" {
		sheetBase = "Goals"
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetBase:     sheetBase,
		now:           time.Now,
	}, nil
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
// Uses GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS.
func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	credentialsJSON, err := loadCredentials()
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Creating Google Sheets service with Service Account",
		"credentials_size", len(credentialsJSON),
		"scope", gsheet.SpreadsheetsScope)

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

func loadCredentials() ([]byte, error) {
	if inline := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON")); inline != "" {
		return []byte(inline), nil
	}
	path := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if path == "" {
		path = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if path == "" {
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service account file: %w", err)
	}
	return b, nil
}

// AppendSnapshot appends a progress row, writing the header first when the
// sheet is empty.
func (c *Client) AppendSnapshot(ctx context.Context, s ports.GoalSnapshot) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	if s.GoalID == "" {
		return "", errors.New("snapshot without goal id")
	}

	sheet := yearPrefixedName(c.sheetBase, s.Month.Year())
	head, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, sheet+"!A1:A1").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("read header of %s: %w", sheet, err)
	}

	rows := [][]any{snapshotRow(s)}
	if len(head.Values) == 0 {
		rows = append([][]any{snapshotHeader}, rows...)
	}

	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, sheet+"!A:L", &gsheet.ValueRange{Values: rows}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", sheet, err)
	}

	ref := sheet
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	slog.InfoContext(ctx, "Goal snapshot exported",
		"goal_id", s.GoalID,
		"event", s.Event,
		"sheets_ref", ref)
	return ref, nil
}

// snapshotRow renders amounts as plain decimal strings so USER_ENTERED keeps
// full precision.
func snapshotRow(s ports.GoalSnapshot) []any {
	return []any{
		s.RecordedAt.Format(time.RFC3339),
		s.Event,
		s.Month.Key(),
		s.BudgetID,
		s.CategoryGroupID,
		s.GoalAmount.StringFixed(2),
		s.Spent.StringFixed(2),
		s.Remaining.StringFixed(2),
		s.Percentage.Mul(hundred).StringFixed(2),
		s.Warning,
		s.RepeatMonth,
		s.GoalID,
	}
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a
// four digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if len(base) >= 5 && base[4] == ' ' && isDigits(base[:4]) {
		return base
	}
	return fmt.Sprintf("%d %s", year, base)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
