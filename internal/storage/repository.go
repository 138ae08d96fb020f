package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"budgetgoals/internal/core"
)

const goalColumns = `id, budget_id, category_group_id, goal_amount_minor, month, repeat_month, rolled_over, created_at, updated_at`

// SQLiteRepository implements every ledger port on a single SQLite file.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Migrations run on their own connection.
	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteRepository{db: db, now: time.Now}, nil
}

// WithClock overrides the timestamp source used for created_at/updated_at.
func (r *SQLiteRepository) WithClock(now func() time.Time) *SQLiteRepository {
	r.now = now
	return r
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database answers.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return classify("ping", r.db.PingContext(ctx))
}

// UpsertBudget registers a budget id.
func (r *SQLiteRepository) UpsertBudget(ctx context.Context, id, name string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO budgets (id, name) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		id, name)
	return classify("upsert budget", err)
}

// UpsertCategoryGroup registers a group and attaches the given categories to it.
func (r *SQLiteRepository) UpsertCategoryGroup(ctx context.Context, groupID string, categoryIDs []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO category_groups (id) VALUES (?) ON CONFLICT(id) DO NOTHING`, groupID); err != nil {
		return classify("upsert category group", err)
	}
	for _, c := range categoryIDs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO categories (id, category_group_id) VALUES (?, ?)
			 ON CONFLICT(id) DO UPDATE SET category_group_id = excluded.category_group_id`,
			c, groupID); err != nil {
			return classify("upsert category", err)
		}
	}
	return classify("commit", tx.Commit())
}

// RecordTransaction stores a signed ledger entry.
func (r *SQLiteRepository) RecordTransaction(ctx context.Context, t core.Transaction) error {
	if strings.TrimSpace(t.CategoryID) == "" {
		return fmt.Errorf("empty category id: %w", core.ErrInvalidArgument)
	}
	minor, err := core.ToMinor(t.Amount)
	if err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO transactions (id, category_id, amount_minor, occurred_at) VALUES (?, ?, ?, ?)`,
		t.ID, t.CategoryID, minor, t.OccurredAt.Unix())
	return classify("record transaction", err)
}

// QuerySpend implements ledger.TransactionLedger with a single SUM query.
func (r *SQLiteRepository) QuerySpend(ctx context.Context, categoryIDs []string, from, to time.Time) (core.TransactionAggregate, error) {
	agg := core.TransactionAggregate{Income: decimal.Zero, Expense: decimal.Zero}
	if len(categoryIDs) == 0 {
		return agg, nil
	}

	args := make([]any, 0, len(categoryIDs)+2)
	for _, c := range categoryIDs {
		args = append(args, c)
	}
	args = append(args, from.Unix(), to.Unix())

	query := `SELECT
		COALESCE(SUM(CASE WHEN amount_minor > 0 THEN amount_minor ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN amount_minor < 0 THEN -amount_minor ELSE 0 END), 0)
		FROM transactions
		WHERE category_id IN (` + placeholders(len(categoryIDs)) + `)
		AND occurred_at >= ? AND occurred_at < ?`

	var income, expense int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&income, &expense); err != nil {
		return agg, classify("query spend", err)
	}
	agg.Income = core.FromMinor(income)
	agg.Expense = core.FromMinor(expense)
	return agg, nil
}

// CategoriesInGroup implements ledger.CategoryGroupResolver.
func (r *SQLiteRepository) CategoriesInGroup(ctx context.Context, groupID string) ([]string, error) {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM category_groups WHERE id = ?`, groupID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("category group %q: %w", groupID, core.ErrNotFound)
	}
	if err != nil {
		return nil, classify("lookup category group", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM categories WHERE category_group_id = ? ORDER BY id`, groupID)
	if err != nil {
		return nil, classify("list categories", err)
	}
	defer rows.Close()

	cats := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify("scan category", err)
		}
		cats = append(cats, id)
	}
	return cats, classify("list categories", rows.Err())
}

// BudgetExists implements ledger.BudgetChecker.
func (r *SQLiteRepository) BudgetExists(ctx context.Context, budgetID string) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM budgets WHERE id = ?`, budgetID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classify("lookup budget", err)
	}
	return true, nil
}

// Create implements ledger.GoalStore. The UNIQUE index on the natural key
// turns concurrent duplicates into core.ErrConflict.
func (r *SQLiteRepository) Create(ctx context.Context, spec core.GoalSpec) (core.Goal, error) {
	if err := spec.Validate(); err != nil {
		return core.Goal{}, err
	}
	minor, err := core.ToMinor(spec.GoalAmount)
	if err != nil {
		return core.Goal{}, err
	}

	ok, err := r.BudgetExists(ctx, spec.BudgetID)
	if err != nil {
		return core.Goal{}, err
	}
	if !ok {
		return core.Goal{}, fmt.Errorf("budget %q: %w", spec.BudgetID, core.ErrNotFound)
	}
	var group int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM category_groups WHERE id = ?`, spec.CategoryGroupID).Scan(&group)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Goal{}, fmt.Errorf("category group %q: %w", spec.CategoryGroupID, core.ErrNotFound)
	}
	if err != nil {
		return core.Goal{}, classify("lookup category group", err)
	}

	// Second precision matches the stored representation.
	now := r.now().UTC().Truncate(time.Second)
	g := core.Goal{
		ID:              uuid.NewString(),
		BudgetID:        spec.BudgetID,
		CategoryGroupID: spec.CategoryGroupID,
		GoalAmount:      spec.GoalAmount,
		Month:           spec.Month,
		RepeatMonth:     spec.RepeatMonth,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO goals (`+goalColumns+`) VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		g.ID, g.BudgetID, g.CategoryGroupID, minor, g.Month.String(), g.RepeatMonth, now.Unix(), now.Unix())
	if err != nil {
		return core.Goal{}, classify("insert goal", err)
	}

	slog.DebugContext(ctx, "Goal saved to SQLite",
		"goal_id", g.ID,
		"budget_id", g.BudgetID,
		"category_group_id", g.CategoryGroupID,
		"month", g.Month.Key())
	return g, nil
}

// Get implements ledger.GoalStore.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (core.Goal, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE id = ?`, id)
	g, err := scanGoal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Goal{}, fmt.Errorf("goal %q: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Goal{}, err
	}
	return g, nil
}

// Update implements ledger.GoalStore.
func (r *SQLiteRepository) Update(ctx context.Context, id string, patch core.GoalPatch) (core.Goal, error) {
	g, err := r.Get(ctx, id)
	if err != nil {
		return core.Goal{}, err
	}
	if err := patch.CheckScope(g); err != nil {
		return core.Goal{}, err
	}
	minor, err := core.ToMinor(patch.GoalAmount)
	if err != nil {
		return core.Goal{}, err
	}

	now := r.now().UTC().Truncate(time.Second)
	res, err := r.db.ExecContext(ctx,
		`UPDATE goals SET goal_amount_minor = ?, repeat_month = ?, updated_at = ? WHERE id = ?`,
		minor, patch.RepeatMonth, now.Unix(), id)
	if err != nil {
		return core.Goal{}, classify("update goal", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Goal{}, fmt.Errorf("goal %q: %w", id, core.ErrNotFound)
	}

	g.GoalAmount = patch.GoalAmount
	g.RepeatMonth = patch.RepeatMonth
	g.UpdatedAt = now
	return g, nil
}

// Delete implements ledger.GoalStore.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM goals WHERE id = ?`, id)
	if err != nil {
		return classify("delete goal", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("goal %q: %w", id, core.ErrNotFound)
	}
	return nil
}

// ListByBudget implements ledger.GoalStore.
func (r *SQLiteRepository) ListByBudget(ctx context.Context, budgetID string, month core.Month) ([]core.Goal, error) {
	return r.queryGoals(ctx, "list goals",
		`SELECT `+goalColumns+` FROM goals WHERE budget_id = ? AND month = ? ORDER BY category_group_id`,
		budgetID, month.String())
}

// FindByNaturalKey implements ledger.GoalStore.
func (r *SQLiteRepository) FindByNaturalKey(ctx context.Context, budgetID, categoryGroupID string, month core.Month) (core.Goal, bool, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+goalColumns+` FROM goals WHERE budget_id = ? AND category_group_id = ? AND month = ?`,
		budgetID, categoryGroupID, month.String())
	g, err := scanGoal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Goal{}, false, nil
	}
	if err != nil {
		return core.Goal{}, false, err
	}
	return g, true, nil
}

// ListPendingRollovers implements ledger.GoalStore.
func (r *SQLiteRepository) ListPendingRollovers(ctx context.Context, budgetID string, before core.Month) ([]core.Goal, error) {
	query := `SELECT ` + goalColumns + ` FROM goals
		WHERE repeat_month = 1 AND rolled_over = 0 AND month < ?`
	args := []any{before.String()}
	if budgetID != "" {
		query += ` AND budget_id = ?`
		args = append(args, budgetID)
	}
	query += ` ORDER BY month, budget_id, category_group_id`
	return r.queryGoals(ctx, "list pending rollovers", query, args...)
}

// MarkRolledOver implements ledger.GoalStore.
func (r *SQLiteRepository) MarkRolledOver(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE goals SET rolled_over = 1 WHERE id = ?`, id)
	if err != nil {
		return classify("mark rolled over", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("goal %q: %w", id, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) queryGoals(ctx context.Context, op, query string, args ...any) ([]core.Goal, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	goals := []core.Goal{}
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		goals = append(goals, g)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return goals, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGoal(s scanner) (core.Goal, error) {
	var (
		g                    core.Goal
		amountMinor          int64
		month                string
		repeat, rolled       bool
		createdAt, updatedAt int64
	)
	err := s.Scan(&g.ID, &g.BudgetID, &g.CategoryGroupID, &amountMinor, &month, &repeat, &rolled, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Goal{}, err
	}
	if err != nil {
		return core.Goal{}, classify("scan goal", err)
	}
	m, err := core.ParseMonth(month)
	if err != nil {
		return core.Goal{}, fmt.Errorf("goal %q has undecodable month %q: %w", g.ID, month, core.ErrInternal)
	}
	g.GoalAmount = core.FromMinor(amountMinor)
	g.Month = m
	g.RepeatMonth = repeat
	g.RolledOver = rolled
	g.CreatedAt = time.Unix(createdAt, 0).UTC()
	g.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return g, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// classify maps driver errors onto the core error taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %w", op, core.ErrTransient, err)
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%s: %w: %w", op, core.ErrConflict, err)
		}
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%s: %w: %w", op, core.ErrTransient, err)
		}
	}
	return fmt.Errorf("%s: %w: %w", op, core.ErrInternal, err)
}
