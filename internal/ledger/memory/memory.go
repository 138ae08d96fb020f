package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"budgetgoals/internal/core"
)

type naturalKey struct {
	budgetID string
	groupID  string
	month    string
}

// Store is an in-process implementation of every ledger port. A single mutex
// guards all state, which makes the natural-key check and the insert atomic.
type Store struct {
	mu      sync.Mutex
	now     func() time.Time
	budgets map[string]struct{}
	groups  map[string][]string
	txs     []core.Transaction
	goals   map[string]core.Goal
	byKey   map[naturalKey]string
}

// New builds a store holding the given budgets and category groups.
func New(budgets []string, groups map[string][]string) *Store {
	s := &Store{
		now:     time.Now,
		budgets: map[string]struct{}{},
		groups:  map[string][]string{},
		goals:   map[string]core.Goal{},
		byKey:   map[naturalKey]string{},
	}
	for _, b := range dedupe(budgets) {
		s.budgets[b] = struct{}{}
	}
	for g, cats := range groups {
		s.groups[strings.TrimSpace(g)] = dedupe(cats)
	}
	return s
}

// NewFromFiles seeds the store from the text files found in base:
//
//	seed_budgets.txt          one budget id per line
//	seed_category_groups.txt  "group: category, category"
//	seed_transactions.txt     "category;amount;YYYY-MM-DD"
//
// Missing files fall back to a small default set.
func NewFromFiles(base string) (*Store, error) {
	budgets := readLines(filepath.Join(base, "seed_budgets.txt"))
	if len(budgets) == 0 {
		budgets = []string{"household"}
	}

	groups := map[string][]string{}
	for _, line := range readLines(filepath.Join(base, "seed_category_groups.txt")) {
		name, cats, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("category group line %q: missing ':'", line)
		}
		groups[strings.TrimSpace(name)] = strings.Split(cats, ",")
	}
	if len(groups) == 0 {
		groups = map[string][]string{
			"living":    {"rent", "utilities"},
			"groceries": {"supermarket", "market"},
			"leisure":   {"restaurants", "travel"},
		}
	}

	s := New(budgets, groups)
	for _, line := range readLines(filepath.Join(base, "seed_transactions.txt")) {
		tx, err := parseTransaction(line)
		if err != nil {
			return nil, err
		}
		if err := s.RecordTransaction(context.Background(), tx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// WithClock overrides the timestamp source used for createdAt/updatedAt.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Close implements ledger.Store.
func (s *Store) Close() error { return nil }

// RecordTransaction appends a ledger entry.
func (s *Store) RecordTransaction(_ context.Context, tx core.Transaction) error {
	if strings.TrimSpace(tx.CategoryID) == "" {
		return fmt.Errorf("empty category id: %w", core.ErrInvalidArgument)
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs = append(s.txs, tx)
	return nil
}

// QuerySpend implements ledger.TransactionLedger.
func (s *Store) QuerySpend(ctx context.Context, categoryIDs []string, from, to time.Time) (core.TransactionAggregate, error) {
	agg := core.TransactionAggregate{Income: decimal.Zero, Expense: decimal.Zero}
	if err := ctx.Err(); err != nil {
		return agg, fmt.Errorf("query spend: %w: %w", core.ErrTransient, err)
	}
	want := make(map[string]struct{}, len(categoryIDs))
	for _, c := range categoryIDs {
		want[c] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.txs {
		if _, ok := want[tx.CategoryID]; !ok {
			continue
		}
		if tx.OccurredAt.Before(from) || !tx.OccurredAt.Before(to) {
			continue
		}
		if tx.Amount.IsPositive() {
			agg.Income = agg.Income.Add(tx.Amount)
		} else {
			agg.Expense = agg.Expense.Sub(tx.Amount)
		}
	}
	return agg, nil
}

// CategoriesInGroup implements ledger.CategoryGroupResolver.
func (s *Store) CategoriesInGroup(_ context.Context, groupID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cats, ok := s.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("category group %q: %w", groupID, core.ErrNotFound)
	}
	return append([]string{}, cats...), nil
}

// BudgetExists implements ledger.BudgetChecker.
func (s *Store) BudgetExists(_ context.Context, budgetID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.budgets[budgetID]
	return ok, nil
}

// Create implements ledger.GoalStore.
func (s *Store) Create(_ context.Context, spec core.GoalSpec) (core.Goal, error) {
	if err := spec.Validate(); err != nil {
		return core.Goal{}, err
	}
	key := naturalKey{spec.BudgetID, spec.CategoryGroupID, spec.Month.String()}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.budgets[spec.BudgetID]; !ok {
		return core.Goal{}, fmt.Errorf("budget %q: %w", spec.BudgetID, core.ErrNotFound)
	}
	if _, ok := s.groups[spec.CategoryGroupID]; !ok {
		return core.Goal{}, fmt.Errorf("category group %q: %w", spec.CategoryGroupID, core.ErrNotFound)
	}
	if _, ok := s.byKey[key]; ok {
		return core.Goal{}, fmt.Errorf("goal %s/%s/%s: %w", key.budgetID, key.groupID, key.month, core.ErrConflict)
	}
	now := s.now().UTC()
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
	s.goals[g.ID] = g
	s.byKey[key] = g.ID
	return g, nil
}

// Get implements ledger.GoalStore.
func (s *Store) Get(_ context.Context, id string) (core.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.goals[id]
	if !ok {
		return core.Goal{}, fmt.Errorf("goal %q: %w", id, core.ErrNotFound)
	}
	return g, nil
}

// Update implements ledger.GoalStore.
func (s *Store) Update(_ context.Context, id string, patch core.GoalPatch) (core.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.goals[id]
	if !ok {
		return core.Goal{}, fmt.Errorf("goal %q: %w", id, core.ErrNotFound)
	}
	if err := patch.CheckScope(g); err != nil {
		return core.Goal{}, err
	}
	g.GoalAmount = patch.GoalAmount
	g.RepeatMonth = patch.RepeatMonth
	g.UpdatedAt = s.now().UTC()
	s.goals[id] = g
	return g, nil
}

// Delete implements ledger.GoalStore.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.goals[id]
	if !ok {
		return fmt.Errorf("goal %q: %w", id, core.ErrNotFound)
	}
	delete(s.goals, id)
	delete(s.byKey, naturalKey{g.BudgetID, g.CategoryGroupID, g.Month.String()})
	return nil
}

// ListByBudget implements ledger.GoalStore.
func (s *Store) ListByBudget(_ context.Context, budgetID string, month core.Month) ([]core.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.Goal{}
	for _, g := range s.goals {
		if g.BudgetID == budgetID && g.Month.Equal(month.Time) {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CategoryGroupID < out[j].CategoryGroupID })
	return out, nil
}

// FindByNaturalKey implements ledger.GoalStore.
func (s *Store) FindByNaturalKey(_ context.Context, budgetID, categoryGroupID string, month core.Month) (core.Goal, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[naturalKey{budgetID, categoryGroupID, month.String()}]
	if !ok {
		return core.Goal{}, false, nil
	}
	return s.goals[id], true, nil
}

// ListPendingRollovers implements ledger.GoalStore.
func (s *Store) ListPendingRollovers(_ context.Context, budgetID string, before core.Month) ([]core.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Goal
	for _, g := range s.goals {
		if !g.RepeatMonth || g.RolledOver || !g.Month.Before(before) {
			continue
		}
		if budgetID != "" && g.BudgetID != budgetID {
			continue
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Month.Equal(out[j].Month.Time) {
			return out[i].Month.Before(out[j].Month)
		}
		if out[i].BudgetID != out[j].BudgetID {
			return out[i].BudgetID < out[j].BudgetID
		}
		return out[i].CategoryGroupID < out[j].CategoryGroupID
	})
	return out, nil
}

// MarkRolledOver implements ledger.GoalStore.
func (s *Store) MarkRolledOver(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.goals[id]
	if !ok {
		return fmt.Errorf("goal %q: %w", id, core.ErrNotFound)
	}
	g.RolledOver = true
	s.goals[id] = g
	return nil
}

func parseTransaction(line string) (core.Transaction, error) {
	parts := strings.Split(line, ";")
	if len(parts) != 3 {
		return core.Transaction{}, fmt.Errorf("transaction line %q: want category;amount;date", line)
	}
	amount, err := core.ParseAmount(parts[1])
	if err != nil {
		return core.Transaction{}, fmt.Errorf("transaction line %q: %w", line, err)
	}
	at, err := time.Parse(time.DateOnly, strings.TrimSpace(parts[2]))
	if err != nil {
		return core.Transaction{}, fmt.Errorf("transaction line %q: %w", line, err)
	}
	return core.Transaction{
		CategoryID: strings.TrimSpace(parts[0]),
		Amount:     amount,
		OccurredAt: at,
	}, nil
}

func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

func dedupe(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
