package memory

import (
	"context"
	"fmt"
	"sync"

	"budgetgoals/internal/sheets"
)

// Store keeps exported snapshots in process. It stands in for the Google
// Sheets exporter when no spreadsheet is configured.
type Store struct {
	mu    sync.Mutex
	items []sheets.GoalSnapshot
}

var _ sheets.SnapshotWriter = (*Store)(nil)

func New() *Store {
	return &Store{}
}

// AppendSnapshot stores the snapshot and returns a synthetic row reference.
func (s *Store) AppendSnapshot(_ context.Context, snap sheets.GoalSnapshot) (string, error) {
	if snap.GoalID == "" {
		return "", fmt.Errorf("snapshot without goal id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, snap)
	return fmt.Sprintf("mem:%d", len(s.items)), nil
}

// Snapshots returns a copy of everything appended so far.
func (s *Store) Snapshots() []sheets.GoalSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sheets.GoalSnapshot(nil), s.items...)
}
