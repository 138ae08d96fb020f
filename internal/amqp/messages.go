package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"budgetgoals/internal/core"
)

// Goal lifecycle event types.
const (
	GoalCreated    = "goal.created"
	GoalUpdated    = "goal.updated"
	GoalDeleted    = "goal.deleted"
	GoalRolledOver = "goal.rolled_over"
)

// GoalEvent announces a change to a goal record. Consumers fetch derived
// progress themselves; the event only carries the authoritative fields.
type GoalEvent struct {
	Type            string    `json:"type"`
	GoalID          string    `json:"goalId"`
	BudgetID        string    `json:"budgetId"`
	CategoryGroupID string    `json:"categoryGroupId"`
	Month           string    `json:"month"`
	GoalAmount      string    `json:"goalAmount"`
	RepeatMonth     bool      `json:"repeatMonth"`
	Timestamp       time.Time `json:"timestamp"`
}

// NewGoalEvent builds an event of the given type from a goal.
func NewGoalEvent(eventType string, g core.Goal) *GoalEvent {
	return &GoalEvent{
		Type:            eventType,
		GoalID:          g.ID,
		BudgetID:        g.BudgetID,
		CategoryGroupID: g.CategoryGroupID,
		Month:           g.Month.Key(),
		GoalAmount:      g.GoalAmount.String(),
		RepeatMonth:     g.RepeatMonth,
		Timestamp:       time.Now().UTC(),
	}
}

func (m *GoalEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func GoalEventFromJSON(data []byte) (*GoalEvent, error) {
	var msg GoalEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Type == "" || msg.GoalID == "" {
		return nil, fmt.Errorf("goal event missing type or goal id")
	}
	return &msg, nil
}

// TransactionChangedMessage is emitted by the ledger owner whenever a
// transaction is created, edited or removed. Months lists every month whose
// totals moved (two entries when a transaction changes date).
type TransactionChangedMessage struct {
	CategoryID      string    `json:"categoryId"`
	CategoryGroupID string    `json:"categoryGroupId,omitempty"`
	Months          []string  `json:"months"`
	Timestamp       time.Time `json:"timestamp"`
}

func NewTransactionChangedMessage(categoryID, groupID string, months ...core.Month) *TransactionChangedMessage {
	keys := make([]string, 0, len(months))
	for _, m := range months {
		keys = append(keys, m.Key())
	}
	return &TransactionChangedMessage{
		CategoryID:      categoryID,
		CategoryGroupID: groupID,
		Months:          keys,
		Timestamp:       time.Now().UTC(),
	}
}

func (m *TransactionChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func TransactionChangedFromJSON(data []byte) (*TransactionChangedMessage, error) {
	var msg TransactionChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// AffectedMonths parses Months. An empty list means every month.
func (m *TransactionChangedMessage) AffectedMonths() ([]core.Month, error) {
	out := make([]core.Month, 0, len(m.Months))
	for _, s := range m.Months {
		month, err := core.ParseMonth(s)
		if err != nil {
			return nil, err
		}
		out = append(out, month)
	}
	return out, nil
}
