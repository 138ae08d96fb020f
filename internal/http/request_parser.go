// Package http provides the JSON API over the goal engine.
//
// This file holds request DTOs and decoding.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"budgetgoals/internal/core"
)

const maxBodyBytes = 64 << 10

// errMalformedRequest marks bodies that are not valid JSON for the endpoint.
var errMalformedRequest = errors.New("malformed request")

type createGoalRequest struct {
	BudgetID        string          `json:"budgetId"`
	CategoryGroupID string          `json:"categoryGroupId"`
	GoalAmount      decimal.Decimal `json:"goalAmount"`
	Month           core.Month      `json:"month"`
	RepeatMonth     bool            `json:"repeatMonth"`
}

func (r createGoalRequest) spec() core.GoalSpec {
	return core.GoalSpec{
		BudgetID:        strings.TrimSpace(r.BudgetID),
		CategoryGroupID: strings.TrimSpace(r.CategoryGroupID),
		GoalAmount:      r.GoalAmount,
		Month:           r.Month,
		RepeatMonth:     r.RepeatMonth,
	}
}

// updateGoalRequest may repeat the scope fields; they must match the stored goal.
type updateGoalRequest struct {
	GoalAmount      decimal.Decimal `json:"goalAmount"`
	RepeatMonth     bool            `json:"repeatMonth"`
	BudgetID        string          `json:"budgetId,omitempty"`
	CategoryGroupID string          `json:"categoryGroupId,omitempty"`
	Month           *core.Month     `json:"month,omitempty"`
}

func (r updateGoalRequest) patch() core.GoalPatch {
	return core.GoalPatch{
		GoalAmount:      r.GoalAmount,
		RepeatMonth:     r.RepeatMonth,
		BudgetID:        strings.TrimSpace(r.BudgetID),
		CategoryGroupID: strings.TrimSpace(r.CategoryGroupID),
		Month:           r.Month,
	}
}

// decodeJSON reads a single JSON object into dst, rejecting unknown fields
// and trailing data. Field-level validation errors keep their taxonomy.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return fmt.Errorf("content type %q: %w", ct, errMalformedRequest)
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, core.ErrInvalidArgument) {
			return err
		}
		return fmt.Errorf("decode body: %v: %w", err, errMalformedRequest)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("body must contain a single JSON object: %w", errMalformedRequest)
	}
	return nil
}

func errMissingParam(name string) error {
	return fmt.Errorf("missing query parameter %s: %w", name, core.ErrInvalidArgument)
}
