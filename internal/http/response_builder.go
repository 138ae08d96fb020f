package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"budgetgoals/internal/core"
	applog "budgetgoals/internal/log"
)

// Money is rendered with two decimals and ratios with four, both as strings.
const percentagePlaces = 4

type goalResponse struct {
	ID              string    `json:"id"`
	BudgetID        string    `json:"budgetId"`
	CategoryGroupID string    `json:"categoryGroupId"`
	Month           string    `json:"month"`
	GoalAmount      string    `json:"goalAmount"`
	RepeatMonth     bool      `json:"repeatMonth"`
	SpentAmount     string    `json:"spentAmount"`
	RemainingAmount string    `json:"remainingAmount"`
	SpentPercentage string    `json:"spentPercentage"`
	Warning         bool      `json:"warning"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func newGoalResponse(v core.GoalView) goalResponse {
	return goalResponse{
		ID:              v.ID,
		BudgetID:        v.BudgetID,
		CategoryGroupID: v.CategoryGroupID,
		Month:           v.Month.String(),
		GoalAmount:      money(v.GoalAmount),
		RepeatMonth:     v.RepeatMonth,
		SpentAmount:     money(v.Spent),
		RemainingAmount: money(v.Remaining),
		SpentPercentage: ratio(v.Percentage),
		Warning:         v.Warning,
		CreatedAt:       v.CreatedAt,
		UpdatedAt:       v.UpdatedAt,
	}
}

type overviewResponse struct {
	BudgetID        string         `json:"budgetId"`
	Month           string         `json:"month"`
	TotalGoal       string         `json:"totalGoal"`
	TotalSpent      string         `json:"totalSpent"`
	TotalRemaining  string         `json:"totalRemaining"`
	SpentPercentage string         `json:"spentPercentage"`
	Warning         bool           `json:"warning"`
	Goals           []goalResponse `json:"goals"`
}

func newOverviewResponse(o core.Overview) overviewResponse {
	goals := make([]goalResponse, 0, len(o.Goals))
	for _, v := range o.Goals {
		goals = append(goals, newGoalResponse(v))
	}
	return overviewResponse{
		BudgetID:        o.BudgetID,
		Month:           o.Month.String(),
		TotalGoal:       money(o.TotalGoal),
		TotalSpent:      money(o.TotalSpent),
		TotalRemaining:  money(o.TotalRemaining),
		SpentPercentage: ratio(o.SpentPercentage),
		Warning:         o.Warning,
		Goals:           goals,
	}
}

func money(d decimal.Decimal) string { return d.StringFixed(core.MinorUnitScale) }

func ratio(d decimal.Decimal) string { return d.Round(percentagePlaces).String() }

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// GoalID is set when the write was stored despite the error.
	GoalID string `json:"goalId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeErrorBody(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

func goalLocation(id string) string { return "/api/goals/" + id }

// statusFor maps the error taxonomy onto HTTP.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrProgressUnavailable):
		return http.StatusServiceUnavailable, "progress_unavailable"
	case errors.Is(err, errMalformedRequest):
		return http.StatusBadRequest, "malformed_request"
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, core.ErrInvalidArgument):
		return http.StatusUnprocessableEntity, "invalid_argument"
	case errors.Is(err, core.ErrTransient):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.writeGoalError(w, r, op, core.GoalView{}, err)
}

// writeGoalError reports a failed goal write. When the record was stored
// before the failure, the response points at it so clients read it back
// instead of repeating the write.
func (s *Server) writeGoalError(w http.ResponseWriter, r *http.Request, op string, v core.GoalView, err error) {
	status, code := statusFor(err)
	goalID := ""
	if errors.Is(err, core.ErrProgressUnavailable) && v.ID != "" {
		goalID = v.ID
		w.Header().Set("Location", goalLocation(goalID))
	}
	message := err.Error()

	switch {
	case status == http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
		s.logger.LogError(r.Context(), "Goal request failed", err, applog.ComponentHTTP, op,
			applog.NewFields().WithErrorType(applog.ErrorTypeTimeout))
	case status >= 500:
		// Internal details stay in the log.
		message = "internal error"
		s.logger.LogError(r.Context(), "Goal request failed", err, applog.ComponentHTTP, op,
			applog.NewFields().WithErrorType(applog.ErrorTypeInternal))
	default:
		applog.FromContext(r.Context()).DebugContext(r.Context(), "Goal request rejected",
			"operation", op, "status", status, "error", err)
	}

	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message, GoalID: goalID}})
}
