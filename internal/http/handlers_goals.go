package http

import (
	"net/http"
	"strings"

	"budgetgoals/internal/core"
	applog "budgetgoals/internal/log"
)

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	budgetID, month, err := s.parseScope(r)
	if err != nil {
		s.writeError(w, r, applog.OpOverview, err)
		return
	}
	ov, err := s.goals.Overview(r.Context(), budgetID, month)
	if err != nil {
		s.writeError(w, r, applog.OpOverview, err)
		return
	}
	writeJSON(w, http.StatusOK, newOverviewResponse(ov))
}

func (s *Server) handleListGoals(w http.ResponseWriter, r *http.Request) {
	budgetID, month, err := s.parseScope(r)
	if err != nil {
		s.writeError(w, r, applog.OpList, err)
		return
	}
	groupID := strings.TrimSpace(r.URL.Query().Get("categoryGroupId"))
	views, err := s.goals.List(r.Context(), budgetID, month, groupID)
	if err != nil {
		s.writeError(w, r, applog.OpList, err)
		return
	}
	out := make([]goalResponse, 0, len(views))
	for _, v := range views {
		out = append(out, newGoalResponse(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetGoal(w http.ResponseWriter, r *http.Request) {
	v, err := s.goals.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, applog.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, newGoalResponse(v))
}

func (s *Server) handleCreateGoal(w http.ResponseWriter, r *http.Request) {
	var req createGoalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, applog.OpCreate, err)
		return
	}
	v, err := s.goals.Create(r.Context(), req.spec())
	if err != nil {
		s.writeGoalError(w, r, applog.OpCreate, v, err)
		return
	}
	w.Header().Set("Location", goalLocation(v.ID))
	writeJSON(w, http.StatusCreated, newGoalResponse(v))
}

func (s *Server) handleUpdateGoal(w http.ResponseWriter, r *http.Request) {
	var req updateGoalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, applog.OpUpdate, err)
		return
	}
	v, err := s.goals.Update(r.Context(), r.PathValue("id"), req.patch())
	if err != nil {
		s.writeGoalError(w, r, applog.OpUpdate, v, err)
		return
	}
	writeJSON(w, http.StatusOK, newGoalResponse(v))
}

func (s *Server) handleDeleteGoal(w http.ResponseWriter, r *http.Request) {
	if err := s.goals.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, applog.OpDelete, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseScope reads budgetId and month (YYYY-MM, defaulting to the current month).
func (s *Server) parseScope(r *http.Request) (string, core.Month, error) {
	q := r.URL.Query()
	budgetID := strings.TrimSpace(q.Get("budgetId"))
	if budgetID == "" {
		return "", core.Month{}, errMissingParam("budgetId")
	}
	raw := strings.TrimSpace(q.Get("month"))
	if raw == "" {
		return budgetID, core.MonthOf(s.now()), nil
	}
	month, err := core.ParseMonth(raw)
	if err != nil {
		return "", core.Month{}, err
	}
	return budgetID, month, nil
}
