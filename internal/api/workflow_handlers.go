package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dvernon0786/Infin8Content-sub000/internal/export"
	"github.com/dvernon0786/Infin8Content-sub000/internal/keyword"
	"github.com/dvernon0786/Infin8Content-sub000/internal/store"
)

const (
	defaultKeywordLimit = 100
	maxKeywordLimit     = 1000
)

// getWorkflowStatus handles GET /v1/workflows/{workflow_id}/status. It
// returns the status record with per-step retry metadata, 404 when the
// workflow is unknown, or 500 for store errors.
func (s *Server) getWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	status, ok := s.loadWorkflow(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toStatusDTO(status))
}

// listKeywords handles GET /v1/workflows/{workflow_id}/keywords?active=&limit=&offset=.
func (s *Server) listKeywords(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultKeywordLimit, maxKeywordLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	activeOnly, err := parseBool(r.URL.Query().Get("active"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid active flag")
		return
	}
	status, ok := s.loadWorkflow(w, r)
	if !ok {
		return
	}

	var rows []keyword.Keyword
	if activeOnly {
		rows, err = s.keywords.ListActiveKeywords(r.Context(), status.WorkflowID)
	} else {
		rows, err = s.keywords.ListKeywords(r.Context(), status.OrganizationID, status.WorkflowID)
	}
	if err != nil {
		s.logger.Error("list keywords failed", zap.String("workflow_id", status.WorkflowID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list keywords")
		return
	}
	total := len(rows)
	rows = page(rows, limit, offset)
	writeJSON(w, http.StatusOK, map[string]any{
		"total":    total,
		"keywords": rows,
	})
}

// getClusters handles GET /v1/workflows/{workflow_id}/clusters and returns the
// hub-and-spoke plan, 404 when the workflow or its clusters are missing.
func (s *Server) getClusters(w http.ResponseWriter, r *http.Request) {
	if s.plans == nil {
		writeError(w, http.StatusServiceUnavailable, "cluster export unavailable")
		return
	}
	status, ok := s.loadWorkflow(w, r)
	if !ok {
		return
	}
	plan, err := s.plans.BuildPlan(r.Context(), status.OrganizationID, status.WorkflowID)
	switch {
	case errors.Is(err, export.ErrNoClusters):
		writeError(w, http.StatusNotFound, "workflow has no clusters")
	case err != nil:
		s.logger.Error("build cluster plan failed", zap.String("workflow_id", status.WorkflowID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load clusters")
	default:
		writeJSON(w, http.StatusOK, plan)
	}
}

func (s *Server) loadWorkflow(w http.ResponseWriter, r *http.Request) (keyword.WorkflowStatus, bool) {
	if s.workflows == nil {
		writeError(w, http.StatusServiceUnavailable, "workflow repository unavailable")
		return keyword.WorkflowStatus{}, false
	}
	workflowID := strings.TrimSpace(chi.URLParam(r, "workflow_id"))
	if workflowID == "" {
		writeError(w, http.StatusBadRequest, "workflow_id is required")
		return keyword.WorkflowStatus{}, false
	}
	status, err := s.workflows.GetWorkflowStatus(r.Context(), workflowID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "workflow not found")
			return keyword.WorkflowStatus{}, false
		}
		if !errors.Is(err, context.Canceled) {
			s.logger.Error("get workflow failed", zap.String("workflow_id", workflowID), zap.Error(err))
		}
		writeError(w, http.StatusInternalServerError, "failed to load workflow")
		return keyword.WorkflowStatus{}, false
	}
	return status, true
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseBool(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}

func page(rows []keyword.Keyword, limit, offset int) []keyword.Keyword {
	if offset >= len(rows) {
		return []keyword.Keyword{}
	}
	end := min(offset+limit, len(rows))
	return rows[offset:end]
}

type stepDTO struct {
	Step             keyword.WorkflowState `json:"step"`
	RetryCount       int                   `json:"retry_count"`
	LastErrorMessage string                `json:"last_error_message,omitempty"`
	Completed        bool                  `json:"completed"`
}

type statusDTO struct {
	keyword.WorkflowStatus
	ResumeStep keyword.WorkflowState `json:"resume_step,omitempty"`
	StepList   []stepDTO             `json:"step_progress"`
}

func toStatusDTO(status keyword.WorkflowStatus) statusDTO {
	dto := statusDTO{WorkflowStatus: status, ResumeStep: status.ResumeStep()}
	for _, step := range keyword.Steps {
		p := status.Step(step)
		dto.StepList = append(dto.StepList, stepDTO{
			Step:             step,
			RetryCount:       p.RetryCount,
			LastErrorMessage: p.LastErrorMessage,
			Completed:        p.CompletedAt != nil,
		})
	}
	return dto
}
