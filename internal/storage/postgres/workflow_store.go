package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dvernon0786/Infin8Content-sub000/internal/keyword"
	"github.com/dvernon0786/Infin8Content-sub000/internal/store"
)

// WorkflowStore persists workflow status records. Per-step progress is kept
// as a JSONB document keyed by step name.
type WorkflowStore struct {
	db DB
}

var _ store.WorkflowRepository = (*WorkflowStore)(nil)

// NewWorkflowStore wraps db.
func NewWorkflowStore(db DB) (*WorkflowStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &WorkflowStore{db: db}, nil
}

// GetWorkflowStatus loads a workflow or returns store.ErrNotFound.
func (s *WorkflowStore) GetWorkflowStatus(ctx context.Context, workflowID string) (keyword.WorkflowStatus, error) {
	var (
		status            keyword.WorkflowStatus
		state, failedStep string
		steps             []byte
	)
	err := s.db.QueryRow(ctx, `
SELECT workflow_id, organization_id, status, failed_step, steps, created_at, updated_at
FROM workflow_status
WHERE workflow_id = $1`, workflowID).Scan(
		&status.WorkflowID,
		&status.OrganizationID,
		&state,
		&failedStep,
		&steps,
		&status.CreatedAt,
		&status.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return keyword.WorkflowStatus{}, store.ErrNotFound
	}
	if err != nil {
		return keyword.WorkflowStatus{}, fmt.Errorf("query workflow status: %w", err)
	}
	status.State = keyword.WorkflowState(state)
	status.FailedStep = keyword.WorkflowState(failedStep)
	status.Steps = make(map[keyword.WorkflowState]keyword.StepProgress)
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &status.Steps); err != nil {
			return keyword.WorkflowStatus{}, fmt.Errorf("decode workflow steps: %w", err)
		}
	}
	return status, nil
}

// SaveWorkflowStatus upserts the record.
func (s *WorkflowStore) SaveWorkflowStatus(ctx context.Context, status keyword.WorkflowStatus) error {
	steps := status.Steps
	if steps == nil {
		steps = map[keyword.WorkflowState]keyword.StepProgress{}
	}
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("encode workflow steps: %w", err)
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO workflow_status (workflow_id, organization_id, status, failed_step, steps, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (workflow_id) DO UPDATE
SET status = EXCLUDED.status,
    failed_step = EXCLUDED.failed_step,
    steps = EXCLUDED.steps,
    updated_at = EXCLUDED.updated_at
WHERE workflow_status.organization_id = EXCLUDED.organization_id`,
		status.WorkflowID,
		status.OrganizationID,
		string(status.State),
		string(status.FailedStep),
		stepsJSON,
		status.CreatedAt,
		status.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert workflow status: %w", err)
	}
	return nil
}
