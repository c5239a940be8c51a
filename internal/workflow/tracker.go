// Package workflow records pipeline step progression and retry metadata so a
// workflow can be observed mid-retry and resumed after a failure.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dvernon0786/Infin8Content-sub000/internal/keyword"
	"github.com/dvernon0786/Infin8Content-sub000/internal/progress"
	"github.com/dvernon0786/Infin8Content-sub000/internal/store"
)

// ErrInvalidTransition is returned when a status change skips a step, moves
// backwards or leaves a terminal state.
var ErrInvalidTransition = errors.New("invalid workflow transition")

// StepError attaches the failing step to a stage error.
type StepError struct {
	Step keyword.WorkflowState
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Tracker owns the workflow status record. All mutations are read-modify-write
// under one mutex, so concurrent retry hooks of a fan-out do not lose updates.
type Tracker struct {
	mu      sync.Mutex
	repo    store.WorkflowRepository
	clock   keyword.Clock
	emitter progress.Emitter
	logger  *zap.Logger
}

// New constructs a Tracker. A nil emitter discards analytics.
func New(repo store.WorkflowRepository, clock keyword.Clock, emitter progress.Emitter, logger *zap.Logger) *Tracker {
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		repo:    repo,
		clock:   clock,
		emitter: emitter,
		logger:  logger.Named("workflow"),
	}
}

// Start creates the workflow at the first step. Starting an existing workflow
// returns its current record unchanged.
func (t *Tracker) Start(ctx context.Context, workflowID, orgID string) (keyword.WorkflowStatus, error) {
	if workflowID == "" || orgID == "" {
		return keyword.WorkflowStatus{}, errors.New("workflow id and organization id are required")
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, err := t.repo.GetWorkflowStatus(ctx, workflowID)
	switch {
	case err == nil:
		if existing.OrganizationID != orgID {
			return keyword.WorkflowStatus{}, fmt.Errorf("workflow %s belongs to another organization", workflowID)
		}
		return existing, nil
	case !errors.Is(err, store.ErrNotFound):
		return keyword.WorkflowStatus{}, fmt.Errorf("load workflow: %w", err)
	}

	now := t.clock.Now().UTC()
	status := keyword.WorkflowStatus{
		WorkflowID:     workflowID,
		OrganizationID: orgID,
		State:          keyword.StateSeedExtraction,
		Steps:          make(map[keyword.WorkflowState]keyword.StepProgress),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := t.repo.SaveWorkflowStatus(ctx, status); err != nil {
		return keyword.WorkflowStatus{}, fmt.Errorf("save workflow: %w", err)
	}
	t.logger.Info("workflow started", zap.String("workflow_id", workflowID), zap.String("organization_id", orgID))
	return status, nil
}

// Get loads the workflow record.
func (t *Tracker) Get(ctx context.Context, workflowID string) (keyword.WorkflowStatus, error) {
	status, err := t.repo.GetWorkflowStatus(ctx, workflowID)
	if err != nil {
		return keyword.WorkflowStatus{}, fmt.Errorf("load workflow %s: %w", workflowID, err)
	}
	return status, nil
}

// UpdateWorkflowStatus moves the workflow to state. Allowed moves are one step
// forward, any step to failed, and a failed workflow back to its failed step.
// Moving forward completes the current step with retryCount retries; moving
// to failed records errorMessage on the current step.
func (t *Tracker) UpdateWorkflowStatus(
	ctx context.Context,
	workflowID, orgID string,
	state keyword.WorkflowState,
	errorMessage string,
	retryCount int,
) (keyword.WorkflowStatus, error) {
	return t.mutate(ctx, workflowID, orgID, func(cur *keyword.WorkflowStatus, now time.Time) error {
		switch {
		case state == keyword.StateFailed && cur.State.IsStep():
			step := cur.State
			p := cur.Step(step)
			p.LastErrorMessage = errorMessage
			p.RetryCount = max(p.RetryCount, retryCount)
			p.CompletedAt = nil
			p.UpdatedAt = now
			cur.Steps[step] = p
			cur.FailedStep = step
			cur.State = keyword.StateFailed
		case cur.State == keyword.StateFailed && state == cur.FailedStep && state.IsStep():
			cur.State = state
			cur.FailedStep = ""
		case cur.State.IsStep() && state == cur.State.Next():
			step := cur.State
			cur.Steps[step] = completed(cur.Step(step), retryCount, now)
			cur.State = state
		default:
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.State, state)
		}
		return nil
	})
}

// completed stamps a successful step. A first-try success clears any retry
// metadata; a success after retries keeps the count.
func completed(p keyword.StepProgress, retryCount int, now time.Time) keyword.StepProgress {
	at := now
	p.CompletedAt = &at
	p.RetryCount = max(retryCount, 0)
	p.LastErrorMessage = ""
	p.UpdatedAt = now
	return p
}

// UpdateWorkflowRetryMetadata records the retry count and last error of the
// running step. Callers invoke it before each backoff sleep.
func (t *Tracker) UpdateWorkflowRetryMetadata(
	ctx context.Context,
	workflowID, orgID string,
	step keyword.WorkflowState,
	retryCount int,
	errorMessage string,
) error {
	_, err := t.mutate(ctx, workflowID, orgID, func(cur *keyword.WorkflowStatus, now time.Time) error {
		if cur.State != step {
			return fmt.Errorf("%w: step %s is not running (status %s)", ErrInvalidTransition, step, cur.State)
		}
		p := cur.Step(step)
		p.RetryCount = retryCount
		p.LastErrorMessage = errorMessage
		p.UpdatedAt = now
		cur.Steps[step] = p
		return nil
	})
	return err
}

// CompleteStep marks step successful and advances the workflow.
func (t *Tracker) CompleteStep(ctx context.Context, workflowID, orgID string, step keyword.WorkflowState, retryCount int) (keyword.WorkflowStatus, error) {
	return t.completeStep(ctx, workflowID, orgID, step, retryCount, 0)
}

func (t *Tracker) completeStep(
	ctx context.Context,
	workflowID, orgID string,
	step keyword.WorkflowState,
	retryCount int,
	dur time.Duration,
) (keyword.WorkflowStatus, error) {
	if !step.IsStep() {
		return keyword.WorkflowStatus{}, fmt.Errorf("%w: %s is not a step", ErrInvalidTransition, step)
	}
	status, err := t.UpdateWorkflowStatus(ctx, workflowID, orgID, step.Next(), "", retryCount)
	if err != nil {
		return keyword.WorkflowStatus{}, err
	}
	t.emitter.Emit(progress.Event{
		Kind:           progress.KindStepCompleted,
		WorkflowID:     workflowID,
		OrganizationID: orgID,
		TS:             t.clock.Now(),
		Step:           step,
		TotalAttempts:  retryCount + 1,
		Dur:            max(dur, 0),
	})
	t.logger.Info("step completed",
		zap.String("workflow_id", workflowID),
		zap.String("step", string(step)),
		zap.Int("retry_count", retryCount),
		zap.String("status", string(status.State)),
	)
	return status, nil
}

// FailStep marks the workflow failed at step, recording cause as the last
// error. totalAttempts is reported to analytics only.
func (t *Tracker) FailStep(
	ctx context.Context,
	workflowID, orgID string,
	step keyword.WorkflowState,
	cause error,
	retryCount, totalAttempts int,
) (keyword.WorkflowStatus, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	cur, err := t.Get(ctx, workflowID)
	if err != nil {
		return keyword.WorkflowStatus{}, err
	}
	if cur.State != step {
		return keyword.WorkflowStatus{}, fmt.Errorf("%w: step %s is not running (status %s)", ErrInvalidTransition, step, cur.State)
	}
	status, err := t.UpdateWorkflowStatus(ctx, workflowID, orgID, keyword.StateFailed, msg, retryCount)
	if err != nil {
		return keyword.WorkflowStatus{}, err
	}
	t.emitter.Emit(progress.Event{
		Kind:           progress.KindStepFailed,
		WorkflowID:     workflowID,
		OrganizationID: orgID,
		TS:             t.clock.Now(),
		Step:           step,
		TotalAttempts:  max(totalAttempts, 1),
		ErrorMessage:   msg,
	})
	t.logger.Warn("step failed",
		zap.String("workflow_id", workflowID),
		zap.String("step", string(step)),
		zap.Int("retry_count", retryCount),
		zap.String("error", msg),
	)
	return status, nil
}

func (t *Tracker) mutate(
	ctx context.Context,
	workflowID, orgID string,
	fn func(cur *keyword.WorkflowStatus, now time.Time) error,
) (keyword.WorkflowStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, err := t.repo.GetWorkflowStatus(ctx, workflowID)
	if err != nil {
		return keyword.WorkflowStatus{}, fmt.Errorf("load workflow %s: %w", workflowID, err)
	}
	if cur.OrganizationID != orgID {
		return keyword.WorkflowStatus{}, fmt.Errorf("workflow %s belongs to another organization", workflowID)
	}
	if cur.Steps == nil {
		cur.Steps = make(map[keyword.WorkflowState]keyword.StepProgress)
	}
	now := t.clock.Now().UTC()
	if err := fn(&cur, now); err != nil {
		return keyword.WorkflowStatus{}, err
	}
	cur.UpdatedAt = now
	if err := t.repo.SaveWorkflowStatus(ctx, cur); err != nil {
		return keyword.WorkflowStatus{}, fmt.Errorf("save workflow: %w", err)
	}
	return cur, nil
}
