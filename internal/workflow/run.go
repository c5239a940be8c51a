package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dvernon0786/Infin8Content-sub000/internal/keyword"
	"github.com/dvernon0786/Infin8Content-sub000/internal/progress"
	"github.com/dvernon0786/Infin8Content-sub000/internal/retry"
)

// StepRun is one execution of a step. It counts retries across every retried
// call the step makes and reports them when the step finishes.
type StepRun struct {
	tracker    *Tracker
	workflowID string
	orgID      string
	step       keyword.WorkflowState
	started    time.Time
	retries    atomic.Int64
	// persistMu keeps persisted retry counts in increasing order when the
	// step retries from several goroutines.
	persistMu sync.Mutex
}

// BeginStep prepares a run of step. The workflow must be at step, or failed
// at step, in which case it is resumed.
func (t *Tracker) BeginStep(ctx context.Context, workflowID, orgID string, step keyword.WorkflowState) (*StepRun, error) {
	cur, err := t.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	switch {
	case cur.State == step:
	case cur.State == keyword.StateFailed && cur.FailedStep == step:
		if _, err := t.UpdateWorkflowStatus(ctx, workflowID, orgID, step, "", 0); err != nil {
			return nil, err
		}
		t.logger.Info("resuming workflow", zap.String("workflow_id", workflowID), zap.String("step", string(step)))
	default:
		return nil, fmt.Errorf("%w: cannot run %s while workflow is %s", ErrInvalidTransition, step, cur.State)
	}
	return &StepRun{
		tracker:    t,
		workflowID: workflowID,
		orgID:      orgID,
		step:       step,
		started:    t.clock.Now(),
	}, nil
}

// Step returns the step being run.
func (r *StepRun) Step() keyword.WorkflowState {
	return r.step
}

// Retries returns the number of retries recorded so far.
func (r *StepRun) Retries() int {
	return int(r.retries.Load())
}

// RetryHook returns a retry option that persists retry metadata and emits a
// workflow_step_retried event before every backoff sleep. Persistence
// failures are logged; they never abort the retry.
func (r *StepRun) RetryHook() retry.Option {
	return retry.WithOnRetry(func(ctx context.Context, a retry.Attempt) {
		msg := ""
		if a.Err != nil {
			msg = a.Err.Error()
		}
		r.persistMu.Lock()
		count := int(r.retries.Add(1))
		err := r.tracker.UpdateWorkflowRetryMetadata(ctx, r.workflowID, r.orgID, r.step, count, msg)
		r.persistMu.Unlock()
		if err != nil {
			r.tracker.logger.Warn("persist retry metadata",
				zap.String("workflow_id", r.workflowID),
				zap.String("step", string(r.step)),
				zap.Error(err),
			)
		}
		r.tracker.emitter.Emit(progress.Event{
			Kind:           progress.KindStepRetried,
			WorkflowID:     r.workflowID,
			OrganizationID: r.orgID,
			TS:             r.tracker.clock.Now(),
			Step:           r.step,
			AttemptNumber:  a.Number,
			ErrorType:      string(a.ErrorType),
			Delay:          a.Delay,
		})
	})
}

// Complete marks the step successful and advances the workflow.
func (r *StepRun) Complete(ctx context.Context) (keyword.WorkflowStatus, error) {
	return r.tracker.completeStep(ctx, r.workflowID, r.orgID, r.step, r.Retries(), r.tracker.clock.Now().Sub(r.started))
}

// Fail marks the workflow failed at this step and returns cause wrapped in a
// StepError. The status is written even when ctx is already cancelled. A
// failure to persist it is joined to the result.
func (r *StepRun) Fail(ctx context.Context, cause error) error {
	ctx = context.WithoutCancel(ctx)
	attempts := r.Retries() + 1
	var rerr *retry.Error
	if errors.As(cause, &rerr) {
		attempts = max(attempts, rerr.Attempts)
	}
	stepErr := &StepError{Step: r.step, Err: cause}
	if _, err := r.tracker.FailStep(ctx, r.workflowID, r.orgID, r.step, cause, r.Retries(), attempts); err != nil {
		return errors.Join(stepErr, fmt.Errorf("record failure: %w", err))
	}
	return stepErr
}
