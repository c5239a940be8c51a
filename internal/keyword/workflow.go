package keyword

import "time"

// WorkflowState is the persisted status of a workflow: either the step that
// runs next or a terminal state.
type WorkflowState string

// Workflow states, in pipeline order.
const (
	StateSeedExtraction    WorkflowState = "step_1_seed_extraction"
	StateLongtailExpansion WorkflowState = "step_2_longtail_expansion"
	StateKeywordFiltering  WorkflowState = "step_3_keyword_filtering"
	StateTopicClustering   WorkflowState = "step_4_topic_clustering"
	StateCompleted         WorkflowState = "completed"
	StateFailed            WorkflowState = "failed"
)

// Steps lists the pipeline steps in execution order.
var Steps = []WorkflowState{
	StateSeedExtraction,
	StateLongtailExpansion,
	StateKeywordFiltering,
	StateTopicClustering,
}

// IsStep reports whether s names a runnable step rather than a terminal state.
func (s WorkflowState) IsStep() bool {
	return s.index() >= 0
}

// IsTerminal reports whether s is completed or failed.
func (s WorkflowState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Next returns the state that follows a successful run of step s.
func (s WorkflowState) Next() WorkflowState {
	i := s.index()
	if i < 0 {
		return s
	}
	if i == len(Steps)-1 {
		return StateCompleted
	}
	return Steps[i+1]
}

func (s WorkflowState) index() int {
	for i, step := range Steps {
		if step == s {
			return i
		}
	}
	return -1
}

// StepProgress holds the retry and completion metadata for a single step.
type StepProgress struct {
	RetryCount       int        `json:"retry_count"`
	LastErrorMessage string     `json:"last_error_message,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// WorkflowStatus is the recoverable progress record of one workflow.
type WorkflowStatus struct {
	WorkflowID     string                         `json:"workflow_id"`
	OrganizationID string                         `json:"organization_id"`
	State          WorkflowState                  `json:"status"`
	FailedStep     WorkflowState                  `json:"failed_step,omitempty"`
	Steps          map[WorkflowState]StepProgress `json:"steps"`
	CreatedAt      time.Time                      `json:"created_at"`
	UpdatedAt      time.Time                      `json:"updated_at"`
}

// Step returns the progress of step s, zero-valued when it has not started.
func (w WorkflowStatus) Step(s WorkflowState) StepProgress {
	if w.Steps == nil {
		return StepProgress{}
	}
	return w.Steps[s]
}

// ResumeStep returns the step a caller should run next, or "" when the
// workflow is complete.
func (w WorkflowStatus) ResumeStep() WorkflowState {
	switch {
	case w.State == StateFailed:
		return w.FailedStep
	case w.State.IsStep():
		return w.State
	default:
		return ""
	}
}
