// Package progress defines the analytics events emitted by the pipeline stages.
package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dvernon0786/Infin8Content-sub000/internal/keyword"
)

// Kind names the analytics event.
type Kind string

// Supported analytics events.
const (
	KindStepRetried         Kind = "workflow_step_retried"
	KindStepFailed          Kind = "workflow_step_failed"
	KindStepCompleted       Kind = "workflow_step_completed"
	KindClusteringStarted   Kind = "clustering_started"
	KindClusteringCompleted Kind = "clustering_completed"
)

// Event captures a single pipeline milestone. Only the fields relevant to
// Kind are populated.
type Event struct {
	Kind           Kind                  `json:"event"`
	WorkflowID     string                `json:"workflow_id"`
	OrganizationID string                `json:"organization_id,omitempty"`
	TS             time.Time             `json:"timestamp"`
	Step           keyword.WorkflowState `json:"step,omitempty"`
	// AttemptNumber is the 1-based attempt that failed before a retry.
	AttemptNumber int    `json:"attempt_number,omitempty"`
	ErrorType     string `json:"error_type,omitempty"`
	// Delay is the wait before the next retry.
	Delay         time.Duration `json:"-"`
	TotalAttempts int           `json:"total_attempts,omitempty"`
	ErrorMessage  string        `json:"final_error_message,omitempty"`
	KeywordCount  int           `json:"keyword_count,omitempty"`
	ClusterCount  int           `json:"cluster_count,omitempty"`
	// Dur is the elapsed time of a completed step or clustering run.
	Dur time.Duration `json:"-"`
}

// MarshalJSON renders durations as milliseconds.
func (e Event) MarshalJSON() ([]byte, error) {
	type alias Event
	return json.Marshal(struct {
		alias
		DelayMs    int64 `json:"delay_before_retry_ms,omitempty"`
		DurationMs int64 `json:"duration_ms,omitempty"`
	}{
		alias:      alias(e),
		DelayMs:    e.Delay.Milliseconds(),
		DurationMs: e.Dur.Milliseconds(),
	})
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.WorkflowID == "" {
		return errors.New("workflow id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindStepRetried:
		if e.Step == "" {
			return errors.New("retry event requires step")
		}
		if e.AttemptNumber < 1 {
			return errors.New("retry event requires attempt number >= 1")
		}
	case KindStepFailed, KindStepCompleted:
		if e.Step == "" {
			return fmt.Errorf("%s requires step", e.Kind)
		}
	case KindClusteringStarted, KindClusteringCompleted:
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if e.Delay < 0 || e.Dur < 0 {
		return errors.New("durations must be >= 0")
	}
	return nil
}

// Attributes returns the message attributes used for broker-side filtering.
func (e Event) Attributes() map[string]string {
	attrs := map[string]string{
		"event":       string(e.Kind),
		"workflow_id": e.WorkflowID,
	}
	if e.Step != "" {
		attrs["step"] = string(e.Step)
	}
	return attrs
}
