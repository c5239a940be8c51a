package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/dvernon0786/Infin8Content-sub000/internal/keyword"
	"github.com/dvernon0786/Infin8Content-sub000/internal/store"
)

// WorkflowStore keeps workflow status records.
type WorkflowStore struct {
	mu        sync.RWMutex
	workflows map[string]keyword.WorkflowStatus
}

// NewWorkflowStore constructs a WorkflowStore.
func NewWorkflowStore() *WorkflowStore {
	return &WorkflowStore{workflows: make(map[string]keyword.WorkflowStatus)}
}

var _ store.WorkflowRepository = (*WorkflowStore)(nil)

// GetWorkflowStatus fetches a workflow by ID.
func (s *WorkflowStore) GetWorkflowStatus(_ context.Context, workflowID string) (keyword.WorkflowStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.workflows[workflowID]
	if !ok {
		return keyword.WorkflowStatus{}, store.ErrNotFound
	}
	return cloneStatus(status), nil
}

// SaveWorkflowStatus inserts or replaces the record.
func (s *WorkflowStore) SaveWorkflowStatus(_ context.Context, status keyword.WorkflowStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[status.WorkflowID] = cloneStatus(status)
	return nil
}

func cloneStatus(status keyword.WorkflowStatus) keyword.WorkflowStatus {
	status.Steps = maps.Clone(status.Steps)
	return status
}
