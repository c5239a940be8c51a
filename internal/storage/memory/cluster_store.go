package memory

import (
	"context"
	"sync"

	"github.com/dvernon0786/Infin8Content-sub000/internal/keyword"
	"github.com/dvernon0786/Infin8Content-sub000/internal/store"
)

// ClusterStore keeps topic cluster edges per workflow.
type ClusterStore struct {
	mu    sync.RWMutex
	edges map[string][]keyword.TopicCluster
}

// NewClusterStore constructs a ClusterStore.
func NewClusterStore() *ClusterStore {
	return &ClusterStore{edges: make(map[string][]keyword.TopicCluster)}
}

var _ store.ClusterRepository = (*ClusterStore)(nil)

// DeleteClusters removes every edge of the workflow.
func (s *ClusterStore) DeleteClusters(_ context.Context, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.edges, workflowID)
	return nil
}

// InsertClusters appends edges.
func (s *ClusterStore) InsertClusters(_ context.Context, clusters []keyword.TopicCluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range clusters {
		s.edges[c.WorkflowID] = append(s.edges[c.WorkflowID], c)
	}
	return nil
}

// ListClusters returns the workflow's edges in insertion order.
func (s *ClusterStore) ListClusters(_ context.Context, workflowID string) ([]keyword.TopicCluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]keyword.TopicCluster(nil), s.edges[workflowID]...), nil
}
