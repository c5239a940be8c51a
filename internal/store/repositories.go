package store

import (
	"context"
	"errors"
	"time"

	"github.com/dvernon0786/Infin8Content-sub000/internal/keyword"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// KeywordRepository persists seed and longtail keyword rows. Every mutation is
// scoped by organization and workflow and is safe to repeat.
type KeywordRepository interface {
	// ReplaceSeedKeywords deletes the competitor's previous seeds for the
	// workflow and inserts seeds in their place.
	ReplaceSeedKeywords(ctx context.Context, orgID, workflowID, competitorID string, seeds []keyword.Keyword) error
	// ListSeedsPendingExpansion returns seeds whose longtail_status is not completed.
	ListSeedsPendingExpansion(ctx context.Context, workflowID string) ([]keyword.Keyword, error)
	// ReplaceLongtails swaps the seed's longtails for the given rows and marks
	// the seed's longtail_status completed at the given time in the same write.
	ReplaceLongtails(ctx context.Context, seed keyword.Keyword, longtails []keyword.Keyword, at time.Time) error
	// ListKeywords returns every row of the workflow in insertion order.
	ListKeywords(ctx context.Context, orgID, workflowID string) ([]keyword.Keyword, error)
	// ListActiveKeywords returns rows that are not filtered out, in insertion order.
	ListActiveKeywords(ctx context.Context, workflowID string) ([]keyword.Keyword, error)
	// ApplyFilterResults writes the filter outcome of each row.
	ApplyFilterResults(ctx context.Context, orgID, workflowID string, updates []keyword.FilterUpdate) error
}

// ClusterRepository persists hub-to-spoke edges.
type ClusterRepository interface {
	DeleteClusters(ctx context.Context, workflowID string) error
	InsertClusters(ctx context.Context, clusters []keyword.TopicCluster) error
	ListClusters(ctx context.Context, workflowID string) ([]keyword.TopicCluster, error)
}

// WorkflowRepository persists workflow status records.
type WorkflowRepository interface {
	// GetWorkflowStatus loads a workflow or returns ErrNotFound.
	GetWorkflowStatus(ctx context.Context, workflowID string) (keyword.WorkflowStatus, error)
	// SaveWorkflowStatus inserts or replaces the record.
	SaveWorkflowStatus(ctx context.Context, status keyword.WorkflowStatus) error
}
