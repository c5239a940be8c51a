package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dvernon0786/Infin8Content-sub000/internal/keyword"
	"github.com/dvernon0786/Infin8Content-sub000/internal/store"
)

var clusterColumns = []string{
	"id",
	"organization_id",
	"workflow_id",
	"hub_keyword_id",
	"spoke_keyword_id",
	"similarity_score",
	"user_selected",
	"selection_source",
	"created_at",
}

// ClusterStore persists hub-to-spoke edges in the topic_clusters table.
type ClusterStore struct {
	db DB
}

var _ store.ClusterRepository = (*ClusterStore)(nil)

// NewClusterStore wraps db.
func NewClusterStore(db DB) (*ClusterStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ClusterStore{db: db}, nil
}

// DeleteClusters removes every edge of the workflow.
func (s *ClusterStore) DeleteClusters(ctx context.Context, workflowID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM topic_clusters WHERE workflow_id = $1`, workflowID); err != nil {
		return fmt.Errorf("delete clusters: %w", err)
	}
	return nil
}

// InsertClusters writes edges in one statement.
func (s *ClusterStore) InsertClusters(ctx context.Context, clusters []keyword.TopicCluster) error {
	if len(clusters) == 0 {
		return nil
	}
	b := psql.Insert("topic_clusters").Columns(clusterColumns...)
	for _, c := range clusters {
		b = b.Values(
			c.ID,
			c.OrganizationID,
			c.WorkflowID,
			c.HubKeywordID,
			c.SpokeKeywordID,
			c.SimilarityScore,
			c.UserSelected,
			string(c.SelectionSource),
			c.CreatedAt,
		)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build cluster insert: %w", err)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert clusters: %w", err)
	}
	return nil
}

// ListClusters returns the workflow's edges in insertion order.
func (s *ClusterStore) ListClusters(ctx context.Context, workflowID string) ([]keyword.TopicCluster, error) {
	query, args, err := psql.Select(clusterColumns...).From("topic_clusters").
		Where("workflow_id = ?", workflowID).
		OrderBy("created_at", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build cluster query: %w", err)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query clusters: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (keyword.TopicCluster, error) {
		var (
			c      keyword.TopicCluster
			source string
		)
		err := row.Scan(
			&c.ID,
			&c.OrganizationID,
			&c.WorkflowID,
			&c.HubKeywordID,
			&c.SpokeKeywordID,
			&c.SimilarityScore,
			&c.UserSelected,
			&source,
			&c.CreatedAt,
		)
		c.SelectionSource = keyword.SelectionSource(source)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan clusters: %w", err)
	}
	return out, nil
}
