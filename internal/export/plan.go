// Package export renders a workflow's clusters as a content plan document and
// writes it to blob storage.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/dvernon0786/Infin8Content-sub000/internal/keyword"
	"github.com/dvernon0786/Infin8Content-sub000/internal/store"
)

// ErrNoClusters is returned when the workflow has nothing to export.
var ErrNoClusters = errors.New("workflow has no clusters")

// ContentType of the exported document.
const ContentType = "application/json"

// Spoke is one keyword assigned to a hub.
type Spoke struct {
	KeywordID       string                   `json:"keyword_id"`
	Keyword         string                   `json:"keyword"`
	SearchVolume    int                      `json:"search_volume"`
	Competition     keyword.CompetitionLevel `json:"competition_level"`
	Similarity      float64                  `json:"similarity_score"`
	SelectionSource keyword.SelectionSource  `json:"selection_source"`
}

// Hub is a pillar topic and its spokes, most similar first.
type Hub struct {
	KeywordID    string                   `json:"keyword_id"`
	Keyword      string                   `json:"keyword"`
	SearchVolume int                      `json:"search_volume"`
	Competition  keyword.CompetitionLevel `json:"competition_level"`
	// TotalVolume sums the hub and spoke volumes.
	TotalVolume int     `json:"total_search_volume"`
	Spokes      []Spoke `json:"spokes"`
}

// Plan is the exported document.
type Plan struct {
	WorkflowID     string    `json:"workflow_id"`
	OrganizationID string    `json:"organization_id"`
	GeneratedAt    time.Time `json:"generated_at"`
	Hubs           []Hub     `json:"hubs"`
}

// Exporter builds and writes plans.
type Exporter struct {
	keywords store.KeywordRepository
	clusters store.ClusterRepository
	blobs    keyword.BlobStore
	clock    keyword.Clock
	logger   *zap.Logger
}

// New constructs an Exporter.
func New(
	keywords store.KeywordRepository,
	clusters store.ClusterRepository,
	blobs keyword.BlobStore,
	clock keyword.Clock,
	logger *zap.Logger,
) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{
		keywords: keywords,
		clusters: clusters,
		blobs:    blobs,
		clock:    clock,
		logger:   logger.Named("export"),
	}
}

// BuildPlan groups the workflow's cluster edges by hub, in the order hubs were
// created.
func (e *Exporter) BuildPlan(ctx context.Context, orgID, workflowID string) (Plan, error) {
	edges, err := e.clusters.ListClusters(ctx, workflowID)
	if err != nil {
		return Plan{}, fmt.Errorf("list clusters: %w", err)
	}
	if len(edges) == 0 {
		return Plan{}, ErrNoClusters
	}
	rows, err := e.keywords.ListKeywords(ctx, orgID, workflowID)
	if err != nil {
		return Plan{}, fmt.Errorf("list keywords: %w", err)
	}
	byID := make(map[string]keyword.Keyword, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}

	plan := Plan{WorkflowID: workflowID, OrganizationID: orgID, GeneratedAt: e.clock.Now().UTC()}
	index := make(map[string]int)
	for _, edge := range edges {
		if edge.OrganizationID != orgID {
			continue
		}
		hubRow, ok := byID[edge.HubKeywordID]
		if !ok {
			return Plan{}, fmt.Errorf("hub keyword %s: %w", edge.HubKeywordID, store.ErrNotFound)
		}
		spokeRow, ok := byID[edge.SpokeKeywordID]
		if !ok {
			return Plan{}, fmt.Errorf("spoke keyword %s: %w", edge.SpokeKeywordID, store.ErrNotFound)
		}
		i, seen := index[hubRow.ID]
		if !seen {
			i = len(plan.Hubs)
			index[hubRow.ID] = i
			plan.Hubs = append(plan.Hubs, Hub{
				KeywordID:    hubRow.ID,
				Keyword:      hubRow.Keyword,
				SearchVolume: hubRow.SearchVolume,
				Competition:  hubRow.CompetitionLevel,
				TotalVolume:  hubRow.SearchVolume,
			})
		}
		hub := &plan.Hubs[i]
		hub.Spokes = append(hub.Spokes, Spoke{
			KeywordID:       spokeRow.ID,
			Keyword:         spokeRow.Keyword,
			SearchVolume:    spokeRow.SearchVolume,
			Competition:     spokeRow.CompetitionLevel,
			Similarity:      edge.SimilarityScore,
			SelectionSource: edge.SelectionSource,
		})
		hub.TotalVolume += spokeRow.SearchVolume
	}
	if len(plan.Hubs) == 0 {
		return Plan{}, ErrNoClusters
	}
	return plan, nil
}

// Export writes the plan to <workflowID>/cluster-plan.json and returns its URI.
func (e *Exporter) Export(ctx context.Context, orgID, workflowID string) (string, Plan, error) {
	plan, err := e.BuildPlan(ctx, orgID, workflowID)
	if err != nil {
		return "", Plan{}, err
	}
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return "", Plan{}, fmt.Errorf("marshal plan: %w", err)
	}
	uri, err := e.blobs.PutObject(ctx, path.Join(workflowID, "cluster-plan.json"), ContentType, data)
	if err != nil {
		return "", Plan{}, fmt.Errorf("write plan: %w", err)
	}
	e.logger.Info("cluster plan exported",
		zap.String("workflow_id", workflowID),
		zap.Int("hubs", len(plan.Hubs)),
		zap.String("uri", uri),
	)
	return uri, plan, nil
}
