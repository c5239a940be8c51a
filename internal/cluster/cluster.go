// Package cluster groups filtered keywords into hub-and-spoke topic clusters.
//
// The partition is greedy: the highest-volume unassigned keyword becomes a hub
// and takes its most similar neighbours as spokes. Pairwise scoring is
// quadratic, so the input size is capped by MaxClusterKeywords.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/dvernon0786/Infin8Content-sub000/internal/keyword"
	"github.com/dvernon0786/Infin8Content-sub000/internal/progress"
	"github.com/dvernon0786/Infin8Content-sub000/internal/store"
)

// Input size bounds for one clustering run.
const (
	MinClusterKeywords = 2
	MaxClusterKeywords = 100
)

// Default option values.
const (
	DefaultSimilarityThreshold = 0.4
	DefaultMaxSpokesPerHub     = 8
	DefaultMinClusterSize      = 3
)

var (
	// ErrTooFewKeywords is returned when the workflow has fewer active
	// keywords than a cluster needs.
	ErrTooFewKeywords = errors.New("too few keywords to cluster")
	// ErrTooManyKeywords is returned above MaxClusterKeywords.
	ErrTooManyKeywords = errors.New("too many keywords to cluster")
)

// Options tunes a clustering run. MinClusterSize counts the hub.
type Options struct {
	SimilarityThreshold float64
	MaxSpokesPerHub     int
	MinClusterSize      int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		SimilarityThreshold: DefaultSimilarityThreshold,
		MaxSpokesPerHub:     DefaultMaxSpokesPerHub,
		MinClusterSize:      DefaultMinClusterSize,
	}
}

// Validate rejects options the greedy loop cannot honor.
func (o Options) Validate() error {
	switch {
	case o.SimilarityThreshold < 0 || o.SimilarityThreshold > 1:
		return errors.New("cluster: similarity threshold must be in [0, 1]")
	case o.MinClusterSize < 2:
		return errors.New("cluster: min cluster size must be >= 2")
	case o.MaxSpokesPerHub < o.MinClusterSize-1:
		return fmt.Errorf("cluster: max spokes per hub must be >= %d", o.MinClusterSize-1)
	}
	return nil
}

// Spoke is a keyword attached to a hub with its similarity score.
type Spoke struct {
	Keyword    keyword.Keyword
	Similarity float64
}

// Cluster is one hub with its spokes, most similar first.
type Cluster struct {
	Hub    keyword.Keyword
	Spokes []Spoke
}

// Result summarizes a clustering run.
type Result struct {
	WorkflowID        string        `json:"workflow_id"`
	KeywordCount      int           `json:"keyword_count"`
	ClusterCount      int           `json:"cluster_count"`
	ClusteredKeywords int           `json:"clustered_keywords"`
	Unclustered       int           `json:"unclustered_keywords"`
	Duration          time.Duration `json:"duration"`
	Clusters          []Cluster     `json:"-"`
}

// CheckSize enforces the input bounds before any scoring happens.
func CheckSize(n int, opts Options) error {
	switch {
	case n < MinClusterKeywords:
		return fmt.Errorf("%w: have %d, need at least %d", ErrTooFewKeywords, n, MinClusterKeywords)
	case n > MaxClusterKeywords:
		return fmt.Errorf("%w: have %d, limit is %d", ErrTooManyKeywords, n, MaxClusterKeywords)
	case n < opts.MinClusterSize:
		return fmt.Errorf("%w: have %d, min cluster size is %d", ErrTooFewKeywords, n, opts.MinClusterSize)
	}
	return nil
}

// Partition runs the greedy hub-and-spoke loop over keywords. The result
// depends only on the input order, the options and the scorer.
func Partition(keywords []keyword.Keyword, scorer Scorer, opts Options) []Cluster {
	pool := slices.Clone(keywords)
	slices.SortStableFunc(pool, func(a, b keyword.Keyword) int {
		return b.SearchVolume - a.SearchVolume
	})

	var clusters []Cluster
	for len(pool) >= opts.MinClusterSize {
		hub := pool[0]
		rest := pool[1:]
		spokes := AssignSpokesToHub(hub, rest, scorer, opts)
		if len(spokes) < opts.MinClusterSize-1 {
			break
		}
		clusters = append(clusters, Cluster{Hub: hub, Spokes: spokes})

		assigned := make(map[string]struct{}, len(spokes))
		for _, s := range spokes {
			assigned[s.Keyword.ID] = struct{}{}
		}
		next := make([]keyword.Keyword, 0, len(rest)-len(spokes))
		for _, kw := range rest {
			if _, ok := assigned[kw.ID]; !ok {
				next = append(next, kw)
			}
		}
		pool = next
	}
	return clusters
}

// AssignSpokesToHub scores every candidate against hub and returns up to
// MaxSpokesPerHub candidates at or above the threshold, most similar first.
// Ties keep candidate order.
func AssignSpokesToHub(hub keyword.Keyword, candidates []keyword.Keyword, scorer Scorer, opts Options) []Spoke {
	var spokes []Spoke
	for _, c := range candidates {
		if c.ID == hub.ID {
			continue
		}
		score := scorer.Score(hub.Keyword, c.Keyword)
		if score >= opts.SimilarityThreshold {
			spokes = append(spokes, Spoke{Keyword: c, Similarity: score})
		}
	}
	slices.SortStableFunc(spokes, func(a, b Spoke) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		default:
			return 0
		}
	})
	if len(spokes) > opts.MaxSpokesPerHub {
		spokes = spokes[:opts.MaxSpokesPerHub]
	}
	return spokes
}

// Clusterer loads a workflow's active keywords, partitions them and replaces
// the workflow's stored clusters.
type Clusterer struct {
	keywords store.KeywordRepository
	clusters store.ClusterRepository
	ids      keyword.IDGenerator
	clock    keyword.Clock
	emitter  progress.Emitter
	scorer   Scorer
	logger   *zap.Logger
}

// New constructs a Clusterer. A nil scorer selects JaccardScorer and a nil
// emitter discards analytics.
func New(
	keywords store.KeywordRepository,
	clusters store.ClusterRepository,
	ids keyword.IDGenerator,
	clock keyword.Clock,
	emitter progress.Emitter,
	scorer Scorer,
	logger *zap.Logger,
) *Clusterer {
	if scorer == nil {
		scorer = JaccardScorer{}
	}
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Clusterer{
		keywords: keywords,
		clusters: clusters,
		ids:      ids,
		clock:    clock,
		emitter:  emitter,
		scorer:   scorer,
		logger:   logger.Named("cluster"),
	}
}

// ClusterKeywords partitions the workflow's active keywords. Prior clusters
// of the workflow are deleted first, so reruns replace rather than append.
// Keywords left over when no further cluster qualifies stay unclustered.
func (c *Clusterer) ClusterKeywords(ctx context.Context, workflowID string, opts Options) (Result, error) {
	if err := opts.Validate(); err != nil {
		return Result{}, err
	}
	keywords, err := c.keywords.ListActiveKeywords(ctx, workflowID)
	if err != nil {
		return Result{}, fmt.Errorf("list active keywords: %w", err)
	}
	if err := CheckSize(len(keywords), opts); err != nil {
		return Result{}, err
	}
	orgID := keywords[0].OrganizationID

	start := c.clock.Now()
	c.emitter.Emit(progress.Event{
		Kind:           progress.KindClusteringStarted,
		WorkflowID:     workflowID,
		OrganizationID: orgID,
		TS:             start,
		KeywordCount:   len(keywords),
	})

	if err := c.clusters.DeleteClusters(ctx, workflowID); err != nil {
		return Result{}, fmt.Errorf("delete clusters: %w", err)
	}

	clusters := Partition(keywords, c.scorer, opts)
	result := Result{WorkflowID: workflowID, KeywordCount: len(keywords), Clusters: clusters}
	for _, cl := range clusters {
		edges, err := c.edges(orgID, workflowID, cl, start)
		if err != nil {
			return Result{}, err
		}
		if err := c.clusters.InsertClusters(ctx, edges); err != nil {
			return Result{}, fmt.Errorf("insert cluster for hub %s: %w", cl.Hub.ID, err)
		}
		result.ClusterCount++
		result.ClusteredKeywords += 1 + len(cl.Spokes)
	}
	result.Unclustered = result.KeywordCount - result.ClusteredKeywords
	result.Duration = c.clock.Now().Sub(start)

	c.emitter.Emit(progress.Event{
		Kind:           progress.KindClusteringCompleted,
		WorkflowID:     workflowID,
		OrganizationID: orgID,
		TS:             c.clock.Now(),
		KeywordCount:   result.KeywordCount,
		ClusterCount:   result.ClusterCount,
		Dur:            max(result.Duration, 0),
	})
	c.logger.Info("keywords clustered",
		zap.String("workflow_id", workflowID),
		zap.Int("keywords", result.KeywordCount),
		zap.Int("clusters", result.ClusterCount),
		zap.Int("unclustered", result.Unclustered),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

func (c *Clusterer) edges(orgID, workflowID string, cl Cluster, at time.Time) ([]keyword.TopicCluster, error) {
	edges := make([]keyword.TopicCluster, 0, len(cl.Spokes))
	for _, s := range cl.Spokes {
		id, err := c.ids.NewID()
		if err != nil {
			return nil, fmt.Errorf("generate cluster id: %w", err)
		}
		edges = append(edges, keyword.TopicCluster{
			ID:              id,
			OrganizationID:  orgID,
			WorkflowID:      workflowID,
			HubKeywordID:    cl.Hub.ID,
			SpokeKeywordID:  s.Keyword.ID,
			SimilarityScore: s.Similarity,
			SelectionSource: keyword.SelectionAI,
			CreatedAt:       at.UTC(),
		})
	}
	return edges, nil
}
