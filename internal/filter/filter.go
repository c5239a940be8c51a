// Package filter removes near-duplicate and low-volume keywords from a workflow.
package filter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dvernon0786/Infin8Content-sub000/internal/keyword"
	"github.com/dvernon0786/Infin8Content-sub000/internal/store"
)

// Default option values.
const (
	DefaultMinSearchVolume     = 100
	DefaultSimilarityThreshold = 0.85
)

// Options tunes a filter run.
type Options struct {
	MinSearchVolume     int
	SimilarityThreshold float64
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{MinSearchVolume: DefaultMinSearchVolume, SimilarityThreshold: DefaultSimilarityThreshold}
}

func (o Options) validate() error {
	if o.MinSearchVolume < 0 {
		return errors.New("filter: min search volume must be >= 0")
	}
	if o.SimilarityThreshold <= 0 || o.SimilarityThreshold > 1 {
		return errors.New("filter: similarity threshold must be in (0, 1]")
	}
	return nil
}

// Result summarizes a filter run.
type Result struct {
	WorkflowID        string `json:"workflow_id"`
	TotalKeywords     int    `json:"total_keywords"`
	DuplicatesRemoved int    `json:"duplicates_removed"`
	LowVolumeRemoved  int    `json:"low_volume_removed"`
	FilteredCount     int    `json:"filtered_count"`
	RemainingCount    int    `json:"remaining_count"`
}

// Filter loads a workflow's keywords, decides which survive and persists the
// outcome for every row.
type Filter struct {
	repo   store.KeywordRepository
	clock  keyword.Clock
	logger *zap.Logger
}

// New wires a Filter.
func New(repo store.KeywordRepository, clock keyword.Clock, logger *zap.Logger) *Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filter{repo: repo, clock: clock, logger: logger.Named("filter")}
}

// FilterKeywords runs deduplication then volume filtering over the workflow.
// Re-running it re-evaluates every row, so earlier outcomes are overwritten.
func (f *Filter) FilterKeywords(ctx context.Context, workflowID, orgID string, opts Options) (Result, error) {
	if err := opts.validate(); err != nil {
		return Result{}, err
	}
	keywords, err := f.repo.ListKeywords(ctx, orgID, workflowID)
	if err != nil {
		return Result{}, fmt.Errorf("list keywords: %w", err)
	}

	updates, result := Apply(keywords, opts, f.clock.Now().UTC())
	result.WorkflowID = workflowID
	if len(updates) > 0 {
		if err := f.repo.ApplyFilterResults(ctx, orgID, workflowID, updates); err != nil {
			return Result{}, fmt.Errorf("persist filter results: %w", err)
		}
	}
	f.logger.Info("keywords filtered",
		zap.String("workflow_id", workflowID),
		zap.Int("total", result.TotalKeywords),
		zap.Int("duplicates", result.DuplicatesRemoved),
		zap.Int("low_volume", result.LowVolumeRemoved),
		zap.Int("remaining", result.RemainingCount),
	)
	return result, nil
}

// Apply decides the outcome of every keyword without touching storage. The
// returned updates are in input order, one per keyword.
//
// Deduplication is a single streaming pass: each keyword is compared with the
// survivors seen so far and, on a match, the higher-volume one is kept (the
// earlier one on a tie). Survivors below MinSearchVolume are then dropped.
func Apply(keywords []keyword.Keyword, opts Options, now time.Time) ([]keyword.FilterUpdate, Result) {
	reasons := make([]keyword.FilterReason, len(keywords))
	type survivor struct {
		index int
		norm  string
	}
	survivors := make([]survivor, 0, len(keywords))

	for i, kw := range keywords {
		norm := NormalizeKeyword(kw.Keyword)
		matched := -1
		for j, s := range survivors {
			if Similarity(norm, s.norm) >= opts.SimilarityThreshold {
				matched = j
				break
			}
		}
		if matched < 0 {
			survivors = append(survivors, survivor{index: i, norm: norm})
			continue
		}
		held := survivors[matched]
		if kw.SearchVolume > keywords[held.index].SearchVolume {
			reasons[held.index] = keyword.FilterReasonDuplicate
			survivors[matched] = survivor{index: i, norm: norm}
			continue
		}
		reasons[i] = keyword.FilterReasonDuplicate
	}

	result := Result{TotalKeywords: len(keywords)}
	for _, s := range survivors {
		if keywords[s.index].SearchVolume < opts.MinSearchVolume {
			reasons[s.index] = keyword.FilterReasonLowVolume
		}
	}

	updates := make([]keyword.FilterUpdate, len(keywords))
	for i, kw := range keywords {
		update := keyword.FilterUpdate{KeywordID: kw.ID, Reason: reasons[i]}
		switch reasons[i] {
		case keyword.FilterReasonDuplicate:
			result.DuplicatesRemoved++
		case keyword.FilterReasonLowVolume:
			result.LowVolumeRemoved++
		}
		if reasons[i] != keyword.FilterReasonNone {
			at := now
			update.IsFilteredOut = true
			update.FilteredAt = &at
		}
		updates[i] = update
	}
	result.FilteredCount = result.DuplicatesRemoved + result.LowVolumeRemoved
	result.RemainingCount = result.TotalKeywords - result.FilteredCount
	return updates, result
}
