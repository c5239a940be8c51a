// Package expander grows each seed keyword into longtail keywords by querying
// several discovery sources concurrently.
package expander

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dvernon0786/Infin8Content-sub000/internal/filter"
	"github.com/dvernon0786/Infin8Content-sub000/internal/keyword"
	"github.com/dvernon0786/Infin8Content-sub000/internal/retry"
	"github.com/dvernon0786/Infin8Content-sub000/internal/store"
)

// MaxLongtailsPerSeed caps the longtails stored for one seed.
const MaxLongtailsPerSeed = 12

// ErrNoSeeds is returned when seeds were pending but none could be stored.
var ErrNoSeeds = errors.New("no seed keywords could be expanded")

// Options tunes an expansion run. Zero values select the defaults.
type Options struct {
	LocationCode int
	LanguageCode string
	// SourceLimit is the per-source result limit sent to the provider.
	SourceLimit  int
	MaxLongtails int
	Retry        retry.Policy
	RetryOptions []retry.Option
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		LocationCode: 2840,
		LanguageCode: "en",
		SourceLimit:  50,
		MaxLongtails: MaxLongtailsPerSeed,
		Retry:        retry.DefaultPolicy,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.LocationCode == 0 {
		o.LocationCode = d.LocationCode
	}
	if o.LanguageCode == "" {
		o.LanguageCode = d.LanguageCode
	}
	if o.SourceLimit <= 0 {
		o.SourceLimit = d.SourceLimit
	}
	if o.MaxLongtails <= 0 || o.MaxLongtails > MaxLongtailsPerSeed {
		o.MaxLongtails = d.MaxLongtails
	}
	if o.Retry == (retry.Policy{}) {
		o.Retry = d.Retry
	}
	return o
}

// SourceResult is the outcome of one discovery source for one seed.
type SourceResult struct {
	Source string `json:"source"`
	Found  int    `json:"found"`
	Error  string `json:"error,omitempty"`
}

// SeedResult reports one seed. A seed with SourcesSucceeded == 0 is still
// marked completed; callers that score quality can tell it apart here.
type SeedResult struct {
	SeedID           string         `json:"seed_id"`
	Keyword          string         `json:"keyword"`
	SourcesSucceeded int            `json:"sources_succeeded"`
	LongtailsCreated int            `json:"longtails_created"`
	Sources          []SourceResult `json:"sources"`
	Error            string         `json:"error,omitempty"`
}

// Summary reports an expansion run.
type Summary struct {
	WorkflowID       string       `json:"workflow_id"`
	SeedsProcessed   int          `json:"seeds_processed"`
	SeedsExpanded    int          `json:"seeds_expanded"`
	SeedsFailed      int          `json:"seeds_failed"`
	LongtailsCreated int          `json:"longtails_created"`
	Seeds            []SeedResult `json:"seeds"`
}

// Expander fans each seed out to the discovery sources.
type Expander struct {
	sources  []keyword.DiscoverySource
	keywords store.KeywordRepository
	ids      keyword.IDGenerator
	clock    keyword.Clock
	logger   *zap.Logger
}

// New constructs an Expander. Results merge in the order of sources.
func New(
	sources []keyword.DiscoverySource,
	keywords store.KeywordRepository,
	ids keyword.IDGenerator,
	clock keyword.Clock,
	logger *zap.Logger,
) *Expander {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Expander{
		sources:  slices.Clone(sources),
		keywords: keywords,
		ids:      ids,
		clock:    clock,
		logger:   logger.Named("expander"),
	}
}

// ExpandSeedKeywordsToLongtails expands every seed of the workflow that is not
// yet completed, in stored order. Sources run concurrently per seed and fail
// independently. Each seed is marked completed once its longtails are stored,
// whatever its sources returned, unless ctx is cancelled mid-discovery. The
// call fails only if seeds were pending and none could be stored.
func (e *Expander) ExpandSeedKeywordsToLongtails(ctx context.Context, workflowID string, opts Options) (Summary, error) {
	opts = opts.withDefaults()
	if err := opts.Retry.Validate(); err != nil {
		return Summary{}, err
	}
	seeds, err := e.keywords.ListSeedsPendingExpansion(ctx, workflowID)
	if err != nil {
		return Summary{}, fmt.Errorf("list pending seeds: %w", err)
	}

	summary := Summary{WorkflowID: workflowID, Seeds: make([]SeedResult, 0, len(seeds))}
	var errs []error
	for _, seed := range seeds {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		summary.SeedsProcessed++
		res, err := e.expandSeed(ctx, seed, opts)
		if err != nil {
			res.Error = err.Error()
			summary.SeedsFailed++
			errs = append(errs, fmt.Errorf("seed %s: %w", seed.ID, err))
			e.logger.Warn("seed expansion failed",
				zap.String("workflow_id", workflowID),
				zap.String("seed_id", seed.ID),
				zap.Error(err),
			)
		} else {
			summary.SeedsExpanded++
			summary.LongtailsCreated += res.LongtailsCreated
		}
		summary.Seeds = append(summary.Seeds, res)
	}

	e.logger.Info("longtail expansion finished",
		zap.String("workflow_id", workflowID),
		zap.Int("seeds", summary.SeedsProcessed),
		zap.Int("expanded", summary.SeedsExpanded),
		zap.Int("longtails", summary.LongtailsCreated),
	)
	if len(seeds) > 0 && summary.SeedsExpanded == 0 {
		return summary, fmt.Errorf("%w: %w", ErrNoSeeds, errors.Join(errs...))
	}
	return summary, nil
}

func (e *Expander) expandSeed(ctx context.Context, seed keyword.Keyword, opts Options) (SeedResult, error) {
	res := SeedResult{SeedID: seed.ID, Keyword: seed.Keyword, Sources: make([]SourceResult, len(e.sources))}
	found := make([][]keyword.ProviderKeyword, len(e.sources))
	req := keyword.ProviderRequest{
		Keyword:      seed.Keyword,
		LocationCode: opts.LocationCode,
		LanguageCode: opts.LanguageCode,
		Limit:        opts.SourceLimit,
	}
	retryOpts := append([]retry.Option{retry.WithLogger(e.logger)}, opts.RetryOptions...)

	// A failing source only records its error; the group fails only when
	// the run itself is cancelled, so the seed is not marked completed
	// with whatever partial results arrived.
	var g errgroup.Group
	for i, src := range e.sources {
		g.Go(func() error {
			out, err := retry.Do(ctx, opts.Retry, src.Name()+" "+seed.Keyword,
				func(ctx context.Context) ([]keyword.ProviderKeyword, error) {
					return src.Discover(ctx, req)
				},
				retryOpts...,
			)
			res.Sources[i] = SourceResult{Source: src.Name(), Found: len(out)}
			if err != nil {
				res.Sources[i].Error = err.Error()
				return ctx.Err()
			}
			found[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, fmt.Errorf("discover longtails: %w", err)
	}

	for _, s := range res.Sources {
		if s.Error == "" {
			res.SourcesSucceeded++
		} else {
			e.logger.Debug("discovery source failed",
				zap.String("seed_id", seed.ID),
				zap.String("source", s.Source),
				zap.String("error", s.Error),
			)
		}
	}

	merged := MergeLongtails(seed.Keyword, found, opts.MaxLongtails)
	longtails, err := e.buildLongtails(seed, merged)
	if err != nil {
		return res, err
	}
	if err := e.keywords.ReplaceLongtails(ctx, seed, longtails, e.clock.Now()); err != nil {
		return res, fmt.Errorf("replace longtails: %w", err)
	}
	res.LongtailsCreated = len(longtails)
	return res, nil
}

// MergeLongtails concatenates per-source results in source order, drops
// candidates whose normalized text repeats an earlier one or the seed, orders
// the rest by search volume and keeps at most limit.
func MergeLongtails(seed string, perSource [][]keyword.ProviderKeyword, limit int) []keyword.ProviderKeyword {
	seen := map[string]struct{}{filter.NormalizeKeyword(seed): {}}
	var merged []keyword.ProviderKeyword
	for _, results := range perSource {
		for _, pk := range results {
			norm := filter.NormalizeKeyword(pk.Keyword)
			if norm == "" {
				continue
			}
			if _, dup := seen[norm]; dup {
				continue
			}
			seen[norm] = struct{}{}
			merged = append(merged, pk)
		}
	}
	slices.SortStableFunc(merged, func(a, b keyword.ProviderKeyword) int {
		return b.SearchVolume - a.SearchVolume
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

func (e *Expander) buildLongtails(seed keyword.Keyword, found []keyword.ProviderKeyword) ([]keyword.Keyword, error) {
	now := e.clock.Now().UTC()
	out := make([]keyword.Keyword, 0, len(found))
	for _, pk := range found {
		id, err := e.ids.NewID()
		if err != nil {
			return nil, fmt.Errorf("generate keyword id: %w", err)
		}
		parent := seed.ID
		seedText := seed.Keyword
		row := keyword.Keyword{
			ID:                  id,
			OrganizationID:      seed.OrganizationID,
			WorkflowID:          seed.WorkflowID,
			SeedKeyword:         &seedText,
			Keyword:             pk.Keyword,
			SearchVolume:        pk.SearchVolume,
			CompetitionLevel:    pk.Competition.Level,
			CompetitionIndex:    pk.Competition.Index,
			KeywordDifficulty:   pk.KeywordDifficulty,
			CPC:                 pk.CPC,
			ParentSeedKeywordID: &parent,
			LongtailStatus:      keyword.StageNotStarted,
			SubtopicsStatus:     keyword.StageNotStarted,
			ArticleStatus:       keyword.StageNotStarted,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if seed.CompetitorURLID != nil {
			comp := *seed.CompetitorURLID
			row.CompetitorURLID = &comp
		}
		out = append(out, row)
	}
	return out, nil
}
