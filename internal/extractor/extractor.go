// Package extractor pulls the top ranked keywords of each competitor domain
// from the keyword-data provider and stores them as workflow seeds.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/dvernon0786/Infin8Content-sub000/internal/filter"
	"github.com/dvernon0786/Infin8Content-sub000/internal/keyword"
	"github.com/dvernon0786/Infin8Content-sub000/internal/retry"
	"github.com/dvernon0786/Infin8Content-sub000/internal/store"
)

// Default option values.
const (
	DefaultMaxPerCompetitor = 25
	DefaultLocationCode     = 2840
	DefaultLanguageCode     = "en"
	DefaultTimeout          = 5 * time.Minute
)

// persistenceReserve is the share of the budget kept back for writes.
const persistenceReserve = 0.10

var (
	// ErrNoCompetitors is returned when there is nothing to extract from.
	ErrNoCompetitors = errors.New("no competitors given")
	// ErrAllCompetitorsFailed is returned when not a single competitor
	// produced stored seeds.
	ErrAllCompetitorsFailed = errors.New("all competitors failed")
)

// Options tunes an extraction run. Zero values select the defaults.
type Options struct {
	MaxPerCompetitor int
	LocationCode     int
	LanguageCode     string
	// Timeout is the budget for the whole run.
	Timeout time.Duration
	Retry   retry.Policy
	// RetryOptions are passed to every retried provider call.
	RetryOptions []retry.Option
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		MaxPerCompetitor: DefaultMaxPerCompetitor,
		LocationCode:     DefaultLocationCode,
		LanguageCode:     DefaultLanguageCode,
		Timeout:          DefaultTimeout,
		Retry:            retry.DefaultPolicy,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxPerCompetitor <= 0 {
		o.MaxPerCompetitor = d.MaxPerCompetitor
	}
	if o.LocationCode == 0 {
		o.LocationCode = d.LocationCode
	}
	if o.LanguageCode == "" {
		o.LanguageCode = d.LanguageCode
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.Retry == (retry.Policy{}) {
		o.Retry = d.Retry
	}
	return o
}

// CompetitorResult is the outcome for one competitor.
type CompetitorResult struct {
	CompetitorID string `json:"competitor_id"`
	Target       string `json:"target"`
	SeedsCreated int    `json:"seeds_created"`
	// Skipped is set when the budget ran out before the competitor was tried.
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Summary reports an extraction run.
type Summary struct {
	WorkflowID           string             `json:"workflow_id"`
	CompetitorsProcessed int                `json:"competitors_processed"`
	CompetitorsSucceeded int                `json:"competitors_succeeded"`
	CompetitorsFailed    int                `json:"competitors_failed"`
	SeedsCreated         int                `json:"seeds_created"`
	Results              []CompetitorResult `json:"results"`
}

// Extractor turns competitors into seed keywords.
type Extractor struct {
	provider keyword.SeedProvider
	keywords store.KeywordRepository
	ids      keyword.IDGenerator
	clock    keyword.Clock
	logger   *zap.Logger
}

// New constructs an Extractor.
func New(
	provider keyword.SeedProvider,
	keywords store.KeywordRepository,
	ids keyword.IDGenerator,
	clock keyword.Clock,
	logger *zap.Logger,
) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		provider: provider,
		keywords: keywords,
		ids:      ids,
		clock:    clock,
		logger:   logger.Named("extractor"),
	}
}

// ExtractSeedKeywords processes competitors in order. Each competitor gets an
// equal share of the budget after the persistence reserve; its provider call
// is retried within that share. Successful competitors have their previous
// seeds replaced. When the budget runs out the remaining competitors are
// recorded as failures and committed seeds are kept. The call fails only if
// every competitor failed.
func (e *Extractor) ExtractSeedKeywords(
	ctx context.Context,
	competitors []keyword.Competitor,
	orgID, workflowID string,
	opts Options,
) (Summary, error) {
	if orgID == "" || workflowID == "" {
		return Summary{}, errors.New("organization id and workflow id are required")
	}
	if len(competitors) == 0 {
		return Summary{}, ErrNoCompetitors
	}
	opts = opts.withDefaults()
	if err := opts.Retry.Validate(); err != nil {
		return Summary{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	share := time.Duration(float64(opts.Timeout)*(1-persistenceReserve)) / time.Duration(len(competitors))

	summary := Summary{WorkflowID: workflowID, Results: make([]CompetitorResult, 0, len(competitors))}
	var errs []error
	for _, comp := range competitors {
		res := CompetitorResult{CompetitorID: competitorID(comp), Target: comp.Target()}
		if err := ctx.Err(); err != nil {
			res.Skipped = true
			res.Error = fmt.Sprintf("budget exhausted: %v", err)
			summary.Results = append(summary.Results, res)
			summary.CompetitorsFailed++
			errs = append(errs, fmt.Errorf("competitor %s: %w", res.CompetitorID, err))
			continue
		}

		summary.CompetitorsProcessed++
		n, err := e.extractOne(ctx, comp, res, orgID, workflowID, share, opts)
		if err != nil {
			res.Error = err.Error()
			summary.CompetitorsFailed++
			errs = append(errs, fmt.Errorf("competitor %s: %w", res.CompetitorID, err))
			e.logger.Warn("competitor extraction failed",
				zap.String("workflow_id", workflowID),
				zap.String("competitor_id", res.CompetitorID),
				zap.String("target", res.Target),
				zap.Error(err),
			)
		} else {
			res.SeedsCreated = n
			summary.CompetitorsSucceeded++
			summary.SeedsCreated += n
		}
		summary.Results = append(summary.Results, res)
	}

	e.logger.Info("seed extraction finished",
		zap.String("workflow_id", workflowID),
		zap.Int("succeeded", summary.CompetitorsSucceeded),
		zap.Int("failed", summary.CompetitorsFailed),
		zap.Int("seeds", summary.SeedsCreated),
	)
	if summary.CompetitorsSucceeded == 0 {
		return summary, fmt.Errorf("%w (%d competitors): %w", ErrAllCompetitorsFailed, len(competitors), errors.Join(errs...))
	}
	return summary, nil
}

func (e *Extractor) extractOne(
	ctx context.Context,
	comp keyword.Competitor,
	res CompetitorResult,
	orgID, workflowID string,
	share time.Duration,
	opts Options,
) (int, error) {
	if res.Target == "" {
		return 0, fmt.Errorf("competitor %q has no usable domain", comp.URL)
	}
	req := keyword.ProviderRequest{
		Target:       res.Target,
		LocationCode: opts.LocationCode,
		LanguageCode: opts.LanguageCode,
		Limit:        opts.MaxPerCompetitor,
	}

	callCtx, cancel := context.WithTimeout(ctx, share)
	defer cancel()
	retryOpts := append([]retry.Option{retry.WithLogger(e.logger)}, opts.RetryOptions...)
	found, err := retry.Do(callCtx, opts.Retry, "ranked keywords "+res.Target,
		func(ctx context.Context) ([]keyword.ProviderKeyword, error) {
			return e.provider.RankedKeywords(ctx, req)
		},
		retryOpts...,
	)
	if err != nil {
		return 0, err
	}

	seeds, err := e.buildSeeds(TopKeywords(found, opts.MaxPerCompetitor), res.CompetitorID, orgID, workflowID)
	if err != nil {
		return 0, err
	}
	if err := e.keywords.ReplaceSeedKeywords(ctx, orgID, workflowID, res.CompetitorID, seeds); err != nil {
		return 0, fmt.Errorf("replace seed keywords: %w", err)
	}
	return len(seeds), nil
}

// TopKeywords orders found by search volume, drops entries whose normalized
// text repeats an earlier one and keeps at most n.
func TopKeywords(found []keyword.ProviderKeyword, n int) []keyword.ProviderKeyword {
	sorted := slices.Clone(found)
	slices.SortStableFunc(sorted, func(a, b keyword.ProviderKeyword) int {
		return b.SearchVolume - a.SearchVolume
	})
	seen := make(map[string]struct{}, len(sorted))
	out := make([]keyword.ProviderKeyword, 0, min(n, len(sorted)))
	for _, pk := range sorted {
		if len(out) == n {
			break
		}
		norm := filter.NormalizeKeyword(pk.Keyword)
		if norm == "" {
			continue
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, pk)
	}
	return out
}

func (e *Extractor) buildSeeds(found []keyword.ProviderKeyword, competitorID, orgID, workflowID string) ([]keyword.Keyword, error) {
	now := e.clock.Now().UTC()
	seeds := make([]keyword.Keyword, 0, len(found))
	for _, pk := range found {
		id, err := e.ids.NewID()
		if err != nil {
			return nil, fmt.Errorf("generate keyword id: %w", err)
		}
		comp := competitorID
		text := pk.Keyword
		seeds = append(seeds, keyword.Keyword{
			ID:                id,
			OrganizationID:    orgID,
			WorkflowID:        workflowID,
			CompetitorURLID:   &comp,
			SeedKeyword:       &text,
			Keyword:           pk.Keyword,
			SearchVolume:      pk.SearchVolume,
			CompetitionLevel:  pk.Competition.Level,
			CompetitionIndex:  pk.Competition.Index,
			KeywordDifficulty: pk.KeywordDifficulty,
			CPC:               pk.CPC,
			LongtailStatus:    keyword.StageNotStarted,
			SubtopicsStatus:   keyword.StageNotStarted,
			ArticleStatus:     keyword.StageNotStarted,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	}
	return seeds, nil
}

func competitorID(c keyword.Competitor) string {
	if c.ID != "" {
		return c.ID
	}
	return c.Target()
}
