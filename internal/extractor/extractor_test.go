package extractor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dvernon0786/Infin8Content-sub000/internal/keyword"
	"github.com/dvernon0786/Infin8Content-sub000/internal/retry"
	"github.com/dvernon0786/Infin8Content-sub000/internal/storage/memory"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("kw-%03d", g.n), nil
}

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) HTTPStatus() int { return int(e) }

// fakeProvider answers per target; errs are returned in order before results.
type fakeProvider struct {
	mu      sync.Mutex
	results map[string][]keyword.ProviderKeyword
	errs    map[string][]error
	delay   map[string]time.Duration
	calls   map[string]int
}

func (p *fakeProvider) RankedKeywords(ctx context.Context, req keyword.ProviderRequest) ([]keyword.ProviderKeyword, error) {
	p.mu.Lock()
	if p.calls == nil {
		p.calls = map[string]int{}
	}
	p.calls[req.Target]++
	var err error
	if queue := p.errs[req.Target]; len(queue) > 0 {
		err = queue[0]
		p.errs[req.Target] = queue[1:]
	}
	delay := p.delay[req.Target]
	p.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return p.results[req.Target], nil
}

func (p *fakeProvider) callCount(target string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[target]
}

func kw(text string, volume int) keyword.ProviderKeyword {
	return keyword.ProviderKeyword{
		Keyword:      text,
		SearchVolume: volume,
		Competition:  keyword.CompetitionMetric{Index: 40, Level: keyword.CompetitionMedium},
	}
}

var noSleep = retry.WithSleep(func(context.Context, time.Duration) error { return nil })

func newExtractor(p keyword.SeedProvider, kws *memory.KeywordStore) *Extractor {
	return New(p, kws, &seqIDs{}, fixedClock{t: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)}, nil)
}

func TestExtractSortsDedupesAndTruncates(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{results: map[string][]keyword.ProviderKeyword{
		"alpha.com": {kw("seo audit", 300), kw("SEO Audit!", 900), kw("rank tracker", 1200), kw("backlinks", 50)},
	}}
	store := memory.NewKeywordStore()
	ex := newExtractor(provider, store)

	opts := DefaultOptions()
	opts.MaxPerCompetitor = 2
	summary, err := ex.ExtractSeedKeywords(context.Background(),
		[]keyword.Competitor{{ID: "c1", URL: "https://www.alpha.com/blog"}}, "org", "wf", opts)
	require.NoError(t, err)
	require.Equal(t, 1, summary.CompetitorsSucceeded)
	require.Equal(t, 2, summary.SeedsCreated)

	rows, err := store.ListKeywords(context.Background(), "org", "wf")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "rank tracker", rows[0].Keyword)
	require.Equal(t, "SEO Audit!", rows[1].Keyword)
	for _, r := range rows {
		require.True(t, r.IsSeed())
		require.Equal(t, "c1", *r.CompetitorURLID)
		require.Equal(t, r.Keyword, *r.SeedKeyword)
		require.Equal(t, keyword.StageNotStarted, r.LongtailStatus)
		require.Equal(t, keyword.CompetitionMedium, r.CompetitionLevel)
	}

	// A second run replaces instead of appending.
	_, err = ex.ExtractSeedKeywords(context.Background(),
		[]keyword.Competitor{{ID: "c1", URL: "https://www.alpha.com/blog"}}, "org", "wf", opts)
	require.NoError(t, err)
	rows, err = store.ListKeywords(context.Background(), "org", "wf")
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestExtractPartialSuccess(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{
		results: map[string][]keyword.ProviderKeyword{
			"alpha.com": {kw("seo audit", 300)},
			"gamma.com": {kw("link building", 700)},
		},
		errs: map[string][]error{"beta.com": {statusErr(401)}},
	}
	store := memory.NewKeywordStore()
	ex := newExtractor(provider, store)

	opts := DefaultOptions()
	opts.RetryOptions = []retry.Option{noSleep}
	summary, err := ex.ExtractSeedKeywords(context.Background(), []keyword.Competitor{
		{ID: "a", Domain: "alpha.com"},
		{ID: "b", Domain: "beta.com"},
		{ID: "g", Domain: "gamma.com"},
	}, "org", "wf", opts)
	require.NoError(t, err)
	require.Equal(t, 2, summary.CompetitorsSucceeded)
	require.Equal(t, 1, summary.CompetitorsFailed)
	require.Contains(t, summary.Results[1].Error, "status 401")
	require.Equal(t, 1, provider.callCount("beta.com"), "auth errors are not retried")
	require.Equal(t, 2, summary.SeedsCreated)
}

func TestExtractRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{
		results: map[string][]keyword.ProviderKeyword{"alpha.com": {kw("seo audit", 300)}},
		errs:    map[string][]error{"alpha.com": {statusErr(503), statusErr(429)}},
	}
	ex := newExtractor(provider, memory.NewKeywordStore())

	var attempts []retry.Attempt
	opts := DefaultOptions()
	opts.RetryOptions = []retry.Option{noSleep, retry.WithOnRetry(func(_ context.Context, a retry.Attempt) {
		attempts = append(attempts, a)
	})}
	summary, err := ex.ExtractSeedKeywords(context.Background(),
		[]keyword.Competitor{{ID: "a", Domain: "alpha.com"}}, "org", "wf", opts)
	require.NoError(t, err)
	require.Equal(t, 1, summary.SeedsCreated)
	require.Equal(t, 3, provider.callCount("alpha.com"))
	require.Len(t, attempts, 2)
	require.Equal(t, retry.ErrorServer, attempts[0].ErrorType)
	require.Equal(t, retry.ErrorRateLimit, attempts[1].ErrorType)
}

func TestExtractAllFail(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{errs: map[string][]error{
		"alpha.com": {statusErr(400)},
		"beta.com":  {statusErr(422)},
	}}
	ex := newExtractor(provider, memory.NewKeywordStore())

	summary, err := ex.ExtractSeedKeywords(context.Background(), []keyword.Competitor{
		{ID: "a", Domain: "alpha.com"},
		{ID: "b", Domain: "beta.com"},
	}, "org", "wf", DefaultOptions())
	require.ErrorIs(t, err, ErrAllCompetitorsFailed)
	require.Equal(t, 2, summary.CompetitorsFailed)

	_, err = ex.ExtractSeedKeywords(context.Background(), nil, "org", "wf", DefaultOptions())
	require.ErrorIs(t, err, ErrNoCompetitors)
}

func TestExtractBudgetExhaustionKeepsCommittedSeeds(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{
		results: map[string][]keyword.ProviderKeyword{
			"alpha.com": {kw("seo audit", 300)},
			"gamma.com": {kw("link building", 700)},
		},
		delay: map[string]time.Duration{"beta.com": 150 * time.Millisecond},
	}
	store := memory.NewKeywordStore()
	ex := newExtractor(provider, store)

	opts := DefaultOptions()
	opts.Timeout = 60 * time.Millisecond
	summary, err := ex.ExtractSeedKeywords(context.Background(), []keyword.Competitor{
		{ID: "a", Domain: "alpha.com"},
		{ID: "b", Domain: "beta.com"},
		{ID: "g", Domain: "gamma.com"},
	}, "org", "wf", opts)
	require.NoError(t, err)
	require.Equal(t, 1, summary.CompetitorsSucceeded)
	require.Equal(t, 2, summary.CompetitorsFailed)
	require.Equal(t, 2, summary.CompetitorsProcessed)
	require.True(t, summary.Results[2].Skipped)
	require.Zero(t, provider.callCount("gamma.com"))

	rows, err := store.ListKeywords(context.Background(), "org", "wf")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "seo audit", rows[0].Keyword)
}

func TestTopKeywords(t *testing.T) {
	t.Parallel()

	got := TopKeywords([]keyword.ProviderKeyword{kw("b", 10), kw("a", 10), kw("c", 30), kw("!!", 99)}, 5)
	require.Len(t, got, 3)
	require.Equal(t, []string{"c", "b", "a"}, []string{got[0].Keyword, got[1].Keyword, got[2].Keyword})
	require.Empty(t, TopKeywords(nil, 3))
}

func TestCompetitorTarget(t *testing.T) {
	t.Parallel()

	require.Equal(t, "alpha.com", keyword.Competitor{URL: "https://www.Alpha.com/pricing"}.Target())
	require.Equal(t, "alpha.com", keyword.Competitor{URL: "alpha.com/blog"}.Target())
	require.Equal(t, "beta.io", keyword.Competitor{URL: "https://x.com", Domain: "Beta.io"}.Target())
	require.Empty(t, keyword.Competitor{}.Target())
}
