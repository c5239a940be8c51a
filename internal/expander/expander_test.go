package expander

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dvernon0786/Infin8Content-sub000/internal/keyword"
	"github.com/dvernon0786/Infin8Content-sub000/internal/retry"
	"github.com/dvernon0786/Infin8Content-sub000/internal/storage/memory"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqIDs struct{ n atomic.Int64 }

func (g *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("lt-%03d", g.n.Add(1)), nil
}

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) HTTPStatus() int { return int(e) }

type fakeSource struct {
	name    string
	results func(seed string) []keyword.ProviderKeyword
	err     error
	calls   atomic.Int64
	gate    func()
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Discover(_ context.Context, req keyword.ProviderRequest) ([]keyword.ProviderKeyword, error) {
	s.calls.Add(1)
	if s.gate != nil {
		s.gate()
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.results(req.Keyword), nil
}

func pk(text string, volume int) keyword.ProviderKeyword {
	return keyword.ProviderKeyword{Keyword: text, SearchVolume: volume, Competition: keyword.CompetitionMetric{Level: keyword.CompetitionLow}}
}

func seedStore(t *testing.T, texts ...string) *memory.KeywordStore {
	t.Helper()
	kws := memory.NewKeywordStore()
	comp := "comp-1"
	seeds := make([]keyword.Keyword, 0, len(texts))
	for i, text := range texts {
		text := text
		seeds = append(seeds, keyword.Keyword{
			ID:              fmt.Sprintf("seed-%d", i),
			OrganizationID:  "org",
			WorkflowID:      "wf",
			CompetitorURLID: &comp,
			SeedKeyword:     &text,
			Keyword:         text,
			SearchVolume:    1000,
			LongtailStatus:  keyword.StageNotStarted,
		})
	}
	require.NoError(t, kws.ReplaceSeedKeywords(context.Background(), "org", "wf", comp, seeds))
	return kws
}

func suffixes(sfx ...string) func(string) []keyword.ProviderKeyword {
	return func(seed string) []keyword.ProviderKeyword {
		out := make([]keyword.ProviderKeyword, 0, len(sfx))
		for i, s := range sfx {
			out = append(out, pk(seed+" "+s, 100+i))
		}
		return out
	}
}

var noSleep = retry.WithSleep(func(context.Context, time.Duration) error { return nil })

func testOptions() Options {
	opts := DefaultOptions()
	opts.RetryOptions = []retry.Option{noSleep}
	return opts
}

func TestMergeLongtails(t *testing.T) {
	t.Parallel()

	perSource := [][]keyword.ProviderKeyword{
		{pk("seo tools free", 10), pk("SEO tools", 999), pk("seo tools list", 40)},
		{pk("seo-tools free!", 500), pk("seo tools online", 40)},
		nil,
		{pk("seo tools 2025", 0)},
	}
	got := MergeLongtails("seo tools", perSource, 12)
	texts := make([]string, 0, len(got))
	for _, k := range got {
		texts = append(texts, k.Keyword)
	}
	// The first occurrence wins even when a later source reports more volume.
	require.Equal(t, []string{"seo tools list", "seo tools online", "seo tools free", "seo tools 2025"}, texts)

	many := make([]keyword.ProviderKeyword, 0, 20)
	for i := range 20 {
		many = append(many, pk(fmt.Sprintf("kw %d", i), i))
	}
	capped := MergeLongtails("seed", [][]keyword.ProviderKeyword{many}, MaxLongtailsPerSeed)
	require.Len(t, capped, MaxLongtailsPerSeed)
	require.Equal(t, "kw 19", capped[0].Keyword)
}

func TestExpandIsolatesSourceFailures(t *testing.T) {
	t.Parallel()

	kws := seedStore(t, "seo tools", "link building")
	failing := &fakeSource{name: "keyword_ideas", err: statusErr(401)}
	sources := []keyword.DiscoverySource{
		&fakeSource{name: "related_keywords", results: suffixes("free", "list")},
		&fakeSource{name: "keyword_suggestions", results: suffixes("online", "free")},
		failing,
		&fakeSource{name: "autocomplete", results: suffixes("for beginners")},
	}
	ex := New(sources, kws, &seqIDs{}, fixedClock{t: time.Unix(0, 0)}, nil)

	summary, err := ex.ExpandSeedKeywordsToLongtails(context.Background(), "wf", testOptions())
	require.NoError(t, err)
	require.Equal(t, 2, summary.SeedsExpanded)
	require.Equal(t, 8, summary.LongtailsCreated)
	require.EqualValues(t, 2, failing.calls.Load(), "auth failures are not retried")
	for _, s := range summary.Seeds {
		require.Equal(t, 3, s.SourcesSucceeded)
		require.Len(t, s.Sources, 4)
		require.NotEmpty(t, s.Sources[2].Error)
	}

	rows, err := kws.ListKeywords(context.Background(), "org", "wf")
	require.NoError(t, err)
	require.Len(t, rows, 10)
	for _, r := range rows {
		if r.IsSeed() {
			require.Equal(t, keyword.StageCompleted, r.LongtailStatus)
			continue
		}
		require.NotNil(t, r.ParentSeedKeywordID)
		require.Equal(t, "comp-1", *r.CompetitorURLID)
		require.Contains(t, r.Keyword, *r.SeedKeyword)
	}

	pending, err := kws.ListSeedsPendingExpansion(context.Background(), "wf")
	require.NoError(t, err)
	require.Empty(t, pending)

	again, err := ex.ExpandSeedKeywordsToLongtails(context.Background(), "wf", testOptions())
	require.NoError(t, err)
	require.Zero(t, again.SeedsProcessed)
}

func TestExpandMarksSeedCompletedWhenAllSourcesFail(t *testing.T) {
	t.Parallel()

	kws := seedStore(t, "seo tools")
	down := errors.New("status 400")
	sources := []keyword.DiscoverySource{
		&fakeSource{name: "a", err: down},
		&fakeSource{name: "b", err: down},
		&fakeSource{name: "c", err: down},
		&fakeSource{name: "d", err: down},
	}
	ex := New(sources, kws, &seqIDs{}, fixedClock{t: time.Unix(0, 0)}, nil)

	summary, err := ex.ExpandSeedKeywordsToLongtails(context.Background(), "wf", testOptions())
	require.NoError(t, err)
	require.Len(t, summary.Seeds, 1)
	require.Zero(t, summary.Seeds[0].SourcesSucceeded)
	require.Zero(t, summary.Seeds[0].LongtailsCreated)

	pending, err := kws.ListSeedsPendingExpansion(context.Background(), "wf")
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestExpandLeavesSeedPendingWhenCancelledMidDiscovery(t *testing.T) {
	t.Parallel()

	kws := seedStore(t, "seo tools")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sources := []keyword.DiscoverySource{
		&fakeSource{name: "related_keywords", results: suffixes("free")},
		&fakeSource{name: "keyword_ideas", err: statusErr(503), gate: cancel},
	}
	ex := New(sources, kws, &seqIDs{}, fixedClock{t: time.Unix(0, 0)}, nil)

	summary, err := ex.ExpandSeedKeywordsToLongtails(ctx, "wf", testOptions())
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, summary.SeedsExpanded)
	require.Equal(t, 1, summary.SeedsFailed)

	pending, err := kws.ListSeedsPendingExpansion(context.Background(), "wf")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	rows, err := kws.ListKeywords(context.Background(), "org", "wf")
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestExpandRunsSourcesConcurrently(t *testing.T) {
	t.Parallel()

	var started sync.WaitGroup
	started.Add(4)
	all := make(chan struct{})
	go func() {
		started.Wait()
		close(all)
	}()
	gate := func() {
		started.Done()
		select {
		case <-all:
		case <-time.After(2 * time.Second):
		}
	}

	kws := seedStore(t, "seo tools")
	var sources []keyword.DiscoverySource
	var fakes []*fakeSource
	for _, name := range []string{"a", "b", "c", "d"} {
		f := &fakeSource{name: name, results: suffixes(name), gate: gate}
		fakes = append(fakes, f)
		sources = append(sources, f)
	}
	ex := New(sources, kws, &seqIDs{}, fixedClock{t: time.Unix(0, 0)}, nil)

	start := time.Now()
	summary, err := ex.ExpandSeedKeywordsToLongtails(context.Background(), "wf", testOptions())
	require.NoError(t, err)
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, 4, summary.Seeds[0].SourcesSucceeded)
	for _, f := range fakes {
		require.EqualValues(t, 1, f.calls.Load())
	}
}

type brokenStore struct {
	*memory.KeywordStore
}

func (brokenStore) ReplaceLongtails(context.Context, keyword.Keyword, []keyword.Keyword, time.Time) error {
	return errors.New("connection refused")
}

func TestExpandFailsWhenNoSeedPersisted(t *testing.T) {
	t.Parallel()

	kws := brokenStore{KeywordStore: seedStore(t, "seo tools", "link building")}
	sources := []keyword.DiscoverySource{&fakeSource{name: "a", results: suffixes("free")}}
	ex := New(sources, kws, &seqIDs{}, fixedClock{t: time.Unix(0, 0)}, nil)

	summary, err := ex.ExpandSeedKeywordsToLongtails(context.Background(), "wf", testOptions())
	require.ErrorIs(t, err, ErrNoSeeds)
	require.Equal(t, 2, summary.SeedsFailed)
	require.Contains(t, summary.Seeds[0].Error, "connection refused")
}

func TestExpandWithNoPendingSeeds(t *testing.T) {
	t.Parallel()

	ex := New(nil, memory.NewKeywordStore(), &seqIDs{}, fixedClock{t: time.Unix(0, 0)}, nil)
	summary, err := ex.ExpandSeedKeywordsToLongtails(context.Background(), "wf", testOptions())
	require.NoError(t, err)
	require.Zero(t, summary.SeedsProcessed)
}
