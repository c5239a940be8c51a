package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/dvernon0786/Infin8Content-sub000/internal/keyword"
	"github.com/dvernon0786/Infin8Content-sub000/internal/metrics"
	"github.com/dvernon0786/Infin8Content-sub000/internal/retry"
)

const rankedResponse = `{
  "status_code": 20000,
  "status_message": "Ok.",
  "tasks": [{
    "status_code": 20000,
    "status_message": "Ok.",
    "result": [{
      "items": [
        {"keyword_data": {"keyword": "seo tools", "keyword_info": {"search_volume": 12000, "competition": 0.42, "competition_level": "MEDIUM", "cpc": 3.1}, "keyword_properties": {"keyword_difficulty": 71.6}}},
        {"keyword_data": {"keyword": "rank tracker", "keyword_info": {"search_volume": 900, "competition_index": 88}}},
        {"keyword_data": {"keyword": "seo audit", "keyword_info": {"search_volume": 700, "competition_index": 1, "competition_level": "LOW"}}},
        {"keyword_data": {"keyword": "seo checklist", "keyword_info": {"search_volume": 600, "competition_index": 1}}},
        {"keyword_data": {"keyword": "  "}}
      ]
    }]
  }]
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	c, err := New(Config{BaseURL: srv.URL, Login: "user", Password: "secret", Timeout: 2 * time.Second}, srv.Client(), m, nil)
	require.NoError(t, err)
	return c
}

func TestRankedKeywordsDecodesAndNormalizes(t *testing.T) {
	t.Parallel()

	var got []map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "user" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != pathRankedKeywords {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = io.WriteString(w, rankedResponse)
	})

	kws, err := c.RankedKeywords(context.Background(), keyword.ProviderRequest{
		Target: "example.com", LocationCode: 2840, LanguageCode: "en", Limit: 25,
	})
	require.NoError(t, err)
	require.Len(t, kws, 4)

	require.Equal(t, "seo tools", kws[0].Keyword)
	require.Equal(t, 12000, kws[0].SearchVolume)
	require.Equal(t, keyword.CompetitionMetric{Index: 42, Level: keyword.CompetitionMedium}, kws[0].Competition)
	require.Equal(t, 72, kws[0].KeywordDifficulty)
	require.InDelta(t, 3.1, *kws[0].CPC, 1e-9)

	require.Equal(t, keyword.CompetitionMetric{Index: 88, Level: keyword.CompetitionHigh}, kws[1].Competition)
	require.Nil(t, kws[1].CPC)
	require.Equal(t, keyword.CompetitionMetric{Index: 1, Level: keyword.CompetitionLow}, kws[2].Competition)
	require.Equal(t, keyword.CompetitionMetric{Index: 1, Level: keyword.CompetitionLow}, kws[3].Competition)

	require.Len(t, got, 1)
	require.Equal(t, "example.com", got[0]["target"])
	require.EqualValues(t, 2840, got[0]["location_code"])
	require.EqualValues(t, 25, got[0]["limit"])
}

func TestProviderErrorsCarryStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
		wantType   retry.ErrorType
		wantAfter  time.Duration
	}{
		{
			name: "http 429 with retry-after",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Retry-After", "7")
				w.WriteHeader(http.StatusTooManyRequests)
			},
			wantStatus: http.StatusTooManyRequests,
			wantType:   retry.ErrorRateLimit,
			wantAfter:  7 * time.Second,
		},
		{
			name: "envelope rate limit code",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, `{"status_code": 40202, "status_message": "Rate limit per minute exceeded."}`)
			},
			wantStatus: http.StatusTooManyRequests,
			wantType:   retry.ErrorRateLimit,
		},
		{
			name: "task server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, `{"status_code": 20000, "tasks": [{"status_code": 50000, "status_message": "Internal Error."}]}`)
			},
			wantStatus: http.StatusInternalServerError,
			wantType:   retry.ErrorServer,
		},
		{
			name: "task invalid field",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, `{"status_code": 20000, "tasks": [{"status_code": 40501, "status_message": "Invalid Field: 'target'."}]}`)
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantType:   retry.ErrorValidation,
		},
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
			wantStatus: http.StatusUnauthorized,
			wantType:   retry.ErrorAuth,
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, `not json`)
			},
			wantStatus: http.StatusBadGateway,
			wantType:   retry.ErrorServer,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newTestClient(t, tt.handler)
			_, err := c.RankedKeywords(context.Background(), keyword.ProviderRequest{Target: "example.com"})
			require.Error(t, err)

			var perr *Error
			require.True(t, errors.As(err, &perr))
			require.Equal(t, tt.wantStatus, perr.HTTPStatus())
			require.Equal(t, tt.wantType, retry.Classify(err))
			after, ok := perr.RetryAfter()
			require.Equal(t, tt.wantAfter > 0, ok)
			require.Equal(t, tt.wantAfter, after)
		})
	}
}

func TestRetryHonorsProviderHint(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, rankedResponse)
	})

	var slept []time.Duration
	kws, err := retry.Do(context.Background(), retry.DefaultPolicy, "ranked keywords",
		func(ctx context.Context) ([]keyword.ProviderKeyword, error) {
			return c.RankedKeywords(ctx, keyword.ProviderRequest{Target: "example.com"})
		},
		retry.WithSleep(func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		}),
	)
	require.NoError(t, err)
	require.Len(t, kws, 4)
	require.Equal(t, []time.Duration{3 * time.Second}, slept)
	require.EqualValues(t, 2, calls.Load())
}

func TestDiscoverySources(t *testing.T) {
	t.Parallel()

	paths := make(chan string, 4)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		if r.URL.Path == pathAutocomplete {
			_, _ = io.WriteString(w, `{"status_code":20000,"tasks":[{"status_code":20000,"result":[{"items":[{"type":"autocomplete","suggestion":"seo tools free"}]}]}]}`)
			return
		}
		_, _ = io.WriteString(w, `{"status_code":20000,"tasks":[{"status_code":20000,"result":[{"items":[{"keyword":"seo tools list","keyword_info":{"search_volume":300,"competition":0.1}}]}]}]}`)
	})

	sources := c.DiscoverySources()
	require.Len(t, sources, 4)
	names := make([]string, 0, len(sources))
	for _, s := range sources {
		names = append(names, s.Name())
		kws, err := s.Discover(context.Background(), keyword.ProviderRequest{Keyword: "seo tools", LocationCode: 2840, LanguageCode: "en"})
		require.NoError(t, err)
		require.Len(t, kws, 1)
		if s.Name() == EndpointAutocomplete {
			require.Equal(t, "seo tools free", kws[0].Keyword)
			require.Zero(t, kws[0].SearchVolume)
			require.Equal(t, keyword.CompetitionLow, kws[0].Competition.Level)
		} else {
			require.Equal(t, keyword.CompetitionMetric{Index: 10, Level: keyword.CompetitionLow}, kws[0].Competition)
		}
	}
	require.Equal(t, []string{EndpointRelatedKeywords, EndpointKeywordSuggestions, EndpointKeywordIdeas, EndpointAutocomplete}, names)
	close(paths)
	var seen []string
	for p := range paths {
		seen = append(seen, p)
	}
	require.Equal(t, []string{pathRelatedKeywords, pathKeywordSuggestions, pathKeywordIdeas, pathAutocomplete}, seen)
}

func TestNewRequiresCredentials(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil, nil, nil)
	require.Error(t, err)
}

func TestNormalizeCompetition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw   float64
		scale Scale
		level string
		want  keyword.CompetitionMetric
	}{
		{0.5, ScaleFraction, "", keyword.CompetitionMetric{Index: 50, Level: keyword.CompetitionMedium}},
		{0.9, ScaleFraction, "", keyword.CompetitionMetric{Index: 90, Level: keyword.CompetitionHigh}},
		{0.333, ScaleFraction, "", keyword.CompetitionMetric{Index: 33, Level: keyword.CompetitionLow}},
		{1.7, ScaleFraction, "", keyword.CompetitionMetric{Index: 100, Level: keyword.CompetitionHigh}},
		{55, ScalePercent, "", keyword.CompetitionMetric{Index: 55, Level: keyword.CompetitionMedium}},
		{1, ScalePercent, "", keyword.CompetitionMetric{Index: 1, Level: keyword.CompetitionLow}},
		{1, ScalePercent, "LOW", keyword.CompetitionMetric{Index: 1, Level: keyword.CompetitionLow}},
		{0.5, ScalePercent, "", keyword.CompetitionMetric{Index: 1, Level: keyword.CompetitionLow}},
		{0.4, ScalePercent, "", keyword.CompetitionMetric{Index: 0, Level: keyword.CompetitionLow}},
		{12, ScalePercent, "HIGH", keyword.CompetitionMetric{Index: 12, Level: keyword.CompetitionHigh}},
		{250, ScalePercent, "", keyword.CompetitionMetric{Index: 100, Level: keyword.CompetitionHigh}},
		{-3, ScalePercent, "bogus", keyword.CompetitionMetric{Index: 0, Level: keyword.CompetitionLow}},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, NormalizeCompetition(tt.raw, tt.scale, tt.level), "raw=%v scale=%d level=%q", tt.raw, tt.scale, tt.level)
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, 5*time.Second, parseRetryAfter("5", now))
	require.Zero(t, parseRetryAfter("0", now))
	require.Zero(t, parseRetryAfter("soon", now))
	require.Equal(t, 30*time.Second, parseRetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now))
}

func TestHTTPStatusForCode(t *testing.T) {
	t.Parallel()

	require.Equal(t, http.StatusOK, httpStatusForCode(StatusOK))
	require.Equal(t, http.StatusTooManyRequests, httpStatusForCode(40202))
	require.Equal(t, http.StatusUnauthorized, httpStatusForCode(40100))
	require.Equal(t, http.StatusNotFound, httpStatusForCode(40400))
	require.Equal(t, http.StatusServiceUnavailable, httpStatusForCode(50301))
	require.Equal(t, http.StatusBadGateway, httpStatusForCode(7))
}
