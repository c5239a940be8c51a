// Package provider is the client for the keyword-data API. It owns the wire
// format and converts every response into canonical keyword.ProviderKeyword
// values, so competition scales never leak past this package.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dvernon0786/Infin8Content-sub000/internal/keyword"
	"github.com/dvernon0786/Infin8Content-sub000/internal/metrics"
	"github.com/dvernon0786/Infin8Content-sub000/internal/policy/ratelimit"
	"github.com/dvernon0786/Infin8Content-sub000/internal/retry"
)

// DefaultBaseURL is the public API host.
const DefaultBaseURL = "https://api.dataforseo.com"

const maxResponseBytes = 16 << 20

// Config controls the provider client.
type Config struct {
	BaseURL  string
	Login    string
	Password string
	// Timeout bounds every single call, including reading the body.
	Timeout time.Duration
	RPS     float64
	Burst   int
}

// Client calls the keyword-data API.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *ratelimit.Limiter
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// New constructs a Client. httpClient and m may be nil.
func New(cfg Config, httpClient *http.Client, m *metrics.Metrics, logger *zap.Logger) (*Client, error) {
	if cfg.Login == "" || cfg.Password == "" {
		return nil, errors.New("provider credentials are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: ratelimit.New(ratelimit.Config{RPS: cfg.RPS, Burst: cfg.Burst}, m.ObserveRateLimitDelay),
		metrics: m,
		logger:  logger.Named("provider"),
		now:     time.Now,
	}, nil
}

type envelope struct {
	StatusCode    int    `json:"status_code"`
	StatusMessage string `json:"status_message"`
	Tasks         []task `json:"tasks"`
}

type task struct {
	StatusCode    int          `json:"status_code"`
	StatusMessage string       `json:"status_message"`
	Result        []taskResult `json:"result"`
}

type taskResult struct {
	Items []item `json:"items"`
}

type keywordInfo struct {
	SearchVolume     *int     `json:"search_volume"`
	Competition      *float64 `json:"competition"`
	CompetitionIndex *float64 `json:"competition_index"`
	CompetitionLevel string   `json:"competition_level"`
	CPC              *float64 `json:"cpc"`
}

type keywordProperties struct {
	KeywordDifficulty *float64 `json:"keyword_difficulty"`
}

type keywordData struct {
	Keyword           string            `json:"keyword"`
	KeywordInfo       keywordInfo       `json:"keyword_info"`
	KeywordProperties keywordProperties `json:"keyword_properties"`
}

// item covers the three item shapes the endpoints return: keyword data
// nested under keyword_data, keyword data at the top level, and bare
// autocomplete suggestions.
type item struct {
	keywordData
	KeywordData *keywordData `json:"keyword_data"`
	Suggestion  string       `json:"suggestion"`
}

func (it item) toProviderKeyword() (keyword.ProviderKeyword, bool) {
	data := it.keywordData
	if it.KeywordData != nil {
		data = *it.KeywordData
	}
	text := strings.TrimSpace(data.Keyword)
	if text == "" {
		text = strings.TrimSpace(it.Suggestion)
	}
	if text == "" {
		return keyword.ProviderKeyword{}, false
	}

	info := data.KeywordInfo
	out := keyword.ProviderKeyword{Keyword: text, CPC: info.CPC}
	if info.SearchVolume != nil && *info.SearchVolume > 0 {
		out.SearchVolume = *info.SearchVolume
	}
	switch {
	case info.CompetitionIndex != nil:
		out.Competition = NormalizeCompetition(*info.CompetitionIndex, ScalePercent, info.CompetitionLevel)
	case info.Competition != nil:
		out.Competition = NormalizeCompetition(*info.Competition, ScaleFraction, info.CompetitionLevel)
	default:
		out.Competition = NormalizeCompetition(0, ScalePercent, info.CompetitionLevel)
	}
	if d := data.KeywordProperties.KeywordDifficulty; d != nil {
		out.KeywordDifficulty = clampPercent(*d)
	}
	return out, true
}

// call posts payload to path and returns the items of the first task.
func (c *Client) call(ctx context.Context, name, path string, payload any) ([]item, error) {
	if err := c.limiter.Wait(ctx, name); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := c.now()
	items, err := c.roundTrip(ctx, name, path, payload)
	outcome := "ok"
	if err != nil {
		outcome = string(retry.Classify(err))
	}
	c.metrics.ObserveProviderCall(name, outcome, c.now().Sub(start))
	return items, err
}

func (c *Client) roundTrip(ctx context.Context, name, path string, payload any) ([]item, error) {
	body, err := json.Marshal([]any{payload})
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", name, err)
	}
	req.SetBasicAuth(c.cfg.Login, c.cfg.Password)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", name, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close response body", zap.Error(cerr))
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			Endpoint:   name,
			StatusCode: resp.StatusCode,
			Message:    snippet(raw),
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), c.now()),
		}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &Error{Endpoint: name, StatusCode: http.StatusBadGateway, Message: "malformed response: " + err.Error()}
	}
	if env.StatusCode != StatusOK {
		return nil, envelopeError(name, env.StatusCode, env.StatusMessage)
	}
	if len(env.Tasks) == 0 {
		return nil, &Error{Endpoint: name, StatusCode: http.StatusBadGateway, Message: "response has no tasks"}
	}
	t := env.Tasks[0]
	if t.StatusCode != StatusOK {
		return nil, envelopeError(name, t.StatusCode, t.StatusMessage)
	}

	var items []item
	for _, r := range t.Result {
		items = append(items, r.Items...)
	}
	return items, nil
}

func envelopeError(name string, code int, msg string) *Error {
	return &Error{Endpoint: name, StatusCode: httpStatusForCode(code), ProviderCode: code, Message: msg}
}

func snippet(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200]
	}
	if s == "" {
		return "empty body"
	}
	return s
}

func convert(items []item) []keyword.ProviderKeyword {
	out := make([]keyword.ProviderKeyword, 0, len(items))
	for _, it := range items {
		if pk, ok := it.toProviderKeyword(); ok {
			out = append(out, pk)
		}
	}
	return out
}
