package provider

import (
	"context"
	"errors"
	"net/http"

	"github.com/dvernon0786/Infin8Content-sub000/internal/keyword"
)

// Endpoint names, used for throttling buckets, metrics and source names.
const (
	EndpointRankedKeywords     = "ranked_keywords"
	EndpointRelatedKeywords    = "related_keywords"
	EndpointKeywordSuggestions = "keyword_suggestions"
	EndpointKeywordIdeas       = "keyword_ideas"
	EndpointAutocomplete       = "autocomplete"
)

const (
	pathRankedKeywords     = "/v3/dataforseo_labs/google/ranked_keywords/live"
	pathRelatedKeywords    = "/v3/dataforseo_labs/google/related_keywords/live"
	pathKeywordSuggestions = "/v3/dataforseo_labs/google/keyword_suggestions/live"
	pathKeywordIdeas       = "/v3/dataforseo_labs/google/keyword_ideas/live"
	pathAutocomplete       = "/v3/serp/google/autocomplete/live/advanced"
)

var _ keyword.SeedProvider = (*Client)(nil)

// RankedKeywords returns the keywords req.Target ranks for, highest volume first.
func (c *Client) RankedKeywords(ctx context.Context, req keyword.ProviderRequest) ([]keyword.ProviderKeyword, error) {
	if req.Target == "" {
		return nil, &Error{Endpoint: EndpointRankedKeywords, StatusCode: http.StatusUnprocessableEntity, Message: "target is required"}
	}
	payload := map[string]any{
		"target":        req.Target,
		"location_code": req.LocationCode,
		"language_code": req.LanguageCode,
		"order_by":      []string{"keyword_data.keyword_info.search_volume,desc"},
	}
	if req.Limit > 0 {
		payload["limit"] = req.Limit
	}
	items, err := c.call(ctx, EndpointRankedKeywords, pathRankedKeywords, payload)
	if err != nil {
		return nil, err
	}
	return convert(items), nil
}

// source is one discovery endpoint bound to a client.
type source struct {
	client  *Client
	name    string
	path    string
	payload func(keyword.ProviderRequest) map[string]any
}

var _ keyword.DiscoverySource = source{}

// Name implements keyword.DiscoverySource.
func (s source) Name() string {
	return s.name
}

// Discover implements keyword.DiscoverySource.
func (s source) Discover(ctx context.Context, req keyword.ProviderRequest) ([]keyword.ProviderKeyword, error) {
	if req.Keyword == "" {
		return nil, errors.New("validation: keyword is required")
	}
	body := s.payload(req)
	body["location_code"] = req.LocationCode
	body["language_code"] = req.LanguageCode
	items, err := s.client.call(ctx, s.name, s.path, body)
	if err != nil {
		return nil, err
	}
	return convert(items), nil
}

// DiscoverySources returns the four longtail discovery sources in merge
// order: related keywords, keyword suggestions, keyword ideas, autocomplete.
func (c *Client) DiscoverySources() []keyword.DiscoverySource {
	withLimit := func(body map[string]any, limit int) map[string]any {
		if limit > 0 {
			body["limit"] = limit
		}
		return body
	}
	return []keyword.DiscoverySource{
		source{client: c, name: EndpointRelatedKeywords, path: pathRelatedKeywords,
			payload: func(r keyword.ProviderRequest) map[string]any {
				return withLimit(map[string]any{"keyword": r.Keyword, "depth": 1}, r.Limit)
			}},
		source{client: c, name: EndpointKeywordSuggestions, path: pathKeywordSuggestions,
			payload: func(r keyword.ProviderRequest) map[string]any {
				return withLimit(map[string]any{"keyword": r.Keyword}, r.Limit)
			}},
		source{client: c, name: EndpointKeywordIdeas, path: pathKeywordIdeas,
			payload: func(r keyword.ProviderRequest) map[string]any {
				return withLimit(map[string]any{"keywords": []string{r.Keyword}}, r.Limit)
			}},
		source{client: c, name: EndpointAutocomplete, path: pathAutocomplete,
			payload: func(r keyword.ProviderRequest) map[string]any {
				return map[string]any{"keyword": r.Keyword}
			}},
	}
}
