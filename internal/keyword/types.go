// Package keyword defines the core types shared across the keyword pipeline stages.
package keyword

import (
	"net/url"
	"strings"
	"time"
)

// CompetitionLevel is the three-level paid-search competition category.
type CompetitionLevel string

// Competition levels persisted in keywords.competition_level.
const (
	CompetitionLow    CompetitionLevel = "low"
	CompetitionMedium CompetitionLevel = "medium"
	CompetitionHigh   CompetitionLevel = "high"
)

// Valid reports whether the level is one of the canonical values.
func (l CompetitionLevel) Valid() bool {
	switch l {
	case CompetitionLow, CompetitionMedium, CompetitionHigh:
		return true
	default:
		return false
	}
}

// CompetitionMetric is the canonical competition measure: an index on the
// 0-100 scale plus its category. Provider adapters produce it; algorithms only
// ever read it.
type CompetitionMetric struct {
	Index int
	Level CompetitionLevel
}

// StageStatus tracks one downstream stage for a keyword row.
type StageStatus string

// Stage status values shared by longtail_status, subtopics_status and article_status.
const (
	StageNotStarted StageStatus = "not_started"
	StageInProgress StageStatus = "in_progress"
	StageCompleted  StageStatus = "completed"
	StageFailed     StageStatus = "failed"
)

// FilterReason explains why a keyword was filtered out.
type FilterReason string

// Filter reasons persisted in keywords.filtered_reason.
const (
	FilterReasonNone      FilterReason = ""
	FilterReasonDuplicate FilterReason = "duplicate"
	FilterReasonLowVolume FilterReason = "low_volume"
)

// SelectionSource records who picked a hub/spoke edge.
type SelectionSource string

// Selection sources persisted in topic_clusters.selection_source.
const (
	SelectionAI   SelectionSource = "ai"
	SelectionUser SelectionSource = "user"
)

// Keyword is one row of the keywords relation. ParentSeedKeywordID is nil for
// seed rows and points at the seed for longtail rows.
type Keyword struct {
	ID                  string           `json:"id"`
	OrganizationID      string           `json:"organization_id"`
	WorkflowID          string           `json:"workflow_id"`
	CompetitorURLID     *string          `json:"competitor_url_id,omitempty"`
	SeedKeyword         *string          `json:"seed_keyword,omitempty"`
	Keyword             string           `json:"keyword"`
	SearchVolume        int              `json:"search_volume"`
	CompetitionLevel    CompetitionLevel `json:"competition_level"`
	CompetitionIndex    int              `json:"competition_index"`
	KeywordDifficulty   int              `json:"keyword_difficulty"`
	CPC                 *float64         `json:"cpc,omitempty"`
	ParentSeedKeywordID *string          `json:"parent_seed_keyword_id,omitempty"`
	LongtailStatus      StageStatus      `json:"longtail_status"`
	SubtopicsStatus     StageStatus      `json:"subtopics_status"`
	ArticleStatus       StageStatus      `json:"article_status"`
	IsFilteredOut       bool             `json:"is_filtered_out"`
	FilteredReason      FilterReason     `json:"filtered_reason,omitempty"`
	FilteredAt          *time.Time       `json:"filtered_at,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// IsSeed reports whether the row is a seed keyword.
func (k Keyword) IsSeed() bool {
	return k.ParentSeedKeywordID == nil
}

// Competition returns the canonical competition metric stored on the row.
func (k Keyword) Competition() CompetitionMetric {
	return CompetitionMetric{Index: k.CompetitionIndex, Level: k.CompetitionLevel}
}

// FilterUpdate is the persisted outcome of the filter stage for one row.
type FilterUpdate struct {
	KeywordID     string
	IsFilteredOut bool
	Reason        FilterReason
	FilteredAt    *time.Time
}

// TopicCluster is one hub-to-spoke edge.
type TopicCluster struct {
	ID              string          `json:"id"`
	OrganizationID  string          `json:"organization_id"`
	WorkflowID      string          `json:"workflow_id"`
	HubKeywordID    string          `json:"hub_keyword_id"`
	SpokeKeywordID  string          `json:"spoke_keyword_id"`
	SimilarityScore float64         `json:"similarity_score"`
	UserSelected    bool            `json:"user_selected"`
	SelectionSource SelectionSource `json:"selection_source"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ProviderKeyword is a keyword returned by the data provider after
// normalization to canonical scales.
type ProviderKeyword struct {
	Keyword           string
	SearchVolume      int
	Competition       CompetitionMetric
	KeywordDifficulty int
	CPC               *float64
}

// ProviderRequest parameterizes a keyword-data provider call. Target is set
// for domain-level lookups and Keyword for keyword-level discovery.
type ProviderRequest struct {
	Target       string
	Keyword      string
	LocationCode int
	LanguageCode string
	Limit        int
}

// Competitor is a competitor site whose keywords seed a workflow.
type Competitor struct {
	ID     string `yaml:"id" json:"id"`
	URL    string `yaml:"url" json:"url"`
	Domain string `yaml:"domain,omitempty" json:"domain,omitempty"`
}

// Target returns the domain sent to the provider: Domain when set, otherwise
// the URL host without a leading "www.".
func (c Competitor) Target() string {
	if d := strings.TrimSpace(c.Domain); d != "" {
		return strings.ToLower(d)
	}
	raw := strings.TrimSpace(c.URL)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
