package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dvernon0786/Infin8Content-sub000/internal/keyword"
	"github.com/dvernon0786/Infin8Content-sub000/internal/store"
)

var keywordColumns = []string{
	"id",
	"organization_id",
	"workflow_id",
	"competitor_url_id",
	"seed_keyword",
	"keyword",
	"search_volume",
	"competition_level",
	"competition_index",
	"keyword_difficulty",
	"cpc",
	"parent_seed_keyword_id",
	"longtail_status",
	"subtopics_status",
	"article_status",
	"is_filtered_out",
	"filtered_reason",
	"filtered_at",
	"created_at",
	"updated_at",
}

// KeywordStore persists keyword rows in the keywords table.
type KeywordStore struct {
	db DB
}

var _ store.KeywordRepository = (*KeywordStore)(nil)

// NewKeywordStore wraps db.
func NewKeywordStore(db DB) (*KeywordStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &KeywordStore{db: db}, nil
}

// ReplaceSeedKeywords deletes the competitor's seeds, which cascades to their
// longtails and clusters, and inserts seeds in one transaction.
func (s *KeywordStore) ReplaceSeedKeywords(
	ctx context.Context,
	orgID, workflowID, competitorID string,
	seeds []keyword.Keyword,
) error {
	return inTx(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
DELETE FROM keywords
WHERE organization_id = $1
  AND workflow_id = $2
  AND competitor_url_id = $3
  AND parent_seed_keyword_id IS NULL`, orgID, workflowID, competitorID)
		if err != nil {
			return fmt.Errorf("delete seeds: %w", err)
		}
		return insertKeywords(ctx, tx, seeds)
	})
}

// ListSeedsPendingExpansion returns seeds whose longtails are not completed.
func (s *KeywordStore) ListSeedsPendingExpansion(ctx context.Context, workflowID string) ([]keyword.Keyword, error) {
	return s.query(ctx, psql.Select(keywordColumns...).From("keywords").
		Where("workflow_id = ?", workflowID).
		Where("parent_seed_keyword_id IS NULL").
		Where("longtail_status <> ?", string(keyword.StageCompleted)).
		OrderBy("created_at", "id"))
}

// ReplaceLongtails swaps the seed's longtails and marks the seed completed in
// one transaction.
func (s *KeywordStore) ReplaceLongtails(ctx context.Context, seed keyword.Keyword, longtails []keyword.Keyword, at time.Time) error {
	return inTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM keywords WHERE workflow_id = $1 AND parent_seed_keyword_id = $2`,
			seed.WorkflowID, seed.ID,
		); err != nil {
			return fmt.Errorf("delete longtails: %w", err)
		}
		if err := insertKeywords(ctx, tx, longtails); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
UPDATE keywords
SET longtail_status = $1, updated_at = $4
WHERE id = $2 AND workflow_id = $3`, string(keyword.StageCompleted), seed.ID, seed.WorkflowID, at)
		if err != nil {
			return fmt.Errorf("mark seed expanded: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("seed %s: %w", seed.ID, store.ErrNotFound)
		}
		return nil
	})
}

// ListKeywords returns every row of the workflow owned by orgID.
func (s *KeywordStore) ListKeywords(ctx context.Context, orgID, workflowID string) ([]keyword.Keyword, error) {
	return s.query(ctx, psql.Select(keywordColumns...).From("keywords").
		Where("organization_id = ? AND workflow_id = ?", orgID, workflowID).
		OrderBy("created_at", "id"))
}

// ListActiveKeywords returns rows that survived filtering.
func (s *KeywordStore) ListActiveKeywords(ctx context.Context, workflowID string) ([]keyword.Keyword, error) {
	return s.query(ctx, psql.Select(keywordColumns...).From("keywords").
		Where("workflow_id = ?", workflowID).
		Where("NOT is_filtered_out").
		OrderBy("created_at", "id"))
}

// ApplyFilterResults writes every update in a single statement.
func (s *KeywordStore) ApplyFilterResults(
	ctx context.Context,
	orgID, workflowID string,
	updates []keyword.FilterUpdate,
) error {
	if len(updates) == 0 {
		return nil
	}
	ids := make([]string, len(updates))
	filtered := make([]bool, len(updates))
	reasons := make([]string, len(updates))
	ats := make([]*time.Time, len(updates))
	for i, u := range updates {
		ids[i] = u.KeywordID
		filtered[i] = u.IsFilteredOut
		reasons[i] = string(u.Reason)
		ats[i] = u.FilteredAt
	}
	_, err := s.db.Exec(ctx, `
UPDATE keywords AS k
SET is_filtered_out = v.is_filtered_out,
    filtered_reason = NULLIF(v.reason, ''),
    filtered_at     = CASE WHEN v.is_filtered_out THEN v.filtered_at END,
    updated_at      = now()
FROM unnest($1::text[], $2::bool[], $3::text[], $4::timestamptz[])
     AS v(id, is_filtered_out, reason, filtered_at)
WHERE k.id = v.id
  AND k.organization_id = $5
  AND k.workflow_id = $6`, ids, filtered, reasons, ats, orgID, workflowID)
	if err != nil {
		return fmt.Errorf("apply filter results: %w", err)
	}
	return nil
}

func (s *KeywordStore) query(ctx context.Context, b sqSelect) ([]keyword.Keyword, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build keyword query: %w", err)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query keywords: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanKeyword)
	if err != nil {
		return nil, fmt.Errorf("scan keywords: %w", err)
	}
	return out, nil
}

func insertKeywords(ctx context.Context, tx pgx.Tx, rows []keyword.Keyword) error {
	if len(rows) == 0 {
		return nil
	}
	b := psql.Insert("keywords").Columns(keywordColumns...)
	for _, k := range rows {
		var reason *string
		if k.FilteredReason != keyword.FilterReasonNone {
			r := string(k.FilteredReason)
			reason = &r
		}
		b = b.Values(
			k.ID,
			k.OrganizationID,
			k.WorkflowID,
			k.CompetitorURLID,
			k.SeedKeyword,
			k.Keyword,
			k.SearchVolume,
			string(k.CompetitionLevel),
			k.CompetitionIndex,
			k.KeywordDifficulty,
			k.CPC,
			k.ParentSeedKeywordID,
			string(k.LongtailStatus),
			string(k.SubtopicsStatus),
			string(k.ArticleStatus),
			k.IsFilteredOut,
			reason,
			k.FilteredAt,
			k.CreatedAt,
			k.UpdatedAt,
		)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build keyword insert: %w", err)
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert keywords: %w", err)
	}
	return nil
}

func scanKeyword(row pgx.CollectableRow) (keyword.Keyword, error) {
	var (
		k                                   keyword.Keyword
		level, longtail, subtopics, article string
		reason                              *string
	)
	err := row.Scan(
		&k.ID,
		&k.OrganizationID,
		&k.WorkflowID,
		&k.CompetitorURLID,
		&k.SeedKeyword,
		&k.Keyword,
		&k.SearchVolume,
		&level,
		&k.CompetitionIndex,
		&k.KeywordDifficulty,
		&k.CPC,
		&k.ParentSeedKeywordID,
		&longtail,
		&subtopics,
		&article,
		&k.IsFilteredOut,
		&reason,
		&k.FilteredAt,
		&k.CreatedAt,
		&k.UpdatedAt,
	)
	if err != nil {
		return keyword.Keyword{}, err
	}
	k.CompetitionLevel = keyword.CompetitionLevel(level)
	k.LongtailStatus = keyword.StageStatus(longtail)
	k.SubtopicsStatus = keyword.StageStatus(subtopics)
	k.ArticleStatus = keyword.StageStatus(article)
	if reason != nil {
		k.FilteredReason = keyword.FilterReason(*reason)
	}
	return k, nil
}
