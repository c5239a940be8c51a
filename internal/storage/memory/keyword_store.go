// Package memory provides in-memory stores for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvernon0786/Infin8Content-sub000/internal/keyword"
	"github.com/dvernon0786/Infin8Content-sub000/internal/store"
)

// KeywordStore keeps keyword rows per workflow in insertion order.
type KeywordStore struct {
	mu   sync.RWMutex
	rows map[string][]keyword.Keyword
}

// NewKeywordStore constructs a KeywordStore.
func NewKeywordStore() *KeywordStore {
	return &KeywordStore{rows: make(map[string][]keyword.Keyword)}
}

var _ store.KeywordRepository = (*KeywordStore)(nil)

// ReplaceSeedKeywords drops the competitor's seeds (and their longtails) and
// appends the new seeds.
func (s *KeywordStore) ReplaceSeedKeywords(
	_ context.Context,
	orgID, workflowID, competitorID string,
	seeds []keyword.Keyword,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make(map[string]struct{})
	kept := make([]keyword.Keyword, 0, len(s.rows[workflowID]))
	for _, row := range s.rows[workflowID] {
		if row.OrganizationID == orgID && row.IsSeed() && row.CompetitorURLID != nil && *row.CompetitorURLID == competitorID {
			removed[row.ID] = struct{}{}
			continue
		}
		kept = append(kept, row)
	}
	out := kept[:0]
	for _, row := range kept {
		if row.ParentSeedKeywordID != nil {
			if _, gone := removed[*row.ParentSeedKeywordID]; gone {
				continue
			}
		}
		out = append(out, row)
	}
	for _, seed := range seeds {
		out = append(out, cloneKeyword(seed))
	}
	s.rows[workflowID] = out
	return nil
}

// ListSeedsPendingExpansion returns seeds not yet expanded.
func (s *KeywordStore) ListSeedsPendingExpansion(_ context.Context, workflowID string) ([]keyword.Keyword, error) {
	return s.list(workflowID, func(k keyword.Keyword) bool {
		return k.IsSeed() && k.LongtailStatus != keyword.StageCompleted
	}), nil
}

// ReplaceLongtails swaps the seed's longtails and marks the seed completed.
func (s *KeywordStore) ReplaceLongtails(_ context.Context, seed keyword.Keyword, longtails []keyword.Keyword, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.rows[seed.WorkflowID]
	found := false
	out := make([]keyword.Keyword, 0, len(rows)+len(longtails))
	for _, row := range rows {
		if row.ParentSeedKeywordID != nil && *row.ParentSeedKeywordID == seed.ID {
			continue
		}
		if row.ID == seed.ID {
			found = true
			row.LongtailStatus = keyword.StageCompleted
			row.UpdatedAt = at
		}
		out = append(out, row)
	}
	if !found {
		return fmt.Errorf("seed %s: %w", seed.ID, store.ErrNotFound)
	}
	for _, lt := range longtails {
		out = append(out, cloneKeyword(lt))
	}
	s.rows[seed.WorkflowID] = out
	return nil
}

// ListKeywords returns every row of the workflow owned by orgID.
func (s *KeywordStore) ListKeywords(_ context.Context, orgID, workflowID string) ([]keyword.Keyword, error) {
	return s.list(workflowID, func(k keyword.Keyword) bool {
		return k.OrganizationID == orgID
	}), nil
}

// ListActiveKeywords returns rows that survived filtering.
func (s *KeywordStore) ListActiveKeywords(_ context.Context, workflowID string) ([]keyword.Keyword, error) {
	return s.list(workflowID, func(k keyword.Keyword) bool {
		return !k.IsFilteredOut
	}), nil
}

// ApplyFilterResults writes filter outcomes onto matching rows.
func (s *KeywordStore) ApplyFilterResults(
	_ context.Context,
	orgID, workflowID string,
	updates []keyword.FilterUpdate,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := make(map[string]keyword.FilterUpdate, len(updates))
	for _, u := range updates {
		byID[u.KeywordID] = u
	}
	rows := s.rows[workflowID]
	for i, row := range rows {
		u, ok := byID[row.ID]
		if !ok || row.OrganizationID != orgID {
			continue
		}
		row.IsFilteredOut = u.IsFilteredOut
		row.FilteredReason = u.Reason
		row.FilteredAt = nil
		if u.FilteredAt != nil {
			at := *u.FilteredAt
			row.FilteredAt = &at
		}
		rows[i] = row
	}
	return nil
}

func (s *KeywordStore) list(workflowID string, keep func(keyword.Keyword) bool) []keyword.Keyword {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []keyword.Keyword
	for _, row := range s.rows[workflowID] {
		if keep(row) {
			out = append(out, cloneKeyword(row))
		}
	}
	return out
}

func cloneKeyword(k keyword.Keyword) keyword.Keyword {
	k.CompetitorURLID = cloneString(k.CompetitorURLID)
	k.SeedKeyword = cloneString(k.SeedKeyword)
	k.ParentSeedKeywordID = cloneString(k.ParentSeedKeywordID)
	if k.CPC != nil {
		v := *k.CPC
		k.CPC = &v
	}
	if k.FilteredAt != nil {
		v := *k.FilteredAt
		k.FilteredAt = &v
	}
	return k
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
