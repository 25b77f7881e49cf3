// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package paperindex implements the Paper Index Adapter: snippet search,
// keyword search and batch metadata lookup against a remote paper index.
package paperindex

import (
	"context"

	"github.com/pdiddy/scholarqa-engine/pkg/types"
)

// Backend is one remote paper index implementation. A Backend need not
// implement every operation: KeywordSearch-only backends (e.g. arXiv)
// return an error wrapping ErrRetrievalUnavailable from SnippetSearch.
type Backend interface {
	Name() string
	SnippetSearch(ctx context.Context, query string, filters types.Filters, limit int) ([]types.CandidatePassage, error)
	KeywordSearch(ctx context.Context, keywordQuery string, filters types.Filters, limit int) ([]types.PaperRecord, error)
	FetchMetadata(ctx context.Context, corpusIDs []string) (map[string]types.PaperRecord, error)
}

// Adapter is the Paper Finder's view of the Paper Index Adapter: a
// primary backend (Semantic Scholar) plus an optional secondary backend
// consulted for keyword search only when the primary yields nothing.
type Adapter struct {
	Primary   Backend
	Secondary Backend // optional; nil disables secondary keyword search
}

// SnippetSearch hits the passage-level search endpoint on the primary
// backend; snippet search has no secondary fallback, so a permanent
// failure here fails the Paper Finder stage rather than degrading to
// another backend.
func (a *Adapter) SnippetSearch(ctx context.Context, query string, filters types.Filters, limit int) ([]types.CandidatePassage, error) {
	return a.Primary.SnippetSearch(ctx, query, filters, limit)
}

// KeywordSearch hits the primary backend, and if it returns zero results
// and a secondary backend is configured, returns the secondary's results
// in their place. A secondary failure yields the primary's empty result.
func (a *Adapter) KeywordSearch(ctx context.Context, keywordQuery string, filters types.Filters, limit int) ([]types.PaperRecord, error) {
	primary, err := a.Primary.KeywordSearch(ctx, keywordQuery, filters, limit)
	if err != nil {
		return nil, err
	}
	if len(primary) > 0 || a.Secondary == nil {
		return primary, nil
	}
	secondary, err := a.Secondary.KeywordSearch(ctx, keywordQuery, filters, limit)
	if err != nil {
		return primary, nil // secondary is best-effort only
	}
	return secondary, nil
}

// FetchMetadata batch-fetches paper metadata from the primary backend.
func (a *Adapter) FetchMetadata(ctx context.Context, corpusIDs []string) (map[string]types.PaperRecord, error) {
	return a.Primary.FetchMetadata(ctx, corpusIDs)
}
