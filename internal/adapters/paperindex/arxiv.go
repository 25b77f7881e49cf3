// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package paperindex

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	scholarerrors "github.com/pdiddy/scholarqa-engine/internal/errors"
	"github.com/pdiddy/scholarqa-engine/pkg/types"
)

// arxivAPIBase is the arXiv search endpoint, a var so tests can substitute
// an httptest server.
var arxivAPIBase = "https://export.arxiv.org/api/query"

// ArxivBackend is a KeywordSearch-only secondary Backend. It has no
// snippet index and no batch metadata endpoint, so SnippetSearch and
// FetchMetadata are unsupported: callers are expected to consult
// Adapter.Secondary only for keyword search, never use ArxivBackend as a
// Primary.
type ArxivBackend struct {
	Client *http.Client
}

func (b *ArxivBackend) Name() string { return "arxiv" }

func (b *ArxivBackend) client() *http.Client {
	if b.Client != nil {
		return b.Client
	}
	return http.DefaultClient
}

// SnippetSearch is unsupported on arXiv; it has no passage-level index.
func (b *ArxivBackend) SnippetSearch(ctx context.Context, query string, filters types.Filters, limit int) ([]types.CandidatePassage, error) {
	return nil, fmt.Errorf("arxiv backend: %w", scholarerrors.ErrRetrievalUnavailable)
}

// FetchMetadata is unsupported on arXiv; callers resolve metadata through
// the primary backend only.
func (b *ArxivBackend) FetchMetadata(ctx context.Context, corpusIDs []string) (map[string]types.PaperRecord, error) {
	return nil, fmt.Errorf("arxiv backend: %w", scholarerrors.ErrRetrievalUnavailable)
}

// KeywordSearch queries the arXiv Atom-feed API and decodes each entry
// into a PaperRecord.
func (b *ArxivBackend) KeywordSearch(ctx context.Context, keywordQuery string, filters types.Filters, limit int) ([]types.PaperRecord, error) {
	terms := strings.Fields(keywordQuery)
	if len(terms) == 0 {
		return nil, fmt.Errorf("empty arXiv query")
	}
	q := "all:" + strings.Join(terms, "+")

	if limit <= 0 {
		limit = 20
	}
	reqURL := fmt.Sprintf("%s?search_query=%s&start=0&max_results=%d&sortBy=relevance&sortOrder=descending",
		arxivAPIBase, q, limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating arXiv request: %w", err)
	}
	req.Header.Set("User-Agent", "scholarqa-engine")

	resp, err := b.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("arXiv API request: %w", err)
	}
	defer resp.Body.Close()

	if err := statusErr(resp.StatusCode); err != nil {
		return nil, err
	}

	var feed arxivFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("parsing arXiv response: %w", err)
	}

	records := make([]types.PaperRecord, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		arxivID := extractArxivID(entry.ID)
		if arxivID == "" {
			continue
		}

		rec := types.PaperRecord{
			CorpusID: arxivID,
			Title:    strings.TrimSpace(entry.Title),
			Abstract: strings.TrimSpace(entry.Summary),
		}
		for _, a := range entry.Authors {
			rec.Authors = append(rec.Authors, types.Author{Name: strings.TrimSpace(a.Name)})
		}
		if t, parseErr := time.Parse(time.RFC3339, entry.Published); parseErr == nil {
			rec.Year = t.Year()
		}
		if filters.YearRange != nil && !filters.YearRange.Contains(rec.Year) {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

type arxivFeed struct {
	Entries []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	ID        string        `xml:"id"`
	Title     string        `xml:"title"`
	Summary   string        `xml:"summary"`
	Published string        `xml:"published"`
	Authors   []arxivAuthor `xml:"author"`
}

type arxivAuthor struct {
	Name string `xml:"name"`
}

// extractArxivID pulls the arXiv ID from the entry's <id> URL
// (e.g. "http://arxiv.org/abs/2301.07041v1" -> "2301.07041").
func extractArxivID(idURL string) string {
	const prefix = "/abs/"
	idx := strings.Index(idURL, prefix)
	if idx < 0 {
		return ""
	}
	id := idURL[idx+len(prefix):]

	if vIdx := strings.LastIndex(id, "v"); vIdx > 0 {
		if _, err := strconv.Atoi(id[vIdx+1:]); err == nil {
			id = id[:vIdx]
		}
	}
	return id
}
