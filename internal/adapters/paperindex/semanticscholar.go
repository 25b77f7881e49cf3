// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package paperindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	scholarerrors "github.com/pdiddy/scholarqa-engine/internal/errors"
	"github.com/pdiddy/scholarqa-engine/internal/httputil"
	"github.com/pdiddy/scholarqa-engine/pkg/types"
)

// Package-level vars so tests can substitute httptest servers.
var (
	snippetSearchURL = "https://api.semanticscholar.org/graph/v1/snippet/search"
	paperSearchURL   = "https://api.semanticscholar.org/graph/v1/paper/search"
	paperBatchURL    = "https://api.semanticscholar.org/graph/v1/paper/batch"
)

const metadataFields = "title,abstract,year,venue,authors,citationCount,influentialCitationCount,isOpenAccess,corpusId"

// SemanticScholarBackend queries the Semantic Scholar Graph API: snippet
// search, paper search, and CorpusId-prefixed batch metadata lookup, with
// retry-on-429 via httputil.DoWithRetry.
type SemanticScholarBackend struct {
	Client *http.Client
	APIKey string
}

func (b *SemanticScholarBackend) Name() string { return "semantic_scholar" }

func (b *SemanticScholarBackend) client() *http.Client {
	if b.Client != nil {
		return b.Client
	}
	return http.DefaultClient
}

func (b *SemanticScholarBackend) headers(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if b.APIKey != "" {
		req.Header.Set("x-api-key", b.APIKey)
	}
}

type s2SnippetResponse struct {
	Data []s2SnippetHit `json:"data"`
}

type s2SnippetHit struct {
	Snippet struct {
		Text    string `json:"text"`
		Section string `json:"section"`
		Kind    string `json:"snippetKind"`
	} `json:"snippet"`
	Score float64 `json:"score"`
	Paper struct {
		CorpusID int `json:"corpusId"`
	} `json:"paper"`
}

// SnippetSearch hits the passage-level snippet/search endpoint.
func (b *SemanticScholarBackend) SnippetSearch(ctx context.Context, query string, filters types.Filters, limit int) ([]types.CandidatePassage, error) {
	params := url.Values{"query": {query}}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	applyYearFilter(params, filters)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, snippetSearchURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating snippet search request: %w", err)
	}
	b.headers(req)

	resp, err := httputil.DoWithRetry(ctx, b.client(), req, 0)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, scholarerrors.ErrNetworkError)
	}
	defer resp.Body.Close()
	if err := statusErr(resp.StatusCode); err != nil {
		return nil, err
	}

	var sr s2SnippetResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decoding snippet search response: %w", err)
	}

	passages := make([]types.CandidatePassage, 0, len(sr.Data))
	for _, hit := range sr.Data {
		kind := types.SnippetBody
		switch strings.ToLower(hit.Snippet.Kind) {
		case "abstract":
			kind = types.SnippetAbstract
		case "title":
			kind = types.SnippetTitle
		}
		passages = append(passages, types.CandidatePassage{
			CorpusID: strconv.Itoa(hit.Paper.CorpusID),
			Text:     hit.Snippet.Text,
			Section:  hit.Snippet.Section,
			Kind:     kind,
			Score:    hit.Score,
		})
	}
	return passages, nil
}

type s2PaperSearchResponse struct {
	Data []s2Paper `json:"data"`
}

type s2Paper struct {
	CorpusID                 int        `json:"corpusId"`
	Title                    string     `json:"title"`
	Abstract                 string     `json:"abstract"`
	Year                     int        `json:"year"`
	Venue                    string     `json:"venue"`
	CitationCount            int        `json:"citationCount"`
	InfluentialCitationCount int        `json:"influentialCitationCount"`
	IsOpenAccess             bool       `json:"isOpenAccess"`
	Authors                  []s2Author `json:"authors"`
}

type s2Author struct {
	AuthorID string `json:"authorId"`
	Name     string `json:"name"`
}

// KeywordSearch hits the paper-level paper/search endpoint.
func (b *SemanticScholarBackend) KeywordSearch(ctx context.Context, keywordQuery string, filters types.Filters, limit int) ([]types.PaperRecord, error) {
	params := url.Values{"query": {keywordQuery}, "fields": {metadataFields}}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	applyYearFilter(params, filters)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, paperSearchURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating paper search request: %w", err)
	}
	b.headers(req)

	resp, err := httputil.DoWithRetry(ctx, b.client(), req, 0)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, scholarerrors.ErrNetworkError)
	}
	defer resp.Body.Close()
	if err := statusErr(resp.StatusCode); err != nil {
		return nil, err
	}

	var sr s2PaperSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decoding paper search response: %w", err)
	}

	records := make([]types.PaperRecord, 0, len(sr.Data))
	for _, p := range sr.Data {
		records = append(records, toPaperRecord(p))
	}
	return records, nil
}

type s2BatchRequest struct {
	IDs []string `json:"ids"`
}

// FetchMetadata batch-fetches metadata via paper/batch with CorpusId:
// prefixed ids.
func (b *SemanticScholarBackend) FetchMetadata(ctx context.Context, corpusIDs []string) (map[string]types.PaperRecord, error) {
	if len(corpusIDs) == 0 {
		return map[string]types.PaperRecord{}, nil
	}

	ids := make([]string, len(corpusIDs))
	for i, id := range corpusIDs {
		ids[i] = "CorpusId:" + id
	}
	body, err := json.Marshal(s2BatchRequest{IDs: ids})
	if err != nil {
		return nil, fmt.Errorf("marshaling batch request: %w", err)
	}

	reqURL := paperBatchURL + "?fields=" + url.QueryEscape(metadataFields)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating batch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	b.headers(req)

	resp, err := httputil.DoWithRetry(ctx, b.client(), req, 0)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, scholarerrors.ErrNetworkError)
	}
	defer resp.Body.Close()
	if err := statusErr(resp.StatusCode); err != nil {
		return nil, err
	}

	var papers []s2Paper
	if err := json.NewDecoder(resp.Body).Decode(&papers); err != nil {
		return nil, fmt.Errorf("decoding batch response: %w", err)
	}

	out := make(map[string]types.PaperRecord, len(papers))
	for _, p := range papers {
		if p.CorpusID == 0 {
			continue
		}
		rec := toPaperRecord(p)
		out[rec.CorpusID] = rec
	}
	return out, nil
}

func toPaperRecord(p s2Paper) types.PaperRecord {
	authors := make([]types.Author, 0, len(p.Authors))
	for _, a := range p.Authors {
		authors = append(authors, types.Author{Name: a.Name, AuthorID: a.AuthorID})
	}
	openAccess := p.IsOpenAccess
	return types.PaperRecord{
		CorpusID:             strconv.Itoa(p.CorpusID),
		Title:                p.Title,
		Authors:              authors,
		Year:                 p.Year,
		Venue:                p.Venue,
		CitationCount:        p.CitationCount,
		InfluentialCitations: p.InfluentialCitationCount,
		IsOpenAccess:         &openAccess,
		Abstract:             p.Abstract,
	}
}

func applyYearFilter(params url.Values, filters types.Filters) {
	if filters.YearRange == nil {
		return
	}
	yr := filters.YearRange
	switch {
	case yr.Start != nil && yr.End != nil:
		params.Set("year", fmt.Sprintf("%d-%d", *yr.Start, *yr.End-1))
	case yr.Start != nil:
		params.Set("year", fmt.Sprintf("%d-", *yr.Start))
	case yr.End != nil:
		params.Set("year", fmt.Sprintf("-%d", *yr.End-1))
	}
}

func statusErr(status int) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusNotFound:
		return scholarerrors.ErrNotFound
	case status == http.StatusTooManyRequests:
		return scholarerrors.ErrThrottled
	case status >= 500:
		return scholarerrors.ErrUpstream5xx
	default:
		return fmt.Errorf("paper index returned HTTP %d", status)
	}
}
