// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package paperfinder turns a DecomposedQuery into a ranked list of
// Paper-Aggregates: retrieve, dedupe, rerank, aggregate per paper, and
// assign dense reference numbers.
package paperfinder

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	scholarerrors "github.com/pdiddy/scholarqa-engine/internal/errors"
	"github.com/pdiddy/scholarqa-engine/pkg/types"
)

// Index is the subset of the Paper Index Adapter the Finder needs.
// paperindex.Adapter satisfies this by having the same method set.
type Index interface {
	SnippetSearch(ctx context.Context, query string, filters types.Filters, limit int) ([]types.CandidatePassage, error)
	KeywordSearch(ctx context.Context, keywordQuery string, filters types.Filters, limit int) ([]types.PaperRecord, error)
	FetchMetadata(ctx context.Context, corpusIDs []string) (map[string]types.PaperRecord, error)
}

// Scorer is the subset of the Reranker Adapter the Finder needs.
type Scorer interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// Finder composes retrieval, dedup, reranking and per-paper aggregation.
type Finder struct {
	Index    Index
	Reranker Scorer
	Retrieve types.RetrievalConfig
	Aggreg   types.PaperFinderConfig
}

// Result is the Finder's output: the ranked Paper-Aggregates plus any
// non-fatal warnings recorded along the way (a permanent keyword_search
// failure, or a reranker outage that degraded to retrieval order).
type Result struct {
	Papers   []types.PaperAggregate
	Warnings []string
}

const mergedTextSeparator = "\n\n---\n\n"

// Find runs the seven-step retrieve/dedupe/rerank/aggregate algorithm.
func (f *Finder) Find(ctx context.Context, query types.DecomposedQuery) (Result, error) {
	passages, records, warnings, err := f.retrieve(ctx, query)
	if err != nil {
		return Result{}, err
	}

	passages, err = f.fillMissingMetadata(ctx, passages, records)
	if err != nil {
		return Result{}, err
	}

	scores, warn := f.score(ctx, query.RewrittenQuery, passages)
	if warn != "" {
		warnings = append(warnings, warn)
	}

	kept := make([]types.RerankedPassage, 0, len(passages))
	for i, p := range passages {
		if scores[i] < f.Aggreg.ContextThreshold {
			continue
		}
		kept = append(kept, types.RerankedPassage{CandidatePassage: p, RerankScore: scores[i]})
	}

	aggregates := f.aggregate(kept, records)

	sort.Slice(aggregates, func(i, j int) bool {
		if aggregates[i].AggregateScore != aggregates[j].AggregateScore {
			return aggregates[i].AggregateScore > aggregates[j].AggregateScore
		}
		return aggregates[i].CorpusID < aggregates[j].CorpusID
	})
	if f.Aggreg.NRerank > 0 && len(aggregates) > f.Aggreg.NRerank {
		aggregates = aggregates[:f.Aggreg.NRerank]
	}
	for i := range aggregates {
		aggregates[i].ReferenceNumber = i + 1
	}

	return Result{Papers: aggregates, Warnings: warnings}, nil
}

// retrieve runs snippet_search and keyword_search in parallel, merges
// their output, and synthesizes an abstract passage for keyword-only
// hits. A permanent snippet_search failure is fatal (RetrievalUnavailable);
// a keyword_search failure degrades to snippet-only results with a
// warning.
func (f *Finder) retrieve(ctx context.Context, query types.DecomposedQuery) ([]types.CandidatePassage, map[string]types.PaperRecord, []string, error) {
	var (
		snippets     []types.CandidatePassage
		snippetErr   error
		keywordPapers []types.PaperRecord
		keywordErr   error
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		snippets, snippetErr = f.Index.SnippetSearch(ctx, query.RewrittenQuery, query.Filters, f.Retrieve.NRetrieval)
	}()
	go func() {
		defer wg.Done()
		keywordPapers, keywordErr = f.Index.KeywordSearch(ctx, query.KeywordQuery, query.Filters, f.Retrieve.NKeywordSrch)
	}()
	wg.Wait()

	if snippetErr != nil {
		return nil, nil, nil, fmt.Errorf("snippet search: %v: %w", snippetErr, scholarerrors.ErrRetrievalUnavailable)
	}

	var warnings []string
	if keywordErr != nil {
		warnings = append(warnings, fmt.Sprintf("keyword search unavailable, proceeding with snippet results only: %v", keywordErr))
		keywordPapers = nil
	}

	records := make(map[string]types.PaperRecord, len(keywordPapers))
	for _, r := range keywordPapers {
		records[r.CorpusID] = r
	}

	deduped := dedupePassages(snippets)
	haveSnippet := make(map[string]bool, len(deduped))
	for _, p := range deduped {
		haveSnippet[p.CorpusID] = true
	}

	// Keyword-only hits contribute a synthetic abstract passage.
	for _, r := range keywordPapers {
		if haveSnippet[r.CorpusID] || r.Abstract == "" {
			continue
		}
		deduped = append(deduped, types.CandidatePassage{
			CorpusID: r.CorpusID,
			Text:     r.Abstract,
			Kind:     types.SnippetAbstract,
		})
	}

	return deduped, records, warnings, nil
}

// dedupePassages dedupes by (corpus_id, offsets), first occurrence wins.
func dedupePassages(passages []types.CandidatePassage) []types.CandidatePassage {
	seen := make(map[string]bool, len(passages))
	out := make([]types.CandidatePassage, 0, len(passages))
	for _, p := range passages {
		key := p.DedupKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}

// fillMissingMetadata batch-fetches metadata for corpus ids that appeared
// only via snippet search (no keyword-search PaperRecord already known).
func (f *Finder) fillMissingMetadata(ctx context.Context, passages []types.CandidatePassage, records map[string]types.PaperRecord) ([]types.CandidatePassage, error) {
	var missing []string
	seen := make(map[string]bool)
	for _, p := range passages {
		if _, ok := records[p.CorpusID]; ok || seen[p.CorpusID] {
			continue
		}
		seen[p.CorpusID] = true
		missing = append(missing, p.CorpusID)
	}
	if len(missing) == 0 {
		return passages, nil
	}

	fetched, err := f.Index.FetchMetadata(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("fetching metadata: %w", err)
	}
	for id, rec := range fetched {
		records[id] = rec
	}
	return passages, nil
}

// score reranks all passage texts, falling back to retrieval order
// normalized into [0,1] if the reranker fails permanently.
func (f *Finder) score(ctx context.Context, query string, passages []types.CandidatePassage) ([]float64, string) {
	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
	}

	scores, err := f.Reranker.Score(ctx, query, texts)
	if err == nil {
		return scores, ""
	}

	fallback := make([]float64, len(passages))
	n := len(passages)
	for i := range fallback {
		if n <= 1 {
			fallback[i] = 1.0
			continue
		}
		fallback[i] = 1.0 - float64(i)/float64(n-1)
	}
	return fallback, fmt.Sprintf("reranker unavailable, falling back to retrieval order: %v", err)
}

// aggregate groups kept passages by corpus id, keeps the top-K per paper
// by rerank score, and concatenates their text with a deterministic
// separator to form merged_text.
func (f *Finder) aggregate(kept []types.RerankedPassage, records map[string]types.PaperRecord) []types.PaperAggregate {
	byPaper := make(map[string][]types.RerankedPassage)
	for _, p := range kept {
		byPaper[p.CorpusID] = append(byPaper[p.CorpusID], p)
	}

	aggregates := make([]types.PaperAggregate, 0, len(byPaper))
	for corpusID, ps := range byPaper {
		sort.Slice(ps, func(i, j int) bool { return ps[i].RerankScore > ps[j].RerankScore })

		topK := ps
		if f.Aggreg.PassagesPerPaper > 0 && len(topK) > f.Aggreg.PassagesPerPaper {
			topK = topK[:f.Aggreg.PassagesPerPaper]
		}

		texts := make([]string, len(topK))
		maxScore := topK[0].RerankScore
		for i, p := range topK {
			texts[i] = p.Text
		}

		aggregates = append(aggregates, types.PaperAggregate{
			CorpusID:       corpusID,
			MergedText:     strings.Join(texts, mergedTextSeparator),
			AggregateScore: maxScore,
			Record:         records[corpusID],
		})
	}
	return aggregates
}
