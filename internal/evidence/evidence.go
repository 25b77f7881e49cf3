// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package evidence implements the Evidence Extractor: a bounded worker
// pool that asks the Model Client for verbatim quotes per Paper-Aggregate,
// concurrency sized by max_llm_workers.
package evidence

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pdiddy/scholarqa-engine/internal/llm"
	"github.com/pdiddy/scholarqa-engine/pkg/types"
)

const systemPrompt = `You extract supporting evidence for a research question from one paper's text.
Return a JSON object with a single field "quotes": a list of short, verbatim substrings of the
provided text that support answering the question. Do not paraphrase; every returned string must
appear exactly as written in the source text. Return an empty list if nothing in the text is relevant.`

type quotesPayload struct {
	Quotes []string `json:"quotes"`
}

// Extractor runs the per-paper extraction fan-out.
type Extractor struct {
	Client     *llm.Client
	Primary    llm.Model
	Fallbacks  []llm.Model
	MaxWorkers int
}

// Warning is a non-fatal event recorded during extraction (a single
// paper's model call failed, or it yielded zero kept quotes).
type Warning struct {
	CorpusID string
	Detail   string
}

// Extract fans out one model call per Paper-Aggregate, bounded by
// MaxWorkers. Per-paper failures are isolated: a failing or empty paper
// is dropped with a warning, never aborting the stage. The result is
// collated in ascending reference number regardless of completion order.
func (e *Extractor) Extract(ctx context.Context, userQuery string, papers []types.PaperAggregate) ([]types.ExtractedQuoteSet, []Warning, error) {
	workers := e.MaxWorkers
	if workers <= 0 {
		workers = 1
	}

	type outcome struct {
		set     types.ExtractedQuoteSet
		ok      bool
		warning *Warning
	}

	jobs := make(chan types.PaperAggregate)
	results := make(chan outcome, len(papers))
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for paper := range jobs {
				set, warn := e.extractOne(ctx, userQuery, paper)
				if warn != nil {
					results <- outcome{warning: warn}
					continue
				}
				results <- outcome{set: set, ok: true}
			}
		}()
	}

	go func() {
		for _, p := range papers {
			jobs <- p
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var sets []types.ExtractedQuoteSet
	var warnings []Warning
	for r := range results {
		if r.warning != nil {
			warnings = append(warnings, *r.warning)
			continue
		}
		if r.ok {
			sets = append(sets, r.set)
		}
	}

	sort.Slice(sets, func(i, j int) bool {
		return sets[i].ReferenceNumber < sets[j].ReferenceNumber
	})

	return sets, warnings, nil
}

// extractOne issues the model call for a single paper, verifies every
// returned quote is a verbatim substring of the paper's merged text, and
// discards quotes failing that check. A model failure or an
// empty-after-filtering result produces a Warning instead of a set.
func (e *Extractor) extractOne(ctx context.Context, userQuery string, paper types.PaperAggregate) (types.ExtractedQuoteSet, *Warning) {
	userText := fmt.Sprintf("Question: %s\n\nPaper: %s\n\nText:\n%s", userQuery, paper.Record.Title, paper.MergedText)

	var payload quotesPayload
	_, err := e.Client.CompleteStructured(ctx, e.Primary, e.Fallbacks,
		systemPrompt, userText,
		llm.CompletionOptions{RequiredFields: []string{"quotes"}},
		&payload)
	if err != nil {
		return types.ExtractedQuoteSet{}, &Warning{
			CorpusID: paper.CorpusID,
			Detail:   fmt.Sprintf("evidence extraction failed, dropping paper: %v", err),
		}
	}

	marker := fmt.Sprintf("[%d]", paper.ReferenceNumber)
	var quotes []types.Quote
	for i, q := range payload.Quotes {
		if !strings.Contains(paper.MergedText, q) {
			continue
		}
		quotes = append(quotes, types.Quote{
			ID:     fmt.Sprintf("%d-%d", paper.ReferenceNumber, i+1),
			Text:   q,
			Marker: marker,
		})
	}

	if len(quotes) == 0 {
		return types.ExtractedQuoteSet{}, &Warning{
			CorpusID: paper.CorpusID,
			Detail:   "no verbatim quotes survived substring verification, dropping paper",
		}
	}

	return types.ExtractedQuoteSet{
		ReferenceNumber: paper.ReferenceNumber,
		CorpusID:        paper.CorpusID,
		Quotes:          quotes,
	}, nil
}
