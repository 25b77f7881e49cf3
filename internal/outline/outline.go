// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package outline implements the Outline Planner: one structured model
// call clustering extracted quotes into named, typed sections. Output is
// validated for unique names, no orphan quotes, and empty-section
// removal using a seen-set and ordered output discipline.
package outline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	scholarerrors "github.com/pdiddy/scholarqa-engine/internal/errors"
	"github.com/pdiddy/scholarqa-engine/internal/llm"
	"github.com/pdiddy/scholarqa-engine/pkg/types"
)

const systemPrompt = `You organize extracted quotes from scientific papers into an outline for a report answering
a research question. Each input quote has an id "<reference_number>-<index>". Group every quote id into
exactly one named section. Return a JSON object with field "sections": an ordered list of objects with
"name" (string), "format" ("synthesis" or "list"), and "quote_ids" (list of quote id strings). Use
format "list" only for sections that compare several papers along the same dimensions.`

type sectionPayload struct {
	Name     string   `json:"name"`
	Format   string   `json:"format"`
	QuoteIDs []string `json:"quote_ids"`
}

type outlinePayload struct {
	Sections []sectionPayload `json:"sections"`
}

// Planner issues the structured clustering call and validates its output.
type Planner struct {
	Client    *llm.Client
	Primary   llm.Model
	Fallbacks []llm.Model
}

// Plan clusters quoteSets into an Outline. On a persistent schema
// violation it degrades to types.SummaryOutline and returns a warning
// rather than an error.
func (p *Planner) Plan(ctx context.Context, userQuery string, quoteSets []types.ExtractedQuoteSet) (types.Outline, []string, error) {
	handles := make(map[string]types.QuoteHandle)
	for _, qs := range quoteSets {
		for i := range qs.Quotes {
			handles[qs.Quotes[i].ID] = types.QuoteHandle{ReferenceNumber: qs.ReferenceNumber, QuoteIndex: i}
		}
	}
	if len(handles) == 0 {
		return types.Outline{}, nil, nil
	}

	userText := buildUserText(userQuery, quoteSets)

	var payload outlinePayload
	_, err := p.Client.CompleteStructured(ctx, p.Primary, p.Fallbacks,
		systemPrompt, userText,
		llm.CompletionOptions{RequiredFields: []string{"sections"}},
		&payload)
	if err != nil {
		if errors.Is(err, scholarerrors.ErrSchemaViolation) {
			return types.SummaryOutline(quoteSets), []string{fmt.Sprintf("outline planning degraded to a single Summary section: %v", err)}, nil
		}
		return types.Outline{}, nil, err
	}

	return validate(payload, handles)
}

func buildUserText(userQuery string, quoteSets []types.ExtractedQuoteSet) string {
	b, _ := json.Marshal(struct {
		Query     string                   `json:"query"`
		QuoteSets []types.ExtractedQuoteSet `json:"quote_sets"`
	}{Query: userQuery, QuoteSets: quoteSets})
	return string(b)
}

// validate ensures every quote id is placed at most once (first
// placement wins, later duplicates dropped with a warning), drops unknown
// and unplaced known quote ids with a warning, disambiguates duplicate
// section names by suffix, and removes empty sections.
func validate(payload outlinePayload, handles map[string]types.QuoteHandle) (types.Outline, []string, error) {
	var warnings []string
	placed := make(map[string]bool, len(handles))
	nameCount := make(map[string]int)

	var sections []types.SectionPlan
	for _, sp := range payload.Sections {
		name := sp.Name
		nameCount[name]++
		if n := nameCount[name]; n > 1 {
			name = fmt.Sprintf("%s (%d)", sp.Name, n)
		}

		format := types.FormatSynthesis
		if sp.Format == string(types.FormatList) {
			format = types.FormatList
		}

		var quoteHandles []types.QuoteHandle
		for _, qid := range sp.QuoteIDs {
			handle, ok := handles[qid]
			if !ok {
				// unknown id the model invented; never a known quote
				warnings = append(warnings, fmt.Sprintf("quote %q is not an extracted quote id, dropping", qid))
				continue
			}
			if placed[qid] {
				warnings = append(warnings, fmt.Sprintf("quote %q assigned to multiple sections, keeping first placement", qid))
				continue
			}
			placed[qid] = true
			quoteHandles = append(quoteHandles, handle)
		}

		if len(quoteHandles) == 0 {
			continue // empty sections are removed
		}
		sections = append(sections, types.SectionPlan{Name: name, Format: format, Quotes: quoteHandles})
	}

	for qid := range handles {
		if !placed[qid] {
			warnings = append(warnings, fmt.Sprintf("quote %q was not placed in any section, dropping", qid))
		}
	}

	return types.Outline{Sections: sections}, warnings, nil
}
