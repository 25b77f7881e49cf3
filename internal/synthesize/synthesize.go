// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package synthesize implements the Section Synthesizer: ordered,
// context-carrying model calls producing each Section Plan's prose, each
// call seeing the prior sections' output. Citation markers ([\d+]) are
// resolved against a section's assigned reference numbers; unresolved
// markers are stripped.
package synthesize

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/pdiddy/scholarqa-engine/internal/llm"
	"github.com/pdiddy/scholarqa-engine/pkg/types"
)

// numericMarkerRe matches numeric citation markers like [1], [12].
var numericMarkerRe = regexp.MustCompile(`\[(\d+)\]`)

const systemPrompt = `You write one section of a research report answering a scientific question. You are given
the question, the section's name and format, a set of verbatim quotes (each tagged with a reference
marker like [3]), and the text already written for earlier sections. Write prose for this section only,
citing quotes with their exact marker (e.g. "...improves recall [3]."). Only use markers from the quotes
given to you. Return a JSON object with field "text" (the section's prose) and optionally "tldr" (a
one-sentence summary).`

const priorTextCharLimit = 4000

type sectionResponse struct {
	Text string `json:"text"`
	TLDR string `json:"tldr"`
}

// Synthesizer issues the ordered per-section calls.
type Synthesizer struct {
	Client    *llm.Client
	Primary   llm.Model
	Fallbacks []llm.Model
}

// Synthesize generates one GeneratedSection per SectionPlan in order.
// quoteSets is indexed by reference number to resolve QuoteHandles; papers
// is indexed by reference number to resolve Citations. A single section's
// model failure degrades that section to types.FallbackText and does not
// abort the Task.
func (s *Synthesizer) Synthesize(ctx context.Context, userQuery string, outline types.Outline, quoteSets []types.ExtractedQuoteSet, papers map[int]types.PaperRecord) ([]types.GeneratedSection, []string) {
	quotesByRef := make(map[int]types.ExtractedQuoteSet, len(quoteSets))
	for _, qs := range quoteSets {
		quotesByRef[qs.ReferenceNumber] = qs
	}

	var warnings []string
	var priorText string
	sections := make([]types.GeneratedSection, 0, len(outline.Sections))

	for _, plan := range outline.Sections {
		assigned := assignedQuotes(plan, quotesByRef)
		validRefs := make(map[int]bool)
		for _, h := range plan.Quotes {
			validRefs[h.ReferenceNumber] = true
		}

		section, warns := s.synthesizeOne(ctx, userQuery, plan, assigned, priorText, papers, validRefs)
		warnings = append(warnings, warns...)
		sections = append(sections, section)

		priorText += "\n\n" + section.Title + "\n" + section.Text
		if len(priorText) > priorTextCharLimit {
			priorText = priorText[len(priorText)-priorTextCharLimit:]
		}
	}

	return sections, warnings
}

func (s *Synthesizer) synthesizeOne(ctx context.Context, userQuery string, plan types.SectionPlan, quotes []types.Quote, priorText string, papers map[int]types.PaperRecord, validRefs map[int]bool) (types.GeneratedSection, []string) {
	userText := buildUserText(userQuery, plan, quotes, priorText)

	var payload sectionResponse
	_, err := s.Client.CompleteStructured(ctx, s.Primary, s.Fallbacks,
		systemPrompt, userText,
		llm.CompletionOptions{RequiredFields: []string{"text"}},
		&payload)
	if err != nil {
		return types.GeneratedSection{Title: plan.Name, Text: types.FallbackText}, nil
	}

	text, citations, warnings := resolveMarkers(payload.Text, validRefs, papers)

	return types.GeneratedSection{
		Title:     plan.Name,
		TLDR:      payload.TLDR,
		Text:      text,
		Citations: citations,
	}, warnings
}

// resolveMarkers strips any [N] marker whose N is not in validRefs and
// builds the section's resolved Citation list in first-appearance order.
func resolveMarkers(text string, validRefs map[int]bool, papers map[int]types.PaperRecord) (string, []types.Citation, []string) {
	var warnings []string
	seen := make(map[int]bool)
	var citations []types.Citation

	out := numericMarkerRe.ReplaceAllStringFunc(text, func(match string) string {
		sub := numericMarkerRe.FindStringSubmatch(match)
		ref, _ := strconv.Atoi(sub[1])
		if !validRefs[ref] {
			warnings = append(warnings, fmt.Sprintf("stripped unresolved citation marker %s", match))
			return ""
		}
		if !seen[ref] {
			seen[ref] = true
			citations = append(citations, types.Citation{ID: match, Paper: papers[ref]})
		}
		return match
	})

	return out, citations, warnings
}

func assignedQuotes(plan types.SectionPlan, quotesByRef map[int]types.ExtractedQuoteSet) []types.Quote {
	var out []types.Quote
	for _, h := range plan.Quotes {
		qs, ok := quotesByRef[h.ReferenceNumber]
		if !ok || h.QuoteIndex >= len(qs.Quotes) {
			continue
		}
		out = append(out, qs.Quotes[h.QuoteIndex])
	}
	return out
}

func buildUserText(userQuery string, plan types.SectionPlan, quotes []types.Quote, priorText string) string {
	b, _ := json.Marshal(struct {
		Query     string        `json:"query"`
		Section   string        `json:"section_name"`
		Format    string        `json:"format"`
		Quotes    []types.Quote `json:"quotes"`
		PriorText string        `json:"prior_text,omitempty"`
	}{Query: userQuery, Section: plan.Name, Format: string(plan.Format), Quotes: quotes, PriorText: priorText})
	return string(b)
}
