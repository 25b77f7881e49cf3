// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package decompose implements the Query Decomposer: one structured model
// call that turns a raw user query into a DecomposedQuery.
package decompose

import (
	"context"
	"errors"
	"fmt"

	scholarerrors "github.com/pdiddy/scholarqa-engine/internal/errors"
	"github.com/pdiddy/scholarqa-engine/internal/llm"
	"github.com/pdiddy/scholarqa-engine/pkg/types"
)

const systemPrompt = `You decompose a scientific literature question into retrieval parameters.
Return a JSON object with fields "rewritten_query" (string, suitable for passage search),
"keyword_query" (string, suitable for lexical paper search), and "filters" (object, may be
empty) with optional keys "year_start", "year_end", "venues", "authors", "fields_of_study".
Only include a filter when it is confidently supported by the question.`

type filterPayload struct {
	YearStart     *int     `json:"year_start,omitempty"`
	YearEnd       *int     `json:"year_end,omitempty"`
	Venues        []string `json:"venues,omitempty"`
	Authors       []string `json:"authors,omitempty"`
	FieldsOfStudy []string `json:"fields_of_study,omitempty"`
}

type decomposition struct {
	RewrittenQuery string        `json:"rewritten_query"`
	KeywordQuery   string        `json:"keyword_query"`
	Filters        filterPayload `json:"filters"`
}

// Decomposer issues the structured decomposition call.
type Decomposer struct {
	Client    *llm.Client
	Primary   llm.Model
	Fallbacks []llm.Model
}

// Decompose runs the decomposition call. On a persistent schema violation
// it degrades to types.Trivial(rawQuery) and returns a warning rather
// than an error. Any other error (network, rate limit exhaustion after
// fallback) is returned to the caller as a failure.
func (d *Decomposer) Decompose(ctx context.Context, rawQuery string) (types.DecomposedQuery, string, error) {
	var out decomposition
	_, err := d.Client.CompleteStructured(ctx, d.Primary, d.Fallbacks,
		systemPrompt, rawQuery,
		llm.CompletionOptions{RequiredFields: []string{"rewritten_query", "keyword_query"}},
		&out)
	if err != nil {
		if errors.Is(err, scholarerrors.ErrSchemaViolation) {
			return types.Trivial(rawQuery), fmt.Sprintf("query decomposition degraded to trivial form: %v", err), nil
		}
		return types.DecomposedQuery{}, "", err
	}

	return types.DecomposedQuery{
		RewrittenQuery: out.RewrittenQuery,
		KeywordQuery:   out.KeywordQuery,
		Filters:        toFilters(out.Filters),
	}, "", nil
}

func toFilters(p filterPayload) types.Filters {
	var yr *types.YearRange
	if p.YearStart != nil || p.YearEnd != nil {
		yr = &types.YearRange{Start: p.YearStart, End: p.YearEnd}
	}
	return types.Filters{
		YearRange:     yr,
		Venues:        p.Venues,
		Authors:       p.Authors,
		FieldsOfStudy: p.FieldsOfStudy,
	}
}
