package evidence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/scholarqa-engine/internal/llm"
	"github.com/pdiddy/scholarqa-engine/internal/llmcache"
	"github.com/pdiddy/scholarqa-engine/internal/ratelimit"
	"github.com/pdiddy/scholarqa-engine/pkg/types"
)

type scriptedProvider struct {
	byModel map[string]string // keyed by substring of userText
	err     map[string]error
}

func (p *scriptedProvider) Name() string { return "anthropic" }
func (p *scriptedProvider) EstimateInputTokens(systemText, userText string) int {
	return len(systemText) + len(userText)
}
func (p *scriptedProvider) Complete(ctx context.Context, modelID, systemText, userText string, opts llm.CompletionOptions) (llm.Completion, error) {
	for key, err := range p.err {
		if containsKey(userText, key) {
			return llm.Completion{}, err
		}
	}
	for key, text := range p.byModel {
		if containsKey(userText, key) {
			return llm.Completion{Text: text, Model: modelID}, nil
		}
	}
	return llm.Completion{Text: `{"quotes":[]}`, Model: modelID}, nil
}

func containsKey(haystack, key string) bool {
	return len(key) > 0 && (len(haystack) >= len(key)) && (indexOf(haystack, key) >= 0)
}

func indexOf(haystack, key string) int {
	for i := 0; i+len(key) <= len(haystack); i++ {
		if haystack[i:i+len(key)] == key {
			return i
		}
	}
	return -1
}

func newExtractor(t *testing.T, provider llm.Provider, workers int) *Extractor {
	t.Helper()
	cache, err := llmcache.New(false, 0, "")
	require.NoError(t, err)
	buckets := ratelimit.New(0, 0, 0)
	client := llm.NewClient(map[string]llm.Provider{"anthropic": provider}, buckets, cache)
	return &Extractor{
		Client:     client,
		Primary:    llm.Model{Provider: "anthropic", ModelID: "claude-x"},
		MaxWorkers: workers,
	}
}

func TestExtractKeepsOnlyVerbatimQuotes(t *testing.T) {
	provider := &scriptedProvider{byModel: map[string]string{
		"Paper One": `{"quotes":["this is real text","this quote is fabricated"]}`,
	}}
	e := newExtractor(t, provider, 2)

	papers := []types.PaperAggregate{
		{CorpusID: "1", ReferenceNumber: 1, MergedText: "this is real text about the topic", Record: types.PaperRecord{Title: "Paper One"}},
	}

	sets, warnings, err := e.Extract(context.Background(), "question", papers)
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Len(t, sets, 1)
	require.Len(t, sets[0].Quotes, 1)
	assert.Equal(t, "this is real text", sets[0].Quotes[0].Text)
	assert.Equal(t, "[1]", sets[0].Quotes[0].Marker)
}

func TestExtractDropsPaperOnModelFailure(t *testing.T) {
	provider := &scriptedProvider{err: map[string]error{"Paper Two": assert.AnError}}
	e := newExtractor(t, provider, 2)

	papers := []types.PaperAggregate{
		{CorpusID: "2", ReferenceNumber: 1, MergedText: "text", Record: types.PaperRecord{Title: "Paper Two"}},
	}

	sets, warnings, err := e.Extract(context.Background(), "question", papers)
	require.NoError(t, err)
	assert.Empty(t, sets)
	require.Len(t, warnings, 1)
	assert.Equal(t, "2", warnings[0].CorpusID)
}

func TestExtractCollatesAscendingReferenceNumberRegardlessOfCompletionOrder(t *testing.T) {
	provider := &scriptedProvider{byModel: map[string]string{
		"Paper A": `{"quotes":["alpha text"]}`,
		"Paper B": `{"quotes":["beta text"]}`,
		"Paper C": `{"quotes":["gamma text"]}`,
	}}
	e := newExtractor(t, provider, 3)

	papers := []types.PaperAggregate{
		{CorpusID: "3", ReferenceNumber: 3, MergedText: "gamma text here", Record: types.PaperRecord{Title: "Paper C"}},
		{CorpusID: "1", ReferenceNumber: 1, MergedText: "alpha text here", Record: types.PaperRecord{Title: "Paper A"}},
		{CorpusID: "2", ReferenceNumber: 2, MergedText: "beta text here", Record: types.PaperRecord{Title: "Paper B"}},
	}

	sets, _, err := e.Extract(context.Background(), "question", papers)
	require.NoError(t, err)
	require.Len(t, sets, 3)
	assert.Equal(t, 1, sets[0].ReferenceNumber)
	assert.Equal(t, 2, sets[1].ReferenceNumber)
	assert.Equal(t, 3, sets[2].ReferenceNumber)
}
