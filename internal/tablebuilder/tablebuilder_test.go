package tablebuilder

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/scholarqa-engine/internal/llm"
	"github.com/pdiddy/scholarqa-engine/internal/llmcache"
	"github.com/pdiddy/scholarqa-engine/internal/ratelimit"
	"github.com/pdiddy/scholarqa-engine/pkg/types"
)

type scriptedProvider struct {
	columns    string
	cellValue  string
	normalized string
	failNorm   bool
}

func (p *scriptedProvider) Name() string { return "anthropic" }
func (p *scriptedProvider) EstimateInputTokens(systemText, userText string) int { return 1 }
func (p *scriptedProvider) Complete(ctx context.Context, modelID, systemText, userText string, opts llm.CompletionOptions) (llm.Completion, error) {
	switch {
	case strings.Contains(systemText, "propose comparison columns"):
		return llm.Completion{Text: p.columns, Model: modelID}, nil
	case strings.Contains(systemText, "normalize a column"):
		if p.failNorm {
			return llm.Completion{Text: "not json", Model: modelID}, nil
		}
		return llm.Completion{Text: p.normalized, Model: modelID}, nil
	default:
		return llm.Completion{Text: p.cellValue, Model: modelID}, nil
	}
}

func newBuilder(t *testing.T, provider llm.Provider, cfg types.TableConfig) *Builder {
	t.Helper()
	cache, err := llmcache.New(false, 0, "")
	require.NoError(t, err)
	buckets := ratelimit.New(0, 0, 0)
	client := llm.NewClient(map[string]llm.Provider{"anthropic": provider}, buckets, cache)
	return &Builder{Client: client, Primary: llm.Model{Provider: "anthropic", ModelID: "claude-x"}, Config: cfg, MaxWorkers: 2}
}

func TestBuildProducesCompleteTable(t *testing.T) {
	provider := &scriptedProvider{
		columns:    `{"columns":[{"id":"model","name":"Model","description":"model name"},{"id":"params","name":"Parameters","description":"parameter count"}]}`,
		cellValue:  "1.3B parameters",
		normalized: `{"values":["1.3B","1.3B"]}`,
	}
	b := newBuilder(t, provider, types.TableConfig{MinCitedPapers: 1, MaxColumns: 6, MaxRows: 10})

	papers := map[int]types.PaperRecord{
		1: {CorpusID: "1", Title: "A", Year: 2020, Authors: []types.Author{{Name: "Ann Lee"}}},
		2: {CorpusID: "2", Title: "B", Year: 2021, Authors: []types.Author{{Name: "Bob Hill"}}},
	}

	table, warnings := b.Build(context.Background(), "compare models", "Model comparison", []int{1, 2}, papers)
	require.NotNil(t, table)
	assert.Empty(t, warnings)
	assert.True(t, table.Complete())
	assert.Len(t, table.Columns, 2)
	assert.Len(t, table.Rows, 2)
}

func TestBuildReturnsNoTableOnColumnProposalFailure(t *testing.T) {
	provider := &scriptedProvider{columns: "not json"}
	b := newBuilder(t, provider, types.TableConfig{MinCitedPapers: 1, MaxColumns: 6})

	table, warnings := b.Build(context.Background(), "q", "Section", []int{1}, map[int]types.PaperRecord{1: {CorpusID: "1"}})
	assert.Nil(t, table)
	assert.NotEmpty(t, warnings)
}

func TestBuildRetainsRawValuesWhenNormalizationFails(t *testing.T) {
	provider := &scriptedProvider{
		columns:   `{"columns":[{"id":"model","name":"Model","description":"model name"}]}`,
		cellValue: "raw value",
		failNorm:  true,
	}
	b := newBuilder(t, provider, types.TableConfig{MinCitedPapers: 1, MaxColumns: 6})

	papers := map[int]types.PaperRecord{1: {CorpusID: "1"}}
	table, _ := b.Build(context.Background(), "q", "Section", []int{1}, papers)
	require.NotNil(t, table)
	cell := table.Get(table.Rows[0].ID, table.Columns[0].ID)
	assert.Equal(t, "raw value", cell.Display)
}

func TestEligibleRequiresListFormatAndMinCitedPapers(t *testing.T) {
	b := &Builder{Config: types.TableConfig{MinCitedPapers: 3}}
	assert.False(t, b.Eligible(types.FormatSynthesis, 5))
	assert.False(t, b.Eligible(types.FormatList, 2))
	assert.True(t, b.Eligible(types.FormatList, 3))
}
