// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/scholarqa-engine/internal/adapters/moderation"
	"github.com/pdiddy/scholarqa-engine/internal/decompose"
	scholarerrors "github.com/pdiddy/scholarqa-engine/internal/errors"
	"github.com/pdiddy/scholarqa-engine/internal/evidence"
	"github.com/pdiddy/scholarqa-engine/internal/llm"
	"github.com/pdiddy/scholarqa-engine/internal/llmcache"
	"github.com/pdiddy/scholarqa-engine/internal/outline"
	"github.com/pdiddy/scholarqa-engine/internal/paperfinder"
	"github.com/pdiddy/scholarqa-engine/internal/ratelimit"
	"github.com/pdiddy/scholarqa-engine/internal/synthesize"
	"github.com/pdiddy/scholarqa-engine/internal/tablebuilder"
	"github.com/pdiddy/scholarqa-engine/internal/taskstore"
	"github.com/pdiddy/scholarqa-engine/internal/tracestore"
	"github.com/pdiddy/scholarqa-engine/pkg/types"
)

// scriptedProvider implements llm.Provider, routing each call to a canned
// response by inspecting which stage's system prompt is calling, so a
// single fake backs every stage the Supervisor drives without a real
// network round trip.
type scriptedProvider struct {
	sectionName   string
	sectionFormat string
}

var quoteIDRe = regexp.MustCompile(`"id":"([^"]+)"`)

func (p *scriptedProvider) Name() string { return "anthropic" }
func (p *scriptedProvider) EstimateInputTokens(systemText, userText string) int {
	return len(systemText) + len(userText)
}

func (p *scriptedProvider) Complete(ctx context.Context, modelID, systemText, userText string, opts llm.CompletionOptions) (llm.Completion, error) {
	switch {
	case strings.Contains(systemText, "decompose a scientific literature question"):
		return llm.Completion{Model: modelID, Text: `{"rewritten_query":"q","keyword_query":"q","filters":{}}`}, nil

	case strings.Contains(systemText, "extract supporting evidence"):
		text := userText
		if idx := strings.Index(userText, "Text:\n"); idx >= 0 {
			text = userText[idx+len("Text:\n"):]
		}
		b, _ := json.Marshal(map[string][]string{"quotes": {text}})
		return llm.Completion{Model: modelID, Text: string(b)}, nil

	case strings.Contains(systemText, "organize extracted quotes from scientific papers into an outline"):
		var ids []string
		for _, m := range quoteIDRe.FindAllStringSubmatch(userText, -1) {
			ids = append(ids, m[1])
		}
		section := map[string]any{"name": p.sectionName, "format": p.sectionFormat, "quote_ids": ids}
		b, _ := json.Marshal(map[string]any{"sections": []any{section}})
		return llm.Completion{Model: modelID, Text: string(b)}, nil

	case strings.Contains(systemText, "write one section of a research report"):
		return llm.Completion{Model: modelID, Text: `{"text":"Generated synthesis text.","tldr":"summary"}`}, nil

	case strings.Contains(systemText, "propose comparison columns"):
		return llm.Completion{Model: modelID, Text: `{"columns":[{"id":"c1","name":"Metric","description":"extracted metric"}]}`}, nil

	case strings.Contains(systemText, "Extract one short fact"):
		return llm.Completion{Model: modelID, Text: "value"}, nil

	case strings.Contains(systemText, "normalize a column"):
		return llm.Completion{Model: modelID, Text: `{"values":[]}`}, nil
	}
	return llm.Completion{}, fmt.Errorf("scriptedProvider: unrecognized system prompt: %s", systemText)
}

// blockingProvider never returns until ctx is done, simulating a model
// call that hangs past a Task's cancellation or timeout deadline.
type blockingProvider struct{}

func (blockingProvider) Name() string                                       { return "anthropic" }
func (blockingProvider) EstimateInputTokens(systemText, userText string) int { return 1 }
func (blockingProvider) Complete(ctx context.Context, modelID, systemText, userText string, opts llm.CompletionOptions) (llm.Completion, error) {
	<-ctx.Done()
	return llm.Completion{}, fmt.Errorf("model call: %w", scholarerrors.ErrCancelled)
}

// fakeIndex implements paperfinder.Index over an in-memory fixture.
type fakeIndex struct {
	snippets []types.CandidatePassage
	metadata map[string]types.PaperRecord
}

func (f *fakeIndex) SnippetSearch(ctx context.Context, query string, filters types.Filters, limit int) ([]types.CandidatePassage, error) {
	return f.snippets, nil
}
func (f *fakeIndex) KeywordSearch(ctx context.Context, keywordQuery string, filters types.Filters, limit int) ([]types.PaperRecord, error) {
	return nil, nil
}
func (f *fakeIndex) FetchMetadata(ctx context.Context, corpusIDs []string) (map[string]types.PaperRecord, error) {
	out := make(map[string]types.PaperRecord, len(corpusIDs))
	for _, id := range corpusIDs {
		if rec, ok := f.metadata[id]; ok {
			out[id] = rec
		}
	}
	return out, nil
}

// emptyIndex retrieves nothing, used to exercise the zero-candidates
// fatal-failure path.
type emptyIndex struct{}

func (emptyIndex) SnippetSearch(ctx context.Context, query string, filters types.Filters, limit int) ([]types.CandidatePassage, error) {
	return nil, nil
}
func (emptyIndex) KeywordSearch(ctx context.Context, keywordQuery string, filters types.Filters, limit int) ([]types.PaperRecord, error) {
	return nil, nil
}
func (emptyIndex) FetchMetadata(ctx context.Context, corpusIDs []string) (map[string]types.PaperRecord, error) {
	return nil, nil
}

// fixedScorer scores every passage identically, high enough to clear the
// context threshold used in these tests.
type fixedScorer struct{ score float64 }

func (f fixedScorer) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	scores := make([]float64, len(passages))
	for i := range scores {
		scores[i] = f.score
	}
	return scores, nil
}

// twoPaperFixture returns an Index with two distinctly-scored papers, so
// the Finder assigns deterministic reference numbers (1 for "p1", 2 for
// "p2") regardless of map iteration order.
func twoPaperFixture() (*fakeIndex, paperfinder.Scorer) {
	idx := &fakeIndex{
		snippets: []types.CandidatePassage{
			{CorpusID: "p1", Text: "Paper P1 demonstrates the effect under study."},
			{CorpusID: "p2", Text: "Paper P2 replicates the effect with a larger sample."},
		},
		metadata: map[string]types.PaperRecord{
			"p1": {CorpusID: "p1", Title: "First Paper", Year: 2020, Authors: []types.Author{{Name: "Alice Adams"}}, Abstract: "P1 abstract."},
			"p2": {CorpusID: "p2", Title: "Second Paper", Year: 2021, Authors: []types.Author{{Name: "Bob Brown"}}, Abstract: "P2 abstract."},
		},
	}
	// distinct scores: p1 always outranks p2, giving stable ref numbers.
	scorer := scoreByCorpus{"Paper P1 demonstrates the effect under study.": 0.9, "Paper P2 replicates the effect with a larger sample.": 0.6}
	return idx, scorer
}

type scoreByCorpus map[string]float64

func (s scoreByCorpus) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	out := make([]float64, len(passages))
	for i, p := range passages {
		out[i] = s[p]
	}
	return out, nil
}

func newTestClient(t *testing.T, provider llm.Provider) *llm.Client {
	t.Helper()
	cache, err := llmcache.New(false, 0, "")
	require.NoError(t, err)
	buckets := ratelimit.New(0, 0, 0)
	return llm.NewClient(map[string]llm.Provider{"anthropic": provider}, buckets, cache)
}

func newTestSupervisor(t *testing.T, provider llm.Provider, index paperfinder.Index, scorer paperfinder.Scorer, tasksCfg types.TasksConfig) *Supervisor {
	t.Helper()
	client := newTestClient(t, provider)
	model := llm.Model{Provider: "anthropic", ModelID: "claude-x"}

	store := taskstore.New(0)
	t.Cleanup(func() { store.Close() })

	traceDir := t.TempDir()
	backend, err := tracestore.NewBackend(types.TraceConfig{Mode: types.TraceLocal, Location: traceDir})
	require.NoError(t, err)

	finder := &paperfinder.Finder{
		Index: index, Reranker: scorer,
		Retrieve: types.RetrievalConfig{NRetrieval: 10, NKeywordSrch: 10},
		Aggreg:   types.PaperFinderConfig{NRerank: 10, ContextThreshold: 0.1, PassagesPerPaper: 3},
	}
	extractor := &evidence.Extractor{Client: client, Primary: model, MaxWorkers: 4}
	planner := &outline.Planner{Client: client, Primary: model}
	synthesizer := &synthesize.Synthesizer{Client: client, Primary: model}
	tables := &tablebuilder.Builder{
		Client: client, Primary: model, MaxWorkers: 4,
		Config: types.TableConfig{MinCitedPapers: 2, MaxColumns: 6, MaxRows: 50},
	}

	return New(store, backend, moderation.NoOp{},
		&decompose.Decomposer{Client: client, Primary: model}, finder, extractor,
		planner, synthesizer, tables, tasksCfg, false, nil)
}

func pollUntilTerminal(t *testing.T, sup *Supervisor, taskID string) types.Task {
	t.Helper()
	var task types.Task
	require.Eventually(t, func() bool {
		var err error
		task, err = sup.Poll(context.Background(), taskID)
		require.NoError(t, err)
		switch task.Status {
		case types.TaskComplete, types.TaskFailed, types.TaskCancelled:
			return true
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
	return task
}

func TestSubmitHappyPathSynthesisOnly(t *testing.T) {
	provider := &scriptedProvider{sectionName: "Overview", sectionFormat: "synthesis"}
	index, scorer := twoPaperFixture()
	sup := newTestSupervisor(t, provider, index, scorer, types.TasksConfig{MaxConcurrent: 2, TimeoutSeconds: 10})

	initial, err := sup.Submit(context.Background(), "does the effect replicate?", "user-1", types.Default())
	require.NoError(t, err)
	assert.Equal(t, types.TaskQueued, initial.Status)

	final := pollUntilTerminal(t, sup, initial.ID)
	require.Equal(t, types.TaskComplete, final.Status)
	require.NotNil(t, final.Result)
	require.Len(t, final.Result.Sections, 1)
	assert.Equal(t, "Overview", final.Result.Sections[0].Title)
	assert.Nil(t, final.Result.Sections[0].Table)
	assert.NotEmpty(t, final.Result.ReferencedPapers)

	for _, step := range final.Steps {
		assert.False(t, step.Open(), "step %q should be closed", step.Description)
		assert.Empty(t, step.Error)
	}
}

func TestSubmitListSectionTriggersTable(t *testing.T) {
	provider := &scriptedProvider{sectionName: "Comparison", sectionFormat: "list"}
	index, scorer := twoPaperFixture()
	sup := newTestSupervisor(t, provider, index, scorer, types.TasksConfig{MaxConcurrent: 2, TimeoutSeconds: 10})

	initial, err := sup.Submit(context.Background(), "compare the two studies", "user-1", types.Default())
	require.NoError(t, err)

	final := pollUntilTerminal(t, sup, initial.ID)
	require.Equal(t, types.TaskComplete, final.Status)
	require.Len(t, final.Result.Sections, 1)
	require.NotNil(t, final.Result.Sections[0].Table, "list-formatted section citing 2 papers should get a table")
	assert.Len(t, final.Result.Sections[0].Table.Rows, 2)
}

func TestSubmitFailsWhenNoPapersRetrieved(t *testing.T) {
	provider := &scriptedProvider{sectionName: "Overview", sectionFormat: "synthesis"}
	sup := newTestSupervisor(t, provider, emptyIndex{}, fixedScorer{score: 0.9}, types.TasksConfig{MaxConcurrent: 2, TimeoutSeconds: 10})

	initial, err := sup.Submit(context.Background(), "an unanswerable query", "user-1", types.Default())
	require.NoError(t, err)

	final := pollUntilTerminal(t, sup, initial.ID)
	require.Equal(t, types.TaskFailed, final.Status)
	assert.Contains(t, final.Detail, "no relevant papers")
	require.Nil(t, final.Result)
}

func TestSubmitFailsWhenModerationBlocksQuery(t *testing.T) {
	provider := &scriptedProvider{sectionName: "Overview", sectionFormat: "synthesis"}
	index, scorer := twoPaperFixture()
	sup := newTestSupervisor(t, provider, index, scorer, types.TasksConfig{MaxConcurrent: 2, TimeoutSeconds: 10})
	sup.Validate = true
	sup.Moderation = blockingModerationVerdict{allow: false, reason: "disallowed topic"}

	initial, err := sup.Submit(context.Background(), "blocked query", "user-1", types.Default())
	require.NoError(t, err)

	final := pollUntilTerminal(t, sup, initial.ID)
	require.Equal(t, types.TaskFailed, final.Status)
	assert.Contains(t, final.Detail, "disallowed topic")
	require.Len(t, final.Steps, 1, "no stage past moderation should have started")
}

type blockingModerationVerdict struct {
	allow  bool
	reason string
}

func (m blockingModerationVerdict) Classify(ctx context.Context, text string) (moderation.Verdict, error) {
	return moderation.Verdict{Allow: m.allow, Reason: m.reason}, nil
}

func TestCancelMidFlightTransitionsToCancelled(t *testing.T) {
	index, scorer := twoPaperFixture()
	sup := newTestSupervisor(t, blockingProvider{}, index, scorer, types.TasksConfig{MaxConcurrent: 2, TimeoutSeconds: 60})

	initial, err := sup.Submit(context.Background(), "a query that never returns", "user-1", types.Default())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		task, err := sup.Poll(context.Background(), initial.ID)
		require.NoError(t, err)
		return task.Status == types.TaskInProgress && len(task.Steps) > 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, sup.Cancel(initial.ID))

	final := pollUntilTerminal(t, sup, initial.ID)
	assert.Equal(t, types.TaskCancelled, final.Status)
	for _, step := range final.Steps {
		assert.False(t, step.Open())
	}
}

func TestTaskTimeoutTransitionsToFailed(t *testing.T) {
	index, scorer := twoPaperFixture()
	sup := newTestSupervisor(t, blockingProvider{}, index, scorer, types.TasksConfig{MaxConcurrent: 2, TimeoutSeconds: 1})

	initial, err := sup.Submit(context.Background(), "a query that runs past its deadline", "user-1", types.Default())
	require.NoError(t, err)

	final := pollUntilTerminal(t, sup, initial.ID)
	assert.Equal(t, types.TaskFailed, final.Status)
	assert.Contains(t, final.Detail, "timeout")
}

func TestMaxConcurrentTasksAdmitsOneAtATime(t *testing.T) {
	index, scorer := twoPaperFixture()
	sup := newTestSupervisor(t, blockingProvider{}, index, scorer, types.TasksConfig{MaxConcurrent: 1, TimeoutSeconds: 60})

	first, err := sup.Submit(context.Background(), "first", "user-1", types.Default())
	require.NoError(t, err)
	second, err := sup.Submit(context.Background(), "second", "user-1", types.Default())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		task, err := sup.Poll(context.Background(), first.ID)
		require.NoError(t, err)
		return task.Status == types.TaskInProgress
	}, time.Second, 5*time.Millisecond)

	task2, err := sup.Poll(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskQueued, task2.Status, "second task should stay queued behind the concurrency limit")

	require.NoError(t, sup.Cancel(first.ID))
	pollUntilTerminal(t, sup, first.ID)

	require.Eventually(t, func() bool {
		task, err := sup.Poll(context.Background(), second.ID)
		require.NoError(t, err)
		return task.Status == types.TaskInProgress
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, sup.Cancel(second.ID))
	pollUntilTerminal(t, sup, second.ID)
}
