// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pdiddy/scholarqa-engine/internal/adapters/moderation"
	"github.com/pdiddy/scholarqa-engine/internal/adapters/paperindex"
	"github.com/pdiddy/scholarqa-engine/internal/adapters/reranker"
	"github.com/pdiddy/scholarqa-engine/internal/decompose"
	"github.com/pdiddy/scholarqa-engine/internal/evidence"
	"github.com/pdiddy/scholarqa-engine/internal/llm"
	"github.com/pdiddy/scholarqa-engine/internal/llmcache"
	"github.com/pdiddy/scholarqa-engine/internal/obslog"
	"github.com/pdiddy/scholarqa-engine/internal/outline"
	"github.com/pdiddy/scholarqa-engine/internal/paperfinder"
	"github.com/pdiddy/scholarqa-engine/internal/ratelimit"
	"github.com/pdiddy/scholarqa-engine/internal/supervisor"
	"github.com/pdiddy/scholarqa-engine/internal/synthesize"
	"github.com/pdiddy/scholarqa-engine/internal/tablebuilder"
	"github.com/pdiddy/scholarqa-engine/internal/taskstore"
	"github.com/pdiddy/scholarqa-engine/internal/tracestore"
	"github.com/pdiddy/scholarqa-engine/pkg/types"
)

// modelToProvider maps a model id string to the provider name that serves
// it. The configuration surface names bare model ids ("claude-...",
// "gpt-4o"); nothing upstream of this CLI has needed a name->provider
// table before now, since internal/llm.Model already pairs the two
// explicitly wherever a stage package is constructed directly (as in
// internal/supervisor's tests). The CLI is the first caller that only has
// the bare strings the configuration surface documents.
func modelToProvider(modelID string) string {
	if strings.HasPrefix(modelID, "claude") {
		return "anthropic"
	}
	return "openai"
}

func toModel(modelID string) llm.Model {
	return llm.Model{Provider: modelToProvider(modelID), ModelID: modelID}
}

// toModels resolves a pipeline's primary/fallback model strings into the
// llm.Model list every stage's Fallbacks field expects: stageOverride (if
// set) replaces cfg.LLM as the primary, and the pipeline-wide FallbackLLM
// is the only fallback, omitted when it equals the primary.
func toModels(cfg types.PipelineLLMConfig, stageOverride string) (llm.Model, []llm.Model) {
	primary := stageOverride
	if primary == "" {
		primary = cfg.LLM
	}
	var fallbacks []llm.Model
	if cfg.FallbackLLM != "" && cfg.FallbackLLM != primary {
		fallbacks = append(fallbacks, toModel(cfg.FallbackLLM))
	}
	return toModel(primary), fallbacks
}

// engine bundles the assembled Supervisor with the resources a caller
// (ask, serve) must shut down when it is done.
type engine struct {
	Supervisor *supervisor.Supervisor
	Store      *taskstore.Store
	Logger     *slog.Logger
	Config     types.PipelineConfig
}

func (e *engine) Close() error {
	return e.Store.Close()
}

// buildEngine wires every configured stage into one Supervisor. Each
// stage package is a plain struct literal built here rather than through
// a per-package constructor, since none of internal/decompose,
// internal/evidence, internal/outline, internal/synthesize or
// internal/tablebuilder expose one.
func buildEngine(cfg types.PipelineConfig, sqlitePath string) (*engine, error) {
	logger := obslog.New(slog.LevelInfo)

	client := &http.Client{Timeout: cfg.Rerank.HTTPConfig.Timeout}

	providers := map[string]llm.Provider{
		"anthropic": &llm.ClaudeProvider{APIKey: cfg.APIKeys.AnthropicAPIKey, Client: client},
		"openai":    &llm.OpenAIProvider{APIKey: cfg.APIKeys.OpenAIAPIKey, Client: client},
	}

	buckets := ratelimit.New(cfg.Pipeline.RequestsPerMinute, cfg.Pipeline.InputTokensPerMinute, cfg.Pipeline.OutputTokensPerMinute)

	cache, err := llmcache.New(cfg.Cache.Enabled, cfg.Cache.MaxEntries, cfg.Cache.LLMCacheDir)
	if err != nil {
		return nil, fmt.Errorf("constructing model-call cache: %w", err)
	}

	llmClient := llm.NewClient(providers, buckets, cache)

	index := &paperindex.Adapter{
		Primary:   &paperindex.SemanticScholarBackend{Client: client, APIKey: cfg.APIKeys.S2APIKey},
		Secondary: &paperindex.ArxivBackend{Client: client},
	}

	// in_process_crossencoder/biencoder/flag backends would implement a
	// reranking model in-process; every configured service resolves to
	// the remote HTTP scorer, which also serves remote_http and
	// modal_like directly since both are single-endpoint
	// {query,passages,batch_size} calls.
	var scorer paperfinder.Scorer = &reranker.HTTPScorer{
		Client: &http.Client{Timeout: cfg.Rerank.ClientTimeout}, Endpoint: cfg.Rerank.Endpoint,
		APIKey: cfg.APIKeys.RerankerAPIKey, BatchSize: cfg.Rerank.BatchSize, MaxInflight: cfg.Rerank.MaxInflight,
	}

	finder := &paperfinder.Finder{
		Index: index, Reranker: scorer,
		Retrieve: cfg.Retrieval, Aggreg: cfg.PaperFinder,
	}

	decomposerPrimary, decomposerFallbacks := toModels(cfg.Pipeline, cfg.Pipeline.DecomposerLLM)
	decomposer := &decompose.Decomposer{Client: llmClient, Primary: decomposerPrimary, Fallbacks: decomposerFallbacks}

	primary, fallbacks := toModels(cfg.Pipeline, "")
	extractor := &evidence.Extractor{Client: llmClient, Primary: primary, Fallbacks: fallbacks, MaxWorkers: cfg.Pipeline.MaxLLMWorkers}
	planner := &outline.Planner{Client: llmClient, Primary: primary, Fallbacks: fallbacks}
	synthesizer := &synthesize.Synthesizer{Client: llmClient, Primary: primary, Fallbacks: fallbacks}

	tablesPrimary, tablesFallbacks := toModels(cfg.Pipeline, cfg.Pipeline.TablesLLM)
	tables := &tablebuilder.Builder{
		Client: llmClient, Primary: tablesPrimary, Fallbacks: tablesFallbacks,
		Config: cfg.Table, MaxWorkers: cfg.Pipeline.MaxLLMWorkers,
	}

	var mod moderation.Classifier = moderation.NoOp{}
	if cfg.Pipeline.Validate && cfg.APIKeys.OpenAIAPIKey != "" {
		mod = &moderation.OpenAIModerationClassifier{Client: client, APIKey: cfg.APIKeys.OpenAIAPIKey}
	}

	traceBackend, err := tracestore.NewBackend(cfg.Trace)
	if err != nil {
		return nil, fmt.Errorf("constructing trace backend: %w", err)
	}

	var store *taskstore.Store
	if sqlitePath != "" {
		store, err = taskstore.NewWithSQLite(24*time.Hour, sqlitePath)
		if err != nil {
			return nil, fmt.Errorf("constructing durable task store: %w", err)
		}
	} else {
		store = taskstore.New(24 * time.Hour)
	}

	sup := supervisor.New(store, traceBackend, mod, decomposer, finder, extractor, planner, synthesizer, tables, cfg.Tasks, cfg.Pipeline.Validate, logger)

	return &engine{Supervisor: sup, Store: store, Logger: logger, Config: cfg}, nil
}
