package types

import "time"

// HTTPConfig holds shared HTTP settings used by stages that make network
// requests.
type HTTPConfig struct {
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
	UserAgent string        `json:"user_agent" yaml:"user_agent"`
}

// RetrievalConfig controls how many candidates each search form pulls.
type RetrievalConfig struct {
	NRetrieval   int `json:"n_retrieval" yaml:"n_retrieval"`
	NKeywordSrch int `json:"n_keyword_srch" yaml:"n_keyword_srch"`
}

// RerankService identifies which reranker backend to use.
type RerankService string

const (
	RerankRemoteHTTP          RerankService = "remote_http"
	RerankModalLike           RerankService = "modal_like"
	RerankInProcessCrossEnc   RerankService = "in_process_crossencoder"
	RerankInProcessBiEnc      RerankService = "in_process_biencoder"
	RerankInProcessFlag       RerankService = "in_process_flag"
)

// RerankConfig holds settings for the Reranker Adapter.
type RerankConfig struct {
	HTTPConfig `yaml:",inline"`

	Service       RerankService `json:"service" yaml:"service"`
	Endpoint      string        `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	ClientTimeout time.Duration `json:"client_timeout_ms" yaml:"client_timeout_ms"`
	BatchSize     int           `json:"batch_size" yaml:"batch_size"`
	MaxInflight   int           `json:"max_inflight" yaml:"max_inflight"`
}

// PaperFinderConfig controls the Paper Finder's aggregation policy.
type PaperFinderConfig struct {
	NRerank          int     `json:"n_rerank" yaml:"n_rerank"`
	ContextThreshold float64 `json:"context_threshold" yaml:"context_threshold"`
	PassagesPerPaper int     `json:"passages_per_paper" yaml:"passages_per_paper"`
}

// RateLimitConfig holds the per-provider token-bucket ceilings.
type RateLimitConfig struct {
	RequestsPerMinute    int `json:"rate_limit_rpm" yaml:"rate_limit_rpm"`
	InputTokensPerMinute int `json:"rate_limit_itpm" yaml:"rate_limit_itpm"`
	OutputTokensPerMinute int `json:"rate_limit_otpm" yaml:"rate_limit_otpm"`
}

// PipelineLLMConfig names the model ids used at each stage of the
// pipeline, plus the shared worker and rate-limit settings.
type PipelineLLMConfig struct {
	LLM           string `json:"llm" yaml:"llm"`
	FallbackLLM   string `json:"fallback_llm,omitempty" yaml:"fallback_llm,omitempty"`
	DecomposerLLM string `json:"decomposer_llm,omitempty" yaml:"decomposer_llm,omitempty"`
	TablesLLM     string `json:"tables_llm,omitempty" yaml:"tables_llm,omitempty"`

	MaxLLMWorkers int `json:"max_llm_workers" yaml:"max_llm_workers"`

	RateLimitConfig `yaml:",inline"`

	// Validate enables the optional moderation check on the raw query.
	Validate bool `json:"validate" yaml:"validate"`
}

// TasksConfig controls cross-Task admission and per-Task timeouts.
type TasksConfig struct {
	MaxConcurrent   int `json:"max_concurrent" yaml:"max_concurrent"`
	TimeoutSeconds  int `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// TraceMode selects the Event Trace Store's backend.
type TraceMode string

const (
	TraceLocal       TraceMode = "local"
	TraceObjectStore TraceMode = "object_store"
)

// TraceConfig holds settings for the Event Trace Store.
type TraceConfig struct {
	Mode     TraceMode `json:"mode" yaml:"mode"`
	Location string    `json:"location" yaml:"location"`
}

// CacheConfig holds settings for the Model-Call Cache.
type CacheConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	LLMCacheDir string `json:"llm_cache_dir" yaml:"llm_cache_dir"`
	MaxEntries int    `json:"max_entries" yaml:"max_entries"`
}

// TableConfig holds settings for the Table Builder.
type TableConfig struct {
	MinCitedPapers int `json:"min_cited_papers" yaml:"min_cited_papers"`
	MaxColumns     int `json:"max_columns" yaml:"max_columns"`
	MaxRows        int `json:"max_rows" yaml:"max_rows"`
}

// APIKeysConfig holds the provider credentials loaded by internal/secrets.
type APIKeysConfig struct {
	AnthropicAPIKey string `json:"-" yaml:"-"`
	OpenAIAPIKey    string `json:"-" yaml:"-"`
	S2APIKey        string `json:"-" yaml:"-"`
	RerankerAPIKey  string `json:"-" yaml:"-"`
}

// PipelineConfig groups every configuration option the pipeline accepts,
// one sub-struct per stage, each with json/yaml tags.
type PipelineConfig struct {
	Retrieval    RetrievalConfig   `json:"retrieval" yaml:"retrieval"`
	Rerank       RerankConfig      `json:"rerank" yaml:"rerank"`
	PaperFinder  PaperFinderConfig `json:"paper_finder" yaml:"paper_finder"`
	Pipeline     PipelineLLMConfig `json:"pipeline" yaml:"pipeline"`
	Tasks        TasksConfig       `json:"tasks" yaml:"tasks"`
	Trace        TraceConfig       `json:"trace" yaml:"trace"`
	Cache        CacheConfig       `json:"cache" yaml:"cache"`
	Table        TableConfig       `json:"table" yaml:"table"`
	APIKeys      APIKeysConfig     `json:"-" yaml:"-"`
}

// Default returns a PipelineConfig populated with the same conservative
// defaults the CLI falls back to when a config file omits a value.
func Default() PipelineConfig {
	return PipelineConfig{
		Retrieval: RetrievalConfig{NRetrieval: 20, NKeywordSrch: 20},
		Rerank: RerankConfig{
			HTTPConfig:    HTTPConfig{Timeout: 30 * time.Second, UserAgent: "scholarqa-engine/0.1"},
			Service:       RerankRemoteHTTP,
			ClientTimeout: 10 * time.Second,
			BatchSize:     50,
			MaxInflight:   4,
		},
		PaperFinder: PaperFinderConfig{NRerank: 20, ContextThreshold: 0.3, PassagesPerPaper: 3},
		Pipeline: PipelineLLMConfig{
			LLM:           "claude-sonnet-4-5-20250929",
			FallbackLLM:   "gpt-4o",
			DecomposerLLM: "claude-sonnet-4-5-20250929",
			TablesLLM:     "claude-sonnet-4-5-20250929",
			MaxLLMWorkers: 8,
			RateLimitConfig: RateLimitConfig{
				RequestsPerMinute:     60,
				InputTokensPerMinute:  200000,
				OutputTokensPerMinute: 100000,
			},
		},
		Tasks: TasksConfig{MaxConcurrent: 4, TimeoutSeconds: 300},
		Trace: TraceConfig{Mode: TraceLocal, Location: "traces"},
		Cache: CacheConfig{Enabled: true, LLMCacheDir: "llm_cache", MaxEntries: 4096},
		Table: TableConfig{MinCitedPapers: 3, MaxColumns: 6, MaxRows: 50},
	}
}
