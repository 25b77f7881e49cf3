// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package llm implements the Rate-Limited Model Client: uniform,
// rate-limited invocation of language-model completion endpoints with
// per-call fallback, retries and structured-output support.
package llm

import "context"

// ResponseFormat selects free text or schema-validated JSON output.
type ResponseFormat string

const (
	FormatText ResponseFormat = "text"
	FormatJSON ResponseFormat = "json"
)

// CompletionOptions carries the per-call knobs a Provider accepts.
type CompletionOptions struct {
	Temperature   float64
	MaxOutputTokens int
	Format        ResponseFormat
	// RequiredFields lists the JSON object keys a structured completion
	// must contain; used for schema validation when Format is FormatJSON.
	RequiredFields []string
	Timeout       int // seconds; 0 means provider default
	RetryCount    int // 0 means provider default
	ExtraCacheKey string
}

// Completion is one successful model response, with enough accounting to
// update cost/token records even on a cache hit.
type Completion struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Cached       bool
}

// costRecorderKey is the context key under which a CostRecorder is
// carried, mirroring internal/obslog's context-carried task id.
type costRecorderKey struct{}

// CostRecorder receives one notification per completion (cache hits
// included, since a cache hit still has a known cost) so a caller can
// aggregate per-Task cost without the Client itself being Task-aware.
type CostRecorder interface {
	RecordCost(modelID string, inputTokens, outputTokens int, costUSD float64, cached bool)
}

// WithCostRecorder attaches a CostRecorder to ctx; Client.Complete reports
// every completion issued under this context to it.
func WithCostRecorder(ctx context.Context, recorder CostRecorder) context.Context {
	return context.WithValue(ctx, costRecorderKey{}, recorder)
}

func costRecorderFromContext(ctx context.Context) CostRecorder {
	r, _ := ctx.Value(costRecorderKey{}).(CostRecorder)
	return r
}

// Provider is one language-model backend (Claude, OpenAI, ...). A Provider
// knows how to issue one request and estimate its input token size for
// rate-limit accounting; everything else (rate limiting, caching,
// fallback, retries) lives in Client and is provider-agnostic.
type Provider interface {
	// Name identifies the provider for trace records ("anthropic", "openai").
	Name() string

	// Complete issues one completion call against modelID.
	Complete(ctx context.Context, modelID, systemText, userText string, opts CompletionOptions) (Completion, error)

	// EstimateInputTokens returns a best-effort token count for rate-limit
	// acquisition before the call is dispatched.
	EstimateInputTokens(systemText, userText string) int
}
