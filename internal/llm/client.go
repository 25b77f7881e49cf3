// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	scholarerrors "github.com/pdiddy/scholarqa-engine/internal/errors"
	"github.com/pdiddy/scholarqa-engine/internal/llmcache"
	"github.com/pdiddy/scholarqa-engine/internal/ratelimit"
)

// Model names a (provider, model id) pair as used in a fallback list.
type Model struct {
	Provider string
	ModelID  string
}

// Client is the process-wide Rate-Limited Model Client: it owns the
// shared token buckets and completion cache and dispatches calls to
// providers keyed by name. Constructed once per process and injected into
// every stage package; there is no package-level singleton.
type Client struct {
	providers map[string]Provider
	buckets   *ratelimit.Buckets
	cache     *llmcache.Cache

	// maxRetriesPerModel bounds exponential-backoff retries on the same
	// model before advancing to the next fallback model.
	maxRetriesPerModel int
	// maxSchemaRetries bounds retries on the same model after a schema
	// violation.
	maxSchemaRetries int
	// rateLimitWaitBudget bounds how long Acquire will block before a
	// call fails with RateLimitExhausted and triggers immediate fallback.
	rateLimitWaitBudget time.Duration

	backoffBase time.Duration
}

// NewClient constructs a Client over the given providers (keyed by
// Provider.Name()), rate-limit buckets, and completion cache.
func NewClient(providers map[string]Provider, buckets *ratelimit.Buckets, cache *llmcache.Cache) *Client {
	return &Client{
		providers:           providers,
		buckets:             buckets,
		cache:               cache,
		maxRetriesPerModel:  3,
		maxSchemaRetries:    2,
		rateLimitWaitBudget: 5 * time.Second,
		backoffBase:         500 * time.Millisecond,
	}
}

// Complete issues a free-text completion call against primary, falling
// back through fallbacks in order on Upstream5xx, timeout, quota error or
// rate-limit exhaustion.
func (c *Client) Complete(ctx context.Context, primary Model, fallbacks []Model, systemText, userText string, opts CompletionOptions) (Completion, error) {
	models := append([]Model{primary}, fallbacks...)

	cacheKey := ""
	if c.cache.Enabled() {
		cacheKey = llmcache.Key(primary.ModelID, systemText, userText, toCacheOptions(opts))
		if entry, ok := c.cache.Get(cacheKey); ok {
			completion := Completion{
				Text: entry.Content, Model: entry.Model,
				InputTokens: entry.InputTokens, OutputTokens: entry.OutputTokens,
				CostUSD: entry.CostUSD, Cached: true,
			}
			c.reportCost(ctx, completion)
			return completion, nil
		}
	}

	var lastErr error
	for i, m := range models {
		provider, ok := c.providers[m.Provider]
		if !ok {
			lastErr = fmt.Errorf("no provider registered for %q", m.Provider)
			continue
		}

		completion, err := c.callWithRetry(ctx, provider, m.ModelID, systemText, userText, opts)
		if err == nil {
			if c.cache.Enabled() && cacheKey != "" {
				c.cache.Put(cacheKey, llmcache.Entry{
					Content: completion.Text, Model: completion.Model,
					InputTokens: completion.InputTokens, OutputTokens: completion.OutputTokens,
					CostUSD: completion.CostUSD,
				})
			}
			c.reportCost(ctx, completion)
			return completion, nil
		}
		lastErr = err

		if i < len(models)-1 {
			continue // advance to next fallback model
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no models configured")
	}
	return Completion{}, fmt.Errorf("all models exhausted: %w", lastErr)
}

// CompleteStructured issues a JSON completion call and validates the
// result contains every field in opts.RequiredFields, retrying on the
// same model up to maxSchemaRetries before escalating SchemaViolation to
// the caller (which degrades per-stage, e.g. trivial decomposition).
func (c *Client) CompleteStructured(ctx context.Context, primary Model, fallbacks []Model, systemText, userText string, opts CompletionOptions, out any) (Completion, error) {
	opts.Format = FormatJSON

	var lastErr error
	for attempt := 0; attempt <= c.maxSchemaRetries; attempt++ {
		attemptOpts := opts
		if attempt > 0 {
			// A distinct cache key keeps a retry from replaying the cached
			// non-conforming completion of the previous attempt.
			attemptOpts.ExtraCacheKey = fmt.Sprintf("%s|schema-retry-%d", opts.ExtraCacheKey, attempt)
		}
		completion, err := c.Complete(ctx, primary, fallbacks, systemText, userText, attemptOpts)
		if err != nil {
			return Completion{}, err
		}

		if err := json.Unmarshal([]byte(completion.Text), out); err != nil {
			lastErr = fmt.Errorf("%v: %w", err, scholarerrors.ErrSchemaViolation)
			continue
		}
		if missing := missingFields(completion.Text, opts.RequiredFields); len(missing) > 0 {
			lastErr = fmt.Errorf("missing fields %v: %w", missing, scholarerrors.ErrSchemaViolation)
			continue
		}
		return completion, nil
	}
	return Completion{}, lastErr
}

func (c *Client) callWithRetry(ctx context.Context, provider Provider, modelID, systemText, userText string, opts CompletionOptions) (Completion, error) {
	estIn := provider.EstimateInputTokens(systemText, userText)
	estOut := opts.MaxOutputTokens
	if estOut <= 0 {
		estOut = 1024
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetriesPerModel; attempt++ {
		if err := c.buckets.Acquire(ctx, estIn, estOut, c.rateLimitWaitBudget); err != nil {
			// RateLimitExhausted on the primary triggers immediate fallback:
			// no retry budget is spent on the same model.
			return Completion{}, err
		}

		completion, err := provider.Complete(ctx, modelID, systemText, userText, opts)
		if err == nil {
			c.buckets.Reconcile(completion.OutputTokens, estOut)
			return completion, nil
		}
		lastErr = err

		if errors.Is(err, scholarerrors.ErrCancelled) {
			return Completion{}, err
		}
		if !errors.Is(err, scholarerrors.ErrUpstream5xx) && !errors.Is(err, scholarerrors.ErrNetworkError) {
			return Completion{}, err
		}
		if attempt < c.maxRetriesPerModel {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * c.backoffBase
			select {
			case <-ctx.Done():
				return Completion{}, scholarerrors.ErrCancelled
			case <-time.After(backoff):
			}
		}
	}
	return Completion{}, lastErr
}

func (c *Client) reportCost(ctx context.Context, completion Completion) {
	if recorder := costRecorderFromContext(ctx); recorder != nil {
		recorder.RecordCost(completion.Model, completion.InputTokens, completion.OutputTokens, completion.CostUSD, completion.Cached)
	}
}

func toCacheOptions(opts CompletionOptions) llmcache.Options {
	schema := ""
	if len(opts.RequiredFields) > 0 {
		b, _ := json.Marshal(opts.RequiredFields)
		schema = string(b)
	}
	return llmcache.Options{
		Temperature:    opts.Temperature,
		MaxTokens:      opts.MaxOutputTokens,
		ResponseSchema: schema,
		ExtraCacheKey:  opts.ExtraCacheKey,
	}
}

func missingFields(jsonText string, required []string) []string {
	if len(required) == 0 {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(jsonText), &obj); err != nil {
		return required
	}
	var missing []string
	for _, f := range required {
		if _, ok := obj[f]; !ok {
			missing = append(missing, f)
		}
	}
	return missing
}
