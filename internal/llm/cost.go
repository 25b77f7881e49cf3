// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"context"
	"errors"
	"fmt"

	scholarerrors "github.com/pdiddy/scholarqa-engine/internal/errors"
)

// perMillionUSD gives a coarse, per-model $/million-token rate for cost
// accounting. Unknown models fall back to a conservative default rather
// than reporting zero cost.
var perMillionUSD = map[string][2]float64{
	"claude-sonnet-4-5-20250929": {3.0, 15.0},
	"claude-3-5-sonnet-20241022": {3.0, 15.0},
	"gpt-4o":                     {2.5, 10.0},
	"gpt-4o-mini":                {0.15, 0.6},
}

func estimateCost(modelID string, inputTokens, outputTokens int) float64 {
	rates, ok := perMillionUSD[modelID]
	if !ok {
		rates = [2]float64{3.0, 15.0}
	}
	return float64(inputTokens)/1e6*rates[0] + float64(outputTokens)/1e6*rates[1]
}

// estimateTokens is a best-effort token estimate used only for rate-limit
// bucket acquisition, not cost accounting (which uses the provider's
// reported usage). Roughly four characters per token, the common coarse
// heuristic for English prose.
func estimateTokens(s string) int {
	n := len(s) / 4
	if n < 1 {
		n = 1
	}
	return n
}

func classifyTransportErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("model call: %w", scholarerrors.ErrCancelled)
	}
	return fmt.Errorf("model call transport: %w", scholarerrors.ErrNetworkError)
}

func errUpstream5xx(status int) error {
	return fmt.Errorf("upstream returned %d: %w", status, scholarerrors.ErrUpstream5xx)
}

func errMalformed(cause error) error {
	return fmt.Errorf("%v: %w", cause, scholarerrors.ErrMalformedResponse)
}
