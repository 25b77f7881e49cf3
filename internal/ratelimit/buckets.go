// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ratelimit implements the Model Client's process-wide,
// continuously-refilling token buckets: requests-per-minute and
// input/output tokens-per-minute. Buckets are constructed once per
// process and injected into internal/llm, never reached through a
// package-level global.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	scholarerrors "github.com/pdiddy/scholarqa-engine/internal/errors"
)

// Buckets is the triple of independent rate limiters a Model Client call
// must acquire from simultaneously before dispatching a request.
type Buckets struct {
	requests     *rate.Limiter
	inputTokens  *rate.Limiter
	outputTokens *rate.Limiter
}

// New builds a Buckets with the given per-minute ceilings. A ceiling of
// zero disables that bucket's limiting (treated as infinite burst).
func New(requestsPerMinute, inputTokensPerMinute, outputTokensPerMinute int) *Buckets {
	return &Buckets{
		requests:     newLimiter(requestsPerMinute),
		inputTokens:  newLimiter(inputTokensPerMinute),
		outputTokens: newLimiter(outputTokensPerMinute),
	}
}

func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	// Continuous refill: perMinute events spread evenly over 60s rather
	// than reset in discrete 60s windows. Burst equals the full
	// per-minute ceiling so a cold process can spend its whole budget in
	// one burst before the steady continuous-refill rate applies to
	// subsequent calls.
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
}

// Acquire waits for all three buckets using estInputTokens as the
// best-estimate input token size; actual output tokens are reconciled
// after the call completes via Reconcile. wait bounds how long Acquire is
// willing to block; exceeding it returns ErrRateLimitExhausted.
func (b *Buckets) Acquire(ctx context.Context, estInputTokens, estOutputTokens int, wait time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	if err := b.requests.Wait(waitCtx); err != nil {
		return classify(ctx, err)
	}
	if err := b.inputTokens.WaitN(waitCtx, max1(estInputTokens)); err != nil {
		return classify(ctx, err)
	}
	if err := b.outputTokens.WaitN(waitCtx, max1(estOutputTokens)); err != nil {
		return classify(ctx, err)
	}
	return nil
}

// Reconcile adjusts the output-token bucket for the difference between
// the estimate used at acquisition time and the actual output token
// count reported by the provider. A positive delta is reserved without
// waiting, which can leave the bucket in debt that later Acquire calls
// wait out; a delta larger than the bucket's burst reserves nothing.
func (b *Buckets) Reconcile(actualOutputTokens, estimatedOutputTokens int) {
	delta := actualOutputTokens - estimatedOutputTokens
	if delta > 0 {
		_ = b.outputTokens.ReserveN(time.Now(), delta)
	}
}

func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return scholarerrors.ErrCancelled
	}
	return scholarerrors.ErrRateLimitExhausted
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
