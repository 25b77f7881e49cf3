// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package errors defines the sentinel error values shared across stages,
// matched with errors.Is at call sites that need to distinguish failure
// kinds (fallback decisions, stage degradation, trace warnings).
package errors

import "errors"

var (
	// ErrRateLimitExhausted is returned by the Model Client when a call
	// cannot acquire its token-bucket budget within the wait policy.
	ErrRateLimitExhausted = errors.New("rate limit exhausted")

	// ErrUpstream5xx is returned for any 5xx response from an external
	// provider or adapter.
	ErrUpstream5xx = errors.New("upstream server error")

	// ErrMalformedResponse is returned when a model completion cannot be
	// parsed at all (not a schema violation, a transport/decode failure).
	ErrMalformedResponse = errors.New("malformed upstream response")

	// ErrCancelled is returned when a call's context is cancelled or its
	// deadline expires before the call completes.
	ErrCancelled = errors.New("cancelled")

	// ErrSchemaViolation is returned by complete_structured calls whose
	// output does not validate against the requested schema.
	ErrSchemaViolation = errors.New("schema violation")

	// ErrRetrievalUnavailable is returned by the Paper Finder when
	// snippet_search fails permanently.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")

	// ErrNotFound, ErrThrottled and ErrNetworkError classify Paper Index
	// Adapter and Reranker Adapter failures.
	ErrNotFound    = errors.New("not found")
	ErrThrottled   = errors.New("throttled")
	ErrNetworkError = errors.New("network error")
	ErrTimeout     = errors.New("timeout")

	// ErrModerationBlocked is returned when the Moderation Adapter blocks
	// the original query.
	ErrModerationBlocked = errors.New("moderation blocked query")

	// ErrTaskNotFound is returned by the Result Store when a task id is
	// unknown or has been evicted.
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidTransition is returned by the Result Store when a status
	// update would violate the Task state machine.
	ErrInvalidTransition = errors.New("invalid task state transition")
)
