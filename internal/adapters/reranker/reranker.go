// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package reranker implements the Reranker Adapter: a single
// score(query, passages) -> aligned floats interface with a remote HTTP
// backend, batched and concurrency-bounded.
package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	scholarerrors "github.com/pdiddy/scholarqa-engine/internal/errors"
)

// Scorer is the pluggable reranker backend contract: selection between
// remote_http, modal_like and in-process cross/bi-encoder/flag backends
// is configuration-driven. Only the remote_http backend is implemented.
type Scorer interface {
	Name() string
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// HTTPScorer batches passages into bounded-size requests against a single
// remote scoring endpoint, running up to MaxInflight batches concurrently
// via a per-batch goroutine, a buffered result channel and a WaitGroup.
type HTTPScorer struct {
	Client      *http.Client
	Endpoint    string
	APIKey      string
	BatchSize   int
	MaxInflight int
}

func (s *HTTPScorer) Name() string { return "remote_http" }

func (s *HTTPScorer) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return http.DefaultClient
}

type scoreRequest struct {
	Query     string   `json:"query"`
	Passages  []string `json:"passages"`
	BatchSize int      `json:"batch_size,omitempty"`
}

type scoreResponse struct {
	Scores []float64 `json:"scores"`
}

// Score splits passages into batches of BatchSize, submits up to
// MaxInflight batches concurrently, and reassembles an aligned score
// slice in original passage order. A batch failure fails the whole call;
// callers are expected to degrade to retrieval-order fallback.
func (s *HTTPScorer) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	if len(passages) == 0 {
		return nil, nil
	}

	batchSize := s.BatchSize
	if batchSize <= 0 {
		batchSize = len(passages)
	}
	maxInflight := s.MaxInflight
	if maxInflight <= 0 {
		maxInflight = 1
	}

	type batch struct {
		start int
		texts []string
	}
	var batches []batch
	for start := 0; start < len(passages); start += batchSize {
		end := start + batchSize
		if end > len(passages) {
			end = len(passages)
		}
		batches = append(batches, batch{start: start, texts: passages[start:end]})
	}

	type batchResult struct {
		start  int
		scores []float64
		err    error
	}

	ch := make(chan batchResult, len(batches))
	sem := make(chan struct{}, maxInflight)
	var wg sync.WaitGroup

	for _, b := range batches {
		wg.Add(1)
		go func(b batch) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			scores, err := s.scoreBatch(ctx, query, b.texts)
			ch <- batchResult{start: b.start, scores: scores, err: err}
		}(b)
	}

	go func() {
		wg.Wait()
		close(ch)
	}()

	out := make([]float64, len(passages))
	var firstErr error
	for r := range ch {
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		copy(out[r.start:r.start+len(r.scores)], r.scores)
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func (s *HTTPScorer) scoreBatch(ctx context.Context, query string, texts []string) ([]float64, error) {
	body, err := json.Marshal(scoreRequest{Query: query, Passages: texts, BatchSize: len(texts)})
	if err != nil {
		return nil, fmt.Errorf("marshaling score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.APIKey != "" {
		req.Header.Set("x-api-key", s.APIKey)
	}

	resp, err := s.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, scholarerrors.ErrNetworkError)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, scholarerrors.ErrThrottled
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("reranker returned %d: %w", resp.StatusCode, scholarerrors.ErrUpstream5xx)
	default:
		return nil, fmt.Errorf("reranker returned HTTP %d", resp.StatusCode)
	}

	var sr scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decoding score response: %w", err)
	}
	if len(sr.Scores) != len(texts) {
		return nil, fmt.Errorf("reranker returned %d scores for %d passages: %w", len(sr.Scores), len(texts), scholarerrors.ErrMalformedResponse)
	}
	return sr.Scores, nil
}
