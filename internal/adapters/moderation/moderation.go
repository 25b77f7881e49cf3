// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package moderation implements the optional Moderation Adapter: a
// classify(text) -> {allow, block, reason} check gated behind an API key.
// Absent or disabled, every input is allowed.
package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	scholarerrors "github.com/pdiddy/scholarqa-engine/internal/errors"
)

// Verdict is the outcome of classifying a piece of text.
type Verdict struct {
	Allow  bool
	Reason string
}

// Classifier checks whether a piece of text is allowed through the
// pipeline. The Supervisor calls Classify once on the raw user query
// before any other external call, so a blocked query never triggers any
// other adapter or model call.
type Classifier interface {
	Classify(ctx context.Context, text string) (Verdict, error)
}

// NoOp always allows; used when moderation is disabled or unconfigured.
type NoOp struct{}

func (NoOp) Classify(ctx context.Context, text string) (Verdict, error) {
	return Verdict{Allow: true}, nil
}

// OpenAIModerationClassifier calls OpenAI's moderation endpoint.
type OpenAIModerationClassifier struct {
	Client   *http.Client
	Endpoint string
	APIKey   string
}

func (c *OpenAIModerationClassifier) client() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

type moderationRequest struct {
	Input string `json:"input"`
}

type moderationResponse struct {
	Results []struct {
		Flagged    bool            `json:"flagged"`
		Categories map[string]bool `json:"categories"`
	} `json:"results"`
}

// Classify submits text to the moderation endpoint and blocks it if any
// category is flagged, reporting one of the flagged categories as reason
// (categories arrive as a map, so which one is not fixed).
func (c *OpenAIModerationClassifier) Classify(ctx context.Context, text string) (Verdict, error) {
	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1/moderations"
	}

	body, err := json.Marshal(moderationRequest{Input: text})
	if err != nil {
		return Verdict{}, fmt.Errorf("marshaling moderation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, fmt.Errorf("creating moderation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.client().Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("%v: %w", err, scholarerrors.ErrNetworkError)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Verdict{}, fmt.Errorf("moderation endpoint returned %d: %w", resp.StatusCode, scholarerrors.ErrUpstream5xx)
	}
	if resp.StatusCode != http.StatusOK {
		return Verdict{}, fmt.Errorf("moderation endpoint returned HTTP %d", resp.StatusCode)
	}

	var mr moderationResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return Verdict{}, fmt.Errorf("decoding moderation response: %w", err)
	}
	if len(mr.Results) == 0 {
		return Verdict{Allow: true}, nil
	}

	result := mr.Results[0]
	if !result.Flagged {
		return Verdict{Allow: true}, nil
	}
	for category, flagged := range result.Categories {
		if flagged {
			return Verdict{Allow: false, Reason: category}, nil
		}
	}
	return Verdict{Allow: false, Reason: "flagged"}, nil
}
