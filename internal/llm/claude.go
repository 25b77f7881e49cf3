// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pdiddy/scholarqa-engine/internal/httputil"
)

// claudeAPIURL is the Claude Messages API endpoint. Package-level var so
// tests can substitute an httptest server.
var claudeAPIURL = "https://api.anthropic.com/v1/messages"

// ClaudeProvider calls the Claude Messages API.
type ClaudeProvider struct {
	APIKey string
	Client *http.Client
}

type claudeRequest struct {
	Model       string          `json:"model"`
	System      string          `json:"system,omitempty"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature,omitempty"`
	Messages    []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	Content []claudeContent `json:"content"`
	Usage   claudeUsage     `json:"usage"`
}

type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (p *ClaudeProvider) Name() string { return "anthropic" }

func (p *ClaudeProvider) EstimateInputTokens(systemText, userText string) int {
	return estimateTokens(systemText) + estimateTokens(userText)
}

func (p *ClaudeProvider) Complete(ctx context.Context, modelID, systemText, userText string, opts CompletionOptions) (Completion, error) {
	maxTokens := opts.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	reqBody := claudeRequest{
		Model:       modelID,
		System:      systemText,
		MaxTokens:   maxTokens,
		Temperature: opts.Temperature,
		Messages:    []claudeMessage{{Role: "user", Content: userText}},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return Completion{}, fmt.Errorf("marshaling Claude request: %w", err)
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(opts.Timeout)*time.Second)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, claudeAPIURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return Completion{}, fmt.Errorf("creating Claude request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := httputil.DoWithRetry(callCtx, client, req, opts.RetryCount)
	if err != nil {
		return Completion{}, classifyTransportErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Completion{}, errUpstream5xx(resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return Completion{}, fmt.Errorf("claude API returned %d: %s", resp.StatusCode, string(body))
	}

	var cResp claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cResp); err != nil {
		return Completion{}, errMalformed(err)
	}

	var text string
	for _, block := range cResp.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return Completion{}, errMalformed(fmt.Errorf("no text content in Claude response"))
	}

	return Completion{
		Text:         text,
		Model:        modelID,
		InputTokens:  cResp.Usage.InputTokens,
		OutputTokens: cResp.Usage.OutputTokens,
		CostUSD:      estimateCost(modelID, cResp.Usage.InputTokens, cResp.Usage.OutputTokens),
	}, nil
}
