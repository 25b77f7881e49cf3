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

// openaiAPIURL is the OpenAI chat completions endpoint. OpenAI is carried
// as the documented fallback provider (the original's GPT_4o fallback
// constant); package-level var for test substitution.
var openaiAPIURL = "https://api.openai.com/v1/chat/completions"

// OpenAIProvider calls the OpenAI Chat Completions API.
type OpenAIProvider struct {
	APIKey string
	Client *http.Client
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
}

type openaiChoice struct {
	Message openaiMessage `json:"message"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) EstimateInputTokens(systemText, userText string) int {
	return estimateTokens(systemText) + estimateTokens(userText)
}

func (p *OpenAIProvider) Complete(ctx context.Context, modelID, systemText, userText string, opts CompletionOptions) (Completion, error) {
	messages := []openaiMessage{}
	if systemText != "" {
		messages = append(messages, openaiMessage{Role: "system", Content: systemText})
	}
	messages = append(messages, openaiMessage{Role: "user", Content: userText})

	reqBody := openaiRequest{
		Model:       modelID,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxOutputTokens,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return Completion{}, fmt.Errorf("marshaling OpenAI request: %w", err)
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(opts.Timeout)*time.Second)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, openaiAPIURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return Completion{}, fmt.Errorf("creating OpenAI request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

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
		return Completion{}, fmt.Errorf("openai API returned %d: %s", resp.StatusCode, string(body))
	}

	var oResp openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&oResp); err != nil {
		return Completion{}, errMalformed(err)
	}
	if len(oResp.Choices) == 0 {
		return Completion{}, errMalformed(fmt.Errorf("no choices in OpenAI response"))
	}

	return Completion{
		Text:         oResp.Choices[0].Message.Content,
		Model:        modelID,
		InputTokens:  oResp.Usage.PromptTokens,
		OutputTokens: oResp.Usage.CompletionTokens,
		CostUSD:      estimateCost(modelID, oResp.Usage.PromptTokens, oResp.Usage.CompletionTokens),
	}, nil
}
