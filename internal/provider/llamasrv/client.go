// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package llamasrv provides the HTTP client for a llama.cpp llama-server
// instance, speaking its OpenAI-compatible chat API with SSE streaming.
package llamasrv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/jeranaias/parley/internal/provider"
)

// Name is the backend identity this client registers under.
const Name = "llama-server"

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the llama-server client.
type ClientConfig struct {
	// BaseURL is the llama-server base URL (default: http://127.0.0.1:8080)
	BaseURL string

	// Timeout for non-streaming requests (default: 120s)
	Timeout time.Duration

	// Model is a display label only; llama-server serves whatever model it
	// was launched with and ignores the request's model field.
	Model string
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL: "http://127.0.0.1:8080",
		Timeout: 120 * time.Second,
		Model:   "local",
	}
}

// =============================================================================
// WIRE TYPES
// =============================================================================

type chatRequest struct {
	Model       string             `json:"model"`
	Messages    []provider.Message `json:"messages"`
	Stream      bool               `json:"stream"`
	Temperature float64            `json:"temperature,omitempty"`
	TopP        float64            `json:"top_p,omitempty"`
	TopK        int                `json:"top_k,omitempty"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
	Stop        []string           `json:"stop,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *usagePayload `json:"usage,omitempty"`
}

type usagePayload struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with one llama-server process.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
}

// NewClient creates a llama-server client, filling defaults for zero values.
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:8080"
	}
	if config.Timeout == 0 {
		config.Timeout = 120 * time.Second
	}
	if config.Model == "" {
		config.Model = "local"
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Name returns the backend identity.
func (c *Client) Name() string {
	return Name
}

// Available reports whether llama-server answers its health endpoint.
func (c *Client) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// =============================================================================
// CHAT OPERATIONS
// =============================================================================

// Generate sends a non-streaming chat completion request. When the server
// omits usage, token counts are estimated from text length and flagged.
func (c *Client) Generate(ctx context.Context, req provider.Request) (string, *provider.Usage, error) {
	body := c.buildRequest(req, false)

	if req.Params.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Params.Timeout)
		defer cancel()
	}

	resp, err := c.post(ctx, "/v1/chat/completions", body, c.httpClient)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", nil, err
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", nil, provider.NewError(provider.ErrTypeTransport, "failed to decode response", err)
	}
	if len(result.Choices) == 0 {
		return "", &provider.Usage{}, nil
	}

	text := result.Choices[0].Message.Content
	usage := c.usageFor(result.Usage, req.Messages, text)
	return text, usage, nil
}

// GenerateStream sends a streaming chat completion request. llama-server
// streams Server-Sent Events terminated by a "[DONE]" sentinel.
func (c *Client) GenerateStream(ctx context.Context, req provider.Request) (provider.Stream, error) {
	body := c.buildRequest(req, true)

	streamClient := &http.Client{}
	var cancel context.CancelFunc
	if req.Params.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, req.Params.Timeout)
	}

	resp, err := c.post(ctx, "/v1/chat/completions", body, streamClient)
	if err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		if cancel != nil {
			cancel()
		}
		return nil, err
	}
	return newStream(ctx, resp.Body, cancel, c, req.Messages), nil
}

func (c *Client) buildRequest(req provider.Request, stream bool) chatRequest {
	model := req.Model
	if model == "" {
		model = c.config.Model
	}
	return chatRequest{
		Model:       model,
		Messages:    req.Messages,
		Stream:      stream,
		Temperature: req.Params.Temperature,
		TopP:        req.Params.TopP,
		TopK:        req.Params.TopK,
		MaxTokens:   req.Params.MaxTokens,
		Stop:        req.Params.Stop,
	}
}

// usageFor prefers server-reported counts and falls back to estimation.
func (c *Client) usageFor(reported *usagePayload, messages []provider.Message, text string) *provider.Usage {
	if reported != nil && (reported.PromptTokens > 0 || reported.CompletionTokens > 0) {
		return &provider.Usage{
			PromptTokens:     reported.PromptTokens,
			CompletionTokens: reported.CompletionTokens,
		}
	}

	var promptLen int
	for _, m := range messages {
		promptLen += len(m.Content)
	}
	return &provider.Usage{
		PromptTokens:     (promptLen + 3) / 4,
		CompletionTokens: (len(text) + 3) / 4,
		Estimated:        true,
	}
}

// =============================================================================
// TOKENIZATION
// =============================================================================

// CountTokens asks the server to tokenize text. Falls back to a length/4
// estimate when the endpoint is unavailable, so callers always get a number.
func (c *Client) CountTokens(ctx context.Context, model, text string) (int, error) {
	body := map[string]any{"content": text}

	resp, err := c.post(ctx, "/tokenize", body, c.httpClient)
	if err != nil {
		return (len(text) + 3) / 4, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return (len(text) + 3) / 4, nil
	}

	var result struct {
		Tokens []int `json:"tokens"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return (len(text) + 3) / 4, nil
	}
	return len(result.Tokens), nil
}

// =============================================================================
// HTTP HELPERS
// =============================================================================

func (c *Client) post(ctx context.Context, path string, body any, client *http.Client) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, provider.NewError(provider.ErrTypeTransport, "failed to marshal request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, provider.NewError(provider.ErrTypeTransport, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, provider.NewError(provider.ErrTypeTransport, "request timed out", err)
		}
		if errors.Is(err, context.Canceled) {
			return nil, provider.NewError(provider.ErrTypeTransport, "request cancelled", err)
		}
		return nil, provider.NewError(provider.ErrTypeUnavailable, "llama-server is not running", err)
	}
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	var apiErr struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
		return provider.NewError(provider.ErrTypeTransport, apiErr.Error.Message, nil)
	}
	return provider.NewError(provider.ErrTypeTransport, "request failed: "+resp.Status, nil)
}
