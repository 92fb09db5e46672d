// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with the Ollama
// API and adapts it to the provider capability interfaces.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/jeranaias/parley/internal/provider"
)

// Name is the backend identity this client registers under. It namespaces
// sessions, locks and settings, so it must never change between runs.
const Name = "ollama"

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the Ollama client.
type ClientConfig struct {
	// BaseURL is the Ollama API base URL (default: http://127.0.0.1:11434)
	// Note: Uses explicit IPv4 address instead of localhost to avoid IPv6
	// resolution issues on Windows
	BaseURL string

	// Timeout for non-streaming requests (default: 120s)
	Timeout time.Duration

	// DefaultModel to use if none specified
	DefaultModel string

	// KeepAlive is the default model residency in seconds after a request
	// (default: 120)
	KeepAlive int
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:      "http://127.0.0.1:11434",
		Timeout:      120 * time.Second,
		DefaultModel: "llama3.1:8b",
		KeepAlive:    120,
	}
}

// =============================================================================
// WIRE TYPES
// =============================================================================

type chatRequest struct {
	Model     string             `json:"model"`
	Messages  []provider.Message `json:"messages"`
	Stream    bool               `json:"stream"`
	KeepAlive int                `json:"keep_alive,omitempty"`
	Options   *chatOptions       `json:"options,omitempty"`
}

type chatOptions struct {
	Temperature float64  `json:"temperature,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
	TopK        int      `json:"top_k,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool `json:"done"`
	PromptEvalCount int  `json:"prompt_eval_count,omitempty"`
	EvalCount       int  `json:"eval_count,omitempty"`
}

type apiError struct {
	Error string `json:"error"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the Ollama API. Thread-safe for
// concurrent use, though the exchange engine serializes generation per
// backend identity above this layer.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
}

// NewClient creates an Ollama client, filling defaults for zero values.
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:11434"
	}
	if config.Timeout == 0 {
		config.Timeout = 120 * time.Second
	}
	if config.KeepAlive == 0 {
		config.KeepAlive = 120
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

// Available reports whether the Ollama server answers on its base URL.
func (c *Client) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL, nil)
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

// Generate sends a non-streaming chat request and returns the full response.
func (c *Client) Generate(ctx context.Context, req provider.Request) (string, *provider.Usage, error) {
	body := c.buildRequest(req, false)

	if req.Params.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Params.Timeout)
		defer cancel()
	}

	resp, err := c.post(ctx, "/api/chat", body, c.httpClient)
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

	usage := &provider.Usage{
		PromptTokens:     result.PromptEvalCount,
		CompletionTokens: result.EvalCount,
	}
	return result.Message.Content, usage, nil
}

// GenerateStream sends a streaming chat request. Ollama streams
// newline-delimited JSON objects; the final object carries done=true plus
// token accounting.
func (c *Client) GenerateStream(ctx context.Context, req provider.Request) (provider.Stream, error) {
	body := c.buildRequest(req, true)

	// No client-level timeout for streaming; the request context governs
	// the whole stream lifetime.
	streamClient := &http.Client{}
	if req.Params.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Params.Timeout)
		resp, err := c.post(ctx, "/api/chat", body, streamClient)
		if err != nil {
			cancel()
			return nil, err
		}
		if err := checkStatus(resp); err != nil {
			resp.Body.Close()
			cancel()
			return nil, err
		}
		return newStream(ctx, resp.Body, cancel), nil
	}

	resp, err := c.post(ctx, "/api/chat", body, streamClient)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return newStream(ctx, resp.Body, nil), nil
}

func (c *Client) buildRequest(req provider.Request, stream bool) chatRequest {
	model := req.Model
	if model == "" {
		model = c.config.DefaultModel
	}
	keepAlive := req.Params.KeepAlive
	if keepAlive == 0 {
		keepAlive = c.config.KeepAlive
	}
	return chatRequest{
		Model:     model,
		Messages:  req.Messages,
		Stream:    stream,
		KeepAlive: keepAlive,
		Options: &chatOptions{
			Temperature: req.Params.Temperature,
			TopP:        req.Params.TopP,
			TopK:        req.Params.TopK,
			NumPredict:  req.Params.MaxTokens,
			Stop:        req.Params.Stop,
		},
	}
}

// =============================================================================
// MODEL MANAGEMENT
// =============================================================================

// Unload asks Ollama to evict a resident model by issuing an empty generate
// request with keep_alive 0. Best-effort; the caller logs failures.
func (c *Client) Unload(ctx context.Context, model string) error {
	if model == "" {
		model = c.config.DefaultModel
	}
	body := map[string]any{"model": model, "keep_alive": 0}

	resp, err := c.post(ctx, "/api/generate", body, c.httpClient)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// ListModels retrieves installed models via /api/tags.
func (c *Client) ListModels(ctx context.Context) ([]provider.ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, provider.NewError(provider.ErrTypeTransport, "failed to create request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, connectionError(err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result struct {
		Models []struct {
			Name       string    `json:"name"`
			Size       int64     `json:"size"`
			ModifiedAt time.Time `json:"modified_at"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, provider.NewError(provider.ErrTypeTransport, "failed to decode response", err)
	}

	models := make([]provider.ModelInfo, 0, len(result.Models))
	for _, m := range result.Models {
		models = append(models, provider.ModelInfo{
			Name:       m.Name,
			SizeBytes:  m.Size,
			ModifiedAt: m.ModifiedAt,
		})
	}
	return models, nil
}

// LoadedModels reports which models are currently resident via /api/ps.
func (c *Client) LoadedModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/ps", nil)
	if err != nil {
		return nil, provider.NewError(provider.ErrTypeTransport, "failed to create request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, connectionError(err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, provider.NewError(provider.ErrTypeTransport, "failed to decode response", err)
	}

	names := make([]string, 0, len(result.Models))
	for _, m := range result.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// =============================================================================
// EMBEDDINGS
// =============================================================================

// Embed creates an embedding vector via /api/embeddings, used by the memory
// recall layer.
func (c *Client) Embed(ctx context.Context, model, text string) ([]float32, error) {
	if model == "" {
		model = c.config.DefaultModel
	}
	body := map[string]any{"model": model, "prompt": text}

	resp, err := c.post(ctx, "/api/embeddings", body, c.httpClient)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, provider.NewError(provider.ErrTypeTransport, "failed to decode response", err)
	}

	vec := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
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
		return nil, connectionError(err)
	}
	return resp, nil
}

func connectionError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return provider.NewError(provider.ErrTypeTransport, "request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return provider.NewError(provider.ErrTypeTransport, "request cancelled", err)
	}
	return provider.NewError(provider.ErrTypeUnavailable, "Ollama is not running", err)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	var apiErr apiError
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
		return provider.NewError(provider.ErrTypeTransport, apiErr.Error, nil)
	}
	return provider.NewError(provider.ErrTypeTransport, "request failed: "+resp.Status, nil)
}
