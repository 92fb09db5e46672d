// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider defines the backend capability consumed by the exchange
// engine: chat generation against a local inference server. Two
// implementations ship in subpackages, ollama and llamasrv; the engine and
// orchestrator only ever see these interfaces.
package provider

import (
	"context"
	"time"
)

// =============================================================================
// REQUEST / RESPONSE TYPES
// =============================================================================

// Message is one turn in the request sent to a backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params are the sampling parameters for one generation. They pass through to
// the backend unmodified; no clamping happens at this layer.
type Params struct {
	Temperature float64
	TopP        float64
	TopK        int
	MaxTokens   int

	// Stop sequences the backend should halt on.
	Stop []string

	// Timeout for the whole request. Zero means no client-side timeout.
	Timeout time.Duration

	// KeepAlive is how long the backend should keep the model resident after
	// this request, in seconds. Backend-specific; ignored where unsupported.
	KeepAlive int
}

// Request is one generation request.
type Request struct {
	Model    string
	Messages []Message
	Params   Params
}

// Chunk is one streamed fragment of a response. Exactly one of Text or Usage
// carries information; a Usage chunk arrives out of band, typically last.
type Chunk struct {
	Text  string
	Usage *Usage
	Done  bool
}

// Usage holds token accounting for a completed generation.
type Usage struct {
	PromptTokens     int
	CompletionTokens int

	// Estimated is set when the backend did not report counts and they were
	// derived from text length instead.
	Estimated bool
}

// =============================================================================
// CAPABILITY INTERFACES
// =============================================================================

// Provider is a chat inference backend.
type Provider interface {
	// Name is the stable backend identity ("ollama", "llama-server"). It
	// namespaces sessions, locks and settings, so it must never change
	// between runs.
	Name() string

	// Generate issues one blocking, non-streaming request.
	Generate(ctx context.Context, req Request) (string, *Usage, error)

	// GenerateStream issues one streaming request. The returned channel
	// yields fragments in backend order and is closed when the stream ends;
	// after the channel closes, Err reports how it ended. A stream is finite
	// and not restartable.
	GenerateStream(ctx context.Context, req Request) (Stream, error)

	// Available reports whether the backend is reachable.
	Available(ctx context.Context) bool
}

// Stream is one in-flight streaming generation.
type Stream interface {
	// Chunks yields fragments in arrival order. Closed on completion,
	// error, or cancellation.
	Chunks() <-chan Chunk

	// Err reports the terminal state after Chunks closes: nil for normal
	// exhaustion, the transport error otherwise.
	Err() error
}

// Unloader is implemented by backends that can evict a resident model on
// request. Unload is best-effort; failures are logged by the caller, never
// escalated.
type Unloader interface {
	Unload(ctx context.Context, model string) error
}

// Tokenizer is implemented by backends that can count tokens server-side.
type Tokenizer interface {
	CountTokens(ctx context.Context, model, text string) (int, error)
}

// Embedder is implemented by backends that can produce embedding vectors,
// used by the memory recall layer.
type Embedder interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// ModelLister is implemented by backends that can enumerate installed models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// ModelInfo describes one installed model.
type ModelInfo struct {
	Name       string
	SizeBytes  int64
	ModifiedAt time.Time
}
