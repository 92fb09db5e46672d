// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jeranaias/parley/internal/provider"
)

func testClient(url string) *Client {
	return NewClient(&ClientConfig{BaseURL: url, DefaultModel: "test-model"})
}

func TestGenerate(t *testing.T) {
	var captured chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(map[string]any{
			"model":             "test-model",
			"message":           map[string]string{"role": "assistant", "content": "hello there"},
			"done":              true,
			"prompt_eval_count": 12,
			"eval_count":        5,
		})
	}))
	defer server.Close()

	client := testClient(server.URL)
	text, usage, err := client.Generate(context.Background(), provider.Request{
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
		Params:   provider.Params{Temperature: 0.9, TopP: 0.99, TopK: 60, MaxTokens: 8192},
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if text != "hello there" {
		t.Errorf("text = %q", text)
	}
	if usage.PromptTokens != 12 || usage.CompletionTokens != 5 {
		t.Errorf("usage = %+v", usage)
	}
	if captured.Stream {
		t.Error("non-streaming request had stream=true")
	}
	if captured.Model != "test-model" {
		t.Errorf("default model not applied: %q", captured.Model)
	}
	if captured.Options.Temperature != 0.9 || captured.Options.TopK != 60 {
		t.Errorf("options not passed through: %+v", captured.Options)
	}
}

func TestGenerateStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for _, word := range []string{"one ", "two ", "three"} {
			fmt.Fprintf(w, `{"message":{"role":"assistant","content":"%s"},"done":false}`+"\n", word)
			flusher.Flush()
		}
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true,"prompt_eval_count":8,"eval_count":3}`)
	}))
	defer server.Close()

	client := testClient(server.URL)
	stream, err := client.GenerateStream(context.Background(), provider.Request{
		Messages: []provider.Message{{Role: "user", Content: "count"}},
	})
	if err != nil {
		t.Fatalf("GenerateStream failed: %v", err)
	}

	var text string
	var usage *provider.Usage
	for chunk := range stream.Chunks() {
		text += chunk.Text
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("stream ended with error: %v", err)
	}
	if text != "one two three" {
		t.Errorf("accumulated text = %q", text)
	}
	if usage == nil || usage.PromptTokens != 8 || usage.CompletionTokens != 3 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestGenerateStream_Cancel(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprintln(w, `{"message":{"content":"first "},"done":false}`)
		flusher.Flush()
		<-release
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	client := testClient(server.URL)
	stream, err := client.GenerateStream(ctx, provider.Request{
		Messages: []provider.Message{{Role: "user", Content: "go"}},
	})
	if err != nil {
		t.Fatalf("GenerateStream failed: %v", err)
	}

	<-stream.Chunks()
	cancel()
	for range stream.Chunks() {
	}
	if stream.Err() != context.Canceled {
		t.Errorf("Err = %v, want context.Canceled", stream.Err())
	}
}

func TestGenerate_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "model requires more memory"})
	}))
	defer server.Close()

	client := testClient(server.URL)
	_, _, err := client.Generate(context.Background(), provider.Request{})
	if !provider.IsTransport(err) {
		t.Fatalf("want transport error, got %v", err)
	}
}

func TestGenerate_ServerDown(t *testing.T) {
	client := testClient("http://127.0.0.1:1")
	_, _, err := client.Generate(context.Background(), provider.Request{})
	if !provider.IsUnavailable(err) {
		t.Fatalf("want unavailable error, got %v", err)
	}
}

func TestUnload(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(map[string]any{"done": true})
	}))
	defer server.Close()

	client := testClient(server.URL)
	if err := client.Unload(context.Background(), "big-model"); err != nil {
		t.Fatalf("Unload failed: %v", err)
	}
	if captured["model"] != "big-model" {
		t.Errorf("model = %v", captured["model"])
	}
	if ka, ok := captured["keep_alive"].(float64); !ok || ka != 0 {
		t.Errorf("keep_alive = %v, want 0", captured["keep_alive"])
	}
}

func TestListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprintln(w, `{"models":[{"name":"llama3.1:8b","size":4920000000},{"name":"qwen2.5:7b","size":4400000000}]}`)
	}))
	defer server.Close()

	client := testClient(server.URL)
	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels failed: %v", err)
	}
	if len(models) != 2 || models[0].Name != "llama3.1:8b" {
		t.Errorf("models = %+v", models)
	}
}

func TestEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprintln(w, `{"embedding":[0.25,-0.5,1.0]}`)
	}))
	defer server.Close()

	client := testClient(server.URL)
	vec, err := client.Embed(context.Background(), "nomic-embed-text", "hello")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.25 || vec[1] != -0.5 {
		t.Errorf("vec = %v", vec)
	}
}
