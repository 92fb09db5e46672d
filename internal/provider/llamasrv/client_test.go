// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llamasrv

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jeranaias/parley/internal/provider"
)

func testClient(url string) *Client {
	return NewClient(&ClientConfig{BaseURL: url})
}

func TestGenerate_WithUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprintln(w, `{"choices":[{"message":{"content":"answer"}}],"usage":{"prompt_tokens":10,"completion_tokens":2}}`)
	}))
	defer server.Close()

	client := testClient(server.URL)
	text, usage, err := client.Generate(context.Background(), provider.Request{
		Messages: []provider.Message{{Role: "user", Content: "q"}},
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if text != "answer" {
		t.Errorf("text = %q", text)
	}
	if usage.PromptTokens != 10 || usage.CompletionTokens != 2 || usage.Estimated {
		t.Errorf("usage = %+v", usage)
	}
}

func TestGenerate_EstimatedUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"choices":[{"message":{"content":"12345678"}}]}`)
	}))
	defer server.Close()

	client := testClient(server.URL)
	_, usage, err := client.Generate(context.Background(), provider.Request{
		Messages: []provider.Message{{Role: "user", Content: "abcd"}},
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !usage.Estimated {
		t.Error("usage should be flagged as estimated")
	}
	if usage.CompletionTokens != 2 || usage.PromptTokens != 1 {
		t.Errorf("estimated counts = %+v", usage)
	}
}

func TestGenerateStream_SSE(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("streaming request had stream=false")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, word := range []string{"alpha ", "beta"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":\"%s\"}}]}\n\n", word)
			flusher.Flush()
		}
		fmt.Fprintf(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":6,\"completion_tokens\":2}}\n\n")
		fmt.Fprintf(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := testClient(server.URL)
	stream, err := client.GenerateStream(context.Background(), provider.Request{
		Messages: []provider.Message{{Role: "user", Content: "go"}},
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
	if text != "alpha beta" {
		t.Errorf("text = %q", text)
	}
	if usage == nil || usage.PromptTokens != 6 || usage.CompletionTokens != 2 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestGenerateStream_EstimatesWhenNoUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":\"abcdefgh\"}}]}\n\n")
		fmt.Fprintf(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := testClient(server.URL)
	stream, err := client.GenerateStream(context.Background(), provider.Request{
		Messages: []provider.Message{{Role: "user", Content: "abcd"}},
	})
	if err != nil {
		t.Fatalf("GenerateStream failed: %v", err)
	}

	var usage *provider.Usage
	for chunk := range stream.Chunks() {
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
	}
	if usage == nil || !usage.Estimated || usage.CompletionTokens != 2 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestGenerateStream_LargeEvent(t *testing.T) {
	// One event bigger than the bufio.Scanner default token size.
	big := strings.Repeat("x", 80*1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":\"%s\"}}]}\n\n", big)
		fmt.Fprintf(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := testClient(server.URL)
	stream, err := client.GenerateStream(context.Background(), provider.Request{})
	if err != nil {
		t.Fatalf("GenerateStream failed: %v", err)
	}

	var text string
	for chunk := range stream.Chunks() {
		text += chunk.Text
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("stream ended with error: %v", err)
	}
	if len(text) != len(big) {
		t.Errorf("text length = %d, want %d", len(text), len(big))
	}
}

func TestCountTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tokenize" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprintln(w, `{"tokens":[101,2054,2003]}`)
	}))
	defer server.Close()

	client := testClient(server.URL)
	n, err := client.CountTokens(context.Background(), "", "what is")
	if err != nil {
		t.Fatalf("CountTokens failed: %v", err)
	}
	if n != 3 {
		t.Errorf("n = %d, want 3", n)
	}
}

func TestCountTokens_FallbackEstimate(t *testing.T) {
	client := testClient("http://127.0.0.1:1")
	n, err := client.CountTokens(context.Background(), "", "12345678")
	if err != nil {
		t.Fatalf("CountTokens failed: %v", err)
	}
	if n != 2 {
		t.Errorf("n = %d, want 2", n)
	}
}

func TestGenerate_ErrorPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintln(w, `{"error":{"message":"context size exceeded"}}`)
	}))
	defer server.Close()

	client := testClient(server.URL)
	_, _, err := client.Generate(context.Background(), provider.Request{})
	if !provider.IsTransport(err) {
		t.Fatalf("want transport error, got %v", err)
	}
	if !strings.Contains(err.Error(), "context size exceeded") {
		t.Errorf("cause text not surfaced: %v", err)
	}
}
