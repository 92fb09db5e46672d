// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llamasrv

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/jeranaias/parley/internal/provider"
)

// =============================================================================
// SSE STREAM READER
// =============================================================================

const (
	ssePrefix = "data: "
	sseDone   = "[DONE]"

	// A single SSE event can carry a large delta when the server batches
	// tokens; grow the scanner buffer well past the bufio default.
	scanBufInitial = 64 * 1024
	scanBufMax     = 2 * 1024 * 1024
)

type streamDelta struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *usagePayload `json:"usage,omitempty"`
}

// stream converts llama-server's SSE events into provider chunks. When the
// server never reports usage, the final chunk carries estimated counts.
type stream struct {
	chunks chan provider.Chunk
	err    error
	done   chan struct{}
}

func newStream(ctx context.Context, body io.ReadCloser, cancel context.CancelFunc, c *Client, messages []provider.Message) *stream {
	s := &stream{
		chunks: make(chan provider.Chunk, 16),
		done:   make(chan struct{}),
	}
	go s.run(ctx, body, cancel, c, messages)
	return s
}

func (s *stream) Chunks() <-chan provider.Chunk {
	return s.chunks
}

// Err reports the terminal state after Chunks closes.
func (s *stream) Err() error {
	<-s.done
	return s.err
}

func (s *stream) run(ctx context.Context, body io.ReadCloser, cancel context.CancelFunc, c *Client, messages []provider.Message) {
	defer close(s.done)
	defer close(s.chunks)
	defer body.Close()
	if cancel != nil {
		defer cancel()
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, scanBufInitial), scanBufMax)

	var full strings.Builder
	var reported *usagePayload

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			s.err = ctx.Err()
			return
		default:
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || !bytes.HasPrefix(line, []byte(ssePrefix)) {
			continue
		}
		payload := bytes.TrimPrefix(line, []byte(ssePrefix))
		if string(payload) == sseDone {
			break
		}

		var delta streamDelta
		if err := json.Unmarshal(payload, &delta); err != nil {
			// Skip malformed events
			continue
		}
		if delta.Usage != nil {
			reported = delta.Usage
		}
		if len(delta.Choices) > 0 && delta.Choices[0].Delta.Content != "" {
			full.WriteString(delta.Choices[0].Delta.Content)
			if !s.send(ctx, provider.Chunk{Text: delta.Choices[0].Delta.Content}) {
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			s.err = ctx.Err()
			return
		}
		s.err = provider.NewError(provider.ErrTypeTransport, "stream read failed", err)
		return
	}

	s.send(ctx, provider.Chunk{
		Done:  true,
		Usage: c.usageFor(reported, messages, full.String()),
	})
}

func (s *stream) send(ctx context.Context, chunk provider.Chunk) bool {
	select {
	case s.chunks <- chunk:
		return true
	case <-ctx.Done():
		s.err = ctx.Err()
		return false
	}
}
