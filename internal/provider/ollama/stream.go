// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/jeranaias/parley/internal/provider"
)

// =============================================================================
// STREAM READER
// =============================================================================

// stream reads Ollama's newline-delimited JSON stream and converts it to
// provider chunks. Text chunks carry fragments in arrival order; the final
// done=true object yields one Usage chunk.
type stream struct {
	chunks chan provider.Chunk
	err    error
	done   chan struct{}
}

func newStream(ctx context.Context, body io.ReadCloser, cancel context.CancelFunc) *stream {
	s := &stream{
		chunks: make(chan provider.Chunk, 16),
		done:   make(chan struct{}),
	}
	go s.run(ctx, body, cancel)
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

func (s *stream) run(ctx context.Context, body io.ReadCloser, cancel context.CancelFunc) {
	defer close(s.done)
	defer close(s.chunks)
	defer body.Close()
	if cancel != nil {
		defer cancel()
	}

	reader := bufio.NewReader(body)
	for {
		select {
		case <-ctx.Done():
			s.err = ctx.Err()
			return
		default:
		}

		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				// Process a final unterminated line, then finish cleanly.
				if len(line) > 0 {
					s.handleLine(ctx, line)
				}
				return
			}
			if ctx.Err() != nil {
				s.err = ctx.Err()
				return
			}
			s.err = provider.NewError(provider.ErrTypeTransport, "stream read failed", err)
			return
		}
		if len(line) <= 1 {
			continue
		}
		if finished := s.handleLine(ctx, line); finished {
			return
		}
	}
}

// handleLine parses one stream line and emits its chunks. Returns true when
// the stream signalled completion.
func (s *stream) handleLine(ctx context.Context, line []byte) bool {
	var resp chatResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		// Skip malformed lines
		return false
	}

	if resp.Message.Content != "" {
		if !s.send(ctx, provider.Chunk{Text: resp.Message.Content}) {
			return true
		}
	}

	if resp.Done {
		s.send(ctx, provider.Chunk{
			Done: true,
			Usage: &provider.Usage{
				PromptTokens:     resp.PromptEvalCount,
				CompletionTokens: resp.EvalCount,
			},
		})
		return true
	}
	return false
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
