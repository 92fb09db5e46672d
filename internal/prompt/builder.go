// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package prompt assembles the ordered message sequence for one generation
// request: memory context, system prompt with temporal context and
// personalization substitution, trimmed history, and the current user turn.
// Assembly is deterministic; the same inputs always yield the same sequence.
package prompt

import (
	"strings"
	"time"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/provider"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// memoryContextLabel wraps retrieved memory context in its system turn.
const memoryContextLabel = "Previous conversation context:\n"

// FactsPlaceholder is the personalization token in a system prompt. It is
// replaced by the user's known facts, or removed when none are available.
const FactsPlaceholder = "[nomic]"

// =============================================================================
// BUILDER
// =============================================================================

// Input carries everything one assembly needs. The clock is explicit so
// assembly stays reproducible under test.
type Input struct {
	SystemPrompt  string
	MemoryContext string
	PersonalFacts string

	History  []model.Turn
	UserText string

	// MaxContextMessages caps how many recent history turns are included;
	// zero or negative means all of them.
	MaxContextMessages int

	// TimeAware prepends the temporal context block to the system prompt.
	TimeAware bool

	// PrependCritical folds the system prompt's critical instructions into
	// the user turn, for models that underweight the system role.
	PrependCritical bool

	Now time.Time
}

// Build assembles the ordered message sequence:
//
//  1. memory context as a system turn, when non-empty
//  2. up to MaxContextMessages most recent history turns, oldest first
//  3. the substituted system prompt, after the memory turn if present,
//     otherwise first
//  4. the current user turn, last
func Build(in Input) []provider.Message {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	messages := []provider.Message{}

	if in.MemoryContext != "" {
		messages = append(messages, provider.Message{
			Role:    model.RoleSystem.String(),
			Content: memoryContextLabel + in.MemoryContext,
		})
	}

	history := in.History
	if in.MaxContextMessages > 0 && len(history) > in.MaxContextMessages {
		history = history[len(history)-in.MaxContextMessages:]
	}
	for _, turn := range history {
		messages = append(messages, provider.Message{
			Role:    turn.Role.String(),
			Content: turn.Content,
		})
	}

	if sys := buildSystemPrompt(in, now); sys != "" {
		insertAt := 0
		if len(messages) > 0 && messages[0].Role == model.RoleSystem.String() {
			insertAt = 1
		}
		messages = append(messages, provider.Message{})
		copy(messages[insertAt+1:], messages[insertAt:])
		messages[insertAt] = provider.Message{
			Role:    model.RoleSystem.String(),
			Content: sys,
		}
	}

	messages = append(messages, provider.Message{
		Role:    model.RoleUser.String(),
		Content: buildUserText(in, now),
	})
	return messages
}

// buildSystemPrompt applies the two substitutions: temporal context and the
// personalization placeholder.
func buildSystemPrompt(in Input, now time.Time) string {
	sys := in.SystemPrompt
	if sys == "" {
		return ""
	}

	if strings.Contains(sys, FactsPlaceholder) {
		if in.PersonalFacts != "" {
			sys = strings.ReplaceAll(sys, FactsPlaceholder, in.PersonalFacts)
		} else {
			sys = strings.ReplaceAll(sys, FactsPlaceholder, "")
		}
	}

	if in.TimeAware {
		sys = WrapTimeAware(sys, now)
	}
	return sys
}

// buildUserText applies the user-turn transformations: the critical-fold
// compatibility mode and the time-question answer.
func buildUserText(in Input, now time.Time) string {
	text := in.UserText
	if in.TimeAware && IsTimeQuestion(text) {
		text = AppendTimeAnswer(text, now)
	}
	if in.PrependCritical {
		sys := buildSystemPrompt(in, now)
		text = FoldIntoUserTurn(ExtractCritical(sys), text)
	}
	return text
}
