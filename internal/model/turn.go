// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat sessions and turns.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// TIMESTAMP TYPE
// =============================================================================

// StampLayout is the canonical on-disk rendering of a turn timestamp.
// Second resolution, local time.
const StampLayout = "2006-01-02 15:04:05"

// Stamp is a turn timestamp. Logs written by older builds carry ISO-8601
// timestamps; both renderings are accepted on read and normalized to
// StampLayout on write.
type Stamp struct {
	time.Time
}

// Now returns the current wall-clock time truncated to second resolution.
func Now() Stamp {
	return Stamp{time.Now().Truncate(time.Second)}
}

// NewStamp wraps a time.Time, truncated to second resolution.
func NewStamp(t time.Time) Stamp {
	return Stamp{t.Truncate(time.Second)}
}

// MarshalJSON renders the timestamp in the canonical layout.
func (s Stamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Format(StampLayout))
}

// UnmarshalJSON accepts both the canonical layout and ISO-8601 / RFC 3339.
func (s *Stamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t, err := ParseStamp(raw)
	if err != nil {
		return err
	}
	*s = t
	return nil
}

// ParseStamp parses a timestamp string in either accepted rendering.
func ParseStamp(raw string) (Stamp, error) {
	if t, err := time.ParseInLocation(StampLayout, raw, time.Local); err == nil {
		return Stamp{t}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return Stamp{t.Truncate(time.Second)}, nil
	}
	// ISO-8601 without zone offset.
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", raw, time.Local); err == nil {
		return Stamp{t}, nil
	}
	return Stamp{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

// Equal compares two stamps at second resolution.
func (s Stamp) Equal(other Stamp) bool {
	return s.Time.Equal(other.Time)
}

// =============================================================================
// TURN TYPE
// =============================================================================

// Turn represents one message in a session. Turns are append-only; once part
// of a session they are never edited in place, only replaced by a whole-session
// overwrite.
type Turn struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp Stamp  `json:"timestamp"`

	// AudioRef names an audio clip in the session's audio directory that was
	// produced for this turn, correlated by timestamp rather than foreign key.
	AudioRef string `json:"audio,omitempty"`
}

// NewTurn creates a turn stamped with the current time.
func NewTurn(role Role, content string) Turn {
	return Turn{Role: role, Content: content, Timestamp: Now()}
}

// NewUserTurn creates a new user turn.
func NewUserTurn(content string) Turn {
	return NewTurn(RoleUser, content)
}

// NewAssistantTurn creates a new assistant turn.
func NewAssistantTurn(content string) Turn {
	return NewTurn(RoleAssistant, content)
}

// EstimateTokens gives a rough estimate of token count.
// Uses the approximation of ~4 characters per token.
func (t Turn) EstimateTokens() int {
	return (len(t.Content) + 3) / 4
}

// Preview returns a truncated single-line preview of the turn content.
func (t Turn) Preview(maxLen int) string {
	content := strings.ReplaceAll(t.Content, "\n", " ")
	runes := []rune(content)
	if len(runes) <= maxLen {
		return content
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// =============================================================================
// GENERATION STATISTICS
// =============================================================================

// Statistics holds timing and token count information for one generation.
type Statistics struct {
	StartTime      time.Time
	FirstChunkTime time.Time
	EndTime        time.Time

	PromptTokens     int
	CompletionTokens int

	// Derived metrics (computed on Finalize)
	TTFC            time.Duration // Time to first chunk
	TotalDuration   time.Duration
	TokensPerSecond float64
}

// NewStatistics creates a new Statistics with the start time set.
func NewStatistics() *Statistics {
	return &Statistics{StartTime: time.Now()}
}

// RecordFirstChunk records when the first text fragment arrived.
func (s *Statistics) RecordFirstChunk() {
	if s.FirstChunkTime.IsZero() {
		s.FirstChunkTime = time.Now()
		s.TTFC = s.FirstChunkTime.Sub(s.StartTime)
	}
}

// Finalize computes the derived metrics.
func (s *Statistics) Finalize(promptTokens, completionTokens int) {
	s.EndTime = time.Now()
	s.PromptTokens = promptTokens
	s.CompletionTokens = completionTokens
	s.TotalDuration = s.EndTime.Sub(s.StartTime)
	if s.TotalDuration > 0 {
		s.TokensPerSecond = float64(completionTokens) / s.TotalDuration.Seconds()
	}
}

// Format returns a one-line rendering of the statistics.
func (s *Statistics) Format() string {
	return fmt.Sprintf("%.1fs | %d tokens | %.1f tok/s | TTFC %dms",
		s.TotalDuration.Seconds(), s.CompletionTokens, s.TokensPerSecond, s.TTFC.Milliseconds())
}
