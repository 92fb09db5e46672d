// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cleaner strips hallucinated transcript formatting from generated
// text. Local models occasionally echo the chat log format back at the user
// ("USER: ...", "[12:00:00] You: ...") or leak instruction-template tokens
// when a stop sequence is missed; the cleaner removes both.
package cleaner

import (
	"regexp"
	"strings"
)

// =============================================================================
// CLEANER
// =============================================================================

// instDelimiters are instruction-template tokens that must never reach the
// user. Text is truncated at the earliest occurrence of any of them.
var instDelimiters = []string{"[INST]", "[/INST]"}

var (
	timeOfDayLine = regexp.MustCompile(`^\[\d{2}:\d{2}:\d{2}\]\s`)
	timestampLine = regexp.MustCompile(`^\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\]\s`)
)

// Cleaner removes quoted-transcript lines and instruction leakage from raw
// model output. It is a filter, not a reformatter: text with no artifacts
// passes through with at most leading/trailing blank lines trimmed.
type Cleaner struct {
	roleTagLine   *regexp.Regexp
	narrativeLine *regexp.Regexp
}

// New builds a cleaner. displayNames are the assistant's configured display
// names beyond the fixed role tags; matching is case-insensitive at the tag.
func New(displayNames ...string) *Cleaner {
	tags := []string{"user", "assistant", "you", "ollama"}
	narrative := []string{"user", "assistant", "you", "ollama", "i said"}
	for _, name := range displayNames {
		if name = strings.TrimSpace(name); name != "" {
			tags = append(tags, regexp.QuoteMeta(name))
			narrative = append(narrative, regexp.QuoteMeta(name))
		}
	}
	return &Cleaner{
		roleTagLine:   regexp.MustCompile(`(?i)^(` + strings.Join(tags, "|") + `):\s`),
		narrativeLine: regexp.MustCompile(`(?i)^-\s(` + strings.Join(narrative, "|") + `)`),
	}
}

// Clean sanitizes one generated response. Idempotent: cleaning already-clean
// text returns it unchanged.
func (c *Cleaner) Clean(text string) string {
	// Truncate at the earliest instruction delimiter.
	for _, delim := range instDelimiters {
		if idx := strings.Index(text, delim); idx >= 0 {
			text = text[:idx]
		}
	}

	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	skipBlank := false
	for _, line := range lines {
		if c.isQuotedTranscript(line) {
			// Swallow at most one blank line after a removed line so the
			// removal does not leave a double gap.
			skipBlank = true
			continue
		}
		if skipBlank {
			skipBlank = false
			if strings.TrimSpace(line) == "" {
				continue
			}
		}
		kept = append(kept, line)
	}

	// Trim leading and trailing blank lines.
	start, end := 0, len(kept)
	for start < end && strings.TrimSpace(kept[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(kept[end-1]) == "" {
		end--
	}
	return strings.Join(kept[start:end], "\n")
}

// isQuotedTranscript reports whether a line re-enacts the chat log format.
func (c *Cleaner) isQuotedTranscript(line string) bool {
	return c.roleTagLine.MatchString(line) ||
		timeOfDayLine.MatchString(line) ||
		timestampLine.MatchString(line) ||
		c.narrativeLine.MatchString(line)
}
