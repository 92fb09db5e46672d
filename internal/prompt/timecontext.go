// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package prompt

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// TEMPORAL CONTEXT
// =============================================================================

// TimeSentence renders the current moment as a natural-language sentence for
// injection into the system prompt. The minute is floored to a multiple of
// five so the prompt prefix stays stable across consecutive exchanges, which
// keeps backend prompt caches warm.
func TimeSentence(now time.Time) string {
	minute := now.Minute() - now.Minute()%5
	clock := fmt.Sprintf("%02d:%02d", now.Hour(), minute)
	date := now.Format("Monday, January 2, 2006")

	var period string
	switch h := now.Hour(); {
	case h >= 5 && h <= 11:
		period = "morning"
	case h >= 12 && h <= 16:
		period = "afternoon"
	case h >= 17 && h <= 20:
		period = "evening"
	default:
		period = "night"
	}

	var part string
	switch d := now.Day(); {
	case d <= 10:
		part = "beginning"
	case d >= 20:
		part = "end"
	default:
		part = "middle"
	}

	return fmt.Sprintf("%s on %s. It's %s. This is the %s of the month.",
		clock, date, period, part)
}

// WrapTimeAware prepends the temporal context block to a system prompt,
// together with the instruction not to parrot it back.
func WrapTimeAware(systemPrompt string, now time.Time) string {
	return fmt.Sprintf(
		"[TEMPORAL CONTEXT: %s]\n"+
			"NEVER mention or repeat the time, date, or date context in your responses "+
			"unless the user specifically asks about the time.\n\n%s",
		TimeSentence(now), systemPrompt)
}

// timeQuestionPhrases are the phrases that mark a user turn as asking about
// the current time.
var timeQuestionPhrases = []string{
	"what time",
	"current time",
	"what's the time",
	"do you know the time",
	"time is it",
	"time of day",
	"how late",
}

// IsTimeQuestion reports whether the user text asks about the current time.
func IsTimeQuestion(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range timeQuestionPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// AppendTimeAnswer attaches the current time to a user turn that asked for
// it, so the model answers from data instead of guessing.
func AppendTimeAnswer(text string, now time.Time) string {
	return fmt.Sprintf("%s\n\n[Current time: %s]", text, TimeSentence(now))
}
