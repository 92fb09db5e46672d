// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package prompt

import "strings"

// =============================================================================
// CRITICAL-INSTRUCTION EXTRACTION
// =============================================================================

// Some instruction-tuned models weight the tail of the prompt far more than a
// long system preamble. ExtractCritical pulls the must-follow subset of the
// system prompt so it can be folded into the user turn for those models.

// extractMarkers open a critical block: importance tags, the temporal context
// block, and bare prohibitions.
var extractMarkers = []string{"[IMPORTANT", "[TEMPORAL CONTEXT", "NEVER"}

// extractStops end the block: persona and profile sections are description,
// not instruction. A stop is only honored after at least one line has been
// collected, since some prompts open with a persona header above the block.
var extractStops = []string{"Persona:", "Voice +", "User Information"}

// ExtractCritical returns the critical-instruction subset of a system prompt,
// or "" when the prompt has none.
func ExtractCritical(systemPrompt string) string {
	lines := strings.Split(systemPrompt, "\n")

	start := -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		for _, marker := range extractMarkers {
			if strings.HasPrefix(trimmed, marker) {
				start = i
				break
			}
		}
		if start >= 0 {
			break
		}
	}

	if start >= 0 {
		collected := []string{}
		for i := start; i < len(lines); i++ {
			trimmed := strings.TrimSpace(lines[i])
			if len(collected) > 0 && isExtractStop(trimmed) {
				break
			}
			collected = append(collected, lines[i])
		}
		return strings.TrimSpace(strings.Join(collected, "\n"))
	}

	// No marked block: fall back to scanning only the first three lines for
	// marker keywords.
	limit := len(lines)
	if limit > 3 {
		limit = 3
	}
	fallback := []string{}
	for _, line := range lines[:limit] {
		if strings.Contains(line, "NEVER") ||
			strings.Contains(line, "IMPORTANT") ||
			strings.Contains(line, "[") {
			fallback = append(fallback, line)
		}
	}
	return strings.TrimSpace(strings.Join(fallback, "\n"))
}

func isExtractStop(trimmed string) bool {
	for _, stop := range extractStops {
		if strings.HasPrefix(trimmed, stop) {
			return true
		}
	}
	return false
}

// FoldIntoUserTurn prefixes the user text with extracted critical
// instructions. Returns text unchanged when there is nothing to fold.
func FoldIntoUserTurn(critical, text string) string {
	if critical == "" {
		return text
	}
	return critical + "\n\nUser message: " + text
}
