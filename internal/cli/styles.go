// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// COLORS
// =============================================================================

// All colors use Lip Gloss AdaptiveColor for automatic light/dark detection.
var (
	// Purple - assistant output accents
	colorPurple = lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#A78BFA"}

	// Cyan - prompt, commands, user highlights
	colorCyan = lipgloss.AdaptiveColor{Light: "#0891B2", Dark: "#22D3EE"}

	// Emerald - success states
	colorEmerald = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34D399"}

	// Amber - warnings
	colorAmber = lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}

	// Rose - errors
	colorRose = lipgloss.AdaptiveColor{Light: "#E11D48", Dark: "#FB7185"}

	// Muted - secondary text
	colorMuted = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
)

// =============================================================================
// STYLES
// =============================================================================

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(colorCyan).
			Bold(true)

	headerStyle = lipgloss.NewStyle().
			Foreground(colorPurple).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	commandStyle = lipgloss.NewStyle().
			Foreground(colorEmerald)

	warningStyle = lipgloss.NewStyle().
			Foreground(colorAmber)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRose)
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

// markdownRenderer is the global glamour renderer for assistant output.
var markdownRenderer *glamour.TermRenderer

func init() {
	var err error
	markdownRenderer, err = glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		// Fall back to plain text if renderer initialization fails.
		markdownRenderer = nil
	}
}

// renderMarkdown renders markdown content for terminal display.
// Returns the original content if rendering fails or renderer is unavailable.
func renderMarkdown(content string) string {
	if markdownRenderer == nil {
		return content
	}
	rendered, err := markdownRenderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// isStdoutTTY reports whether stdout is a terminal. Markdown rendering and
// color are suppressed for piped output.
func isStdoutTTY() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// printError writes a styled error line to stderr.
func printError(err error) {
	fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
}
