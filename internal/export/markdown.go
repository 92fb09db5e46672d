// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"

	"github.com/jeranaias/parley/internal/model"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter renders a transcript as a readable Markdown document.
type MarkdownExporter struct {
	// IncludeTimestamps adds the turn timestamp under each speaker heading.
	IncludeTimestamps bool
}

// Export renders the document.
func (e *MarkdownExporter) Export(doc *Document) ([]byte, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", doc.Session)
	if doc.Backend != "" || doc.Model != "" {
		fmt.Fprintf(&b, "> Backend: %s · Model: %s\n\n", doc.Backend, doc.Model)
	}

	for i, turn := range doc.Turns {
		if i > 0 {
			b.WriteString("\n---\n\n")
		}
		fmt.Fprintf(&b, "## %s\n\n", turn.Role.DisplayName())
		if e.IncludeTimestamps {
			fmt.Fprintf(&b, "*%s*\n\n", turn.Timestamp.Format(model.StampLayout))
		}
		b.WriteString(turn.Content)
		b.WriteString("\n")
	}
	return []byte(b.String()), nil
}

// FileExtension returns ".md".
func (e *MarkdownExporter) FileExtension() string { return ".md" }

// MimeType returns the Markdown MIME type.
func (e *MarkdownExporter) MimeType() string { return "text/markdown" }
