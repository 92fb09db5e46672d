// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders session transcripts to shareable formats.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/parley/internal/model"
)

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Document is one session ready for export.
type Document struct {
	Session string
	Backend string
	Model   string
	Turns   []model.Turn
}

// Exporter defines the interface for transcript exporters.
type Exporter interface {
	// Export renders the document to the target format.
	Export(doc *Document) ([]byte, error)

	// FileExtension returns the appropriate file extension (e.g., ".md").
	FileExtension() string

	// MimeType returns the MIME type for the exported format.
	MimeType() string
}

// ForFormat returns the exporter for a format name.
func ForFormat(format string) (Exporter, error) {
	switch strings.ToLower(format) {
	case "markdown", "md":
		return &MarkdownExporter{IncludeTimestamps: true}, nil
	case "json":
		return &JSONExporter{}, nil
	case "yaml", "yml":
		return &YAMLExporter{}, nil
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

// Formats lists the supported format names.
func Formats() []string {
	return []string{"markdown", "json", "yaml"}
}

// =============================================================================
// EXPORT TO FILE
// =============================================================================

// ExportToFile renders a session to <session>_<timestamp>.<ext> inside
// outputDir and returns the written path.
func ExportToFile(doc *Document, exporter Exporter, outputDir string) (string, error) {
	content, err := exporter.Export(doc)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("%s_%s%s",
		sanitizeFilename(doc.Session), timestamp, exporter.FileExtension())

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	outputPath := filepath.Join(outputDir, filename)
	if err := os.WriteFile(outputPath, content, 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return outputPath, nil
}

// sanitizeFilename keeps the session name usable as a filename fragment.
func sanitizeFilename(name string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '_'
		default:
			return -1
		}
	}, name)
	if sanitized == "" {
		sanitized = "session"
	}
	return sanitized
}
