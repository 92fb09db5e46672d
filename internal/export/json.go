// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"

	"github.com/jeranaias/parley/internal/model"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONExporter renders a transcript as a machine-readable JSON document with
// a metadata envelope around the raw turn list.
type JSONExporter struct{}

type jsonDocument struct {
	Session string       `json:"session"`
	Backend string       `json:"backend,omitempty"`
	Model   string       `json:"model,omitempty"`
	Turns   []model.Turn `json:"turns"`
}

// Export renders the document.
func (e *JSONExporter) Export(doc *Document) ([]byte, error) {
	turns := doc.Turns
	if turns == nil {
		turns = []model.Turn{}
	}
	return json.MarshalIndent(jsonDocument{
		Session: doc.Session,
		Backend: doc.Backend,
		Model:   doc.Model,
		Turns:   turns,
	}, "", "  ")
}

// FileExtension returns ".json".
func (e *JSONExporter) FileExtension() string { return ".json" }

// MimeType returns the JSON MIME type.
func (e *JSONExporter) MimeType() string { return "application/json" }
