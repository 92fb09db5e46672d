// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/parley/internal/model"
)

// =============================================================================
// YAML EXPORTER
// =============================================================================

// YAMLExporter renders a transcript as YAML, convenient for feeding
// transcripts into other tooling.
type YAMLExporter struct{}

type yamlTurn struct {
	Role      string `yaml:"role"`
	Content   string `yaml:"content"`
	Timestamp string `yaml:"timestamp"`
	Audio     string `yaml:"audio,omitempty"`
}

type yamlDocument struct {
	Session string     `yaml:"session"`
	Backend string     `yaml:"backend,omitempty"`
	Model   string     `yaml:"model,omitempty"`
	Turns   []yamlTurn `yaml:"turns"`
}

// Export renders the document.
func (e *YAMLExporter) Export(doc *Document) ([]byte, error) {
	out := yamlDocument{
		Session: doc.Session,
		Backend: doc.Backend,
		Model:   doc.Model,
		Turns:   make([]yamlTurn, 0, len(doc.Turns)),
	}
	for _, turn := range doc.Turns {
		out.Turns = append(out.Turns, yamlTurn{
			Role:      turn.Role.String(),
			Content:   turn.Content,
			Timestamp: turn.Timestamp.Format(model.StampLayout),
			Audio:     turn.AudioRef,
		})
	}
	return yaml.Marshal(out)
}

// FileExtension returns ".yaml".
func (e *YAMLExporter) FileExtension() string { return ".yaml" }

// MimeType returns the YAML MIME type.
func (e *YAMLExporter) MimeType() string { return "application/yaml" }
