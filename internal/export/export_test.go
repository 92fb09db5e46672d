// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeranaias/parley/internal/model"
)

func testDocument() *Document {
	ts := model.NewStamp(time.Date(2025, 3, 14, 9, 26, 53, 0, time.Local))
	return &Document{
		Session: "default",
		Backend: "ollama",
		Model:   "llama3.2",
		Turns: []model.Turn{
			{Role: model.RoleUser, Content: "what is a quine?", Timestamp: ts},
			{Role: model.RoleAssistant, Content: "A program that prints its own source.", Timestamp: ts},
		},
	}
}

// =============================================================================
// FORMAT SELECTION
// =============================================================================

func TestForFormat(t *testing.T) {
	tests := []struct {
		format  string
		ext     string
		wantErr bool
	}{
		{"markdown", ".md", false},
		{"md", ".md", false},
		{"JSON", ".json", false},
		{"yaml", ".yaml", false},
		{"yml", ".yaml", false},
		{"pdf", "", true},
	}
	for _, tt := range tests {
		exp, err := ForFormat(tt.format)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ForFormat(%q): expected error", tt.format)
			}
			continue
		}
		if err != nil {
			t.Errorf("ForFormat(%q): %v", tt.format, err)
			continue
		}
		if exp.FileExtension() != tt.ext {
			t.Errorf("ForFormat(%q).FileExtension() = %q, want %q", tt.format, exp.FileExtension(), tt.ext)
		}
	}
}

// =============================================================================
// RENDERING
// =============================================================================

func TestMarkdownExport(t *testing.T) {
	out, err := (&MarkdownExporter{IncludeTimestamps: true}).Export(testDocument())
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	text := string(out)

	for _, want := range []string{
		"# default",
		"## You",
		"## Assistant",
		"what is a quine?",
		"2025-03-14 09:26:53",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("markdown output missing %q:\n%s", want, text)
		}
	}
}

func TestMarkdownExport_NoTimestamps(t *testing.T) {
	out, err := (&MarkdownExporter{}).Export(testDocument())
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if strings.Contains(string(out), "2025-03-14") {
		t.Error("timestamps rendered despite IncludeTimestamps=false")
	}
}

func TestJSONExport_RoundTrips(t *testing.T) {
	out, err := (&JSONExporter{}).Export(testDocument())
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	var decoded struct {
		Session string       `json:"session"`
		Backend string       `json:"backend"`
		Turns   []model.Turn `json:"turns"`
	}
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Session != "default" || decoded.Backend != "ollama" {
		t.Errorf("metadata = %+v", decoded)
	}
	if len(decoded.Turns) != 2 || decoded.Turns[1].Role != model.RoleAssistant {
		t.Errorf("turns = %+v", decoded.Turns)
	}
}

func TestJSONExport_EmptySession(t *testing.T) {
	out, err := (&JSONExporter{}).Export(&Document{Session: "empty"})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if !strings.Contains(string(out), `"turns": []`) {
		t.Errorf("empty session should render turns as [], got:\n%s", out)
	}
}

func TestYAMLExport(t *testing.T) {
	out, err := (&YAMLExporter{}).Export(testDocument())
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	var decoded struct {
		Session string `yaml:"session"`
		Turns   []struct {
			Role    string `yaml:"role"`
			Content string `yaml:"content"`
		} `yaml:"turns"`
	}
	if err := yaml.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("output is not valid YAML: %v", err)
	}
	if decoded.Session != "default" {
		t.Errorf("session = %q", decoded.Session)
	}
	if len(decoded.Turns) != 2 || decoded.Turns[0].Role != "user" {
		t.Errorf("turns = %+v", decoded.Turns)
	}
}

// =============================================================================
// FILE OUTPUT
// =============================================================================

func TestExportToFile(t *testing.T) {
	dir := t.TempDir()
	exp, _ := ForFormat("markdown")

	path, err := ExportToFile(testDocument(), exp, dir)
	if err != nil {
		t.Fatalf("ExportToFile failed: %v", err)
	}
	base := filepath.Base(path)
	if !strings.HasPrefix(base, "default_") || !strings.HasSuffix(base, ".md") {
		t.Errorf("unexpected filename %q", base)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading exported file: %v", err)
	}
	if !strings.Contains(string(content), "# default") {
		t.Error("exported file missing content")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"default", "default"},
		{"my session", "my_session"},
		{"we/ird:name", "weirdname"},
		{"///", "session"},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
