// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"testing"
	"time"
)

// =============================================================================
// TIMESTAMP TESTS
// =============================================================================

func TestParseStamp_CanonicalLayout(t *testing.T) {
	s, err := ParseStamp("2024-01-01 00:00:00")
	if err != nil {
		t.Fatalf("ParseStamp failed: %v", err)
	}
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local)
	if !s.Time.Equal(want) {
		t.Errorf("parsed %v, want %v", s.Time, want)
	}
}

func TestParseStamp_ISO8601(t *testing.T) {
	tests := []string{
		"2024-06-15T12:30:45Z",
		"2024-06-15T12:30:45+02:00",
		"2024-06-15T12:30:45",
	}
	for _, raw := range tests {
		if _, err := ParseStamp(raw); err != nil {
			t.Errorf("ParseStamp(%q) failed: %v", raw, err)
		}
	}
}

func TestParseStamp_Invalid(t *testing.T) {
	if _, err := ParseStamp("not a timestamp"); err == nil {
		t.Error("expected error for garbage input")
	}
}

func TestStamp_RoundTrip(t *testing.T) {
	orig := NewStamp(time.Date(2024, 3, 10, 14, 22, 5, 0, time.Local))

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `"2024-03-10 14:22:05"` {
		t.Errorf("marshaled form = %s, want canonical layout", data)
	}

	var back Stamp
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !back.Equal(orig) {
		t.Errorf("round trip changed value: %v != %v", back.Time, orig.Time)
	}
}

func TestStamp_NormalizesISOOnRead(t *testing.T) {
	var s Stamp
	if err := json.Unmarshal([]byte(`"2024-03-10T14:22:05Z"`), &s); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	data, _ := json.Marshal(s)
	// Written back out in the canonical layout, not ISO-8601.
	var raw string
	json.Unmarshal(data, &raw)
	if _, err := time.ParseInLocation(StampLayout, raw, time.Local); err != nil {
		t.Errorf("re-marshaled timestamp %q is not canonical: %v", raw, err)
	}
}

// =============================================================================
// TURN TESTS
// =============================================================================

func TestTurn_JSONShape(t *testing.T) {
	turn := Turn{
		Role:      RoleUser,
		Content:   "héllo wörld",
		Timestamp: NewStamp(time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local)),
	}
	data, err := json.Marshal(turn)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var back Turn
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if back.Role != RoleUser || back.Content != "héllo wörld" {
		t.Errorf("round trip mismatch: %+v", back)
	}
	if back.AudioRef != "" {
		t.Errorf("AudioRef should be empty, got %q", back.AudioRef)
	}
}

func TestRole_DisplayName(t *testing.T) {
	tests := []struct {
		role Role
		want string
	}{
		{RoleUser, "You"},
		{RoleAssistant, "Assistant"},
		{RoleSystem, "System"},
		{Role("tool"), "tool"},
	}
	for _, tt := range tests {
		if got := tt.role.DisplayName(); got != tt.want {
			t.Errorf("DisplayName(%q) = %q, want %q", tt.role, got, tt.want)
		}
	}
}

func TestTurn_EstimateTokens(t *testing.T) {
	turn := NewUserTurn("12345678") // 8 chars -> 2 tokens
	if got := turn.EstimateTokens(); got != 2 {
		t.Errorf("EstimateTokens = %d, want 2", got)
	}
	empty := NewUserTurn("")
	if got := empty.EstimateTokens(); got != 0 {
		t.Errorf("EstimateTokens on empty = %d, want 0", got)
	}
}

func TestTurn_Preview(t *testing.T) {
	turn := NewAssistantTurn("line one\nline two that is fairly long")
	got := turn.Preview(15)
	if len([]rune(got)) > 15 {
		t.Errorf("Preview too long: %q", got)
	}
	for _, r := range got {
		if r == '\n' {
			t.Errorf("Preview contains newline: %q", got)
		}
	}
}
