// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jeranaias/parley/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), "ollama")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

// =============================================================================
// NAMESPACE TESTS
// =============================================================================

func TestNew_NamespaceDirectory(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, "llama-server")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// Dashes in the backend identity map to underscores.
	want := filepath.Join(dir, "sessions_llama_server")
	if s.BaseDir != want {
		t.Errorf("BaseDir = %q, want %q", s.BaseDir, want)
	}
	if info, err := os.Stat(want); err != nil || !info.IsDir() {
		t.Errorf("namespace directory not created: %v", err)
	}
}

func TestNew_BackendsAreIsolated(t *testing.T) {
	dir := t.TempDir()
	ollama, _ := New(dir, "ollama")
	llama, _ := New(dir, "llama-server")

	if _, err := ollama.EnsureSession("default"); err != nil {
		t.Fatalf("EnsureSession failed: %v", err)
	}
	ollama.Save("default", []model.Turn{model.NewUserTurn("hi")})

	turns, err := llama.Load("default")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("backend namespaces leaked: got %d turns", len(turns))
	}
}

// =============================================================================
// ENSURE / LOAD / SAVE TESTS
// =============================================================================

func TestEnsureSession_CreatesFullLayout(t *testing.T) {
	s := newTestStore(t)

	paths, err := s.EnsureSession("default")
	if err != nil {
		t.Fatalf("EnsureSession failed: %v", err)
	}
	for _, dir := range []string{paths.Root, paths.Audio, paths.Images} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("missing directory %s: %v", dir, err)
		}
	}

	// Idempotent.
	if _, err := s.EnsureSession("default"); err != nil {
		t.Errorf("second EnsureSession failed: %v", err)
	}

	// Fresh session loads as empty, not as an error.
	turns, err := s.Load("default")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("fresh session has %d turns, want 0", len(turns))
	}
}

func TestSaveLoad_SingleTurn(t *testing.T) {
	s := newTestStore(t)
	s.EnsureSession("default")

	turn := model.NewUserTurn("hello")
	if err := s.Save("default", []model.Turn{turn}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	turns, err := s.Load("default")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("got %d turns, want 1", len(turns))
	}
	if turns[0].Role != model.RoleUser || turns[0].Content != "hello" {
		t.Errorf("turn mismatch: %+v", turns[0])
	}
	if !turns[0].Timestamp.Equal(turn.Timestamp) {
		t.Errorf("timestamp changed across save/load")
	}
}

func TestLoad_MixedTimestampFormats(t *testing.T) {
	s := newTestStore(t)
	paths, _ := s.EnsureSession("legacy")

	// Log written partly by an older build with ISO-8601 timestamps.
	raw := `[
  {"role": "user", "content": "old", "timestamp": "2024-06-15T12:30:45Z"},
  {"role": "assistant", "content": "new", "timestamp": "2024-06-15 12:30:50"}
]`
	if err := os.WriteFile(paths.Log, []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}

	turns, err := s.Load("legacy")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("got %d turns, want 2", len(turns))
	}

	// A save normalizes everything to the canonical layout.
	if err := s.Save("legacy", turns); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	data, _ := os.ReadFile(paths.Log)
	if string(data) == raw {
		t.Error("save did not rewrite the log")
	}
	back, err := s.Load("legacy")
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if !back[0].Timestamp.Equal(turns[0].Timestamp) {
		t.Errorf("normalization changed the instant: %v != %v",
			back[0].Timestamp.Time, turns[0].Timestamp.Time)
	}
}

func TestLoad_CorruptLog(t *testing.T) {
	s := newTestStore(t)
	paths, _ := s.EnsureSession("broken")
	os.WriteFile(paths.Log, []byte("{not json"), 0644)

	if _, err := s.Load("broken"); err == nil {
		t.Error("expected error for corrupt log")
	}
}

func TestSave_Overwrites(t *testing.T) {
	s := newTestStore(t)
	s.Save("default", []model.Turn{
		model.NewUserTurn("one"),
		model.NewAssistantTurn("two"),
	})
	s.Save("default", []model.Turn{model.NewUserTurn("only")})

	turns, _ := s.Load("default")
	if len(turns) != 1 || turns[0].Content != "only" {
		t.Errorf("overwrite failed: %+v", turns)
	}
}

func TestReset_KeepsArtifacts(t *testing.T) {
	s := newTestStore(t)
	paths, _ := s.EnsureSession("default")
	s.Save("default", []model.Turn{model.NewUserTurn("hi")})
	os.WriteFile(filepath.Join(paths.Audio, "clip.wav"), []byte("wav"), 0644)

	if err := s.Reset("default"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	turns, _ := s.Load("default")
	if len(turns) != 0 {
		t.Errorf("reset left %d turns", len(turns))
	}
	if _, err := os.Stat(filepath.Join(paths.Audio, "clip.wav")); err != nil {
		t.Error("reset removed audio artifact")
	}
}

// =============================================================================
// RENAME TESTS
// =============================================================================

func TestRename(t *testing.T) {
	s := newTestStore(t)
	s.Save("old", []model.Turn{model.NewUserTurn("hi")})

	if !s.Rename("old", "new") {
		t.Fatal("Rename returned false")
	}
	if s.Exists("old") {
		t.Error("source still exists after rename")
	}
	turns, err := s.Load("new")
	if err != nil || len(turns) != 1 {
		t.Errorf("renamed session lost its log: %v, %d turns", err, len(turns))
	}
	// The log file inside follows the new name.
	if _, err := os.Stat(s.Paths("new").Log); err != nil {
		t.Errorf("log file not renamed: %v", err)
	}
}

func TestRename_Refusals(t *testing.T) {
	s := newTestStore(t)
	s.EnsureSession("a")
	s.EnsureSession("b")

	tests := []struct {
		name     string
		from, to string
	}{
		{"same name", "a", "a"},
		{"missing source", "ghost", "c"},
		{"existing destination", "a", "b"},
		{"invalid destination", "a", "x/y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if s.Rename(tt.from, tt.to) {
				t.Error("Rename should have returned false")
			}
		})
	}

	// Nothing changed on disk.
	names, _ := s.List()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("refused renames mutated the namespace: %v", names)
	}
}

// =============================================================================
// LIST / REMOVE TESTS
// =============================================================================

func TestList_Sorted(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		s.EnsureSession(name)
	}
	// Stray files in the namespace are not sessions.
	os.WriteFile(filepath.Join(s.BaseDir, "notes.txt"), []byte("x"), 0644)

	names, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"alpha", "mid", "zeta"}
	if len(names) != len(want) {
		t.Fatalf("got %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestRemove(t *testing.T) {
	s := newTestStore(t)
	s.Save("doomed", []model.Turn{model.NewUserTurn("bye")})

	if err := s.Remove("doomed"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if s.Exists("doomed") {
		t.Error("session still exists after Remove")
	}
	// Removing a missing session is not an error.
	if err := s.Remove("doomed"); err != nil {
		t.Errorf("second Remove failed: %v", err)
	}
}

func TestInvalidNames(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"", ".", "..", "a/b", `a\b`} {
		if _, err := s.EnsureSession(name); err == nil {
			t.Errorf("EnsureSession(%q) should fail", name)
		}
		if _, err := s.Load(name); err == nil {
			t.Errorf("Load(%q) should fail", name)
		}
	}
}

// =============================================================================
// SIZE TESTS
// =============================================================================

func TestSizes(t *testing.T) {
	s := newTestStore(t)
	paths, _ := s.EnsureSession("default")
	s.Save("default", []model.Turn{model.NewUserTurn("hello")})
	os.WriteFile(filepath.Join(paths.Audio, "a.wav"), make([]byte, 100), 0644)
	os.WriteFile(filepath.Join(paths.Images, "i.png"), make([]byte, 40), 0644)

	if got := s.LogSize("default"); got <= 0 {
		t.Errorf("LogSize = %d, want > 0", got)
	}
	if got := s.AudioSize("default"); got != 100 {
		t.Errorf("AudioSize = %d, want 100", got)
	}
	if got := s.ImagesSize("default"); got != 40 {
		t.Errorf("ImagesSize = %d, want 40", got)
	}

	other, _ := s.EnsureSession("other")
	os.WriteFile(filepath.Join(other.Audio, "b.wav"), make([]byte, 25), 0644)
	if got := s.TotalAudioSize(); got != 125 {
		t.Errorf("TotalAudioSize = %d, want 125", got)
	}
}

// =============================================================================
// AUDIO SCAN TESTS
// =============================================================================

func TestScanAudio(t *testing.T) {
	s := newTestStore(t)
	paths, _ := s.EnsureSession("default")

	base := time.Date(2024, 3, 10, 14, 0, 0, 0, time.Local)
	turns := []model.Turn{
		{Role: model.RoleAssistant, Content: "a", Timestamp: model.NewStamp(base)},
		{Role: model.RoleAssistant, Content: "b", Timestamp: model.NewStamp(base.Add(time.Minute))},
	}
	s.Save("default", turns)

	// Clip written two seconds after the first assistant turn.
	clip := filepath.Join(paths.Audio, "reply.wav")
	os.WriteFile(clip, []byte("wav"), 0644)
	os.Chtimes(clip, base.Add(2*time.Second), base.Add(2*time.Second))

	matched, err := s.ScanAudio("default", turns)
	if err != nil {
		t.Fatalf("ScanAudio failed: %v", err)
	}
	if matched[0] != "reply.wav" {
		t.Errorf("clip not matched to first turn: %v", matched)
	}
	if matched[1] != "" {
		t.Errorf("second turn should have no clip, got %q", matched[1])
	}
}
