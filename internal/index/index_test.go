// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/store"
)

func newTestIndex(t *testing.T) (*SessionIndex, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(dir, "ollama")
	if err != nil {
		t.Fatal(err)
	}
	idx, err := Open(filepath.Join(dir, "index.db"), st, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx, st
}

// =============================================================================
// REINDEX TESTS
// =============================================================================

func TestReindexAndSearch(t *testing.T) {
	idx, st := newTestIndex(t)
	st.Save("default", []model.Turn{
		model.NewUserTurn("tell me about hummingbirds"),
		model.NewAssistantTurn("Hummingbirds can hover and even fly backwards."),
	})
	st.Save("cooking", []model.Turn{
		model.NewUserTurn("how do I roast garlic"),
	})
	if err := idx.ReindexAll(); err != nil {
		t.Fatalf("ReindexAll failed: %v", err)
	}

	matches, err := idx.Search("hummingbirds", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	for _, m := range matches {
		if m.Session != "default" {
			t.Errorf("match from wrong session: %+v", m)
		}
		if m.Snippet == "" {
			t.Errorf("empty snippet: %+v", m)
		}
	}

	matches, err = idx.Search("garlic", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 1 || matches[0].Session != "cooking" {
		t.Errorf("matches = %+v", matches)
	}
}

func TestReindexSession_ReplacesOldTurns(t *testing.T) {
	idx, st := newTestIndex(t)
	st.Save("default", []model.Turn{model.NewUserTurn("original topic: volcanoes")})
	if err := idx.ReindexSession("default"); err != nil {
		t.Fatal(err)
	}

	st.Save("default", []model.Turn{model.NewUserTurn("new topic: glaciers")})
	if err := idx.ReindexSession("default"); err != nil {
		t.Fatal(err)
	}

	if matches, _ := idx.Search("volcanoes", 10); len(matches) != 0 {
		t.Errorf("stale content still indexed: %+v", matches)
	}
	if matches, _ := idx.Search("glaciers", 10); len(matches) != 1 {
		t.Errorf("new content missing: %+v", matches)
	}
}

func TestRemoveSession(t *testing.T) {
	idx, st := newTestIndex(t)
	st.Save("doomed", []model.Turn{model.NewUserTurn("ephemeral content")})
	idx.ReindexSession("doomed")

	if err := idx.RemoveSession("doomed"); err != nil {
		t.Fatalf("RemoveSession failed: %v", err)
	}
	if matches, _ := idx.Search("ephemeral", 10); len(matches) != 0 {
		t.Errorf("removed session still searchable: %+v", matches)
	}
	if n, _ := idx.SessionCount(); n != 0 {
		t.Errorf("SessionCount = %d, want 0", n)
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	idx, _ := newTestIndex(t)
	matches, err := idx.Search("   ", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("matches = %+v", matches)
	}
}

func TestSearch_Stemming(t *testing.T) {
	idx, st := newTestIndex(t)
	st.Save("default", []model.Turn{model.NewUserTurn("we discussed hiking trails")})
	idx.ReindexSession("default")

	// Porter stemming matches inflected forms.
	matches, err := idx.Search("hike", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 1 {
		t.Errorf("stemmed query found %d matches, want 1", len(matches))
	}
}

// =============================================================================
// WATCHER TESTS
// =============================================================================

func TestWatcher_IndexesNewSaves(t *testing.T) {
	idx, st := newTestIndex(t)
	if _, err := idx.Watch(50 * time.Millisecond); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	st.Save("default", []model.Turn{model.NewUserTurn("watched pelicans today")})

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if matches, _ := idx.Search("pelicans", 10); len(matches) == 1 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("watcher never indexed the save")
}
