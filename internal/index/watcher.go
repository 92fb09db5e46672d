// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// SESSION WATCHER
// =============================================================================

// Watcher keeps the index current by watching the store's namespace
// directory. Session log writes are debounced before reindexing since a save
// may arrive as several filesystem events.
type Watcher struct {
	idx      *SessionIndex
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]time.Time // session name -> last change time

	ctx    context.Context
	cancel context.CancelFunc
}

// Watch starts watching the store and keeps the index in sync. The returned
// watcher is owned by the index and closed with it.
func (idx *SessionIndex) Watch(debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		idx:      idx,
		watcher:  fsw,
		debounce: debounce,
		pending:  make(map[string]time.Time),
		ctx:      ctx,
		cancel:   cancel,
	}

	if err := fsw.Add(idx.store.BaseDir); err != nil {
		fsw.Close()
		cancel()
		return nil, err
	}
	// Watch existing session directories for log writes.
	entries, err := os.ReadDir(idx.store.BaseDir)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				fsw.Add(filepath.Join(idx.store.BaseDir, entry.Name()))
			}
		}
	}

	go w.processEvents()
	go w.processPending()
	idx.watcher = w
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.cancel()
	return w.watcher.Close()
}

func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.idx.logger.Printf("index|watch_error|%v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	rel, err := filepath.Rel(w.idx.store.BaseDir, event.Name)
	if err != nil || rel == "." {
		return
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	session := parts[0]

	switch {
	case event.Op&fsnotify.Create != 0 && len(parts) == 1:
		// New session directory: watch it and index it once the log lands.
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.watcher.Add(event.Name)
			w.enqueue(session)
		}

	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 && len(parts) == 1:
		if err := w.idx.RemoveSession(session); err != nil {
			w.idx.logger.Printf("index|remove_failed|%s|%v", session, err)
		}

	case event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 && isSessionLog(parts):
		w.enqueue(session)
	}
}

// isSessionLog reports whether the event path is a session's turn log
// (<session>/<session>.json), ignoring artifact directories and cache files.
func isSessionLog(parts []string) bool {
	return len(parts) == 2 && parts[1] == parts[0]+".json"
}

func (w *Watcher) enqueue(session string) {
	w.mu.Lock()
	w.pending[session] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) processPending() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case <-ticker.C:
			now := time.Now()
			w.mu.Lock()
			var due []string
			for session, changed := range w.pending {
				if now.Sub(changed) >= w.debounce {
					due = append(due, session)
					delete(w.pending, session)
				}
			}
			w.mu.Unlock()

			for _, session := range due {
				if !w.idx.store.Exists(session) {
					w.idx.RemoveSession(session)
					continue
				}
				if err := w.idx.ReindexSession(session); err != nil {
					w.idx.logger.Printf("index|reindex_failed|%s|%v", session, err)
				}
			}
		}
	}
}
