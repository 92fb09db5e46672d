// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jeranaias/parley/internal/store"
)

// =============================================================================
// SESSION INDEX
// =============================================================================

// SessionIndex maintains a searchable SQLite mirror of one backend's session
// transcripts. The store remains the source of truth; the index is rebuilt
// from it and can be deleted at any time without data loss.
type SessionIndex struct {
	db      *sql.DB
	store   *store.Store
	logger  *log.Logger
	watcher *Watcher
}

// Open creates or opens the index database at path.
func Open(path string, st *store.Store, logger *log.Logger) (*SessionIndex, error) {
	if logger == nil {
		logger = log.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}
	// The index has a single writer; serialize access at the pool level so
	// the watcher and CLI never contend for SQLite's write lock.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA foreign_keys=ON;", Schema, InitMetadata} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize index schema: %w", err)
		}
	}
	return &SessionIndex{db: db, store: st, logger: logger}, nil
}

// Close stops watching and closes the database.
func (idx *SessionIndex) Close() error {
	if idx.watcher != nil {
		idx.watcher.Close()
	}
	return idx.db.Close()
}

// =============================================================================
// REINDEXING
// =============================================================================

// ReindexSession replaces the indexed transcript for one session with the
// store's current contents.
func (idx *SessionIndex) ReindexSession(name string) error {
	turns, err := idx.store.Load(name)
	if err != nil {
		return err
	}

	tx, err := idx.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO sessions (backend, name, turn_count, indexed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(backend, name) DO UPDATE
		SET turn_count = excluded.turn_count, indexed_at = excluded.indexed_at
	`, idx.store.Backend, name, len(turns), time.Now().Unix())
	if err != nil {
		return err
	}

	var sessionID int64
	err = tx.QueryRow("SELECT id FROM sessions WHERE backend = ? AND name = ?",
		idx.store.Backend, name).Scan(&sessionID)
	if err != nil {
		return err
	}

	if _, err := tx.Exec("DELETE FROM turns WHERE session_id = ?", sessionID); err != nil {
		return err
	}
	for seq, turn := range turns {
		_, err := tx.Exec(`
			INSERT INTO turns (session_id, seq, role, content, timestamp)
			VALUES (?, ?, ?, ?, ?)
		`, sessionID, seq, turn.Role.String(), turn.Content, turn.Timestamp.Format("2006-01-02 15:04:05"))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RemoveSession drops a session from the index.
func (idx *SessionIndex) RemoveSession(name string) error {
	_, err := idx.db.Exec("DELETE FROM sessions WHERE backend = ? AND name = ?",
		idx.store.Backend, name)
	return err
}

// ReindexAll rebuilds the index for every session in the store.
func (idx *SessionIndex) ReindexAll() error {
	names, err := idx.store.List()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := idx.ReindexSession(name); err != nil {
			idx.logger.Printf("index|reindex_failed|%s|%v", name, err)
		}
	}
	return nil
}

// SessionCount reports how many sessions are indexed.
func (idx *SessionIndex) SessionCount() (int, error) {
	var n int
	err := idx.db.QueryRow("SELECT COUNT(*) FROM sessions WHERE backend = ?",
		idx.store.Backend).Scan(&n)
	return n, err
}
