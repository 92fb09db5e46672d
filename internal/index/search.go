// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

import (
	"strings"
)

// =============================================================================
// SEARCH
// =============================================================================

// Match is one search hit.
type Match struct {
	Session   string
	Role      string
	Content   string
	Snippet   string // Highlighted excerpt around the match
	Timestamp string
}

// Search runs a full-text query across all indexed transcripts, best matches
// first. Bare terms are combined with implicit AND by FTS5; quoted phrases
// work as expected.
func (idx *SessionIndex) Search(query string, limit int) ([]Match, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Match{}, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := idx.db.Query(`
		SELECT s.name, t.role, t.content, t.timestamp,
		       snippet(turns_fts, 0, '[', ']', '…', 12)
		FROM turns_fts
		JOIN turns t ON t.id = turns_fts.rowid
		JOIN sessions s ON s.id = t.session_id
		WHERE turns_fts MATCH ? AND s.backend = ?
		ORDER BY rank
		LIMIT ?
	`, query, idx.store.Backend, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	matches := []Match{}
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.Session, &m.Role, &m.Content, &m.Timestamp, &m.Snippet); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
