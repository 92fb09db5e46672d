// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/parley/internal/model"
)

// =============================================================================
// AUDIO CORRELATION
// =============================================================================

// audioMatchWindow bounds how long after an assistant turn a clip may have
// been written and still be attributed to it. Synthesis finishes within
// seconds of the turn being committed; a minute absorbs slow hardware.
const audioMatchWindow = time.Minute

var audioExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".ogg":  true,
	".flac": true,
	".opus": true,
}

// ScanAudio correlates clips in the session's audio directory with assistant
// turns by timestamp proximity. Clips carry no foreign key; a clip belongs to
// the most recent assistant turn whose timestamp precedes the clip's mtime
// within the match window. Returns a map from turn index to clip filename;
// turns with no clip are absent.
func (s *Store) ScanAudio(name string, turns []model.Turn) (map[int]string, error) {
	if !validName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	entries, err := os.ReadDir(s.Paths(name).Audio)
	if err != nil {
		if os.IsNotExist(err) {
			return map[int]string{}, nil
		}
		return nil, fmt.Errorf("failed to scan audio directory: %w", err)
	}

	matched := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() || !audioExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		mtime := info.ModTime()

		// Latest assistant turn at or before the clip, within the window.
		best := -1
		for i, turn := range turns {
			if turn.Role != model.RoleAssistant {
				continue
			}
			ts := turn.Timestamp.Time
			if ts.After(mtime) {
				break
			}
			if mtime.Sub(ts) <= audioMatchWindow {
				best = i
			}
		}
		if best >= 0 {
			// First clip wins for a given turn; later clips are duplicates
			// from a regenerated response and are left unattributed.
			if _, taken := matched[best]; !taken {
				matched[best] = entry.Name()
			}
		}
	}
	return matched, nil
}
