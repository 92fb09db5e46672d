// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/jeranaias/parley/internal/util"
)

// =============================================================================
// RUNTIME SETTINGS
// =============================================================================

// Settings is a JSON-backed key/value state file for runtime-mutable state
// such as the last active session per backend and sampling overrides.
//
// Writes are batched: Set records a pending change in memory and nothing
// touches disk until Flush. There is no autosave; callers own the commit
// points.
type Settings struct {
	path string

	mu      sync.Mutex
	values  map[string]any
	pending map[string]any
}

// OpenSettings loads the settings file at path, treating a missing file as an
// empty settings set. A corrupt file is an error.
func OpenSettings(path string) (*Settings, error) {
	s := &Settings{
		path:    path,
		values:  make(map[string]any),
		pending: make(map[string]any),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if err := json.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return s, nil
}

// Set records a pending value. The change is not persisted until Flush.
func (s *Settings) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[key] = value
}

// Dirty reports whether there are unpersisted changes.
func (s *Settings) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0
}

// Flush merges pending changes into the value set and writes the whole file
// atomically. A no-op when nothing is pending.
func (s *Settings) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil
	}
	for k, v := range s.pending {
		s.values[k] = v
	}

	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := util.AtomicWriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	s.pending = make(map[string]any)
	return nil
}

// Discard drops all pending changes without persisting them.
func (s *Settings) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = make(map[string]any)
}

// get returns the effective value for key, pending changes first.
func (s *Settings) get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.pending[key]; ok {
		return v, true
	}
	v, ok := s.values[key]
	return v, ok
}

// GetString returns the string value for key, or def when absent or not a
// string.
func (s *Settings) GetString(key, def string) string {
	v, ok := s.get(key)
	if !ok {
		return def
	}
	str, ok := v.(string)
	if !ok {
		return def
	}
	return str
}

// GetInt returns the integer value for key, or def when absent or not
// numeric. JSON numbers decode as float64; string digits are accepted for
// hand-edited files.
func (s *Settings) GetInt(key string, def int) int {
	v, ok := s.get(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	case string:
		if parsed, err := strconv.Atoi(n); err == nil {
			return parsed
		}
	}
	return def
}

// GetBool returns the boolean value for key, or def when absent or not a
// boolean.
func (s *Settings) GetBool(key string, def bool) bool {
	v, ok := s.get(key)
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// GetFloat returns the float value for key, or def when absent or not
// numeric.
func (s *Settings) GetFloat(key string, def float64) float64 {
	v, ok := s.get(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return def
}
