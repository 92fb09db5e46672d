// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store provides durable storage for named chat sessions.
//
// Each backend identity owns its own namespace directory
// (sessions_<backend>, with "-" mapped to "_"); sessions within it are plain
// directories holding a JSON turn log plus audio/ and images/ artifact
// subdirectories. The three always exist together: EnsureSession never creates
// a session root without its subfolders.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrInvalidName is returned when a session name is not a valid single path
// segment. Full sanitization is the caller's concern; the store only refuses
// names that would escape its namespace.
var ErrInvalidName = errors.New("invalid session name")

// =============================================================================
// SESSION PATHS
// =============================================================================

// SessionPaths holds the resolved on-disk layout of one session.
type SessionPaths struct {
	Root   string // session directory
	Log    string // <name>.json turn log
	Audio  string // audio artifact directory
	Images string // image artifact directory
}

// =============================================================================
// STORE
// =============================================================================

// Store maps (backend identity, session name) pairs to durable storage.
// It performs no locking of its own: the orchestrator is the single writer
// per backend identity by design, and every save is a whole-file atomic
// overwrite.
type Store struct {
	// Backend is the backend identity this store namespaces sessions under.
	Backend string

	// BaseDir is the namespace directory, e.g. <data>/sessions_ollama.
	BaseDir string
}

// New creates a store for one backend identity under dataDir. The namespace
// directory is created immediately; failure to create it is a storage error
// and must surface.
func New(dataDir, backend string) (*Store, error) {
	ns := "sessions_" + strings.ReplaceAll(backend, "-", "_")
	baseDir := filepath.Join(dataDir, ns)
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session namespace: %w", err)
	}
	return &Store{Backend: backend, BaseDir: baseDir}, nil
}

// validName reports whether name is usable as a single path segment.
func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) {
		return false
	}
	return true
}

// =============================================================================
// LAYOUT
// =============================================================================

// Paths derives the on-disk layout for a session name without touching the
// filesystem.
func (s *Store) Paths(name string) SessionPaths {
	root := filepath.Join(s.BaseDir, name)
	return SessionPaths{
		Root:   root,
		Log:    filepath.Join(root, name+".json"),
		Audio:  filepath.Join(root, "audio"),
		Images: filepath.Join(root, "images"),
	}
}

// AudioDir returns the audio artifact directory for a session. Callers must
// derive this per use and never cache it across session switches.
func (s *Store) AudioDir(name string) string {
	return s.Paths(name).Audio
}

// ImagesDir returns the image artifact directory for a session.
func (s *Store) ImagesDir(name string) string {
	return s.Paths(name).Images
}

// EnsureSession idempotently creates the root, audio and images directories
// for a session. "Already exists" is success; a filesystem rejection is fatal
// to the calling operation and propagates.
func (s *Store) EnsureSession(name string) (SessionPaths, error) {
	if !validName(name) {
		return SessionPaths{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	paths := s.Paths(name)
	for _, dir := range []string{paths.Root, paths.Audio, paths.Images} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return SessionPaths{}, fmt.Errorf("failed to create session directory: %w", err)
		}
	}
	return paths, nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load returns the persisted turn sequence for a session. A missing log file
// is the first-use case and yields an empty sequence, never an error. A
// corrupt log is a storage error and surfaces.
func (s *Store) Load(name string) ([]model.Turn, error) {
	if !validName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	data, err := os.ReadFile(s.Paths(name).Log)
	if err != nil {
		if os.IsNotExist(err) {
			return []model.Turn{}, nil
		}
		return nil, fmt.Errorf("failed to read session log: %w", err)
	}

	var turns []model.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("corrupt session log %q: %w", name, err)
	}
	return turns, nil
}

// Save overwrites the session's persisted log with the full turn sequence.
// Total-overwrite semantics: the in-memory list is append-only, but the
// persisted form is always rewritten whole, via write-then-rename so a crash
// mid-write cannot corrupt the previous successful save.
func (s *Store) Save(name string, turns []model.Turn) error {
	paths, err := s.EnsureSession(name)
	if err != nil {
		return err
	}
	if turns == nil {
		turns = []model.Turn{}
	}
	data, err := json.MarshalIndent(turns, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session log: %w", err)
	}
	if err := util.AtomicWriteFile(paths.Log, data, 0644); err != nil {
		return fmt.Errorf("failed to write session log: %w", err)
	}
	return nil
}

// Reset truncates a session's log to an empty turn list. Audio and image
// artifacts are retained; only the transcript is cleared.
func (s *Store) Reset(name string) error {
	return s.Save(name, []model.Turn{})
}

// =============================================================================
// RENAME / LIST / DELETE
// =============================================================================

// Rename moves a session to a new name. Returns false without touching the
// filesystem if the source does not exist, the destination already exists, or
// either name is invalid. A destructive clobber is never allowed; this is an
// expected, recoverable condition driven by user input, so it is a flag
// rather than an error.
func (s *Store) Rename(oldName, newName string) bool {
	if !validName(oldName) || !validName(newName) || oldName == newName {
		return false
	}
	oldPaths := s.Paths(oldName)
	newPaths := s.Paths(newName)

	if _, err := os.Stat(oldPaths.Root); err != nil {
		return false
	}
	if _, err := os.Stat(newPaths.Root); err == nil {
		return false
	}

	if err := os.Rename(oldPaths.Root, newPaths.Root); err != nil {
		return false
	}
	// The log file inside carries the session name; move it to match.
	oldLog := filepath.Join(newPaths.Root, oldName+".json")
	if _, err := os.Stat(oldLog); err == nil {
		os.Rename(oldLog, newPaths.Log)
	}
	return true
}

// List enumerates session names in lexicographic order for determinism.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	names := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Exists reports whether a session directory is present.
func (s *Store) Exists(name string) bool {
	if !validName(name) {
		return false
	}
	info, err := os.Stat(s.Paths(name).Root)
	return err == nil && info.IsDir()
}

// Remove deletes a session and all of its artifacts.
func (s *Store) Remove(name string) error {
	if !validName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if err := os.RemoveAll(s.Paths(name).Root); err != nil {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}

// =============================================================================
// SIZE ACCOUNTING
// =============================================================================

// LogSize returns the byte size of the session's log file only.
func (s *Store) LogSize(name string) int64 {
	return util.FileSize(s.Paths(name).Log)
}

// AudioSize returns the recursive byte size of the session's audio directory.
func (s *Store) AudioSize(name string) int64 {
	return util.DirSize(s.Paths(name).Audio)
}

// ImagesSize returns the recursive byte size of the session's images directory.
func (s *Store) ImagesSize(name string) int64 {
	return util.DirSize(s.Paths(name).Images)
}

// TotalAudioSize sums audio artifact sizes across every session in the
// namespace.
func (s *Store) TotalAudioSize() int64 {
	names, err := s.List()
	if err != nil {
		return 0
	}
	var total int64
	for _, name := range names {
		total += s.AudioSize(name)
	}
	return total
}
