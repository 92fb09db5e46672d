// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package memory supplies conversation context for prompt assembly: recent
// exchanges from the live session, semantically similar past exchanges from
// a vector store, and extracted personal facts. Without an embedding backend
// it degrades to recents and facts only.
package memory

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/jeranaias/parley/internal/provider"
	"github.com/jeranaias/parley/internal/store"
)

// =============================================================================
// MEMORY
// =============================================================================

const (
	// defaultMaxRecents is how many recent exchanges feed the context block.
	defaultMaxRecents = 3

	// defaultTopK is how many semantic matches are retrieved per query.
	defaultTopK = 3
)

// exchangePair is one completed user/assistant exchange.
type exchangePair struct {
	User      string
	Assistant string
}

func (p exchangePair) render() string {
	return "User: " + p.User + "\nAssistant: " + p.Assistant
}

// Memory implements the orchestrator's context source.
type Memory struct {
	store        *store.Store
	embedder     provider.Embedder
	embedModel   string
	db           *chromem.DB
	logger       *log.Logger
	maxRecents   int
	topK         int
	factKeywords []string

	mu      sync.Mutex
	backend string
	session string
	coll    *chromem.Collection
	recents []exchangePair
	facts   factsCache
	seq     int
}

// Option configures a Memory.
type Option func(*Memory)

// WithEmbedder enables semantic recall through the given embedding backend.
// Without it only recents and facts are served.
func WithEmbedder(e provider.Embedder, model string) Option {
	return func(m *Memory) {
		m.embedder = e
		m.embedModel = model
	}
}

// WithLogger sets the event logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Memory) { m.logger = l }
}

// WithLimits overrides how many recent exchanges and semantic matches feed
// the context block. Non-positive values keep the defaults.
func WithLimits(maxRecents, topK int) Option {
	return func(m *Memory) {
		if maxRecents > 0 {
			m.maxRecents = maxRecents
		}
		if topK > 0 {
			m.topK = topK
		}
	}
}

// WithFactKeywords supplements the built-in personal-fact category keywords
// with custom ones. Matching is case-insensitive substring, like the built-in
// sets.
func WithFactKeywords(keywords ...string) Option {
	return func(m *Memory) {
		for _, kw := range keywords {
			if kw = strings.TrimSpace(kw); kw != "" {
				m.factKeywords = append(m.factKeywords, strings.ToLower(kw))
			}
		}
	}
}

// New creates a memory layer over a session store.
func New(st *store.Store, opts ...Option) *Memory {
	m := &Memory{
		store:      st,
		logger:     log.Default(),
		maxRecents: defaultMaxRecents,
		topK:       defaultTopK,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.embedder != nil {
		// The vector store persists beside the session namespace so
		// semantic recall survives restarts; documents carry their
		// embeddings, so nothing is re-embedded on load. Only built when
		// embeddings are actually available.
		db, err := chromem.NewPersistentDB(m.persistPath(), true)
		if err != nil {
			m.logf("memory|persist_failed|%v", err)
			db = chromem.NewDB()
		}
		m.db = db
	}
	return m
}

// persistPath is the on-disk vector store location, a sibling of the store's
// session namespace. Collections inside are namespaced per backend+session.
func (m *Memory) persistPath() string {
	return filepath.Join(filepath.Dir(m.store.BaseDir), "memory")
}

func (m *Memory) logf(format string, args ...any) {
	m.logger.Printf(format, args...)
}

// =============================================================================
// CONTEXT SOURCE
// =============================================================================

// Bind points the memory at a session and loads its fact cache.
func (m *Memory) Bind(backend, session string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backend = backend
	m.session = session
	m.recents = nil
	m.facts = loadFactsCache(m.factsPath())
	m.coll = nil

	if m.db == nil {
		return
	}
	name := collectionName(backend, session)
	coll, err := m.db.GetOrCreateCollection(name, nil, m.embeddingFunc())
	if err != nil {
		m.logf("memory|collection_failed|%s|%v", name, err)
		return
	}
	m.coll = coll
	// Continue document IDs past what earlier runs persisted.
	m.seq = coll.Count()
}

// Context assembles the conversation-context block for one exchange: recent
// exchanges first, then semantically similar past exchanges, deduplicated.
// Empty when the session has no usable history yet.
func (m *Memory) Context(ctx context.Context, backend, session, userText string) string {
	m.mu.Lock()
	recents := make([]exchangePair, len(m.recents))
	copy(recents, m.recents)
	coll := m.coll
	m.mu.Unlock()

	sections := []string{}
	seen := make(map[string]bool)
	for _, pair := range recents {
		rendered := pair.render()
		seen[rendered] = true
		sections = append(sections, rendered)
	}

	if coll != nil && coll.Count() > 0 {
		n := m.topK
		if count := coll.Count(); count < n {
			n = count
		}
		results, err := coll.Query(ctx, userText, n, nil, nil)
		if err != nil {
			m.logf("memory|query_failed|%s|%v", session, err)
		} else {
			for _, result := range results {
				if seen[result.Content] {
					continue
				}
				seen[result.Content] = true
				sections = append(sections, result.Content)
			}
		}
	}

	if len(sections) == 0 {
		return ""
	}
	return "## Conversation Context:\n" + strings.Join(sections, "\n\n")
}

// Record retains a completed exchange for future context.
func (m *Memory) Record(ctx context.Context, userText, assistantText string) {
	pair := exchangePair{User: userText, Assistant: assistantText}

	m.mu.Lock()
	m.recents = append(m.recents, pair)
	if len(m.recents) > m.maxRecents {
		m.recents = m.recents[len(m.recents)-m.maxRecents:]
	}
	m.seq++
	id := fmt.Sprintf("%s-%d", m.session, m.seq)
	coll := m.coll
	m.mu.Unlock()

	if coll == nil {
		return
	}
	err := coll.AddDocument(ctx, chromem.Document{
		ID:      id,
		Content: pair.render(),
	})
	if err != nil {
		m.logf("memory|add_failed|%s|%v", id, err)
	}
}

// Facts returns the personal-facts text for prompt substitution.
func (m *Memory) Facts() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == "" {
		return ""
	}
	m.refreshFacts()
	return FormatFacts(m.facts.Facts)
}

// =============================================================================
// HELPERS
// =============================================================================

// collectionName derives a stable chromem collection name from the backend
// and session identity.
func collectionName(backend, session string) string {
	name := backend + "_" + session
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, name)
}

func (m *Memory) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return m.embedder.Embed(ctx, m.embedModel, text)
	}
}
