// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package memory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/util"
)

// =============================================================================
// PERSONAL FACTS
// =============================================================================

// maxFactLength drops run-on messages; a usable personal fact is a short
// statement, not a paragraph.
const maxFactLength = 150

// maxFacts caps how many facts feed the prompt. Most recent wins.
const maxFacts = 5

// factsFileName is the per-session cache file, stored in the session root
// next to the turn log.
const factsFileName = "facts.json"

// factCategories maps a category to the user phrasings that mark a message
// as stating a fact of that kind. Matching is case-insensitive substring.
var factCategories = map[string][]string{
	"name":     {"my name", "call me", "name is"},
	"job":      {"i work", "my job", "my profession", "i'm a ", "i am a "},
	"pet":      {"my dog", "my cat", "my pet"},
	"family":   {"my wife", "my husband", "my partner", "my son", "my daughter", "my kids"},
	"location": {"i live", "i'm from", "i am from", "my city"},
	"age":      {"years old", "my age", "i'm turning"},
}

// factsCache is the serialized scan state. LastScanned lets an unchanged
// transcript skip re-scanning; a shrunken transcript (reset) invalidates the
// whole cache.
type factsCache struct {
	Facts       []string `json:"facts"`
	LastScanned int      `json:"last_scanned_message_index"`
}

// scanFacts extracts personal facts from user turns starting at index from.
// extra supplements the built-in category keywords.
func scanFacts(turns []model.Turn, from int, extra []string) []string {
	var facts []string
	for i := from; i < len(turns); i++ {
		turn := turns[i]
		if turn.Role != model.RoleUser {
			continue
		}
		text := strings.TrimSpace(turn.Content)
		if text == "" || len(text) >= maxFactLength {
			continue
		}
		if matchesFactCategory(text, extra) {
			facts = append(facts, text)
		}
	}
	return facts
}

func matchesFactCategory(text string, extra []string) bool {
	lower := strings.ToLower(text)
	for _, keywords := range factCategories {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}
	for _, kw := range extra {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// dedupeFacts keeps the most recent occurrence of each fact and trims to the
// cap, preserving order.
func dedupeFacts(facts []string) []string {
	seen := make(map[string]bool)
	unique := []string{}
	for i := len(facts) - 1; i >= 0; i-- {
		key := strings.ToLower(facts[i])
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append([]string{facts[i]}, unique...)
	}
	if len(unique) > maxFacts {
		unique = unique[len(unique)-maxFacts:]
	}
	return unique
}

// FormatFacts renders facts for prompt substitution.
func FormatFacts(facts []string) string {
	if len(facts) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("User's personal facts:")
	for _, fact := range facts {
		b.WriteString("\n- ")
		b.WriteString(fact)
	}
	return b.String()
}

// =============================================================================
// CACHE I/O
// =============================================================================

func (m *Memory) factsPath() string {
	return filepath.Join(m.store.Paths(m.session).Root, factsFileName)
}

func loadFactsCache(path string) factsCache {
	data, err := os.ReadFile(path)
	if err != nil {
		return factsCache{}
	}
	var cache factsCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return factsCache{}
	}
	return cache
}

func saveFactsCache(path string, cache factsCache) error {
	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return err
	}
	return util.AtomicWriteFile(path, data, 0644)
}

// refreshFacts brings the cache up to date with the session transcript.
// Caller holds m.mu.
func (m *Memory) refreshFacts() {
	turns, err := m.store.Load(m.session)
	if err != nil {
		return
	}

	cache := m.facts
	if cache.LastScanned > len(turns) {
		// Transcript shrank (reset); start over.
		cache = factsCache{}
	}
	if cache.LastScanned == len(turns) {
		return
	}

	fresh := scanFacts(turns, cache.LastScanned, m.factKeywords)
	cache.Facts = dedupeFacts(append(cache.Facts, fresh...))
	cache.LastScanned = len(turns)
	m.facts = cache

	if err := saveFactsCache(m.factsPath(), cache); err != nil {
		m.logf("memory|facts_save_failed|%s|%v", m.session, err)
	}
}
