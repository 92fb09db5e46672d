// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"strings"
	"time"
)

// =============================================================================
// DISPLAY COALESCER
// =============================================================================

// Coalescer batches incoming fragments for incremental display. Fragments
// are emitted at word boundaries so mid-word flicker is avoided, except that
// a maximum latency forces a flush so slow token streams still feel live.
// Fragment order is preserved; the coalescer never reorders or rewrites text.
type Coalescer struct {
	emit       func(string)
	maxLatency time.Duration

	pending   strings.Builder
	lastFlush time.Time
	now       func() time.Time
}

// NewCoalescer creates a coalescer that delivers batches through emit.
func NewCoalescer(emit func(string), maxLatency time.Duration) *Coalescer {
	if maxLatency <= 0 {
		maxLatency = 100 * time.Millisecond
	}
	return &Coalescer{
		emit:       emit,
		maxLatency: maxLatency,
		now:        time.Now,
	}
}

// Add appends a fragment and emits any complete batch.
func (c *Coalescer) Add(text string) {
	c.pending.WriteString(text)
	if c.lastFlush.IsZero() {
		c.lastFlush = c.now()
	}

	if c.now().Sub(c.lastFlush) >= c.maxLatency {
		c.Flush()
		return
	}
	c.flushToBoundary()
}

// Flush emits everything held, including a trailing partial word. Call when
// the stream ends.
func (c *Coalescer) Flush() {
	if c.pending.Len() == 0 {
		return
	}
	c.emit(c.pending.String())
	c.pending.Reset()
	c.lastFlush = c.now()
}

// flushToBoundary emits up to and including the last whitespace, holding any
// trailing word fragment for the next batch.
func (c *Coalescer) flushToBoundary() {
	s := c.pending.String()
	boundary := strings.LastIndexAny(s, " \t\n")
	if boundary < 0 {
		return
	}
	c.emit(s[:boundary+1])
	c.pending.Reset()
	c.pending.WriteString(s[boundary+1:])
	c.lastFlush = c.now()
}
