// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/parley/internal/provider"
)

// =============================================================================
// GENERATION GATE
// =============================================================================

const (
	// minExchangeGap paces back-to-back exchanges so a completing request
	// fully settles on the backend before the next one is admitted.
	minExchangeGap = 500 * time.Millisecond

	// paceWaitLimit bounds how long an acquisition will wait on pacing
	// before giving up with busy.
	paceWaitLimit = 2 * time.Second
)

// Gate is the single-flight admission control for one backend identity. A
// second acquisition while one is held fails immediately with busy rather
// than queuing: local inference backends serialize requests internally, and
// queuing here would hide that from the user.
type Gate struct {
	mu      sync.Mutex
	held    bool
	holder  string
	since   time.Time
	limiter *rate.Limiter
}

// NewGate creates a gate for one backend identity.
func NewGate() *Gate {
	return &Gate{
		limiter: rate.NewLimiter(rate.Every(minExchangeGap), 1),
	}
}

// TryAcquire attempts a non-blocking acquisition. On success the returned
// release function must be called exactly once. An exchange already in flight
// fails immediately with busy; the only waiting permitted is the pacing delay
// after the previous release, bounded by paceWaitLimit.
func (g *Gate) TryAcquire(holder string) (func(), error) {
	g.mu.Lock()
	if g.held {
		g.mu.Unlock()
		return nil, provider.ErrBusy
	}
	g.held = true
	g.holder = holder
	g.since = time.Now()
	g.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), paceWaitLimit)
	defer cancel()
	if err := g.limiter.Wait(ctx); err != nil {
		g.release()
		return nil, provider.ErrBusy
	}

	var once sync.Once
	return func() { once.Do(g.release) }, nil
}

// Wait admits a minor request (model list, ping, unload) without taking the
// slot. It waits for any major exchange to release, bounded by both ctx and
// paceWaitLimit, then respects the same pacing limiter. Minor requests always
// yield to a major exchange.
func (g *Gate) Wait(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, paceWaitLimit)
	defer cancel()

	for g.Held() {
		select {
		case <-ctx.Done():
			return provider.ErrBusy
		case <-time.After(50 * time.Millisecond):
		}
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return provider.ErrBusy
	}
	return nil
}

func (g *Gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.held = false
	g.holder = ""
}

// Held reports whether the gate is currently held.
func (g *Gate) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}

// Status renders the gate state for display.
func (g *Gate) Status() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.held {
		return "Idle"
	}
	return fmt.Sprintf("Active: %s (%ds)", g.holder, int(time.Since(g.since).Seconds()))
}

// Reset force-clears a held gate. Recovery hatch for a wedged exchange; never
// part of the normal release path.
func (g *Gate) Reset() {
	g.release()
}
