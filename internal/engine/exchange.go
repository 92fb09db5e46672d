// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine executes generation requests as cancellable, observable
// units of work. One Exchange is one request: it enforces single-flight
// admission through the Gate, relays text fragments in backend order, and
// reports a terminal state that distinguishes completion, user cancellation,
// and failure.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/provider"
)

// =============================================================================
// EXCHANGE STATES
// =============================================================================

// State is the lifecycle state of one exchange.
type State string

const (
	StatePending   State = "pending"
	StateStreaming State = "streaming"
	StateCompleted State = "completed"
	StateStopped   State = "stopped"
	StateErrored   State = "errored"
)

// validTransitions defines the allowed state machine edges.
var validTransitions = map[State][]State{
	StatePending:   {StateStreaming, StateStopped, StateErrored},
	StateStreaming: {StateCompleted, StateStopped, StateErrored},
	StateCompleted: {},
	StateStopped:   {},
	StateErrored:   {},
}

func canTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ErrStopped is the terminal signal for a user-cancelled exchange. Distinct
// from failure: the caller treats it as a quiet outcome, not an error to
// display.
var ErrStopped = errors.New("generation stopped")

// stopGrace bounds how long Stop waits for the stream to wind down before
// returning anyway.
const stopGrace = 2 * time.Second

// =============================================================================
// ENGINE
// =============================================================================

// Engine owns the per-backend admission gate and starts exchanges.
type Engine struct {
	mu    sync.Mutex
	gates map[string]*Gate
}

// New creates an engine.
func New() *Engine {
	return &Engine{gates: make(map[string]*Gate)}
}

// Gate returns the admission gate for a backend identity, creating it on
// first use.
func (e *Engine) Gate(backend string) *Gate {
	e.mu.Lock()
	defer e.mu.Unlock()
	gate, ok := e.gates[backend]
	if !ok {
		gate = NewGate()
		e.gates[backend] = gate
	}
	return gate
}

// Start begins a streaming exchange. Fails fast with busy when another
// exchange is in flight for the same backend identity.
func (e *Engine) Start(ctx context.Context, p provider.Provider, req provider.Request) (*Exchange, error) {
	release, err := e.Gate(p.Name()).TryAcquire(req.Model)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	x := &Exchange{
		ID:      uuid.New().String(),
		Backend: p.Name(),
		state:   StatePending,
		chunks:  make(chan string, 64),
		done:    make(chan struct{}),
		stats:   model.NewStatistics(),
		cancel:  cancel,
		release: release,
	}
	go x.run(ctx, p, req)
	return x, nil
}

// Generate runs a non-streaming request under the same admission gate. An
// empty successful response is reported as a distinct failure from transport
// errors so the two can be diagnosed separately.
func (e *Engine) Generate(ctx context.Context, p provider.Provider, req provider.Request) (string, *provider.Usage, error) {
	release, err := e.Gate(p.Name()).TryAcquire(req.Model)
	if err != nil {
		return "", nil, err
	}
	defer release()

	text, usage, err := p.Generate(ctx, req)
	if err != nil {
		return "", nil, err
	}
	if strings.TrimSpace(text) == "" {
		return "", nil, provider.ErrEmptyResult
	}
	return text, usage, nil
}

// =============================================================================
// EXCHANGE
// =============================================================================

// Exchange is one in-flight streaming generation.
type Exchange struct {
	ID      string
	Backend string

	mu    sync.Mutex
	state State

	chunks chan string
	done   chan struct{}

	full  strings.Builder
	usage *provider.Usage
	stats *model.Statistics
	err   error

	cancel  context.CancelFunc
	release func()
}

// Chunks yields text fragments in backend order. Closed when the exchange
// reaches a terminal state; consumers must drain it.
func (x *Exchange) Chunks() <-chan string {
	return x.chunks
}

// State returns the current lifecycle state.
func (x *Exchange) State() State {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.state
}

// Stop requests cooperative cancellation and waits a bounded grace period
// for the exchange to wind down. Safe to call more than once.
func (x *Exchange) Stop() {
	x.cancel()
	select {
	case <-x.done:
	case <-time.After(stopGrace):
	}
}

// Wait blocks until the exchange reaches a terminal state and returns the
// final text, token usage and terminal signal: nil for completion, ErrStopped
// for cancellation, the failure otherwise. On stop or error the partial text
// is discarded.
func (x *Exchange) Wait() (string, *provider.Usage, error) {
	<-x.done
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.err != nil {
		return "", nil, x.err
	}
	return x.full.String(), x.usage, nil
}

// Stats returns timing and token accounting. Meaningful after Wait.
func (x *Exchange) Stats() *model.Statistics {
	return x.stats
}

// transition moves the state machine, enforcing valid edges.
func (x *Exchange) transition(to State) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if !canTransition(x.state, to) {
		return fmt.Errorf("invalid transition %s -> %s", x.state, to)
	}
	x.state = to
	return nil
}

// =============================================================================
// EXECUTION
// =============================================================================

func (x *Exchange) run(ctx context.Context, p provider.Provider, req provider.Request) {
	// The gate must be free by the time done closes, so a caller that
	// re-sends as soon as Wait returns never sees a spurious busy.
	defer close(x.done)
	defer x.release()
	defer close(x.chunks)
	defer x.cancel()

	stream, err := p.GenerateStream(ctx, req)
	if err != nil {
		x.finish(StateErrored, err)
		return
	}
	x.transition(StateStreaming)

	for chunk := range stream.Chunks() {
		// Cancellation is observed between fragment deliveries, not
		// preemptively.
		if ctx.Err() != nil {
			break
		}
		if chunk.Text != "" {
			x.stats.RecordFirstChunk()
			x.full.WriteString(chunk.Text)
			select {
			case x.chunks <- chunk.Text:
			case <-ctx.Done():
			}
		}
		if chunk.Usage != nil {
			x.usage = chunk.Usage
		}
	}
	// Drain so the provider goroutine can finish during the grace period.
	for range stream.Chunks() {
	}

	if ctx.Err() != nil {
		x.finish(StateStopped, ErrStopped)
		return
	}
	if serr := stream.Err(); serr != nil {
		if errors.Is(serr, context.Canceled) {
			x.finish(StateStopped, ErrStopped)
			return
		}
		x.finish(StateErrored, serr)
		return
	}
	if strings.TrimSpace(x.full.String()) == "" {
		x.finish(StateErrored, provider.ErrEmptyResult)
		return
	}

	x.finish(StateCompleted, nil)
	if x.usage != nil {
		x.stats.Finalize(x.usage.PromptTokens, x.usage.CompletionTokens)
	} else {
		x.stats.Finalize(0, (x.full.Len()+3)/4)
	}
}

func (x *Exchange) finish(state State, err error) {
	x.transition(state)
	x.mu.Lock()
	x.err = err
	x.mu.Unlock()
}
