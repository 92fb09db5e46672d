// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session coordinates one backend identity's chat state: which
// session is current, feeding the exchange engine from the prompt builder,
// committing results back into the store, and idle-unload timing for the
// backend's resident model.
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/jeranaias/parley/internal/cleaner"
	"github.com/jeranaias/parley/internal/engine"
	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/prompt"
	"github.com/jeranaias/parley/internal/provider"
	"github.com/jeranaias/parley/internal/store"
)

// DefaultSession is the session selected when nothing is remembered.
const DefaultSession = "default"

// =============================================================================
// CONSUMED CAPABILITIES
// =============================================================================

// ContextSource supplies memory context for prompt assembly and receives
// completed exchanges for retention. Implementations may return empty
// context; the orchestrator treats that as "no memory".
type ContextSource interface {
	// Bind points the source at a session; called on every switch.
	Bind(backend, session string)

	// Context returns retrieval context for the upcoming exchange.
	Context(ctx context.Context, backend, session, userText string) string

	// Record retains a completed exchange.
	Record(ctx context.Context, userText, assistantText string)

	// Facts returns the personal-facts text for prompt substitution.
	Facts() string
}

// Settings is the batched, explicit-commit settings capability.
type Settings interface {
	GetString(key, def string) string
	Set(key string, value any)
	Flush() error
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Config carries the generation configuration one orchestrator works with.
type Config struct {
	Model        string
	SystemPrompt string
	Params       provider.Params

	MaxContextMessages int
	TimeAware          bool
	PrependCritical    bool

	// UnloadAfter is how long the backend's model stays resident after the
	// last exchange. Zero disables idle unload.
	UnloadAfter time.Duration

	// DisplayNames feed the response cleaner's role-tag matching.
	DisplayNames []string
}

// Orchestrator is the top-level state machine for one backend identity.
// The in-memory turn list is mutated only here, and only after an exchange
// fully completes; the active session pointer is mutated only by Switch.
type Orchestrator struct {
	store    *store.Store
	engine   *engine.Engine
	prov     provider.Provider
	memory   ContextSource
	settings Settings
	clean    *cleaner.Cleaner
	logger   *log.Logger
	config   Config

	// onSaved, when set, is called after every successful persist so the
	// search index can pick up the session without waiting for the watcher.
	onSaved func(session string)

	// saveMu serializes every snapshot-and-save sequence. Snapshotting the
	// turn list and writing it are two steps; without this lock a commit
	// landing between a Switch's snapshot and its save would be overwritten
	// by the stale copy. Always acquired before mu, never after.
	saveMu sync.Mutex

	mu          sync.Mutex
	current     string
	turns       []model.Turn
	unloadTimer *time.Timer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMemory attaches a memory context source.
func WithMemory(m ContextSource) Option {
	return func(o *Orchestrator) { o.memory = m }
}

// WithSettings attaches the settings capability used to remember the last
// active session per backend.
func WithSettings(s Settings) Option {
	return func(o *Orchestrator) { o.settings = s }
}

// WithLogger sets the event logger.
func WithLogger(l *log.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithSaveHook registers a callback invoked after each successful persist.
func WithSaveHook(fn func(session string)) Option {
	return func(o *Orchestrator) { o.onSaved = fn }
}

// New creates an orchestrator and activates the remembered session for the
// backend, falling back to the default session.
func New(st *store.Store, eng *engine.Engine, prov provider.Provider, cfg Config, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		store:  st,
		engine: eng,
		prov:   prov,
		clean:  cleaner.New(cfg.DisplayNames...),
		logger: log.Default(),
		config: cfg,
	}
	for _, opt := range opts {
		opt(o)
	}

	name := DefaultSession
	if o.settings != nil {
		name = o.settings.GetString(o.lastSessionKey(), DefaultSession)
	}
	if err := o.activate(name); err != nil {
		if name == DefaultSession {
			return nil, err
		}
		// The remembered session may have been deleted out from under us.
		o.logf("session|restore_failed|%s|%v", name, err)
		if err := o.activate(DefaultSession); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *Orchestrator) lastSessionKey() string {
	return "last_session_" + o.prov.Name()
}

// activate loads a session into memory. Caller must not hold o.mu.
func (o *Orchestrator) activate(name string) error {
	if _, err := o.store.EnsureSession(name); err != nil {
		return err
	}
	turns, err := o.store.Load(name)
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.current = name
	o.turns = turns
	o.mu.Unlock()

	if o.memory != nil {
		o.memory.Bind(o.prov.Name(), name)
	}
	return nil
}

func (o *Orchestrator) logf(format string, args ...any) {
	o.logger.Printf(format, args...)
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Current returns the active session name.
func (o *Orchestrator) Current() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Turns returns a copy of the active session's in-memory turn list.
func (o *Orchestrator) Turns() []model.Turn {
	o.mu.Lock()
	defer o.mu.Unlock()
	turns := make([]model.Turn, len(o.turns))
	copy(turns, o.turns)
	return turns
}

// CurrentAudioDir returns the active session's audio directory. Derived per
// call so it always tracks the active session.
func (o *Orchestrator) CurrentAudioDir() string {
	return o.store.AudioDir(o.Current())
}

// CurrentImagesDir returns the active session's images directory.
func (o *Orchestrator) CurrentImagesDir() string {
	return o.store.ImagesDir(o.Current())
}

// Status renders the backend's gate state for display.
func (o *Orchestrator) Status() string {
	return o.engine.Gate(o.prov.Name()).Status()
}

// =============================================================================
// SEND
// =============================================================================

// Send starts one exchange for the active session. Fails fast with busy when
// one is already in flight. The caller must drain the returned exchange's
// Chunks channel; commit happens in the background once the exchange reaches
// a terminal state.
func (o *Orchestrator) Send(ctx context.Context, text string) (*engine.Exchange, error) {
	o.mu.Lock()
	captured := o.current
	history := make([]model.Turn, len(o.turns))
	copy(history, o.turns)
	o.stopUnloadTimerLocked()
	o.mu.Unlock()

	var memoryContext, facts string
	if o.memory != nil {
		memoryContext = o.memory.Context(ctx, o.prov.Name(), captured, text)
		facts = o.memory.Facts()
	}

	req := provider.Request{
		Model: o.config.Model,
		Messages: prompt.Build(prompt.Input{
			SystemPrompt:       o.config.SystemPrompt,
			MemoryContext:      memoryContext,
			PersonalFacts:      facts,
			History:            history,
			UserText:           text,
			MaxContextMessages: o.config.MaxContextMessages,
			TimeAware:          o.config.TimeAware,
			PrependCritical:    o.config.PrependCritical,
		}),
		Params: o.config.Params,
	}

	x, err := o.engine.Start(ctx, o.prov, req)
	if err != nil {
		o.armUnloadTimer()
		return nil, err
	}
	o.logf("exchange|start|%s|%s|%s", x.ID, o.prov.Name(), captured)

	go o.finish(ctx, x, captured, text)
	return x, nil
}

// finish commits a terminal exchange. The result lands in the session active
// at request start, even if the user has switched away since.
func (o *Orchestrator) finish(ctx context.Context, x *engine.Exchange, captured, userText string) {
	raw, _, err := x.Wait()
	defer o.armUnloadTimer()

	switch {
	case err == nil:
		cleaned := o.clean.Clean(raw)
		if commitErr := o.commit(captured, userText, cleaned); commitErr != nil {
			o.logf("exchange|commit_failed|%s|%v", x.ID, commitErr)
			return
		}
		o.logf("exchange|completed|%s|%s", x.ID, x.Stats().Format())
		if o.memory != nil {
			o.memory.Record(ctx, userText, cleaned)
		}
	case errors.Is(err, engine.ErrStopped):
		// Aborted exchanges leave the transcript untouched.
		o.logf("exchange|stopped|%s", x.ID)
	default:
		o.logf("exchange|errored|%s|%v", x.ID, err)
	}
}

// commit appends the user and assistant turns to the captured session and
// persists it whole.
func (o *Orchestrator) commit(captured, userText, assistantText string) error {
	userTurn := model.NewUserTurn(userText)
	assistantTurn := model.NewAssistantTurn(assistantText)

	o.saveMu.Lock()
	defer o.saveMu.Unlock()

	o.mu.Lock()
	if captured == o.current {
		o.turns = append(o.turns, userTurn, assistantTurn)
		turns := make([]model.Turn, len(o.turns))
		copy(turns, o.turns)
		o.mu.Unlock()

		if err := o.store.Save(captured, turns); err != nil {
			return err
		}
		o.notifySaved(captured)
		return nil
	}
	o.mu.Unlock()

	// The user switched away mid-exchange: commit to the captured session
	// on disk without disturbing the active one.
	turns, err := o.store.Load(captured)
	if err != nil {
		return err
	}
	turns = append(turns, userTurn, assistantTurn)
	if err := o.store.Save(captured, turns); err != nil {
		return err
	}
	o.notifySaved(captured)
	return nil
}

func (o *Orchestrator) notifySaved(session string) {
	if o.onSaved != nil {
		o.onSaved(session)
	}
}

// Stop cancels the in-flight exchange, if any. The engine handles grace and
// cleanup; this is a convenience passthrough for callers holding an exchange.
func (o *Orchestrator) Stop(x *engine.Exchange) {
	if x != nil {
		x.Stop()
	}
}

// =============================================================================
// SESSION MANAGEMENT
// =============================================================================

// Switch activates another session. The flush-then-swap-then-reload order is
// a correctness requirement: reversing it can lose unsaved turns from the
// previous session.
func (o *Orchestrator) Switch(name string) error {
	o.saveMu.Lock()
	o.mu.Lock()
	previous := o.current
	turns := make([]model.Turn, len(o.turns))
	copy(turns, o.turns)
	o.mu.Unlock()

	if name == previous {
		o.saveMu.Unlock()
		return nil
	}

	err := o.store.Save(previous, turns)
	o.saveMu.Unlock()
	if err != nil {
		return err
	}
	o.notifySaved(previous)

	if err := o.activate(name); err != nil {
		return err
	}
	o.rememberSession(name)
	o.logf("session|switch|%s|%s->%s", o.prov.Name(), previous, name)
	return nil
}

func (o *Orchestrator) rememberSession(name string) {
	if o.settings == nil {
		return
	}
	o.settings.Set(o.lastSessionKey(), name)
	if err := o.settings.Flush(); err != nil {
		o.logf("settings|flush_failed|%v", err)
	}
}

// NewSession creates a session and switches to it.
func (o *Orchestrator) NewSession(name string) error {
	if _, err := o.store.EnsureSession(name); err != nil {
		return err
	}
	return o.Switch(name)
}

// Rename renames a session, retargeting the active pointer if needed.
// Returns false on any conflict, leaving the filesystem untouched.
func (o *Orchestrator) Rename(oldName, newName string) bool {
	o.saveMu.Lock()
	defer o.saveMu.Unlock()

	o.mu.Lock()
	isCurrent := o.current == oldName
	if isCurrent {
		// Flush before the move so the rename carries every turn.
		turns := make([]model.Turn, len(o.turns))
		copy(turns, o.turns)
		o.mu.Unlock()
		if err := o.store.Save(oldName, turns); err != nil {
			o.logf("session|flush_failed|%s|%v", oldName, err)
			return false
		}
	} else {
		o.mu.Unlock()
	}

	if !o.store.Rename(oldName, newName) {
		return false
	}
	if isCurrent {
		o.mu.Lock()
		o.current = newName
		o.mu.Unlock()
		o.rememberSession(newName)
		if o.memory != nil {
			o.memory.Bind(o.prov.Name(), newName)
		}
	}
	o.logf("session|rename|%s|%s->%s", o.prov.Name(), oldName, newName)
	return true
}

// Delete removes a session. Deleting the active session switches to the
// default session first.
func (o *Orchestrator) Delete(name string) error {
	if o.Current() == name {
		if name == DefaultSession {
			// Deleting the default session just resets it.
			if err := o.ResetCurrent(); err != nil {
				return err
			}
			return nil
		}
		if err := o.activate(DefaultSession); err != nil {
			return err
		}
		o.rememberSession(DefaultSession)
	}
	o.saveMu.Lock()
	defer o.saveMu.Unlock()
	return o.store.Remove(name)
}

// ResetCurrent clears the active session's transcript, keeping artifacts.
func (o *Orchestrator) ResetCurrent() error {
	name := o.Current()
	o.saveMu.Lock()
	defer o.saveMu.Unlock()
	if err := o.store.Reset(name); err != nil {
		return err
	}
	o.mu.Lock()
	o.turns = nil
	o.mu.Unlock()
	o.notifySaved(name)
	return nil
}

// List enumerates sessions for this backend.
func (o *Orchestrator) List() ([]string, error) {
	return o.store.List()
}

// Flush persists the active session's in-memory turns.
func (o *Orchestrator) Flush() error {
	o.saveMu.Lock()
	defer o.saveMu.Unlock()

	o.mu.Lock()
	name := o.current
	turns := make([]model.Turn, len(o.turns))
	copy(turns, o.turns)
	o.mu.Unlock()

	if err := o.store.Save(name, turns); err != nil {
		return err
	}
	o.notifySaved(name)
	return nil
}

// =============================================================================
// IDLE UNLOAD
// =============================================================================

// armUnloadTimer (re)starts the idle-unload countdown. Owned exclusively by
// this orchestrator; a new exchange cancels it.
func (o *Orchestrator) armUnloadTimer() {
	if o.config.UnloadAfter <= 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopUnloadTimerLocked()
	o.unloadTimer = time.AfterFunc(o.config.UnloadAfter, o.unloadModel)
}

func (o *Orchestrator) stopUnloadTimerLocked() {
	if o.unloadTimer != nil {
		o.unloadTimer.Stop()
		o.unloadTimer = nil
	}
}

// unloadModel asks the backend to evict the resident model. Best-effort:
// failure is logged, never escalated.
func (o *Orchestrator) unloadModel() {
	unloader, ok := o.prov.(provider.Unloader)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	// Unload is a minor request: it yields to an exchange that started
	// while the timer was firing.
	if err := o.engine.Gate(o.prov.Name()).Wait(ctx); err != nil {
		o.logf("unload|skipped|%s|busy", o.config.Model)
		return
	}
	if err := unloader.Unload(ctx, o.config.Model); err != nil {
		o.logf("unload|failed|%s|%v", o.config.Model, err)
		return
	}
	o.logf("unload|done|%s", o.config.Model)
}

// Close flushes state and disarms timers.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	o.stopUnloadTimerLocked()
	o.mu.Unlock()
	return o.Flush()
}
