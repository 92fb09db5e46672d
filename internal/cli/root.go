// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli wires the application together behind a cobra command tree.
// The REPL and subcommands are deliberately thin; all conversation state
// lives in the session orchestrator.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/parley/internal/config"
	"github.com/jeranaias/parley/internal/engine"
	"github.com/jeranaias/parley/internal/index"
	"github.com/jeranaias/parley/internal/memory"
	"github.com/jeranaias/parley/internal/provider"
	"github.com/jeranaias/parley/internal/provider/llamasrv"
	"github.com/jeranaias/parley/internal/provider/ollama"
	"github.com/jeranaias/parley/internal/session"
	"github.com/jeranaias/parley/internal/store"
)

// =============================================================================
// ROOT COMMAND
// =============================================================================

var (
	flagConfig  string
	flagBackend string
	flagModel   string
	flagDataDir string
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Local LLM chat with persistent sessions",
	Long: `parley is a local LLM chat client with persistent per-session history.

Sessions are kept as plain JSON per backend under the data directory, with
full-text search across transcripts, conversation memory, and Markdown/JSON/
YAML export.

Quick start:
  parley                      Start the interactive chat REPL
  parley sessions list        List sessions for the active backend
  parley search "topic"       Full-text search across transcripts
  parley export default       Export a session to Markdown`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd, args)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (default ~/.parley/config.toml)")
	rootCmd.PersistentFlags().StringVarP(&flagBackend, "backend", "b", "", "Backend to use: ollama or llama-server")
	rootCmd.PersistentFlags().StringVarP(&flagModel, "model", "m", "", "Model override for the active backend")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "Data directory override")
}

// =============================================================================
// APPLICATION WIRING
// =============================================================================

// app holds the assembled application for one command invocation.
type app struct {
	cfg      *config.Config
	settings *config.Settings
	store    *store.Store
	provider provider.Provider
	engine   *engine.Engine
	orch     *session.Orchestrator
	memory   *memory.Memory
	index    *index.SessionIndex
	watcher  *index.Watcher
}

// loadConfig loads configuration and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if flagConfig != "" {
		cfg, err = config.LoadFromPath(flagConfig)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if flagBackend != "" {
		cfg.Backend = flagBackend
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if flagModel != "" {
		cfg.Ollama.Model = flagModel
		cfg.LlamaServer.Model = flagModel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildRegistry constructs both backend clients and registers them.
func buildRegistry(cfg *config.Config) (*provider.Registry, *ollama.Client) {
	ollamaCfg := ollama.DefaultConfig()
	ollamaCfg.BaseURL = cfg.Ollama.URL
	ollamaCfg.DefaultModel = cfg.Ollama.Model
	ollamaCfg.Timeout = time.Duration(cfg.Sampling.TimeoutSecs) * time.Second
	ollamaCfg.KeepAlive = cfg.Sampling.KeepAliveSecs
	ollamaClient := ollama.NewClient(ollamaCfg)

	llamaCfg := llamasrv.DefaultConfig()
	llamaCfg.BaseURL = cfg.LlamaServer.URL
	llamaCfg.Model = cfg.LlamaServer.Model
	llamaCfg.Timeout = time.Duration(cfg.Sampling.TimeoutSecs) * time.Second

	reg := provider.NewRegistry()
	reg.Register(ollamaClient)
	reg.Register(llamasrv.NewClient(llamaCfg))
	return reg, ollamaClient
}

// sessionConfig maps config and settings onto the orchestrator's view.
// Sampling values can be overridden per-install through the settings file.
func sessionConfig(cfg *config.Config, settings *config.Settings) session.Config {
	params := cfg.Params()
	params.Temperature = settings.GetFloat("temperature", params.Temperature)
	params.TopP = settings.GetFloat("top_p", params.TopP)
	params.TopK = settings.GetInt("top_k", params.TopK)
	params.MaxTokens = settings.GetInt("max_tokens", params.MaxTokens)

	unloadMinutes := settings.GetInt("unload_after_minutes", cfg.Sampling.KeepAliveSecs/60)
	var unloadAfter time.Duration
	if unloadMinutes > 0 {
		unloadAfter = time.Duration(unloadMinutes) * time.Minute
	}

	return session.Config{
		Model:              cfg.ActiveModel(),
		SystemPrompt:       cfg.Persona.SystemPrompt,
		Params:             params,
		MaxContextMessages: cfg.Persona.MaxContextMessages,
		TimeAware:          cfg.Persona.TimeAware,
		PrependCritical:    cfg.Persona.PrependCritical,
		UnloadAfter:        unloadAfter,
		DisplayNames:       cfg.DisplayNames(),
	}
}

// newApp assembles the application. withWatcher additionally starts the
// filesystem watcher that keeps the search index current during a chat
// session. Index failures are reported but never block chat.
func newApp(withWatcher bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return nil, err
	}

	settings, err := config.OpenSettings(filepath.Join(dataDir, "settings.json"))
	if err != nil {
		return nil, err
	}

	st, err := store.New(dataDir, cfg.Backend)
	if err != nil {
		return nil, err
	}

	reg, ollamaClient := buildRegistry(cfg)
	prov, err := reg.Get(cfg.Backend)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		settings: settings,
		store:    st,
		provider: prov,
		engine:   engine.New(),
	}

	if cfg.Memory.Enabled {
		memOpts := []memory.Option{
			memory.WithLimits(cfg.Memory.Recents, cfg.Memory.SemanticTopK),
		}
		if len(cfg.Memory.FactKeywords) > 0 {
			memOpts = append(memOpts, memory.WithFactKeywords(cfg.Memory.FactKeywords...))
		}
		if cfg.Memory.SemanticTopK > 0 {
			memOpts = append(memOpts, memory.WithEmbedder(ollamaClient, cfg.Ollama.EmbedModel))
		}
		a.memory = memory.New(st, memOpts...)
	}

	idx, err := index.Open(filepath.Join(dataDir, "index.db"), st, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s search index unavailable: %v\n", warningStyle.Render("[Warning]"), err)
	} else {
		a.index = idx
		if withWatcher {
			if w, err := idx.Watch(500 * time.Millisecond); err == nil {
				a.watcher = w
			}
		}
	}

	opts := []session.Option{session.WithSettings(settings)}
	if a.memory != nil {
		opts = append(opts, session.WithMemory(a.memory))
	}
	if a.index != nil {
		opts = append(opts, session.WithSaveHook(func(name string) {
			if err := a.index.ReindexSession(name); err != nil {
				fmt.Fprintf(os.Stderr, "%s reindex %s: %v\n", warningStyle.Render("[Warning]"), name, err)
			}
		}))
	}

	orch, err := session.New(st, a.engine, prov, sessionConfig(cfg, settings), opts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.orch = orch
	return a, nil
}

// Close tears the application down in dependency order.
func (a *app) Close() {
	if a.watcher != nil {
		a.watcher.Close()
	}
	if a.orch != nil {
		a.orch.Close()
	}
	if a.index != nil {
		a.index.Close()
	}
	if a.settings != nil {
		if err := a.settings.Flush(); err != nil {
			fmt.Fprintf(os.Stderr, "%s settings flush: %v\n", warningStyle.Render("[Warning]"), err)
		}
	}
}
