// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for parley.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.parley/config.toml
//   - ~/.parley/config.json
//   - Built-in defaults
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/parley/internal/provider"
	"github.com/jeranaias/parley/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete parley configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	// Backend selects the default backend identity: "ollama" or "llama-server".
	Backend string `toml:"backend" json:"backend"`

	// DataDir is the root under which per-backend session namespaces live.
	// Empty means ~/.parley.
	DataDir string `toml:"data_dir" json:"data_dir"`

	Ollama      OllamaConfig      `toml:"ollama" json:"ollama"`
	LlamaServer LlamaServerConfig `toml:"llama_server" json:"llama_server"`
	Sampling    SamplingConfig    `toml:"sampling" json:"sampling"`
	Persona     PersonaConfig     `toml:"persona" json:"persona"`
	Memory      MemoryConfig      `toml:"memory" json:"memory"`
}

// OllamaConfig contains the native Ollama backend configuration.
type OllamaConfig struct {
	// URL is the base URL of the Ollama server.
	URL string `toml:"url" json:"url"`
	// Model is the default chat model.
	Model string `toml:"model" json:"model"`
	// EmbedModel is the embedding model used for semantic memory recall.
	EmbedModel string `toml:"embed_model" json:"embed_model"`
}

// LlamaServerConfig contains the llama-server (OpenAI-compatible) backend
// configuration.
type LlamaServerConfig struct {
	// URL is the base URL of the llama-server instance.
	URL string `toml:"url" json:"url"`
	// Model is a display label; llama-server serves a single loaded model.
	Model string `toml:"model" json:"model"`
}

// SamplingConfig contains generation parameters. Values are passed through to
// the backend unclamped; the backend owns the valid ranges.
type SamplingConfig struct {
	Temperature float64 `toml:"temperature" json:"temperature"`
	TopP        float64 `toml:"top_p" json:"top_p"`
	TopK        int     `toml:"top_k" json:"top_k"`
	MaxTokens   int     `toml:"max_tokens" json:"max_tokens"`

	// TimeoutSecs is the client-side request timeout in seconds.
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
	// KeepAliveSecs is how long the backend keeps the model resident after a
	// request. Also drives the idle-unload timer.
	KeepAliveSecs int `toml:"keep_alive_secs" json:"keep_alive_secs"`
}

// PersonaConfig shapes the system prompt and prompt assembly behavior.
type PersonaConfig struct {
	// Name is the assistant's display name; it feeds the response cleaner's
	// quoted-transcript matching.
	Name string `toml:"name" json:"name"`
	// SystemPrompt is the base system prompt text.
	SystemPrompt string `toml:"system_prompt" json:"system_prompt"`
	// TimeAware prepends the temporal context block to the system prompt.
	TimeAware bool `toml:"time_aware" json:"time_aware"`
	// PrependCritical folds critical system-prompt instructions into the user
	// turn, for models that underweight the system role.
	PrependCritical bool `toml:"prepend_critical" json:"prepend_critical"`
	// MaxContextMessages caps how many history turns enter the prompt;
	// zero or negative means all of them.
	MaxContextMessages int `toml:"max_context_messages" json:"max_context_messages"`
}

// MemoryConfig controls conversation recall and personal-facts extraction.
type MemoryConfig struct {
	// Enabled turns the whole memory layer on or off.
	Enabled bool `toml:"enabled" json:"enabled"`
	// Recents is how many most-recent turns always enter the context.
	Recents int `toml:"recents" json:"recents"`
	// SemanticTopK is how many semantically similar turns to retrieve;
	// zero disables semantic recall even when an embedder is available.
	SemanticTopK int `toml:"semantic_top_k" json:"semantic_top_k"`
	// FactKeywords supplements the built-in personal-fact category keywords.
	FactKeywords []string `toml:"fact_keywords" json:"fact_keywords"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// defaultStops are the stop sequences sent with every request so local models
// don't run on into a fabricated dialogue.
var defaultStops = []string{"\nUser:", "\nYou:", "\nHuman:"}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",
		Backend: "ollama",

		Ollama: OllamaConfig{
			URL:        "http://127.0.0.1:11434",
			Model:      "llama3.2",
			EmbedModel: "nomic-embed-text",
		},

		LlamaServer: LlamaServerConfig{
			URL:   "http://127.0.0.1:8080",
			Model: "default",
		},

		Sampling: SamplingConfig{
			Temperature:   0.9,
			TopP:          0.99,
			TopK:          60,
			MaxTokens:     8192,
			TimeoutSecs:   120,
			KeepAliveSecs: 120,
		},

		Persona: PersonaConfig{
			Name:               "",
			SystemPrompt:       "",
			TimeAware:          false,
			PrependCritical:    false,
			MaxContextMessages: 20,
		},

		Memory: MemoryConfig{
			Enabled:      true,
			Recents:      3,
			SemanticTopK: 3,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// Dir returns the parley configuration directory path.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".parley"), nil
}

// PathTOML returns the path to the TOML config file.
func PathTOML() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// PathJSON returns the path to the JSON config file.
func PathJSON() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureDir ensures the config directory exists.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	tomlPath, err := PathTOML()
	if err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			return LoadFromPath(tomlPath)
		}
	}

	jsonPath, err := PathJSON()
	if err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			return LoadFromPath(jsonPath)
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path with full
// validation. JSON when the path ends in .json, TOML otherwise.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}

	if strings.HasSuffix(path, ".json") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read JSON config: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode JSON config: %w", err)
		}
	} else {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode TOML config: %w", err)
		}
	}

	cfg.fillDefaults()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// fillDefaults fills in any missing values with defaults.
func (c *Config) fillDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}
	if c.Backend == "" {
		c.Backend = defaults.Backend
	}

	if c.Ollama.URL == "" {
		c.Ollama.URL = defaults.Ollama.URL
	}
	if c.Ollama.Model == "" {
		c.Ollama.Model = defaults.Ollama.Model
	}
	if c.Ollama.EmbedModel == "" {
		c.Ollama.EmbedModel = defaults.Ollama.EmbedModel
	}

	if c.LlamaServer.URL == "" {
		c.LlamaServer.URL = defaults.LlamaServer.URL
	}
	if c.LlamaServer.Model == "" {
		c.LlamaServer.Model = defaults.LlamaServer.Model
	}

	if c.Sampling.Temperature == 0 {
		c.Sampling.Temperature = defaults.Sampling.Temperature
	}
	if c.Sampling.TopP == 0 {
		c.Sampling.TopP = defaults.Sampling.TopP
	}
	if c.Sampling.TopK == 0 {
		c.Sampling.TopK = defaults.Sampling.TopK
	}
	if c.Sampling.MaxTokens == 0 {
		c.Sampling.MaxTokens = defaults.Sampling.MaxTokens
	}
	if c.Sampling.TimeoutSecs == 0 {
		c.Sampling.TimeoutSecs = defaults.Sampling.TimeoutSecs
	}
	if c.Sampling.KeepAliveSecs == 0 {
		c.Sampling.KeepAliveSecs = defaults.Sampling.KeepAliveSecs
	}

	if c.Persona.MaxContextMessages == 0 {
		c.Persona.MaxContextMessages = defaults.Persona.MaxContextMessages
	}

	if c.Memory.Recents == 0 {
		c.Memory.Recents = defaults.Memory.Recents
	}
	if c.Memory.SemanticTopK == 0 {
		c.Memory.SemanticTopK = defaults.Memory.SemanticTopK
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := PathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file.
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	fmt.Fprintln(file, "# parley configuration file")
	fmt.Fprintln(file, "# Generated by parley - edit with care")
	fmt.Fprintln(file, "")

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// SaveJSON saves the configuration to a JSON file with an atomic write.
func SaveJSON(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors. Sampling
// values are deliberately not range-checked; they pass through to the
// backend, which owns the valid ranges.
func (c *Config) Validate() error {
	var errs ValidateErrors

	validBackends := map[string]bool{"ollama": true, "llama-server": true}
	if !validBackends[c.Backend] {
		errs = append(errs, ValidationError{
			Field:   "backend",
			Message: fmt.Sprintf("invalid backend %q, must be one of: ollama, llama-server", c.Backend),
		})
	}

	for _, ep := range []struct{ field, raw string }{
		{"ollama.url", c.Ollama.URL},
		{"llama_server.url", c.LlamaServer.URL},
	} {
		if ep.raw == "" {
			continue
		}
		u, err := url.Parse(ep.raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   ep.field,
				Message: fmt.Sprintf("invalid URL %q", ep.raw),
			})
		}
	}

	if c.Sampling.MaxTokens < 0 {
		errs = append(errs, ValidationError{
			Field:   "sampling.max_tokens",
			Message: "must be non-negative",
		})
	}
	if c.Sampling.TimeoutSecs < 0 {
		errs = append(errs, ValidationError{
			Field:   "sampling.timeout_secs",
			Message: "must be non-negative",
		})
	}

	if c.Memory.Recents < 0 {
		errs = append(errs, ValidationError{
			Field:   "memory.recents",
			Message: "must be non-negative",
		})
	}
	if c.Memory.SemanticTopK < 0 {
		errs = append(errs, ValidationError{
			Field:   "memory.semantic_top_k",
			Message: "must be non-negative",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - PARLEY_BACKEND: overrides backend
//   - PARLEY_DATA_DIR: overrides data_dir
//   - PARLEY_MODEL: overrides the active backend's model
//   - PARLEY_OLLAMA_URL: overrides ollama.url
//   - PARLEY_LLAMA_URL: overrides llama_server.url
//   - PARLEY_SYSTEM_PROMPT: overrides persona.system_prompt
//   - PARLEY_TIME_AWARE: "1"/"true" enables persona.time_aware
//   - PARLEY_MAX_TOKENS: overrides sampling.max_tokens
func (c *Config) ApplyEnvOverrides() {
	if backend := os.Getenv("PARLEY_BACKEND"); backend != "" {
		c.Backend = backend
	}
	if dir := os.Getenv("PARLEY_DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
	if model := os.Getenv("PARLEY_MODEL"); model != "" {
		c.Ollama.Model = model
		c.LlamaServer.Model = model
	}
	if u := os.Getenv("PARLEY_OLLAMA_URL"); u != "" {
		c.Ollama.URL = u
	}
	if u := os.Getenv("PARLEY_LLAMA_URL"); u != "" {
		c.LlamaServer.URL = u
	}
	if prompt := os.Getenv("PARLEY_SYSTEM_PROMPT"); prompt != "" {
		c.Persona.SystemPrompt = prompt
	}
	if timeAware := os.Getenv("PARLEY_TIME_AWARE"); timeAware != "" {
		c.Persona.TimeAware = timeAware == "1" || strings.EqualFold(timeAware, "true")
	}
	if maxTokens := os.Getenv("PARLEY_MAX_TOKENS"); maxTokens != "" {
		if n, err := strconv.Atoi(maxTokens); err == nil {
			c.Sampling.MaxTokens = n
		}
	}
}

// =============================================================================
// DERIVED VIEWS
// =============================================================================

// ResolveDataDir returns the effective data root.
func (c *Config) ResolveDataDir() (string, error) {
	if c.DataDir != "" {
		return c.DataDir, nil
	}
	return Dir()
}

// ActiveModel returns the configured model for the selected backend.
func (c *Config) ActiveModel() string {
	if c.Backend == "llama-server" {
		return c.LlamaServer.Model
	}
	return c.Ollama.Model
}

// ActiveURL returns the configured base URL for the selected backend.
func (c *Config) ActiveURL() string {
	if c.Backend == "llama-server" {
		return c.LlamaServer.URL
	}
	return c.Ollama.URL
}

// Params maps the sampling section onto a provider parameter set.
func (c *Config) Params() provider.Params {
	return provider.Params{
		Temperature: c.Sampling.Temperature,
		TopP:        c.Sampling.TopP,
		TopK:        c.Sampling.TopK,
		MaxTokens:   c.Sampling.MaxTokens,
		Stop:        append([]string(nil), defaultStops...),
		Timeout:     time.Duration(c.Sampling.TimeoutSecs) * time.Second,
		KeepAlive:   c.Sampling.KeepAliveSecs,
	}
}

// DisplayNames returns the assistant name set for the response cleaner.
func (c *Config) DisplayNames() []string {
	if c.Persona.Name == "" {
		return nil
	}
	return []string{c.Persona.Name}
}
