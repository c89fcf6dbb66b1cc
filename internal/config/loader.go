package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/northstar-hq/northstar/internal/cascade"
	"github.com/northstar-hq/northstar/internal/tools"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation, warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	if cfg.Providers.LLM.Name == "" && len(cfg.Agents) > 0 {
		slog.Warn("no LLM provider configured; agents will not be able to generate responses")
	}

	// Embeddings ↔ store dimensions
	if cfg.Providers.Embeddings.Name != "" && cfg.Store.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but store.embedding_dimensions is not set; defaulting to 1536")
	}

	// Store availability
	if cfg.Store.PostgresDSN == "" && len(cfg.Agents) > 0 {
		slog.Warn("store.postgres_dsn is empty; conversations and audit actions will not be persisted")
	}

	// Cascade
	candidateModels := make(map[string]bool, len(cfg.Cascade.Candidates))
	if len(cfg.Cascade.Candidates) == 0 && len(cfg.Agents) > 0 {
		errs = append(errs, errors.New("cascade.candidates must list at least one model when agents are configured"))
	}
	for i, cand := range cfg.Cascade.Candidates {
		prefix := fmt.Sprintf("cascade.candidates[%d]", i)
		if cand.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required", prefix))
			continue
		}
		if candidateModels[cand.Model] {
			errs = append(errs, fmt.Errorf("%s.model %q appears more than once", prefix, cand.Model))
		}
		candidateModels[cand.Model] = true
		if cand.MaxRetries < 0 {
			errs = append(errs, fmt.Errorf("%s.max_retries must not be negative", prefix))
		}
	}
	for tier, model := range cfg.Cascade.Canonical {
		if !cascade.Complexity(tier).IsValid() {
			errs = append(errs, fmt.Errorf("cascade.canonical key %q is invalid; valid values: simple, moderate, complex", tier))
		}
		if model != "" && len(candidateModels) > 0 && !candidateModels[model] {
			errs = append(errs, fmt.Errorf("cascade.canonical[%s] names %q which is not in cascade.candidates", tier, model))
		}
	}

	// Agent duplicate name detection
	agentNamesSeen := make(map[string]int, len(cfg.Agents))

	// Agents
	for i, ag := range cfg.Agents {
		prefix := fmt.Sprintf("agents[%d]", i)
		if ag.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := agentNamesSeen[ag.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of agents[%d]", prefix, ag.Name, prev))
			}
			agentNamesSeen[ag.Name] = i
		}
		if ag.Persona == "" {
			errs = append(errs, fmt.Errorf("%s.persona is required", prefix))
		}
		if ag.DefaultComplexity != "" && !ag.DefaultComplexity.IsValid() {
			errs = append(errs, fmt.Errorf("%s.default_complexity %q is invalid; valid values: simple, moderate, complex", prefix, ag.DefaultComplexity))
		}
		if ag.Temperature < 0 || ag.Temperature > 2 {
			errs = append(errs, fmt.Errorf("%s.temperature %.2f is out of range [0, 2]", prefix, ag.Temperature))
		}
		if ag.HistoryWindow < 0 {
			errs = append(errs, fmt.Errorf("%s.history_window must not be negative", prefix))
		}
		if ag.MaxTurns < 0 {
			errs = append(errs, fmt.Errorf("%s.max_turns must not be negative", prefix))
		}
		for _, pack := range ag.Tools {
			if !pack.IsValid() {
				errs = append(errs, fmt.Errorf("%s.tools contains unknown pack %q; valid values: tasks, trading, documents, clock", prefix, pack))
			}
		}

		// Tool pack ↔ store cross-validation
		if len(ag.Tools) > 0 && cfg.Store.PostgresDSN == "" {
			slog.Warn("agent has tool packs configured but no store is available",
				"agent", ag.Name,
			)
		}
	}

	// MCP servers
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		switch srv.Transport {
		case "", tools.MCPTransportStdio, tools.MCPTransportHTTP:
		default:
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, http", prefix, srv.Transport))
		}
		if srv.Transport == tools.MCPTransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == tools.MCPTransportHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is http", prefix))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
