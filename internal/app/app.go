// Package app wires all Northstar subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP surface until the context is cancelled,
// and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithStores, WithMetrics). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/northstar-hq/northstar/internal/agent"
	"github.com/northstar-hq/northstar/internal/cascade"
	"github.com/northstar-hq/northstar/internal/config"
	"github.com/northstar-hq/northstar/internal/observe"
	"github.com/northstar-hq/northstar/internal/tools"
	"github.com/northstar-hq/northstar/pkg/provider/llm"
	"github.com/northstar-hq/northstar/pkg/store"
	"github.com/northstar-hq/northstar/pkg/store/postgres"
)

// defaultEmbeddingDims matches OpenAI text-embedding-3-small.
const defaultEmbeddingDims = 1536

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM        llm.Provider
	Embeddings tools.Embedder
}

// Stores bundles the persistence interfaces the app depends on. Any nil
// field is backed by the PostgreSQL store created from config.
type Stores struct {
	Conversations store.ConversationStore
	Audit         store.AuditStore
	Usage         store.UsageStore
	Tasks         store.TaskStore
	Trades        store.TradeStore
	Documents     store.DocumentStore
}

// agentEntry pairs a running agent with its per-agent request defaults.
type agentEntry struct {
	agent             *agent.Agent
	defaultComplexity cascade.Complexity
}

// App owns all subsystem lifetimes and serves the Northstar HTTP API.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	stores  Stores
	metrics *observe.Metrics
	policy  *cascade.Policy
	exec    *cascade.Executor
	bridge  *tools.MCPBridge
	agents  map[string]*agentEntry

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStores injects store implementations instead of creating them from
// config. Nil fields are still created from config.
func WithStores(s Stores) Option {
	return func(a *App) { a.stores = s }
}

// WithMetrics injects a metrics bundle instead of using the global default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: store connection, cascade
// policy construction, MCP server import, and agent assembly.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		agents:    make(map[string]*agentEntry),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Stores ────────────────────────────────────────────────────────
	if err := a.initStores(ctx); err != nil {
		return nil, fmt.Errorf("app: init stores: %w", err)
	}

	// ── 2. Cascade policy + executor ─────────────────────────────────────
	if err := a.initCascade(); err != nil {
		return nil, fmt.Errorf("app: init cascade: %w", err)
	}

	// ── 3. MCP tool import ───────────────────────────────────────────────
	imported, err := a.initMCP(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: init mcp: %w", err)
	}

	// ── 4. Agents ────────────────────────────────────────────────────────
	if err := a.initAgents(imported); err != nil {
		return nil, fmt.Errorf("app: init agents: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStores connects the PostgreSQL store for any store interface that was
// not injected.
func (a *App) initStores(ctx context.Context) error {
	s := &a.stores
	if s.Conversations != nil && s.Audit != nil && s.Usage != nil &&
		s.Tasks != nil && s.Trades != nil && s.Documents != nil {
		return nil // everything injected
	}

	dsn := a.cfg.Store.PostgresDSN
	if dsn == "" {
		return fmt.Errorf("store.postgres_dsn is required when stores are not injected")
	}

	dims := a.cfg.Store.EmbeddingDimensions
	if dims == 0 {
		dims = defaultEmbeddingDims
	}

	pg, err := postgres.NewStore(ctx, dsn, dims)
	if err != nil {
		return err
	}

	if s.Conversations == nil {
		s.Conversations = pg
	}
	if s.Audit == nil {
		s.Audit = pg
	}
	if s.Usage == nil {
		s.Usage = pg
	}
	if s.Tasks == nil {
		s.Tasks = pg
	}
	if s.Trades == nil {
		s.Trades = pg
	}
	if s.Documents == nil {
		s.Documents = pg
	}

	a.closers = append(a.closers, func() error {
		pg.Close()
		return nil
	})
	return nil
}

// initCascade builds the model cascade policy and the retry executor.
func (a *App) initCascade() error {
	if len(a.cfg.Agents) == 0 {
		slog.Warn("no agents configured")
		return nil
	}
	if a.providers.LLM == nil {
		return fmt.Errorf("agents are configured but no LLM provider is available")
	}

	candidates := make([]cascade.ModelCandidate, 0, len(a.cfg.Cascade.Candidates))
	for _, c := range a.cfg.Cascade.Candidates {
		candidates = append(candidates, cascade.ModelCandidate{
			Model:      c.Model,
			MaxRetries: c.MaxRetries,
			Label:      c.Label,
		})
	}

	canonical := make(map[cascade.Complexity]string, len(a.cfg.Cascade.Canonical))
	for tier, model := range a.cfg.Cascade.Canonical {
		canonical[cascade.Complexity(tier)] = model
	}

	policy, err := cascade.NewPolicy(candidates, canonical)
	if err != nil {
		return err
	}
	a.policy = policy
	a.exec = cascade.NewExecutor(a.providers.LLM)
	return nil
}

// initMCP imports tool catalogues from configured MCP servers. The imported
// tools are offered to every agent alongside its built-in packs.
func (a *App) initMCP(ctx context.Context) ([]tools.Tool, error) {
	if len(a.cfg.MCP.Servers) == 0 {
		return nil, nil
	}

	a.bridge = tools.NewMCPBridge()
	a.closers = append(a.closers, a.bridge.Close)

	staging := tools.NewRegistry()
	for _, srv := range a.cfg.MCP.Servers {
		if err := a.bridge.Import(ctx, staging, srv.Bridge()); err != nil {
			return nil, fmt.Errorf("import mcp server %q: %w", srv.Name, err)
		}
		slog.Info("imported MCP server tools", "name", srv.Name)
	}
	return staging.Tools(), nil
}

// initAgents creates one agent per config entry, each with its own tool
// registry built from the granted packs.
func (a *App) initAgents(imported []tools.Tool) error {
	for _, ac := range a.cfg.Agents {
		reg, err := a.buildRegistry(ac, imported)
		if err != nil {
			return fmt.Errorf("build tool registry for agent %q: %w", ac.Name, err)
		}

		ag, err := agent.New(agent.Config{
			Name:          ac.Name,
			Prompt:        agent.StaticPrompt(ac.Persona),
			Policy:        a.policy,
			Executor:      a.exec,
			Tools:         reg,
			Conversations: a.stores.Conversations,
			Audit:         a.stores.Audit,
			Usage:         a.stores.Usage,
			HistoryWindow: ac.HistoryWindow,
			MaxTurns:      ac.MaxTurns,
			Temperature:   ac.Temperature,
			MaxTokens:     ac.MaxTokens,
			Metrics:       a.metrics,
		})
		if err != nil {
			return err
		}

		complexity := ac.DefaultComplexity
		if complexity == "" {
			complexity = cascade.ComplexityModerate
		}
		a.agents[ac.Name] = &agentEntry{agent: ag, defaultComplexity: complexity}
		slog.Info("loaded agent", "name", ac.Name, "tools", len(reg.Definitions()), "complexity", complexity)
	}
	return nil
}

// buildRegistry assembles the tool registry for one agent from its granted
// packs plus any MCP-imported tools. An agent with no packs and no imports
// gets a nil registry and runs conversation-only.
func (a *App) buildRegistry(ac config.AgentConfig, imported []tools.Tool) (*tools.Registry, error) {
	if len(ac.Tools) == 0 && len(imported) == 0 {
		return nil, nil
	}

	reg := tools.NewRegistry()
	for _, pack := range ac.Tools {
		var set []tools.Tool
		switch pack {
		case config.ToolPackTasks:
			set = tools.TaskTools(a.stores.Tasks)
		case config.ToolPackTrading:
			set = tools.TradingTools(a.stores.Trades)
		case config.ToolPackDocuments:
			set = tools.DocumentTools(a.stores.Documents, a.providers.Embeddings)
		case config.ToolPackClock:
			set = tools.ClockTools(nil)
		default:
			return nil, fmt.Errorf("unknown tool pack %q", pack)
		}
		if err := reg.RegisterAll(set); err != nil {
			return nil, err
		}
	}
	if err := reg.RegisterAll(imported); err != nil {
		return nil, err
	}
	return reg, nil
}

// ─── Lookup ──────────────────────────────────────────────────────────────────

// Agent returns the named agent, or nil when no such agent is configured.
func (a *App) Agent(name string) *agent.Agent {
	e, ok := a.agents[name]
	if !ok {
		return nil
	}
	return e.agent
}

// AgentNames returns the configured agent names in config order.
func (a *App) AgentNames() []string {
	names := make([]string, 0, len(a.cfg.Agents))
	for _, ac := range a.cfg.Agents {
		if _, ok := a.agents[ac.Name]; ok {
			names = append(names, ac.Name)
		}
	}
	return names
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
