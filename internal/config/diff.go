package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	AgentsChanged   bool        // true if any agent persona, sampling, or tool grant changed
	AgentChanges    []AgentDiff // per-agent diffs
	LogLevelChanged bool
	NewLogLevel     LogLevel
}

// AgentDiff describes what changed for a single agent between two configs.
type AgentDiff struct {
	Name            string
	PersonaChanged  bool
	SamplingChanged bool // temperature, max_tokens, default_complexity
	ToolsChanged    bool
	Added           bool
	Removed         bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Build agent lookup maps keyed by name.
	oldAgents := make(map[string]*AgentConfig, len(old.Agents))
	for i := range old.Agents {
		oldAgents[old.Agents[i].Name] = &old.Agents[i]
	}
	newAgents := make(map[string]*AgentConfig, len(new.Agents))
	for i := range new.Agents {
		newAgents[new.Agents[i].Name] = &new.Agents[i]
	}

	for name, oldAg := range oldAgents {
		newAg, ok := newAgents[name]
		if !ok {
			d.AgentChanges = append(d.AgentChanges, AgentDiff{Name: name, Removed: true})
			continue
		}
		ad := AgentDiff{Name: name}
		if oldAg.Persona != newAg.Persona {
			ad.PersonaChanged = true
		}
		if oldAg.Temperature != newAg.Temperature ||
			oldAg.MaxTokens != newAg.MaxTokens ||
			oldAg.DefaultComplexity != newAg.DefaultComplexity {
			ad.SamplingChanged = true
		}
		if !slices.Equal(oldAg.Tools, newAg.Tools) {
			ad.ToolsChanged = true
		}
		if ad.PersonaChanged || ad.SamplingChanged || ad.ToolsChanged {
			d.AgentChanges = append(d.AgentChanges, ad)
		}
	}

	for name := range newAgents {
		if _, ok := oldAgents[name]; !ok {
			d.AgentChanges = append(d.AgentChanges, AgentDiff{Name: name, Added: true})
		}
	}

	d.AgentsChanged = len(d.AgentChanges) > 0
	return d
}
