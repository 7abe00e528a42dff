package config

import (
	"fmt"
	"sort"
)

// AgentConfig declares one domain agent available to the router.
type AgentConfig struct {
	// Domain is the primary domain tag the agent serves (matches the
	// analyser's detected domains for routing proximity).
	Domain string `yaml:"domain"`

	// Capabilities the agent provides; matched against a step's
	// agent_capability_req set.
	Capabilities []string `yaml:"capabilities"`

	// Clearance is the highest plan security level the agent may serve.
	// Defaults to "internal".
	Clearance string `yaml:"clearance,omitempty"`

	// Disabled excludes the agent from routing without removing its config.
	Disabled bool `yaml:"disabled,omitempty"`

	// MaxOutputTokens caps the budget hint passed to the agent. Zero means
	// no agent-specific cap.
	MaxOutputTokens int `yaml:"max_output_tokens,omitempty"`
}

// AgentConfigRegistry holds the configured agents keyed by name.
type AgentConfigRegistry struct {
	agents map[string]AgentConfig
}

// NewAgentConfigRegistry builds a registry from a name→config map.
func NewAgentConfigRegistry(agents map[string]AgentConfig) *AgentConfigRegistry {
	if agents == nil {
		agents = make(map[string]AgentConfig)
	}
	return &AgentConfigRegistry{agents: agents}
}

// Get retrieves an agent configuration by name.
func (r *AgentConfigRegistry) Get(name string) (AgentConfig, error) {
	cfg, ok := r.agents[name]
	if !ok {
		return AgentConfig{}, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	return cfg, nil
}

// Names returns all configured agent names, sorted for deterministic iteration.
func (r *AgentConfigRegistry) Names() []string {
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of configured agents.
func (r *AgentConfigRegistry) Len() int {
	return len(r.agents)
}

// DefaultAgents returns the built-in agent set used when veritas.yaml does
// not declare any. One agent per core domain plus a generic analysis agent.
func DefaultAgents() map[string]AgentConfig {
	return map[string]AgentConfig{
		"verwaltungsrecht-agent": {
			Domain:       "verwaltungsrecht",
			Capabilities: []string{"retrieval", "analysis", "legal_reasoning"},
			Clearance:    string(defaultClearance),
		},
		"baurecht-agent": {
			Domain:       "baurecht",
			Capabilities: []string{"retrieval", "analysis", "legal_reasoning"},
			Clearance:    string(defaultClearance),
		},
		"umweltrecht-agent": {
			Domain:       "umweltrecht",
			Capabilities: []string{"retrieval", "analysis"},
			Clearance:    string(defaultClearance),
		},
		"document-agent": {
			Domain:       "allgemein",
			Capabilities: []string{"retrieval", "search", "aggregation"},
			Clearance:    string(defaultClearance),
		},
		"analysis-agent": {
			Domain:       "allgemein",
			Capabilities: []string{"analysis", "comparison", "calculation", "validation"},
			Clearance:    string(defaultClearance),
		},
	}
}

const defaultClearance = "internal"
